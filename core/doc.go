// Package core owns the credential lifecycle and resilient dispatch for vendor
// integrations: installations and cached tokens, per-scheme token acquisition,
// proactive refresh scheduling, and classification of vendor responses.
// Adapters depend on this package; core never imports transport or storage
// implementations.
package core
