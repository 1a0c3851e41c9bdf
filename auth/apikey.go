package auth

import (
	"context"

	"github.com/goliatone/go-integrations/core"
)

// APIKeyStrategy places a static key from the auth form in a header or query
// parameter. It never acquires tokens.
type APIKeyStrategy struct{}

func NewAPIKeyStrategy() APIKeyStrategy {
	return APIKeyStrategy{}
}

func (APIKeyStrategy) Scheme() core.AuthScheme {
	return core.AuthSchemeAPIKey
}

func (APIKeyStrategy) Authorize(_ context.Context, in core.AuthorizeInput) (core.AuthRequest, error) {
	cfg := profileFor(in.Profile, core.AuthSchemeAPIKey).APIKey
	key, ok := core.AuthField(in.Installation, cfg.Field)
	if !ok {
		return core.AuthRequest{}, core.NewAuthorizationError(in.Installation.ID, core.AuthSchemeAPIKey, "", cfg.Field)
	}
	value := cfg.Prefix + key
	if cfg.Placement == core.APIKeyInQuery {
		return core.AuthRequest{Query: map[string]string{cfg.Name: value}}, nil
	}
	return core.AuthRequest{Headers: map[string]string{cfg.Name: value}}, nil
}
