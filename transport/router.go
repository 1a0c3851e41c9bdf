package transport

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-integrations/core"
)

// Router sends each request through the sender registered for its vendor
// key, or through the fallback sender.
type Router struct {
	mu       sync.RWMutex
	senders  map[string]core.Sender
	fallback core.Sender
}

func NewRouter(fallback core.Sender) *Router {
	return &Router{senders: map[string]core.Sender{}, fallback: fallback}
}

func (r *Router) Register(vendorKey string, sender core.Sender) error {
	if r == nil {
		return fmt.Errorf("transport: router is nil")
	}
	if sender == nil {
		return fmt.Errorf("transport: sender is nil")
	}
	key := normalizeVendor(vendorKey)
	if key == "" {
		return fmt.Errorf("transport: vendor key is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.senders[key]; exists {
		return fmt.Errorf("transport: sender for vendor %q already registered", key)
	}
	r.senders[key] = sender
	return nil
}

func (r *Router) Vendors() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	keys := make([]string, 0, len(r.senders))
	for key := range r.senders {
		keys = append(keys, key)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

func (r *Router) Send(ctx context.Context, req core.Request) (core.Response, error) {
	if r == nil {
		return core.Response{}, transportError("transport: router is nil", goerrors.CategoryInternal, http.StatusInternalServerError, nil)
	}
	r.mu.RLock()
	sender, ok := r.senders[normalizeVendor(req.VendorKey)]
	r.mu.RUnlock()
	if !ok {
		sender = r.fallback
	}
	if sender == nil {
		return core.Response{}, transportError(
			fmt.Sprintf("transport: no sender for vendor %q", req.VendorKey),
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			map[string]any{"vendor_key": req.VendorKey},
		)
	}
	return sender.Send(ctx, req)
}

func normalizeVendor(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
