package transport

import (
	"context"
	"net/url"
	"strings"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/ratelimit"
)

// KeyFunc picks the rate-limit bucket for a request.
type KeyFunc func(req core.Request) string

// VendorKey buckets by vendor, falling back to the request host.
func VendorKey(req core.Request) string {
	if key := strings.TrimSpace(req.VendorKey); key != "" {
		return key
	}
	if parsed, err := url.Parse(req.URL); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return "default"
}

// PacedSender waits on a per-key limiter before each request and feeds
// throttling signals from responses back into it.
type PacedSender struct {
	next    core.Sender
	limiter *ratelimit.Limiter
	key     KeyFunc
}

func NewPacedSender(next core.Sender, limiter *ratelimit.Limiter, key KeyFunc) *PacedSender {
	if key == nil {
		key = VendorKey
	}
	return &PacedSender{next: next, limiter: limiter, key: key}
}

func (s *PacedSender) Send(ctx context.Context, req core.Request) (core.Response, error) {
	key := s.key(req)
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, key); err != nil {
			return core.Response{}, err
		}
	}
	response, err := s.next.Send(ctx, req)
	if err != nil {
		return response, err
	}
	if s.limiter != nil {
		s.limiter.Observe(key, response.StatusCode, response.Headers)
	}
	return response, nil
}
