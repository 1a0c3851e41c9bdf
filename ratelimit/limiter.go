package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/time/rate"

	"github.com/goliatone/go-integrations/core"
)

type Config struct {
	RatePerSecond float64
	Burst         int
	// MaxWait caps how long Wait sleeps through a server-imposed throttle
	// window; longer windows fail fast with a ThrottledError.
	MaxWait          time.Duration
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	DefaultRetryHint time.Duration
}

func DefaultConfig() Config {
	return Config{
		RatePerSecond:    5,
		Burst:            5,
		MaxWait:          30 * time.Second,
		InitialBackoff:   time.Second,
		MaxBackoff:       time.Minute,
		DefaultRetryHint: 5 * time.Second,
	}
}

type ThrottledError struct {
	Key        string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: key %q throttled for %s", strings.TrimSpace(e.Key), e.RetryAfter)
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{"key": strings.TrimSpace(e.Key)}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ErrorRateLimited).
		WithMetadata(metadata)
}

type bucket struct {
	limiter  *rate.Limiter
	retryAt  time.Time
	attempts int
}

// Limiter paces calls per key with a token bucket and honors server-hinted
// throttle windows recorded through RecordRateLimitError or Observe.
type Limiter struct {
	mu      sync.Mutex
	config  Config
	clock   core.Clock
	buckets map[string]*bucket
}

func NewLimiter(cfg Config, clock core.Clock) *Limiter {
	defaults := DefaultConfig()
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = defaults.RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaults.Burst
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaults.MaxWait
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaults.MaxBackoff
	}
	if cfg.DefaultRetryHint <= 0 {
		cfg.DefaultRetryHint = defaults.DefaultRetryHint
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Limiter{config: cfg, clock: clock, buckets: map[string]*bucket{}}
}

// FromRefreshConfig builds the limiter used to pace proactive refreshes.
func FromRefreshConfig(cfg core.RefreshConfig, clock core.Clock) *Limiter {
	limits := DefaultConfig()
	limits.RatePerSecond = cfg.RatePerSecond
	limits.Burst = cfg.Burst
	return NewLimiter(limits, clock)
}

// Wait blocks until key may proceed. It first sleeps through any recorded
// throttle window, then waits on the token bucket.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	b := l.bucketFor(key)
	l.mu.Lock()
	remaining := b.retryAt.Sub(l.clock.Now())
	l.mu.Unlock()

	if remaining > 0 {
		if remaining > l.config.MaxWait {
			return ThrottledError{Key: normalizeKey(key), RetryAfter: remaining}
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return b.limiter.Wait(ctx)
}

// Allow reports whether key may proceed now without blocking.
func (l *Limiter) Allow(key string) bool {
	b := l.bucketFor(key)
	l.mu.Lock()
	throttled := l.clock.Now().Before(b.retryAt)
	l.mu.Unlock()
	if throttled {
		return false
	}
	return b.limiter.Allow()
}

// RecordRateLimitError opens a throttle window for key. A non-positive
// retryAfter falls back to exponential backoff over consecutive throttles.
func (l *Limiter) RecordRateLimitError(key string, retryAfter time.Duration) time.Duration {
	b := l.bucketFor(key)
	l.mu.Lock()
	defer l.mu.Unlock()
	b.attempts++
	delay := retryAfter
	if delay <= 0 {
		delay = l.nextBackoff(b.attempts)
	}
	b.retryAt = l.clock.Now().Add(delay)
	return delay
}

// Observe inspects a vendor response for throttling signals (429, Retry-After,
// exhausted X-RateLimit-Remaining) and records them for key.
func (l *Limiter) Observe(key string, statusCode int, headers map[string]string) (time.Duration, bool) {
	now := l.clock.Now()
	retryAfter, hasRetryAfter := parseRetryAfter(headers, now)
	remaining, hasRemaining := parseHeaderInt(headers, "x-ratelimit-remaining")
	resetAt, hasResetAt := parseHeaderResetAt(headers)

	throttled := statusCode == http.StatusTooManyRequests ||
		(statusCode < http.StatusInternalServerError && hasRemaining && remaining == 0)
	if !throttled {
		l.reset(key)
		return 0, false
	}
	if !hasRetryAfter && hasResetAt && resetAt.After(now) {
		retryAfter = resetAt.Sub(now)
	}
	return l.RecordRateLimitError(key, retryAfter), true
}

func (l *Limiter) reset(key string) {
	b := l.bucketFor(key)
	l.mu.Lock()
	b.attempts = 0
	l.mu.Unlock()
}

func (l *Limiter) bucketFor(key string) *bucket {
	key = normalizeKey(key)
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.config.RatePerSecond), l.config.Burst)}
		l.buckets[key] = b
	}
	return b
}

func (l *Limiter) nextBackoff(attempt int) time.Duration {
	if attempt <= 1 {
		return l.config.InitialBackoff
	}
	delay := l.config.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= l.config.MaxBackoff {
			return l.config.MaxBackoff
		}
	}
	if delay <= 0 {
		return l.config.DefaultRetryHint
	}
	return delay
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

var _ core.RefreshLimiter = (*Limiter)(nil)
