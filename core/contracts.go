package core

import (
	"context"
	"iter"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Request struct {
	Method    string
	URL       string
	Headers   map[string]string
	Query     map[string]string
	Body      []byte
	Timeout   time.Duration
	Connector string
	Operation string
	VendorKey string
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Sender performs one outbound HTTP exchange. A returned error means the
// exchange failed at the transport level; HTTP error statuses are responses.
type Sender interface {
	Send(ctx context.Context, req Request) (Response, error)
}

type SenderFunc func(ctx context.Context, req Request) (Response, error)

func (f SenderFunc) Send(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

type InstallationRepository interface {
	FindByID(ctx context.Context, id string) (Installation, bool, error)
	Persist(ctx context.Context, installation Installation) error
	// FindExpiringBefore yields installations whose ExpiresAt is at or before cutoff.
	FindExpiringBefore(ctx context.Context, cutoff time.Time) iter.Seq2[Installation, error]
}

type AuthorizeInput struct {
	Installation Installation
	Profile      VendorProfile
	Token        *CachedToken
}

type AcquireInput struct {
	Installation Installation
	Profile      VendorProfile
	Now          time.Time
}

// AuthStrategy turns an installation (and a valid token for cached schemes)
// into request authentication for one scheme.
type AuthStrategy interface {
	Scheme() AuthScheme
	Authorize(ctx context.Context, in AuthorizeInput) (AuthRequest, error)
}

// TokenAcquirer is implemented by strategies whose scheme caches tokens.
type TokenAcquirer interface {
	AuthStrategy
	Acquire(ctx context.Context, in AcquireInput) (TokenGrant, error)
}

// RefreshLocker deduplicates proactive refreshes of one installation.
// TryLock never blocks.
type RefreshLocker interface {
	TryLock(ctx context.Context, installationID string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, installationID string) error
}

// RefreshLimiter paces refresh calls; Wait must honor ctx cancellation.
type RefreshLimiter interface {
	Wait(ctx context.Context, key string) error
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}
