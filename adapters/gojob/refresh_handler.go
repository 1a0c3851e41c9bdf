package gojob

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	DefaultTrackedAttempts  = 4096
	DefaultAttemptRetention = time.Hour
)

// DeliveryAttempts is implemented by deliveries whose queue counts redeliveries.
// The handler prefers that count over its own bookkeeping.
type DeliveryAttempts interface {
	Attempts() int
}

// RefreshExecutor is satisfied by *core.RefreshScheduler and *core.Service.
type RefreshExecutor interface {
	ExecuteRefresh(ctx context.Context, unit core.RefreshUnit) error
}

type HandlerOption func(*RefreshJobHandler)

func WithRetryPolicy(policy RetryPolicy) HandlerOption {
	return func(h *RefreshJobHandler) {
		h.policy = policy
	}
}

func WithWorkerHook(hook core.JobWorkerHook) HandlerOption {
	return func(h *RefreshJobHandler) {
		if hook != nil {
			h.hooks = append(h.hooks, hook)
		}
	}
}

// WithQueueHooks reports refresh job lifecycle events to go-job worker hooks.
func WithQueueHooks(hooks ...worker.Hook) HandlerOption {
	return func(h *RefreshJobHandler) {
		if adapter := NewWorkerHookAdapter(hooks...); len(adapter.hooks) > 0 {
			h.hooks = append(h.hooks, adapter)
		}
	}
}

// WithAttemptTracking bounds the in-memory attempt counts kept for deliveries
// that do not report their own. Entries idle longer than retention are pruned
// once limit is reached.
func WithAttemptTracking(limit int, retention time.Duration) HandlerOption {
	return func(h *RefreshJobHandler) {
		if limit > 0 {
			h.trackLimit = limit
		}
		if retention > 0 {
			h.retention = retention
		}
	}
}

func WithLogger(logger core.Logger) HandlerOption {
	return func(h *RefreshJobHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithClock(clock core.Clock) HandlerOption {
	return func(h *RefreshJobHandler) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// RefreshJobHandler consumes refresh job deliveries. It acks on success or when
// the installation no longer exists, and nacks with a bounded delay otherwise.
type RefreshJobHandler struct {
	executor RefreshExecutor
	policy   RetryPolicy
	hooks    []core.JobWorkerHook
	logger   core.Logger
	clock    core.Clock

	mu         sync.Mutex
	attempts   map[string]attemptRecord
	trackLimit int
	retention  time.Duration
}

type attemptRecord struct {
	count    int
	lastSeen time.Time
}

func NewRefreshJobHandler(executor RefreshExecutor, opts ...HandlerOption) (*RefreshJobHandler, error) {
	if executor == nil {
		return nil, fmt.Errorf("gojob: refresh executor is required")
	}
	handler := &RefreshJobHandler{
		executor: executor,
		policy:   DefaultRetryPolicy(),
		logger:   glog.Ensure(nil),
		clock:    core.SystemClock{},
		attempts: map[string]attemptRecord{},

		trackLimit: DefaultTrackedAttempts,
		retention:  DefaultAttemptRetention,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(handler)
	}
	return handler, nil
}

// Handle processes one delivery and settles it with exactly one Ack or Nack.
func (h *RefreshJobHandler) Handle(ctx context.Context, delivery core.JobDelivery) error {
	if h == nil || h.executor == nil {
		return fmt.Errorf("gojob: refresh handler is not configured")
	}
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	message := delivery.Message()
	unit, err := core.RefreshUnitFromJob(message)
	if err != nil {
		h.logger.Warn("dropping malformed refresh job", "error", err)
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: err.Error()})
	}

	key := attemptKey(message, unit)
	attempt := h.nextAttempt(key, delivery)
	event := core.JobWorkerEvent{Message: message, Attempt: attempt, StartedAt: h.clock.Now()}
	h.emit(ctx, "start", event)

	execErr := h.executor.ExecuteRefresh(ctx, unit)
	event.Duration = h.clock.Now().Sub(event.StartedAt)
	if execErr == nil {
		h.forget(key)
		h.emit(ctx, "success", event)
		return delivery.Ack(ctx)
	}

	opts := h.policy.NormalizeAttempt(NackOptionsForError(execErr, h.policy, attempt), attempt)
	event.Err = execErr
	event.Delay = opts.Delay
	if opts.DeadLetter || !opts.Requeue {
		h.forget(key)
		h.emit(ctx, "failure", event)
	} else {
		h.emit(ctx, "retry", event)
	}
	h.logger.Warn("refresh job failed",
		"installation_id", unit.InstallationID,
		"attempt", attempt,
		"delay_ms", opts.Delay.Milliseconds(),
		"dead_letter", opts.DeadLetter,
		"error", execErr,
	)
	return delivery.Nack(ctx, opts)
}

// Run dequeues and handles deliveries until ctx is cancelled or the dequeuer fails.
func (h *RefreshJobHandler) Run(ctx context.Context, dequeuer core.JobDequeuer) error {
	if dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is required")
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		delivery, err := dequeuer.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if delivery == nil {
			continue
		}
		if err := h.Handle(ctx, delivery); err != nil {
			h.logger.Error("settle refresh job", "error", err)
		}
	}
}

// RunQueue consumes refresh jobs straight from a go-job dequeuer.
func (h *RefreshJobHandler) RunQueue(ctx context.Context, dequeuer queue.Dequeuer) error {
	if h == nil {
		return fmt.Errorf("gojob: refresh handler is not configured")
	}
	if dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is required")
	}
	return h.Run(ctx, NewDequeuerAdapter(dequeuer, h.policy))
}

// NackOptionsForDecision maps a dispatch decision to queue nack options.
func NackOptionsForDecision(decision core.RetryDecision, policy RetryPolicy, attempt int) core.JobNackOptions {
	reason := string(decision.Kind)
	if decision.Err != nil {
		reason = decision.Err.Error()
	}
	switch decision.Kind {
	case core.DecisionRetryNow:
		return core.JobNackOptions{Requeue: true, Reason: reason}
	case core.DecisionRetryLater:
		delay := decision.MaxDelay
		if delay <= 0 {
			delay = policy.Backoff(attempt)
		}
		return core.JobNackOptions{Delay: delay, Requeue: true, Reason: reason}
	default:
		return core.JobNackOptions{DeadLetter: true, Reason: reason}
	}
}

// NackOptionsForError classifies a refresh failure. Problems that only an edit
// of the installation can fix are dead-lettered; everything else is retried.
func NackOptionsForError(err error, policy RetryPolicy, attempt int) core.JobNackOptions {
	if err == nil {
		return core.JobNackOptions{}
	}
	if _, maxDelay, ok := core.RetryLaterBounds(err); ok {
		return NackOptionsForDecision(core.RetryLater(err, maxDelay, maxDelay), policy, attempt)
	}
	if core.IsAuthorizationError(err) || core.IsFatal(err) {
		return NackOptionsForDecision(core.Fatal(err), policy, attempt)
	}
	if kind, ok := core.TokenAcquisitionKindOf(err); ok && kind == core.TokenAcquisitionUnsuccessfulLogin {
		return NackOptionsForDecision(core.Fatal(err), policy, attempt)
	}
	return NackOptionsForDecision(core.RetryLater(err, 0, 0), policy, attempt)
}

func (h *RefreshJobHandler) nextAttempt(key string, delivery core.JobDelivery) int {
	if reader, ok := delivery.(DeliveryAttempts); ok {
		if attempts := reader.Attempts(); attempts > 0 {
			return attempts
		}
	}
	now := h.clock.Now()
	h.mu.Lock()
	defer h.mu.Unlock()
	record, tracked := h.attempts[key]
	if !tracked && len(h.attempts) >= h.trackLimit {
		h.pruneLocked(now)
	}
	record.count++
	record.lastSeen = now
	h.attempts[key] = record
	return record.count
}

// pruneLocked drops idle entries, then arbitrary ones if the map is still full.
func (h *RefreshJobHandler) pruneLocked(now time.Time) {
	for key, record := range h.attempts {
		if now.Sub(record.lastSeen) >= h.retention {
			delete(h.attempts, key)
		}
	}
	for key := range h.attempts {
		if len(h.attempts) < h.trackLimit {
			return
		}
		delete(h.attempts, key)
	}
}

func (h *RefreshJobHandler) trackedAttempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.attempts)
}

func (h *RefreshJobHandler) forget(key string) {
	h.mu.Lock()
	delete(h.attempts, key)
	h.mu.Unlock()
}

func (h *RefreshJobHandler) emit(ctx context.Context, stage string, event core.JobWorkerEvent) {
	for _, hook := range h.hooks {
		switch stage {
		case "start":
			hook.OnStart(ctx, event)
		case "success":
			hook.OnSuccess(ctx, event)
		case "failure":
			hook.OnFailure(ctx, event)
		case "retry":
			hook.OnRetry(ctx, event)
		}
	}
}

func attemptKey(message *core.JobExecutionMessage, unit core.RefreshUnit) string {
	if message != nil && message.IdempotencyKey != "" {
		return message.IdempotencyKey
	}
	return unit.InstallationID
}
