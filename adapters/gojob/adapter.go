package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

// RetryPolicy bounds refresh job retries. A refresh that keeps failing is
// dead-lettered once MaxAttempts is reached.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		BaseDelay:       core.DefaultRetryLaterDelay,
		MaxDelay:        5 * time.Minute,
		DeadLetterOnMax: true,
	}
}

// Backoff returns BaseDelay doubled per prior attempt, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	if delay <= 0 {
		delay = core.DefaultRetryLaterDelay
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// NormalizeAttempt clamps the delay and turns the final attempt into a dead
// letter. Options that neither requeue nor dead-letter are requeued.
func (p RetryPolicy) NormalizeAttempt(opts core.JobNackOptions, attempt int) core.JobNackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// ToExecutionMessage maps a refresh job message onto go-job.
func ToExecutionMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     copyAnyMap(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy(strings.TrimSpace(msg.DedupPolicy)),
	}
}

func FromExecutionMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     copyAnyMap(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
	}
}

// ToNackOptions picks the go-job disposition. Only retries carry a delay.
func ToNackOptions(opts core.JobNackOptions) queue.NackOptions {
	switch {
	case opts.DeadLetter:
		return queue.NackOptions{Disposition: queue.NackDispositionDeadLetter, Reason: opts.Reason}
	case opts.Requeue:
		return queue.NackOptions{Disposition: queue.NackDispositionRetry, Delay: opts.Delay, Reason: opts.Reason}
	default:
		return queue.NackOptions{Disposition: queue.NackDispositionFailed, Reason: opts.Reason}
	}
}

// EnqueuerAdapter publishes refresh jobs to a go-job queue.
type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	_, err := a.enqueuer.Enqueue(ctx, ToExecutionMessage(msg))
	return err
}

// DeliveryAdapter settles a go-job delivery through the retry policy.
type DeliveryAdapter struct {
	delivery queue.Delivery
	policy   RetryPolicy
}

func NewDeliveryAdapter(delivery queue.Delivery, policy RetryPolicy) *DeliveryAdapter {
	return &DeliveryAdapter{delivery: delivery, policy: policy}
}

func (d *DeliveryAdapter) Message() *core.JobExecutionMessage {
	if d == nil || d.delivery == nil {
		return nil
	}
	return FromExecutionMessage(d.delivery.Message())
}

// Attempts reports the queue's delivery count, or zero when the backend does
// not track one.
func (d *DeliveryAdapter) Attempts() int {
	if d == nil || d.delivery == nil {
		return 0
	}
	if reader, ok := d.delivery.(DeliveryAttempts); ok {
		return reader.Attempts()
	}
	return 0
}

func (d *DeliveryAdapter) Ack(ctx context.Context) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	return d.delivery.Ack(ctx)
}

func (d *DeliveryAdapter) Nack(ctx context.Context, opts core.JobNackOptions) error {
	return d.NackForAttempt(ctx, opts, d.Attempts())
}

func (d *DeliveryAdapter) NackForAttempt(ctx context.Context, opts core.JobNackOptions, attempt int) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	normalized := d.policy.NormalizeAttempt(opts, attempt)
	return d.delivery.Nack(ctx, ToNackOptions(normalized))
}

// DequeuerAdapter feeds go-job deliveries to RefreshJobHandler.Run.
type DequeuerAdapter struct {
	dequeuer queue.Dequeuer
	policy   RetryPolicy
}

func NewDequeuerAdapter(dequeuer queue.Dequeuer, policy RetryPolicy) *DequeuerAdapter {
	return &DequeuerAdapter{dequeuer: dequeuer, policy: policy}
}

func (a *DequeuerAdapter) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if a == nil || a.dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := a.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	if delivery == nil {
		return nil, nil
	}
	return NewDeliveryAdapter(delivery, a.policy), nil
}

// WorkerHookAdapter forwards refresh handler lifecycle events to go-job
// worker hooks, so queue level observers see refresh jobs too.
type WorkerHookAdapter struct {
	hooks []worker.Hook
}

func NewWorkerHookAdapter(hooks ...worker.Hook) *WorkerHookAdapter {
	adapter := &WorkerHookAdapter{}
	for _, hook := range hooks {
		if hook != nil {
			adapter.hooks = append(adapter.hooks, hook)
		}
	}
	return adapter
}

func (a *WorkerHookAdapter) OnStart(ctx context.Context, event core.JobWorkerEvent) {
	a.each(func(hook worker.Hook) { hook.OnStart(ctx, toWorkerEvent(event)) })
}

func (a *WorkerHookAdapter) OnSuccess(ctx context.Context, event core.JobWorkerEvent) {
	a.each(func(hook worker.Hook) { hook.OnSuccess(ctx, toWorkerEvent(event)) })
}

func (a *WorkerHookAdapter) OnFailure(ctx context.Context, event core.JobWorkerEvent) {
	a.each(func(hook worker.Hook) { hook.OnFailure(ctx, toWorkerEvent(event)) })
}

func (a *WorkerHookAdapter) OnRetry(ctx context.Context, event core.JobWorkerEvent) {
	a.each(func(hook worker.Hook) { hook.OnRetry(ctx, toWorkerEvent(event)) })
}

func (a *WorkerHookAdapter) each(fn func(worker.Hook)) {
	if a == nil {
		return
	}
	for _, hook := range a.hooks {
		fn(hook)
	}
}

func toWorkerEvent(event core.JobWorkerEvent) worker.Event {
	return worker.Event{
		Message:   ToExecutionMessage(event.Message),
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var (
	_ core.JobEnqueuer   = (*EnqueuerAdapter)(nil)
	_ core.JobDelivery   = (*DeliveryAdapter)(nil)
	_ DeliveryAttempts   = (*DeliveryAdapter)(nil)
	_ core.JobDequeuer   = (*DequeuerAdapter)(nil)
	_ core.JobWorkerHook = (*WorkerHookAdapter)(nil)
)
