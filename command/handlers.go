package command

import (
	"context"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-integrations/core"
)

type MutatingService interface {
	Invoke(ctx context.Context, req core.InvokeRequest) (core.RetryDecision, error)
	ExecuteRefresh(ctx context.Context, unit core.RefreshUnit) error
	RunRefresh(ctx context.Context) (core.RefreshRunResult, error)
	UpdateAuthForm(ctx context.Context, id string, settings map[string]string) (core.Installation, error)
	UpdateCachedToken(ctx context.Context, id string, grant core.TokenGrant) (core.Installation, error)
}

type RefreshEnqueuingService interface {
	EnqueueRefresh(ctx context.Context, horizon time.Duration, enqueuer core.JobEnqueuer) (int, error)
}

// InvokeOperationCommand dispatches one connector operation and stores the
// resulting decision. Non-success decisions are results, not errors; callers
// inspect the decision kind to schedule retries.
type InvokeOperationCommand struct {
	service MutatingService
}

func NewInvokeOperationCommand(service MutatingService) *InvokeOperationCommand {
	return &InvokeOperationCommand{service: service}
}

func (c *InvokeOperationCommand) Execute(ctx context.Context, msg InvokeOperationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: integration service is required")
	}
	decision, err := c.service.Invoke(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, decision)
	return nil
}

type ExecuteRefreshCommand struct {
	service MutatingService
}

func NewExecuteRefreshCommand(service MutatingService) *ExecuteRefreshCommand {
	return &ExecuteRefreshCommand{service: service}
}

func (c *ExecuteRefreshCommand) Execute(ctx context.Context, msg ExecuteRefreshMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: integration service is required")
	}
	return c.service.ExecuteRefresh(ctx, core.RefreshUnit{InstallationID: msg.InstallationID})
}

type RunRefreshCommand struct {
	service MutatingService
}

func NewRunRefreshCommand(service MutatingService) *RunRefreshCommand {
	return &RunRefreshCommand{service: service}
}

func (c *RunRefreshCommand) Execute(ctx context.Context, _ RunRefreshMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: integration service is required")
	}
	result, err := c.service.RunRefresh(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, result)
	return nil
}

// EnqueueRefreshCommand scans for expiring installations and emits one job per
// refresh unit. The stored result is the number of jobs enqueued.
type EnqueueRefreshCommand struct {
	service  RefreshEnqueuingService
	enqueuer core.JobEnqueuer
}

func NewEnqueueRefreshCommand(service RefreshEnqueuingService, enqueuer core.JobEnqueuer) *EnqueueRefreshCommand {
	return &EnqueueRefreshCommand{service: service, enqueuer: enqueuer}
}

func (c *EnqueueRefreshCommand) Execute(ctx context.Context, msg EnqueueRefreshMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: integration service is required")
	}
	if c.enqueuer == nil {
		return commandDependencyError("command: job enqueuer is required")
	}
	count, err := c.service.EnqueueRefresh(ctx, msg.Horizon, c.enqueuer)
	if err != nil {
		return err
	}
	storeResult(ctx, count)
	return nil
}

type UpdateAuthFormCommand struct {
	service MutatingService
}

func NewUpdateAuthFormCommand(service MutatingService) *UpdateAuthFormCommand {
	return &UpdateAuthFormCommand{service: service}
}

func (c *UpdateAuthFormCommand) Execute(ctx context.Context, msg UpdateAuthFormMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: integration service is required")
	}
	out, err := c.service.UpdateAuthForm(ctx, msg.InstallationID, msg.Settings)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UpdateCachedTokenCommand struct {
	service MutatingService
}

func NewUpdateCachedTokenCommand(service MutatingService) *UpdateCachedTokenCommand {
	return &UpdateCachedTokenCommand{service: service}
}

func (c *UpdateCachedTokenCommand) Execute(ctx context.Context, msg UpdateCachedTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: integration service is required")
	}
	out, err := c.service.UpdateCachedToken(ctx, msg.InstallationID, msg.Grant)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
