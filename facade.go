package integrations

import (
	"context"
	"fmt"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-command/runner"
	"github.com/goliatone/go-integrations/adapters/gocommand"
	"github.com/goliatone/go-integrations/adapters/gojob"
	"github.com/goliatone/go-integrations/adapters/gologger"
	integrationscommand "github.com/goliatone/go-integrations/command"
	"github.com/goliatone/go-integrations/core"
	integrationsquery "github.com/goliatone/go-integrations/query"
	"github.com/goliatone/go-job/queue"
)

type CommandQueryService interface {
	integrationscommand.MutatingService
	integrationscommand.RefreshEnqueuingService
	integrationsquery.InstallationReader
	integrationsquery.AuthReader
	integrationsquery.RefreshScanner
}

type Commands struct {
	InvokeOperation   *integrationscommand.InvokeOperationCommand
	ExecuteRefresh    *integrationscommand.ExecuteRefreshCommand
	RunRefresh        *integrationscommand.RunRefreshCommand
	EnqueueRefresh    *integrationscommand.EnqueueRefreshCommand
	UpdateAuthForm    *integrationscommand.UpdateAuthFormCommand
	UpdateCachedToken *integrationscommand.UpdateCachedTokenCommand
}

type Queries struct {
	GetInstallation   *integrationsquery.GetInstallationQuery
	ResolveAuthHeader *integrationsquery.ResolveAuthHeaderQuery
	IsAuthorized      *integrationsquery.IsAuthorizedQuery
	TokenState        *integrationsquery.TokenStateQuery
	ScanRefresh       *integrationsquery.ScanRefreshQuery
}

type Facade struct {
	service  CommandQueryService
	loggers  gologger.WorkerLoggers
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	enqueuer       core.JobEnqueuer
	loggerProvider core.LoggerProvider
	logger         core.Logger
}

// WithJobEnqueuer sets the queue the EnqueueRefresh command publishes to.
func WithJobEnqueuer(enqueuer core.JobEnqueuer) FacadeOption {
	return func(options *facadeOptions) {
		options.enqueuer = enqueuer
	}
}

func WithFacadeLogger(provider core.LoggerProvider, logger core.Logger) FacadeOption {
	return func(options *facadeOptions) {
		options.loggerProvider = provider
		options.logger = logger
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("integrations: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	if cfg.loggerProvider == nil && cfg.logger == nil {
		cfg.loggerProvider = resolveLoggerProvider(service)
	}

	facade := &Facade{
		service: service,
		loggers: gologger.ResolveWorkerLoggers(gologger.RefreshLoggerName, cfg.loggerProvider, cfg.logger),
	}
	facade.commands = Commands{
		InvokeOperation:   integrationscommand.NewInvokeOperationCommand(service),
		ExecuteRefresh:    integrationscommand.NewExecuteRefreshCommand(service),
		RunRefresh:        integrationscommand.NewRunRefreshCommand(service),
		EnqueueRefresh:    integrationscommand.NewEnqueueRefreshCommand(service, cfg.enqueuer),
		UpdateAuthForm:    integrationscommand.NewUpdateAuthFormCommand(service),
		UpdateCachedToken: integrationscommand.NewUpdateCachedTokenCommand(service),
	}
	facade.queries = Queries{
		GetInstallation:   integrationsquery.NewGetInstallationQuery(service),
		ResolveAuthHeader: integrationsquery.NewResolveAuthHeaderQuery(service),
		IsAuthorized:      integrationsquery.NewIsAuthorizedQuery(service),
		TokenState:        integrationsquery.NewTokenStateQuery(service),
		ScanRefresh:       integrationsquery.NewScanRefreshQuery(service),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// Bind registers every command and query on the adapter's registry and
// subscribes them on the go-command dispatcher. Call adapter.Close to
// unsubscribe.
func (f *Facade) Bind(adapter *gocommand.RegistryAdapter, runnerOpts ...runner.Option) error {
	if f == nil {
		return fmt.Errorf("integrations: facade is nil")
	}
	binders := []func() error{
		func() error { return gocommand.BindCommand(adapter, f.commands.InvokeOperation, runnerOpts...) },
		func() error { return gocommand.BindCommand(adapter, f.commands.ExecuteRefresh, runnerOpts...) },
		func() error { return gocommand.BindCommand(adapter, f.commands.RunRefresh, runnerOpts...) },
		func() error { return gocommand.BindCommand(adapter, f.commands.EnqueueRefresh, runnerOpts...) },
		func() error { return gocommand.BindCommand(adapter, f.commands.UpdateAuthForm, runnerOpts...) },
		func() error { return gocommand.BindCommand(adapter, f.commands.UpdateCachedToken, runnerOpts...) },
		func() error { return gocommand.BindQuery(adapter, f.queries.GetInstallation, runnerOpts...) },
		func() error { return gocommand.BindQuery(adapter, f.queries.ResolveAuthHeader, runnerOpts...) },
		func() error { return gocommand.BindQuery(adapter, f.queries.IsAuthorized, runnerOpts...) },
		func() error { return gocommand.BindQuery(adapter, f.queries.TokenState, runnerOpts...) },
		func() error { return gocommand.BindQuery(adapter, f.queries.ScanRefresh, runnerOpts...) },
	}
	for _, bind := range binders {
		if err := bind(); err != nil {
			adapter.Close()
			return err
		}
	}
	return adapter.Initialize()
}

// NewRefreshJobHandler builds the go-job consumer for refresh jobs, logging
// through the facade's refresh logger unless an option overrides it.
func (f *Facade) NewRefreshJobHandler(opts ...gojob.HandlerOption) (*gojob.RefreshJobHandler, error) {
	if f == nil || f.service == nil {
		return nil, fmt.Errorf("integrations: facade is nil")
	}
	handlerOpts := append([]gojob.HandlerOption{gojob.WithLogger(f.loggers.Logger)}, opts...)
	return gojob.NewRefreshJobHandler(f.service, handlerOpts...)
}

// RunRefreshWorker consumes refresh jobs from a go-job queue until ctx is
// cancelled or the dequeuer fails.
func (f *Facade) RunRefreshWorker(ctx context.Context, dequeuer queue.Dequeuer, opts ...gojob.HandlerOption) error {
	handler, err := f.NewRefreshJobHandler(opts...)
	if err != nil {
		return err
	}
	return handler.RunQueue(ctx, dequeuer)
}

// EnqueueRefresh publishes refresh jobs through the configured enqueuer and
// reports how many units were queued.
func (f *Facade) EnqueueRefresh(ctx context.Context, horizon time.Duration) (int, error) {
	if f == nil {
		return 0, fmt.Errorf("integrations: facade is nil")
	}
	if err := (integrationscommand.EnqueueRefreshMessage{Horizon: horizon}).Validate(); err != nil {
		return 0, err
	}
	value, _, err := runCommand[integrationscommand.EnqueueRefreshMessage, int](
		ctx,
		f.commands.EnqueueRefresh,
		integrationscommand.EnqueueRefreshMessage{Horizon: horizon},
	)
	return value, err
}

func (f *Facade) Loggers() gologger.WorkerLoggers {
	if f == nil {
		return gologger.WorkerLoggers{}
	}
	return f.loggers
}

func runCommand[T any, R any](ctx context.Context, cmd gocmd.Commander[T], msg T) (R, bool, error) {
	var zero R
	collector := gocmd.NewResult[R]()
	if err := cmd.Execute(gocmd.ContextWithResult(ctx, collector), msg); err != nil {
		return zero, false, err
	}
	value, ok := collector.Load()
	return value, ok, nil
}

func resolveLoggerProvider(service CommandQueryService) core.LoggerProvider {
	provider, ok := service.(interface {
		Dependencies() core.ServiceDependencies
	})
	if !ok {
		return nil
	}
	return provider.Dependencies().LoggerProvider
}
