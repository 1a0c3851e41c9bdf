package core

import (
	"context"
	"errors"
	"net/http"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Service struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	clock           Clock
	repository      InstallationRepository
	vendors         *VendorRegistry
	strategies      *StrategyRegistry
	credentials     *CredentialStore
	tokens          *TokenProvider
	dispatcher      *Dispatcher
	scheduler       *RefreshScheduler
}

type ServiceDependencies struct {
	Logger          Logger
	LoggerProvider  LoggerProvider
	MetricsRecorder MetricsRecorder
	ErrorMapper     ErrorMapper
	ConfigProvider  ConfigProvider
	OptionsResolver OptionsResolver
	Clock           Clock
	Repository      InstallationRepository
	Vendors         *VendorRegistry
	Strategies      *StrategyRegistry
	Credentials     *CredentialStore
	Tokens          *TokenProvider
	Dispatcher      *Dispatcher
	Scheduler       *RefreshScheduler
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("integrations", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("integrations"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	builder.clock = resolveClock(builder.clock)

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	vendors := builder.vendors
	if vendors == nil {
		vendors, err = NewVendorRegistryFromConfig(finalConfig.Vendors)
		if err != nil {
			return nil, mapBuildError(builder.errorMapper, err)
		}
	}
	strategies, err := NewStrategyRegistry(builder.strategies...)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	credentials := NewCredentialStore(builder.repository, vendors, builder.clock)
	tokens := NewTokenProvider(credentials, strategies)
	dispatcher := NewDispatcher(
		builder.sender,
		NewClassifier(finalConfig.Dispatch.TransientMarkers, finalConfig.Dispatch.RetryLaterDelay),
		finalConfig.Dispatch,
	)
	scheduler := NewRefreshScheduler(
		credentials,
		tokens,
		builder.refreshLocker,
		builder.refreshLimiter,
		finalConfig.Refresh,
		logger,
	)

	return &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorMapper:     builder.errorMapper,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		clock:           builder.clock,
		repository:      builder.repository,
		vendors:         vendors,
		strategies:      strategies,
		credentials:     credentials,
		tokens:          tokens,
		dispatcher:      dispatcher,
		scheduler:       scheduler,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:          s.logger,
		LoggerProvider:  s.loggerProvider,
		MetricsRecorder: s.metricsRecorder,
		ErrorMapper:     s.errorMapper,
		ConfigProvider:  s.configProvider,
		OptionsResolver: s.optionsResolver,
		Clock:           s.clock,
		Repository:      s.repository,
		Vendors:         s.vendors,
		Strategies:      s.strategies,
		Credentials:     s.credentials,
		Tokens:          s.tokens,
		Dispatcher:      s.dispatcher,
		Scheduler:       s.scheduler,
	}
}

// InvokeRequest describes one connector operation against an installation.
type InvokeRequest struct {
	InstallationID string
	Connector      string
	Operation      string
	Method         string
	URL            string
	Headers        map[string]string
	Query          map[string]string
	Body           []byte
}

func (s *Service) GetInstallation(ctx context.Context, id string) (installation Installation, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"installation_id": id}
	defer func() {
		s.observeOperation(ctx, startedAt, "get_installation", err, fields)
	}()

	installation, err = s.credentials.Get(ctx, id)
	if err != nil {
		err = s.mapError(err)
		return Installation{}, err
	}
	fields["vendor_key"] = installation.VendorKey
	fields["auth_scheme"] = string(installation.AuthScheme)
	return installation, nil
}

func (s *Service) ResolveAuthHeader(ctx context.Context, id string) (auth AuthRequest, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"installation_id": id}
	defer func() {
		s.observeOperation(ctx, startedAt, "resolve_auth_header", err, fields)
	}()

	installation, err := s.credentials.Get(ctx, id)
	if err != nil {
		err = s.mapError(err)
		return AuthRequest{}, err
	}
	fields["vendor_key"] = installation.VendorKey
	fields["auth_scheme"] = string(installation.AuthScheme)

	auth, err = s.tokens.ResolveAuthHeader(ctx, installation)
	if err != nil {
		err = s.mapError(err)
		return AuthRequest{}, err
	}
	return auth, nil
}

func (s *Service) IsAuthorized(ctx context.Context, id string) (bool, error) {
	installation, err := s.credentials.Get(ctx, id)
	if err != nil {
		return false, s.mapError(err)
	}
	return s.credentials.IsAuthorized(installation), nil
}

func (s *Service) TokenState(ctx context.Context, id string) (TokenState, error) {
	installation, err := s.credentials.Get(ctx, id)
	if err != nil {
		return "", s.mapError(err)
	}
	state, err := s.tokens.TokenState(installation)
	if err != nil {
		return "", s.mapError(err)
	}
	return state, nil
}

func (s *Service) UpdateCachedToken(ctx context.Context, id string, grant TokenGrant) (installation Installation, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"installation_id": id}
	defer func() {
		s.observeOperation(ctx, startedAt, "update_cached_token", err, fields)
	}()

	current, err := s.credentials.Get(ctx, id)
	if err != nil {
		err = s.mapError(err)
		return Installation{}, err
	}
	fields["vendor_key"] = current.VendorKey
	installation, err = s.credentials.UpdateCachedToken(ctx, current, grant)
	if err != nil {
		err = s.mapError(err)
		return Installation{}, err
	}
	return installation, nil
}

func (s *Service) UpdateAuthForm(ctx context.Context, id string, settings map[string]string) (Installation, error) {
	installation, err := s.credentials.UpdateAuthForm(ctx, id, settings)
	if err != nil {
		return Installation{}, s.mapError(err)
	}
	return installation, nil
}

// Invoke resolves authentication, dispatches the request, and classifies the
// outcome. Errors are returned only for failures before dispatch; vendor
// outcomes are reported through the decision. A 401 on a cached-token scheme
// triggers one forced refresh and one re-send.
func (s *Service) Invoke(ctx context.Context, req InvokeRequest) (decision RetryDecision, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"installation_id": req.InstallationID,
		"connector":       req.Connector,
		"operation":       req.Operation,
	}
	defer func() {
		if err == nil {
			fields["decision"] = string(decision.Kind)
		}
		s.observeOperation(ctx, startedAt, "invoke", err, fields)
	}()

	installation, err := s.credentials.Get(ctx, req.InstallationID)
	if err != nil {
		err = s.mapError(err)
		return RetryDecision{}, err
	}
	fields["vendor_key"] = installation.VendorKey
	fields["auth_scheme"] = string(installation.AuthScheme)

	decision, err = s.dispatchOnce(ctx, installation, req)
	if err != nil {
		return RetryDecision{}, err
	}
	if !installation.AuthScheme.UsesCachedToken() || fatalStatus(decision) != http.StatusUnauthorized {
		return decision, nil
	}

	s.recordDecision(ctx, RetryNow(decision.Err), installation.VendorKey)
	// dispatchOnce may have persisted a lazily acquired token, and vendors that
	// rotate refresh tokens reject the one loaded before dispatch.
	current, err := s.credentials.Get(ctx, installation.ID)
	if err != nil {
		err = s.mapError(err)
		return RetryDecision{}, err
	}
	refreshed, err := s.tokens.ForceRefresh(ctx, current)
	if err != nil {
		err = s.mapError(err)
		return RetryDecision{}, err
	}
	decision, err = s.dispatchOnce(ctx, refreshed, req)
	if err != nil {
		return RetryDecision{}, err
	}
	return decision, nil
}

func (s *Service) dispatchOnce(ctx context.Context, installation Installation, req InvokeRequest) (RetryDecision, error) {
	auth, err := s.tokens.ResolveAuthHeader(ctx, installation)
	if err != nil {
		return RetryDecision{}, s.mapError(err)
	}
	profile, err := s.vendors.Resolve(installation)
	if err != nil {
		return RetryDecision{}, s.mapError(err)
	}
	request, err := s.dispatcher.BuildRequest(BuildRequestInput{
		Auth:          auth,
		VendorKey:     installation.VendorKey,
		VendorHeaders: profile.Headers,
		Method:        req.Method,
		URL:           req.URL,
		Headers:       req.Headers,
		Query:         req.Query,
		Body:          req.Body,
		Connector:     req.Connector,
		Operation:     req.Operation,
	})
	if err != nil {
		return RetryDecision{}, s.mapError(err)
	}
	decision := s.dispatcher.Send(ctx, request)
	s.recordDecision(ctx, decision, installation.VendorKey)
	return decision, nil
}

// ScanRefresh materializes one scan for callers that cannot range over iterators.
func (s *Service) ScanRefresh(ctx context.Context, horizon time.Duration) (units []RefreshUnit, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"horizon": horizon.String()}
	defer func() {
		fields["units"] = len(units)
		s.observeOperation(ctx, startedAt, "scan_refresh", err, fields)
	}()

	if horizon <= 0 {
		horizon = s.config.Refresh.Horizon
	}
	unreadable := 0
	for unit, scanErr := range s.scheduler.Scan(ctx, horizon) {
		if scanErr != nil {
			if _, rowLevel := InstallationLoadFailure(scanErr); rowLevel {
				unreadable++
				fields["unreadable"] = unreadable
				continue
			}
			err = s.mapError(scanErr)
			return nil, err
		}
		units = append(units, unit)
	}
	return units, nil
}

func (s *Service) ExecuteRefresh(ctx context.Context, unit RefreshUnit) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"installation_id": unit.InstallationID}
	defer func() {
		s.observeOperation(ctx, startedAt, "execute_refresh", err, fields)
	}()

	if err = s.scheduler.ExecuteRefresh(ctx, unit); err != nil {
		err = s.mapError(err)
		return err
	}
	return nil
}

func (s *Service) RunRefresh(ctx context.Context) (result RefreshRunResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		fields["scanned"] = result.Scanned
		fields["refreshed"] = result.Refreshed
		fields["skipped"] = result.Skipped
		fields["failed"] = result.Failed
		s.observeOperation(ctx, startedAt, "run_refresh", err, fields)
	}()

	result, err = s.scheduler.RunOnce(ctx)
	if err != nil {
		err = s.mapError(err)
	}
	return result, err
}

// RunRefreshLoop blocks, running a refresh pass every configured interval.
func (s *Service) RunRefreshLoop(ctx context.Context) error {
	return s.scheduler.Run(ctx, s.config.Refresh.Interval, func(result RefreshRunResult, err error) {
		fields := map[string]any{
			"scanned":   result.Scanned,
			"refreshed": result.Refreshed,
			"skipped":   result.Skipped,
			"failed":    result.Failed,
		}
		if err != nil {
			fields["error"] = err.Error()
			s.logError(ctx, "refresh pass failed", fields)
			return
		}
		s.logInfo(ctx, "refresh pass completed", fields)
	})
}

func (s *Service) EnqueueRefresh(ctx context.Context, horizon time.Duration, enqueuer JobEnqueuer) (int, error) {
	if horizon <= 0 {
		horizon = s.config.Refresh.Horizon
	}
	count, err := s.scheduler.Enqueue(ctx, horizon, enqueuer)
	if err != nil {
		return count, s.mapError(err)
	}
	return count, nil
}

// HandleRefreshJob executes the refresh unit carried by a queued job message.
func (s *Service) HandleRefreshJob(ctx context.Context, msg *JobExecutionMessage) error {
	unit, err := RefreshUnitFromJob(msg)
	if err != nil {
		return s.mapError(err)
	}
	return s.ExecuteRefresh(ctx, unit)
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func fatalStatus(decision RetryDecision) int {
	if decision.Kind != DecisionFatal {
		return 0
	}
	var fatal *FatalError
	if errors.As(decision.Err, &fatal) {
		return fatal.StatusCode
	}
	return 0
}
