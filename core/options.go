package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	clock           Clock
	sender          Sender
	repository      InstallationRepository
	strategies      []AuthStrategy
	vendors         *VendorRegistry
	refreshLocker   RefreshLocker
	refreshLimiter  RefreshLimiter
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

// WithClock injects the time source used for every expiry decision.
func WithClock(clock Clock) Option {
	return func(b *serviceBuilder) {
		b.clock = clock
	}
}

func WithSender(sender Sender) Option {
	return func(b *serviceBuilder) {
		b.sender = sender
	}
}

func WithInstallationRepository(repo InstallationRepository) Option {
	return func(b *serviceBuilder) {
		b.repository = repo
	}
}

// WithStrategies appends auth strategies; one per scheme.
func WithStrategies(strategies ...AuthStrategy) Option {
	return func(b *serviceBuilder) {
		b.strategies = append(b.strategies, strategies...)
	}
}

// WithVendorRegistry replaces the registry built from Config.Vendors.
func WithVendorRegistry(registry *VendorRegistry) Option {
	return func(b *serviceBuilder) {
		b.vendors = registry
	}
}

func WithRefreshLocker(locker RefreshLocker) Option {
	return func(b *serviceBuilder) {
		b.refreshLocker = locker
	}
}

func WithRefreshLimiter(limiter RefreshLimiter) Option {
	return func(b *serviceBuilder) {
		b.refreshLimiter = limiter
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("integrations", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		clock:           SystemClock{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return integrationErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	return copyAnyMap(l.Values), nil
}

// NewStaticConfigLoader serves a fixed raw map, mostly useful in tests.
func NewStaticConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: copyAnyMap(values)}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	return cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
}

// GoOptionsResolver layers defaults, loaded config, and runtime overrides with
// go-options. Vendor profiles are merged by key after the scalar layers.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value, cfgx.WithDefaults(defaults))
	if err != nil {
		return Config{}, err
	}

	resolved.Vendors = map[string]VendorConfig{}
	for _, layer := range []Config{defaults, loaded, runtime} {
		for key, vendor := range layer.Vendors {
			resolved.Vendors[strings.TrimSpace(key)] = vendor
		}
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	dispatch := map[string]any{}
	if includeZero || cfg.Dispatch.Accept != "" {
		dispatch["accept"] = cfg.Dispatch.Accept
	}
	if includeZero || cfg.Dispatch.ContentType != "" {
		dispatch["content_type"] = cfg.Dispatch.ContentType
	}
	if includeZero || len(cfg.Dispatch.TransientMarkers) > 0 {
		dispatch["transient_markers"] = append([]string(nil), cfg.Dispatch.TransientMarkers...)
	}
	if includeZero || cfg.Dispatch.RetryLaterDelay != 0 {
		dispatch["retry_later_delay"] = cfg.Dispatch.RetryLaterDelay
	}
	if includeZero || cfg.Dispatch.Timeout != 0 {
		dispatch["timeout"] = cfg.Dispatch.Timeout
	}
	if len(dispatch) > 0 {
		layer["dispatch"] = dispatch
	}

	refresh := map[string]any{}
	if includeZero || cfg.Refresh.Horizon != 0 {
		refresh["horizon"] = cfg.Refresh.Horizon
	}
	if includeZero || cfg.Refresh.Interval != 0 {
		refresh["interval"] = cfg.Refresh.Interval
	}
	if includeZero || cfg.Refresh.Concurrency != 0 {
		refresh["concurrency"] = cfg.Refresh.Concurrency
	}
	if includeZero || cfg.Refresh.RatePerSecond != 0 {
		refresh["rate_per_second"] = cfg.Refresh.RatePerSecond
	}
	if includeZero || cfg.Refresh.Burst != 0 {
		refresh["burst"] = cfg.Refresh.Burst
	}
	if includeZero || cfg.Refresh.LockTTL != 0 {
		refresh["lock_ttl"] = cfg.Refresh.LockTTL
	}
	if len(refresh) > 0 {
		layer["refresh"] = refresh
	}
	return layer
}
