package integrations

import "github.com/goliatone/go-integrations/core"

type Config = core.Config

type RefreshConfig = core.RefreshConfig

type DispatchConfig = core.DispatchConfig

type VendorConfig = core.VendorConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type Installation = core.Installation
type CachedToken = core.CachedToken
type TokenGrant = core.TokenGrant
type TokenState = core.TokenState
type AuthScheme = core.AuthScheme
type AuthRequest = core.AuthRequest
type InvokeRequest = core.InvokeRequest
type RetryDecision = core.RetryDecision
type RefreshUnit = core.RefreshUnit
type RefreshRunResult = core.RefreshRunResult
type VendorProfile = core.VendorProfile

type InstallationRepository = core.InstallationRepository
type RefreshLocker = core.RefreshLocker
type RefreshLimiter = core.RefreshLimiter
type Sender = core.Sender
type AuthStrategy = core.AuthStrategy

var (
	WithLogger                 = core.WithLogger
	WithLoggerProvider         = core.WithLoggerProvider
	WithMetricsRecorder        = core.WithMetricsRecorder
	WithErrorMapper            = core.WithErrorMapper
	WithConfigProvider         = core.WithConfigProvider
	WithOptionsResolver        = core.WithOptionsResolver
	WithClock                  = core.WithClock
	WithSender                 = core.WithSender
	WithInstallationRepository = core.WithInstallationRepository
	WithStrategies             = core.WithStrategies
	WithVendorRegistry         = core.WithVendorRegistry
	WithRefreshLocker          = core.WithRefreshLocker
	WithRefreshLimiter         = core.WithRefreshLimiter
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
