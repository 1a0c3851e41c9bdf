package core

import (
	"fmt"
	"strings"
	"time"
)

type DispatchConfig struct {
	Accept           string        `koanf:"accept" mapstructure:"accept"`
	ContentType      string        `koanf:"content_type" mapstructure:"content_type"`
	TransientMarkers []string      `koanf:"transient_markers" mapstructure:"transient_markers"`
	RetryLaterDelay  time.Duration `koanf:"retry_later_delay" mapstructure:"retry_later_delay"`
	Timeout          time.Duration `koanf:"timeout" mapstructure:"timeout"`
}

type RefreshConfig struct {
	Horizon       time.Duration `koanf:"horizon" mapstructure:"horizon"`
	Interval      time.Duration `koanf:"interval" mapstructure:"interval"`
	Concurrency   int           `koanf:"concurrency" mapstructure:"concurrency"`
	RatePerSecond float64       `koanf:"rate_per_second" mapstructure:"rate_per_second"`
	Burst         int           `koanf:"burst" mapstructure:"burst"`
	LockTTL       time.Duration `koanf:"lock_ttl" mapstructure:"lock_ttl"`
}

func (c RefreshConfig) withDefaults() RefreshConfig {
	if c.Horizon <= 0 {
		c.Horizon = DefaultRefreshHorizon
	}
	if c.Interval <= 0 {
		c.Interval = DefaultRefreshEvery
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultRefreshWorkers
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultRefreshLockTTL
	}
	return c
}

type Config struct {
	ServiceName string                  `koanf:"service_name" mapstructure:"service_name"`
	Dispatch    DispatchConfig          `koanf:"dispatch" mapstructure:"dispatch"`
	Refresh     RefreshConfig           `koanf:"refresh" mapstructure:"refresh"`
	Vendors     map[string]VendorConfig `koanf:"vendors" mapstructure:"vendors"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "integrations",
		Dispatch: DispatchConfig{
			Accept:           DefaultAccept,
			ContentType:      DefaultContentType,
			TransientMarkers: append([]string(nil), DefaultTransientMarkers...),
			RetryLaterDelay:  DefaultRetryLaterDelay,
			Timeout:          DefaultDispatchTimeout,
		},
		Refresh: RefreshConfig{
			Horizon:       DefaultRefreshHorizon,
			Interval:      DefaultRefreshEvery,
			Concurrency:   DefaultRefreshWorkers,
			RatePerSecond: 5,
			Burst:         5,
			LockTTL:       DefaultRefreshLockTTL,
		},
		Vendors: map[string]VendorConfig{},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Dispatch.RetryLaterDelay < 0 {
		return fmt.Errorf("core: dispatch.retry_later_delay must not be negative")
	}
	if c.Dispatch.Timeout < 0 {
		return fmt.Errorf("core: dispatch.timeout must not be negative")
	}
	if c.Refresh.Horizon < 0 {
		return fmt.Errorf("core: refresh.horizon must not be negative")
	}
	if c.Refresh.Concurrency < 0 {
		return fmt.Errorf("core: refresh.concurrency must not be negative")
	}
	if c.Refresh.RatePerSecond < 0 || c.Refresh.Burst < 0 {
		return fmt.Errorf("core: refresh rate limits must not be negative")
	}
	for key, vendor := range c.Vendors {
		if _, err := ProfileFromConfig(key, vendor); err != nil {
			return fmt.Errorf("core: vendors.%s: %w", key, err)
		}
	}
	return nil
}
