package sqlstore

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const installationCacheKeyPrefix = "go-integrations::installation::v1"

type cachedLookup struct {
	Installation core.Installation
	Found        bool
}

// CachedInstallationRepository fronts another repository with a read-through
// cache for FindByID. Persist writes through and evicts the cached entry.
// Expiry scans always hit the base repository.
type CachedInstallationRepository struct {
	base  core.InstallationRepository
	cache repositorycache.CacheService
}

func NewCachedInstallationRepository(
	base core.InstallationRepository,
	cacheService repositorycache.CacheService,
) (*CachedInstallationRepository, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base installation repository is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: installation cache service is required")
	}
	return &CachedInstallationRepository{base: base, cache: cacheService}, nil
}

// NewInstallationCacheService builds the default in-memory cache service.
func NewInstallationCacheService(ttl time.Duration) (repositorycache.CacheService, error) {
	config := repositorycache.DefaultConfig()
	if ttl > 0 {
		config.TTL = ttl
	}
	return repositorycache.NewCacheService(config)
}

// InstallationCacheKey returns go-integrations::installation::v1::<id> with the
// id URL-path escaped.
func InstallationCacheKey(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", fmt.Errorf("sqlstore: installation id is required")
	}
	return installationCacheKeyPrefix + "::" + url.PathEscape(trimmed), nil
}

func (r *CachedInstallationRepository) FindByID(ctx context.Context, id string) (core.Installation, bool, error) {
	if r == nil || r.base == nil || r.cache == nil {
		return core.Installation{}, false, fmt.Errorf("sqlstore: cached installation repository is not configured")
	}
	key, err := InstallationCacheKey(id)
	if err != nil {
		return core.Installation{}, false, nil
	}
	lookup, err := repositorycache.GetOrFetch(ctx, r.cache, key, func(ctx context.Context) (cachedLookup, error) {
		installation, found, fetchErr := r.base.FindByID(ctx, id)
		if fetchErr != nil {
			return cachedLookup{}, fetchErr
		}
		return cachedLookup{Installation: installation.Clone(), Found: found}, nil
	})
	if err != nil {
		return core.Installation{}, false, err
	}
	if !lookup.Found {
		return core.Installation{}, false, nil
	}
	return lookup.Installation.Clone(), true, nil
}

func (r *CachedInstallationRepository) Persist(ctx context.Context, installation core.Installation) error {
	if r == nil || r.base == nil || r.cache == nil {
		return fmt.Errorf("sqlstore: cached installation repository is not configured")
	}
	if err := r.base.Persist(ctx, installation); err != nil {
		return err
	}
	return r.evict(ctx, installation.ID)
}

func (r *CachedInstallationRepository) FindExpiringBefore(ctx context.Context, cutoff time.Time) iter.Seq2[core.Installation, error] {
	if r == nil || r.base == nil {
		return func(yield func(core.Installation, error) bool) {
			yield(core.Installation{}, fmt.Errorf("sqlstore: cached installation repository is not configured"))
		}
	}
	return r.base.FindExpiringBefore(ctx, cutoff)
}

// Evict drops the cached entry for id.
func (r *CachedInstallationRepository) Evict(ctx context.Context, id string) error {
	if r == nil || r.cache == nil {
		return fmt.Errorf("sqlstore: cached installation repository is not configured")
	}
	return r.evict(ctx, id)
}

func (r *CachedInstallationRepository) evict(ctx context.Context, id string) error {
	key, err := InstallationCacheKey(id)
	if err != nil {
		return err
	}
	return r.cache.Delete(ctx, key)
}

var _ core.InstallationRepository = (*CachedInstallationRepository)(nil)
