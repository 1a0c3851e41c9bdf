package sqlstore

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/security"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

const DefaultScanPageSize = 100

type RepositoryOption func(*InstallationRepository)

// WithSealer seals auth form settings and cached tokens before they are written.
func WithSealer(sealer security.Sealer) RepositoryOption {
	return func(r *InstallationRepository) {
		r.codec.sealer = sealer
	}
}

func WithScanPageSize(size int) RepositoryOption {
	return func(r *InstallationRepository) {
		if size > 0 {
			r.pageSize = size
		}
	}
}

func WithRepositoryClock(clock core.Clock) RepositoryOption {
	return func(r *InstallationRepository) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// InstallationRepository persists installations in the connector_installations table.
type InstallationRepository struct {
	db       *bun.DB
	repo     repository.Repository[*installationRecord]
	codec    recordCodec
	clock    core.Clock
	pageSize int
}

func NewInstallationRepository(db *bun.DB, opts ...RepositoryOption) (*InstallationRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*installationRecord](db, installationHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid installation repository wiring: %w", err)
		}
	}
	store := &InstallationRepository{
		db:       db,
		repo:     repo,
		clock:    core.SystemClock{},
		pageSize: DefaultScanPageSize,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(store)
	}
	return store, nil
}

// NewInstallationRepositoryFromPersistence accepts a *bun.DB or any client
// exposing DB() *bun.DB, such as a go-persistence-bun client.
func NewInstallationRepositoryFromPersistence(client any, opts ...RepositoryOption) (*InstallationRepository, error) {
	db, err := resolveBunDB(client)
	if err != nil {
		return nil, err
	}
	return NewInstallationRepository(db, opts...)
}

func (r *InstallationRepository) FindByID(ctx context.Context, id string) (core.Installation, bool, error) {
	if r == nil || r.repo == nil {
		return core.Installation{}, false, fmt.Errorf("sqlstore: installation repository is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.Installation{}, false, nil
	}
	records, _, err := r.repo.List(ctx,
		repository.SelectBy("id", "=", id),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Installation{}, false, err
	}
	if len(records) == 0 {
		return core.Installation{}, false, nil
	}
	installation, err := r.codec.decode(ctx, records[0])
	if err != nil {
		return core.Installation{}, false, err
	}
	return installation, true, nil
}

// Persist inserts or replaces the installation row. created_at is kept from
// the first insert.
func (r *InstallationRepository) Persist(ctx context.Context, installation core.Installation) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("sqlstore: installation repository is not configured")
	}
	installation.ID = strings.TrimSpace(installation.ID)
	if err := installation.Validate(); err != nil {
		return err
	}
	record, err := r.codec.encode(ctx, installation, r.clock.Now())
	if err != nil {
		return err
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*installationRecord)(nil)).
			Where("?TableAlias.id = ?", record.ID).
			Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			_, err = tx.NewInsert().Model(record).Exec(ctx)
			return err
		}
		_, err = tx.NewUpdate().
			Model(record).
			ExcludeColumn("created_at").
			Where("id = ?", record.ID).
			Exec(ctx)
		return err
	})
}

// FindExpiringBefore walks enabled installations with expires_at <= cutoff in
// (expires_at, id) order. Pages are fetched on demand with a keyset cursor, so
// rows refreshed while the sequence is consumed are neither skipped nor
// repeated.
func (r *InstallationRepository) FindExpiringBefore(ctx context.Context, cutoff time.Time) iter.Seq2[core.Installation, error] {
	return func(yield func(core.Installation, error) bool) {
		if r == nil || r.repo == nil {
			yield(core.Installation{}, fmt.Errorf("sqlstore: installation repository is not configured"))
			return
		}
		cutoff = cutoff.UTC()
		var (
			lastExpiry *time.Time
			lastID     string
		)
		for {
			if err := ctx.Err(); err != nil {
				yield(core.Installation{}, err)
				return
			}
			after, afterID := lastExpiry, lastID
			records, _, err := r.repo.List(ctx,
				repository.SelectBy("enabled", "=", true),
				repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
					q = q.Where("?TableAlias.expires_at IS NOT NULL").
						Where("?TableAlias.expires_at <= ?", cutoff)
					if after != nil {
						q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
							return q.Where("?TableAlias.expires_at > ?", *after).
								WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
									return q.Where("?TableAlias.expires_at = ?", *after).
										Where("?TableAlias.id > ?", afterID)
								})
						})
					}
					return q
				}),
				repository.OrderBy("expires_at ASC"),
				repository.OrderBy("id ASC"),
				repository.SelectPaginate(r.pageSize, 0),
			)
			if err != nil {
				yield(core.Installation{}, err)
				return
			}
			for _, record := range records {
				installation, decodeErr := r.codec.decode(ctx, record)
				if decodeErr != nil {
					decodeErr = core.NewInstallationLoadError(record.ID, decodeErr)
				}
				if !yield(installation, decodeErr) {
					return
				}
				if record.ExpiresAt != nil {
					value := record.ExpiresAt.UTC()
					lastExpiry = &value
				}
				lastID = record.ID
			}
			if len(records) < r.pageSize {
				return
			}
		}
	}
}

// Delete removes an installation row. Missing rows are not an error.
func (r *InstallationRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("sqlstore: installation repository is not configured")
	}
	_, err := r.db.NewDelete().
		Model((*installationRecord)(nil)).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	return err
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		if typed == nil {
			return nil, fmt.Errorf("sqlstore: bun db is nil")
		}
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}

var _ core.InstallationRepository = (*InstallationRepository)(nil)
