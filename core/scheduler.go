package core

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	RefreshJobID          = "integrations.refresh"
	RefreshJobScriptPath  = "integrations/refresh"
	RefreshJobParamID     = "installation_id"
	DefaultRefreshHorizon = time.Hour
	DefaultRefreshEvery   = 5 * time.Minute
	DefaultRefreshWorkers = 4
	DefaultRefreshLockTTL = 2 * time.Minute
)

type RefreshRunResult struct {
	Scanned   int
	Refreshed int
	Skipped   int
	Failed    int
	Errors    map[string]error
}

// RefreshScheduler proactively refreshes tokens that will expire within a horizon.
type RefreshScheduler struct {
	store   *CredentialStore
	tokens  *TokenProvider
	locker  RefreshLocker
	limiter RefreshLimiter
	config  RefreshConfig
	logger  Logger
}

func NewRefreshScheduler(
	store *CredentialStore,
	tokens *TokenProvider,
	locker RefreshLocker,
	limiter RefreshLimiter,
	cfg RefreshConfig,
	logger Logger,
) *RefreshScheduler {
	if locker == nil {
		locker = NewMemoryRefreshLocker(store.Clock())
	}
	return &RefreshScheduler{
		store:   store,
		tokens:  tokens,
		locker:  locker,
		limiter: limiter,
		config:  cfg.withDefaults(),
		logger:  logger,
	}
}

// Scan yields one unit per enabled installation whose expiry falls at or before
// now+horizon. The sequence is lazy and each range over it queries afresh.
// A row the repository cannot decode is yielded as a unit carrying an
// InstallationLoadError and the scan continues; any other error ends it.
func (s *RefreshScheduler) Scan(ctx context.Context, horizon time.Duration) iter.Seq2[RefreshUnit, error] {
	return func(yield func(RefreshUnit, error) bool) {
		if s == nil || s.store == nil || s.store.repo == nil {
			yield(RefreshUnit{}, fmt.Errorf("core: installation repository is required"))
			return
		}
		if horizon < 0 {
			horizon = 0
		}
		cutoff := s.store.Clock().Now().Add(horizon)
		for installation, err := range s.store.repo.FindExpiringBefore(ctx, cutoff) {
			if err != nil {
				id, rowLevel := InstallationLoadFailure(err)
				if !yield(RefreshUnit{InstallationID: id}, err) || !rowLevel {
					return
				}
				continue
			}
			if !installation.Enabled || installation.ExpiresAt == nil || installation.ExpiresAt.After(cutoff) {
				continue
			}
			if !yield(RefreshUnit{InstallationID: installation.ID}, nil) {
				return
			}
		}
	}
}

// ExecuteRefresh acquires a fresh token for the unit. An installation that was
// removed or disabled since the scan is skipped without error.
func (s *RefreshScheduler) ExecuteRefresh(ctx context.Context, unit RefreshUnit) error {
	if s == nil || s.store == nil || s.tokens == nil {
		return fmt.Errorf("core: refresh scheduler is not configured")
	}
	id := strings.TrimSpace(unit.InstallationID)
	if id == "" {
		return fmt.Errorf("core: installation id is required for refresh")
	}
	installation, err := s.store.Get(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	_, err = s.tokens.ForceRefresh(ctx, installation)
	return err
}

// RunOnce scans with the configured horizon and refreshes every unit through a
// bounded worker pool. One unit failing never stops the others.
func (s *RefreshScheduler) RunOnce(ctx context.Context) (RefreshRunResult, error) {
	result := RefreshRunResult{Errors: map[string]error{}}
	if s == nil {
		return result, fmt.Errorf("core: refresh scheduler is nil")
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.config.Concurrency)

	var scanErr error
	for unit, err := range s.Scan(ctx, s.config.Horizon) {
		if err != nil {
			if _, rowLevel := InstallationLoadFailure(err); rowLevel {
				mu.Lock()
				result.Scanned++
				result.Failed++
				result.Errors[unit.InstallationID] = err
				mu.Unlock()
				logWithLevel(ctx, s.logger, "warn", "refresh unit unreadable", map[string]any{
					"installation_id": unit.InstallationID,
					"error":           err.Error(),
				})
				continue
			}
			scanErr = err
			break
		}
		if groupCtx.Err() != nil {
			break
		}
		result.Scanned++
		group.Go(func() error {
			outcome, refreshErr := s.refreshUnit(groupCtx, unit)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case refreshOutcomeRefreshed:
				result.Refreshed++
			case refreshOutcomeSkipped:
				result.Skipped++
			default:
				result.Failed++
				result.Errors[unit.InstallationID] = refreshErr
				logWithLevel(groupCtx, s.logger, "warn", "refresh unit failed", map[string]any{
					"installation_id": unit.InstallationID,
					"error":           fmt.Sprint(refreshErr),
				})
			}
			return nil
		})
	}
	_ = group.Wait()

	if scanErr != nil {
		return result, scanErr
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// Run calls RunOnce every interval until ctx is cancelled.
func (s *RefreshScheduler) Run(ctx context.Context, interval time.Duration, onResult func(RefreshRunResult, error)) error {
	if s == nil {
		return fmt.Errorf("core: refresh scheduler is nil")
	}
	if interval <= 0 {
		interval = s.config.Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, err := s.RunOnce(ctx)
		if onResult != nil {
			onResult(result, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Enqueue publishes one refresh job per scanned unit instead of refreshing inline.
func (s *RefreshScheduler) Enqueue(ctx context.Context, horizon time.Duration, enqueuer JobEnqueuer) (int, error) {
	if s == nil || s.store == nil {
		return 0, fmt.Errorf("core: refresh scheduler is not configured")
	}
	if enqueuer == nil {
		return 0, fmt.Errorf("core: job enqueuer is required")
	}
	window := s.store.Clock().Now().Truncate(s.config.Interval).Unix()
	count := 0
	for unit, err := range s.Scan(ctx, horizon) {
		if err != nil {
			if _, rowLevel := InstallationLoadFailure(err); rowLevel {
				logWithLevel(ctx, s.logger, "warn", "refresh unit unreadable", map[string]any{
					"installation_id": unit.InstallationID,
					"error":           err.Error(),
				})
				continue
			}
			return count, err
		}
		msg := RefreshJobMessage(unit, window)
		if err := enqueuer.Enqueue(ctx, &msg); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// RefreshJobMessage builds the job message for one unit. The idempotency key is
// stable within one scheduling window.
func RefreshJobMessage(unit RefreshUnit, window int64) JobExecutionMessage {
	return JobExecutionMessage{
		JobID:          RefreshJobID,
		ScriptPath:     RefreshJobScriptPath,
		Parameters:     map[string]any{RefreshJobParamID: unit.InstallationID},
		IdempotencyKey: fmt.Sprintf("refresh:%s:%d", unit.InstallationID, window),
		DedupPolicy:    "drop",
	}
}

// RefreshUnitFromJob reads the unit back from a job message.
func RefreshUnitFromJob(msg *JobExecutionMessage) (RefreshUnit, error) {
	if msg == nil {
		return RefreshUnit{}, fmt.Errorf("core: job message is nil")
	}
	if msg.JobID != RefreshJobID {
		return RefreshUnit{}, fmt.Errorf("core: unexpected job id %q", msg.JobID)
	}
	id, _ := msg.Parameters[RefreshJobParamID].(string)
	if strings.TrimSpace(id) == "" {
		return RefreshUnit{}, fmt.Errorf("core: job parameter %s is required", RefreshJobParamID)
	}
	return RefreshUnit{InstallationID: strings.TrimSpace(id)}, nil
}

type refreshOutcome int

const (
	refreshOutcomeFailed refreshOutcome = iota
	refreshOutcomeRefreshed
	refreshOutcomeSkipped
)

var errRefreshLocked = errors.New("core: refresh already in progress")

func (s *RefreshScheduler) refreshUnit(ctx context.Context, unit RefreshUnit) (refreshOutcome, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, unit.InstallationID); err != nil {
			return refreshOutcomeFailed, err
		}
	}
	acquired, err := s.locker.TryLock(ctx, unit.InstallationID, s.config.LockTTL)
	if err != nil {
		return refreshOutcomeFailed, err
	}
	if !acquired {
		return refreshOutcomeSkipped, errRefreshLocked
	}
	defer func() {
		_ = s.locker.Unlock(context.WithoutCancel(ctx), unit.InstallationID)
	}()

	if err := s.ExecuteRefresh(ctx, unit); err != nil {
		return refreshOutcomeFailed, err
	}
	return refreshOutcomeRefreshed, nil
}
