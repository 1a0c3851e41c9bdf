package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryRefreshLocker is a process-local RefreshLocker. Leases expire after
// their TTL so a crashed worker cannot hold an installation forever.
type MemoryRefreshLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
	clock Clock
}

func NewMemoryRefreshLocker(clock Clock) *MemoryRefreshLocker {
	return &MemoryRefreshLocker{
		locks: make(map[string]time.Time),
		clock: resolveClock(clock),
	}
}

func (l *MemoryRefreshLocker) TryLock(_ context.Context, installationID string, ttl time.Duration) (bool, error) {
	if l == nil {
		return false, fmt.Errorf("core: refresh locker is not configured")
	}
	installationID = strings.TrimSpace(installationID)
	if installationID == "" {
		return false, fmt.Errorf("core: installation id is required for lock acquisition")
	}
	if ttl <= 0 {
		ttl = DefaultRefreshLockTTL
	}

	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if until, ok := l.locks[installationID]; ok && now.Before(until) {
		return false, nil
	}
	l.locks[installationID] = now.Add(ttl)
	return true, nil
}

func (l *MemoryRefreshLocker) Unlock(_ context.Context, installationID string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	delete(l.locks, strings.TrimSpace(installationID))
	l.mu.Unlock()
	return nil
}

var _ RefreshLocker = (*MemoryRefreshLocker)(nil)
