package goredis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/redis/go-redis/v9"
)

const DefaultLockPrefix = "go-integrations:refresh-lock:"

var _ core.RefreshLocker = (*RefreshLocker)(nil)

// RefreshLocker coordinates proactive refreshes across processes with a
// SET NX lease per installation. Each locker owns a random token and only
// releases leases that still carry it.
type RefreshLocker struct {
	client  redis.UniversalClient
	prefix  string
	ownerID string
}

type LockerOption func(*RefreshLocker)

func WithKeyPrefix(prefix string) LockerOption {
	return func(l *RefreshLocker) {
		if strings.TrimSpace(prefix) != "" {
			l.prefix = prefix
		}
	}
}

func WithOwnerID(ownerID string) LockerOption {
	return func(l *RefreshLocker) {
		if strings.TrimSpace(ownerID) != "" {
			l.ownerID = ownerID
		}
	}
}

func NewRefreshLocker(client redis.UniversalClient, opts ...LockerOption) (*RefreshLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("goredis: redis client is required")
	}
	locker := &RefreshLocker{
		client:  client,
		prefix:  DefaultLockPrefix,
		ownerID: generateOwnerID(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(locker)
		}
	}
	return locker, nil
}

func generateOwnerID() string {
	hostname, _ := os.Hostname()
	random := make([]byte, 8)
	_, _ = rand.Read(random)
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), hex.EncodeToString(random))
}

func (l *RefreshLocker) OwnerID() string {
	if l == nil {
		return ""
	}
	return l.ownerID
}

func (l *RefreshLocker) key(installationID string) string {
	return l.prefix + installationID
}

func (l *RefreshLocker) TryLock(ctx context.Context, installationID string, ttl time.Duration) (bool, error) {
	if l == nil || l.client == nil {
		return false, fmt.Errorf("goredis: refresh locker is not configured")
	}
	installationID = strings.TrimSpace(installationID)
	if installationID == "" {
		return false, fmt.Errorf("goredis: installation id is required for lock acquisition")
	}
	if ttl <= 0 {
		ttl = core.DefaultRefreshLockTTL
	}
	acquired, err := l.client.SetNX(ctx, l.key(installationID), l.ownerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("goredis: acquire refresh lock %s: %w", installationID, err)
	}
	return acquired, nil
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Unlock releases the lease only while this locker still owns it. Releasing
// an expired or foreign lease is a no-op.
func (l *RefreshLocker) Unlock(ctx context.Context, installationID string) error {
	if l == nil || l.client == nil {
		return nil
	}
	installationID = strings.TrimSpace(installationID)
	if installationID == "" {
		return nil
	}
	err := releaseScript.Run(ctx, l.client, []string{l.key(installationID)}, l.ownerID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("goredis: release refresh lock %s: %w", installationID, err)
	}
	return nil
}

var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// Extend pushes the lease deadline out for a refresh that is taking longer
// than its original TTL.
func (l *RefreshLocker) Extend(ctx context.Context, installationID string, ttl time.Duration) error {
	if l == nil || l.client == nil {
		return fmt.Errorf("goredis: refresh locker is not configured")
	}
	installationID = strings.TrimSpace(installationID)
	result, err := extendScript.Run(ctx, l.client, []string{l.key(installationID)}, l.ownerID, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("goredis: extend refresh lock %s: %w", installationID, err)
	}
	if result == 0 {
		return fmt.Errorf("goredis: refresh lock %s is not held by %s", installationID, l.ownerID)
	}
	return nil
}

func (l *RefreshLocker) Ping(ctx context.Context) error {
	if l == nil || l.client == nil {
		return fmt.Errorf("goredis: refresh locker is not configured")
	}
	return l.client.Ping(ctx).Err()
}
