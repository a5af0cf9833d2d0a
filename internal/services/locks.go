package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotObtained is returned when another worker already holds the
// lock for the same key.
var ErrLockNotObtained = errors.New("lock not obtained")

// DedupLocker coalesces concurrent work on the same resource across
// worker processes.
type DedupLocker interface {
	// Obtain acquires the named lock for ttl. Returns
	// ErrLockNotObtained when the lock is held elsewhere.
	Obtain(ctx context.Context, key string, ttl time.Duration) (Unlocker, error)
}

// Unlocker releases a held lock.
type Unlocker interface {
	Release(ctx context.Context) error
}

// RedisLocker implements DedupLocker with redislock.
type RedisLocker struct {
	client *redislock.Client
}

// NewRedisLocker wraps an existing Redis connection.
func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb)}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Unlocker, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if err == redislock.ErrNotObtained {
		return nil, ErrLockNotObtained
	}
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// SummaryLockKey names the lock guarding generation of one commit's
// summary. Repository plus SHA uniquely identifies the work.
func SummaryLockKey(repository, sha string) string {
	return fmt.Sprintf("lock:summary:%s:%s", repository, sha)
}
