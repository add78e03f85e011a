package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// lockMargin is how long before the next tick a held lock must expire.
const lockMargin = 5 * time.Minute

// LockTTL returns the lease for a cycle lock on a loop that ticks every
// interval. A requested TTL is honoured when it expires before the next
// tick; otherwise, or when none is requested, the lease ends lockMargin
// before the next tick (or at half the interval for short intervals), so a
// replica that dies holding the lock costs at most one cycle.
func LockTTL(interval, requested time.Duration) time.Duration {
	if interval <= 0 {
		interval = defaultInterval
	}
	ceiling := interval - lockMargin
	if ceiling < interval/2 {
		ceiling = interval / 2
	}
	if requested <= 0 || requested > ceiling {
		return ceiling
	}
	return requested
}

// Lock coordinates exclusive cron runs.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// RedisLock implements Lock on redislock so only one replica runs a cycle.
type RedisLock struct {
	locker *redislock.Client
	key    string
	ttl    time.Duration

	mu   sync.Mutex
	held *redislock.Lock
}

// NewRedisLock constructs a Redis-backed lock. client is usually a
// *redis.Client from go-redis.
func NewRedisLock(client redislock.RedisClient, key string, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = LockTTL(defaultInterval, 0)
	}
	return &RedisLock{locker: redislock.New(client), key: key, ttl: ttl}, nil
}

// Acquire tries to own the lock for the configured TTL.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, err := l.locker.Obtain(ctx, l.key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("obtain %s: %w", l.key, err)
	}
	l.held = lock
	return true, nil
}

// Release frees the lock if this instance still owns it.
func (l *RedisLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held == nil {
		return nil
	}
	err := l.held.Release(ctx)
	l.held = nil
	if err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}

// LocalLock serializes cycles inside one process. Used when no Redis
// address is configured.
type LocalLock struct {
	mu sync.Mutex
}

func (l *LocalLock) Acquire(context.Context) (bool, error) {
	return l.mu.TryLock(), nil
}

func (l *LocalLock) Release(context.Context) error {
	l.mu.Unlock()
	return nil
}
