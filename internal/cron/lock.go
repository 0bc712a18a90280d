package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"

	"github.com/angelmondragon/safetransit/pkg/redis"
)

const defaultLockTTL = 10 * time.Minute

// Lock coordinates exclusive runs of a named task across instances.
type Lock interface {
	Acquire(ctx context.Context, name string) (bool, error)
	Release(ctx context.Context, name string) error
}

// RedisLock implements Lock with one redsync mutex per task. Acquire makes a
// single attempt so a task already running on another instance is skipped
// rather than queued.
type RedisLock struct {
	client *redis.Client
	rs     *redsync.Redsync
	ttl    time.Duration

	mu      sync.Mutex
	mutexes map[string]*redsync.Mutex
}

// NewRedisLock constructs a Redis-backed lock.
func NewRedisLock(client *redis.Client, ttl time.Duration) (*RedisLock, error) {
	if client == nil || client.Universal() == nil {
		return nil, errors.New("redis client required for lock")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{
		client:  client,
		rs:      redsync.New(goredis.NewPool(client.Universal())),
		ttl:     ttl,
		mutexes: make(map[string]*redsync.Mutex),
	}, nil
}

// Acquire tries once to own the task lock for the configured TTL.
func (l *RedisLock) Acquire(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, errors.New("lock name is required")
	}
	mutex := l.rs.NewMutex(l.client.LockKey("scheduler", name), redsync.WithExpiry(l.ttl), redsync.WithTries(1))
	if err := mutex.LockContext(ctx); err != nil {
		if lockContended(err) {
			return false, nil
		}
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	l.mu.Lock()
	l.mutexes[name] = mutex
	l.mu.Unlock()
	return true, nil
}

// Release frees the lock only if this instance still owns it. A lock that
// expired and was taken over by another instance is left alone.
func (l *RedisLock) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	mutex := l.mutexes[name]
	delete(l.mutexes, name)
	l.mu.Unlock()
	if mutex == nil {
		return nil
	}
	if _, err := mutex.UnlockContext(ctx); err != nil && !lockLost(err) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

func lockContended(err error) bool {
	var taken *redsync.ErrTaken
	return errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) ||
		strings.Contains(err.Error(), "lock already taken")
}

func lockLost(err error) bool {
	var taken *redsync.ErrTaken
	return errors.Is(err, redsync.ErrLockAlreadyExpired) || errors.As(err, &taken) ||
		strings.Contains(err.Error(), "already expired") || strings.Contains(err.Error(), "lock already taken")
}

// LocalLock is the single-instance Lock used when Redis is not configured.
type LocalLock struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(map[string]bool)}
}

func (l *LocalLock) Acquire(ctx context.Context, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return false, nil
	}
	l.held[name] = true
	return true, nil
}

func (l *LocalLock) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	delete(l.held, name)
	l.mu.Unlock()
	return nil
}
