// Package locking provides a distributed mutex so that only one worker
// runs the nightly sweep at a time.
package locking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired indicates another holder owns the lock.
var ErrNotAcquired = errors.New("lock not acquired")

// releaseScript deletes the key only when this process still holds it.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// RedisLock is a single-key SET NX lock with a TTL.
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

// NewRedisLock builds a lock around the given key. The TTL bounds how
// long a crashed holder can block others.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{
		client: client,
		key:    key,
		ttl:    ttl,
	}
}

// Acquire attempts to take the lock. Returns ErrNotAcquired when another
// holder owns it.
func (l *RedisLock) Acquire(ctx context.Context) error {
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return ErrNotAcquired
	}

	l.token = token
	return nil
}

// Release frees the lock if this instance still holds it. Releasing a
// lock that expired or was taken over is not an error.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}

	if err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}

	l.token = ""
	return nil
}

// NoopLock always acquires, used for single-process deployments without
// Redis.
type NoopLock struct{}

func (NoopLock) Acquire(context.Context) error { return nil }
func (NoopLock) Release(context.Context) error { return nil }

// Lock is the interface the sweep scheduler depends on.
type Lock interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}
