package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

const retryDelay = 100 * time.Millisecond

// RedisManager implements Manager on top of Redis using redsync mutexes.
// The lease maps to the mutex expiry, so a holder that crashes before
// releasing frees the resource once the lease runs out.
type RedisManager struct {
	rs *redsync.Redsync
}

// NewRedisManager builds a cluster-wide lock manager from a Redis client.
func NewRedisManager(client *redis.Client) *RedisManager {
	return &RedisManager{rs: redsync.New(goredis.NewPool(client))}
}

// Acquire obtains the lock for key, retrying every 100ms until the lease
// duration has elapsed. Contention past that window surfaces as
// ErrAcquireTimeout.
func (m *RedisManager) Acquire(ctx context.Context, key string, lease time.Duration) (Lock, error) {
	if lease <= 0 {
		lease = DefaultLease
	}

	tries := int(lease / retryDelay)
	if tries < 1 {
		tries = 1
	}

	mutex := m.rs.NewMutex(key,
		redsync.WithExpiry(lease),
		redsync.WithTries(tries),
		redsync.WithRetryDelay(retryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		// Contention surfaces as ErrTaken when the holder is known and
		// ErrFailed when the retry budget ran out; both mean the lease
		// window elapsed without the lock.
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, fmt.Errorf("acquire %s: %w", key, ErrAcquireTimeout)
		}
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}

	return &redisLock{mutex: mutex}, nil
}

type redisLock struct {
	mutex *redsync.Mutex
}

func (l *redisLock) Release(ctx context.Context) error {
	ok, err := l.mutex.UnlockContext(ctx)
	if err != nil {
		return fmt.Errorf("release %s: %w", l.mutex.Name(), err)
	}
	if !ok {
		return ErrNotHeld
	}
	return nil
}
