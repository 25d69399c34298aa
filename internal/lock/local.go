package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const pollInterval = 5 * time.Millisecond

// LocalManager is a single-process Manager with the same lease semantics as
// the Redis implementation. It backs unit tests and dev mode without Redis.
type LocalManager struct {
	mu    sync.Mutex
	holds map[string]localHold
}

type localHold struct {
	token   string
	expires time.Time
}

// NewLocalManager builds an in-process lock manager.
func NewLocalManager() *LocalManager {
	return &LocalManager{holds: make(map[string]localHold)}
}

// Acquire polls for the key until it is free or its current lease has
// expired, giving up with ErrAcquireTimeout once the lease duration elapses.
func (m *LocalManager) Acquire(ctx context.Context, key string, lease time.Duration) (Lock, error) {
	if lease <= 0 {
		lease = DefaultLease
	}

	deadline := time.Now().Add(lease)
	token := uuid.NewString()

	for {
		if m.tryGrab(key, token, lease) {
			return &localLock{manager: m, key: key, token: token}, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrAcquireTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (m *LocalManager) tryGrab(key, token string, lease time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hold, exists := m.holds[key]; exists && time.Now().Before(hold.expires) {
		return false
	}

	m.holds[key] = localHold{token: token, expires: time.Now().Add(lease)}
	return true
}

func (m *LocalManager) release(key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hold, exists := m.holds[key]
	if !exists || hold.token != token {
		return ErrNotHeld
	}

	delete(m.holds, key)
	return nil
}

type localLock struct {
	manager *LocalManager
	key     string
	token   string
}

func (l *localLock) Release(_ context.Context) error {
	return l.manager.release(l.key, l.token)
}
