// Package lock provides lease-based mutual exclusion keyed by resource id.
// Wallet and transaction mutations in the ledger are serialized through it.
package lock

import (
	"context"
	"errors"
	"time"
)

// DefaultLease bounds how long a crashed holder can keep a resource locked.
const DefaultLease = 10 * time.Second

var (
	// ErrAcquireTimeout indicates the lock could not be obtained within the
	// lease duration. The operation was not applied and may be retried.
	ErrAcquireTimeout = errors.New("lock acquire timeout")

	// ErrNotHeld indicates a release of a lock that expired or was never held.
	ErrNotHeld = errors.New("lock not held")
)

// Lock is a held lease on a single resource key.
type Lock interface {
	// Release frees the resource. Safe to call exactly once per acquisition;
	// releasing an expired lease returns ErrNotHeld.
	Release(ctx context.Context) error
}

// Manager grants exclusive, non-reentrant locks keyed by resource id.
// Acquire blocks up to the lease duration waiting for availability and then
// fails with ErrAcquireTimeout. The lease auto-expires so a crashed holder
// never blocks other callers indefinitely.
type Manager interface {
	Acquire(ctx context.Context, key string, lease time.Duration) (Lock, error)
}
