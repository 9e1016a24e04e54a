// Package lock provides the distributed lock client used to reserve
// message creation timestamps across writers.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrHeld is returned by Acquire when another holder owns the key.
var ErrHeld = errors.New("lock already held")

// Locker acquires and releases short-lived named locks. Release is
// best-effort: locks expire on their own when a holder dies.
type Locker interface {
	// Acquire takes the lock for key and returns an opaque holder token.
	// Returns ErrHeld when the key is owned by someone else; any other
	// error means the lock service itself failed.
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Release gives up the lock identified by key if token still owns it.
	Release(ctx context.Context, key, token string) error
}
