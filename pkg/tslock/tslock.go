// Package tslock reserves collision-free creation timestamps within a
// thread scope. Contention moves the timestamp forward one millisecond per
// occupied slot; a lock-service outage degrades to best-effort assignment
// instead of blocking message creation.
package tslock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"threadbox/pkg/lock"
	"threadbox/pkg/logger"
)

const (
	// DefaultTTL bounds how long a reserved slot stays held if the writer
	// dies before releasing it.
	DefaultTTL = time.Second
	// DefaultMaxRetries caps the linear probe before the reserver gives up
	// and falls back to unsynchronized assignment.
	DefaultMaxRetries = 64
)

// Reserver hands out creation timestamps unique within a scope.
type Reserver struct {
	locker     lock.Locker
	ttl        time.Duration
	maxRetries int
}

// Option configures a Reserver.
type Option func(*Reserver)

// WithTTL overrides the lock TTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Reserver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithMaxRetries overrides the probe bound.
func WithMaxRetries(n int) Option {
	return func(r *Reserver) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

// New builds a Reserver over the given lock client.
func New(locker lock.Locker, opts ...Option) *Reserver {
	r := &Reserver{locker: locker, ttl: DefaultTTL, maxRetries: DefaultMaxRetries}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Reserve returns a timestamp no earlier than proposed that no concurrent
// writer in the same scope holds, plus a release callback the caller fires
// once the timestamp is durably recorded. Release is fire-and-forget.
//
// Reserve never fails: when the lock service is unreachable or the probe
// bound is exhausted, it returns the current candidate unreserved and a
// no-op release. That window is the documented unsynchronized-assignment
// fallback; the next sibling self-heals by taking a higher timestamp.
func (r *Reserver) Reserve(ctx context.Context, scope string, proposed int64) (int64, func()) {
	ts := proposed
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		key := fmt.Sprintf("%s:%d", scope, ts)
		token, err := r.locker.Acquire(ctx, key, r.ttl)
		if err == nil {
			release := func() {
				rctx, cancel := context.WithTimeout(context.Background(), r.ttl)
				defer cancel()
				if rerr := r.locker.Release(rctx, key, token); rerr != nil {
					logger.Debug("tslock_release_failed", "key", key, "error", rerr)
				}
			}
			return ts, release
		}
		if errors.Is(err, lock.ErrHeld) {
			// slot taken by a concurrent writer; probe the next millisecond
			ts++
			continue
		}
		logger.Warn("tslock_service_unavailable", "scope", scope, "ts", ts, "error", err)
		return ts, func() {}
	}
	logger.Warn("tslock_exhausted", "scope", scope, "proposed", proposed, "retries", r.maxRetries)
	return ts, func() {}
}
