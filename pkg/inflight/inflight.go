// Package inflight tracks asynchronous work started by the engine so a
// shutting-down process can wait for it to drain. It replaces ambient
// global counters with an explicit object handed to each component.
package inflight

import (
	"context"
	"sync"
)

// Tracker counts operations in flight and lets callers wait for idle.
// The zero value is not usable; call New.
type Tracker struct {
	mu      sync.Mutex
	n       int64
	waiters []chan struct{}
}

// New returns an idle Tracker.
func New() *Tracker {
	return &Tracker{}
}

// Add records the start of one operation.
func (t *Tracker) Add() {
	t.mu.Lock()
	t.n++
	t.mu.Unlock()
}

// Done records the end of one operation; when the count reaches zero all
// pending AwaitIdle calls are released.
func (t *Tracker) Done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 {
		panic("inflight: Done without matching Add")
	}
	t.n--
	if t.n == 0 {
		for _, w := range t.waiters {
			close(w)
		}
		t.waiters = nil
	}
}

// InFlight returns the current count.
func (t *Tracker) InFlight() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

// AwaitIdle blocks until the count reaches zero or ctx is done.
func (t *Tracker) AwaitIdle(ctx context.Context) error {
	t.mu.Lock()
	if t.n == 0 {
		t.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	t.waiters = append(t.waiters, w)
	t.mu.Unlock()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go runs fn in a goroutine tracked by t.
func (t *Tracker) Go(fn func()) {
	t.Add()
	go func() {
		defer t.Done()
		fn()
	}()
}
