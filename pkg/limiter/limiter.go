// Package limiter provides a FIFO concurrency limiter for query execution.
// Unlike a buffered-channel semaphore, waiters are granted slots strictly in
// arrival order, so a burst of queries cannot starve the earliest caller.
package limiter

import (
	"context"
	"sync"
)

// DefaultConcurrency is the slot count used when a configuration does not
// specify one.
const DefaultConcurrency = 8

// Limiter is a counting semaphore with FIFO handoff. A released slot passes
// directly to the oldest waiter rather than returning to the free pool.
type Limiter struct {
	mu      sync.Mutex
	free    int
	waiters []chan struct{}
}

// New returns a limiter with n slots. Non-positive n falls back to
// DefaultConcurrency.
func New(n int) *Limiter {
	if n <= 0 {
		n = DefaultConcurrency
	}
	return &Limiter{free: n}
}

// Acquire blocks until a slot is available or ctx is done. On success the
// caller must Release exactly once.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.free > 0 && len(l.waiters) == 0 {
		l.free--
		l.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	l.waiters = append(l.waiters, ready)
	l.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == ready {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// The slot was already handed to us; give it back so it is not lost.
		l.Release()
		return ctx.Err()
	}
}

// Release returns a slot, handing it to the oldest waiter if any.
func (l *Limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.waiters) > 0 {
		ready := l.waiters[0]
		l.waiters = l.waiters[1:]
		close(ready)
		return
	}
	l.free++
}

// Do acquires a slot, runs fn, and releases the slot. fn runs only when the
// acquire succeeds.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}
