package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimiter_CapsConcurrency(t *testing.T) {
	const slots = 3
	const workers = 20

	l := New(slots)

	var current, peak int64
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Do(context.Background(), func() error {
				n := atomic.AddInt64(&current, 1)
				for {
					p := atomic.LoadInt64(&peak)
					if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt64(&current, -1)
				return nil
			})
			if err != nil {
				t.Errorf("Do returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&peak); got > slots {
		t.Errorf("peak concurrency = %d, want <= %d", got, slots)
	}
}

func TestLimiter_FIFOOrder(t *testing.T) {
	l := New(1)

	// Hold the only slot so subsequent acquires queue up.
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	const waiters = 5
	order := make(chan int, waiters)
	queued := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			<-queued
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			order <- id
			l.Release()
		}(i)
		// Release one goroutine at a time so arrival order is deterministic.
		queued <- struct{}{}
		waitForWaiters(t, l, i+1)
	}

	l.Release()
	wg.Wait()
	close(order)

	want := 0
	for id := range order {
		if id != want {
			t.Fatalf("waiter %d acquired before waiter %d", id, want)
		}
		want++
	}
}

func TestLimiter_AcquireHonorsContext(t *testing.T) {
	l := New(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := l.Acquire(ctx); err != context.DeadlineExceeded {
		t.Errorf("Acquire = %v, want context.DeadlineExceeded", err)
	}

	// The abandoned waiter must not leak a slot.
	l.Release()
	if err := l.Acquire(context.Background()); err != nil {
		t.Errorf("Acquire after release failed: %v", err)
	}
	l.Release()
}

func TestLimiter_DoPropagatesError(t *testing.T) {
	l := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer l.Release()

	called := false
	err := l.Do(ctx, func() error {
		called = true
		return nil
	})
	if err != context.Canceled {
		t.Errorf("Do = %v, want context.Canceled", err)
	}
	if called {
		t.Error("fn ran despite failed acquire")
	}
}

// waitForWaiters polls until n goroutines are queued on the limiter.
func waitForWaiters(t *testing.T, l *Limiter, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		l.mu.Lock()
		queued := len(l.waiters)
		l.mu.Unlock()
		if queued >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d queued waiters", n)
}
