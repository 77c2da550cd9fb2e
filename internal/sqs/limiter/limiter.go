// Package limiter bounds the number of in-flight processing tasks for one
// listener and exposes its occupancy to the backpressure controller.
package limiter

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter is a fixed-capacity permit pool. One permit corresponds to one
// message, or to one whole batch for batch-mode listeners.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int64
	held     atomic.Int64
}

func New(capacity int) (*Limiter, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("limiter capacity must be >= 1, got %d", capacity)
	}

	return &Limiter{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}, nil
}

// Acquire blocks until a permit is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire permit: %w", err)
	}
	l.held.Add(1)

	return nil
}

// Release returns a permit. Must be called exactly once per successful
// Acquire, on every completion path.
func (l *Limiter) Release() {
	l.held.Add(-1)
	l.sem.Release(1)
}

// Submit acquires a permit, then runs task on its own goroutine. The permit
// is released when task returns, including on a panic inside user code.
func (l *Limiter) Submit(ctx context.Context, task func()) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}

	go func() {
		defer l.Release()
		task()
	}()

	return nil
}

// InFlight is the number of permits currently held.
func (l *Limiter) InFlight() int {
	return int(l.held.Load())
}

// Free is the number of permits currently available.
func (l *Limiter) Free() int {
	free := l.capacity - l.held.Load()
	if free < 0 {
		free = 0
	}

	return int(free)
}

// Capacity is the configured permit count.
func (l *Limiter) Capacity() int {
	return int(l.capacity)
}
