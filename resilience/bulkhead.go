package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// BulkheadConfig configures the bulkhead.
type BulkheadConfig struct {
	// MaxConcurrent is the maximum number of concurrent operations.
	// Default: 10
	MaxConcurrent int

	// MaxWait is the maximum time to wait for a slot.
	// Default: 0 (wait until the context ends)
	MaxWait time.Duration
}

// Bulkhead limits concurrent operations.
type Bulkhead struct {
	config BulkheadConfig
	sem    *semaphore.Weighted

	mu        sync.Mutex
	active    int
	maxActive int
	rejected  int64
}

// NewBulkhead creates a new bulkhead.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	// Apply defaults
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	return &Bulkhead{
		config: config,
		sem:    semaphore.NewWeighted(int64(config.MaxConcurrent)),
	}
}

// Acquire blocks until a slot is free or ctx ends.
//
// On deadline expiry (the caller's or MaxWait) it returns
// ErrConcurrencyTimeout. On cancellation it returns ErrCancelled. No slot is
// held when an error is returned.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return waitError(err, ErrConcurrencyTimeout)
	}

	// Fast path: try non-blocking acquire
	if b.sem.TryAcquire(1) {
		b.acquired()
		return nil
	}

	waitCtx := ctx
	if b.config.MaxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, b.config.MaxWait)
		defer cancel()
	}

	if err := b.sem.Acquire(waitCtx, 1); err != nil {
		b.mu.Lock()
		b.rejected++
		b.mu.Unlock()

		if parentErr := ctx.Err(); parentErr != nil {
			return waitError(parentErr, ErrConcurrencyTimeout)
		}
		// Only MaxWait expired
		return waitError(err, ErrConcurrencyTimeout)
	}

	b.acquired()
	return nil
}

// TryAcquire acquires a slot only if one is immediately available.
func (b *Bulkhead) TryAcquire() bool {
	if !b.sem.TryAcquire(1) {
		b.mu.Lock()
		b.rejected++
		b.mu.Unlock()
		return false
	}
	b.acquired()
	return true
}

func (b *Bulkhead) acquired() {
	b.mu.Lock()
	b.active++
	if b.active > b.maxActive {
		b.maxActive = b.active
	}
	b.mu.Unlock()
}

// Release releases a slot in the bulkhead.
func (b *Bulkhead) Release() {
	b.mu.Lock()
	if b.active == 0 {
		// Nothing held; releasing would panic the semaphore
		b.mu.Unlock()
		return
	}
	b.active--
	b.mu.Unlock()
	b.sem.Release(1)
}

// Execute runs the operation within the bulkhead.
func (b *Bulkhead) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()

	return op(ctx)
}

// Metrics returns current bulkhead metrics.
func (b *Bulkhead) Metrics() BulkheadMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BulkheadMetrics{
		Active:        b.active,
		MaxActive:     b.maxActive,
		Available:     b.config.MaxConcurrent - b.active,
		MaxConcurrent: b.config.MaxConcurrent,
		Rejected:      b.rejected,
	}
}

// BulkheadMetrics contains bulkhead statistics.
type BulkheadMetrics struct {
	Active        int
	MaxActive     int
	Available     int
	MaxConcurrent int
	Rejected      int64
}
