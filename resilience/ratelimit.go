package resilience

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// RequestsPerInterval is the number of tokens refilled per Interval.
	// Default: 100
	RequestsPerInterval int

	// Interval is the refill window for RequestsPerInterval.
	// Default: 1 second
	Interval time.Duration

	// Burst is the bucket capacity. A capacity of 1 keeps every window of
	// length Interval at or below RequestsPerInterval (plus one at the
	// boundary).
	// Default: 1
	Burst int

	// MaxWait bounds how long Wait may block, independent of the caller's
	// context.
	// Default: 0 (wait until the context ends)
	MaxWait time.Duration

	// Clock is the time source.
	// Default: SystemClock
	Clock Clock
}

// RateLimiter implements a token bucket rate limiter.
//
// Tokens refill continuously at RequestsPerInterval/Interval and are capped at
// Burst. Every admitted call consumes one token.
type RateLimiter struct {
	config RateLimiterConfig
	clock  Clock
	lim    atomic.Pointer[rate.Limiter]
}

// NewRateLimiter creates a new rate limiter with a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	// Apply defaults
	if config.RequestsPerInterval <= 0 {
		config.RequestsPerInterval = 100
	}
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}

	rl := &RateLimiter{
		config: config,
		clock:  clockOrDefault(config.Clock),
	}
	rl.lim.Store(rl.newLimiter())
	return rl
}

func (rl *RateLimiter) newLimiter() *rate.Limiter {
	perSecond := float64(rl.config.RequestsPerInterval) / rl.config.Interval.Seconds()
	return rate.NewLimiter(rate.Limit(perSecond), rl.config.Burst)
}

// Allow consumes a token if one is available without blocking.
func (rl *RateLimiter) Allow() bool {
	return rl.lim.Load().AllowN(rl.clock.Now(), 1)
}

// Wait blocks until a token is consumed or ctx ends.
//
// On deadline expiry it returns ErrRateLimitTimeout. On cancellation it
// returns ErrCancelled. In both cases the reserved token is handed back.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return waitError(err, ErrRateLimitTimeout)
	}

	lim := rl.lim.Load()
	now := rl.clock.Now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return fmt.Errorf("%w: burst %d cannot satisfy request", ErrRateLimitTimeout, rl.config.Burst)
	}

	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}

	if rl.config.MaxWait > 0 && delay > rl.config.MaxWait {
		r.CancelAt(now)
		return fmt.Errorf("%w: need %v, max wait %v", ErrRateLimitTimeout, delay, rl.config.MaxWait)
	}

	select {
	case <-rl.clock.After(delay):
		return nil
	case <-ctx.Done():
		r.CancelAt(rl.clock.Now())
		return waitError(ctx.Err(), ErrRateLimitTimeout)
	}
}

// Execute waits for a token and runs the operation.
func (rl *RateLimiter) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := rl.Wait(ctx); err != nil {
		return err
	}
	return op(ctx)
}

// Tokens returns the number of tokens currently available, in [0, Burst].
func (rl *RateLimiter) Tokens() float64 {
	tokens := rl.lim.Load().TokensAt(rl.clock.Now())
	if tokens < 0 {
		return 0
	}
	return tokens
}

// Reset refills the bucket to capacity.
func (rl *RateLimiter) Reset() {
	rl.lim.Store(rl.newLimiter())
}

// Config returns the effective configuration.
func (rl *RateLimiter) Config() RateLimiterConfig {
	return rl.config
}
