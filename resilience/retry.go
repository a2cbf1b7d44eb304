package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// BackoffStrategy defines how delays increase between retries.
type BackoffStrategy int

const (
	// BackoffExponential multiplies the delay by Multiplier each retry.
	BackoffExponential BackoffStrategy = iota
	// BackoffLinear increases delay linearly.
	BackoffLinear
	// BackoffConstant uses the same delay for all retries.
	BackoffConstant
)

// CallAttempt records one invocation of an operation.
type CallAttempt struct {
	// Number is the 1-based attempt number.
	Number int

	// Wait is the backoff that preceded this attempt (zero for the first).
	Wait time.Duration

	// Err is the outcome; nil means success.
	Err error
}

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero disables retries.
	MaxRetries int

	// BaseBackoff is the delay before the first retry.
	// Default: 100ms
	BaseBackoff time.Duration

	// MaxBackoff caps the delay between retries.
	// Default: 30s
	MaxBackoff time.Duration

	// Multiplier is the backoff multiplier for exponential backoff.
	// Default: 2.0
	Multiplier float64

	// Strategy is the backoff strategy.
	// Default: BackoffExponential
	Strategy BackoffStrategy

	// Jitter adds up to 25% randomness to delays. Delays stay
	// non-decreasing and never exceed MaxBackoff.
	// Default: false
	Jitter bool

	// RetryIf determines if an error should trigger a retry. Errors wrapped
	// with Permanent are never retried.
	// Default: all non-nil errors trigger retry.
	RetryIf func(err error) bool

	// OnRetry is called before each backoff wait.
	OnRetry func(attempt int, err error, delay time.Duration)

	// OnAttempt is called after each invocation.
	OnAttempt func(CallAttempt)

	// Clock is the time source for backoff waits.
	// Default: SystemClock
	Clock Clock
}

// Retry implements retry with backoff.
type Retry struct {
	config RetryConfig
	clock  Clock
}

// NewRetry creates a new retry handler.
func NewRetry(config RetryConfig) *Retry {
	// Apply defaults
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = 100 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.MaxBackoff < config.BaseBackoff {
		config.MaxBackoff = config.BaseBackoff
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.RetryIf == nil {
		config.RetryIf = func(err error) bool { return err != nil }
	}

	return &Retry{config: config, clock: clockOrDefault(config.Clock)}
}

// retryHooks are per-call observers layered on top of the configured ones.
type retryHooks struct {
	onAttempt func(CallAttempt)
	onRetry   func(attempt int, err error, delay time.Duration)
}

// Execute runs the operation with retry logic.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	_, err := r.Do(ctx, func(ctx context.Context, _ int) error {
		return op(ctx)
	})
	return err
}

// Do runs op until it succeeds, fails permanently, or MaxRetries is
// exhausted. It returns the number of invocations and the last error.
//
// Admission errors (circuit open, rate-limit or concurrency timeouts,
// cancellation) end the loop at once and are not counted as attempts.
func (r *Retry) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) (int, error) {
	return r.do(ctx, op, retryHooks{})
}

func (r *Retry) do(ctx context.Context, op func(ctx context.Context, attempt int) error, hooks retryHooks) (int, error) {
	var (
		attempts int
		wait     time.Duration
		prev     time.Duration
	)

	for n := 1; ; n++ {
		err := op(ctx, n)
		if err != nil && isAdmissionError(err) {
			return attempts, err
		}

		attempts++
		record := CallAttempt{Number: n, Wait: wait, Err: err}
		if r.config.OnAttempt != nil {
			r.config.OnAttempt(record)
		}
		if hooks.onAttempt != nil {
			hooks.onAttempt(record)
		}

		if err == nil {
			return attempts, nil
		}

		// Check if we should retry
		if IsPermanent(err) || !r.config.RetryIf(err) {
			return attempts, err
		}

		// Don't retry if this was the last attempt
		if n > r.config.MaxRetries {
			return attempts, err
		}

		delay := r.nextDelay(n, prev)
		prev = delay

		if r.config.OnRetry != nil {
			r.config.OnRetry(n, err, delay)
		}
		if hooks.onRetry != nil {
			hooks.onRetry(n, err, delay)
		}

		// Wait for delay or context cancellation
		select {
		case <-ctx.Done():
			return attempts, waitError(ctx.Err(), ErrCancelled)
		case <-r.clock.After(delay):
		}
		wait = delay
	}
}

// Backoff returns the un-jittered delay before the given retry (1-based),
// capped at MaxBackoff.
func (r *Retry) Backoff(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}

	var delay float64
	base := float64(r.config.BaseBackoff)

	switch r.config.Strategy {
	case BackoffConstant:
		delay = base
	case BackoffLinear:
		delay = base * float64(retry)
	default:
		delay = base * math.Pow(r.config.Multiplier, float64(retry-1))
	}

	// Cap at max delay; also guards float overflow
	if delay >= float64(r.config.MaxBackoff) || math.IsInf(delay, 0) || math.IsNaN(delay) {
		return r.config.MaxBackoff
	}
	return time.Duration(delay)
}

func (r *Retry) nextDelay(retry int, prev time.Duration) time.Duration {
	delay := r.Backoff(retry)

	// Add jitter if enabled
	if r.config.Jitter && delay >= 4 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		delay += time.Duration(rand.Int64N(int64(delay / 4)))
	}

	delay = min(delay, r.config.MaxBackoff)
	return max(delay, prev)
}

// Config returns the retry configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}
