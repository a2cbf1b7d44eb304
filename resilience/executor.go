package resilience

import (
	"context"
	"sync"
	"time"
)

// Hooks observe the stages of a call through an Executor. All fields are
// optional and must be safe for concurrent use.
type Hooks struct {
	// OnReject is called when the circuit breaker sheds a call.
	OnReject func(ctx context.Context, kind string, err error)

	// OnWait is called after a permit ("permit") or token ("token") was
	// obtained, with the time spent waiting.
	OnWait func(ctx context.Context, kind, stage string, waited time.Duration)

	// OnAttempt is called after each invocation of the operation.
	OnAttempt func(ctx context.Context, kind string, attempt CallAttempt)

	// OnRetry is called before each backoff wait.
	OnRetry func(ctx context.Context, kind string, attempt int, err error, delay time.Duration)

	// OnFailure is called when a call fails after the retry policy gave up.
	OnFailure func(ctx context.Context, err *OperationError)
}

// Executor composes circuit breaking, concurrency limiting, rate limiting,
// retry and per-attempt timeouts around a single operation.
type Executor struct {
	circuitBreaker *CircuitBreaker
	retry          *Retry
	rateLimiter    *RateLimiter
	bulkhead       *Bulkhead
	timeout        *Timeout
	hooks          Hooks
	clock          Clock
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates a new resilience executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{clock: SystemClock{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithCircuitBreaker adds a circuit breaker to the executor.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) {
		e.circuitBreaker = cb
	}
}

// WithRetry adds retry logic to the executor.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) {
		e.retry = r
	}
}

// WithRateLimiter adds rate limiting to the executor.
func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) {
		e.rateLimiter = rl
	}
}

// WithBulkhead adds bulkhead isolation to the executor.
func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) {
		e.bulkhead = b
	}
}

// WithTimeout adds a per-attempt timeout to the executor.
func WithTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = NewTimeout(TimeoutConfig{Timeout: timeout})
	}
}

// WithTimeoutConfig adds timeout with custom config to the executor.
func WithTimeoutConfig(t *Timeout) ExecutorOption {
	return func(e *Executor) {
		e.timeout = t
	}
}

// WithHooks installs observers for call stages.
func WithHooks(h Hooks) ExecutorOption {
	return func(e *Executor) {
		e.hooks = h
	}
}

// WithClock sets the clock used to measure admission waits.
func WithClock(c Clock) ExecutorOption {
	return func(e *Executor) {
		e.clock = clockOrDefault(c)
	}
}

// Execute runs the operation through all configured resilience patterns.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	return e.ExecuteKind(ctx, "", op)
}

// ExecuteKind runs the operation through all configured resilience patterns.
// kind labels the operation in hooks and errors only.
//
// The execution order is:
//  1. Circuit Breaker - rejects immediately while open, before any token or
//     permit is taken
//  2. Retry - wraps each attempt below; nothing is held across backoff
//  3. Bulkhead - acquires a concurrency permit for the attempt
//  4. Rate Limiter - consumes a token for the attempt
//  5. Timeout - bounds the attempt
//
// Failures are returned as *OperationError. Breaker rejections, admission
// timeouts and cancellation are returned as-is and never retried.
func (e *Executor) ExecuteKind(ctx context.Context, kind string, op func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return waitError(err, ErrCancelled)
	}

	var admission Admission
	if e.circuitBreaker != nil {
		a, err := e.circuitBreaker.Allow()
		if err != nil {
			if e.hooks.OnReject != nil {
				e.hooks.OnReject(ctx, kind, err)
			}
			return err
		}
		admission = a
	}

	attempt := func(ctx context.Context, _ int) error {
		return e.attempt(ctx, kind, op)
	}

	var (
		attempts int
		err      error
	)
	if e.retry != nil {
		attempts, err = e.retry.do(ctx, attempt, e.retryHooks(ctx, kind))
	} else {
		err = attempt(ctx, 1)
		if err == nil || !isAdmissionError(err) {
			attempts = 1
			if e.hooks.OnAttempt != nil {
				e.hooks.OnAttempt(ctx, kind, CallAttempt{Number: 1, Err: err})
			}
		}
	}

	if err == nil {
		if e.circuitBreaker != nil {
			e.circuitBreaker.Success(admission)
		}
		return nil
	}

	if isAdmissionError(err) {
		if e.circuitBreaker != nil {
			e.circuitBreaker.Abandon(admission)
		}
		return err
	}

	if e.circuitBreaker != nil {
		e.circuitBreaker.Done(admission, err)
	}

	opErr := &OperationError{Kind: kind, Attempts: attempts, Err: err}
	if e.hooks.OnFailure != nil {
		e.hooks.OnFailure(ctx, opErr)
	}
	return opErr
}

func (e *Executor) attempt(ctx context.Context, kind string, op func(context.Context) error) error {
	release := func() {}
	if e.bulkhead != nil {
		start := e.clock.Now()
		if err := e.bulkhead.Acquire(ctx); err != nil {
			return err
		}
		var once sync.Once
		release = func() { once.Do(e.bulkhead.Release) }
		e.observeWait(ctx, kind, "permit", start)
	}

	started := false
	defer func() {
		if !started {
			release()
		}
	}()

	if e.rateLimiter != nil {
		start := e.clock.Now()
		if err := e.rateLimiter.Wait(ctx); err != nil {
			return err
		}
		e.observeWait(ctx, kind, "token", start)
	}

	// The permit is held until op returns, even after the timeout or the
	// caller has abandoned the attempt.
	started = true
	run := func(ctx context.Context) error {
		defer release()
		return op(ctx)
	}

	var err error
	if e.timeout != nil {
		err = e.timeout.Execute(ctx, run)
	} else {
		err = run(ctx)
	}

	// The caller gave up while the operation was running
	if err != nil && !isAdmissionError(err) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return waitError(ctxErr, ErrCancelled)
		}
	}
	return err
}

func (e *Executor) observeWait(ctx context.Context, kind, stage string, start time.Time) {
	if e.hooks.OnWait != nil {
		e.hooks.OnWait(ctx, kind, stage, e.clock.Now().Sub(start))
	}
}

func (e *Executor) retryHooks(ctx context.Context, kind string) retryHooks {
	var h retryHooks
	if e.hooks.OnAttempt != nil {
		h.onAttempt = func(a CallAttempt) { e.hooks.OnAttempt(ctx, kind, a) }
	}
	if e.hooks.OnRetry != nil {
		h.onRetry = func(attempt int, err error, delay time.Duration) {
			e.hooks.OnRetry(ctx, kind, attempt, err, delay)
		}
	}
	return h
}

// CircuitBreaker returns the configured circuit breaker, or nil.
func (e *Executor) CircuitBreaker() *CircuitBreaker { return e.circuitBreaker }

// RateLimiter returns the configured rate limiter, or nil.
func (e *Executor) RateLimiter() *RateLimiter { return e.rateLimiter }

// Bulkhead returns the configured bulkhead, or nil.
func (e *Executor) Bulkhead() *Bulkhead { return e.bulkhead }

// Retry returns the configured retry policy, or nil.
func (e *Executor) Retry() *Retry { return e.retry }
