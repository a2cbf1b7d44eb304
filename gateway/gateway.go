package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonwraymond/callgate/observe"
	"github.com/jonwraymond/callgate/resilience"
)

// Operation is a unit of remote work submitted to a Gateway.
type Operation struct {
	// Kind labels the call in logs, metrics and traces. It does not select a
	// separate rate pool.
	Kind string

	// Call performs the remote request. It must honor ctx.
	Call func(ctx context.Context) (any, error)
}

// Option configures a Gateway.
type Option func(*options)

type options struct {
	observer   observe.Observer
	middleware *observe.Middleware
	clock      resilience.Clock
	retryIf    func(error) bool
	isFailure  func(error) bool
}

// WithObserver instruments the gateway with the observer's tracer, meter and
// logger.
func WithObserver(obs observe.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithMiddleware instruments the gateway with a prebuilt middleware. It takes
// precedence over WithObserver.
func WithMiddleware(mw *observe.Middleware) Option {
	return func(o *options) { o.middleware = mw }
}

// WithClock sets the time source for the breaker, limiter and backoff.
func WithClock(c resilience.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithRetryIf restricts which operation errors are retried. Errors wrapped
// with resilience.Permanent are never retried.
func WithRetryIf(fn func(error) bool) Option {
	return func(o *options) { o.retryIf = fn }
}

// WithIsFailure restricts which operation errors count against the breaker.
func WithIsFailure(fn func(error) bool) Option {
	return func(o *options) { o.isFailure = fn }
}

// Gateway is a rate-limited, fault-tolerant front for one remote dependency.
// It is safe for concurrent use.
type Gateway struct {
	name     string
	cfg      Config
	breaker  *resilience.CircuitBreaker
	limiter  *resilience.RateLimiter
	bulkhead *resilience.Bulkhead
	exec     *resilience.Executor

	mw      *observe.Middleware
	metrics observe.Metrics
	logger  observe.Logger
}

// New builds an independent gateway. Zero-valued fields of cfg take their
// defaults from DefaultConfig only when cfg is the zero Config; otherwise cfg
// must pass Validate.
func New(name string, cfg Config, opts ...Option) (*Gateway, error) {
	if name == "" {
		return nil, ErrMissingName
	}
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("gateway %q: %w", name, err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	mw := o.middleware
	if mw == nil && o.observer != nil {
		var err error
		mw, err = observe.MiddlewareFromObserver(o.observer)
		if err != nil {
			return nil, fmt.Errorf("gateway %q: %w", name, err)
		}
	}
	if mw == nil {
		mw = observe.NewNoopMiddleware()
	}

	g := &Gateway{
		name:    name,
		cfg:     cfg,
		mw:      mw,
		metrics: mw.Metrics(),
		logger:  mw.Logger().WithCall(observe.CallMeta{Gateway: name}),
	}

	g.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout,
		IsFailure:        o.isFailure,
		OnStateChange:    g.onStateChange,
		Clock:            o.clock,
	})
	g.limiter = resilience.NewRateLimiter(resilience.RateLimiterConfig{
		RequestsPerInterval: cfg.RequestsPerInterval,
		Interval:            cfg.Interval,
		Burst:               cfg.Burst,
		MaxWait:             cfg.AcquireTimeout,
		Clock:               o.clock,
	})
	g.bulkhead = resilience.NewBulkhead(resilience.BulkheadConfig{
		MaxConcurrent: cfg.MaxConcurrent,
		MaxWait:       cfg.AcquireTimeout,
	})

	execOpts := []resilience.ExecutorOption{
		resilience.WithCircuitBreaker(g.breaker),
		resilience.WithBulkhead(g.bulkhead),
		resilience.WithRateLimiter(g.limiter),
		resilience.WithClock(o.clock),
		resilience.WithHooks(g.hooks()),
	}
	if cfg.MaxRetries > 0 {
		execOpts = append(execOpts, resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
			MaxRetries:  cfg.MaxRetries,
			BaseBackoff: cfg.BaseBackoff,
			MaxBackoff:  cfg.MaxBackoff,
			Jitter:      cfg.Jitter,
			RetryIf:     o.retryIf,
			Clock:       o.clock,
		})))
	}
	if cfg.AttemptTimeout > 0 {
		execOpts = append(execOpts, resilience.WithTimeout(cfg.AttemptTimeout))
	}
	g.exec = resilience.NewExecutor(execOpts...)

	return g, nil
}

// Name returns the gateway name.
func (g *Gateway) Name() string { return g.name }

// Config returns the effective configuration.
func (g *Gateway) Config() Config { return g.cfg }

// Execute runs op through admission control and the retry policy. It returns
// the operation's payload, or an error that resilience.Classify maps to one
// of circuit_open, rate_limit_timeout, concurrency_timeout, operation or
// cancelled.
func (g *Gateway) Execute(ctx context.Context, op Operation) (any, error) {
	if op.Call == nil {
		return nil, ErrNilOperation
	}

	meta := observe.CallMeta{Gateway: g.name, Kind: op.Kind}
	call := g.mw.Wrap(func(ctx context.Context, meta observe.CallMeta) (any, error) {
		var (
			mu     sync.Mutex
			seq    int
			result any
		)
		err := g.exec.ExecuteKind(ctx, meta.Kind, func(ctx context.Context) error {
			mu.Lock()
			seq++
			id := seq
			mu.Unlock()

			v, err := op.Call(ctx)
			if err != nil {
				return err
			}

			mu.Lock()
			// An attempt that outlived its timeout must not overwrite a later one
			if id == seq {
				result = v
			}
			mu.Unlock()
			return nil
		})
		if err != nil {
			return nil, err
		}
		mu.Lock()
		defer mu.Unlock()
		return result, nil
	})
	return call(ctx, meta)
}

// Do runs call through g and returns its typed payload.
func Do[T any](ctx context.Context, g *Gateway, kind string, call func(context.Context) (T, error)) (T, error) {
	v, err := g.Execute(ctx, Operation{
		Kind: kind,
		Call: func(ctx context.Context) (any, error) { return call(ctx) },
	})
	if err != nil {
		var zero T
		return zero, err
	}
	t, _ := v.(T)
	return t, nil
}

// Stats is a point-in-time snapshot of a gateway.
type Stats struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	Failures      int       `json:"consecutive_failures"`
	OpenedAt      time.Time `json:"opened_at,omitzero"`
	ProbeInFlight bool      `json:"probe_in_flight"`
	Rejected      int64     `json:"rejected"`
	Tokens        float64   `json:"tokens_available"`
	ActivePermits int       `json:"active_permits"`
	MaxConcurrent int       `json:"max_concurrent"`
	Throttled     int64     `json:"permit_timeouts"`
}

// Stats returns a snapshot of breaker, limiter and gate state.
func (g *Gateway) Stats() Stats {
	cb := g.breaker.Metrics()
	bh := g.bulkhead.Metrics()
	return Stats{
		Name:          g.name,
		State:         cb.State.String(),
		Failures:      cb.Failures,
		OpenedAt:      cb.OpenedAt,
		ProbeInFlight: cb.ProbeInFlight,
		Rejected:      cb.Rejected,
		Tokens:        g.limiter.Tokens(),
		ActivePermits: bh.Active,
		MaxConcurrent: bh.MaxConcurrent,
		Throttled:     bh.Rejected,
	}
}

// State returns the breaker state.
func (g *Gateway) State() resilience.State {
	return g.breaker.State()
}

// Reset closes the breaker and clears its failure count.
func (g *Gateway) Reset() {
	g.breaker.Reset()
	g.logger.Info(context.Background(), "circuit breaker reset")
}

func (g *Gateway) onStateChange(from, to resilience.State) {
	ctx := context.Background()
	g.metrics.RecordTransition(ctx, g.name, from, to)

	fields := []observe.Field{
		observe.F("from", from.String()),
		observe.F("to", to.String()),
	}
	if to == resilience.StateOpen {
		fields = append(fields, observe.F("recovery_timeout", g.cfg.RecoveryTimeout.String()))
		g.logger.Warn(ctx, "circuit breaker state changed", fields...)
		return
	}
	g.logger.Info(ctx, "circuit breaker state changed", fields...)
}

func (g *Gateway) hooks() resilience.Hooks {
	meta := func(kind string) observe.CallMeta {
		return observe.CallMeta{Gateway: g.name, Kind: kind}
	}

	return resilience.Hooks{
		OnReject: func(ctx context.Context, kind string, err error) {
			g.logger.Debug(ctx, "call rejected", observe.F("kind", kind), observe.F("error", err))
		},
		OnWait: func(ctx context.Context, kind, stage string, waited time.Duration) {
			g.metrics.RecordWait(ctx, meta(kind), stage, waited)
		},
		OnAttempt: func(ctx context.Context, kind string, a resilience.CallAttempt) {
			g.metrics.RecordAttempt(ctx, meta(kind), a.Err)
		},
		OnRetry: func(ctx context.Context, kind string, attempt int, err error, delay time.Duration) {
			g.metrics.RecordRetry(ctx, meta(kind), delay)
			g.logger.Info(ctx, "retrying call",
				observe.F("kind", kind),
				observe.F("attempt", attempt),
				observe.F("backoff", delay.String()),
				observe.F("error", err),
			)
		},
		OnFailure: func(ctx context.Context, err *resilience.OperationError) {
			fields := []observe.Field{
				observe.F("kind", err.Kind),
				observe.F("attempts", err.Attempts),
				observe.F("error", err.Err),
			}
			if resilience.IsPermanent(err.Err) {
				fields = append(fields, observe.F("permanent", true))
			}
			g.logger.Error(ctx, "call failed after retries", fields...)
		},
	}
}

// IsUnavailable reports whether err means the dependency is known to be down
// and the caller should try later.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
