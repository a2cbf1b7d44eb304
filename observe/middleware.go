package observe

import (
	"context"
	"errors"
	"time"

	"github.com/jonwraymond/callgate/resilience"
)

// ExecuteFunc is the signature of an instrumented gateway call.
type ExecuteFunc func(ctx context.Context, meta CallMeta) (any, error)

// Middleware wraps gateway calls with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe ExecuteFunc.
//   - Context: The span is propagated to the wrapped function through ctx.
//   - Errors: Errors from the wrapped function are recorded and returned unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a new Middleware with the given components.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// Wrap wraps fn with a span, call metrics and a completion log line.
func (m *Middleware) Wrap(fn ExecuteFunc) ExecuteFunc {
	return func(ctx context.Context, meta CallMeta) (any, error) {
		ctx, span := m.tracer.StartSpan(ctx, meta)
		m.metrics.AddInFlight(ctx, meta, 1)
		start := time.Now()

		result, err := fn(ctx, meta)

		duration := time.Since(start)
		m.metrics.AddInFlight(ctx, meta, -1)
		m.tracer.EndSpan(span, err)
		m.metrics.RecordCall(ctx, meta, duration, err)

		logger := m.logger.WithCall(meta)
		fields := []Field{F("duration_ms", ms(duration))}
		if err != nil {
			class := resilience.Classify(err)
			fields = append(fields, F("error", err), F("error.class", class.String()))
			var opErr *resilience.OperationError
			if errors.As(err, &opErr) {
				fields = append(fields, F("attempts", opErr.Attempts))
			}
			logger.Warn(ctx, "call failed", fields...)
		} else {
			logger.Debug(ctx, "call completed", fields...)
		}

		return result, err
	}
}

// Metrics returns the middleware's metrics recorder.
func (m *Middleware) Metrics() Metrics { return m.metrics }

// Logger returns the middleware's logger.
func (m *Middleware) Logger() Logger { return m.logger }

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}

// NewNoopMiddleware returns a Middleware that records nothing.
func NewNoopMiddleware() *Middleware {
	return NewMiddleware(NewNoopTracer(), NewNoopMetrics(), NewNoopLogger())
}
