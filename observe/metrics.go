package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/jonwraymond/callgate/resilience"
)

// Metrics records gateway call metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordCall records a finished call with its duration and outcome.
	RecordCall(ctx context.Context, meta CallMeta, duration time.Duration, err error)

	// RecordAttempt records one invocation of the operation.
	RecordAttempt(ctx context.Context, meta CallMeta, err error)

	// RecordRetry records a scheduled retry and its backoff.
	RecordRetry(ctx context.Context, meta CallMeta, delay time.Duration)

	// RecordWait records time spent waiting for a permit or a token.
	RecordWait(ctx context.Context, meta CallMeta, stage string, waited time.Duration)

	// RecordTransition records a circuit breaker state change.
	RecordTransition(ctx context.Context, gateway string, from, to resilience.State)

	// AddInFlight adjusts the number of calls in progress.
	AddInFlight(ctx context.Context, meta CallMeta, delta int64)
}

type metricsImpl struct {
	calls       metric.Int64Counter
	errors      metric.Int64Counter
	duration    metric.Float64Histogram
	attempts    metric.Int64Counter
	retries     metric.Int64Counter
	backoff     metric.Float64Histogram
	wait        metric.Float64Histogram
	transitions metric.Int64Counter
	inFlight    metric.Int64UpDownCounter
}

// NewMetrics creates the gateway instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	var (
		m   metricsImpl
		err error
	)

	if m.calls, err = meter.Int64Counter("gateway.calls.total",
		metric.WithDescription("Total number of gateway calls"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}
	if m.errors, err = meter.Int64Counter("gateway.calls.errors",
		metric.WithDescription("Failed gateway calls by error class"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("gateway.call.duration_ms",
		metric.WithDescription("Gateway call duration including waits and retries"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.attempts, err = meter.Int64Counter("gateway.attempts.total",
		metric.WithDescription("Invocations of the remote operation"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}
	if m.retries, err = meter.Int64Counter("gateway.retries.total",
		metric.WithDescription("Retries scheduled after a failed attempt"),
		metric.WithUnit("{retry}"),
	); err != nil {
		return nil, err
	}
	if m.backoff, err = meter.Float64Histogram("gateway.retry.backoff_ms",
		metric.WithDescription("Backoff before a retry"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.wait, err = meter.Float64Histogram("gateway.admission.wait_ms",
		metric.WithDescription("Time spent waiting for a concurrency permit or rate-limit token"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.transitions, err = meter.Int64Counter("gateway.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return nil, err
	}
	if m.inFlight, err = meter.Int64UpDownCounter("gateway.calls.in_flight",
		metric.WithDescription("Gateway calls in progress"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}

	return &m, nil
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func (m *metricsImpl) RecordCall(ctx context.Context, meta CallMeta, duration time.Duration, err error) {
	class := resilience.Classify(err)
	attrs := append(meta.attributes(), attribute.String("error.class", class.String()))
	opt := metric.WithAttributes(attrs...)

	m.calls.Add(ctx, 1, opt)
	if err != nil {
		m.errors.Add(ctx, 1, opt)
	}
	m.duration.Record(ctx, ms(duration), opt)
}

func (m *metricsImpl) RecordAttempt(ctx context.Context, meta CallMeta, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	attrs := append(meta.attributes(), attribute.String("outcome", outcome))
	m.attempts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metricsImpl) RecordRetry(ctx context.Context, meta CallMeta, delay time.Duration) {
	opt := metric.WithAttributes(meta.attributes()...)
	m.retries.Add(ctx, 1, opt)
	m.backoff.Record(ctx, ms(delay), opt)
}

func (m *metricsImpl) RecordWait(ctx context.Context, meta CallMeta, stage string, waited time.Duration) {
	attrs := append(meta.attributes(), attribute.String("stage", stage))
	m.wait.Record(ctx, ms(waited), metric.WithAttributes(attrs...))
}

func (m *metricsImpl) RecordTransition(ctx context.Context, gateway string, from, to resilience.State) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("gateway.name", gateway),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}

func (m *metricsImpl) AddInFlight(ctx context.Context, meta CallMeta, delta int64) {
	m.inFlight.Add(ctx, delta, metric.WithAttributes(meta.attributes()...))
}

// NewNoopMetrics returns Metrics backed by no-op instruments.
func NewNoopMetrics() Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter("noop"))
	return m
}
