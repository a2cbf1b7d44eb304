package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/callgate/resilience"
)

// CallMeta identifies a gateway call for telemetry purposes.
type CallMeta struct {
	Gateway string // Gateway name (required)
	Kind    string // Operation kind, e.g. "chat.completions" (optional)
}

// SpanName returns the deterministic span name for this call.
// Format: gateway.call.<gateway>.<kind> or gateway.call.<gateway>
func (m CallMeta) SpanName() string {
	if m.Kind != "" {
		return "gateway.call." + m.Gateway + "." + m.Kind
	}
	return "gateway.call." + m.Gateway
}

// Validate reports whether the metadata is usable.
func (m CallMeta) Validate() error {
	if m.Gateway == "" {
		return ErrMissingGatewayName
	}
	return nil
}

func (m CallMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("gateway.name", m.Gateway)}
	if m.Kind != "" {
		attrs = append(attrs, attribute.String("gateway.kind", m.Kind))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing with call-scoped span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for a gateway call.
	StartSpan(ctx context.Context, meta CallMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error and its class.
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, meta CallMeta) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(meta.attributes()...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	class := resilience.Classify(err)
	span.SetAttributes(attribute.String("error.class", class.String()))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// NewNoopTracer returns a Tracer whose spans are discarded.
func NewNoopTracer() Tracer {
	return &tracerImpl{tracer: tracenoop.NewTracerProvider().Tracer("noop")}
}
