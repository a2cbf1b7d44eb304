package observe

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/callgate/resilience"
)

type middlewareFixture struct {
	mw     *Middleware
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
	logs   *bytes.Buffer
}

func newMiddlewareFixture(t *testing.T) middlewareFixture {
	t.Helper()
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	metrics, reader := newTestMetrics(t)
	logs := &bytes.Buffer{}

	return middlewareFixture{
		mw:     NewMiddleware(NewTracer(tp.Tracer("test")), metrics, NewLoggerWithWriter("debug", logs)),
		spans:  spans,
		reader: reader,
		logs:   logs,
	}
}

func TestMiddleware_SuccessPath(t *testing.T) {
	f := newMiddlewareFixture(t)

	wrapped := f.mw.Wrap(func(ctx context.Context, meta CallMeta) (any, error) {
		return "ok", nil
	})
	result, err := wrapped(context.Background(), testMeta)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %v, want ok", result)
	}

	spans := f.spans.Ended()
	if len(spans) != 1 || spans[0].Name() != "gateway.call.openai.chat.completions" {
		t.Fatalf("unexpected spans: %v", spans)
	}

	rm := collect(t, f.reader)
	if got := sumValue(t, rm, "gateway.calls.total", attribute.String("error.class", "none")); got != 1 {
		t.Errorf("calls.total = %d, want 1", got)
	}
	if got := sumValue(t, rm, "gateway.calls.in_flight"); got != 0 {
		t.Errorf("in_flight = %d, want 0", got)
	}

	e := decodeLines(t, f.logs)
	if len(e) != 1 || e[0]["msg"] != "call completed" || e[0]["level"] != "debug" {
		t.Errorf("unexpected logs: %v", e)
	}
}

func TestMiddleware_ErrorPath(t *testing.T) {
	f := newMiddlewareFixture(t)

	cause := errors.New("upstream 503")
	wrapped := f.mw.Wrap(func(ctx context.Context, meta CallMeta) (any, error) {
		return nil, &resilience.OperationError{Kind: meta.Kind, Attempts: 3, Err: cause}
	})
	_, err := wrapped(context.Background(), testMeta)

	if !errors.Is(err, cause) {
		t.Fatalf("error = %v, want to wrap cause", err)
	}

	rm := collect(t, f.reader)
	if got := sumValue(t, rm, "gateway.calls.errors", attribute.String("error.class", "operation")); got != 1 {
		t.Errorf("operation errors = %d, want 1", got)
	}

	e := decodeLines(t, f.logs)
	if len(e) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(e))
	}
	if e[0]["level"] != "warn" || e[0]["error.class"] != "operation" {
		t.Errorf("unexpected log entry: %v", e[0])
	}
	if e[0]["attempts"] != float64(3) {
		t.Errorf("attempts = %v, want 3", e[0]["attempts"])
	}
}

func TestMiddleware_PropagatesSpanContext(t *testing.T) {
	f := newMiddlewareFixture(t)

	var inner trace.SpanContext
	wrapped := f.mw.Wrap(func(ctx context.Context, meta CallMeta) (any, error) {
		inner = trace.SpanContextFromContext(ctx)
		return nil, nil
	})
	_, _ = wrapped(context.Background(), testMeta)

	if !inner.IsValid() {
		t.Fatal("wrapped function did not see a span")
	}
	if inner.SpanID() != f.spans.Ended()[0].SpanContext().SpanID() {
		t.Error("wrapped function saw a different span")
	}
}

func TestMiddleware_Noop(t *testing.T) {
	mw := NewNoopMiddleware()

	wrapped := mw.Wrap(func(ctx context.Context, meta CallMeta) (any, error) {
		return 42, nil
	})
	result, err := wrapped(context.Background(), testMeta)
	if err != nil || result != 42 {
		t.Errorf("result = %v, %v; want 42, nil", result, err)
	}
	if mw.Metrics() == nil || mw.Logger() == nil {
		t.Error("accessors returned nil")
	}
}
