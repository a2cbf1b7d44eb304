// Package observe provides observability primitives for gateway calls.
//
// It builds OpenTelemetry tracer and meter providers from a Config, offers a
// structured Logger with sensitive-field redaction (JSON or zap backed), and
// a Middleware that wraps a call with a span, metrics and a log line. The
// gateway package wires these into every call it admits.
package observe
