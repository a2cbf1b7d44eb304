package server

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jonwraymond/callgate/observe"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID propagates the caller's X-Request-ID or generates one, echoes
// it on the response and attaches it to the context for logging.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(observe.ContextWithRequestID(r.Context(), id)))
	})
}

// statusWriter captures the status code and response size.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// AccessLog logs one line per request.
func AccessLog(logger observe.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}

			next.ServeHTTP(sw, r)

			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}
			fields := []observe.Field{
				observe.F("method", r.Method),
				observe.F("path", r.URL.Path),
				observe.F("status", status),
				observe.F("bytes", sw.bytes),
				observe.F("duration_ms", time.Since(start).Milliseconds()),
				observe.F("remote_addr", r.RemoteAddr),
			}
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				fields = append(fields, observe.F("route", rc.RoutePattern()))
			}

			switch {
			case status >= 500:
				logger.Error(r.Context(), "http request", fields...)
			case status >= 400:
				logger.Warn(r.Context(), "http request", fields...)
			default:
				logger.Info(r.Context(), "http request", fields...)
			}
		})
	}
}

// Recovery turns a handler panic into a 500 response.
func Recovery(logger observe.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error(r.Context(), "panic serving request",
					observe.F("panic", fmt.Sprint(rec)),
					observe.F("stack", string(debug.Stack())),
				)
				writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
