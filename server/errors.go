package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/jonwraymond/callgate/gateway"
	"github.com/jonwraymond/callgate/llm"
	"github.com/jonwraymond/callgate/observe"
	"github.com/jonwraymond/callgate/resilience"
)

// StatusClientClosedRequest is reported when the caller went away before
// the call completed.
const StatusClientClosedRequest = 499

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one error.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{
		Code:      code,
		Message:   message,
		RequestID: observe.RequestID(r.Context()),
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeCallError maps a gateway outcome to an HTTP response: circuit open
// is 503 with Retry-After, an admission timeout is 429, cancellation is 499
// and an operation failure is 502.
func writeCallError(w http.ResponseWriter, r *http.Request, g *gateway.Gateway, err error) {
	switch resilience.Classify(err) {
	case resilience.ClassCircuitOpen:
		w.Header().Set("Retry-After", retryAfterSeconds(untilProbe(g)))
		writeError(w, r, http.StatusServiceUnavailable, "circuit_open", "upstream is unavailable, retry later")
	case resilience.ClassRateLimitTimeout:
		writeError(w, r, http.StatusTooManyRequests, "rate_limit_timeout", "timed out waiting for a rate limit token")
	case resilience.ClassConcurrencyTimeout:
		writeError(w, r, http.StatusTooManyRequests, "concurrency_timeout", "timed out waiting for a concurrency permit")
	case resilience.ClassCancelled:
		writeError(w, r, StatusClientClosedRequest, "cancelled", "request cancelled")
	case resilience.ClassOperation:
		var perr *llm.ProviderError
		if errors.As(err, &perr) && perr.RetryAfter > 0 {
			w.Header().Set("Retry-After", retryAfterSeconds(perr.RetryAfter))
		}
		writeError(w, r, http.StatusBadGateway, "upstream_error", err.Error())
	default:
		if errors.Is(err, llm.ErrInvalidRequest) {
			writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// untilProbe is the time left before the breaker admits a probe.
func untilProbe(g *gateway.Gateway) time.Duration {
	if g == nil {
		return 0
	}
	s := g.Stats()
	if s.OpenedAt.IsZero() {
		return 0
	}
	return time.Until(s.OpenedAt.Add(g.Config().RecoveryTimeout))
}

// retryAfterSeconds renders d as whole seconds, at least 1.
func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	return strconv.Itoa(max(secs, 1))
}
