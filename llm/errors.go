package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonwraymond/callgate/resilience"
)

var (
	// ErrNoGateway indicates a client was built without a gateway.
	ErrNoGateway = errors.New("llm: gateway is required")

	// ErrMissingAPIKey indicates a client was built without an API key.
	ErrMissingAPIKey = errors.New("llm: api key is required")

	// ErrInvalidRequest indicates a request without a model or messages.
	ErrInvalidRequest = errors.New("llm: invalid request")

	// ErrEmptyResponse indicates a 2xx response without choices.
	ErrEmptyResponse = errors.New("llm: empty response choices")
)

// maxErrorMessage bounds the provider body copied into ProviderError.
const maxErrorMessage = 512

// ProviderError is returned when the provider responds with a non-2xx
// status.
type ProviderError struct {
	StatusCode int
	Message    string

	// RetryAfter is the provider's Retry-After hint, zero when absent.
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "llm: provider error"
	}
	return fmt.Sprintf("llm: provider request failed: status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the status is worth another attempt.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// providerError builds the error for a non-2xx response, marking
// non-retryable statuses permanent.
func providerError(resp *http.Response, body []byte, now time.Time) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage]
	}
	perr := &ProviderError{
		StatusCode: resp.StatusCode,
		Message:    msg,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), now),
	}
	if perr.Retryable() {
		return perr
	}
	return resilience.Permanent(perr)
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return max(time.Duration(secs)*time.Second, 0)
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(t.Sub(now), 0)
	}
	return 0
}
