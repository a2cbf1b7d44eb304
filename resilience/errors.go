package resilience

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open, or when a
	// half-open probe is already in flight.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrRateLimitTimeout is returned when the caller's deadline (or MaxWait)
	// elapsed while waiting for a rate-limit token.
	ErrRateLimitTimeout = errors.New("resilience: timed out waiting for rate limit token")

	// ErrConcurrencyTimeout is returned when the caller's deadline (or MaxWait)
	// elapsed while waiting for a concurrency permit.
	ErrConcurrencyTimeout = errors.New("resilience: timed out waiting for concurrency permit")

	// ErrCancelled is returned when the caller abandoned a call while it was
	// suspended.
	ErrCancelled = errors.New("resilience: call cancelled")

	// ErrOperationFailed is matched by every *OperationError.
	ErrOperationFailed = errors.New("resilience: operation failed")

	// ErrTimeout is returned when a single attempt exceeds its timeout.
	ErrTimeout = errors.New("resilience: operation timed out")
)

// OperationError reports an operation that failed after the retry policy
// gave up. It carries the last underlying error.
type OperationError struct {
	// Kind is the operation category, if known.
	Kind string

	// Attempts is the number of times the operation was invoked.
	Attempts int

	// Err is the error returned by the final attempt.
	Err error
}

func (e *OperationError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("resilience: operation %q failed after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("resilience: operation failed after %d attempt(s): %v", e.Attempts, e.Err)
}

// Unwrap exposes both ErrOperationFailed and the underlying error to
// errors.Is and errors.As.
func (e *OperationError) Unwrap() []error {
	return []error{ErrOperationFailed, e.Err}
}

// permanentError marks an error as non-retryable.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the retry policy surfaces it without further
// attempts. It still counts as a failure against the circuit breaker.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Class is the coarse classification of a gateway outcome.
type Class int

const (
	// ClassNone means the call succeeded.
	ClassNone Class = iota
	// ClassCircuitOpen means the dependency is known to be unavailable.
	ClassCircuitOpen
	// ClassRateLimitTimeout means the caller gave up waiting for a token.
	ClassRateLimitTimeout
	// ClassConcurrencyTimeout means the caller gave up waiting for a permit.
	ClassConcurrencyTimeout
	// ClassOperation means the operation itself failed.
	ClassOperation
	// ClassCancelled means the caller abandoned the call.
	ClassCancelled
	// ClassUnknown is any error not produced by this package.
	ClassUnknown
)

// String returns the string representation of the class.
func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassCircuitOpen:
		return "circuit_open"
	case ClassRateLimitTimeout:
		return "rate_limit_timeout"
	case ClassConcurrencyTimeout:
		return "concurrency_timeout"
	case ClassOperation:
		return "operation"
	case ClassCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by this package to its Class.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrCircuitOpen):
		return ClassCircuitOpen
	case errors.Is(err, ErrRateLimitTimeout):
		return ClassRateLimitTimeout
	case errors.Is(err, ErrConcurrencyTimeout):
		return ClassConcurrencyTimeout
	case errors.Is(err, ErrOperationFailed):
		return ClassOperation
	case errors.Is(err, ErrCancelled):
		return ClassCancelled
	default:
		return ClassUnknown
	}
}

// isAdmissionError reports errors raised while waiting for admission. These
// are never retried and never recorded against the breaker.
func isAdmissionError(err error) bool {
	return errors.Is(err, ErrRateLimitTimeout) ||
		errors.Is(err, ErrConcurrencyTimeout) ||
		errors.Is(err, ErrCancelled) ||
		errors.Is(err, ErrCircuitOpen)
}

// waitError converts a context error observed at a suspension point into a
// classified error. timeoutErr is used for deadline expiry.
func waitError(ctxErr error, timeoutErr error) error {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", timeoutErr, ctxErr)
	}
	return fmt.Errorf("%w: %w", ErrCancelled, ctxErr)
}
