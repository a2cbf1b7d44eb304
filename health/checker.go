package health

import (
	"context"
	"fmt"
	"maps"
	"time"
)

// Status is the health of a component. Higher values are worse.
type Status int

const (
	// StatusHealthy means the component is serving normally.
	StatusHealthy Status = iota
	// StatusDegraded means the component serves, with reduced capacity.
	StatusDegraded
	// StatusUnhealthy means the component cannot serve.
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name written by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "healthy":
		*s = StatusHealthy
	case "degraded":
		*s = StatusDegraded
	case "unhealthy":
		*s = StatusUnhealthy
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStatus, text)
	}
	return nil
}

// Result is the outcome of one check.
type Result struct {
	Status    Status
	Message   string
	Details   map[string]any
	Duration  time.Duration
	Timestamp time.Time
	Error     error
}

// Healthy returns a healthy result.
func Healthy(message string) Result {
	return Result{Status: StatusHealthy, Message: message, Timestamp: time.Now()}
}

// Degraded returns a degraded result.
func Degraded(message string) Result {
	return Result{Status: StatusDegraded, Message: message, Timestamp: time.Now()}
}

// Unhealthy returns an unhealthy result carrying err.
func Unhealthy(message string, err error) Result {
	return Result{Status: StatusUnhealthy, Message: message, Error: err, Timestamp: time.Now()}
}

// WithDetails merges details into the result.
func (r Result) WithDetails(details map[string]any) Result {
	merged := make(map[string]any, len(r.Details)+len(details))
	maps.Copy(merged, r.Details)
	maps.Copy(merged, details)
	r.Details = merged
	return r
}

// WithDuration sets how long the check took.
func (r Result) WithDuration(d time.Duration) Result {
	r.Duration = d
	return r
}

// Checker reports the health of one component.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

// CheckerFunc adapts a function to a Checker.
type CheckerFunc struct {
	name string
	fn   func(context.Context) Result
}

// NewCheckerFunc returns a Checker named name that calls fn.
func NewCheckerFunc(name string, fn func(context.Context) Result) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

func (f *CheckerFunc) Name() string { return f.name }

func (f *CheckerFunc) Check(ctx context.Context) Result { return f.fn(ctx) }

// NewPingChecker returns a Checker that is healthy when ping succeeds and
// unhealthy otherwise.
func NewPingChecker(name string, ping func(context.Context) error) *CheckerFunc {
	return NewCheckerFunc(name, func(ctx context.Context) Result {
		start := time.Now()
		if err := ping(ctx); err != nil {
			return Unhealthy("ping failed", err)
		}
		return Healthy("reachable").WithDetails(map[string]any{
			"latency": time.Since(start).String(),
		})
	})
}
