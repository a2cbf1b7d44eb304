package resilience

import (
	"context"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means the circuit is letting a single probe through.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	// the circuit.
	// Default: 5
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before a probe is
	// allowed through.
	// Default: 60 seconds
	RecoveryTimeout time.Duration

	// OnStateChange is called when the circuit state changes. It is invoked
	// after the breaker lock is released.
	OnStateChange func(from, to State)

	// IsFailure determines if an error should count as a failure.
	// Default: all non-nil errors are failures.
	IsFailure func(err error) bool

	// Clock is the time source.
	// Default: SystemClock
	Clock Clock
}

// Admission is the ticket returned by Allow. Its outcome must be reported
// exactly once through Success, Failure, Done or Abandon.
type Admission struct {
	probe bool
}

// Probe reports whether this admission is the half-open probe.
func (a Admission) Probe() bool { return a.probe }

type transition struct {
	from, to State
}

// CircuitBreaker implements the circuit breaker pattern.
//
// The OPEN to HALF_OPEN transition is lazy: it happens when a call arrives
// after RecoveryTimeout. Only one probe may be in flight while half-open.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	clock  Clock

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	openedAt      time.Time
	lastFailure   time.Time
	probeInFlight bool
	rejected      int64
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	// Apply defaults
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}

	return &CircuitBreaker{
		config: config,
		clock:  clockOrDefault(config.Clock),
		state:  StateClosed,
	}
}

// Allow decides whether a call may proceed. It returns ErrCircuitOpen while
// the circuit is open, or while a half-open probe is already in flight.
func (cb *CircuitBreaker) Allow() (Admission, error) {
	cb.mu.Lock()

	var changes []transition
	switch cb.state {
	case StateClosed:
		cb.mu.Unlock()
		return Admission{}, nil

	case StateOpen:
		if cb.clock.Now().Sub(cb.openedAt) < cb.config.RecoveryTimeout {
			cb.rejected++
			cb.mu.Unlock()
			return Admission{}, ErrCircuitOpen
		}
		changes = append(changes, cb.setStateLocked(StateHalfOpen))
	}

	// Half-open: a single probe at a time
	if cb.probeInFlight {
		cb.rejected++
		cb.mu.Unlock()
		cb.notify(changes)
		return Admission{}, ErrCircuitOpen
	}
	cb.probeInFlight = true
	cb.mu.Unlock()

	cb.notify(changes)
	return Admission{probe: true}, nil
}

// Success records a successful call.
func (cb *CircuitBreaker) Success(a Admission) {
	cb.mu.Lock()

	var changes []transition
	switch cb.state {
	case StateClosed:
		cb.failures = 0
		cb.successes++
	case StateHalfOpen:
		if a.probe {
			cb.probeInFlight = false
			cb.failures = 0
			cb.successes++
			changes = append(changes, cb.setStateLocked(StateClosed))
		}
	}
	// Outcomes arriving while open belong to calls admitted before the trip.

	cb.mu.Unlock()
	cb.notify(changes)
}

// Failure records a failed call.
func (cb *CircuitBreaker) Failure(a Admission) {
	cb.mu.Lock()

	var changes []transition
	now := cb.clock.Now()
	switch cb.state {
	case StateClosed:
		cb.failures++
		cb.successes = 0
		cb.lastFailure = now
		if cb.failures >= cb.config.FailureThreshold {
			cb.openedAt = now
			changes = append(changes, cb.setStateLocked(StateOpen))
		}
	case StateHalfOpen:
		if a.probe {
			// Failed during probe, go back to open with a fresh timeout
			cb.probeInFlight = false
			cb.failures++
			cb.lastFailure = now
			cb.openedAt = now
			changes = append(changes, cb.setStateLocked(StateOpen))
		}
	}

	cb.mu.Unlock()
	cb.notify(changes)
}

// Done records the outcome of a call, classifying err with IsFailure.
func (cb *CircuitBreaker) Done(a Admission, err error) {
	if err != nil && cb.config.IsFailure(err) {
		cb.Failure(a)
		return
	}
	cb.Success(a)
}

// Abandon releases an admission without recording an outcome. A half-open
// probe slot becomes available again.
func (cb *CircuitBreaker) Abandon(a Admission) {
	if !a.probe {
		return
	}
	cb.mu.Lock()
	if cb.state == StateHalfOpen {
		cb.probeInFlight = false
	}
	cb.mu.Unlock()
}

// Execute runs the operation through the circuit breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	a, err := cb.Allow()
	if err != nil {
		return err
	}

	err = op(ctx)
	if isAdmissionError(err) {
		cb.Abandon(a)
		return err
	}
	cb.Done(a, err)
	return err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()

	var changes []transition
	if cb.state != StateClosed {
		changes = append(changes, cb.setStateLocked(StateClosed))
	}
	cb.failures = 0
	cb.successes = 0
	cb.probeInFlight = false

	cb.mu.Unlock()
	cb.notify(changes)
}

func (cb *CircuitBreaker) setStateLocked(state State) transition {
	t := transition{from: cb.state, to: state}
	cb.state = state
	return t
}

func (cb *CircuitBreaker) notify(changes []transition) {
	if cb.config.OnStateChange == nil {
		return
	}
	for _, t := range changes {
		cb.config.OnStateChange(t.from, t.to)
	}
}

// Metrics returns current circuit breaker metrics.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerMetrics{
		State:         cb.state,
		Failures:      cb.failures,
		Successes:     cb.successes,
		OpenedAt:      cb.openedAt,
		LastFailure:   cb.lastFailure,
		ProbeInFlight: cb.probeInFlight,
		Rejected:      cb.rejected,
	}
}

// CircuitBreakerMetrics contains circuit breaker statistics.
type CircuitBreakerMetrics struct {
	State         State
	Failures      int
	Successes     int
	OpenedAt      time.Time
	LastFailure   time.Time
	ProbeInFlight bool
	Rejected      int64
}
