package gateway

import (
	"errors"

	"github.com/jonwraymond/callgate/resilience"
)

var (
	// ErrInvalidConfig indicates a Config failed validation.
	ErrInvalidConfig = errors.New("gateway: invalid config")

	// ErrNilOperation indicates an Operation without a Call function.
	ErrNilOperation = errors.New("gateway: operation has no call function")

	// ErrGatewayNotFound indicates no gateway is registered under a name.
	ErrGatewayNotFound = errors.New("gateway: not found")

	// ErrDuplicateGateway indicates a name is already registered.
	ErrDuplicateGateway = errors.New("gateway: already registered")

	// ErrMissingName indicates a gateway was constructed without a name.
	ErrMissingName = errors.New("gateway: name is required")
)

// Failure classes surfaced by Execute, re-exported for callers that only
// import this package.
var (
	ErrCircuitOpen        = resilience.ErrCircuitOpen
	ErrRateLimitTimeout   = resilience.ErrRateLimitTimeout
	ErrConcurrencyTimeout = resilience.ErrConcurrencyTimeout
	ErrCancelled          = resilience.ErrCancelled
	ErrOperationFailed    = resilience.ErrOperationFailed
)
