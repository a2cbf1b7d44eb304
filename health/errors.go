package health

import "errors"

var (
	// ErrCheckFailed indicates a check observed a failing component.
	ErrCheckFailed = errors.New("health: check failed")

	// ErrCheckTimeout indicates a check did not finish before the deadline.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrCheckerNotFound indicates no checker is registered under a name.
	ErrCheckerNotFound = errors.New("health: checker not found")

	// ErrUnknownStatus indicates a status name that is not recognized.
	ErrUnknownStatus = errors.New("health: unknown status")
)
