package resilience

import (
	"context"
	"time"
)

// TimeoutConfig configures the per-attempt timeout wrapper.
type TimeoutConfig struct {
	// Timeout is the maximum duration for a single attempt.
	// Default: 30 seconds
	Timeout time.Duration
}

// Timeout bounds a single attempt of a remote call. The retry loop applies it
// per attempt, so a slow attempt is abandoned and retried rather than holding
// the whole call.
type Timeout struct {
	config TimeoutConfig
}

// NewTimeout creates a new timeout wrapper.
func NewTimeout(config TimeoutConfig) *Timeout {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Timeout{config: config}
}

// Execute runs the operation with a timeout. Expiry of the attempt timeout
// yields ErrTimeout, which the retry policy treats as an ordinary failure.
// Cancellation of the parent context yields ErrCancelled.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- op(attemptCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		if parentErr := ctx.Err(); parentErr != nil {
			return waitError(parentErr, ErrCancelled)
		}
		return ErrTimeout
	}
}

// Config returns the timeout configuration.
func (t *Timeout) Config() TimeoutConfig {
	return t.config
}
