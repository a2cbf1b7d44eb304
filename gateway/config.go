package gateway

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the tunables of one gateway.
type Config struct {
	// RequestsPerInterval is the number of calls admitted per Interval.
	// Default: 60
	RequestsPerInterval int `mapstructure:"requests_per_interval" json:"requests_per_interval"`

	// Interval is the refill window of the token bucket.
	// Default: 1 minute
	Interval time.Duration `mapstructure:"interval" json:"interval"`

	// Burst is the token bucket capacity.
	// Default: 1
	Burst int `mapstructure:"burst" json:"burst"`

	// MaxConcurrent caps the number of attempts in flight.
	// Default: 5
	MaxConcurrent int `mapstructure:"max_concurrent" json:"max_concurrent"`

	// AcquireTimeout bounds the wait for a permit or a token. Zero waits
	// until the caller's context ends.
	// Default: 0
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" json:"acquire_timeout"`

	// FailureThreshold is the number of consecutive failed calls that opens
	// the breaker.
	// Default: 5
	FailureThreshold int `mapstructure:"failure_threshold" json:"failure_threshold"`

	// RecoveryTimeout is how long the breaker stays open before a probe.
	// Default: 60 seconds
	RecoveryTimeout time.Duration `mapstructure:"recovery_timeout" json:"recovery_timeout"`

	// MaxRetries is the number of retries after the first attempt.
	// Default: 3
	MaxRetries int `mapstructure:"max_retries" json:"max_retries"`

	// BaseBackoff is the wait before the first retry; it doubles per retry.
	// Default: 1 second
	BaseBackoff time.Duration `mapstructure:"base_backoff" json:"base_backoff"`

	// MaxBackoff caps the wait between retries.
	// Default: 30 seconds
	MaxBackoff time.Duration `mapstructure:"max_backoff" json:"max_backoff"`

	// Jitter randomizes backoff by up to 25%, keeping it non-decreasing and
	// within MaxBackoff.
	// Default: false
	Jitter bool `mapstructure:"jitter" json:"jitter"`

	// AttemptTimeout bounds a single attempt. Zero disables it.
	// Default: 0
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" json:"attempt_timeout"`
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerInterval: 60,
		Interval:            time.Minute,
		Burst:               1,
		MaxConcurrent:       5,
		FailureThreshold:    5,
		RecoveryTimeout:     60 * time.Second,
		MaxRetries:          3,
		BaseBackoff:         time.Second,
		MaxBackoff:          30 * time.Second,
	}
}

// Validate reports every invalid field, joined, each wrapping
// ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
	}

	if c.RequestsPerInterval <= 0 {
		bad("requests_per_interval must be positive, got %d", c.RequestsPerInterval)
	}
	if c.Interval <= 0 {
		bad("interval must be positive, got %v", c.Interval)
	}
	if c.Burst < 0 {
		bad("burst must not be negative, got %d", c.Burst)
	}
	if c.MaxConcurrent <= 0 {
		bad("max_concurrent must be positive, got %d", c.MaxConcurrent)
	}
	if c.AcquireTimeout < 0 {
		bad("acquire_timeout must not be negative, got %v", c.AcquireTimeout)
	}
	if c.FailureThreshold <= 0 {
		bad("failure_threshold must be positive, got %d", c.FailureThreshold)
	}
	if c.RecoveryTimeout <= 0 {
		bad("recovery_timeout must be positive, got %v", c.RecoveryTimeout)
	}
	if c.MaxRetries < 0 {
		bad("max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.MaxRetries > 0 {
		if c.BaseBackoff <= 0 {
			bad("base_backoff must be positive when retries are enabled, got %v", c.BaseBackoff)
		}
		if c.MaxBackoff < c.BaseBackoff {
			bad("max_backoff (%v) must not be less than base_backoff (%v)", c.MaxBackoff, c.BaseBackoff)
		}
	}
	if c.AttemptTimeout < 0 {
		bad("attempt_timeout must not be negative, got %v", c.AttemptTimeout)
	}

	return errors.Join(errs...)
}
