// Package resilience provides the admission and recovery policies that guard
// calls to a remote dependency.
//
// The patterns can be used on their own or composed with an Executor, which
// is what the gateway package does for every call.
//
// # Patterns
//
//   - Circuit Breaker: Sheds calls after FailureThreshold consecutive
//     failures. After RecoveryTimeout a single probe is let through; its
//     outcome closes or reopens the circuit.
//
//   - Retry: Re-invokes a failed operation with exponential, linear or
//     constant backoff, capped at MaxBackoff. Errors wrapped with Permanent
//     are surfaced at once.
//
//   - Rate Limiter: A token bucket refilled at RequestsPerInterval per
//     Interval. Every attempt consumes one token.
//
//   - Bulkhead: Caps the number of attempts in flight.
//
//   - Timeout: Bounds a single attempt.
//
// # Errors
//
// Every failure is classified with Classify into one of circuit_open,
// rate_limit_timeout, concurrency_timeout, operation or cancelled. Operation
// failures are returned as *OperationError carrying the last underlying
// error, which stays reachable through errors.Is and errors.As.
//
// # Usage
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	    FailureThreshold: 5,
//	    RecoveryTimeout:  time.Minute,
//	})
//
//	retry := resilience.NewRetry(resilience.RetryConfig{
//	    MaxRetries:  3,
//	    BaseBackoff: 100 * time.Millisecond,
//	    MaxBackoff:  5 * time.Second,
//	})
//
//	rl := resilience.NewRateLimiter(resilience.RateLimiterConfig{
//	    RequestsPerInterval: 100,
//	    Interval:            time.Second,
//	})
//
//	executor := resilience.NewExecutor(
//	    resilience.WithCircuitBreaker(cb),
//	    resilience.WithRetry(retry),
//	    resilience.WithRateLimiter(rl),
//	    resilience.WithBulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: 8})),
//	)
//
//	err := executor.ExecuteKind(ctx, "chat.completions", func(ctx context.Context) error {
//	    return callExternalService(ctx)
//	})
package resilience
