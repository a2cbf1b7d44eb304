package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

// BenchmarkCircuitBreaker_Execute_Closed measures the closed-circuit path.
func BenchmarkCircuitBreaker_Execute_Closed(b *testing.B) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 100,
		RecoveryTimeout:  time.Minute,
	})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cb.Execute(ctx, func(ctx context.Context) error {
			return nil
		})
	}
}

// BenchmarkCircuitBreaker_RejectOpen measures shedding while open.
func BenchmarkCircuitBreaker_RejectOpen(b *testing.B) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})
	cb.Failure(Admission{})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = cb.Allow()
	}
}

// BenchmarkCircuitBreaker_Concurrent measures parallel admission.
func BenchmarkCircuitBreaker_Concurrent(b *testing.B) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1000,
		RecoveryTimeout:  time.Minute,
	})
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = cb.Execute(ctx, func(ctx context.Context) error {
				return nil
			})
		}
	})
}

// BenchmarkRetry_NoRetries measures retry with immediate success.
func BenchmarkRetry_NoRetries(b *testing.B) {
	r := NewRetry(RetryConfig{MaxRetries: 3})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = r.Do(ctx, func(ctx context.Context, attempt int) error {
			return nil
		})
	}
}

// BenchmarkRetry_Backoff measures delay computation.
func BenchmarkRetry_Backoff(b *testing.B) {
	r := NewRetry(RetryConfig{BaseBackoff: time.Millisecond, MaxBackoff: time.Second})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = r.Backoff(i%16 + 1)
	}
}

// BenchmarkRateLimiter_Allow measures non-blocking token checks.
func BenchmarkRateLimiter_Allow(b *testing.B) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerInterval: 1000000,
		Interval:            time.Second,
		Burst:               1000000,
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = rl.Allow()
	}
}

// BenchmarkRateLimiter_Wait measures the uncontended wait path.
func BenchmarkRateLimiter_Wait(b *testing.B) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerInterval: 1000000,
		Interval:            time.Second,
		Burst:               1000000,
	})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = rl.Wait(ctx)
	}
}

// BenchmarkBulkhead_Execute measures single-threaded permit handling.
func BenchmarkBulkhead_Execute(b *testing.B) {
	bh := NewBulkhead(BulkheadConfig{MaxConcurrent: 100})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = bh.Execute(ctx, func(ctx context.Context) error {
			return nil
		})
	}
}

// BenchmarkBulkhead_Concurrent measures contended permit handling.
func BenchmarkBulkhead_Concurrent(b *testing.B) {
	bh := NewBulkhead(BulkheadConfig{MaxConcurrent: 4})
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = bh.Execute(ctx, func(ctx context.Context) error {
				return nil
			})
		}
	})
}

// BenchmarkExecutor_AllPatterns measures a full gateway call.
func BenchmarkExecutor_AllPatterns(b *testing.B) {
	executor := NewExecutor(
		WithCircuitBreaker(NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 100})),
		WithRetry(NewRetry(RetryConfig{MaxRetries: 3})),
		WithRateLimiter(NewRateLimiter(RateLimiterConfig{
			RequestsPerInterval: 1000000,
			Interval:            time.Second,
			Burst:               1000000,
		})),
		WithBulkhead(NewBulkhead(BulkheadConfig{MaxConcurrent: 1000})),
		WithTimeout(time.Second),
	)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = executor.ExecuteKind(ctx, "bench", func(ctx context.Context) error {
			return nil
		})
	}
}

// BenchmarkClassify measures error classification.
func BenchmarkClassify(b *testing.B) {
	err := error(&OperationError{Attempts: 1, Err: errors.New("x")})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Classify(err)
	}
}
