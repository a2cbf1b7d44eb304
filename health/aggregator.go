package health

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// AggregatorConfig configures an Aggregator.
type AggregatorConfig struct {
	// Timeout bounds a full round of checks. A checker still running at the
	// deadline is reported unhealthy with ErrCheckTimeout.
	// Default: 10 seconds
	Timeout time.Duration

	// MaxParallel caps how many checks run at once. Zero runs them all
	// concurrently; one runs them in registration order.
	// Default: 0
	MaxParallel int
}

// Report is the result of one round of checks.
type Report struct {
	Status    Status
	Results   map[string]Result
	Timestamp time.Time
}

// Aggregator runs a set of named checkers.
type Aggregator struct {
	config AggregatorConfig

	mu       sync.RWMutex
	checkers map[string]Checker
	order    []string
}

// NewAggregator creates an empty Aggregator.
func NewAggregator(config ...AggregatorConfig) *Aggregator {
	var cfg AggregatorConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Aggregator{
		config:   cfg,
		checkers: make(map[string]Checker),
	}
}

// Register adds or replaces the checker under name.
func (a *Aggregator) Register(name string, checker Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.checkers[name]; !exists {
		a.order = append(a.order, name)
	}
	a.checkers[name] = checker
}

// Unregister removes the checker under name.
func (a *Aggregator) Unregister(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.checkers, name)
	a.order = slices.DeleteFunc(a.order, func(n string) bool { return n == name })
}

// CheckerNames returns the registered names in registration order.
func (a *Aggregator) CheckerNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.order)
}

// Check runs the checker registered under name.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	checker, ok := a.checkers[name]
	a.mu.RUnlock()
	if !ok {
		return Result{}, ErrCheckerNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()
	return runCheck(ctx, checker), nil
}

// CheckAll runs every registered checker and returns results by name.
func (a *Aggregator) CheckAll(ctx context.Context) map[string]Result {
	a.mu.RLock()
	names := slices.Clone(a.order)
	checkers := make([]Checker, len(names))
	for i, name := range names {
		checkers[i] = a.checkers[name]
	}
	a.mu.RUnlock()

	results := make(map[string]Result, len(names))
	if len(names) == 0 {
		return results
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	if a.config.MaxParallel > 0 {
		g.SetLimit(a.config.MaxParallel)
	}
	for i, checker := range checkers {
		g.Go(func() error {
			r := runCheck(ctx, checker)
			mu.Lock()
			results[names[i]] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Run checks every component and folds the results into a Report.
func (a *Aggregator) Run(ctx context.Context) Report {
	results := a.CheckAll(ctx)
	return Report{
		Status:    Worst(results),
		Results:   results,
		Timestamp: time.Now(),
	}
}

// OverallStatus returns the worst status among results.
func (a *Aggregator) OverallStatus(results map[string]Result) Status {
	return Worst(results)
}

// Worst returns the worst status among results, or StatusHealthy when there
// are none.
func Worst(results map[string]Result) Status {
	worst := StatusHealthy
	for _, r := range results {
		worst = max(worst, r.Status)
	}
	return worst
}

// runCheck abandons a checker that ignores ctx once ctx is done.
func runCheck(ctx context.Context, checker Checker) Result {
	start := time.Now()
	done := make(chan Result, 1)

	go func() {
		r := checker.Check(ctx)
		if r.Timestamp.IsZero() {
			r.Timestamp = start
		}
		done <- r.WithDuration(time.Since(start))
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		r := Unhealthy("check timed out", ErrCheckTimeout)
		r.Timestamp = start
		return r.WithDuration(time.Since(start))
	}
}

// Checker exposes the aggregator as a single Checker named "aggregate".
func (a *Aggregator) Checker() Checker {
	return NewCheckerFunc("aggregate", func(ctx context.Context) Result {
		report := a.Run(ctx)

		details := make(map[string]any, len(report.Results))
		for name, r := range report.Results {
			details[name] = r.Status.String()
		}

		var r Result
		switch report.Status {
		case StatusUnhealthy:
			r = Unhealthy("some checks failed", ErrCheckFailed)
		case StatusDegraded:
			r = Degraded("some checks degraded")
		default:
			r = Healthy("all checks passed")
		}
		return r.WithDetails(details)
	})
}
