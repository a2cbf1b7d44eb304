package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/callgate/health"
	"github.com/jonwraymond/callgate/observe"
	"github.com/jonwraymond/callgate/resilience"
)

// fakeClock advances by the requested duration whenever After is called.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

// testConfig is generous on admission so tests exercise one concern at a time.
func testConfig() Config {
	return Config{
		RequestsPerInterval: 1000,
		Interval:            time.Second,
		Burst:               1000,
		MaxConcurrent:       100,
		FailureThreshold:    5,
		RecoveryTimeout:     60 * time.Second,
		BaseBackoff:         time.Second,
		MaxBackoff:          30 * time.Second,
	}
}

func mustNew(t *testing.T, cfg Config, opts ...Option) *Gateway {
	t.Helper()
	g, err := New("test", cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return g
}

func failing(calls *atomic.Int32, err error) Operation {
	return Operation{Kind: "probe", Call: func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, err
	}}
}

func succeeding(calls *atomic.Int32, v any) Operation {
	return Operation{Kind: "probe", Call: func(ctx context.Context) (any, error) {
		calls.Add(1)
		return v, nil
	}}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", testConfig()); !errors.Is(err, ErrMissingName) {
		t.Errorf("New(\"\") error = %v, want ErrMissingName", err)
	}

	cfg := testConfig()
	cfg.MaxConcurrent = 0
	if _, err := New("x", cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New() error = %v, want ErrInvalidConfig", err)
	}
}

func TestNew_ZeroConfigUsesDefaults(t *testing.T) {
	g := mustNew(t, Config{})
	if g.Config() != DefaultConfig() {
		t.Errorf("Config() = %+v, want defaults", g.Config())
	}
}

func TestExecute_ReturnsPayload(t *testing.T) {
	g := mustNew(t, testConfig())

	var calls atomic.Int32
	v, err := g.Execute(context.Background(), succeeding(&calls, "hello"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if v != "hello" {
		t.Errorf("Execute() = %v, want hello", v)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestExecute_NilOperation(t *testing.T) {
	g := mustNew(t, testConfig())
	if _, err := g.Execute(context.Background(), Operation{Kind: "x"}); !errors.Is(err, ErrNilOperation) {
		t.Errorf("Execute() error = %v, want ErrNilOperation", err)
	}
}

func TestExecute_OpensAfterThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 3
	g := mustNew(t, cfg, WithClock(newFakeClock()))

	var calls atomic.Int32
	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_, err := g.Execute(context.Background(), failing(&calls, boom))
		if resilience.Classify(err) != resilience.ClassOperation {
			t.Fatalf("call %d: class = %v, want operation", i+1, resilience.Classify(err))
		}
		if !errors.Is(err, boom) {
			t.Errorf("call %d: error does not carry the underlying cause", i+1)
		}
	}
	if g.State() != resilience.StateOpen {
		t.Fatalf("State = %v, want open", g.State())
	}

	var fourth atomic.Int32
	_, err := g.Execute(context.Background(), succeeding(&fourth, nil))
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("fourth call error = %v, want ErrCircuitOpen", err)
	}
	if !IsUnavailable(err) {
		t.Error("IsUnavailable() = false, want true")
	}
	if fourth.Load() != 0 {
		t.Errorf("operation invoked %d times while open", fourth.Load())
	}

	// Shedding consumed no token or permit
	s := g.Stats()
	if s.ActivePermits != 0 {
		t.Errorf("ActivePermits = %d, want 0", s.ActivePermits)
	}
	if s.Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", s.Rejected)
	}
}

func TestExecute_ProbeAfterRecovery(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = 60 * time.Second
	g := mustNew(t, cfg, WithClock(clock))

	var calls atomic.Int32
	_, _ = g.Execute(context.Background(), failing(&calls, errors.New("down")))

	clock.Advance(30 * time.Second)
	if _, err := g.Execute(context.Background(), succeeding(&calls, nil)); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("call at T+30 error = %v, want ErrCircuitOpen", err)
	}

	clock.Advance(31 * time.Second)
	calls.Store(0)
	if _, err := g.Execute(context.Background(), succeeding(&calls, nil)); err != nil {
		t.Fatalf("probe at T+61 error = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("probe invocations = %d, want 1", calls.Load())
	}
	if g.State() != resilience.StateClosed {
		t.Errorf("State after probe = %v, want closed", g.State())
	}

	clock.Advance(time.Second)
	if _, err := g.Execute(context.Background(), succeeding(&calls, nil)); err != nil {
		t.Errorf("call at T+62 error = %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("invocations = %d, want 2", calls.Load())
	}
	if g.Stats().Failures != 0 {
		t.Errorf("Failures = %d, want 0", g.Stats().Failures)
	}
}

func TestExecute_RetrySchedule(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.MaxRetries = 2
	cfg.BaseBackoff = time.Second
	cfg.MaxBackoff = 4 * time.Second
	g := mustNew(t, cfg, WithClock(clock))

	var calls atomic.Int32
	v, err := g.Execute(context.Background(), Operation{Kind: "flaky", Call: func(ctx context.Context) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return "third time", nil
	}})

	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if v != "third time" {
		t.Errorf("Execute() = %v, want third time", v)
	}
	if calls.Load() != 3 {
		t.Errorf("invocations = %d, want 3", calls.Load())
	}

	var backoffs []time.Duration
	for _, w := range clock.Waits() {
		if w >= time.Second {
			backoffs = append(backoffs, w)
		}
	}
	if len(backoffs) != 2 || backoffs[0] != time.Second || backoffs[1] != 2*time.Second {
		t.Errorf("backoffs = %v, want [1s 2s]", backoffs)
	}
}

func TestExecute_ExhaustedRetriesCountOnce(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 2
	cfg.MaxRetries = 3
	g := mustNew(t, cfg, WithClock(newFakeClock()))

	var calls atomic.Int32
	_, err := g.Execute(context.Background(), failing(&calls, errors.New("down")))

	var opErr *resilience.OperationError
	if !errors.As(err, &opErr) || opErr.Attempts != 4 {
		t.Fatalf("error = %v, want OperationError after 4 attempts", err)
	}
	if g.State() != resilience.StateClosed || g.Stats().Failures != 1 {
		t.Errorf("breaker = %v with %d failures, want closed with 1", g.State(), g.Stats().Failures)
	}
}

func TestExecute_PermanentNotRetried(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 3
	g := mustNew(t, cfg, WithClock(newFakeClock()))

	var calls atomic.Int32
	_, err := g.Execute(context.Background(), failing(&calls, resilience.Permanent(errors.New("400 bad request"))))

	if resilience.Classify(err) != resilience.ClassOperation {
		t.Errorf("class = %v, want operation", resilience.Classify(err))
	}
	if calls.Load() != 1 {
		t.Errorf("invocations = %d, want 1", calls.Load())
	}
	if g.Stats().Failures != 1 {
		t.Errorf("Failures = %d, want 1", g.Stats().Failures)
	}
}

func TestExecute_ConcurrencyBound(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 2
	g := mustNew(t, cfg)

	release := make(chan struct{})
	var running, peak atomic.Int32
	slow := Operation{Kind: "slow", Call: func(ctx context.Context) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil, nil
	}}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.Execute(context.Background(), slow)
		}()
	}

	deadline := time.Now().Add(time.Second)
	for running.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if got := running.Load(); got != 2 {
		t.Fatalf("running = %d, want exactly 2 before release", got)
	}
	if got := g.Stats().ActivePermits; got != 2 {
		t.Errorf("ActivePermits = %d, want 2", got)
	}

	close(release)
	wg.Wait()

	if got := peak.Load(); got != 2 {
		t.Errorf("peak = %d, want 2", got)
	}
	if got := g.Stats().ActivePermits; got != 0 {
		t.Errorf("ActivePermits after = %d, want 0", got)
	}
}

func TestExecute_AcquireTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	cfg.AcquireTimeout = 10 * time.Millisecond
	g := mustNew(t, cfg)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = g.Execute(context.Background(), Operation{Call: func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return nil, nil
		}})
	}()
	<-started
	defer close(release)

	_, err := g.Execute(context.Background(), Operation{Call: func(ctx context.Context) (any, error) {
		t.Error("operation invoked without a permit")
		return nil, nil
	}})
	if !errors.Is(err, ErrConcurrencyTimeout) {
		t.Errorf("error = %v, want ErrConcurrencyTimeout", err)
	}
	if g.State() != resilience.StateClosed || g.Stats().Failures != 0 {
		t.Error("admission timeout was recorded against the breaker")
	}
}

func TestExecute_RateLimitDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.RequestsPerInterval = 1
	cfg.Interval = time.Hour
	cfg.Burst = 1
	g := mustNew(t, cfg)

	var calls atomic.Int32
	if _, err := g.Execute(context.Background(), succeeding(&calls, nil)); err != nil {
		t.Fatalf("first call error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := g.Execute(ctx, succeeding(&calls, nil))

	if resilience.Classify(err) != resilience.ClassRateLimitTimeout {
		t.Errorf("class = %v, want rate_limit_timeout", resilience.Classify(err))
	}
	if calls.Load() != 1 {
		t.Errorf("invocations = %d, want 1", calls.Load())
	}
}

func TestExecute_CancelReleasesEverything(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	g := mustNew(t, cfg)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = g.Execute(context.Background(), Operation{Call: func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return nil, nil
		}})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := g.Execute(ctx, Operation{Call: func(ctx context.Context) (any, error) {
			return nil, nil
		}})
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	if err := <-errc; !errors.Is(err, ErrCancelled) {
		t.Errorf("error = %v, want ErrCancelled", err)
	}

	close(release)
	<-done

	s := g.Stats()
	if s.ActivePermits != 0 || s.Failures != 0 || s.State != "closed" {
		t.Errorf("Stats = %+v, want idle closed gateway", s)
	}
}

func TestExecute_AttemptTimeoutKeepsLatestResult(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1
	cfg.BaseBackoff = time.Millisecond
	cfg.MaxBackoff = time.Millisecond
	cfg.AttemptTimeout = 20 * time.Millisecond
	g := mustNew(t, cfg)

	var calls atomic.Int32
	v, err := g.Execute(context.Background(), Operation{Call: func(ctx context.Context) (any, error) {
		if calls.Add(1) == 1 {
			// Ignores its deadline and finishes late
			time.Sleep(80 * time.Millisecond)
			return "stale", nil
		}
		return "fresh", nil
	}})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if v != "fresh" {
		t.Errorf("Execute() = %v, want fresh", v)
	}
}

func TestExecute_TimedOutAttemptHoldsPermit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	cfg.MaxRetries = 3
	cfg.BaseBackoff = time.Millisecond
	cfg.MaxBackoff = time.Millisecond
	cfg.AttemptTimeout = 10 * time.Millisecond
	g := mustNew(t, cfg)

	var running, peak atomic.Int32
	hung := Operation{Kind: "hung", Call: func(ctx context.Context) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		// Ignores its deadline
		time.Sleep(40 * time.Millisecond)
		running.Add(-1)
		return nil, nil
	}}

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.Execute(context.Background(), hung)
		}()
	}
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for g.Stats().ActivePermits > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if got := peak.Load(); got != 1 {
		t.Errorf("peak in-flight = %d, want 1 with MaxConcurrent 1", got)
	}
	if got := g.Stats().ActivePermits; got != 0 {
		t.Errorf("ActivePermits = %d, want 0", got)
	}
}

func TestDo_Typed(t *testing.T) {
	g := mustNew(t, testConfig())

	n, err := Do(context.Background(), g, "count", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || n != 42 {
		t.Errorf("Do() = %d, %v; want 42, nil", n, err)
	}

	p, err := Do(context.Background(), g, "nil", func(ctx context.Context) (*int, error) {
		return nil, nil
	})
	if err != nil || p != nil {
		t.Errorf("Do() = %v, %v; want nil, nil", p, err)
	}

	_, err = Do(context.Background(), g, "fail", func(ctx context.Context) (string, error) {
		return "", errors.New("nope")
	})
	if !errors.Is(err, ErrOperationFailed) {
		t.Errorf("Do() error = %v, want ErrOperationFailed", err)
	}
}

func TestReset(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 1
	g := mustNew(t, cfg)

	var calls atomic.Int32
	_, _ = g.Execute(context.Background(), failing(&calls, errors.New("down")))
	if g.State() != resilience.StateOpen {
		t.Fatalf("State = %v, want open", g.State())
	}

	g.Reset()
	if g.State() != resilience.StateClosed {
		t.Errorf("State after Reset = %v, want closed", g.State())
	}
	if _, err := g.Execute(context.Background(), succeeding(&calls, nil)); err != nil {
		t.Errorf("Execute() after Reset error = %v", err)
	}
}

func TestChecker(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.FailureThreshold = 1
	g := mustNew(t, cfg, WithClock(clock))
	checker := g.Checker()

	if checker.Name() != "gateway.test" {
		t.Errorf("Name() = %q, want gateway.test", checker.Name())
	}
	if r := checker.Check(context.Background()); r.Status != health.StatusHealthy {
		t.Errorf("closed: status = %v, want healthy", r.Status)
	}

	var calls atomic.Int32
	_, _ = g.Execute(context.Background(), failing(&calls, errors.New("down")))
	r := checker.Check(context.Background())
	if r.Status != health.StatusUnhealthy {
		t.Errorf("open: status = %v, want unhealthy", r.Status)
	}
	if r.Details["state"] != "open" {
		t.Errorf("details state = %v, want open", r.Details["state"])
	}

	// Hold the probe so the breaker stays half-open
	clock.Advance(2 * cfg.RecoveryTimeout)
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = g.Execute(context.Background(), Operation{Call: func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return nil, nil
		}})
	}()
	<-started
	if r := checker.Check(context.Background()); r.Status != health.StatusDegraded {
		t.Errorf("half-open: status = %v, want degraded", r.Status)
	}
	close(release)
	<-done
}

type logEntry map[string]any

func parseLogs(t *testing.T, buf *bytes.Buffer) []logEntry {
	t.Helper()
	var out []logEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e logEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, e)
	}
	return out
}

func findLogs(entries []logEntry, msg string) []logEntry {
	var out []logEntry
	for _, e := range entries {
		if e["msg"] == msg {
			out = append(out, e)
		}
	}
	return out
}

func TestExecute_EmitsLogEvents(t *testing.T) {
	var buf bytes.Buffer
	mw := observe.NewMiddleware(observe.NewNoopTracer(), observe.NewNoopMetrics(), observe.NewLoggerWithWriter("debug", &buf))

	cfg := testConfig()
	cfg.FailureThreshold = 1
	cfg.MaxRetries = 2
	g := mustNew(t, cfg, WithMiddleware(mw), WithClock(newFakeClock()))

	var calls atomic.Int32
	ctx := observe.ContextWithRequestID(context.Background(), "req-7")
	_, _ = g.Execute(ctx, failing(&calls, errors.New("upstream 503")))

	entries := parseLogs(t, &buf)

	retries := findLogs(entries, "retrying call")
	if len(retries) != 2 {
		t.Errorf("retry events = %d, want 2", len(retries))
	}
	for _, e := range retries {
		if e["gateway"] != "test" || e["request_id"] != "req-7" {
			t.Errorf("retry event missing context: %v", e)
		}
	}

	failed := findLogs(entries, "call failed after retries")
	if len(failed) != 1 || failed[0]["attempts"] != float64(3) {
		t.Errorf("exhausted events = %v, want one with 3 attempts", failed)
	}

	transitions := findLogs(entries, "circuit breaker state changed")
	if len(transitions) != 1 || transitions[0]["from"] != "closed" || transitions[0]["to"] != "open" {
		t.Errorf("transition events = %v, want closed -> open", transitions)
	}
}

func TestGateways_AreIndependent(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 1
	a, _ := New("a", cfg)
	b, _ := New("b", cfg)

	var calls atomic.Int32
	_, _ = a.Execute(context.Background(), failing(&calls, errors.New("down")))

	if a.State() != resilience.StateOpen {
		t.Errorf("a state = %v, want open", a.State())
	}
	if b.State() != resilience.StateClosed {
		t.Errorf("b state = %v, want closed", b.State())
	}
}
