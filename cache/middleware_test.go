package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/callgate/gateway"
	"github.com/jonwraymond/callgate/resilience"
)

func newTestMiddleware(t *testing.T, p Policy) (*Middleware, *MemoryCache) {
	t.Helper()
	c := NewMemoryCache()
	m, err := NewMiddleware(c, nil, p)
	if err != nil {
		t.Fatalf("NewMiddleware() error = %v", err)
	}
	return m, c
}

func counting(calls *atomic.Int32, body string) CallFunc {
	return func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte(body), nil
	}
}

func TestNewMiddleware_NilCache(t *testing.T) {
	if _, err := NewMiddleware(nil, nil, DefaultPolicy()); !errors.Is(err, ErrNilCache) {
		t.Errorf("error = %v, want ErrNilCache", err)
	}
}

func TestMiddleware_HitSkipsCall(t *testing.T) {
	m, _ := newTestMiddleware(t, DefaultPolicy())
	ctx := context.Background()
	input := map[string]any{"prompt": "hi"}

	var calls atomic.Int32
	for range 3 {
		v, err := m.Execute(ctx, "chat", input, counting(&calls, "hello"))
		if err != nil || string(v) != "hello" {
			t.Fatalf("Execute() = %q, %v", v, err)
		}
	}

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if s := m.Stats(); s.Hits != 2 || s.Misses != 1 {
		t.Errorf("Stats() = %+v, want 2 hits 1 miss", s)
	}
}

func TestMiddleware_ErrorsNotCached(t *testing.T) {
	m, c := newTestMiddleware(t, DefaultPolicy())
	ctx := context.Background()

	boom := errors.New("upstream 500")
	_, err := m.Execute(ctx, "chat", "q", func(ctx context.Context) ([]byte, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Execute() error = %v, want %v", err, boom)
	}
	if c.Len() != 0 {
		t.Error("error response was cached")
	}

	var calls atomic.Int32
	if _, err := m.Execute(ctx, "chat", "q", counting(&calls, "ok")); err != nil || calls.Load() != 1 {
		t.Errorf("retry after error: calls = %d, err = %v", calls.Load(), err)
	}
}

func TestMiddleware_Bypass(t *testing.T) {
	p := DefaultPolicy()
	p.SkipKinds = []string{"payments.charge"}

	tests := []struct {
		name   string
		policy Policy
		kind   string
		input  any
	}{
		{"disabled policy", NoCachePolicy(), "chat", "q"},
		{"skipped kind", p, "payments.charge", "q"},
		{"unkeyable input", p, "chat", make(chan int)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, c := newTestMiddleware(t, tt.policy)
			var calls atomic.Int32
			for range 2 {
				_, _ = m.Execute(context.Background(), tt.kind, tt.input, counting(&calls, "v"))
			}
			if calls.Load() != 2 {
				t.Errorf("calls = %d, want 2", calls.Load())
			}
			if c.Len() != 0 || m.Stats().Bypassed != 2 {
				t.Errorf("Len() = %d, Stats() = %+v", c.Len(), m.Stats())
			}
		})
	}
}

func TestMiddleware_CoalescesMisses(t *testing.T) {
	m, _ := newTestMiddleware(t, DefaultPolicy())

	var calls atomic.Int32
	release := make(chan struct{})
	call := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("shared"), nil
	}

	const callers = 10
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _ := m.Execute(context.Background(), "chat", "same", call)
			results[i] = string(v)
		}()
	}

	for calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	for i, r := range results {
		if r != "shared" {
			t.Errorf("caller %d got %q", i, r)
		}
	}
}

func TestMiddleware_FollowerCancel(t *testing.T) {
	m, _ := newTestMiddleware(t, DefaultPolicy())

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = m.Execute(context.Background(), "chat", "q", func(ctx context.Context) ([]byte, error) {
			close(started)
			<-release
			return []byte("late"), nil
		})
	}()
	<-started
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.Execute(ctx, "chat", "q", func(ctx context.Context) ([]byte, error) {
		t.Error("follower ran its own call")
		return nil, nil
	})
	if resilience.Classify(err) != resilience.ClassCancelled {
		t.Errorf("error = %v, want cancelled", err)
	}
}

func TestMiddleware_LeaderCancelDoesNotFailFollowers(t *testing.T) {
	m, c := newTestMiddleware(t, DefaultPolicy())

	release := make(chan struct{})
	started := make(chan struct{})
	call := func(ctx context.Context) ([]byte, error) {
		close(started)
		select {
		case <-release:
			return []byte("answer"), nil
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", resilience.ErrCancelled, ctx.Err())
		}
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := m.Execute(leaderCtx, "chat", "q", call)
		leaderErr <- err
	}()
	<-started

	type result struct {
		v   []byte
		err error
	}
	follower := make(chan result, 1)
	go func() {
		v, err := m.Execute(context.Background(), "chat", "q", func(ctx context.Context) ([]byte, error) {
			t.Error("follower ran its own call")
			return nil, nil
		})
		follower <- result{v, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	if err := <-leaderErr; resilience.Classify(err) != resilience.ClassCancelled {
		t.Errorf("leader error = %v, want cancelled", err)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)

	got := <-follower
	if got.err != nil {
		t.Fatalf("follower error = %v, want the shared answer", got.err)
	}
	if string(got.v) != "answer" {
		t.Errorf("follower got %q, want answer", got.v)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want the answer stored", c.Len())
	}
}

type failingStore struct{ *MemoryCache }

func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("redis: connection refused")
}

func TestMiddleware_StoreErrorsCounted(t *testing.T) {
	m, err := NewMiddleware(failingStore{NewMemoryCache()}, nil, DefaultPolicy())
	if err != nil {
		t.Fatalf("NewMiddleware() error = %v", err)
	}

	var calls atomic.Int32
	v, err := m.Execute(context.Background(), "chat", "q", counting(&calls, "fresh"))
	if err != nil || string(v) != "fresh" {
		t.Fatalf("Execute() = %q, %v; a failed store must not fail the call", v, err)
	}
	if s := m.Stats(); s.StoreErrors != 1 {
		t.Errorf("StoreErrors = %d, want 1", s.StoreErrors)
	}
}

func TestMiddleware_ExecuteTTL(t *testing.T) {
	m, c := newTestMiddleware(t, DefaultPolicy())
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	var calls atomic.Int32
	_, _ = m.ExecuteTTL(context.Background(), "chat", "q", 10*time.Second, counting(&calls, "v"))

	now = now.Add(11 * time.Second)
	_, _ = m.Execute(context.Background(), "chat", "q", counting(&calls, "v"))
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want entry expired after override TTL", calls.Load())
	}
}

func TestMiddleware_Invalidate(t *testing.T) {
	m, _ := newTestMiddleware(t, DefaultPolicy())
	ctx := context.Background()

	var calls atomic.Int32
	_, _ = m.Execute(ctx, "chat", "q", counting(&calls, "v"))
	if err := m.Invalidate(ctx, "chat", "q"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	_, _ = m.Execute(ctx, "chat", "q", counting(&calls, "v"))
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestMiddleware_HitBypassesGateway(t *testing.T) {
	cfg := gateway.DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.MaxRetries = 0
	cfg.Burst = 10
	g, err := gateway.New("upstream", cfg)
	if err != nil {
		t.Fatalf("gateway.New() error = %v", err)
	}
	m, _ := newTestMiddleware(t, DefaultPolicy())
	ctx := context.Background()

	var calls atomic.Int32
	through := func(body string, fail bool) CallFunc {
		return func(ctx context.Context) ([]byte, error) {
			return gateway.Do(ctx, g, "chat", func(ctx context.Context) ([]byte, error) {
				calls.Add(1)
				if fail {
					return nil, errors.New("down")
				}
				return []byte(body), nil
			})
		}
	}

	if _, err := m.Execute(ctx, "chat", "cached", through("answer", false)); err != nil {
		t.Fatalf("first call error = %v", err)
	}
	// Open the breaker with an uncached failure
	_, _ = m.Execute(ctx, "chat", "other", through("", true))
	if g.State() != resilience.StateOpen {
		t.Fatalf("State = %v, want open", g.State())
	}

	before := g.Stats()
	v, err := m.Execute(ctx, "chat", "cached", through("unused", false))
	if err != nil || string(v) != "answer" {
		t.Errorf("cached call = %q, %v", v, err)
	}
	after := g.Stats()
	if after.Rejected != before.Rejected || calls.Load() != 2 {
		t.Errorf("hit reached the gateway: rejected %d -> %d, calls = %d", before.Rejected, after.Rejected, calls.Load())
	}
}
