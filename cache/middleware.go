package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/callgate/resilience"
)

// CallFunc performs the remote call on a miss, typically through a gateway.
type CallFunc func(ctx context.Context) ([]byte, error)

// Stats counts middleware outcomes.
type Stats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Shared   int64 `json:"shared"`
	Bypassed int64 `json:"bypassed"`

	// StoreErrors counts successful responses the cache failed to store.
	StoreErrors int64 `json:"store_errors"`
}

// Middleware serves calls from a Cache and fills it on success.
type Middleware struct {
	cache  Cache
	keyer  Keyer
	policy Policy
	group  singleflight.Group

	hits, misses, shared, bypassed, storeErrors atomic.Int64
}

// NewMiddleware creates a Middleware. A nil keyer uses NewDefaultKeyer.
func NewMiddleware(c Cache, keyer Keyer, policy Policy) (*Middleware, error) {
	if c == nil {
		return nil, ErrNilCache
	}
	if keyer == nil {
		keyer = NewDefaultKeyer()
	}
	return &Middleware{cache: c, keyer: keyer, policy: policy}, nil
}

// Execute returns the cached response for (kind, input) or runs call.
//
// A hit returns without running call. Concurrent misses for the same key
// share a single call. It runs with the first caller's ctx values but not
// its cancellation, so one caller leaving never fails the others. A caller
// whose ctx ends first leaves with an error wrapping resilience.ErrCancelled.
// Only successful responses are stored. When the kind is not cacheable or the
// input cannot be keyed, call runs directly.
func (m *Middleware) Execute(ctx context.Context, kind string, input any, call CallFunc) ([]byte, error) {
	return m.ExecuteTTL(ctx, kind, input, 0, call)
}

// ExecuteTTL is Execute with a TTL override, clamped by the policy.
func (m *Middleware) ExecuteTTL(ctx context.Context, kind string, input any, ttl time.Duration, call CallFunc) ([]byte, error) {
	if !m.policy.Cacheable(kind) {
		m.bypassed.Add(1)
		return call(ctx)
	}
	key, err := m.keyer.Key(kind, input)
	if err != nil || ValidateKey(key) != nil {
		m.bypassed.Add(1)
		return call(ctx)
	}

	if v, ok := m.cache.Get(ctx, key); ok {
		m.hits.Add(1)
		return v, nil
	}
	m.misses.Add(1)

	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (any, error) {
		v, err := call(detached)
		if err != nil {
			return nil, err
		}
		if err := m.cache.Set(detached, key, v, m.policy.EffectiveTTL(ttl)); err != nil {
			m.storeErrors.Add(1)
		}
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			m.shared.Add(1)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", resilience.ErrCancelled, ctx.Err())
	}
}

// Invalidate removes the entry for (kind, input).
func (m *Middleware) Invalidate(ctx context.Context, kind string, input any) error {
	key, err := m.keyer.Key(kind, input)
	if err != nil {
		return err
	}
	return m.cache.Delete(ctx, key)
}

// Stats returns the outcome counters.
func (m *Middleware) Stats() Stats {
	return Stats{
		Hits:     m.hits.Load(),
		Misses:   m.misses.Load(),
		Shared:   m.shared.Load(),
		Bypassed: m.bypassed.Load(),

		StoreErrors: m.storeErrors.Load(),
	}
}
