package cache

import (
	"slices"
	"time"
)

// Policy decides whether and for how long responses are cached.
type Policy struct {
	// DefaultTTL applies when no override is given. Zero disables caching.
	// Default: 5 minutes
	DefaultTTL time.Duration

	// MaxTTL clamps every TTL. Zero means no ceiling.
	// Default: 1 hour
	MaxTTL time.Duration

	// SkipKinds lists call kinds that are never cached, such as
	// non-idempotent writes.
	// Default: none
	SkipKinds []string
}

// DefaultPolicy caches for 5 minutes with a 1 hour ceiling.
func DefaultPolicy() Policy {
	return Policy{DefaultTTL: 5 * time.Minute, MaxTTL: time.Hour}
}

// NoCachePolicy disables caching.
func NoCachePolicy() Policy {
	return Policy{}
}

// ShouldCache reports whether the policy caches anything.
func (p Policy) ShouldCache() bool {
	return p.DefaultTTL > 0
}

// Cacheable reports whether responses of kind are cached.
func (p Policy) Cacheable(kind string) bool {
	return p.ShouldCache() && !slices.Contains(p.SkipKinds, kind)
}

// EffectiveTTL returns override, or DefaultTTL when override is not
// positive, clamped to MaxTTL.
func (p Policy) EffectiveTTL(override time.Duration) time.Duration {
	ttl := override
	if ttl <= 0 {
		ttl = p.DefaultTTL
	}
	if p.MaxTTL > 0 {
		ttl = min(ttl, p.MaxTTL)
	}
	return ttl
}
