// Package cache stores successful remote-call responses so repeated
// identical requests skip the gateway entirely.
//
// Keys are derived from the call kind and the canonical JSON of its input.
// A Middleware consults the Cache before invoking the call: a hit spends no
// rate-limit token, takes no concurrency permit and never touches the
// circuit breaker. Concurrent misses for the same key share one call. Errors
// are never cached.
//
// MemoryCache serves a single process. RedisCache shares entries across
// replicas.
package cache
