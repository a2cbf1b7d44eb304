// Package llm is an OpenAI-compatible chat completions client whose every
// request passes through a gateway.Gateway.
//
// Responses with a non-2xx status become *ProviderError. Client errors other
// than 408 and 429 are marked resilience.Permanent so the gateway does not
// retry them, though they still count against its circuit breaker. Transport
// errors, 408, 429 and 5xx are retried under the gateway's policy.
//
// When a cache.Middleware is attached, identical requests are answered from
// the cache without consuming a rate-limit token or a concurrency permit.
package llm
