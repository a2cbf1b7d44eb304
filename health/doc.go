// Package health reports whether callgate and its downstream dependencies
// can serve traffic.
//
// A Checker reports one component as healthy, degraded or unhealthy. Each
// gateway exposes its circuit breaker as a Checker, the Redis cache exposes a
// ping, and RuntimeChecker watches goroutine and heap growth. An Aggregator
// runs registered checkers concurrently under a deadline and folds their
// results into one Report whose status is the worst of its parts.
//
//	agg := health.NewAggregator()
//	agg.Register("runtime", health.NewRuntimeChecker(health.RuntimeCheckerConfig{}))
//	agg.Register("gateway.openai", gw.Checker())
//
//	report := agg.Run(ctx)
//	if report.Status == health.StatusUnhealthy {
//		// stop routing traffic here
//	}
//
// # HTTP
//
// RegisterHandlers mounts the liveness (/healthz), readiness (/readyz) and
// detailed (/health) endpoints on any router with a Handle method, including
// http.ServeMux and chi.Router. Readiness fails with 503 only when a check is
// unhealthy, so a half-open breaker keeps the instance in rotation.
package health
