package gateway

import (
	"context"
	"fmt"

	"github.com/jonwraymond/callgate/health"
	"github.com/jonwraymond/callgate/resilience"
)

// Checker reports the gateway's breaker state as a health check: closed is
// healthy, half-open is degraded and open is unhealthy.
func (g *Gateway) Checker() health.Checker {
	return health.NewCheckerFunc("gateway."+g.name, func(ctx context.Context) health.Result {
		s := g.Stats()
		details := map[string]any{
			"state":                s.State,
			"consecutive_failures": s.Failures,
			"tokens_available":     s.Tokens,
			"active_permits":       s.ActivePermits,
			"max_concurrent":       s.MaxConcurrent,
		}

		var r health.Result
		switch g.breaker.State() {
		case resilience.StateOpen:
			r = health.Unhealthy("circuit open", fmt.Errorf("gateway %q: %w", g.name, ErrCircuitOpen))
		case resilience.StateHalfOpen:
			r = health.Degraded("circuit half-open, probing")
		default:
			r = health.Healthy("circuit closed")
		}
		return r.WithDetails(details)
	})
}
