package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jonwraymond/callgate/auth"
	"github.com/jonwraymond/callgate/health"
)

func (s *Server) registerRoutes() {
	r := s.router

	health.RegisterHandlers(r, s.deps.Health)
	r.Get("/health/{name}", health.CheckHandler(s.deps.Health, func(req *http.Request) string {
		return chi.URLParam(req, "name")
	}))

	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Middleware(s.deps.Authenticator))

		r.With(s.require(auth.PermGatewaysRead)).Get("/gateways", s.handleListGateways)
		r.With(s.require(auth.PermGatewaysRead)).Get("/gateways/{name}", s.handleGetGateway)
		r.With(s.require(auth.PermGatewaysReset)).Post("/gateways/{name}/reset", s.handleResetGateway)

		if s.deps.LLM != nil {
			r.With(s.require(auth.PermChatComplete)).Post("/chat/completions", s.handleChatCompletions)
		}
	})
}

// require enforces permission when authentication is enabled.
func (s *Server) require(permission string) func(http.Handler) http.Handler {
	if s.deps.Authenticator == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return auth.Authorize(s.deps.Authorizer, permission)
}
