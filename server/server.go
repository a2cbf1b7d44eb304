// Package server is callgate's HTTP front end: health and metrics
// endpoints, gateway administration and the chat completions proxy.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jonwraymond/callgate/auth"
	"github.com/jonwraymond/callgate/config"
	"github.com/jonwraymond/callgate/gateway"
	"github.com/jonwraymond/callgate/health"
	"github.com/jonwraymond/callgate/llm"
	"github.com/jonwraymond/callgate/observe"
)

// Deps are the components the server exposes.
type Deps struct {
	Config   config.ServerConfig
	Gateways *gateway.Registry
	Health   *health.Aggregator

	// LLM serves /v1/chat/completions. The route is absent when nil.
	LLM *llm.Client

	// Authenticator guards /v1. Nil disables authentication and
	// authorization.
	Authenticator auth.Authenticator
	Authorizer    auth.Authorizer

	// Metrics serves /metrics. The route is absent when nil.
	Metrics http.Handler

	Logger observe.Logger
}

// Server is the HTTP server.
type Server struct {
	deps   Deps
	router *chi.Mux
	server *http.Server
	logger observe.Logger
}

// New creates a server and registers its routes.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = observe.NewNoopLogger()
	}
	if deps.Health == nil {
		deps.Health = health.NewAggregator()
	}
	if deps.Gateways == nil {
		deps.Gateways = gateway.NewRegistry()
	}
	if deps.Authorizer == nil {
		deps.Authorizer = auth.NewRoleAuthorizer(nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(AccessLog(deps.Logger))
	r.Use(Recovery(deps.Logger))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusNotFound, "not_found", "the requested resource was not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusMethodNotAllowed, "method_not_allowed", "the requested method is not allowed for this resource")
	})

	s := &Server{deps: deps, router: r, logger: deps.Logger}
	s.registerRoutes()
	s.server = &http.Server{
		Handler:      r,
		ReadTimeout:  deps.Config.ReadTimeout,
		WriteTimeout: deps.Config.WriteTimeout,
		IdleTimeout:  deps.Config.IdleTimeout,
	}
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe listens on the configured address and serves until
// Shutdown. It returns nil after a graceful shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.deps.Config.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info(context.Background(), "starting HTTP server", observe.F("addr", ln.Addr().String()))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
