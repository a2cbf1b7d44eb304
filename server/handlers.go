package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jonwraymond/callgate/gateway"
	"github.com/jonwraymond/callgate/llm"
	"github.com/jonwraymond/callgate/observe"
)

// maxBodyBytes bounds chat completion request bodies.
const maxBodyBytes = 1 << 20

// GatewaysResponse is the body of GET /v1/gateways.
type GatewaysResponse struct {
	Gateways []gateway.Stats `json:"gateways"`
}

func (s *Server) handleListGateways(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, GatewaysResponse{Gateways: s.deps.Gateways.Stats()})
}

func (s *Server) handleGetGateway(w http.ResponseWriter, r *http.Request) {
	g, ok := s.lookupGateway(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, g.Stats())
}

func (s *Server) handleResetGateway(w http.ResponseWriter, r *http.Request) {
	g, ok := s.lookupGateway(w, r)
	if !ok {
		return
	}
	g.Reset()
	writeJSON(w, http.StatusOK, g.Stats())
}

func (s *Server) lookupGateway(w http.ResponseWriter, r *http.Request) (*gateway.Gateway, bool) {
	g, err := s.deps.Gateways.Get(chi.URLParam(r, "name"))
	if errors.Is(err, gateway.ErrGatewayNotFound) {
		writeError(w, r, http.StatusNotFound, "gateway_not_found", err.Error())
		return nil, false
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return nil, false
	}
	return g, true
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req llm.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed request body: "+err.Error())
		return
	}

	resp, err := s.deps.LLM.Complete(r.Context(), &req)
	if err != nil {
		s.logger.Debug(r.Context(), "chat completion failed", observe.F("error", err))
		writeCallError(w, r, s.deps.LLM.Gateway(), err)
		return
	}

	if resp.Cached {
		w.Header().Set("X-Cache", "hit")
	} else {
		w.Header().Set("X-Cache", "miss")
	}
	writeJSON(w, http.StatusOK, resp)
}
