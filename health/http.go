package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Router is satisfied by http.ServeMux and chi.Router.
type Router interface {
	Handle(pattern string, h http.Handler)
}

// RegisterHandlers mounts /healthz, /readyz and /health on r.
func RegisterHandlers(r Router, agg *Aggregator) {
	r.Handle("/healthz", LivenessHandler())
	r.Handle("/readyz", ReadinessHandler(agg))
	r.Handle("/health", DetailedHandler(agg))
}

// LivenessHandler answers 200 while the process can serve HTTP at all.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}
}

// ReadinessHandler answers 503 when any check is unhealthy.
func ReadinessHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		report := agg.Run(ctx)
		writeJSON(w, statusCode(report.Status), map[string]Status{"status": report.Status})
	}
}

// Response is the body of the detailed endpoint.
type Response struct {
	Status    Status                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Checks    map[string]CheckResponse `json:"checks,omitempty"`
}

// CheckResponse is one check within a Response.
type CheckResponse struct {
	Status   Status         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func toCheckResponse(r Result) CheckResponse {
	c := CheckResponse{
		Status:   r.Status,
		Message:  r.Message,
		Duration: r.Duration.String(),
		Details:  r.Details,
	}
	if r.Error != nil {
		c.Error = r.Error.Error()
	}
	return c
}

// DetailedHandler reports every check with its details.
func DetailedHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		report := agg.Run(ctx)
		resp := Response{
			Status:    report.Status,
			Timestamp: report.Timestamp.UTC(),
			Checks:    make(map[string]CheckResponse, len(report.Results)),
		}
		for name, result := range report.Results {
			resp.Checks[name] = toCheckResponse(result)
		}
		writeJSON(w, statusCode(report.Status), resp)
	}
}

// CheckHandler reports the single check named by name(r).
func CheckHandler(agg *Aggregator, name func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		result, err := agg.Check(ctx, name(r))
		if errors.Is(err, ErrCheckerNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, statusCode(result.Status), toCheckResponse(result))
	}
}

func statusCode(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
