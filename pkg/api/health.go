package api

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/xcord/hub/pkg/health"
)

// HealthResponse is the /healthz body: a pure liveness signal.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse is the /readyz body with per-dependency verdicts.
type ReadyResponse struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Checks    map[string]health.Result `json:"checks"`
	Message   string                   `json:"message,omitempty"`
}

// handleHealthz answers 200 whenever the process can serve HTTP at all.
// Load balancers use it to decide restart, not routing.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   s.deps.Version,
	})
}

// handleReadyz probes every registered dependency and answers 503
// until all of them pass.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	summary := s.deps.Readiness.Run(r.Context())

	resp := ReadyResponse{
		Status:    "ready",
		Timestamp: time.Now().UTC(),
		Checks:    summary.Checks,
	}
	code := http.StatusOK

	if !summary.Ready {
		var failing []string
		for name, res := range summary.Checks {
			if !res.Healthy {
				failing = append(failing, name)
			}
		}
		sort.Strings(failing)

		resp.Status = "not ready"
		resp.Message = "failing: " + strings.Join(failing, ", ")
		code = http.StatusServiceUnavailable
	}

	respondJSON(w, code, resp)
}
