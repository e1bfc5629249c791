package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/ThirdKeyAI/symbiont-sched/internal/store"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status string       `json:"status"` // "ok" or "degraded"
	Jobs   store.Counts `json:"jobs"`
}

// handleHealth returns an http.HandlerFunc for GET /health.
// Returns 200 when the store answers, 503 when it is unreachable.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok"}

		counts, err := g.dispatcher.Store().Counts(r.Context())
		if err != nil {
			resp.Status = "degraded"
		} else {
			resp.Jobs = counts
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == "degraded" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
