package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ThirdKeyAI/symbiont-sched/internal/store"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime           int64           `json:"uptime_seconds"`
	Gateway          MetricsSnapshot `json:"gateway"`
	Jobs             store.Counts    `json:"jobs"`
	PendingApprovals []string        `json:"pending_approvals"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.metrics.RecordRequest()
		resp := StatusResponse{
			Uptime:           int64(time.Since(g.startedAt).Seconds()),
			Gateway:          g.metrics.Snapshot(),
			PendingApprovals: g.dispatcher.PendingApprovals(),
		}

		if counts, err := g.dispatcher.Store().Counts(r.Context()); err == nil {
			resp.Jobs = counts
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
