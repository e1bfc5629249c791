package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ThirdKeyAI/symbiont-sched/internal/core"
	"github.com/ThirdKeyAI/symbiont-sched/internal/job"
	"github.com/ThirdKeyAI/symbiont-sched/internal/security"
	"github.com/ThirdKeyAI/symbiont-sched/internal/store"
)

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody reads at most the validation limit, then checks JSON nesting
// depth before unmarshaling, so oversized or adversarial payloads are
// rejected without touching the decoder of the target type.
func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, security.DefaultMaxBodyBytes+1))
	if err != nil {
		return errors.New("gateway: reading request body: " + err.Error())
	}
	if err := security.ValidateBodySize(data, 0); err != nil {
		return err
	}
	if err := security.ValidateJSONDepth(data, 0); err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// writeError maps store sentinels and validation failures onto HTTP codes.
func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	g.metrics.RecordError()
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
}

// handleListJobs returns job definitions, optionally filtered by status.
func (g *Gateway) handleListJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.metrics.RecordRequest()
		f := store.Filter{
			Status:   job.Status(r.URL.Query().Get("status")),
			AgentRef: r.URL.Query().Get("agent_ref"),
		}
		defs, err := g.dispatcher.Store().List(r.Context(), f)
		if err != nil {
			g.writeError(w, err)
			return
		}
		if defs == nil {
			defs = []*job.Definition{}
		}
		writeJSON(w, http.StatusOK, defs)
	}
}

func (g *Gateway) handleCreateJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.metrics.RecordRequest()
		var def job.Definition
		if err := decodeBody(r, &def); err != nil {
			g.writeError(w, errors.New("gateway: malformed job definition: "+err.Error()))
			return
		}
		created, err := g.dispatcher.Create(r.Context(), &def, ActorFromContext(r.Context()))
		if err != nil {
			g.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func (g *Gateway) handleGetJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.metrics.RecordRequest()
		def, err := g.dispatcher.Store().Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			g.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, def)
	}
}

func (g *Gateway) handleUpdateJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.metrics.RecordRequest()
		var def job.Definition
		if err := decodeBody(r, &def); err != nil {
			g.writeError(w, errors.New("gateway: malformed job definition: "+err.Error()))
			return
		}
		def.ID = chi.URLParam(r, "id")
		updated, err := g.dispatcher.Update(r.Context(), &def, ActorFromContext(r.Context()))
		if err != nil {
			g.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func (g *Gateway) handleDeleteJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.metrics.RecordRequest()
		if err := g.dispatcher.DeleteJob(r.Context(), chi.URLParam(r, "id"), ActorFromContext(r.Context())); err != nil {
			g.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (g *Gateway) handlePauseJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.metrics.RecordRequest()
		if err := g.dispatcher.Pause(r.Context(), chi.URLParam(r, "id"), ActorFromContext(r.Context())); err != nil {
			g.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (g *Gateway) handleResumeJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.metrics.RecordRequest()
		if err := g.dispatcher.Resume(r.Context(), chi.URLParam(r, "id"), ActorFromContext(r.Context())); err != nil {
			g.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (g *Gateway) handleResetJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.metrics.RecordRequest()
		if err := g.dispatcher.ResetDeadLetter(r.Context(), chi.URLParam(r, "id"), ActorFromContext(r.Context())); err != nil {
			g.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// runNowRequest is the optional body of POST /api/jobs/{id}/run.
type runNowRequest struct {
	// Input overrides the job's standing input for this run only.
	Input string `json:"input,omitempty"`
}

func (g *Gateway) handleRunNow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.metrics.RecordRequest()
		if err := g.limiter.Allow(security.KindRunNow); err != nil {
			g.emitAuditEvent(security.EventRateLimit, r, "run-now budget exhausted")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}

		var req runNowRequest
		if r.ContentLength > 0 {
			if err := decodeBody(r, &req); err != nil {
				g.writeError(w, errors.New("gateway: malformed run request: "+err.Error()))
				return
			}
		}

		runID, err := g.dispatcher.RunNow(r.Context(), chi.URLParam(r, "id"), req.Input, ActorFromContext(r.Context()))
		if err != nil {
			g.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
	}
}

func (g *Gateway) handleHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.metrics.RecordRequest()
		q := r.URL.Query()
		f := store.HistoryFilter{Status: job.RunStatus(q.Get("status"))}
		if v := q.Get("limit"); v != "" {
			f.Limit, _ = strconv.Atoi(v)
		}
		if v := q.Get("offset"); v != "" {
			f.Offset, _ = strconv.Atoi(v)
		}

		jobID := chi.URLParam(r, "id")
		recs, err := g.dispatcher.Store().History(r.Context(), jobID, f)
		if err != nil {
			g.writeError(w, err)
			return
		}
		if recs == nil {
			recs = []*job.RunRecord{}
		}
		writeJSON(w, http.StatusOK, recs)
	}
}

func (g *Gateway) handleGetRun() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.metrics.RecordRequest()
		rec, err := g.dispatcher.Store().GetRun(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			g.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func (g *Gateway) handleApprove() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.metrics.RecordRequest()
		if err := g.dispatcher.Approve(r.Context(), chi.URLParam(r, "id"), ActorFromContext(r.Context())); err != nil {
			g.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (g *Gateway) handleListApprovals() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.metrics.RecordRequest()
		writeJSON(w, http.StatusOK, map[string][]string{
			"pending": g.dispatcher.PendingApprovals(),
		})
	}
}

// moduleJSON is a serializable module info snapshot.
type moduleJSON struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// handleListModules lists all compiled modules.
func (g *Gateway) handleListModules() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		g.metrics.RecordRequest()
		mods := core.GetModules()
		out := make([]moduleJSON, 0, len(mods))
		for _, m := range mods {
			out = append(out, moduleJSON{
				ID:        string(m.ID),
				Namespace: m.ID.Namespace(),
				Name:      m.ID.Name(),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}
