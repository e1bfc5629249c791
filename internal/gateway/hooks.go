package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/ThirdKeyAI/symbiont-sched/internal/security"
)

type hookEntry struct {
	jobID  string
	secret string
}

// HookDispatcher fires jobs from inbound webhooks with HMAC validation.
// Each configured source maps to one job; the request body, when present,
// overrides the job's standing input for that run.
type HookDispatcher struct {
	mu      sync.RWMutex
	entries map[string]hookEntry
	logger  *slog.Logger

	// dispatcher and metrics are bound by the gateway during startup.
	dispatcher runNower
	metrics    *Metrics
}

// runNower is the slice of the dispatcher the hooks need.
type runNower interface {
	RunNow(ctx context.Context, jobID, input, actor string) (string, error)
}

// NewHookDispatcher creates a ready-to-use dispatcher.
func NewHookDispatcher(logger *slog.Logger) *HookDispatcher {
	return &HookDispatcher{
		entries: make(map[string]hookEntry),
		logger:  logger,
	}
}

// Register maps a source to a job with its HMAC secret.
func (d *HookDispatcher) Register(source, jobID, secret string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[source] = hookEntry{jobID: jobID, secret: secret}
}

// ServeHTTP implements http.Handler. It extracts the source from the chi
// URL param, validates the HMAC signature, and fires the mapped job.
func (d *HookDispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	if source == "" {
		http.Error(w, "missing source", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, security.DefaultMaxBodyBytes+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if err := security.ValidateBodySize(body, 0); err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	d.mu.RLock()
	entry, ok := d.entries[source]
	d.mu.RUnlock()

	if !ok {
		d.logger.Warn("hook received for unregistered source", "source", source)
		http.Error(w, "unknown source", http.StatusNotFound)
		return
	}

	sig := r.Header.Get("X-Signature-256")
	if !validateHMAC(body, sig, entry.secret) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	runID, err := d.dispatcher.RunNow(r.Context(), entry.jobID, string(body), "hook:"+source)
	if err != nil {
		d.logger.Error("hook trigger failed", "source", source, "job_id", entry.jobID, "error", err)
		http.Error(w, "trigger failed: "+err.Error(), http.StatusConflict)
		return
	}

	if d.metrics != nil {
		d.metrics.RecordHookFired()
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// validateHMAC checks an HMAC-SHA256 signature in constant time.
func validateHMAC(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
