package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThirdKeyAI/symbiont-sched/internal/job"
	"github.com/ThirdKeyAI/symbiont-sched/internal/security"
)

// Router fans a run payload out to every channel a job configures.
// Channels are routed independently: one failing transport never blocks
// the others, and no delivery outcome affects the run's status.
type Router struct {
	mu       sync.RWMutex
	channels map[string]Channel
	logger   *slog.Logger
	audit    *security.AuditLogger
}

// NewRouter creates an empty Router.
func NewRouter(logger *slog.Logger, audit *security.AuditLogger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		channels: make(map[string]Channel),
		logger:   logger,
		audit:    audit,
	}
}

// Register adds a channel under the given key (a channel type name, or
// a custom channel's registered name).
// Returns ErrDuplicateChannel if the key is already taken.
func (r *Router) Register(key string, ch Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateChannel, key)
	}
	r.channels[key] = ch
	return nil
}

// Get returns the channel registered under key, or false if none.
func (r *Router) Get(key string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[key]
	return ch, ok
}

// Channels returns the keys of all registered channels.
func (r *Router) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.channels))
	for key := range r.channels {
		keys = append(keys, key)
	}
	return keys
}

// Route delivers the payload to each of the job's channels in turn and
// returns the per-channel results. Failures are logged and audited here;
// callers use the results for reporting only.
func (r *Router) Route(ctx context.Context, def *job.Definition, payload Payload) []Result {
	results := make([]Result, 0, len(def.Channels))

	for _, desc := range def.Channels {
		key := desc.Key()

		r.mu.RLock()
		ch, ok := r.channels[key]
		r.mu.RUnlock()

		var err error
		if !ok {
			err = fmt.Errorf("%w: %s", ErrNoChannel, key)
		} else {
			err = ch.Deliver(ctx, desc, payload)
		}

		if err != nil {
			r.logger.Warn("delivery: channel failed",
				"job_id", def.ID, "run_id", payload.RunID, "channel", key, "error", err)
			if r.audit != nil {
				r.audit.Log(security.AuditEvent{
					Type:     security.EventDeliveryFailure,
					JobID:    def.ID,
					RunID:    payload.RunID,
					AgentRef: def.AgentRef,
					Detail:   fmt.Sprintf("channel %s: %v", key, err),
				})
			}
		}

		results = append(results, Result{Channel: key, Err: err})
	}

	return results
}
