package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ThirdKeyAI/symbiont-sched/internal/job"
)

// Config holds manager construction options.
type Config struct {
	// ResetOnPause destroys a job's shared persistent context when the
	// job is paused. Nil defaults to true.
	ResetOnPause *bool

	// MaxSummaryLen bounds the derived summary carried between
	// ephemeral_with_summary runs. Zero uses DefaultMaxSummaryLen.
	MaxSummaryLen int

	Logger *slog.Logger
}

// Manager implements the execution-context lifecycle for all three
// session modes. Safe for concurrent use.
type Manager struct {
	mu            sync.Mutex
	shared        map[string]*Handle // jobID -> retained shared context
	sharedBusy    map[string]bool    // jobID -> live handle outstanding
	summaries     map[string]string  // jobID -> last run's derived summary
	resetOnPause  bool
	maxSummaryLen int
	logger        *slog.Logger
	now           func() time.Time
}

// NewManager creates a context manager.
func NewManager(cfg Config) *Manager {
	resetOnPause := true
	if cfg.ResetOnPause != nil {
		resetOnPause = *cfg.ResetOnPause
	}
	maxLen := cfg.MaxSummaryLen
	if maxLen <= 0 {
		maxLen = DefaultMaxSummaryLen
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		shared:        make(map[string]*Handle),
		sharedBusy:    make(map[string]bool),
		summaries:     make(map[string]string),
		resetOnPause:  resetOnPause,
		maxSummaryLen: maxLen,
		logger:        logger,
		now:           time.Now,
	}
}

// Acquire returns an execution context for a run of the given job.
//
// Ephemeral modes always return a fresh handle; ephemeral_with_summary
// additionally carries the previous run's derived summary. A shared
// persistent job gets its retained context back, or a fresh one on first
// acquire, and holds an exclusive claim until Release.
func (m *Manager) Acquire(jobID string, mode job.SessionMode) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch mode {
	case job.SessionFullyEphemeral:
		return m.fresh(jobID, mode), nil

	case job.SessionEphemeralWithSummary:
		h := m.fresh(jobID, mode)
		h.Summary = m.summaries[jobID]
		return h, nil

	case job.SessionSharedPersistent:
		if m.sharedBusy[jobID] {
			return nil, fmt.Errorf("%w: job %s", ErrContextBusy, jobID)
		}
		h, ok := m.shared[jobID]
		if !ok {
			h = m.fresh(jobID, mode)
			m.shared[jobID] = h
		}
		m.sharedBusy[jobID] = true
		return h, nil

	default:
		return nil, fmt.Errorf("session: unknown mode %q", mode)
	}
}

// Release returns a context after a run. output is the run's executor
// output; it feeds the next run's summary for ephemeral_with_summary and
// is appended to the retained history for shared_persistent. Ephemeral
// handles are destroyed.
func (m *Manager) Release(h *Handle, output string) {
	if h == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch h.Mode {
	case job.SessionEphemeralWithSummary:
		if output != "" {
			m.summaries[h.JobID] = Summarize(output, m.maxSummaryLen)
		}

	case job.SessionSharedPersistent:
		if output != "" {
			h.History = append(h.History, output)
		}
		m.sharedBusy[h.JobID] = false

	case job.SessionFullyEphemeral:
		// Nothing retained.
	}
}

// Reset discards all retained state for a job: its shared persistent
// context and any carried summary.
func (m *Manager) Reset(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.shared, jobID)
	delete(m.sharedBusy, jobID)
	delete(m.summaries, jobID)
	m.logger.Debug("session: context reset", "job_id", jobID)
}

// HandlePause applies the pause policy: when reset_on_pause is set the
// job's retained context is discarded.
func (m *Manager) HandlePause(jobID string) {
	if m.resetOnPause {
		m.Reset(jobID)
	}
}

// HandleDelete discards retained state when a job is deleted.
func (m *Manager) HandleDelete(jobID string) {
	m.Reset(jobID)
}

func (m *Manager) fresh(jobID string, mode job.SessionMode) *Handle {
	return &Handle{
		ID:      uuid.NewString(),
		JobID:   jobID,
		Mode:    mode,
		Created: m.now(),
	}
}
