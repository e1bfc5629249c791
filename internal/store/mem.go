package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ThirdKeyAI/symbiont-sched/internal/job"
)

// MemStore is a thread-safe, in-memory Store. It backs tests and
// ephemeral deployments that opt out of durability.
type MemStore struct {
	mu   sync.RWMutex
	jobs map[string]*job.Definition
	runs map[string]*job.RunRecord

	// order preserves insertion order for deterministic listings.
	jobOrder []string
	runOrder []string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		jobs: make(map[string]*job.Definition),
		runs: make(map[string]*job.RunRecord),
	}
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

func cloneDefinition(d *job.Definition) *job.Definition {
	cp := *d
	cp.Channels = slices.Clone(d.Channels)
	if d.Policy != nil {
		p := *d.Policy
		p.Approvers = slices.Clone(d.Policy.Approvers)
		p.RequiredCapabilities = slices.Clone(d.Policy.RequiredCapabilities)
		p.AllowedEnvironments = slices.Clone(d.Policy.AllowedEnvironments)
		cp.Policy = &p
	}
	if d.Heartbeat != nil {
		hb := *d.Heartbeat
		cp.Heartbeat = &hb
	}
	return &cp
}

func cloneRun(r *job.RunRecord) *job.RunRecord {
	cp := *r
	if r.Error != nil {
		e := *r.Error
		cp.Error = &e
	}
	if r.Meta != nil {
		cp.Meta = make(map[string]string, len(r.Meta))
		for k, v := range r.Meta {
			cp.Meta[k] = v
		}
	}
	return &cp
}

// Put creates or replaces a job definition.
func (s *MemStore) Put(_ context.Context, def *job.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[def.ID]; !exists {
		s.jobOrder = append(s.jobOrder, def.ID)
	}
	s.jobs[def.ID] = cloneDefinition(def)
	return nil
}

// Get returns the definition for id.
func (s *MemStore) Get(_ context.Context, id string) (*job.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDefinition(d), nil
}

// List returns definitions matching the filter in insertion order.
func (s *MemStore) List(_ context.Context, f Filter) ([]*job.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*job.Definition
	for _, id := range s.jobOrder {
		d := s.jobs[id]
		if d == nil {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.AgentRef != "" && d.AgentRef != f.AgentRef {
			continue
		}
		out = append(out, cloneDefinition(d))
	}
	return out, nil
}

// Delete removes a definition. Run history is retained.
func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	s.jobOrder = slices.DeleteFunc(s.jobOrder, func(x string) bool { return x == id })
	return nil
}

// UpdateStatus atomically moves a job from expected to next status.
func (s *MemStore) UpdateStatus(_ context.Context, id string, expected, next job.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if d.Status != expected {
		return ErrConflict
	}
	d.Status = next
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkFired records the most recent trigger selection time.
func (s *MemStore) MarkFired(_ context.Context, id string, firedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	d.LastFireAt = firedAt
	return nil
}

// BumpFailures increments the consecutive-failure counter.
func (s *MemStore) BumpFailures(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.jobs[id]
	if !ok {
		return 0, ErrNotFound
	}
	d.ConsecutiveFailures++
	return d.ConsecutiveFailures, nil
}

// ResetFailures zeroes the consecutive-failure counter.
func (s *MemStore) ResetFailures(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	d.ConsecutiveFailures = 0
	return nil
}

// AppendRun persists a new run record.
func (s *MemStore) AppendRun(_ context.Context, rec *job.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[rec.RunID]; !exists {
		s.runOrder = append(s.runOrder, rec.RunID)
	}
	s.runs[rec.RunID] = cloneRun(rec)
	return nil
}

// GetRun returns the run record for runID.
func (s *MemStore) GetRun(_ context.Context, runID string) (*job.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRun(r), nil
}

// MarkRunning moves a Scheduled run to Running.
func (s *MemStore) MarkRunning(_ context.Context, runID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[runID]
	if !ok {
		return ErrNotFound
	}
	if r.Status.Terminal() {
		return ErrFinalized
	}
	r.Status = job.RunRunning
	r.StartedAt = startedAt
	return nil
}

// FinalizeRun records the terminal outcome for a run exactly once.
func (s *MemStore) FinalizeRun(_ context.Context, runID string, out Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[runID]
	if !ok {
		return ErrNotFound
	}
	if r.Status.Terminal() {
		return ErrFinalized
	}
	r.Status = out.Status
	r.Output = out.Output
	if out.Error != nil {
		e := *out.Error
		r.Error = &e
	}
	r.FinishedAt = out.FinishedAt
	if out.Meta != nil {
		if r.Meta == nil {
			r.Meta = make(map[string]string, len(out.Meta))
		}
		for k, v := range out.Meta {
			r.Meta[k] = v
		}
	}
	return nil
}

// History returns the job's run records, newest first.
func (s *MemStore) History(_ context.Context, jobID string, f HistoryFilter) ([]*job.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*job.RunRecord
	for _, id := range s.runOrder {
		r := s.runs[id]
		if r.JobID != jobID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, cloneRun(r))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScheduledFor.After(out[j].ScheduledFor)
	})

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountInFlight counts Scheduled and Running records for one job, or all
// jobs when jobID is empty.
func (s *MemStore) CountInFlight(_ context.Context, jobID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.runs {
		if jobID != "" && r.JobID != jobID {
			continue
		}
		if r.Status == job.RunScheduled || r.Status == job.RunRunning {
			n++
		}
	}
	return n, nil
}

// ReconcileInterrupted fails runs left in flight by a previous process.
func (s *MemStore) ReconcileInterrupted(_ context.Context, at time.Time) ([]*job.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*job.RunRecord
	for _, id := range s.runOrder {
		r := s.runs[id]
		if r.Status != job.RunScheduled && r.Status != job.RunRunning {
			continue
		}
		r.Status = job.RunFailed
		r.FinishedAt = at
		r.Error = &job.RunError{
			Cause:   job.CauseInterruptedByRestart,
			Message: "run was in flight when the process stopped",
		}
		out = append(out, cloneRun(r))
	}
	return out, nil
}

// Counts returns the aggregate snapshot for health reporting.
func (s *MemStore) Counts(_ context.Context) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c Counts
	for _, d := range s.jobs {
		switch d.Status {
		case job.StatusActive:
			c.Active++
		case job.StatusPaused:
			c.Paused++
		case job.StatusCompleted:
			c.Completed++
		case job.StatusDeadLetter:
			c.DeadLetter++
		}
	}

	var totalDur time.Duration
	var finished int64
	for _, r := range s.runs {
		switch r.Status {
		case job.RunScheduled, job.RunRunning:
			c.InFlight++
		case job.RunSucceeded:
			c.RunsSucceeded++
		case job.RunFailed:
			c.RunsFailed++
		}
		if r.Status.Terminal() && !r.StartedAt.IsZero() {
			totalDur += r.Duration()
			finished++
		}
	}
	if finished > 0 {
		c.AvgRunDuration = totalDur / time.Duration(finished)
	}
	return c, nil
}
