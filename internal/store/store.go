// Package store defines the durable job store contract: transactional
// persistence for job definitions and append-only run records. The sqlite
// module provides the production implementation; MemStore backs tests and
// ephemeral deployments.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ThirdKeyAI/symbiont-sched/internal/job"
)

// Sentinel errors returned by store implementations.
var (
	// ErrNotFound reports a missing job or run.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict reports a compare-and-set status mismatch. Callers
	// recover by re-reading and retrying; the store never retries itself.
	ErrConflict = errors.New("store: status conflict")

	// ErrUnavailable reports that the backing store cannot be reached.
	// Fatal for the current tick only; the dispatcher retries next tick.
	ErrUnavailable = errors.New("store: unavailable")

	// ErrFinalized reports an attempt to finalize an already-terminal run.
	ErrFinalized = errors.New("store: run already finalized")
)

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Status   job.Status
	AgentRef string
}

// HistoryFilter narrows History results. A zero Limit applies the
// implementation default.
type HistoryFilter struct {
	Status job.RunStatus
	Limit  int
	Offset int
}

// DefaultHistoryLimit caps history pages when the caller does not.
const DefaultHistoryLimit = 50

// Outcome finalizes a run record exactly once.
type Outcome struct {
	Status     job.RunStatus // RunSucceeded or RunFailed
	Output     string
	Error      *job.RunError
	FinishedAt time.Time
	Meta       map[string]string
}

// Counts is an aggregate snapshot for health and metrics reporting.
type Counts struct {
	Active     int `json:"active"`
	Paused     int `json:"paused"`
	Completed  int `json:"completed"`
	DeadLetter int `json:"dead_letter"`
	InFlight   int `json:"in_flight"`

	RunsSucceeded  int64         `json:"runs_succeeded"`
	RunsFailed     int64         `json:"runs_failed"`
	AvgRunDuration time.Duration `json:"avg_run_duration_ns"`
}

// Store is the durable job store. All writes are atomic; a job/run pair is
// never partially committed. Implementations must keep run records
// append-only: AppendRun creates, MarkRunning and FinalizeRun advance, and
// nothing else mutates them.
type Store interface {
	// Put creates or replaces a job definition.
	Put(ctx context.Context, def *job.Definition) error

	// Get returns the definition for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*job.Definition, error)

	// List returns definitions matching the filter, ordered by creation.
	List(ctx context.Context, f Filter) ([]*job.Definition, error)

	// Delete removes a definition and its run association. Run history is
	// retained. Returns ErrNotFound for unknown ids.
	Delete(ctx context.Context, id string) error

	// UpdateStatus atomically moves a job from expected to next status.
	// Returns ErrConflict when the stored status is not the expected one,
	// preventing racing pause/resume/delete operations.
	UpdateStatus(ctx context.Context, id string, expected, next job.Status) error

	// MarkFired records the most recent trigger selection time.
	MarkFired(ctx context.Context, id string, firedAt time.Time) error

	// BumpFailures atomically increments the consecutive-failure counter
	// and returns the new value.
	BumpFailures(ctx context.Context, id string) (int, error)

	// ResetFailures sets the consecutive-failure counter to zero.
	ResetFailures(ctx context.Context, id string) error

	// AppendRun persists a new run record.
	AppendRun(ctx context.Context, rec *job.RunRecord) error

	// GetRun returns the run record for runID, or ErrNotFound.
	GetRun(ctx context.Context, runID string) (*job.RunRecord, error)

	// MarkRunning moves a Scheduled run to Running.
	MarkRunning(ctx context.Context, runID string, startedAt time.Time) error

	// FinalizeRun records the terminal outcome for a run exactly once.
	// Returns ErrFinalized if the run is already terminal.
	FinalizeRun(ctx context.Context, runID string, out Outcome) error

	// History returns the job's run records, newest first.
	History(ctx context.Context, jobID string, f HistoryFilter) ([]*job.RunRecord, error)

	// CountInFlight returns the number of Scheduled or Running records
	// for one job, or across all jobs when jobID is empty.
	CountInFlight(ctx context.Context, jobID string) (int, error)

	// ReconcileInterrupted finds runs left Scheduled or Running by a
	// previous process and marks them Failed with
	// CauseInterruptedByRestart. Returns the reconciled records so the
	// dispatcher can apply retry and dead-letter logic.
	ReconcileInterrupted(ctx context.Context, at time.Time) ([]*job.RunRecord, error)

	// Counts returns the aggregate snapshot for health reporting.
	Counts(ctx context.Context) (Counts, error)
}
