package job

import "time"

// RunStatus is the lifecycle state of a single run record.
type RunStatus string

// Run statuses. Scheduled covers runs suspended pending approval;
// Running covers in-flight executor invocations. Succeeded and Failed are
// terminal; a record is finalized exactly once.
const (
	RunScheduled RunStatus = "scheduled"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether s is a final run state.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// FailureCause classifies why a run failed.
type FailureCause string

// Failure causes recorded on failed runs.
const (
	CauseIdentityVerification FailureCause = "identity_verification_failed"
	CausePolicyDenied         FailureCause = "policy_denied"
	CauseTimeoutExceeded      FailureCause = "timeout_exceeded"
	CauseExecutorError        FailureCause = "executor_error"
	CauseInterruptedByRestart FailureCause = "interrupted_by_restart"
)

// RunError is the structured failure recorded on a failed run.
type RunError struct {
	Cause   FailureCause `json:"cause"`
	Message string       `json:"message,omitempty"`
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Message == "" {
		return string(e.Cause)
	}
	return string(e.Cause) + ": " + e.Message
}

// Metadata keys set on heartbeat run records.
const (
	MetaHeartbeatIterations = "heartbeat_iterations"
	MetaHeartbeatLastAction = "heartbeat_last_action"
)

// RunRecord is one execution attempt of a job. Records are append-only:
// the dispatcher creates them at run start and finalizes them exactly once;
// administrative calls never mutate history.
type RunRecord struct {
	RunID string `json:"run_id"`
	JobID string `json:"job_id"`

	// ScheduledFor is the trigger time that selected this run.
	ScheduledFor time.Time `json:"scheduled_for"`

	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	Status RunStatus `json:"status"`

	// Output is the executor's payload on success.
	Output string `json:"output,omitempty"`

	// Error is the structured failure cause on failure.
	Error *RunError `json:"error,omitempty"`

	// RetryOrdinal is 0 for the first attempt at a trigger and increments
	// on same-trigger retries. Retries are never run back-to-back within
	// the failing tick: a failed cron run retries at the next scheduled
	// fire, a failed one-shot at the next tick, so the ordinal tracks the
	// consecutive-failure counter at selection time.
	RetryOrdinal int `json:"retry_ordinal"`

	// Meta carries auxiliary run data such as heartbeat iteration counts.
	Meta map[string]string `json:"meta,omitempty"`
}

// Duration returns the wall-clock run time, or 0 if not finished.
func (r *RunRecord) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
