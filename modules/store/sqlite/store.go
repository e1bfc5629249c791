package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ThirdKeyAI/symbiont-sched/internal/job"
	"github.com/ThirdKeyAI/symbiont-sched/internal/store"
)

// JobStore implements store.Store backed by SQLite.
type JobStore struct {
	db *sql.DB
}

// Compile-time interface check.
var _ store.Store = (*JobStore)(nil)

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Put creates or replaces a job definition. The JSON document and the
// denormalized columns are written together in one statement.
func (s *JobStore) Put(ctx context.Context, def *job.Definition) error {
	doc, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("sqlite: marshal definition: %w", err)
	}

	now := time.Now().UTC()
	createdAt := def.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO jobs
			(id, definition, status, agent_ref, consecutive_failures, last_fire_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ID, string(doc), string(def.Status), def.AgentRef,
		def.ConsecutiveFailures, fmtTime(def.LastFireAt),
		fmtTime(createdAt), fmtTime(now),
	)
	if err != nil {
		return fmt.Errorf("sqlite: put job: %w", err)
	}
	return nil
}

func scanDefinition(doc, status string, failures int, lastFire, createdAt, updatedAt string) (*job.Definition, error) {
	var def job.Definition
	if err := json.Unmarshal([]byte(doc), &def); err != nil {
		return nil, fmt.Errorf("sqlite: unmarshal definition: %w", err)
	}
	// Columns are authoritative for dispatcher-mutated fields.
	def.Status = job.Status(status)
	def.ConsecutiveFailures = failures
	def.LastFireAt = parseTime(lastFire)
	def.CreatedAt = parseTime(createdAt)
	def.UpdatedAt = parseTime(updatedAt)
	return &def, nil
}

// Get returns the definition for id.
func (s *JobStore) Get(ctx context.Context, id string) (*job.Definition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT definition, status, consecutive_failures, last_fire_at, created_at, updated_at
		FROM jobs WHERE id = ?`, id)

	var doc, status, lastFire, createdAt, updatedAt string
	var failures int
	if err := row.Scan(&doc, &status, &failures, &lastFire, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: get job: %w", err)
	}
	return scanDefinition(doc, status, failures, lastFire, createdAt, updatedAt)
}

// List returns definitions matching the filter, ordered by creation.
func (s *JobStore) List(ctx context.Context, f store.Filter) ([]*job.Definition, error) {
	query := `
		SELECT definition, status, consecutive_failures, last_fire_at, created_at, updated_at
		FROM jobs WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if f.AgentRef != "" {
		query += " AND agent_ref = ?"
		args = append(args, f.AgentRef)
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*job.Definition
	for rows.Next() {
		var doc, status, lastFire, createdAt, updatedAt string
		var failures int
		if err := rows.Scan(&doc, &status, &failures, &lastFire, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan job: %w", err)
		}
		def, err := scanDefinition(doc, status, failures, lastFire, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

// Delete removes a definition. Run history is retained.
func (s *JobStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdateStatus atomically moves a job from expected to next status using a
// single conditional UPDATE, so concurrent pause/resume/delete cannot race.
func (s *JobStore) UpdateStatus(ctx context.Context, id string, expected, next job.Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(next), fmtTime(time.Now().UTC()), id, string(expected),
	)
	if err != nil {
		return fmt.Errorf("sqlite: update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish a missing job from a status mismatch.
		var exists int
		if err := s.db.QueryRowContext(ctx, "SELECT 1 FROM jobs WHERE id = ?", id).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return fmt.Errorf("sqlite: check job: %w", err)
		}
		return store.ErrConflict
	}
	return nil
}

// MarkFired records the most recent trigger selection time.
func (s *JobStore) MarkFired(ctx context.Context, id string, firedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET last_fire_at = ? WHERE id = ?", fmtTime(firedAt), id)
	if err != nil {
		return fmt.Errorf("sqlite: mark fired: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// BumpFailures atomically increments the consecutive-failure counter.
func (s *JobStore) BumpFailures(ctx context.Context, id string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET consecutive_failures = consecutive_failures + 1 WHERE id = ?", id)
	if err != nil {
		return 0, fmt.Errorf("sqlite: bump failures: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, store.ErrNotFound
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT consecutive_failures FROM jobs WHERE id = ?", id).Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlite: read failures: %w", err)
	}
	return count, nil
}

// ResetFailures zeroes the consecutive-failure counter.
func (s *JobStore) ResetFailures(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET consecutive_failures = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: reset failures: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AppendRun persists a new run record.
func (s *JobStore) AppendRun(ctx context.Context, rec *job.RunRecord) error {
	meta := "{}"
	if len(rec.Meta) > 0 {
		b, err := json.Marshal(rec.Meta)
		if err != nil {
			return fmt.Errorf("sqlite: marshal run meta: %w", err)
		}
		meta = string(b)
	}

	var cause, message string
	if rec.Error != nil {
		cause = string(rec.Error.Cause)
		message = rec.Error.Message
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
			(run_id, job_id, scheduled_for, started_at, finished_at, status,
			 output, error_cause, error_message, retry_ordinal, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.JobID, fmtTime(rec.ScheduledFor),
		fmtTime(rec.StartedAt), fmtTime(rec.FinishedAt), string(rec.Status),
		rec.Output, cause, message, rec.RetryOrdinal, meta,
	)
	if err != nil {
		return fmt.Errorf("sqlite: append run: %w", err)
	}
	return nil
}

func scanRun(row interface{ Scan(...any) error }) (*job.RunRecord, error) {
	var rec job.RunRecord
	var scheduledFor, startedAt, finishedAt, status, cause, message, meta string
	if err := row.Scan(&rec.RunID, &rec.JobID, &scheduledFor, &startedAt, &finishedAt,
		&status, &rec.Output, &cause, &message, &rec.RetryOrdinal, &meta); err != nil {
		return nil, err
	}
	rec.ScheduledFor = parseTime(scheduledFor)
	rec.StartedAt = parseTime(startedAt)
	rec.FinishedAt = parseTime(finishedAt)
	rec.Status = job.RunStatus(status)
	if cause != "" {
		rec.Error = &job.RunError{Cause: job.FailureCause(cause), Message: message}
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &rec.Meta); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal run meta: %w", err)
		}
	}
	return &rec, nil
}

const runColumns = `run_id, job_id, scheduled_for, started_at, finished_at,
	status, output, error_cause, error_message, retry_ordinal, meta`

// GetRun returns the run record for runID.
func (s *JobStore) GetRun(ctx context.Context, runID string) (*job.RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE run_id = ?", runID)
	rec, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: get run: %w", err)
	}
	return rec, nil
}

// MarkRunning moves a Scheduled run to Running.
func (s *JobStore) MarkRunning(ctx context.Context, runID string, startedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, started_at = ?
		WHERE run_id = ? AND status IN (?, ?)`,
		string(job.RunRunning), fmtTime(startedAt),
		runID, string(job.RunScheduled), string(job.RunRunning),
	)
	if err != nil {
		return fmt.Errorf("sqlite: mark running: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetRun(ctx, runID); err != nil {
			return err
		}
		return store.ErrFinalized
	}
	return nil
}

// FinalizeRun records the terminal outcome for a run exactly once. The
// conditional UPDATE only matches non-terminal records, making a second
// finalization attempt fail with ErrFinalized.
func (s *JobStore) FinalizeRun(ctx context.Context, runID string, out Outcome) error {
	meta := ""
	if len(out.Meta) > 0 {
		b, err := json.Marshal(out.Meta)
		if err != nil {
			return fmt.Errorf("sqlite: marshal run meta: %w", err)
		}
		meta = string(b)
	}

	var cause, message string
	if out.Error != nil {
		cause = string(out.Error.Cause)
		message = out.Error.Message
	}

	query := `
		UPDATE runs SET status = ?, output = ?, error_cause = ?, error_message = ?, finished_at = ?`
	args := []any{string(out.Status), out.Output, cause, message, fmtTime(out.FinishedAt)}
	if meta != "" {
		query += ", meta = ?"
		args = append(args, meta)
	}
	query += " WHERE run_id = ? AND status IN (?, ?)"
	args = append(args, runID, string(job.RunScheduled), string(job.RunRunning))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: finalize run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetRun(ctx, runID); err != nil {
			return err
		}
		return store.ErrFinalized
	}
	return nil
}

// Outcome aliases the store Outcome for implementation convenience.
type Outcome = store.Outcome

// History returns the job's run records, newest first.
func (s *JobStore) History(ctx context.Context, jobID string, f store.HistoryFilter) ([]*job.RunRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = store.DefaultHistoryLimit
	}

	query := "SELECT " + runColumns + " FROM runs WHERE job_id = ?"
	args := []any{jobID}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	query += " ORDER BY scheduled_for DESC, run_id LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: run history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*job.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountInFlight counts Scheduled and Running records for one job, or all
// jobs when jobID is empty.
func (s *JobStore) CountInFlight(ctx context.Context, jobID string) (int, error) {
	query := "SELECT COUNT(*) FROM runs WHERE status IN (?, ?)"
	args := []any{string(job.RunScheduled), string(job.RunRunning)}
	if jobID != "" {
		query += " AND job_id = ?"
		args = append(args, jobID)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count in flight: %w", err)
	}
	return n, nil
}

// ReconcileInterrupted fails runs left in flight by a previous process and
// returns the reconciled records.
func (s *JobStore) ReconcileInterrupted(ctx context.Context, at time.Time) ([]*job.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE status IN (?, ?)",
		string(job.RunScheduled), string(job.RunRunning))
	if err != nil {
		return nil, fmt.Errorf("sqlite: select interrupted: %w", err)
	}

	var stranded []*job.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("sqlite: scan run: %w", err)
		}
		stranded = append(stranded, rec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	out := make([]*job.RunRecord, 0, len(stranded))
	for _, rec := range stranded {
		runErr := &job.RunError{
			Cause:   job.CauseInterruptedByRestart,
			Message: "run was in flight when the process stopped",
		}
		err := s.FinalizeRun(ctx, rec.RunID, store.Outcome{
			Status:     job.RunFailed,
			Error:      runErr,
			FinishedAt: at,
		})
		if err != nil {
			if errors.Is(err, store.ErrFinalized) {
				continue
			}
			return nil, err
		}
		rec.Status = job.RunFailed
		rec.Error = runErr
		rec.FinishedAt = at
		out = append(out, rec)
	}
	return out, nil
}

// Counts returns the aggregate snapshot for health reporting.
func (s *JobStore) Counts(ctx context.Context) (store.Counts, error) {
	var c store.Counts

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return c, fmt.Errorf("sqlite: job counts: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			_ = rows.Close()
			return c, fmt.Errorf("sqlite: scan counts: %w", err)
		}
		switch job.Status(status) {
		case job.StatusActive:
			c.Active = n
		case job.StatusPaused:
			c.Paused = n
		case job.StatusCompleted:
			c.Completed = n
		case job.StatusDeadLetter:
			c.DeadLetter = n
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return c, err
	}
	_ = rows.Close()

	inFlight, err := s.CountInFlight(ctx, "")
	if err != nil {
		return c, err
	}
	c.InFlight = inFlight

	row := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM runs`,
		string(job.RunSucceeded), string(job.RunFailed))
	if err := row.Scan(&c.RunsSucceeded, &c.RunsFailed); err != nil {
		return c, fmt.Errorf("sqlite: run counts: %w", err)
	}

	// Average duration over finished runs that actually started.
	var avgSeconds sql.NullFloat64
	row = s.db.QueryRowContext(ctx, `
		SELECT AVG(julianday(finished_at) - julianday(started_at)) * 86400.0
		FROM runs
		WHERE status IN (?, ?) AND started_at != '' AND finished_at != ''`,
		string(job.RunSucceeded), string(job.RunFailed))
	if err := row.Scan(&avgSeconds); err != nil {
		return c, fmt.Errorf("sqlite: avg duration: %w", err)
	}
	if avgSeconds.Valid {
		c.AvgRunDuration = time.Duration(avgSeconds.Float64 * float64(time.Second))
	}
	return c, nil
}
