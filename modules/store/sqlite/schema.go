package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
//
// The full job definition is stored as a JSON document; the columns beside
// it are the fields the dispatcher filters on or mutates (status, failure
// counter, last fire), kept authoritative in the columns so status
// compare-and-set is a single UPDATE.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id                   TEXT PRIMARY KEY,
		definition           TEXT    NOT NULL,
		status               TEXT    NOT NULL,
		agent_ref            TEXT    NOT NULL,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		last_fire_at         TEXT    NOT NULL DEFAULT '',
		created_at           TEXT    NOT NULL,
		updated_at           TEXT    NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_agent ON jobs(agent_ref)`,

	`CREATE TABLE IF NOT EXISTS runs (
		run_id        TEXT PRIMARY KEY,
		job_id        TEXT    NOT NULL,
		scheduled_for TEXT    NOT NULL,
		started_at    TEXT    NOT NULL DEFAULT '',
		finished_at   TEXT    NOT NULL DEFAULT '',
		status        TEXT    NOT NULL,
		output        TEXT    NOT NULL DEFAULT '',
		error_cause   TEXT    NOT NULL DEFAULT '',
		error_message TEXT    NOT NULL DEFAULT '',
		retry_ordinal INTEGER NOT NULL DEFAULT 0,
		meta          TEXT    NOT NULL DEFAULT '{}'
	)`,

	`CREATE INDEX IF NOT EXISTS idx_runs_job ON runs(job_id, scheduled_for DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(db *sql.DB) error {
	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}

	return nil
}
