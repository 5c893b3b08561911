package jobstore

import (
	"context"
	"database/sql"
	"fmt"
)

const SchemaVersion = 2

// Migrate creates (or upgrades) the job schema in-place.
func (s *Store) Migrate(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL,
			-- next_job_id is the job id counter; it wraps at the configured ceiling.
			next_job_id BIGINT NOT NULL DEFAULT 1
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS jobs (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			-- url is the catalog path, e.g. Team-A/build-service.
			url TEXT NOT NULL UNIQUE,
			owner_user_id BIGINT NOT NULL,
			chat_id BIGINT NOT NULL,
			created_at TEXT NOT NULL,
			-- scheduled_time is UTC 2006-01-02T15:04:05Z so text order is time order.
			scheduled_time TEXT,
			parameter TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_scheduled_time ON jobs(scheduled_time);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs(owner_user_id);`,

		`CREATE TABLE IF NOT EXISTS user_roles (
			user_id BIGINT PRIMARY KEY,
			role TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	if current == 1 {
		if err := migrateJobCounter(ctx, tx); err != nil {
			return err
		}
	}

	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE schema_meta SET schema_version=? WHERE id=1`), SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// migrateJobCounter adds next_job_id to a version 1 schema and seeds it past
// the highest live id.
func migrateJobCounter(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `ALTER TABLE schema_meta ADD COLUMN next_job_id BIGINT NOT NULL DEFAULT 1`); err != nil {
		return fmt.Errorf("add next_job_id: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE schema_meta SET next_job_id = (SELECT COALESCE(MAX(id), 0) + 1 FROM jobs) WHERE id = 1`); err != nil {
		return fmt.Errorf("seed next_job_id: %w", err)
	}
	return nil
}
