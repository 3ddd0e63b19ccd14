package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// All timestamps are stored as unix nanoseconds; NULL marks an unknown time.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS pacing_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		current_interval INTEGER NOT NULL,
		min_interval INTEGER NOT NULL,
		max_interval INTEGER NOT NULL,
		target_remaining_ratio REAL NOT NULL,
		aggressive INTEGER NOT NULL DEFAULT 0,
		learning_rate REAL NOT NULL,
		updated_at INTEGER
	);`,
	`CREATE TABLE IF NOT EXISTS pacing_samples (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		recorded_at INTEGER NOT NULL,
		endpoint TEXT NOT NULL,
		remaining_ratio REAL NOT NULL,
		interval_seconds INTEGER NOT NULL,
		reset_at INTEGER
	);`,
	`CREATE INDEX IF NOT EXISTS idx_pacing_samples_endpoint ON pacing_samples(endpoint);`,
	`CREATE TABLE IF NOT EXISTS quota_status (
		endpoint TEXT PRIMARY KEY,
		quota_limit INTEGER NOT NULL,
		remaining INTEGER NOT NULL,
		reset_at INTEGER,
		window_seconds INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS calibration_runs (
		run_id TEXT PRIMARY KEY,
		optimal_interval INTEGER NOT NULL,
		fallback INTEGER NOT NULL DEFAULT 0,
		aborted INTEGER NOT NULL DEFAULT 0,
		recommendation TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		trials TEXT NOT NULL,
		finished_at INTEGER NOT NULL
	);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	if err := s.ensureColumn(ctx, "quota_status", "window_seconds", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}

	return nil
}

func (s *Store) ensureColumn(ctx context.Context, table, column, columnDef string) error {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("inspect %s schema: %w", table, err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("inspect %s columns: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect %s columns: %w", table, err)
	}

	if _, err := s.DB.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, columnDef)); err != nil {
		return fmt.Errorf("add %s.%s column: %w", table, column, err)
	}

	return nil
}
