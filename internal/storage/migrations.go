package storage

import (
	"context"
	"fmt"
	"log/slog"
)

// migration represents a single database migration.
type migration struct {
	version int
	name    string
	up      string
}

var migrations = []migration{
	{version: 1, name: "runs", up: `
		CREATE TABLE IF NOT EXISTS runs (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			source TEXT NOT NULL,
			dataset TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			quality_score REAL NOT NULL DEFAULT 0,
			analysis TEXT NOT NULL DEFAULT '',
			processed_path TEXT NOT NULL DEFAULT '',
			version TEXT NOT NULL DEFAULT '',
			report_paths TEXT NOT NULL DEFAULT 'null',
			failed_stage TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			finished_at TEXT
		)`},
	{version: 2, name: "runs_status_index", up: `
		CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`},
	{version: 3, name: "runs_failed_formats", up: `
		ALTER TABLE runs ADD COLUMN failed_formats TEXT NOT NULL DEFAULT 'null'`},
}

// runMigrations applies every migration newer than the recorded version.
func (s *SQLiteRunStore) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return err
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return err
	}

	for _, m := range migrations {
		if current >= m.version {
			continue
		}
		s.logger.InfoContext(ctx, "migration_applied", slog.Int("version", m.version), slog.String("name", m.name))
		if _, err := s.db.ExecContext(ctx, m.up); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
			return err
		}
	}
	return nil
}
