/*
Package storage persists pipeline run history in an embedded SQLite
database using modernc.org/sqlite (a pure Go, CGo-free implementation).
*/
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	apperrors "insightpipe/internal/errors"
	"insightpipe/internal/operations"
)

// SQLiteRunStore implements operations.RunStore on SQLite. It keeps at most
// limit runs; older ones are pruned on every save.
type SQLiteRunStore struct {
	db     *sql.DB
	path   string
	limit  int
	logger *slog.Logger
}

var _ operations.RunStore = (*SQLiteRunStore)(nil)

// OpenSQLiteRunStore opens or creates the database at path and applies
// pending migrations. A non-positive limit uses operations.DefaultHistoryLimit.
func OpenSQLiteRunStore(path string, limit int, logger *slog.Logger) (*SQLiteRunStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = operations.DefaultHistoryLimit
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, apperrors.NewStorageError("failed to create history directory", err).WithContext("path", path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to open history database", err).WithContext("path", path)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.NewStorageError("failed to ping history database", err).WithContext("path", path)
	}

	s := &SQLiteRunStore{
		db:     db,
		path:   path,
		limit:  limit,
		logger: logger.With(slog.String("component", "run_history")),
	}
	if err := s.runMigrations(context.Background()); err != nil {
		db.Close()
		return nil, apperrors.NewStorageError("failed to migrate history database", err).WithContext("path", path)
	}
	return s, nil
}

// Path returns the database file location.
func (s *SQLiteRunStore) Path() string { return s.path }

// Close closes the database connection.
func (s *SQLiteRunStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// SaveRun upserts run and prunes history beyond the limit.
func (s *SQLiteRunStore) SaveRun(ctx context.Context, run operations.RunResult) error {
	if run.ID == "" {
		return apperrors.NewValidationError("run id is required")
	}
	paths, err := json.Marshal(run.ReportPaths)
	if err != nil {
		return apperrors.NewStorageError("failed to encode report paths", err)
	}
	failed, err := json.Marshal(run.FailedFormats)
	if err != nil {
		return apperrors.NewStorageError("failed to encode failed formats", err)
	}
	var finished sql.NullString
	if run.FinishedAt != nil {
		finished = sql.NullString{String: formatTime(*run.FinishedAt), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, source, dataset, status, quality_score, analysis,
			processed_path, version, report_paths, failed_formats, failed_stage, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			dataset = excluded.dataset,
			status = excluded.status,
			quality_score = excluded.quality_score,
			analysis = excluded.analysis,
			processed_path = excluded.processed_path,
			version = excluded.version,
			report_paths = excluded.report_paths,
			failed_formats = excluded.failed_formats,
			failed_stage = excluded.failed_stage,
			error = excluded.error,
			finished_at = excluded.finished_at
	`, run.ID, run.Source, run.Dataset, string(run.Status), run.QualityScore, run.Analysis,
		run.ProcessedPath, run.Version, string(paths), string(failed), string(run.FailedStage), run.Error,
		formatTime(run.StartedAt), finished)
	if err != nil {
		return apperrors.NewStorageError("failed to save run", err).WithContext("run_id", run.ID)
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM runs WHERE seq NOT IN (
			SELECT seq FROM runs ORDER BY seq DESC LIMIT ?
		)
	`, s.limit)
	if err != nil {
		return apperrors.NewStorageError("failed to prune run history", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.DebugContext(ctx, "run_history_pruned", slog.Int64("removed", n))
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteRunStore) GetRun(ctx context.Context, id string) (operations.RunResult, error) {
	row := s.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return operations.RunResult{}, apperrors.NewNotFoundError("run " + id)
	}
	if err != nil {
		return operations.RunResult{}, apperrors.NewStorageError("failed to read run", err).WithContext("run_id", id)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first. A non-positive limit
// returns all of them.
func (s *SQLiteRunStore) ListRuns(ctx context.Context, limit int) ([]operations.RunResult, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, selectRuns+` ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to list runs", err)
	}
	defer rows.Close()

	var runs []operations.RunResult
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, apperrors.NewStorageError("failed to read run", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("failed to list runs", err)
	}
	return runs, nil
}

const selectRuns = `SELECT id, source, dataset, status, quality_score, analysis, processed_path,
	version, report_paths, failed_formats, failed_stage, error, started_at, finished_at FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (operations.RunResult, error) {
	var (
		run      operations.RunResult
		status   string
		stage    string
		paths    string
		failed   string
		started  string
		finished sql.NullString
	)
	if err := sc.Scan(&run.ID, &run.Source, &run.Dataset, &status, &run.QualityScore, &run.Analysis,
		&run.ProcessedPath, &run.Version, &paths, &failed, &stage, &run.Error, &started, &finished); err != nil {
		return operations.RunResult{}, err
	}
	run.Status = operations.RunStatus(status)
	run.FailedStage = operations.StageID(stage)
	if err := json.Unmarshal([]byte(paths), &run.ReportPaths); err != nil {
		return operations.RunResult{}, fmt.Errorf("decode report paths: %w", err)
	}
	if err := json.Unmarshal([]byte(failed), &run.FailedFormats); err != nil {
		return operations.RunResult{}, fmt.Errorf("decode failed formats: %w", err)
	}

	var err error
	if run.StartedAt, err = parseTime(started); err != nil {
		return operations.RunResult{}, err
	}
	if finished.Valid {
		t, err := parseTime(finished.String)
		if err != nil {
			return operations.RunResult{}, err
		}
		run.FinishedAt = &t
	}
	return run, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
