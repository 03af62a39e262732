// Package postgres provides PostgreSQL-backed implementations of repository interfaces.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/nadmax/neurosched/internal/repository"
	"github.com/nadmax/neurosched/internal/repository/models"
	"github.com/nadmax/neurosched/internal/task"
	"github.com/rs/zerolog"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS task_history (
		run_id       TEXT        NOT NULL,
		task_id      BIGINT      NOT NULL,
		name         TEXT        NOT NULL,
		type         TEXT        NOT NULL,
		status       TEXT        NOT NULL,
		priority     INTEGER     NOT NULL DEFAULT 0,
		weight       INTEGER     NOT NULL DEFAULT 1,
		dependencies JSONB       NOT NULL DEFAULT '[]',
		created_at   TIMESTAMPTZ NOT NULL,
		started_at   TIMESTAMPTZ,
		ended_at     TIMESTAMPTZ,
		duration_ms  BIGINT,
		error        TEXT,
		PRIMARY KEY (run_id, task_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_task_history_created_at ON task_history(created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_task_history_type ON task_history(type)`,
}

const recordColumns = `
	run_id, task_id, name, type, status, priority, weight, dependencies,
	created_at, started_at, ended_at, duration_ms, COALESCE(error, '')`

type PostgresTaskRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

var _ repository.TaskRepository = (*PostgresTaskRepository)(nil)

func NewPostgresTaskRepository(connectionString string, logger zerolog.Logger) (*PostgresTaskRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresTaskRepository{db: db, logger: logger}, nil
}

// Migrate creates the task_history table and its indexes when missing.
func (r *PostgresTaskRepository) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return nil
}

// RecordTask upserts t into task_history keyed by (runID, t.ID).
func (r *PostgresTaskRepository) RecordTask(ctx context.Context, runID string, t task.Task) error {
	deps := t.Dependencies
	if deps == nil {
		deps = []int64{}
	}
	depsJSON, err := json.Marshal(deps)
	if err != nil {
		return fmt.Errorf("failed to marshal dependencies: %w", err)
	}

	query := `
		INSERT INTO task_history (
			run_id, task_id, name, type, status, priority, weight,
			dependencies, created_at, started_at, ended_at, duration_ms, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (run_id, task_id) DO UPDATE SET
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			weight = EXCLUDED.weight,
			dependencies = EXCLUDED.dependencies,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			duration_ms = EXCLUDED.duration_ms,
			error = EXCLUDED.error
	`

	var durationMs any
	if t.EndedAt != nil {
		durationMs = t.Duration.Milliseconds()
	}

	var msgErr any
	if t.Error != "" {
		msgErr = t.Error
	}

	_, err = r.db.ExecContext(
		ctx,
		query,
		runID,
		t.ID,
		t.Name,
		string(t.Type),
		string(t.Status),
		t.Priority,
		t.Weight,
		depsJSON,
		t.CreatedAt,
		nullableTime(t.StartedAt),
		nullableTime(t.EndedAt),
		durationMs,
		msgErr,
	)

	return err
}

func (r *PostgresTaskRepository) GetTask(ctx context.Context, runID string, taskID int64) (*models.TaskRecord, error) {
	query := `SELECT` + recordColumns + `
		FROM task_history
		WHERE run_id = $1 AND task_id = $2
	`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, runID, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}

	return rec, nil
}

func (r *PostgresTaskRepository) GetTaskStats(ctx context.Context, hours int) ([]models.TaskStats, error) {
	query := `
		SELECT
			type, status, COUNT(*) as count,
			COALESCE(AVG(duration_ms), 0) as avg_duration_ms,
			COALESCE(MAX(duration_ms), 0) as max_duration_ms,
			COALESCE(MIN(duration_ms), 0) as min_duration_ms,
			COALESCE(AVG(priority), 0) as avg_priority
		FROM task_history
		WHERE created_at > NOW() - INTERVAL '1 hour' * $1
		GROUP BY type, status
		ORDER BY type, status
	`
	rows, err := r.db.QueryContext(ctx, query, hours)
	if err != nil {
		return nil, err
	}
	defer r.closeRows(rows)

	stats := make([]models.TaskStats, 0)
	for rows.Next() {
		var s models.TaskStats
		if err := rows.Scan(
			&s.Type,
			&s.Status,
			&s.Count,
			&s.AvgDurationMs,
			&s.MaxDurationMs,
			&s.MinDurationMs,
			&s.AvgPriority,
		); err != nil {
			return nil, err
		}

		stats = append(stats, s)
	}

	return stats, rows.Err()
}

func (r *PostgresTaskRepository) GetRecentTasks(ctx context.Context, limit int) ([]models.TaskRecord, error) {
	query := `SELECT` + recordColumns + `
		FROM task_history
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer r.closeRows(rows)

	return scanRecords(rows)
}

func (r *PostgresTaskRepository) GetTasksByType(ctx context.Context, taskType string, limit int) ([]models.TaskRecord, error) {
	query := `SELECT` + recordColumns + `
		FROM task_history
		WHERE type = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, taskType, limit)
	if err != nil {
		return nil, err
	}
	defer r.closeRows(rows)

	return scanRecords(rows)
}

func (r *PostgresTaskRepository) DB() *sql.DB {
	return r.db
}

func (r *PostgresTaskRepository) Close() error {
	return r.db.Close()
}

func (r *PostgresTaskRepository) closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		r.logger.Warn().Err(err).Msg("failed to close rows")
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.TaskRecord, error) {
	var rec models.TaskRecord
	var deps []byte
	var durationMs sql.NullInt64

	if err := row.Scan(
		&rec.RunID,
		&rec.TaskID,
		&rec.Name,
		&rec.Type,
		&rec.Status,
		&rec.Priority,
		&rec.Weight,
		&deps,
		&rec.CreatedAt,
		&rec.StartedAt,
		&rec.EndedAt,
		&durationMs,
		&rec.Error,
	); err != nil {
		return nil, err
	}

	if len(deps) > 0 {
		if err := json.Unmarshal(deps, &rec.Dependencies); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dependencies: %w", err)
		}
	}
	if durationMs.Valid {
		rec.DurationMs = &durationMs.Int64
	}

	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]models.TaskRecord, error) {
	records := make([]models.TaskRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}

	return records, rows.Err()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}

	return *t
}
