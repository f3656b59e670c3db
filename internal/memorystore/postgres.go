package memorystore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/admadc/pipeline/internal/apperrors"
)

// EventLog is the structured, append-only event store (spec.md §3 "Event
// log row"), backed by Postgres via pgx.
type EventLog struct {
	pool *pgxpool.Pool
}

func NewEventLog(ctx context.Context, dsn string) (*EventLog, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("memorystore: connect postgres: %w", err)
	}
	return &EventLog{pool: pool}, nil
}

// Migrate creates the event_log and tasks tables if absent. Called once at
// service startup (spec.md's Non-goal list excludes migration tooling, so
// this is a minimal idempotent DDL, not a migration framework).
func (l *EventLog) Migrate(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS event_log (
			event_id        TEXT PRIMARY KEY,
			event_type      TEXT NOT NULL,
			plan_id         TEXT,
			producer        TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			payload         JSONB NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_event_log_type ON event_log(event_type);
		CREATE INDEX IF NOT EXISTS idx_event_log_plan ON event_log(plan_id);

		CREATE TABLE IF NOT EXISTS tasks (
			task_id    TEXT PRIMARY KEY,
			plan_id    TEXT NOT NULL,
			status     TEXT NOT NULL,
			file_path  TEXT,
			code       TEXT,
			repo_url   TEXT,
			qa_attempt INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_plan ON tasks(plan_id);
	`)
	return err
}

// StoreEvent inserts row, returning stored=false iff event_id already
// exists (spec.md §4.3's store_event contract).
func (l *EventLog) StoreEvent(ctx context.Context, row EventRow) (bool, error) {
	tag, err := l.pool.Exec(ctx, `
		INSERT INTO event_log (event_id, event_type, plan_id, producer, idempotency_key, payload, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`, row.EventID, row.EventType, row.PlanID, row.Producer, row.IdempotencyKey, row.Payload, row.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("memorystore: store event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetEvents returns rows most-recent-first, optionally filtered.
func (l *EventLog) GetEvents(ctx context.Context, eventType, planID string, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.pool.Query(ctx, `
		SELECT event_id, event_type, COALESCE(plan_id, ''), producer, idempotency_key, payload, created_at
		FROM event_log
		WHERE ($1 = '' OR event_type = $1)
		  AND ($2 = '' OR plan_id = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, eventType, planID, limit)
	if err != nil {
		return nil, fmt.Errorf("memorystore: get events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var r EventRow
		if err := rows.Scan(&r.EventID, &r.EventType, &r.PlanID, &r.Producer, &r.IdempotencyKey, &r.Payload, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertTask inserts or updates a task row, preserving existing fields when
// new values are empty, except qa_attempt which overwrites when supplied
// (spec.md §4.3's update_task contract; qaAttemptSupplied reports whether
// t.QAAttempt was supplied).
func (l *EventLog) UpsertTask(ctx context.Context, t Task, qaAttemptSupplied bool) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO tasks (task_id, plan_id, status, file_path, code, repo_url, qa_attempt, updated_at)
		VALUES ($1, $2, $3, NULLIF($4,''), NULLIF($5,''), NULLIF($6,''), $7, $8)
		ON CONFLICT (task_id) DO UPDATE SET
			status     = EXCLUDED.status,
			file_path  = COALESCE(EXCLUDED.file_path, tasks.file_path),
			code       = COALESCE(EXCLUDED.code, tasks.code),
			repo_url   = COALESCE(EXCLUDED.repo_url, tasks.repo_url),
			qa_attempt = CASE WHEN $9 THEN EXCLUDED.qa_attempt ELSE tasks.qa_attempt END,
			updated_at = EXCLUDED.updated_at
	`, t.TaskID, t.PlanID, t.Status, t.FilePath, t.Code, t.RepoURL, t.QAAttempt, t.UpdatedAt, qaAttemptSupplied)
	if err != nil {
		return fmt.Errorf("memorystore: upsert task: %w", err)
	}
	return nil
}

// GetTasks returns every task row belonging to planID.
func (l *EventLog) GetTasks(ctx context.Context, planID string) ([]Task, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT task_id, plan_id, status, COALESCE(file_path,''), COALESCE(code,''), COALESCE(repo_url,''), qa_attempt, updated_at
		FROM tasks WHERE plan_id = $1
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("memorystore: get tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.TaskID, &t.PlanID, &t.Status, &t.FilePath, &t.Code, &t.RepoURL, &t.QAAttempt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTask fetches one task by id, returning apperrors.ErrNotFound if absent.
func (l *EventLog) GetTask(ctx context.Context, taskID string) (Task, error) {
	var t Task
	err := l.pool.QueryRow(ctx, `
		SELECT task_id, plan_id, status, COALESCE(file_path,''), COALESCE(code,''), COALESCE(repo_url,''), qa_attempt, updated_at
		FROM tasks WHERE task_id = $1
	`, taskID).Scan(&t.TaskID, &t.PlanID, &t.Status, &t.FilePath, &t.Code, &t.RepoURL, &t.QAAttempt, &t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return Task{}, apperrors.ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("memorystore: get task: %w", err)
	}
	return t, nil
}

func (l *EventLog) Close() { l.pool.Close() }

// HasCodeGeneratedForTask checks whether a code.generated event already
// exists for taskID, backing Developer's idempotency pre-check (spec.md
// §4.5: "scan the Memory event log for an existing code.generated with the
// same task_id").
func (l *EventLog) HasCodeGeneratedForTask(ctx context.Context, planID, taskID string) (bool, error) {
	rows, err := l.GetEvents(ctx, "code.generated", planID, 500)
	if err != nil {
		return false, err
	}
	for _, r := range rows {
		var payload struct {
			TaskID string `json:"task_id"`
		}
		if err := json.Unmarshal(r.Payload, &payload); err != nil {
			continue
		}
		if payload.TaskID == taskID {
			return true, nil
		}
	}
	return false, nil
}
