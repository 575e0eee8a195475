// Package archive persists finished tasks: their status, artifacts, and the
// full conversation log, plus the users and schedules that submit them.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/taskwright/taskwright/internal/history"
	"github.com/taskwright/taskwright/internal/supervisor"
)

var tracer trace.Tracer = otel.Tracer("archive")

// Task statuses persisted alongside queue processing.
const (
	TaskStatusQueued   = "queued"
	TaskStatusRunning  = "running"
	TaskStatusFinished = "finished"
)

// Store wraps the Postgres connection.
type Store struct {
	DB *sql.DB
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.DB.Close() }

// TaskRecord is one row of the tasks table.
type TaskRecord struct {
	ID         string
	UserID     string
	Goal       string
	Status     string
	Outcome    string
	Reason     string
	Replans    int
	Artifacts  json.RawMessage
	CreatedAt  time.Time
	FinishedAt *time.Time
}

// CreateTask inserts a queued task and returns its id.
func (s *Store) CreateTask(ctx context.Context, userID, goal string) (string, error) {
	if goal == "" {
		return "", fmt.Errorf("goal is required")
	}
	var id string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO tasks (user_id, goal, status)
VALUES ($1, $2, $3)
RETURNING id
`, nullableString(userID), goal, TaskStatusQueued).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return id, nil
}

// MarkTaskRunning flips a queued task to running.
func (s *Store) MarkTaskRunning(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE tasks SET status = $2 WHERE id = $1`, id, TaskStatusRunning)
	if err != nil {
		return fmt.Errorf("mark task running: %w", err)
	}
	return nil
}

// SaveResult stores a finished task: outcome columns, the artifacts as
// JSON, and the conversation log in the task_histories table.
func (s *Store) SaveResult(ctx context.Context, res *supervisor.Result) error {
	ctx, span := tracer.Start(ctx, "archive.save_result")
	defer span.End()

	artifacts, err := json.Marshal(res.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	logJSON, err := history.MarshalLog(res.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
UPDATE tasks
SET status = $2, outcome = $3, reason = $4, replans = $5, artifacts = $6, finished_at = now()
WHERE id = $1
`, res.TaskID, TaskStatusFinished, res.Outcome, nullableString(res.Reason), res.Replans, artifacts); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO task_histories (task_id, log)
VALUES ($1, $2)
ON CONFLICT (task_id) DO UPDATE SET log = EXCLUDED.log
`, res.TaskID, logJSON); err != nil {
		return fmt.Errorf("upsert history: %w", err)
	}
	return tx.Commit()
}

// GetTask loads one task row.
func (s *Store) GetTask(ctx context.Context, id string) (TaskRecord, error) {
	var rec TaskRecord
	var userID, outcome, reason sql.NullString
	var finishedAt sql.NullTime
	var artifacts []byte
	err := s.DB.QueryRowContext(ctx, `
SELECT id, user_id, goal, status, outcome, reason, replans, artifacts, created_at, finished_at
FROM tasks WHERE id = $1
`, id).Scan(&rec.ID, &userID, &rec.Goal, &rec.Status, &outcome, &reason, &rec.Replans, &artifacts, &rec.CreatedAt, &finishedAt)
	if err != nil {
		return TaskRecord{}, fmt.Errorf("get task: %w", err)
	}
	rec.UserID = userID.String
	rec.Outcome = outcome.String
	rec.Reason = reason.String
	rec.Artifacts = artifacts
	if finishedAt.Valid {
		t := finishedAt.Time
		rec.FinishedAt = &t
	}
	return rec, nil
}

// GetTaskHistory loads and decodes a task's conversation log.
func (s *Store) GetTaskHistory(ctx context.Context, id string) ([]history.Turn, error) {
	var raw []byte
	err := s.DB.QueryRowContext(ctx, `SELECT log FROM task_histories WHERE task_id = $1`, id).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("get task history: %w", err)
	}
	return history.UnmarshalLog(raw)
}

// ListTasksByUser returns a user's most recent tasks.
func (s *Store) ListTasksByUser(ctx context.Context, userID string, limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, goal, status, outcome, reason, replans, artifacts, created_at, finished_at
FROM tasks WHERE user_id = $1
ORDER BY created_at DESC LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var out []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var uid, outcome, reason sql.NullString
		var finishedAt sql.NullTime
		var artifacts []byte
		if err := rows.Scan(&rec.ID, &uid, &rec.Goal, &rec.Status, &outcome, &reason, &rec.Replans, &artifacts, &rec.CreatedAt, &finishedAt); err != nil {
			return nil, err
		}
		rec.UserID = uid.String
		rec.Outcome = outcome.String
		rec.Reason = reason.String
		rec.Artifacts = artifacts
		if finishedAt.Valid {
			t := finishedAt.Time
			rec.FinishedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ClaimIdempotency records a (scope, key) pair once. The first caller gets
// true; replays get false, letting workers skip duplicate events.
func (s *Store) ClaimIdempotency(ctx context.Context, scope, key string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
INSERT INTO idempotency_keys (scope, key)
VALUES ($1, $2)
ON CONFLICT (scope, key) DO NOTHING
`, scope, key)
	if err != nil {
		return false, fmt.Errorf("claim idempotency: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CreateUser inserts a user with a bcrypt password hash.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO users (email, password_hash)
VALUES ($1, $2)
`, email, passwordHash)
	return err
}

// GetUserByEmail returns a user's id and password hash.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (string, string, error) {
	var id, hash string
	err := s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email = $1`, email).Scan(&id, &hash)
	if err != nil {
		return "", "", err
	}
	return id, hash, nil
}

// ScheduleRecord is a recurring goal submitted on a cron schedule.
type ScheduleRecord struct {
	ID             string
	UserID         string
	Goal           string
	CronSpec       string
	LastEnqueuedAt *time.Time
	CreatedAt      time.Time
}

// CreateSchedule registers a recurring goal.
func (s *Store) CreateSchedule(ctx context.Context, userID, goal, cronSpec string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO schedules (user_id, goal, cron_spec)
VALUES ($1, $2, $3)
RETURNING id
`, nullableString(userID), goal, cronSpec).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert schedule: %w", err)
	}
	return id, nil
}

// ListSchedules returns every registered schedule.
func (s *Store) ListSchedules(ctx context.Context) ([]ScheduleRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, goal, cron_spec, last_enqueued_at, created_at FROM schedules
`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	var out []ScheduleRecord
	for rows.Next() {
		var rec ScheduleRecord
		var uid sql.NullString
		var last sql.NullTime
		if err := rows.Scan(&rec.ID, &uid, &rec.Goal, &rec.CronSpec, &last, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.UserID = uid.String
		if last.Valid {
			t := last.Time
			rec.LastEnqueuedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TouchSchedule records when a schedule last enqueued a task.
func (s *Store) TouchSchedule(ctx context.Context, id string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE schedules SET last_enqueued_at = $2 WHERE id = $1`, id, at)
	return err
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
