package server

import (
	"encoding/json"
	"time"
)

// AuthRequest is the signup/login payload.
type AuthRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SubmitTaskRequest is the task submission payload.
type SubmitTaskRequest struct {
	Goal string `json:"goal"`
}

// SubmitTaskResponse returns the created task id.
type SubmitTaskResponse struct {
	TaskID string `json:"task_id"`
}

// TaskResponse is the public shape of a task row.
type TaskResponse struct {
	ID         string          `json:"id"`
	Goal       string          `json:"goal"`
	Status     string          `json:"status"`
	Outcome    string          `json:"outcome,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Replans    int             `json:"replans"`
	Artifacts  json.RawMessage `json:"artifacts,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// CreateScheduleRequest registers a recurring goal.
type CreateScheduleRequest struct {
	Goal     string `json:"goal"`
	CronSpec string `json:"cron_spec"`
}

// ScheduleResponse is the public shape of a schedule row.
type ScheduleResponse struct {
	ID             string     `json:"id"`
	Goal           string     `json:"goal"`
	CronSpec       string     `json:"cron_spec"`
	LastEnqueuedAt *time.Time `json:"last_enqueued_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
