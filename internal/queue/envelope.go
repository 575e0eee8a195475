// Package queue moves task events through Redis Streams. Every message is
// wrapped in an Envelope so consumers can de-duplicate by event id and
// reject payload versions they do not understand.
package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stream and event names used by the control core.
const (
	StreamTaskEnqueued = "task.enqueued"
	StreamTaskFinished = "task.finished"

	EventTaskEnqueued = "task.enqueued"
	EventTaskFinished = "task.finished"

	PayloadVersion = "v1"
)

// TaskEnqueuedPayload is the v1 payload of a task.enqueued event.
type TaskEnqueuedPayload struct {
	TaskID string `json:"task_id"`
	Goal   string `json:"goal"`
	UserID string `json:"user_id,omitempty"`
}

// TaskFinishedPayload is the v1 payload of a task.finished event.
type TaskFinishedPayload struct {
	TaskID  string `json:"task_id"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

// Envelope is the wire wrapper persisted to the stream.
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	TraceID        string          `json:"trace_id,omitempty"`
	Attempt        int             `json:"attempt"`
	PayloadVersion string          `json:"payload_version"`
	Data           json.RawMessage `json:"data"`
}

// Validate checks the mandatory envelope fields.
func (e *Envelope) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.PayloadVersion != PayloadVersion {
		return fmt.Errorf("unsupported payload version %q", e.PayloadVersion)
	}
	if e.Attempt < 0 {
		return fmt.Errorf("attempt must be >= 0")
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("data payload is required")
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return nil
}

// Marshal validates and JSON-encodes the envelope.
func (e *Envelope) Marshal() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// UnmarshalEnvelope decodes and validates an envelope.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return env, err
	}
	return env, nil
}
