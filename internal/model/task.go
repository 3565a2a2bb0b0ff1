package model

import (
	"encoding/json"
	"time"
)

// Task status constants.
const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning: true,
		StatusFailed:  true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status is a final task status.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// TaskRequest is one submission of a serialized task to the compute service.
type TaskRequest struct {
	TaskID         string          `json:"task_id"`
	Payload        json.RawMessage `json:"payload"`
	SubmissionTime time.Time       `json:"submission_time"`
}

// TaskResult reports the state of a submitted task.
type TaskResult struct {
	TaskID       string          `json:"task_id"`
	Status       string          `json:"status"`
	Output       json.RawMessage `json:"output,omitempty"`
	ErrorMessage string          `json:"error,omitempty"`
}

// TaskRecord is the service-side record of a submitted task.
type TaskRecord struct {
	ID           string          `json:"id"`
	ClientTaskID string          `json:"client_task_id"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	Payload      json.RawMessage `json:"payload"`
	Output       json.RawMessage `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
	DurationMS   *int            `json:"duration_ms,omitempty"`
	SubmittedAt  time.Time       `json:"submitted_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

// Result converts the record into the wire result.
func (r *TaskRecord) Result() TaskResult {
	return TaskResult{
		TaskID:       r.ID,
		Status:       r.Status,
		Output:       r.Output,
		ErrorMessage: r.Error,
	}
}
