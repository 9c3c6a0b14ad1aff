package runner

import (
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is one accepted occurrence of a job waiting for, or undergoing,
// execution. Its ID doubles as the correlation id the scheduler tracks the
// run under.
type Run struct {
	ID          uuid.UUID  `json:"id"`
	JobID       uuid.UUID  `json:"job_id"`
	CommandType string     `json:"command_type"`
	Payload     []byte     `json:"payload,omitempty"`
	Recipient   string     `json:"recipient,omitempty"`
	DueAt       time.Time  `json:"due_at"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Start transitions the run to running.
func (r *Run) Start(now time.Time) {
	r.Status = RunStatusRunning
	r.StartedAt = &now
	r.UpdatedAt = now
}

// Complete transitions the run to completed.
func (r *Run) Complete(now time.Time) {
	r.Status = RunStatusCompleted
	r.CompletedAt = &now
	r.UpdatedAt = now
}

// Fail transitions the run to failed and records the error.
func (r *Run) Fail(now time.Time, err error) {
	r.Status = RunStatusFailed
	r.CompletedAt = &now
	r.UpdatedAt = now
	if err != nil {
		r.Error = err.Error()
	}
}

// Terminal reports whether the run has reached a final status.
func (r *Run) Terminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}
