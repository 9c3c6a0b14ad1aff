package job

import (
	"time"

	"github.com/google/uuid"
)

// Execution statuses.
const (
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
)

// Execution is one dispatched occurrence of a job, keyed by the correlation
// id handed back by the dispatch boundary.
type Execution struct {
	CorrelationID uuid.UUID  `json:"correlation_id"`
	JobID         uuid.UUID  `json:"job_id"`
	DueAt         time.Time  `json:"due_at"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Status        string     `json:"status"`
	Error         string     `json:"error,omitempty"`
}
