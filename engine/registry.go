package engine

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunningJob is one in-flight execution, tracked from dispatch acceptance to
// the completion notification.
type RunningJob struct {
	JobID         uuid.UUID       `json:"job_id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	StartedAt     time.Time       `json:"started_at"`
	DueAt         time.Time       `json:"due_at"`
	CommandType   string          `json:"command_type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Recipient     string          `json:"recipient,omitempty"`
}

// Registry tracks running jobs by correlation id. Safe for concurrent use:
// the engine writes, API handlers and diagnostics read.
type Registry struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]RunningJob
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[uuid.UUID]RunningJob)}
}

// Add records a running job, replacing any entry with the same correlation id.
func (r *Registry) Add(run RunningJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[run.CorrelationID] = run
}

// Remove deletes and returns the entry for the correlation id.
func (r *Registry) Remove(correlationID uuid.UUID) (RunningJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.jobs[correlationID]
	if ok {
		delete(r.jobs, correlationID)
	}
	return run, ok
}

// Get returns the entry for the correlation id without removing it.
func (r *Registry) Get(correlationID uuid.UUID) (RunningJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.jobs[correlationID]
	return run, ok
}

// Len returns the number of running jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Snapshot returns all running jobs ordered by start time (correlation id as
// tie-break) for stable display.
func (r *Registry) Snapshot() []RunningJob {
	r.mu.RLock()
	runs := make([]RunningJob, 0, len(r.jobs))
	for _, run := range r.jobs {
		runs = append(runs, run)
	}
	r.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.Before(runs[j].StartedAt)
		}
		return runs[i].CorrelationID.String() < runs[j].CorrelationID.String()
	})
	return runs
}
