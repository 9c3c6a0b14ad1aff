package runner

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quenby/chime/errors"
)

// Queue is the persistent work queue the dispatcher feeds and the worker
// pool drains. The mutex serializes dequeues so two workers cannot claim
// the same run.
type Queue struct {
	store *Store
	mu    sync.Mutex
}

// NewQueue creates a queue over the runs table.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{store: NewStore(db)}
}

// Enqueue adds a new run to the queue.
func (q *Queue) Enqueue(ctx context.Context, run *Run) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.CreateRun(ctx, run); err != nil {
		return errors.Wrapf(err, "enqueue run for job %s", run.JobID)
	}
	return nil
}

// Dequeue claims the oldest queued run and marks it running. Returns nil
// when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*Run, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	runs, err := q.store.ListRuns(ctx, RunStatusQueued, 1)
	if err != nil {
		return nil, errors.Wrap(err, "list queued runs")
	}
	if len(runs) == 0 {
		return nil, nil
	}

	run := runs[0]
	run.Start(time.Now().UTC())
	if err := q.store.UpdateRun(ctx, run); err != nil {
		return nil, errors.Wrapf(err, "mark run %s running", run.ID)
	}
	return run, nil
}

// Get retrieves a run by id.
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	return q.store.GetRun(ctx, id)
}

// Complete marks a run completed.
func (q *Queue) Complete(ctx context.Context, id uuid.UUID) error {
	return q.finish(ctx, id, func(run *Run, now time.Time) {
		run.Complete(now)
	})
}

// Fail marks a run failed with the given error.
func (q *Queue) Fail(ctx context.Context, id uuid.UUID, runErr error) error {
	return q.finish(ctx, id, func(run *Run, now time.Time) {
		run.Fail(now, runErr)
	})
}

// Requeue puts a claimed run back in the queue, e.g. when shutdown
// interrupts its execution.
func (q *Queue) Requeue(ctx context.Context, id uuid.UUID) error {
	return q.finish(ctx, id, func(run *Run, _ time.Time) {
		run.Status = RunStatusQueued
		run.StartedAt = nil
		run.Error = ""
	})
}

func (q *Queue) finish(ctx context.Context, id uuid.UUID, mutate func(*Run, time.Time)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	run, err := q.store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	mutate(run, time.Now().UTC())
	return q.store.UpdateRun(ctx, run)
}

// RequeueRunning recovers runs orphaned in the running state by a crash.
func (q *Queue) RequeueRunning(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.RequeueRunning(ctx)
}

// Cleanup removes terminal runs older than the cutoff.
func (q *Queue) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.CleanupOldRuns(ctx, cutoff)
}

// List returns runs filtered by status, oldest first. An empty status
// returns every run.
func (q *Queue) List(ctx context.Context, status string, limit int) ([]*Run, error) {
	return q.store.ListRuns(ctx, status, limit)
}

// Stats summarizes the queue by status.
type Stats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// GetStats counts runs in each status.
func (q *Queue) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	for _, status := range []string{RunStatusQueued, RunStatusRunning, RunStatusCompleted, RunStatusFailed} {
		count, err := q.store.CountByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		switch status {
		case RunStatusQueued:
			stats.Queued = count
		case RunStatusRunning:
			stats.Running = count
		case RunStatusCompleted:
			stats.Completed = count
		case RunStatusFailed:
			stats.Failed = count
		}
	}
	return stats, nil
}
