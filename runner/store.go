package runner

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/quenby/chime/errors"
)

// Store handles persistence of runs.
type Store struct {
	db *sql.DB
}

// NewStore creates a new run store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const runColumns = `
	id, job_id, command_type, payload, recipient, due_at,
	status, error, created_at, started_at, completed_at, updated_at
`

// CreateRun inserts a new run.
func (s *Store) CreateRun(ctx context.Context, run *Run) error {
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now
	if run.Status == "" {
		run.Status = RunStatusQueued
	}

	query := `
		INSERT INTO runs (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		run.ID.String(),
		run.JobID.String(),
		run.CommandType,
		run.Payload,
		run.Recipient,
		run.DueAt.UTC().Format(time.RFC3339),
		run.Status,
		run.Error,
		now.Format(time.RFC3339),
		timePtrString(run.StartedAt),
		timePtrString(run.CompletedAt),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrapf(err, "create run %s", run.ID)
	}
	return nil
}

// GetRun retrieves a run by id.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`
	run, err := scanRun(s.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("run %s", id)
		}
		return nil, errors.Wrapf(err, "get run %s", id)
	}
	return run, nil
}

// UpdateRun persists the run's mutable state.
func (s *Store) UpdateRun(ctx context.Context, run *Run) error {
	run.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE runs
		SET status = ?, error = ?, started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		run.Status,
		run.Error,
		timePtrString(run.StartedAt),
		timePtrString(run.CompletedAt),
		run.UpdatedAt.Format(time.RFC3339),
		run.ID.String(),
	)
	if err != nil {
		return errors.Wrapf(err, "update run %s", run.ID)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if affected == 0 {
		return errors.NewNotFoundError("run %s", run.ID)
	}
	return nil
}

// ListRuns returns runs, optionally filtered by status, oldest first.
func (s *Store) ListRuns(ctx context.Context, status string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	// rowid breaks created_at ties in insertion order
	query += ` ORDER BY created_at ASC, rowid ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RequeueRunning flips every running run back to queued. Called at startup
// to recover runs orphaned by a crash; returns how many were recovered.
func (s *Store) RequeueRunning(ctx context.Context) (int64, error) {
	query := `
		UPDATE runs
		SET status = ?, error = '', started_at = NULL, updated_at = ?
		WHERE status = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		RunStatusQueued,
		time.Now().UTC().Format(time.RFC3339),
		RunStatusRunning,
	)
	if err != nil {
		return 0, errors.Wrap(err, "requeue running runs")
	}
	return result.RowsAffected()
}

// CleanupOldRuns deletes terminal runs older than the cutoff. Returns how
// many rows were removed.
func (s *Store) CleanupOldRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM runs
		WHERE status IN (?, ?) AND created_at < ?
	`
	result, err := s.db.ExecContext(ctx, query,
		RunStatusCompleted,
		RunStatusFailed,
		cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, errors.Wrap(err, "cleanup old runs")
	}
	return result.RowsAffected()
}

// CountByStatus returns the number of runs in the given status.
func (s *Store) CountByStatus(ctx context.Context, status string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE status = ?`, status,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrapf(err, "count %s runs", status)
	}
	return count, nil
}

func timePtrString(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var idStr, jobIDStr, dueAt, createdAt, updatedAt string
	var startedAt, completedAt sql.NullString
	var payload []byte

	err := row.Scan(
		&idStr,
		&jobIDStr,
		&run.CommandType,
		&payload,
		&run.Recipient,
		&dueAt,
		&run.Status,
		&run.Error,
		&createdAt,
		&startedAt,
		&completedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, errors.Wrapf(err, "parse run id %q", idStr)
	}
	run.JobID, err = uuid.Parse(jobIDStr)
	if err != nil {
		return nil, errors.Wrapf(err, "parse job id %q", jobIDStr)
	}
	run.Payload = payload

	run.DueAt, err = time.Parse(time.RFC3339, dueAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse due_at for run %s", run.ID)
	}
	run.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse created_at for run %s", run.ID)
	}
	run.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse updated_at for run %s", run.ID)
	}
	if startedAt.Valid && startedAt.String != "" {
		t, err := time.Parse(time.RFC3339, startedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "parse started_at for run %s", run.ID)
		}
		run.StartedAt = &t
	}
	if completedAt.Valid && completedAt.String != "" {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "parse completed_at for run %s", run.ID)
		}
		run.CompletedAt = &t
	}

	return &run, nil
}
