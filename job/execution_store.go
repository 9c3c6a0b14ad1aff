package job

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/quenby/chime/errors"
)

// ExecutionStore handles persistence of execution history.
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore creates a new execution history store.
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// RecordStarted inserts a running execution row.
func (s *ExecutionStore) RecordStarted(ctx context.Context, exec Execution) error {
	query := `
		INSERT INTO executions (correlation_id, job_id, due_at, started_at, status, error)
		VALUES (?, ?, ?, ?, ?, '')
	`
	_, err := s.db.ExecContext(ctx, query,
		exec.CorrelationID.String(),
		exec.JobID.String(),
		exec.DueAt.UTC().Format(time.RFC3339),
		exec.StartedAt.UTC().Format(time.RFC3339),
		ExecutionStatusRunning,
	)
	if err != nil {
		return errors.Wrapf(err, "record execution %s", exec.CorrelationID)
	}
	return nil
}

// MarkFinished moves a running execution to a terminal status.
func (s *ExecutionStore) MarkFinished(ctx context.Context, correlationID uuid.UUID, status, errText string) error {
	query := `
		UPDATE executions
		SET status = ?, error = ?, completed_at = ?
		WHERE correlation_id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		status,
		errText,
		time.Now().UTC().Format(time.RFC3339),
		correlationID.String(),
	)
	if err != nil {
		return errors.Wrapf(err, "finish execution %s", correlationID)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if affected == 0 {
		return errors.NewNotFoundError("execution %s", correlationID)
	}
	return nil
}

// Get retrieves one execution by correlation id.
func (s *ExecutionStore) Get(ctx context.Context, correlationID uuid.UUID) (*Execution, error) {
	query := `
		SELECT correlation_id, job_id, due_at, started_at, completed_at, status, error
		FROM executions
		WHERE correlation_id = ?
	`
	exec, err := scanExecution(s.db.QueryRowContext(ctx, query, correlationID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("execution %s", correlationID)
		}
		return nil, errors.Wrapf(err, "get execution %s", correlationID)
	}
	return exec, nil
}

// ListByJob returns the most recent executions for a job, newest first.
func (s *ExecutionStore) ListByJob(ctx context.Context, jobID uuid.UUID, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT correlation_id, job_id, due_at, started_at, completed_at, status, error
		FROM executions
		WHERE job_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, jobID.String(), limit)
	if err != nil {
		return nil, errors.Wrapf(err, "list executions for job %s", jobID)
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan execution")
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// PruneOlderThan deletes terminal executions that completed before cutoff.
// Running rows are never pruned. Returns the number of rows removed.
func (s *ExecutionStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM executions
		WHERE status != ? AND completed_at IS NOT NULL AND completed_at < ?
	`
	result, err := s.db.ExecContext(ctx, query,
		ExecutionStatusRunning,
		cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, errors.Wrap(err, "prune executions")
	}
	return result.RowsAffected()
}

func scanExecution(row rowScanner) (*Execution, error) {
	var exec Execution
	var corrStr, jobStr, dueAt, startedAt string
	var completedAt sql.NullString

	err := row.Scan(&corrStr, &jobStr, &dueAt, &startedAt, &completedAt, &exec.Status, &exec.Error)
	if err != nil {
		return nil, err
	}

	exec.CorrelationID, err = uuid.Parse(corrStr)
	if err != nil {
		return nil, errors.Wrapf(err, "parse correlation id %q", corrStr)
	}
	exec.JobID, err = uuid.Parse(jobStr)
	if err != nil {
		return nil, errors.Wrapf(err, "parse job id %q", jobStr)
	}

	exec.DueAt, err = time.Parse(time.RFC3339, dueAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse due_at for execution %s", exec.CorrelationID)
	}
	exec.StartedAt, err = time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse started_at for execution %s", exec.CorrelationID)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "parse completed_at for execution %s", exec.CorrelationID)
		}
		exec.CompletedAt = &t
	}

	return &exec, nil
}
