package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/quenby/chime/errors"
	"github.com/quenby/chime/schedule"
)

// Store handles persistence of job definitions.
type Store struct {
	db *sql.DB
}

// NewStore creates a new job definition store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const definitionColumns = `
	id, name, schedule, command_type, payload, recipient,
	enabled, deleted, disabled_reason, created_at, updated_at
`

// Create inserts a new definition. A zero ID is assigned a fresh UUID.
func (s *Store) Create(ctx context.Context, def *Definition) error {
	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	now := time.Now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now

	scheduleJSON, err := marshalSchedule(def.Schedule)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (` + definitionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		def.ID.String(),
		def.Name,
		scheduleJSON,
		def.CommandType,
		def.Payload,
		def.Recipient,
		def.Enabled,
		def.Deleted,
		def.DisabledReason,
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrapf(err, "create job %s", def.ID)
	}
	return nil
}

// Get retrieves a definition by id. Soft-deleted jobs are still returned;
// callers check Deleted when it matters.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Definition, error) {
	query := `SELECT ` + definitionColumns + ` FROM jobs WHERE id = ?`
	def, err := scanDefinition(s.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("job %s", id)
		}
		return nil, errors.Wrapf(err, "get job %s", id)
	}
	return def, nil
}

// ListEnabled returns all enabled, non-deleted definitions.
func (s *Store) ListEnabled(ctx context.Context) ([]*Definition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM jobs
		WHERE enabled = 1 AND deleted = 0
		ORDER BY created_at ASC
	`
	return s.list(ctx, query)
}

// List returns all non-deleted definitions, newest first.
func (s *Store) List(ctx context.Context) ([]*Definition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM jobs
		WHERE deleted = 0
		ORDER BY created_at DESC
	`
	return s.list(ctx, query)
}

func (s *Store) list(ctx context.Context, query string, args ...interface{}) ([]*Definition, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	defer rows.Close()

	var defs []*Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan job")
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// SetEnabled flips the enabled flag. Enabling clears any disabled reason.
func (s *Store) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	query := `
		UPDATE jobs
		SET enabled = ?, disabled_reason = '', updated_at = ?
		WHERE id = ? AND deleted = 0
	`
	return s.exec(ctx, id, query, enabled, time.Now().UTC().Format(time.RFC3339), id.String())
}

// Disable turns the job off and records why. The scheduler calls this when
// dispatch fails; the job stays off until an operator re-enables it.
func (s *Store) Disable(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE jobs
		SET enabled = 0, disabled_reason = ?, updated_at = ?
		WHERE id = ?
	`
	return s.exec(ctx, id, query, reason, time.Now().UTC().Format(time.RFC3339), id.String())
}

// SetSchedule replaces the schedule. A nil schedule clears it.
func (s *Store) SetSchedule(ctx context.Context, id uuid.UUID, sched *schedule.Schedule) error {
	scheduleJSON, err := marshalSchedule(sched)
	if err != nil {
		return err
	}
	query := `
		UPDATE jobs
		SET schedule = ?, updated_at = ?
		WHERE id = ? AND deleted = 0
	`
	return s.exec(ctx, id, query, scheduleJSON, time.Now().UTC().Format(time.RFC3339), id.String())
}

// Delete soft-deletes the definition. Execution history stays.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE jobs
		SET deleted = 1, enabled = 0, updated_at = ?
		WHERE id = ? AND deleted = 0
	`
	return s.exec(ctx, id, query, time.Now().UTC().Format(time.RFC3339), id.String())
}

func (s *Store) exec(ctx context.Context, id uuid.UUID, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "update job %s", id)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if affected == 0 {
		return errors.NewNotFoundError("job %s", id)
	}
	return nil
}

func marshalSchedule(sched *schedule.Schedule) (interface{}, error) {
	if sched == nil {
		return nil, nil
	}
	b, err := json.Marshal(sched)
	if err != nil {
		return nil, errors.Wrap(err, "encode schedule")
	}
	return string(b), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDefinition(row rowScanner) (*Definition, error) {
	var def Definition
	var idStr, createdAt, updatedAt string
	var scheduleJSON sql.NullString
	var payload []byte

	err := row.Scan(
		&idStr,
		&def.Name,
		&scheduleJSON,
		&def.CommandType,
		&payload,
		&def.Recipient,
		&def.Enabled,
		&def.Deleted,
		&def.DisabledReason,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	def.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, errors.Wrapf(err, "parse id %q", idStr)
	}
	def.Payload = payload

	if scheduleJSON.Valid && scheduleJSON.String != "" {
		var sched schedule.Schedule
		if err := json.Unmarshal([]byte(scheduleJSON.String), &sched); err != nil {
			return nil, errors.Wrapf(err, "decode schedule for job %s", def.ID)
		}
		def.Schedule = &sched
	}

	def.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse created_at for job %s", def.ID)
	}
	def.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse updated_at for job %s", def.ID)
	}

	return &def, nil
}
