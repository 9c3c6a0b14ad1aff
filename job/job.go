// Package job persists job definitions and their execution history.
package job

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/quenby/chime/schedule"
)

// Definition is a recurring job as the operator configured it.
type Definition struct {
	ID       uuid.UUID          `json:"id"`
	Name     string             `json:"name"`
	Schedule *schedule.Schedule `json:"schedule,omitempty"`

	// CommandType selects the runner handler; Payload is passed to it opaque.
	CommandType string          `json:"command_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Recipient   string          `json:"recipient,omitempty"`

	Enabled bool `json:"enabled"`
	Deleted bool `json:"deleted,omitempty"`

	// DisabledReason records why the scheduler disabled the job, empty when
	// the operator disabled it or the job is enabled.
	DisabledReason string `json:"disabled_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Runnable reports whether the definition can be scheduled at all: enabled,
// not deleted, and carrying both a schedule and a command type.
func (d *Definition) Runnable() bool {
	return d != nil && d.Enabled && !d.Deleted && d.Schedule != nil && d.CommandType != ""
}

// NextRun is a convenience over the schedule, treating a missing schedule as
// never firing.
func (d *Definition) NextRun(current time.Time) time.Time {
	if d == nil || d.Schedule == nil {
		return schedule.Never
	}
	return d.Schedule.NextRun(current)
}
