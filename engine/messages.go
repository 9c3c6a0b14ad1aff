package engine

import "github.com/google/uuid"

// msgKind enumerates the control messages the engine accepts.
type msgKind int

const (
	msgStartup msgKind = iota
	msgJobEnabled
	msgJobDisabled
	msgJobDeleted
	msgScheduleChanged
	msgExecutionStarted
	msgExecutionCompleted
	msgFlush
)

func (k msgKind) String() string {
	switch k {
	case msgStartup:
		return "startup"
	case msgJobEnabled:
		return "job_enabled"
	case msgJobDisabled:
		return "job_disabled"
	case msgJobDeleted:
		return "job_deleted"
	case msgScheduleChanged:
		return "schedule_changed"
	case msgExecutionStarted:
		return "execution_started"
	case msgExecutionCompleted:
		return "execution_completed"
	case msgFlush:
		return "flush"
	}
	return "unknown"
}

// message is one mailbox item. Which fields are meaningful depends on kind.
type message struct {
	kind          msgKind
	jobID         uuid.UUID
	correlationID uuid.UUID
	run           RunningJob
}
