package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventType enumerates observable scheduling events.
type EventType string

const (
	// EventJobScheduled fires when a job's next occurrence enters the index.
	EventJobScheduled EventType = "job_scheduled"
	// EventJobRemovedFromSchedule fires when a job's pending occurrence is
	// withdrawn (disabled, deleted, schedule cleared, or exhausted).
	EventJobRemovedFromSchedule EventType = "job_removed_from_schedule"
	// EventRunStarted fires when a dispatch is accepted and tracked.
	EventRunStarted EventType = "run_started"
	// EventRunCompleted fires when a completion notification arrives.
	EventRunCompleted EventType = "run_completed"
	// EventJobAutoDisabled fires when dispatch failure disables a job.
	EventJobAutoDisabled EventType = "job_auto_disabled"
)

// Event is one scheduling event, delivered to subscribers and streamed over
// the websocket.
type Event struct {
	Type          EventType `json:"type"`
	JobID         uuid.UUID `json:"job_id"`
	CorrelationID uuid.UUID `json:"correlation_id,omitempty"`
	DueAt         time.Time `json:"due_at,omitempty"`
	At            time.Time `json:"at"`
	Reason        string    `json:"reason,omitempty"`
}

// Emitter fans events out to subscribers over buffered channels. Delivery is
// best effort: a subscriber that falls behind misses events rather than
// stalling the engine.
type Emitter struct {
	mu          sync.Mutex
	subscribers []chan Event
	log         *zap.SugaredLogger
}

// NewEmitter creates an emitter. log may be nil.
func NewEmitter(log *zap.SugaredLogger) *Emitter {
	return &Emitter{log: log}
}

// Subscribe registers a new subscriber and returns its channel.
func (e *Emitter) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	e.mu.Lock()
	e.subscribers = append(e.subscribers, ch)
	e.mu.Unlock()
	return ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (e *Emitter) Unsubscribe(ch <-chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, sub := range e.subscribers {
		if sub == ch {
			e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// Emit delivers the event to every subscriber without blocking.
func (e *Emitter) Emit(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sub := range e.subscribers {
		select {
		case sub <- event:
		default:
			if e.log != nil {
				e.log.Debugw("Dropping event for slow subscriber",
					"type", event.Type,
					"job_id", event.JobID,
				)
			}
		}
	}
}
