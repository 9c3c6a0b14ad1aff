// Package engine schedules recurring jobs: it keeps the pending-occurrence
// index, dispatches due occurrences to the execution side, and tracks
// in-flight runs.
//
// All scheduling state is owned by a single goroutine. Everything else talks
// to it through an unbounded control mailbox whose producers never block, so
// store mutations, completion callbacks, and API handlers can notify the
// engine from any goroutine.
package engine

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quenby/chime/errors"
	"github.com/quenby/chime/job"
	"github.com/quenby/chime/schedule"
)

// DefinitionSource is the persistence the engine consumes. *job.Store
// satisfies it.
type DefinitionSource interface {
	ListEnabled(ctx context.Context) ([]*job.Definition, error)
	Get(ctx context.Context, id uuid.UUID) (*job.Definition, error)
	Disable(ctx context.Context, id uuid.UUID, reason string) error
}

// Dispatcher hands a due occurrence to the execution side. Dispatch returns
// the correlation id once the occurrence is accepted; it must not wait for
// execution. An error means the occurrence was not accepted, and the engine
// responds by disabling the job.
type Dispatcher interface {
	Dispatch(ctx context.Context, def *job.Definition, dueAt time.Time) (uuid.UUID, error)
}

// ExecutionRecorder persists execution-started rows. *job.ExecutionStore
// satisfies it; nil disables recording.
type ExecutionRecorder interface {
	RecordStarted(ctx context.Context, exec job.Execution) error
}

// Config tunes the engine loop.
type Config struct {
	// TickInterval caps how long the loop sleeps between wake-ups; the idle
	// log line rides on it.
	TickInterval time.Duration
	// StartupGrace delays the initial load so subscribers and collaborators
	// can attach before the first flush.
	StartupGrace time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval: 1 * time.Second,
		StartupGrace: 2 * time.Second,
	}
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	Pending    int   `json:"pending"`
	Running    int   `json:"running"`
	Dispatched int64 `json:"dispatched"`
}

// Engine is the scheduling actor.
type Engine struct {
	source     DefinitionSource
	dispatcher Dispatcher
	executions ExecutionRecorder
	clock      Clock
	log        *zap.SugaredLogger
	cfg        Config

	emitter  *Emitter
	index    *Index
	registry *Registry
	box      *mailbox

	// defs caches runnable definitions so flushes don't hit the store.
	// Engine goroutine only.
	defs map[uuid.UUID]*job.Definition

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pending    atomic.Int64
	dispatched atomic.Int64

	lastLoggedPending int
	lastLoggedRunning int
}

// NewEngine creates an engine. recorder may be nil.
func NewEngine(ctx context.Context, source DefinitionSource, dispatcher Dispatcher, recorder ExecutionRecorder, cfg Config, log *zap.SugaredLogger) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	engineCtx, cancel := context.WithCancel(ctx)
	return &Engine{
		source:            source,
		dispatcher:        dispatcher,
		executions:        recorder,
		clock:             SystemClock(),
		log:               log,
		cfg:               cfg,
		emitter:           NewEmitter(log),
		index:             NewIndex(),
		registry:          NewRegistry(),
		box:               newMailbox(),
		defs:              make(map[uuid.UUID]*job.Definition),
		ctx:               engineCtx,
		cancel:            cancel,
		lastLoggedPending: -1,
	}
}

// Start launches the engine goroutine. The startup load runs after the
// configured grace period.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.run()
	e.log.Infow("Engine started",
		"tick_interval", e.cfg.TickInterval,
		"startup_grace", e.cfg.StartupGrace,
	)
}

// Stop shuts the engine down and waits for the goroutine to exit. Messages
// still in the mailbox are dropped; the next Startup recomputes schedules
// from the store.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
	e.log.Infow("Engine stopped")
}

// Events exposes the event emitter for subscribers.
func (e *Engine) Events() *Emitter { return e.emitter }

// Running returns a snapshot of in-flight runs.
func (e *Engine) Running() []RunningJob { return e.registry.Snapshot() }

// Stats returns current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Pending:    int(e.pending.Load()),
		Running:    e.registry.Len(),
		Dispatched: e.dispatched.Load(),
	}
}

// JobEnabled tells the engine a job was enabled.
func (e *Engine) JobEnabled(id uuid.UUID) {
	e.box.put(message{kind: msgJobEnabled, jobID: id})
}

// JobDisabled tells the engine a job was disabled.
func (e *Engine) JobDisabled(id uuid.UUID) {
	e.box.put(message{kind: msgJobDisabled, jobID: id})
}

// JobDeleted tells the engine a job was deleted.
func (e *Engine) JobDeleted(id uuid.UUID) {
	e.box.put(message{kind: msgJobDeleted, jobID: id})
}

// ScheduleChanged tells the engine a job's schedule was replaced.
func (e *Engine) ScheduleChanged(id uuid.UUID) {
	e.box.put(message{kind: msgScheduleChanged, jobID: id})
}

// ExecutionStarted registers an externally observed run, e.g. reconciliation
// after a restart.
func (e *Engine) ExecutionStarted(run RunningJob) {
	e.box.put(message{kind: msgExecutionStarted, run: run})
}

// ExecutionCompleted tells the engine a dispatched run finished, successfully
// or not. Unknown correlation ids are ignored.
func (e *Engine) ExecutionCompleted(correlationID uuid.UUID) {
	e.box.put(message{kind: msgExecutionCompleted, correlationID: correlationID})
}

// Flush asks the engine to dispatch everything currently due.
func (e *Engine) Flush() {
	e.box.put(message{kind: msgFlush})
}

func (e *Engine) run() {
	defer e.wg.Done()

	if e.cfg.StartupGrace > 0 {
		select {
		case <-e.ctx.Done():
			return
		case <-time.After(e.cfg.StartupGrace):
		}
	}
	e.box.put(message{kind: msgStartup})

	idle := time.NewTimer(e.cfg.TickInterval)
	defer idle.Stop()

	for {
		for {
			msg, ok := e.box.take()
			if !ok {
				break
			}
			e.apply(msg)
		}

		// Sleep until the next due entry, capped by the tick interval
		wait := e.cfg.TickInterval
		if due, ok := e.index.PeekMinDueAt(); ok {
			if until := due.Sub(e.clock.Now()); until < wait {
				wait = until
			}
			if wait < 0 {
				wait = 0
			}
		}
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(wait)

		select {
		case <-e.ctx.Done():
			return
		case <-e.box.wakeCh():
		case <-idle.C:
			e.flushDue()
			e.pending.Store(int64(e.index.Len()))
			e.logIdle()
		}
	}
}

// apply processes one control message. A panicking handler poisons neither
// the loop nor the messages behind it.
func (e *Engine) apply(msg message) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorw("Control message handler panicked",
				"kind", msg.kind.String(),
				"job_id", msg.jobID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	switch msg.kind {
	case msgStartup:
		e.handleStartup()
	case msgJobEnabled, msgScheduleChanged:
		e.reschedule(msg.jobID)
	case msgJobDisabled, msgJobDeleted:
		e.withdraw(msg.jobID)
	case msgExecutionStarted:
		e.trackRun(msg.run)
	case msgExecutionCompleted:
		e.completeRun(msg.correlationID)
	case msgFlush:
		e.flushDue()
	}
	e.pending.Store(int64(e.index.Len()))
}

func (e *Engine) handleStartup() {
	defs, err := e.source.ListEnabled(e.ctx)
	if err != nil {
		e.log.Errorw("Startup load failed", "error", err)
		return
	}

	now := e.clock.Now()
	scheduled := 0
	for _, def := range defs {
		if !def.Runnable() {
			continue
		}
		e.defs[def.ID] = def
		if e.scheduleNext(def, now) {
			scheduled++
		}
	}
	e.log.Infow("Schedules loaded",
		"jobs_enabled", len(defs),
		"jobs_scheduled", scheduled,
	)
	e.flushDue()
}

// scheduleNext arms the job's next occurrence, reporting whether one exists.
func (e *Engine) scheduleNext(def *job.Definition, now time.Time) bool {
	next := def.NextRun(now)
	if schedule.IsNever(next) {
		if e.index.Remove(def.ID) {
			e.emitter.Emit(Event{Type: EventJobRemovedFromSchedule, JobID: def.ID, At: now})
		}
		return false
	}
	e.index.Upsert(def.ID, next)
	e.emitter.Emit(Event{Type: EventJobScheduled, JobID: def.ID, DueAt: next, At: now})
	e.log.Debugw("Job scheduled",
		"job_id", def.ID,
		"name", def.Name,
		"due_at", next,
		"due_in", next.Sub(now).Round(time.Second),
	)
	return true
}

func (e *Engine) reschedule(id uuid.UUID) {
	def, err := e.source.Get(e.ctx, id)
	if err != nil {
		if errors.IsNotFoundError(err) {
			e.withdraw(id)
			return
		}
		e.log.Warnw("Failed to load job for rescheduling", "job_id", id, "error", err)
		return
	}
	if !def.Runnable() {
		e.withdraw(id)
		return
	}
	e.defs[id] = def
	e.scheduleNext(def, e.clock.Now())
	e.flushDue()
}

func (e *Engine) withdraw(id uuid.UUID) {
	delete(e.defs, id)
	if e.index.Remove(id) {
		e.emitter.Emit(Event{Type: EventJobRemovedFromSchedule, JobID: id, At: e.clock.Now()})
		e.log.Debugw("Job removed from schedule", "job_id", id)
	}
}

// flushDue dispatches every entry strictly past its due time, in (DueAt, id)
// order. A job's next occurrence is not re-armed until its completion
// notification arrives, so at most one run per job is in flight.
func (e *Engine) flushDue() {
	now := e.clock.Now()
	for {
		entry, ok := e.index.PopIfDue(now)
		if !ok {
			return
		}
		e.dispatch(entry, now)
	}
}

func (e *Engine) dispatch(entry Entry, now time.Time) {
	def := e.defs[entry.JobID]
	if def == nil {
		loaded, err := e.source.Get(e.ctx, entry.JobID)
		if err != nil {
			e.log.Warnw("Dropping due entry for unloadable job", "job_id", entry.JobID, "error", err)
			return
		}
		def = loaded
		e.defs[entry.JobID] = def
	}
	if !def.Runnable() {
		e.withdraw(entry.JobID)
		return
	}

	correlationID, err := e.dispatcher.Dispatch(e.ctx, def, entry.DueAt)
	if err != nil {
		if e.ctx.Err() != nil {
			// Shutdown raced the dispatch; the occurrence is recomputed at
			// next startup, and the job keeps its enabled state.
			e.log.Warnw("Dispatch aborted by shutdown", "job_id", def.ID)
			return
		}
		e.autoDisable(def, err)
		return
	}

	e.dispatched.Add(1)
	e.trackRun(RunningJob{
		JobID:         def.ID,
		CorrelationID: correlationID,
		StartedAt:     now,
		DueAt:         entry.DueAt,
		CommandType:   def.CommandType,
		Payload:       def.Payload,
		Recipient:     def.Recipient,
	})
}

// autoDisable contains a dispatch failure: the job is disabled with the error
// as reason and will not be retried until an operator re-enables it.
func (e *Engine) autoDisable(def *job.Definition, cause error) {
	reason := cause.Error()
	e.log.Errorw("Dispatch failed, disabling job",
		"job_id", def.ID,
		"name", def.Name,
		"error", cause,
	)

	if err := e.source.Disable(e.ctx, def.ID, reason); err != nil {
		e.log.Errorw("Failed to persist auto-disable", "job_id", def.ID, "error", err)
	}

	delete(e.defs, def.ID)
	e.index.Remove(def.ID)

	now := e.clock.Now()
	e.emitter.Emit(Event{Type: EventJobAutoDisabled, JobID: def.ID, Reason: reason, At: now})
	e.emitter.Emit(Event{Type: EventJobRemovedFromSchedule, JobID: def.ID, At: now})
}

func (e *Engine) trackRun(run RunningJob) {
	e.registry.Add(run)

	if e.executions != nil {
		err := e.executions.RecordStarted(e.ctx, job.Execution{
			CorrelationID: run.CorrelationID,
			JobID:         run.JobID,
			DueAt:         run.DueAt,
			StartedAt:     run.StartedAt,
		})
		if err != nil {
			// History is best effort; the run itself proceeds
			e.log.Errorw("Failed to record execution", "correlation_id", run.CorrelationID, "error", err)
		}
	}

	e.emitter.Emit(Event{
		Type:          EventRunStarted,
		JobID:         run.JobID,
		CorrelationID: run.CorrelationID,
		DueAt:         run.DueAt,
		At:            run.StartedAt,
	})
	e.log.Infow("Dispatched job",
		"job_id", run.JobID,
		"correlation_id", run.CorrelationID,
		"command_type", run.CommandType,
		"due_at", run.DueAt,
	)
}

func (e *Engine) completeRun(correlationID uuid.UUID) {
	now := e.clock.Now()
	run, ok := e.registry.Remove(correlationID)
	if !ok {
		// Stale or duplicate completion; nothing to do
		e.log.Debugw("Completion for unknown correlation id", "correlation_id", correlationID)
		return
	}

	e.emitter.Emit(Event{
		Type:          EventRunCompleted,
		JobID:         run.JobID,
		CorrelationID: correlationID,
		At:            now,
	})
	e.log.Infow("Run completed",
		"job_id", run.JobID,
		"correlation_id", correlationID,
		"duration", now.Sub(run.StartedAt).Round(time.Millisecond),
	)

	def := e.defs[run.JobID]
	if def == nil {
		loaded, err := e.source.Get(e.ctx, run.JobID)
		if err != nil {
			e.log.Debugw("Completed job no longer loadable", "job_id", run.JobID, "error", err)
			return
		}
		def = loaded
	}
	if !def.Runnable() {
		delete(e.defs, run.JobID)
		return
	}
	e.defs[run.JobID] = def
	e.scheduleNext(def, now)
	e.flushDue()
}

// logIdle emits the periodic status line, but only when the pending or
// running counts moved since the last one.
func (e *Engine) logIdle() {
	pending := e.index.Len()
	running := e.registry.Len()
	if pending == e.lastLoggedPending && running == e.lastLoggedRunning {
		return
	}
	e.lastLoggedPending = pending
	e.lastLoggedRunning = running

	fields := []interface{}{
		"pending", pending,
		"running", running,
		"dispatched", e.dispatched.Load(),
	}
	if due, ok := e.index.PeekMinDueAt(); ok {
		until := due.Sub(e.clock.Now())
		if until < 0 {
			until = 0
		}
		fields = append(fields, "next_due_in", until.Round(time.Second))
	}
	metrics := collectSystemMetrics()
	fields = append(fields,
		"mem_used_gb", metrics.MemoryUsedGB,
		"mem_percent", metrics.MemoryPercent,
		"cpu_percent", metrics.CPUPercent,
	)
	e.log.Infow("Scheduler status", fields...)
}
