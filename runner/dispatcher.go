package runner

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quenby/chime/errors"
	"github.com/quenby/chime/job"
)

// Dispatcher accepts due occurrences from the scheduling engine and turns
// them into queued runs. Acceptance is cheap: validate that a handler exists
// for the command type, pass the rate gate, persist the run. Execution
// happens later in the worker pool; Dispatch never waits for it.
type Dispatcher struct {
	queue    *Queue
	handlers *HandlerRegistry
	log      *zap.SugaredLogger

	mu      sync.Mutex
	limiter *rate.Limiter
}

// maxGateWait bounds how long Dispatch blocks on the rate gate. The caller
// is the engine's single goroutine; a saturated gate must reject quickly
// rather than stall control-message processing.
const maxGateWait = time.Second

// NewDispatcher creates a dispatcher. perSecond caps how many occurrences
// are accepted per second; burst allows short spikes. A non-positive
// perSecond disables the gate.
func NewDispatcher(queue *Queue, handlers *HandlerRegistry, perSecond float64, burst int, log *zap.SugaredLogger) *Dispatcher {
	d := &Dispatcher{
		queue:    queue,
		handlers: handlers,
		log:      log,
	}
	d.SetRate(perSecond, burst)
	return d
}

// SetRate replaces the dispatch admission rate, for live config reloads.
// A non-positive perSecond removes the gate.
func (d *Dispatcher) SetRate(perSecond float64, burst int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if perSecond <= 0 {
		d.limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (d *Dispatcher) gate() *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.limiter
}

// Dispatch implements the engine's dispatch boundary. A returned error means
// the occurrence was not accepted and the engine will disable the job, so
// only rejections that an operator must act on are returned as errors.
func (d *Dispatcher) Dispatch(ctx context.Context, def *job.Definition, dueAt time.Time) (uuid.UUID, error) {
	if !d.handlers.Has(def.CommandType) {
		return uuid.Nil, errors.Wrapf(errors.ErrDispatchRejected,
			"no handler for command type %q", def.CommandType)
	}

	if limiter := d.gate(); limiter != nil {
		waitCtx, cancel := context.WithTimeout(ctx, maxGateWait)
		err := limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return uuid.Nil, errors.Wrap(ctx.Err(), "dispatch rate gate")
			}
			return uuid.Nil, errors.Wrapf(errors.ErrDispatchRejected,
				"rate gate saturated, admission not possible within %s", maxGateWait)
		}
	}

	run := &Run{
		ID:          uuid.New(),
		JobID:       def.ID,
		CommandType: def.CommandType,
		Payload:     def.Payload,
		Recipient:   def.Recipient,
		DueAt:       dueAt,
	}
	if err := d.queue.Enqueue(ctx, run); err != nil {
		return uuid.Nil, errors.Wrapf(err, "enqueue run for job %s", def.ID)
	}

	d.log.Debugw("Run accepted",
		"run_id", run.ID,
		"job_id", def.ID,
		"command_type", def.CommandType,
		"due_at", dueAt,
	)
	return run.ID, nil
}
