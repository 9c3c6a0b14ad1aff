package runner

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quenby/chime/errors"
	"github.com/quenby/chime/job"
)

// CompletionNotifier receives the correlation id of every run that reaches
// a terminal status. *engine.Engine satisfies it; nil disables notification.
type CompletionNotifier interface {
	ExecutionCompleted(correlationID uuid.UUID)
}

// ExecutionFinisher closes out execution history rows. *job.ExecutionStore
// satisfies it; nil disables history.
type ExecutionFinisher interface {
	MarkFinished(ctx context.Context, correlationID uuid.UUID, status, errText string) error
}

// PoolConfig tunes the worker pool.
type PoolConfig struct {
	Workers      int           `json:"workers"`
	PollInterval time.Duration `json:"poll_interval"`
}

// DefaultPoolConfig returns sensible defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:      2,
		PollInterval: 1 * time.Second,
	}
}

// Pool drains the run queue with a fixed set of workers. Each worker polls
// for the oldest queued run, executes its handler, records the outcome, and
// notifies the scheduler so the job's next occurrence can be armed.
type Pool struct {
	queue      *Queue
	handlers   *HandlerRegistry
	executions ExecutionFinisher
	notifier   CompletionNotifier
	cfg        PoolConfig
	log        *zap.SugaredLogger

	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
}

// NewPool creates a worker pool. finisher and notifier may be nil.
func NewPool(ctx context.Context, queue *Queue, handlers *HandlerRegistry, finisher ExecutionFinisher, notifier CompletionNotifier, cfg PoolConfig, log *zap.SugaredLogger) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = DefaultPoolConfig().Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPoolConfig().PollInterval
	}
	poolCtx, cancel := context.WithCancel(ctx)
	return &Pool{
		queue:      queue,
		handlers:   handlers,
		executions: finisher,
		notifier:   notifier,
		cfg:        cfg,
		log:        log,
		parentCtx:  ctx,
		ctx:        poolCtx,
		cancel:     cancel,
	}
}

// Start recovers orphaned runs and launches the workers.
func (p *Pool) Start() {
	p.mu.Lock()
	select {
	case <-p.ctx.Done():
		// Restart after Stop: derive a fresh context from the parent
		p.ctx, p.cancel = context.WithCancel(p.parentCtx)
	default:
	}
	p.mu.Unlock()

	recovered, err := p.queue.RequeueRunning(p.ctx)
	if err != nil {
		p.log.Warnw("Failed to requeue orphaned runs", "error", err)
	} else if recovered > 0 {
		p.log.Infow("Requeued orphaned runs from previous shutdown", "count", recovered)
	}

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Infow("Worker pool started",
		"workers", p.cfg.Workers,
		"poll_interval", p.cfg.PollInterval,
		"handlers", p.handlers.Names(),
	)
}

// Stop cancels the workers and waits for in-flight runs to wind down. Runs
// interrupted mid-execution are requeued and picked up after restart.
func (p *Pool) Stop() {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Infow("Worker pool stopped")
	case <-time.After(30 * time.Second):
		p.log.Warnw("Worker pool stop timed out; workers still winding down")
	}
}

// Registry returns the handler registry for registering command handlers
// before Start.
func (p *Pool) Registry() *HandlerRegistry { return p.handlers }

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := p.processNext(); err != nil {
				if p.ctx.Err() != nil || errors.Is(err, sql.ErrConnDone) {
					return
				}
				p.log.Errorw("Worker failed to process run", "worker_id", id, "error", err)
			}
		}
	}
}

// processNext claims and executes one run. Returns nil when the queue is
// empty.
func (p *Pool) processNext() error {
	select {
	case <-p.ctx.Done():
		return nil
	default:
	}

	run, err := p.queue.Dequeue(p.ctx)
	if err != nil {
		return errors.Wrap(err, "dequeue run")
	}
	if run == nil {
		return nil
	}

	handler := p.handlers.Get(run.CommandType)
	if handler == nil {
		// Shouldn't happen: the dispatcher validates handlers on accept.
		// A stale run from before a handler was unregistered fails here.
		err := errors.Newf("no handler for command type %q", run.CommandType)
		if failErr := p.queue.Fail(p.ctx, run.ID, err); failErr != nil {
			return failErr
		}
		p.finish(run, job.ExecutionStatusFailed, err.Error())
		return nil
	}

	p.log.Debugw("Executing run",
		"run_id", run.ID,
		"job_id", run.JobID,
		"command_type", run.CommandType,
	)

	if err := handler.Execute(p.ctx, run); err != nil {
		if p.ctx.Err() != nil {
			// Shutdown interrupted the handler; put the run back so the
			// next start picks it up. No completion is reported.
			if requeueErr := p.queue.Requeue(context.Background(), run.ID); requeueErr != nil {
				p.log.Errorw("Failed to requeue interrupted run", "run_id", run.ID, "error", requeueErr)
			}
			return nil
		}
		if failErr := p.queue.Fail(p.ctx, run.ID, err); failErr != nil {
			return failErr
		}
		p.log.Warnw("Run failed",
			"run_id", run.ID,
			"job_id", run.JobID,
			"command_type", run.CommandType,
			"error", err,
		)
		p.finish(run, job.ExecutionStatusFailed, err.Error())
		return nil
	}

	if err := p.queue.Complete(p.ctx, run.ID); err != nil {
		return err
	}
	p.finish(run, job.ExecutionStatusCompleted, "")
	return nil
}

// finish records the outcome and tells the scheduler the run is over. The
// scheduler hears about failures too: a failed run still re-arms the job's
// next occurrence.
func (p *Pool) finish(run *Run, status, errText string) {
	if p.executions != nil {
		if err := p.executions.MarkFinished(p.ctx, run.ID, status, errText); err != nil && !errors.IsNotFoundError(err) {
			p.log.Errorw("Failed to record execution outcome", "run_id", run.ID, "error", err)
		}
	}
	if p.notifier != nil {
		p.notifier.ExecutionCompleted(run.ID)
	}
}
