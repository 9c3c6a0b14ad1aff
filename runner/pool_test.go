package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quenby/chime/errors"
)

type recordingHandler struct {
	name string
	err  error

	mu       sync.Mutex
	executed []uuid.UUID
}

func (h *recordingHandler) Name() string { return h.name }

func (h *recordingHandler) Execute(_ context.Context, run *Run) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.executed = append(h.executed, run.ID)
	return h.err
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.executed)
}

type recordingNotifier struct {
	mu        sync.Mutex
	completed []uuid.UUID
}

func (n *recordingNotifier) ExecutionCompleted(correlationID uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, correlationID)
}

func (n *recordingNotifier) seen(id uuid.UUID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, got := range n.completed {
		if got == id {
			return true
		}
	}
	return false
}

type recordingFinisher struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]string
	errTexts map[uuid.UUID]string
}

func newRecordingFinisher() *recordingFinisher {
	return &recordingFinisher{
		statuses: make(map[uuid.UUID]string),
		errTexts: make(map[uuid.UUID]string),
	}
}

func (f *recordingFinisher) MarkFinished(_ context.Context, correlationID uuid.UUID, status, errText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[correlationID] = status
	f.errTexts[correlationID] = errText
	return nil
}

func (f *recordingFinisher) status(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

func poolFixture(t *testing.T, handler Handler) (*Pool, *Queue, *recordingNotifier, *recordingFinisher) {
	t.Helper()
	q := newTestQueue(t)
	handlers := NewHandlerRegistry()
	handlers.Register(handler)
	notifier := &recordingNotifier{}
	finisher := newRecordingFinisher()
	cfg := PoolConfig{Workers: 1, PollInterval: 10 * time.Millisecond}
	pool := NewPool(context.Background(), q, handlers, finisher, notifier, cfg, zap.NewNop().Sugar())
	return pool, q, notifier, finisher
}

func TestPoolExecutesQueuedRun(t *testing.T) {
	ctx := context.Background()
	handler := &recordingHandler{name: CommandWebhookPost}
	pool, q, notifier, finisher := poolFixture(t, handler)

	run := queuedRun(uuid.New())
	require.NoError(t, q.Enqueue(ctx, run))

	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool {
		return notifier.seen(run.ID)
	}, 3*time.Second, 10*time.Millisecond, "completion notification arrives")

	assert.Equal(t, 1, handler.count())
	assert.Equal(t, "completed", finisher.status(run.ID))

	got, err := q.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestPoolFailedRunStillNotifies(t *testing.T) {
	ctx := context.Background()
	handler := &recordingHandler{name: CommandWebhookPost, err: errors.New("delivery refused")}
	pool, q, notifier, finisher := poolFixture(t, handler)

	run := queuedRun(uuid.New())
	require.NoError(t, q.Enqueue(ctx, run))

	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool {
		return notifier.seen(run.ID)
	}, 3*time.Second, 10*time.Millisecond, "failure reported like completion")

	assert.Equal(t, "failed", finisher.status(run.ID))

	got, err := q.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Contains(t, got.Error, "delivery refused")
}

func TestPoolStaleCommandTypeFailsRun(t *testing.T) {
	ctx := context.Background()
	handler := &recordingHandler{name: CommandWebhookPost}
	pool, q, notifier, _ := poolFixture(t, handler)

	// Enqueued before its handler disappeared
	stale := queuedRun(uuid.New())
	stale.CommandType = "retired.command"
	require.NoError(t, q.Enqueue(ctx, stale))

	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool {
		return notifier.seen(stale.ID)
	}, 3*time.Second, 10*time.Millisecond)

	got, err := q.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Contains(t, got.Error, "retired.command")
	assert.Equal(t, 0, handler.count(), "handler for other commands untouched")
}

func TestPoolRequeuesOrphansOnStart(t *testing.T) {
	ctx := context.Background()
	handler := &recordingHandler{name: CommandWebhookPost}
	pool, q, notifier, _ := poolFixture(t, handler)

	// Simulate a crash: a run left in the running state
	orphan := queuedRun(uuid.New())
	require.NoError(t, q.Enqueue(ctx, orphan))
	_, err := q.Dequeue(ctx)
	require.NoError(t, err)

	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool {
		return notifier.seen(orphan.ID)
	}, 3*time.Second, 10*time.Millisecond, "orphan requeued and executed")

	got, err := q.Get(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, got.Status)
}

func TestPoolDrainsBacklogInOrder(t *testing.T) {
	ctx := context.Background()
	handler := &recordingHandler{name: CommandWebhookPost}
	pool, q, notifier, _ := poolFixture(t, handler)

	runs := make([]*Run, 5)
	for i := range runs {
		runs[i] = queuedRun(uuid.New())
		require.NoError(t, q.Enqueue(ctx, runs[i]))
	}

	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool {
		return notifier.seen(runs[len(runs)-1].ID)
	}, 5*time.Second, 10*time.Millisecond)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	require.Len(t, handler.executed, len(runs))
	for i, run := range runs {
		assert.Equal(t, run.ID, handler.executed[i], "backlog drained oldest first")
	}
}

func TestPoolStopIsIdempotentAcrossRestart(t *testing.T) {
	ctx := context.Background()
	handler := &recordingHandler{name: CommandWebhookPost}
	pool, q, notifier, _ := poolFixture(t, handler)

	pool.Start()
	pool.Stop()

	// Work enqueued while stopped gets picked up after restart
	run := queuedRun(uuid.New())
	require.NoError(t, q.Enqueue(ctx, run))

	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool {
		return notifier.seen(run.ID)
	}, 3*time.Second, 10*time.Millisecond)
}
