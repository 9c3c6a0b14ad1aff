package runner

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quenby/chime/errors"
	"github.com/quenby/chime/job"
)

func dispatcherFixture(t *testing.T, perSecond float64, burst int) (*Dispatcher, *Queue) {
	t.Helper()
	q := newTestQueue(t)
	handlers := NewHandlerRegistry()
	handlers.Register(&namedHandler{name: CommandWebhookPost})
	return NewDispatcher(q, handlers, perSecond, burst, zap.NewNop().Sugar()), q
}

func webhookDefinition() *job.Definition {
	return &job.Definition{
		ID:          uuid.New(),
		Name:        "hourly report",
		CommandType: CommandWebhookPost,
		Payload:     []byte(`{"report":"hourly"}`),
		Recipient:   "https://example.test/hook",
		Enabled:     true,
	}
}

func TestDispatcherAcceptsAndEnqueues(t *testing.T) {
	ctx := context.Background()
	d, q := dispatcherFixture(t, 0, 0)

	def := webhookDefinition()
	dueAt := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

	correlationID, err := d.Dispatch(ctx, def, dueAt)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, correlationID)

	run, err := q.Get(ctx, correlationID)
	require.NoError(t, err)
	assert.Equal(t, def.ID, run.JobID)
	assert.Equal(t, RunStatusQueued, run.Status)
	assert.Equal(t, []byte(def.Payload), run.Payload)
	assert.Equal(t, def.Recipient, run.Recipient)
	assert.True(t, run.DueAt.Equal(dueAt))
}

func TestDispatcherRejectsUnknownCommandType(t *testing.T) {
	d, q := dispatcherFixture(t, 0, 0)

	def := webhookDefinition()
	def.CommandType = "shell.exec"

	_, err := d.Dispatch(context.Background(), def, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDispatchRejected))
	assert.Contains(t, err.Error(), "shell.exec")

	runs, listErr := q.List(context.Background(), "", 10)
	require.NoError(t, listErr)
	assert.Empty(t, runs, "rejected occurrence leaves no run behind")
}

func TestDispatcherDistinctCorrelationIDs(t *testing.T) {
	ctx := context.Background()
	d, _ := dispatcherFixture(t, 0, 0)

	def := webhookDefinition()
	first, err := d.Dispatch(ctx, def, time.Now())
	require.NoError(t, err)
	second, err := d.Dispatch(ctx, def, time.Now())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestDispatcherRateGate(t *testing.T) {
	ctx := context.Background()
	d, _ := dispatcherFixture(t, 100, 1)

	def := webhookDefinition()
	start := time.Now()
	for i := 0; i < 5; i++ {
		_, err := d.Dispatch(ctx, def, time.Now())
		require.NoError(t, err)
	}
	// Burst of 1 at 100/s: four waits of ~10ms each
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestDispatcherSetRateRemovesGate(t *testing.T) {
	ctx := context.Background()
	d, _ := dispatcherFixture(t, 0.001, 1)

	def := webhookDefinition()
	_, err := d.Dispatch(ctx, def, time.Now())
	require.NoError(t, err, "burst token covers the first dispatch")

	d.SetRate(0, 0)

	start := time.Now()
	for i := 0; i < 5; i++ {
		_, err := d.Dispatch(ctx, def, time.Now())
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), 2*time.Second, "ungated dispatches do not wait")
}

func TestDispatcherRateGateSaturationRejects(t *testing.T) {
	ctx := context.Background()
	d, q := dispatcherFixture(t, 0.001, 1)

	def := webhookDefinition()
	_, err := d.Dispatch(ctx, def, time.Now())
	require.NoError(t, err, "burst token covers the first dispatch")

	start := time.Now()
	_, err = d.Dispatch(ctx, def, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDispatchRejected))
	assert.Less(t, time.Since(start), maxGateWait+time.Second,
		"saturation is detected without an open-ended stall")

	runs, listErr := q.List(ctx, "", 10)
	require.NoError(t, listErr)
	assert.Len(t, runs, 1, "saturated dispatch leaves no run behind")
}

func TestDispatcherRateGateHonorsContext(t *testing.T) {
	d, _ := dispatcherFixture(t, 10, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	def := webhookDefinition()
	_, err := d.Dispatch(ctx, def, time.Now())
	require.NoError(t, err, "burst token covers the first dispatch")

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = d.Dispatch(ctx, def, time.Now())
	require.Error(t, err, "cancellation interrupts the gate wait")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, errors.ErrDispatchRejected))
}
