package job

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quenby/chime/errors"
	chimetest "github.com/quenby/chime/internal/testing"
	"github.com/quenby/chime/schedule"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(chimetest.CreateTestDB(t))
}

func intervalSchedule(every time.Duration) *schedule.Schedule {
	return &schedule.Schedule{Kind: schedule.KindInterval, Every: every}
}

func TestStoreCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	def := &Definition{
		Name:        "heartbeat",
		CommandType: "webhook.post",
		Payload:     []byte(`{"ping":true}`),
		Recipient:   "https://example.com/hook",
		Enabled:     true,
		Schedule:    intervalSchedule(time.Hour),
	}
	require.NoError(t, store.Create(ctx, def))
	require.NotEqual(t, uuid.Nil, def.ID, "create assigns an id")

	got, err := store.Get(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, def.ID, got.ID)
	assert.Equal(t, "heartbeat", got.Name)
	assert.Equal(t, "webhook.post", got.CommandType)
	assert.JSONEq(t, `{"ping":true}`, string(got.Payload))
	assert.True(t, got.Enabled)
	require.NotNil(t, got.Schedule)
	assert.Equal(t, schedule.KindInterval, got.Schedule.Kind)
	assert.Equal(t, time.Hour, got.Schedule.Every)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestStoreGetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStoreListEnabled(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	enabled := &Definition{Name: "on", CommandType: "webhook.post", Enabled: true, Schedule: intervalSchedule(time.Minute)}
	disabled := &Definition{Name: "off", CommandType: "webhook.post", Enabled: false, Schedule: intervalSchedule(time.Minute)}
	require.NoError(t, store.Create(ctx, enabled))
	require.NoError(t, store.Create(ctx, disabled))

	deleted := &Definition{Name: "gone", CommandType: "webhook.post", Enabled: true, Schedule: intervalSchedule(time.Minute)}
	require.NoError(t, store.Create(ctx, deleted))
	require.NoError(t, store.Delete(ctx, deleted.ID))

	defs, err := store.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, enabled.ID, defs[0].ID)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2, "soft-deleted jobs are excluded from List")
}

func TestStoreSetEnabled(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	def := &Definition{Name: "toggle", CommandType: "webhook.post", Enabled: true, Schedule: intervalSchedule(time.Minute)}
	require.NoError(t, store.Create(ctx, def))

	require.NoError(t, store.SetEnabled(ctx, def.ID, false))
	got, err := store.Get(ctx, def.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	require.NoError(t, store.SetEnabled(ctx, def.ID, true))
	got, err = store.Get(ctx, def.ID)
	require.NoError(t, err)
	assert.True(t, got.Enabled)

	err = store.SetEnabled(ctx, uuid.New(), true)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStoreDisableRecordsReason(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	def := &Definition{Name: "flaky", CommandType: "webhook.post", Enabled: true, Schedule: intervalSchedule(time.Minute)}
	require.NoError(t, store.Create(ctx, def))

	require.NoError(t, store.Disable(ctx, def.ID, "dispatch rejected: no handler"))

	got, err := store.Get(ctx, def.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, "dispatch rejected: no handler", got.DisabledReason)

	// Re-enabling clears the reason
	require.NoError(t, store.SetEnabled(ctx, def.ID, true))
	got, err = store.Get(ctx, def.ID)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Empty(t, got.DisabledReason)
}

func TestStoreSetSchedule(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	def := &Definition{Name: "resched", CommandType: "webhook.post", Enabled: true, Schedule: intervalSchedule(time.Minute)}
	require.NoError(t, store.Create(ctx, def))

	daily := &schedule.Schedule{Kind: schedule.KindDaily, Times: []schedule.TimeOfDay{{Hour: 6, Minute: 30}}}
	require.NoError(t, store.SetSchedule(ctx, def.ID, daily))

	got, err := store.Get(ctx, def.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Schedule)
	assert.Equal(t, schedule.KindDaily, got.Schedule.Kind)
	assert.Equal(t, []schedule.TimeOfDay{{Hour: 6, Minute: 30}}, got.Schedule.Times)

	// Clearing the schedule leaves the job unschedulable
	require.NoError(t, store.SetSchedule(ctx, def.ID, nil))
	got, err = store.Get(ctx, def.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Schedule)
	assert.False(t, got.Runnable())
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	def := &Definition{Name: "doomed", CommandType: "webhook.post", Enabled: true, Schedule: intervalSchedule(time.Minute)}
	require.NoError(t, store.Create(ctx, def))
	require.NoError(t, store.Delete(ctx, def.ID))

	got, err := store.Get(ctx, def.ID)
	require.NoError(t, err, "deleted jobs remain readable")
	assert.True(t, got.Deleted)
	assert.False(t, got.Enabled)
	assert.False(t, got.Runnable())

	// Double delete reports not found
	err = store.Delete(ctx, def.ID)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestDefinitionRunnable(t *testing.T) {
	def := &Definition{Name: "x", CommandType: "webhook.post", Enabled: true, Schedule: intervalSchedule(time.Minute)}
	assert.True(t, def.Runnable())

	assert.False(t, (&Definition{Name: "x", CommandType: "webhook.post", Enabled: true}).Runnable(), "no schedule")
	assert.False(t, (&Definition{Name: "x", Enabled: true, Schedule: intervalSchedule(time.Minute)}).Runnable(), "no command type")
	assert.False(t, (*Definition)(nil).Runnable())
}
