package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quenby/chime/engine"
	chimetest "github.com/quenby/chime/internal/testing"
	"github.com/quenby/chime/job"
	"github.com/quenby/chime/runner"
	"github.com/quenby/chime/schedule"
)

func newTestServer(t *testing.T) (*Server, *job.Store) {
	t.Helper()

	db := chimetest.CreateTestDB(t)
	jobs := job.NewStore(db)
	executions := job.NewExecutionStore(db)
	queue := runner.NewQueue(db)

	handlers := runner.NewHandlerRegistry()
	handlers.Register(runner.NewWebhookHandler(nil, zap.NewNop().Sugar()))
	dispatcher := runner.NewDispatcher(queue, handlers, 0, 0, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	eng := engine.NewEngine(ctx, jobs, dispatcher, executions, engine.DefaultConfig(), zap.NewNop().Sugar())

	return NewServer(0, jobs, executions, queue, eng, zap.NewNop().Sugar()), jobs
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateAndGetJob(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/jobs", map[string]interface{}{
		"name":         "hourly report",
		"command_type": "webhook.post",
		"payload":      map[string]string{"report": "hourly"},
		"recipient":    "https://example.test/hook",
		"schedule":     map[string]interface{}{"kind": "interval", "every": "1h"},
		"enabled":      true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created job.Definition
	decodeJSON(t, rec, &created)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.True(t, created.Enabled)
	require.NotNil(t, created.Schedule)
	assert.Equal(t, schedule.KindInterval, created.Schedule.Kind)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/jobs/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got job.Definition
	decodeJSON(t, rec, &got)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "hourly report", got.Name)
}

func TestCreateJobValidation(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing name", map[string]interface{}{"command_type": "webhook.post"}},
		{"missing command type", map[string]interface{}{"name": "x"}},
		{"invalid schedule", map[string]interface{}{
			"name":         "x",
			"command_type": "webhook.post",
			"schedule":     map[string]interface{}{"kind": "interval"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s.Handler(), http.MethodPost, "/api/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestListJobs(t *testing.T) {
	s, jobs := newTestServer(t)
	ctx := context.Background()

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String(), "empty list is an array, not null")

	require.NoError(t, jobs.Create(ctx, &job.Definition{Name: "a", CommandType: "webhook.post"}))
	require.NoError(t, jobs.Create(ctx, &job.Definition{Name: "b", CommandType: "webhook.post"}))

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/jobs", nil)
	var listed []*job.Definition
	decodeJSON(t, rec, &listed)
	assert.Len(t, listed, 2)
}

func TestEnableDisableJob(t *testing.T) {
	s, jobs := newTestServer(t)
	ctx := context.Background()

	def := &job.Definition{Name: "toggle me", CommandType: "webhook.post"}
	require.NoError(t, jobs.Create(ctx, def))

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/jobs/"+def.ID.String()+"/enable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got, err := jobs.Get(ctx, def.ID)
	require.NoError(t, err)
	assert.True(t, got.Enabled)

	rec = doJSON(t, s.Handler(), http.MethodPost, "/api/jobs/"+def.ID.String()+"/disable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got, err = jobs.Get(ctx, def.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
}

func TestDeleteJob(t *testing.T) {
	s, jobs := newTestServer(t)
	ctx := context.Background()

	def := &job.Definition{Name: "goner", CommandType: "webhook.post"}
	require.NoError(t, jobs.Create(ctx, def))

	rec := doJSON(t, s.Handler(), http.MethodDelete, "/api/jobs/"+def.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/jobs/"+def.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "deleted jobs vanish from the API")

	rec = doJSON(t, s.Handler(), http.MethodDelete, "/api/jobs/"+def.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "second delete is a 404")
}

func TestJobNotFoundAndBadID(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetSchedule(t *testing.T) {
	s, jobs := newTestServer(t)
	ctx := context.Background()

	def := &job.Definition{Name: "rearm", CommandType: "webhook.post"}
	require.NoError(t, jobs.Create(ctx, def))

	rec := doJSON(t, s.Handler(), http.MethodPut, "/api/jobs/"+def.ID.String()+"/schedule",
		map[string]interface{}{"kind": "daily", "times": []string{"07:30"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got, err := jobs.Get(ctx, def.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Schedule)
	assert.Equal(t, schedule.KindDaily, got.Schedule.Kind)

	rec = doJSON(t, s.Handler(), http.MethodPut, "/api/jobs/"+def.ID.String()+"/schedule",
		map[string]interface{}{"kind": "weekly"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "weekly without items is rejected")
}

func TestListExecutions(t *testing.T) {
	s, jobs := newTestServer(t)
	ctx := context.Background()

	def := &job.Definition{Name: "hist", CommandType: "webhook.post"}
	require.NoError(t, jobs.Create(ctx, def))

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/jobs/"+def.ID.String()+"/executions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	require.NoError(t, s.executions.RecordStarted(ctx, job.Execution{
		CorrelationID: uuid.New(),
		JobID:         def.ID,
		DueAt:         time.Now().UTC(),
		StartedAt:     time.Now().UTC(),
	}))

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/jobs/"+def.ID.String()+"/executions?limit=10", nil)
	var execs []*job.Execution
	decodeJSON(t, rec, &execs)
	assert.Len(t, execs, 1)
}

func TestRunningAndStats(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/running", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats statsResponse
	decodeJSON(t, rec, &stats)
	assert.NotNil(t, stats.Engine)
	assert.NotNil(t, stats.Queue)
}

func TestListRuns(t *testing.T) {
	s, _ := newTestServer(t)

	run := &runner.Run{
		ID:          uuid.New(),
		JobID:       uuid.New(),
		CommandType: "webhook.post",
		DueAt:       time.Now().UTC(),
	}
	require.NoError(t, s.queue.Enqueue(context.Background(), run))

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/runs?status=queued", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []*runner.Run
	decodeJSON(t, rec, &runs)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/runs?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
