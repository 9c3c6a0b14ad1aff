package runner

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func webhookRun(recipient string) *Run {
	return &Run{
		ID:          uuid.New(),
		JobID:       uuid.New(),
		CommandType: CommandWebhookPost,
		Payload:     []byte(`{"event":"tick"}`),
		Recipient:   recipient,
		DueAt:       time.Now().UTC(),
	}
}

func TestWebhookHandlerDelivers(t *testing.T) {
	var gotBody []byte
	var gotContentType, gotRunID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		gotRunID = r.Header.Get("X-Chime-Run-ID")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	h := NewWebhookHandler(srv.Client(), zap.NewNop().Sugar())
	assert.Equal(t, "webhook.post", h.Name())

	run := webhookRun(srv.URL)
	require.NoError(t, h.Execute(context.Background(), run))
	assert.JSONEq(t, `{"event":"tick"}`, string(gotBody))
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, run.ID.String(), gotRunID)
}

func TestWebhookHandlerNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := NewWebhookHandler(srv.Client(), zap.NewNop().Sugar())
	err := h.Execute(context.Background(), webhookRun(srv.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestWebhookHandlerMissingRecipient(t *testing.T) {
	h := NewWebhookHandler(nil, zap.NewNop().Sugar())
	err := h.Execute(context.Background(), webhookRun(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no recipient")
}

func TestWebhookHandlerUnreachableRecipient(t *testing.T) {
	h := NewWebhookHandler(&http.Client{Timeout: 200 * time.Millisecond}, zap.NewNop().Sugar())
	err := h.Execute(context.Background(), webhookRun("http://127.0.0.1:1/hook"))
	require.Error(t, err)
}

func TestWebhookHandlerHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	h := NewWebhookHandler(srv.Client(), zap.NewNop().Sugar())
	err := h.Execute(ctx, webhookRun(srv.URL))
	require.Error(t, err, "cancelled context aborts the request")
}
