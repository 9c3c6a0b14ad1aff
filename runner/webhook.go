package runner

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/quenby/chime/errors"
)

// CommandWebhookPost is the command type served by WebhookHandler.
const CommandWebhookPost = "webhook.post"

const webhookTimeout = 30 * time.Second

// WebhookHandler delivers a run's payload to its recipient URL with an
// HTTP POST. Any non-2xx response fails the run.
type WebhookHandler struct {
	client *http.Client
	log    *zap.SugaredLogger
}

// NewWebhookHandler creates a webhook handler. A nil client gets a default
// with a 30 second timeout.
func NewWebhookHandler(client *http.Client, log *zap.SugaredLogger) *WebhookHandler {
	if client == nil {
		client = &http.Client{Timeout: webhookTimeout}
	}
	return &WebhookHandler{client: client, log: log}
}

// Name implements Handler.
func (h *WebhookHandler) Name() string { return CommandWebhookPost }

// Execute implements Handler.
func (h *WebhookHandler) Execute(ctx context.Context, run *Run) error {
	if run.Recipient == "" {
		return errors.NewInvalidRequestError("run %s has no recipient URL", run.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, run.Recipient, bytes.NewReader(run.Payload))
	if err != nil {
		return errors.Wrapf(err, "build webhook request for run %s", run.ID)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Chime-Run-ID", run.ID.String())
	req.Header.Set("X-Chime-Job-ID", run.JobID.String())

	resp, err := h.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "post webhook for run %s", run.ID)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Newf("webhook for run %s returned status %d", run.ID, resp.StatusCode)
	}

	h.log.Debugw("Webhook delivered",
		"run_id", run.ID,
		"recipient", run.Recipient,
		"status", resp.StatusCode,
	)
	return nil
}
