// Package notify delivers completion callbacks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docparse/constants"
)

const DefaultTimeout = 10 * time.Second

// Callback is the body POSTed to a task's callback_ref.
type Callback struct {
	TaskID string               `json:"task_id"`
	Status constants.TaskStatus `json:"status"`
	Result json.RawMessage      `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// Notifier makes a single bounded POST per callback and never retries.
type Notifier struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

func New(client *http.Client, timeout time.Duration, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Notifier{client: client, timeout: timeout, logger: logger}
}

// Notify posts cb to url. The returned error is informational; callers log it
// and move on.
func (n *Notifier) Notify(ctx context.Context, url string, cb Callback) error {
	if url == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	reqID := uuid.NewString()
	start := time.Now()
	log := n.logger.With("req_id", reqID, "task_id", cb.TaskID, "url", url)

	bs, err := json.Marshal(cb)
	if err != nil {
		log.Error("notify.encode_error", "error", err)
		return fmt.Errorf("encode callback: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		log.Error("notify.build_request_error", "error", err)
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", reqID)

	resp, err := n.client.Do(req)
	if err != nil {
		log.Warn("notify.send_error", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return fmt.Errorf("send callback: %w", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			log.Warn("notify.response_body_close_error", "error", err)
		}
	}(resp.Body)
	_, _ = io.Copy(io.Discard, resp.Body)

	log.Info("notify.response", "status", resp.StatusCode, "elapsed_ms", time.Since(start).Milliseconds())
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	return nil
}
