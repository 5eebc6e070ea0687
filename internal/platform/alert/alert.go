package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Notifier raises an operator-facing alert. Implementations must never block
// job processing on failure; alerting is best effort.
type Notifier interface {
	Notify(ctx context.Context, subject, detail string) error
}

// Webhook posts alerts to a chat-ops incoming webhook as a JSON payload with a
// single "text" field, the format both Slack and Mattermost accept.
type Webhook struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

func NewWebhook(url string, log *slog.Logger) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

func (w *Webhook) Notify(ctx context.Context, subject, detail string) error {
	if w.url == "" {
		w.log.Warn("ops alert dropped, no webhook configured", "subject", subject)
		return nil
	}
	body, err := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s*\n%s", subject, detail),
	})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Noop drops alerts; used where alerting is not wired.
type Noop struct{}

func (Noop) Notify(context.Context, string, string) error { return nil }
