package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/incidentsuite/backend/internal/logger"
	"github.com/incidentsuite/backend/internal/metrics"
	"github.com/incidentsuite/backend/internal/models"
)

const defaultDeliveryTimeout = 10 * time.Second

// Deliverer sends a chat payload. It reports how the message was handled
// instead of failing.
type Deliverer interface {
	Deliver(ctx context.Context, payload map[string]any, destination string) (bool, models.DeliveryMode)
}

// WebhookOption configures a SlackWebhook.
type WebhookOption func(*SlackWebhook)

// WithDeliveryTimeout sets the HTTP client timeout. Default: 10s.
func WithDeliveryTimeout(d time.Duration) WebhookOption {
	return func(w *SlackWebhook) {
		if d > 0 {
			w.client.Timeout = d
		}
	}
}

// SlackWebhook posts messages to an incoming webhook. Without a URL every
// delivery is a dry run.
type SlackWebhook struct {
	url    string
	client *http.Client
}

func NewSlackWebhook(url string, opts ...WebhookOption) *SlackWebhook {
	w := &SlackWebhook{
		url:    url,
		client: &http.Client{Timeout: defaultDeliveryTimeout},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *SlackWebhook) Deliver(ctx context.Context, payload map[string]any, destination string) (bool, models.DeliveryMode) {
	sent, mode := w.deliver(ctx, payload, destination)
	metrics.ObserveNotification(string(mode))
	return sent, mode
}

func (w *SlackWebhook) deliver(ctx context.Context, payload map[string]any, destination string) (bool, models.DeliveryMode) {
	if w.url == "" {
		logger.Debug("No webhook configured, notification kept as dry run", map[string]interface{}{
			"channel": destination,
		})
		return false, models.DeliveryDryRun
	}

	if err := w.post(ctx, payload); err != nil {
		logger.WithError(err, "delivery").WithField("channel", destination).Warn("Webhook delivery failed")
		return false, models.DeliveryDryRunFailed
	}

	logger.Info("Notification delivered", map[string]interface{}{
		"channel": destination,
	})
	return true, models.DeliveryLive
}

func (w *SlackWebhook) post(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
