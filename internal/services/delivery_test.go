package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/incidentsuite/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlackWebhookDryRunWithoutURL(t *testing.T) {
	sent, mode := NewSlackWebhook("").Deliver(context.Background(), SlackPayload("#ops", "hi"), "#ops")
	assert.False(t, sent)
	assert.Equal(t, models.DeliveryDryRun, mode)
}

func TestSlackWebhookLive(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	sent, mode := NewSlackWebhook(srv.URL).Deliver(context.Background(), SlackPayload("#ops", "hello"), "#ops")
	assert.True(t, sent)
	assert.Equal(t, models.DeliveryLive, mode)
	assert.Equal(t, "hello", got["text"])
}

func TestSlackWebhookFailures(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "invalid_token", http.StatusForbidden)
		}))
		defer srv.Close()

		sent, mode := NewSlackWebhook(srv.URL).Deliver(context.Background(), SlackPayload("#ops", "x"), "#ops")
		assert.False(t, sent)
		assert.Equal(t, models.DeliveryDryRunFailed, mode)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		webhook := NewSlackWebhook(srv.URL, WithDeliveryTimeout(50*time.Millisecond))
		sent, mode := webhook.Deliver(context.Background(), SlackPayload("#ops", "x"), "#ops")
		assert.False(t, sent)
		assert.Equal(t, models.DeliveryDryRunFailed, mode)
	})

	t.Run("unreachable", func(t *testing.T) {
		sent, mode := NewSlackWebhook("http://127.0.0.1:1/hook").Deliver(context.Background(), SlackPayload("#ops", "x"), "#ops")
		assert.False(t, sent)
		assert.Equal(t, models.DeliveryDryRunFailed, mode)
	})
}
