// Package notify delivers fire-and-forget lifecycle events to an
// optional webhook. Delivery failures are logged and dropped; nothing
// in the bridge depends on a notification arriving.
package notify

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"wa-bridge/internal/config"
)

// Event is the JSON body posted to the webhook.
type Event struct {
	Type      string         `json:"type"`
	Session   string         `json:"session"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Webhook posts bridge events to a configured URL.
type Webhook struct {
	client  *resty.Client
	url     string
	session string
	log     zerolog.Logger
}

// NewWebhook builds a webhook publisher. Returns nil when no URL is
// configured; callers treat a nil *Webhook as disabled.
func NewWebhook(cfg *config.Config, log zerolog.Logger) *Webhook {
	if cfg.WebhookURL == "" {
		return nil
	}
	client := resty.New().
		SetHeader("User-Agent", "wa-bridge/1.0").
		SetTimeout(cfg.WebhookTimeout)
	return &Webhook{
		client:  client,
		url:     cfg.WebhookURL,
		session: cfg.SessionName,
		log:     log.With().Str("component", "webhook").Logger(),
	}
}

// Publish posts one event. Safe to call on a nil receiver.
func (w *Webhook) Publish(ctx context.Context, eventType string, fields map[string]any) {
	if w == nil {
		return
	}
	event := Event{
		Type:      eventType,
		Session:   w.session,
		Timestamp: time.Now().UTC(),
		Fields:    fields,
	}
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(event).
		Post(w.url)
	if err != nil {
		w.log.Warn().Err(err).Str("event", eventType).Msg("webhook delivery failed")
		return
	}
	if resp.StatusCode() >= 400 {
		w.log.Warn().Int("status", resp.StatusCode()).Str("event", eventType).Msg("webhook rejected event")
	}
}
