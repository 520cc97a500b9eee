package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goodtune/unplug/internal/enforcement"
	"github.com/rs/zerolog"
)

// Payload is the JSON body posted to the webhook.
type Payload struct {
	Title            string    `json:"title"`
	Body             string    `json:"body"`
	Kind             string    `json:"kind"`
	AppIdentifier    string    `json:"app_identifier"`
	DisplayName      string    `json:"display_name"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	SentAt           time.Time `json:"sent_at"`
}

// WebhookConfig configures a Webhook notifier.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
	Retries int
}

// Webhook posts notifications to an HTTP endpoint, retrying transport errors
// and 5xx responses.
type Webhook struct {
	url    string
	client *resty.Client
	logger zerolog.Logger
}

// NewWebhook creates a webhook notifier.
func NewWebhook(cfg WebhookConfig, logger zerolog.Logger) *Webhook {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "unplug").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		})

	return &Webhook{
		url:    cfg.URL,
		client: client,
		logger: logger.With().Str("component", "notify").Str("backend", "webhook").Logger(),
	}
}

// Notify implements enforcement.Notifier.
func (w *Webhook) Notify(ctx context.Context, msg enforcement.Notification) error {
	payload := Payload{
		Title:            msg.Title(),
		Body:             msg.Body(),
		Kind:             msg.Kind.String(),
		AppIdentifier:    msg.AppIdentifier,
		DisplayName:      msg.DisplayName,
		RemainingSeconds: msg.RemainingSeconds,
		SentAt:           time.Now().UTC(),
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("post notification: unexpected status %d", resp.StatusCode())
	}

	w.logger.Debug().
		Str("app", msg.AppIdentifier).
		Str("kind", payload.Kind).
		Int("status", resp.StatusCode()).
		Dur("duration", resp.Time()).
		Msg("Notification delivered")
	return nil
}
