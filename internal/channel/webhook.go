package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/insider-one/notification-engine/internal/domain"
)

// WebhookConfig configures the outbound webhook adapter.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
}

// WebhookAdapter delivers notifications as an HTTP POST to a configured
// endpoint, adapted for the multi-recipient/multi-channel model.
type WebhookAdapter struct {
	client *http.Client
	cfg    WebhookConfig
}

func NewWebhookAdapter(cfg WebhookConfig) *WebhookAdapter {
	return &WebhookAdapter{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}
}

func (a *WebhookAdapter) Channel() domain.Channel { return domain.ChannelWebhook }

func (a *WebhookAdapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		Channel:          domain.ChannelWebhook,
		SupportsRichBody: true,
		SupportsBatch:    false,
		MaxBodySizeBytes: 256 * 1024,
	}
}

func (a *WebhookAdapter) Initialize(ctx context.Context) error {
	if a.cfg.URL == "" {
		return fmt.Errorf("webhook adapter: url not configured")
	}
	return nil
}

func (a *WebhookAdapter) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.cfg.URL, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

type webhookPayload struct {
	NotificationID string            `json:"notification_id"`
	RecipientID    string            `json:"recipient_id"`
	Type           string            `json:"type"`
	Priority       string            `json:"priority"`
	Subject        string            `json:"subject"`
	Body           string            `json:"body"`
	CorrelationID  string            `json:"correlation_id,omitempty"`
	Context        map[string]any    `json:"context,omitempty"`
}

func (a *WebhookAdapter) Send(ctx context.Context, dctx domain.DeliveryContext) domain.DeliveryResult {
	start := time.Now()

	if max := a.Capabilities().MaxBodySizeBytes; len(dctx.Notification.Content.Body) > max {
		return domain.DeliveryResult{
			Err: domain.NewDeliveryError(domain.ErrorKindValidation, "message body exceeds channel size limit", nil),
		}
	}

	payload := webhookPayload{
		NotificationID: dctx.Notification.ID.String(),
		RecipientID:    dctx.Recipient.UserID,
		Type:           string(dctx.Notification.Type),
		Priority:       string(dctx.Notification.Priority),
		Subject:        dctx.Notification.Content.Subject,
		Body:           dctx.Notification.Content.Body,
		CorrelationID:  dctx.CorrelationID,
		Context:        dctx.Notification.Context,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.DeliveryResult{Err: domain.NewDeliveryError(domain.ErrorKindUnexpected, "failed to marshal webhook payload", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return domain.DeliveryResult{Err: domain.NewDeliveryError(domain.ErrorKindUnexpected, "failed to build webhook request", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		return domain.DeliveryResult{
			DurationMs: duration,
			Err:        domain.NewDeliveryError(domain.ErrorKindNetwork, "webhook request failed", err),
		}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		kind := domain.ErrorKindProviderPermanent
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			kind = domain.ErrorKindProviderTransient
		}
		return domain.DeliveryResult{
			DurationMs: duration,
			Err:        domain.NewDeliveryError(kind, string(respBody), nil),
		}
	}

	return domain.DeliveryResult{
		Success:     true,
		ProviderRef: fmt.Sprintf("webhook-%d", time.Now().UnixNano()),
		DurationMs:  duration,
	}
}

func (a *WebhookAdapter) Shutdown(ctx context.Context) error { return nil }
