package domain

import (
	"context"
	"time"
)

// Capabilities describes what a channel adapter supports, used by the
// dispatcher to decide whether a delivery request is even routable.
type Capabilities struct {
	Channel            Channel `json:"channel"`
	SupportsRichBody   bool    `json:"supports_rich_body"`
	SupportsBatch      bool    `json:"supports_batch"`
	MaxBodySizeBytes   int     `json:"max_body_size_bytes"`
	RequiresRecipientEmail bool `json:"requires_recipient_email"`
}

// DeliveryContext carries everything an adapter needs to attempt a single
// recipient-channel delivery, already resolved by the dispatcher.
type DeliveryContext struct {
	Notification *Notification
	Recipient    Recipient
	Attempt      int
	CorrelationID string
}

// DeliveryResult is what an adapter hands back after attempting delivery.
type DeliveryResult struct {
	Success     bool
	ProviderRef string // e.g. SMTP message-id, webhook response id
	DurationMs  int64
	Err         *DeliveryError
}

// ChannelAdapter is the contract every delivery medium implements.
// Adapters never panic on delivery failure; failures are returned as a
// DeliveryResult with Err set so the retry/circuit-breaker wrapper can
// decide the next step without unwinding a goroutine stack.
type ChannelAdapter interface {
	Channel() Channel
	Capabilities() Capabilities
	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Send(ctx context.Context, dctx DeliveryContext) DeliveryResult
	Shutdown(ctx context.Context) error
}

// AdapterHealth is the last known health status of a registered adapter.
type AdapterHealth struct {
	Channel     Channel   `json:"channel"`
	Healthy     bool      `json:"healthy"`
	LastChecked time.Time `json:"last_checked"`
	LastError   string    `json:"last_error,omitempty"`
}
