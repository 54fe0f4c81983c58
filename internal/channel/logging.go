package channel

import (
	"context"
	"log/slog"
	"time"

	"github.com/insider-one/notification-engine/internal/domain"
)

// LoggingAdapter writes notifications to the structured logger instead of
// an external transport. Used in local development and as the channel of
// last resort when a delivery falls through every other route.
type LoggingAdapter struct {
	logger *slog.Logger
}

func NewLoggingAdapter(logger *slog.Logger) *LoggingAdapter {
	return &LoggingAdapter{logger: logger}
}

func (a *LoggingAdapter) Channel() domain.Channel { return domain.ChannelLogging }

func (a *LoggingAdapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		Channel:          domain.ChannelLogging,
		SupportsRichBody: true,
		SupportsBatch:    true,
		MaxBodySizeBytes: 1024 * 1024,
	}
}

func (a *LoggingAdapter) Initialize(ctx context.Context) error { return nil }

func (a *LoggingAdapter) HealthCheck(ctx context.Context) error { return nil }

func (a *LoggingAdapter) Send(ctx context.Context, dctx domain.DeliveryContext) domain.DeliveryResult {
	start := time.Now()
	a.logger.Info("notification delivered via logging channel",
		"notification_id", dctx.Notification.ID,
		"recipient_id", dctx.Recipient.UserID,
		"subject", dctx.Notification.Content.Subject,
		"priority", dctx.Notification.Priority,
	)
	return domain.DeliveryResult{
		Success:    true,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

func (a *LoggingAdapter) Shutdown(ctx context.Context) error { return nil }
