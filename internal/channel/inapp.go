package channel

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/insider-one/notification-engine/internal/domain"
)

// Pusher delivers a notification live to any connected sockets for a user,
// returning how many clients actually received it. Satisfied by
// handler.WebSocketHub; kept as an interface so the channel package never
// imports the handler package.
type Pusher interface {
	PushToUser(recipientID string, notification *domain.Notification) int
}

// InAppConfig tunes the in-app channel's formatting and inbox behavior,
// grounded on the original in-app adapter's InAppConfig.
type InAppConfig struct {
	MaxItemsPerUser       int
	RetentionDays         int
	MaxPreviewLength      int
	HighPriorityBadge     bool
	CriticalPriorityPopup bool
	EnableGrouping        bool
}

func DefaultInAppConfig() InAppConfig {
	return InAppConfig{
		MaxItemsPerUser:       domain.MaxInAppItemsPerUser,
		RetentionDays:         domain.DefaultInAppRetentionDays,
		MaxPreviewLength:      domain.DefaultInAppPreviewLength,
		HighPriorityBadge:     true,
		CriticalPriorityPopup: true,
		EnableGrouping:        true,
	}
}

// InAppAdapter stores a notification in the recipient's inbox, formatted for
// display (preview, HTML body, priority display props, actions, grouping),
// and pushes it live over the pusher when the recipient has a connection.
type InAppAdapter struct {
	repo   domain.InAppRepository
	pusher Pusher
	cfg    InAppConfig
}

func NewInAppAdapter(repo domain.InAppRepository, pusher Pusher, cfg InAppConfig) *InAppAdapter {
	return &InAppAdapter{repo: repo, pusher: pusher, cfg: cfg}
}

func (a *InAppAdapter) Channel() domain.Channel { return domain.ChannelInApp }

func (a *InAppAdapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		Channel:          domain.ChannelInApp,
		SupportsRichBody: true,
		SupportsBatch:    true,
		MaxBodySizeBytes: 64 * 1024,
	}
}

func (a *InAppAdapter) Initialize(ctx context.Context) error { return nil }

func (a *InAppAdapter) HealthCheck(ctx context.Context) error { return nil }

func (a *InAppAdapter) Send(ctx context.Context, dctx domain.DeliveryContext) domain.DeliveryResult {
	start := time.Now()
	now := time.Now().UTC()
	n := dctx.Notification

	retentionDays := a.cfg.RetentionDays
	if retentionDays <= 0 {
		retentionDays = domain.DefaultInAppRetentionDays
	}

	item := domain.InAppItem{
		ID:             uuid.New(),
		NotificationID: n.ID,
		RecipientID:    dctx.Recipient.UserID,
		Subject:        n.Content.Subject,
		Body:           n.Content.Body,
		Preview:        domain.BuildPreview(n.Content.Body, a.cfg.MaxPreviewLength),
		HTMLBody:       domain.BuildHTMLBody(n.Content.Subject, n.Content.Body),
		Priority:       n.Priority,
		Display:        domain.PriorityDisplayProps(n.Priority, a.cfg.HighPriorityBadge, a.cfg.CriticalPriorityPopup),
		Actions:        extractActions(n.Context),
		Status:         domain.InAppUnread,
		GroupKey:       domain.GroupKey(n, a.cfg.EnableGrouping),
		GroupCount:     1,
		CreatedAt:      now,
		ExpiresAt:      now.AddDate(0, 0, retentionDays),
	}

	if err := a.repo.Insert(ctx, item); err != nil {
		return domain.DeliveryResult{
			DurationMs: time.Since(start).Milliseconds(),
			Err:        domain.NewDeliveryError(domain.ErrorKindUnexpected, "failed to store in-app item", err),
		}
	}

	if a.cfg.EnableGrouping {
		a.applyGrouping(ctx, item)
	}

	if err := a.repo.EvictOldest(ctx, dctx.Recipient.UserID, a.cfg.MaxItemsPerUser); err != nil {
		// Eviction failure doesn't fail the delivery; the item is already stored.
		_ = err
	}

	if a.pusher != nil {
		a.pusher.PushToUser(dctx.Recipient.UserID, n)
	}

	return domain.DeliveryResult{
		Success:     true,
		ProviderRef: item.ID.String(),
		DurationMs:  time.Since(start).Milliseconds(),
	}
}

// applyGrouping counts other active items sharing this item's group key and,
// if any exist, flags them (and this one) as grouped.
func (a *InAppAdapter) applyGrouping(ctx context.Context, item domain.InAppItem) {
	existing, err := a.repo.CountActiveGroup(ctx, item.RecipientID, item.GroupKey, item.ID)
	if err != nil || existing == 0 {
		return
	}
	_ = a.repo.MarkGroupGrouped(ctx, item.RecipientID, item.GroupKey, item.ID)
}

// extractActions reads a `"actions"` entry from notification context, shaped
// as a slice of maps, and fills in sensible defaults for omitted fields.
func extractActions(ctxData map[string]any) []domain.InAppAction {
	raw, ok := ctxData["actions"].([]any)
	if !ok {
		return nil
	}
	actions := make([]domain.InAppAction, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		a := domain.InAppAction{
			Type:   "button",
			Method: "GET",
			Style:  "secondary",
		}
		if v, ok := m["id"].(string); ok {
			a.ID = v
		}
		if v, ok := m["label"].(string); ok {
			a.Label = v
		}
		if v, ok := m["type"].(string); ok && v != "" {
			a.Type = v
		}
		if v, ok := m["url"].(string); ok {
			a.URL = v
		}
		if v, ok := m["method"].(string); ok && v != "" {
			a.Method = v
		}
		if v, ok := m["confirm"].(bool); ok {
			a.Confirm = v
		}
		if v, ok := m["style"].(string); ok && v != "" {
			a.Style = v
		}
		actions = append(actions, a)
	}
	return actions
}

func (a *InAppAdapter) Shutdown(ctx context.Context) error { return nil }
