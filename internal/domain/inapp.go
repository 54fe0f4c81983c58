package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MaxInAppItemsPerUser      = 200
	DefaultInAppRetentionDays = 30
	DefaultInAppPreviewLength = 150
)

// InAppStatus is the lifecycle of one inbox item.
type InAppStatus string

const (
	InAppUnread    InAppStatus = "unread"
	InAppRead      InAppStatus = "read"
	InAppDismissed InAppStatus = "dismissed"
)

// InAppAction is one actionable button/link surfaced with an inbox item.
type InAppAction struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Type    string `json:"type"`
	URL     string `json:"url,omitempty"`
	Method  string `json:"method"`
	Confirm bool   `json:"confirm"`
	Style   string `json:"style"`
}

// InAppDisplay carries the priority-derived presentation hints a client
// renders without needing its own priority-to-style mapping.
type InAppDisplay struct {
	Icon      string `json:"icon"`
	Color     string `json:"color"`
	ShowBadge bool   `json:"show_badge"`
	ShowPopup bool   `json:"show_popup"`
}

// InAppItem is one entry in a recipient's in-app inbox.
type InAppItem struct {
	ID             uuid.UUID     `json:"id"`
	NotificationID uuid.UUID     `json:"notification_id"`
	RecipientID    string        `json:"recipient_id"`
	Subject        string        `json:"subject"`
	Body           string        `json:"body"`
	Preview        string        `json:"preview"`
	HTMLBody       string        `json:"html_body"`
	Priority       Priority      `json:"priority"`
	Display        InAppDisplay  `json:"display"`
	Actions        []InAppAction `json:"actions,omitempty"`
	Status         InAppStatus   `json:"status"`
	GroupKey       string        `json:"group_key"`
	GroupCount     int           `json:"group_count"`
	IsGrouped      bool          `json:"is_grouped"`
	CreatedAt      time.Time     `json:"created_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
	ReadAt         *time.Time    `json:"read_at,omitempty"`
	DismissedAt    *time.Time    `json:"dismissed_at,omitempty"`
}

// PriorityDisplayProps returns the icon/color/badge/popup combination for a
// priority level. Only high's badge and critical's popup are operator-tunable;
// low and medium are fixed.
func PriorityDisplayProps(p Priority, highPriorityBadge, criticalPriorityPopup bool) InAppDisplay {
	switch p {
	case PriorityCritical:
		return InAppDisplay{Icon: "alert", Color: "#dc3545", ShowBadge: true, ShowPopup: criticalPriorityPopup}
	case PriorityUrgent, PriorityHigh:
		return InAppDisplay{Icon: "warning", Color: "#fd7e14", ShowBadge: highPriorityBadge, ShowPopup: false}
	case PriorityMedium:
		return InAppDisplay{Icon: "notification", Color: "#0d6efd", ShowBadge: true, ShowPopup: false}
	default:
		return InAppDisplay{Icon: "info", Color: "#6c757d", ShowBadge: false, ShowPopup: false}
	}
}

// BuildPreview truncates content to maxLen, appending an ellipsis only when
// truncation actually happened.
func BuildPreview(content string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultInAppPreviewLength
	}
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	return string(runes[:maxLen]) + "..."
}

// BuildHTMLBody renders a minimal HTML fragment for rich in-app clients,
// preserving line breaks as <br>.
func BuildHTMLBody(title, content string) string {
	body := strings.ReplaceAll(content, "\n", "<br>")
	var b strings.Builder
	b.WriteString(`<div class="notification-content">`)
	b.WriteString(`<h4 class="notification-title">`)
	b.WriteString(title)
	b.WriteString(`</h4><div class="notification-body">`)
	b.WriteString(body)
	b.WriteString(`</div></div>`)
	return b.String()
}

// GroupKey derives the grouping key from a notification's category
// and type metadata, falling back to the notification's own ID when
// grouping is disabled or no category/type metadata is present.
func GroupKey(n *Notification, enableGrouping bool) string {
	if !enableGrouping {
		return n.ID.String()
	}
	category := "general"
	kind := "default"
	if n.Context != nil {
		if v, ok := n.Context["category"].(string); ok && v != "" {
			category = v
		}
		if v, ok := n.Context["type"].(string); ok && v != "" {
			kind = v
		}
	}
	return category + ":" + kind
}

// InAppRepository persists and queries in-app inbox items.
type InAppRepository interface {
	Insert(ctx context.Context, item InAppItem) error
	ListForUser(ctx context.Context, recipientID string, unreadOnly bool, page, pageSize int) ([]InAppItem, int64, error)
	MarkRead(ctx context.Context, id uuid.UUID, recipientID string) error
	MarkDismissed(ctx context.Context, id uuid.UUID, recipientID string) error
	EvictOldest(ctx context.Context, recipientID string, keep int) error

	// CountActiveGroup counts unread/read items sharing recipientID+groupKey,
	// excluding excludeID (the item just inserted), for grouping.
	CountActiveGroup(ctx context.Context, recipientID, groupKey string, excludeID uuid.UUID) (int, error)
	// MarkGroupGrouped flags every item sharing recipientID+groupKey as
	// grouped, once a second item arrives with the same key. The item just
	// inserted is flagged too; the PostgreSQL implementation does not filter
	// by excludeID or by status.
	MarkGroupGrouped(ctx context.Context, recipientID, groupKey string, excludeID uuid.UUID) error

	// DeleteExpired removes items whose ExpiresAt has passed, for any
	// recipient, and reports how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	// AutoMarkRead flips unread items created before cutoff to read, and
	// reports how many were changed.
	AutoMarkRead(ctx context.Context, cutoff time.Time) (int64, error)
}
