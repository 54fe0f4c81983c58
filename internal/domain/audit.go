package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuditEventType classifies an audit log entry.
type AuditEventType string

const (
	AuditEventCreated       AuditEventType = "notification_created"
	AuditEventDelivered     AuditEventType = "notification_delivered"
	AuditEventFailed        AuditEventType = "notification_failed"
	AuditEventCancelled     AuditEventType = "notification_cancelled"
	AuditEventPrefUpdated   AuditEventType = "preference_updated"
	AuditEventEscalated     AuditEventType = "notification_escalated"
	AuditEventSecurityAlert AuditEventType = "security_alert"
)

// MaskingStrategy selects how a sensitive field value is obscured before storage.
type MaskingStrategy string

const (
	MaskPartial        MaskingStrategy = "partial"
	MaskHash           MaskingStrategy = "hash"
	MaskRedact         MaskingStrategy = "redact"
	MaskPreserveFormat MaskingStrategy = "preserve_format"
)

// AuditEntry is one immutable audit log record.
type AuditEntry struct {
	ID             uuid.UUID      `json:"id"`
	EventType      AuditEventType `json:"event_type"`
	NotificationID *uuid.UUID     `json:"notification_id,omitempty"`
	ActorID        string         `json:"actor_id,omitempty"`
	Details        map[string]any `json:"details,omitempty"` // pre-masked before storage
	CorrelationID  string         `json:"correlation_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// SecurityEventSeverity mirrors Severity but kept distinct so security
// classification can diverge from delivery-error severity over time.
type SecurityEventSeverity string

const (
	SecurityLow      SecurityEventSeverity = "low"
	SecurityMedium   SecurityEventSeverity = "medium"
	SecurityHigh     SecurityEventSeverity = "high"
	SecurityCritical SecurityEventSeverity = "critical"
)

// SecurityEvent flags an anomalous pattern detected over audit entries, such
// as a burst of failed deliveries to the same recipient.
type SecurityEvent struct {
	ID          uuid.UUID             `json:"id"`
	Kind        string                `json:"kind"`
	Severity    SecurityEventSeverity `json:"severity"`
	RecipientID string                `json:"recipient_id,omitempty"`
	Details     map[string]any        `json:"details,omitempty"`
	DetectedAt  time.Time             `json:"detected_at"`
}

// AuditFilter narrows audit log queries.
type AuditFilter struct {
	EventType      *AuditEventType
	NotificationID *uuid.UUID
	ActorID        string
	From           *time.Time
	To             *time.Time
	Page           int
	PageSize       int
}

// AuditRepository persists audit entries and detected security events.
type AuditRepository interface {
	Record(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, int64, error)
	RecordSecurityEvent(ctx context.Context, event SecurityEvent) error
	// DeleteOlderThan purges audit entries created before cutoff, per
	// the retention policy, and reports how many rows were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
