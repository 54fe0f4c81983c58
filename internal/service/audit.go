package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/insider-one/notification-engine/internal/domain"
)

// SecurityThresholds configures the security event detector.
type SecurityThresholds struct {
	FailedAuthThreshold int
	RateLimitThreshold  int
	BurstAccessWindow   time.Duration
}

func DefaultSecurityThresholds() SecurityThresholds {
	return SecurityThresholds{
		FailedAuthThreshold: 5,
		RateLimitThreshold:  10,
		BurstAccessWindow:   time.Second,
	}
}

// AuditService masks and persists audit events, and scans recent history
// for anomalous patterns.
type AuditService struct {
	repo       domain.AuditRepository
	masking    *MaskingEngine
	thresholds SecurityThresholds
	logger     *slog.Logger
}

func NewAuditService(repo domain.AuditRepository, masking *MaskingEngine, thresholds SecurityThresholds, logger *slog.Logger) *AuditService {
	return &AuditService{repo: repo, masking: masking, thresholds: thresholds, logger: logger}
}

// Log masks eventData and appends an audit entry. Failures are logged but
// never propagated: audit logging must not block the delivery path.
func (s *AuditService) Log(ctx context.Context, eventType domain.AuditEventType, actorID string, notificationID *uuid.UUID, eventData map[string]any) {
	var maskedRaw any
	if eventData != nil {
		maskedRaw = s.masking.Mask(toAnyMap(eventData))
	}

	masked, _ := maskedRaw.(map[string]any)

	entry := domain.AuditEntry{
		ID:             uuid.New(),
		EventType:      eventType,
		NotificationID: notificationID,
		ActorID:        actorID,
		Details:        masked,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.repo.Record(ctx, entry); err != nil {
		s.logger.Error("failed to record audit entry", "event_type", eventType, "error", err)
	}
}

func toAnyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// List returns a page of audit entries matching filter.
func (s *AuditService) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
	return s.repo.List(ctx, filter)
}

// DetectSecurityEvents scans a user's recent audit entries for the three
// known anomaly patterns and records any that are found.
func (s *AuditService) DetectSecurityEvents(ctx context.Context, userID string, recent []domain.AuditEntry) []domain.SecurityEvent {
	var events []domain.SecurityEvent

	if n := countEventType(recent, "authentication_failed"); n >= s.thresholds.FailedAuthThreshold {
		events = append(events, s.newEvent("excessive_auth_failures", domain.SecurityHigh, userID, map[string]any{"count": n}))
	}

	if n := countEventType(recent, "rate_limit_exceeded"); n >= s.thresholds.RateLimitThreshold {
		events = append(events, s.newEvent("excessive_rate_limit_hits", domain.SecurityMedium, userID, map[string]any{"count": n}))
	}

	if accessBurst := countBurstAccess(recent, s.thresholds.BurstAccessWindow); accessBurst {
		events = append(events, s.newEvent("suspicious_access_pattern", domain.SecurityCritical, userID, nil))
	}

	for _, e := range events {
		if err := s.repo.RecordSecurityEvent(ctx, e); err != nil {
			s.logger.Error("failed to record security event", "kind", e.Kind, "error", err)
		}
	}
	return events
}

// ScanForSecurityEvents pages audit entries recorded since `since`, groups
// them by actor, and runs the anomaly checks in DetectSecurityEvents against
// each actor's window. Intended to be called periodically by the delivery
// daemon's cleanup loop rather than per-request.
func (s *AuditService) ScanForSecurityEvents(ctx context.Context, since time.Time) ([]domain.SecurityEvent, error) {
	entries, _, err := s.repo.List(ctx, domain.AuditFilter{From: &since, Page: 1, PageSize: 5000})
	if err != nil {
		return nil, fmt.Errorf("list audit entries for security scan: %w", err)
	}

	byActor := make(map[string][]domain.AuditEntry)
	for _, e := range entries {
		if e.ActorID == "" {
			continue
		}
		byActor[e.ActorID] = append(byActor[e.ActorID], e)
	}

	var detected []domain.SecurityEvent
	for actorID, actorEntries := range byActor {
		detected = append(detected, s.DetectSecurityEvents(ctx, actorID, actorEntries)...)
	}
	return detected, nil
}

func (s *AuditService) newEvent(kind string, severity domain.SecurityEventSeverity, userID string, details map[string]any) domain.SecurityEvent {
	return domain.SecurityEvent{
		ID:          uuid.New(),
		Kind:        kind,
		Severity:    severity,
		RecipientID: userID,
		Details:     details,
		DetectedAt:  time.Now().UTC(),
	}
}

func countEventType(entries []domain.AuditEntry, eventType string) int {
	count := 0
	for _, e := range entries {
		if string(e.EventType) == eventType {
			count++
		}
	}
	return count
}

// countBurstAccess flags ≥10 data-access events where more than half occur
// less than `window` apart from their predecessor.
func countBurstAccess(entries []domain.AuditEntry, window time.Duration) bool {
	var accesses []time.Time
	for _, e := range entries {
		if e.EventType == domain.AuditEventType("data_access") {
			accesses = append(accesses, e.CreatedAt)
		}
	}
	if len(accesses) < 10 {
		return false
	}

	burst := 0
	for i := 1; i < len(accesses); i++ {
		if accesses[i].Sub(accesses[i-1]) < window {
			burst++
		}
	}
	return float64(burst) > float64(len(accesses)-1)*0.5
}
