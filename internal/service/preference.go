package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/insider-one/notification-engine/internal/domain"
)

// PreferenceSyncResult reports which fields a preference update actually
// changed, returned from the sync/update endpoints.
type PreferenceSyncResult struct {
	Preferences   *domain.Preferences `json:"preferences"`
	ChangedFields []string            `json:"changed_fields"`
	Synced        bool                `json:"synced"`
}

// PreferenceService manages per-user notification preferences.
type PreferenceService struct {
	repo  domain.PreferenceRepository
	audit *AuditService
	onChange func(userID string) // invalidates the history cache namespace
}

func NewPreferenceService(repo domain.PreferenceRepository, audit *AuditService) *PreferenceService {
	return &PreferenceService{repo: repo, audit: audit}
}

// SetOnChange wires a callback invoked after any successful preference
// write, used by the history service to invalidate its analytics cache.
func (s *PreferenceService) SetOnChange(fn func(userID string)) {
	s.onChange = fn
}

func (s *PreferenceService) Get(ctx context.Context, userID string) (*domain.Preferences, error) {
	p, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.DefaultPreferences(userID), nil
		}
		return nil, err
	}
	return p, nil
}

// Update replaces the stored preferences for a user and reports which
// top-level fields changed relative to the prior version.
func (s *PreferenceService) Update(ctx context.Context, userID string, next *domain.Preferences, actorID string) (*PreferenceSyncResult, error) {
	prev, err := s.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load existing preferences: %w", err)
	}

	next.UserID = userID
	next.CreatedAt = prev.CreatedAt
	if next.CreatedAt.IsZero() {
		next.CreatedAt = time.Now().UTC()
	}
	next.UpdatedAt = time.Now().UTC()
	next.LastUpdatedBy = actorID

	if err := s.repo.Upsert(ctx, next); err != nil {
		return nil, fmt.Errorf("save preferences: %w", err)
	}

	if s.audit != nil {
		s.audit.Log(ctx, domain.AuditEventPrefUpdated, actorID, nil, map[string]any{"user_id": userID})
	}
	if s.onChange != nil {
		s.onChange(userID)
	}

	return &PreferenceSyncResult{
		Preferences:   next,
		ChangedFields: diffFields(prev, next),
		Synced:        true,
	}, nil
}

// Sync re-commits the current preferences unchanged, used to force
// distribution to downstream caches.
func (s *PreferenceService) Sync(ctx context.Context, userID string, actorID string) (*PreferenceSyncResult, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.Update(ctx, userID, p, actorID)
}

func quietHoursChanged(a, b domain.QuietHours) bool {
	if a.Enabled != b.Enabled || a.StartTime != b.StartTime || a.EndTime != b.EndTime ||
		a.Timezone != b.Timezone || a.EmergencyOverride != b.EmergencyOverride {
		return true
	}
	return len(a.ExemptTypes) != len(b.ExemptTypes)
}

func diffFields(prev, next *domain.Preferences) []string {
	var changed []string
	if prev.GlobalEnabled != next.GlobalEnabled {
		changed = append(changed, "global_enabled")
	}
	if len(prev.ChannelPreferences) != len(next.ChannelPreferences) {
		changed = append(changed, "channel_preferences")
	}
	if len(prev.TypePreferences) != len(next.TypePreferences) {
		changed = append(changed, "type_preferences")
	}
	if quietHoursChanged(prev.QuietHours, next.QuietHours) {
		changed = append(changed, "quiet_hours")
	}
	if len(prev.EscalationRules) != len(next.EscalationRules) {
		changed = append(changed, "escalation_rules")
	}
	if prev.DigestEnabled != next.DigestEnabled || prev.DigestFrequency != next.DigestFrequency {
		changed = append(changed, "digest_settings")
	}
	return changed
}
