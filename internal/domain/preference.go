package domain

import (
	"context"
	"time"
)

// ChannelPreference is a per-channel override within a user's preferences.
type ChannelPreference struct {
	Channel         Channel        `json:"channel"`
	Enabled         bool           `json:"enabled"`
	Priority        int            `json:"priority"` // 1 = highest .. 10
	RateLimitPerHour int           `json:"rate_limit_per_hour,omitempty"`
	Settings        map[string]any `json:"settings,omitempty"`
}

// TypePreference is a per-notification-type override.
type TypePreference struct {
	Type               NotificationType `json:"type"`
	Enabled            bool             `json:"enabled"`
	Channels           []Channel        `json:"channels,omitempty"` // allow-list, empty = no restriction
	PriorityThreshold  Priority         `json:"priority_threshold,omitempty"`
	EscalationEnabled  bool             `json:"escalation_enabled"`
}

// QuietHours describes a wall-clock suppression window, overnight-wrap aware.
type QuietHours struct {
	Enabled          bool               `json:"enabled"`
	StartTime        string             `json:"start_time"` // "HH:MM"
	EndTime          string             `json:"end_time"`
	Timezone         string             `json:"timezone"`
	EmergencyOverride bool              `json:"emergency_override"`
	ExemptTypes      []NotificationType `json:"exempt_types,omitempty"`
}

// IsQuietAt reports whether the wall-clock time-of-day (in the preference's
// timezone) at checkTime falls within [start, end], handling overnight wrap.
func (q QuietHours) IsQuietAt(checkTime time.Time) bool {
	if !q.Enabled {
		return false
	}

	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := checkTime.In(loc)

	start, errS := parseHHMM(q.StartTime)
	end, errE := parseHHMM(q.EndTime)
	if errS != nil || errE != nil {
		return false
	}

	cur := local.Hour()*60 + local.Minute()

	if start <= end {
		return cur >= start && cur <= end
	}
	// overnight wrap, e.g. 22:00 -> 07:00
	return cur >= start || cur <= end
}

func parseHHMM(s string) (int, error) {
	var h, m int
	_, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	h, m = t.Hour(), t.Minute()
	return h*60 + m, nil
}

// EscalationRule describes a deferred re-delivery after initial delivery
// doesn't meet criteria.
type EscalationRule struct {
	Name               string             `json:"name"`
	DelayMinutes       int                `json:"delay_minutes"` // 1..1440
	MaxEscalations     int                `json:"max_escalations"` // 1..10
	ExtraChannels      []Channel          `json:"extra_channels,omitempty"`
	ExtraRecipientIDs  []string           `json:"extra_recipient_ids,omitempty"` // <=20
	TriggerTypes       []NotificationType `json:"trigger_types,omitempty"`
	MinimumPriority    Priority           `json:"minimum_priority,omitempty"`
}

// DigestFrequency is the cadence of batched digest delivery.
type DigestFrequency string

const (
	DigestHourly DigestFrequency = "hourly"
	DigestDaily  DigestFrequency = "daily"
	DigestWeekly DigestFrequency = "weekly"
)

// Preferences is the per-user notification preference document.
type Preferences struct {
	UserID               string              `json:"user_id"`
	GlobalEnabled        bool                `json:"global_enabled"`
	ChannelPreferences   []ChannelPreference `json:"channel_preferences,omitempty"`
	TypePreferences      []TypePreference    `json:"type_preferences,omitempty"`
	QuietHours           QuietHours          `json:"quiet_hours"`
	EscalationRules      []EscalationRule    `json:"escalation_rules,omitempty"`
	DefaultChannels      []Channel           `json:"default_channels,omitempty"`
	DigestEnabled        bool                `json:"digest_enabled"`
	DigestFrequency      DigestFrequency     `json:"digest_frequency,omitempty"`
	DigestTime           string              `json:"digest_time,omitempty"`
	DeduplicationWindowMinutes int           `json:"deduplication_window_minutes,omitempty"`

	LastUpdatedBy string    `json:"last_updated_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DefaultPreferences is used when a recipient has no stored preferences.
func DefaultPreferences(userID string) *Preferences {
	now := time.Now().UTC()
	return &Preferences{
		UserID:          userID,
		GlobalEnabled:   true,
		DefaultChannels: []Channel{ChannelEmail},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (p *Preferences) ChannelPref(c Channel) (ChannelPreference, bool) {
	for _, cp := range p.ChannelPreferences {
		if cp.Channel == c {
			return cp, true
		}
	}
	return ChannelPreference{}, false
}

func (p *Preferences) TypePref(t NotificationType) (TypePreference, bool) {
	for _, tp := range p.TypePreferences {
		if tp.Type == t {
			return tp, true
		}
	}
	return TypePreference{}, false
}

// ShouldEscalate evaluates whether any escalation rule matches the notification.
func (p *Preferences) ShouldEscalate(typ NotificationType, priority Priority) (EscalationRule, bool) {
	for _, rule := range p.EscalationRules {
		if !priority.AtLeast(rule.MinimumPriority) {
			continue
		}
		if len(rule.TriggerTypes) > 0 {
			matched := false
			for _, t := range rule.TriggerTypes {
				if t == typ {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		return rule, true
	}
	return EscalationRule{}, false
}

// PreferenceRepository persists per-user preferences.
type PreferenceRepository interface {
	Get(ctx context.Context, userID string) (*Preferences, error)
	Upsert(ctx context.Context, p *Preferences) error
}
