package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/insider-one/notification-engine/internal/domain"
)

// PreferenceRepository implements domain.PreferenceRepository using PostgreSQL.
type PreferenceRepository struct {
	db *DB
}

func NewPreferenceRepository(db *DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

func (r *PreferenceRepository) Get(ctx context.Context, userID string) (*domain.Preferences, error) {
	query := `
		SELECT user_id, global_enabled, channel_preferences, type_preferences, quiet_hours,
			escalation_rules, default_channels, digest_enabled, digest_frequency, digest_time,
			deduplication_window_minutes, last_updated_by, created_at, updated_at
		FROM user_preferences WHERE user_id = $1
	`
	row := r.db.Pool.QueryRow(ctx, query, userID)

	p := &domain.Preferences{}
	var channelPrefs, typePrefs, quietHours, escalationRules, defaultChannels []byte

	err := row.Scan(
		&p.UserID, &p.GlobalEnabled, &channelPrefs, &typePrefs, &quietHours,
		&escalationRules, &defaultChannels, &p.DigestEnabled, &p.DigestFrequency, &p.DigestTime,
		&p.DeduplicationWindowMinutes, &p.LastUpdatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get preferences: %w", err)
	}

	json.Unmarshal(channelPrefs, &p.ChannelPreferences)
	json.Unmarshal(typePrefs, &p.TypePreferences)
	json.Unmarshal(quietHours, &p.QuietHours)
	json.Unmarshal(escalationRules, &p.EscalationRules)
	json.Unmarshal(defaultChannels, &p.DefaultChannels)

	return p, nil
}

func (r *PreferenceRepository) Upsert(ctx context.Context, p *domain.Preferences) error {
	channelPrefs, _ := json.Marshal(p.ChannelPreferences)
	typePrefs, _ := json.Marshal(p.TypePreferences)
	quietHours, _ := json.Marshal(p.QuietHours)
	escalationRules, _ := json.Marshal(p.EscalationRules)
	defaultChannels, _ := json.Marshal(p.DefaultChannels)

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO user_preferences (
			user_id, global_enabled, channel_preferences, type_preferences, quiet_hours,
			escalation_rules, default_channels, digest_enabled, digest_frequency, digest_time,
			deduplication_window_minutes, last_updated_by, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (user_id) DO UPDATE SET
			global_enabled = EXCLUDED.global_enabled,
			channel_preferences = EXCLUDED.channel_preferences,
			type_preferences = EXCLUDED.type_preferences,
			quiet_hours = EXCLUDED.quiet_hours,
			escalation_rules = EXCLUDED.escalation_rules,
			default_channels = EXCLUDED.default_channels,
			digest_enabled = EXCLUDED.digest_enabled,
			digest_frequency = EXCLUDED.digest_frequency,
			digest_time = EXCLUDED.digest_time,
			deduplication_window_minutes = EXCLUDED.deduplication_window_minutes,
			last_updated_by = EXCLUDED.last_updated_by,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.Pool.Exec(ctx, query,
		p.UserID, p.GlobalEnabled, channelPrefs, typePrefs, quietHours,
		escalationRules, defaultChannels, p.DigestEnabled, p.DigestFrequency, p.DigestTime,
		p.DeduplicationWindowMinutes, p.LastUpdatedBy, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert preferences: %w", err)
	}
	return nil
}
