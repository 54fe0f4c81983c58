package preference

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/insider-one/notification-engine/internal/domain"
)

func testNotification(channels ...domain.Channel) *domain.Notification {
	return domain.NewNotification(
		domain.TypeSystemAlert,
		domain.PriorityHigh,
		domain.Content{Subject: "s", Body: "b"},
		[]domain.Recipient{{UserID: "user-1"}},
		channels,
	)
}

func TestEvaluator_Evaluate(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("globally disabled preferences suppress every channel", func(t *testing.T) {
		e := NewEvaluator(nil)
		prefs := domain.DefaultPreferences("user-1")
		prefs.GlobalEnabled = false

		got := e.Evaluate(context.Background(), testNotification(domain.ChannelEmail), prefs, now)

		assert.Empty(t, got)
	})

	t.Run("disabled type preference suppresses every channel", func(t *testing.T) {
		e := NewEvaluator(nil)
		prefs := domain.DefaultPreferences("user-1")
		prefs.TypePreferences = []domain.TypePreference{
			{Type: domain.TypeSystemAlert, Enabled: false},
		}

		got := e.Evaluate(context.Background(), testNotification(domain.ChannelEmail), prefs, now)

		assert.Empty(t, got)
	})

	t.Run("channel-disabled preference removes that channel only", func(t *testing.T) {
		e := NewEvaluator(nil)
		prefs := domain.DefaultPreferences("user-1")
		prefs.ChannelPreferences = []domain.ChannelPreference{
			{Channel: domain.ChannelWebhook, Enabled: false},
		}

		got := e.Evaluate(context.Background(), testNotification(domain.ChannelEmail, domain.ChannelWebhook), prefs, now)

		assert.Equal(t, []domain.Channel{domain.ChannelEmail}, got)
	})

	t.Run("explicit channel priority reorders selection", func(t *testing.T) {
		e := NewEvaluator(nil)
		prefs := domain.DefaultPreferences("user-1")
		prefs.ChannelPreferences = []domain.ChannelPreference{
			{Channel: domain.ChannelEmail, Enabled: true, Priority: 2},
			{Channel: domain.ChannelWebhook, Enabled: true, Priority: 1},
		}

		got := e.Evaluate(context.Background(), testNotification(domain.ChannelEmail, domain.ChannelWebhook), prefs, now)

		assert.Equal(t, []domain.Channel{domain.ChannelWebhook, domain.ChannelEmail}, got)
	})

	t.Run("falls back to default channels when nothing survives filtering", func(t *testing.T) {
		e := NewEvaluator(nil)
		prefs := domain.DefaultPreferences("user-1")
		prefs.TypePreferences = []domain.TypePreference{
			{Type: domain.TypeSystemAlert, Enabled: true, Channels: []domain.Channel{domain.ChannelWebhook}},
		}
		prefs.DefaultChannels = []domain.Channel{domain.ChannelLogging}

		got := e.Evaluate(context.Background(), testNotification(domain.ChannelEmail), prefs, now)

		assert.Equal(t, []domain.Channel{domain.ChannelLogging}, got)
	})

	t.Run("quiet hours suppress a non-exempt, non-urgent notification", func(t *testing.T) {
		e := NewEvaluator(nil)
		prefs := domain.DefaultPreferences("user-1")
		prefs.QuietHours = domain.QuietHours{Enabled: true, StartTime: "22:00", EndTime: "07:00", Timezone: "UTC"}

		quietNow := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
		got := e.Evaluate(context.Background(), testNotification(domain.ChannelEmail), prefs, quietNow)

		assert.Empty(t, got)
	})

	t.Run("emergency override lets critical notifications through quiet hours", func(t *testing.T) {
		e := NewEvaluator(nil)
		prefs := domain.DefaultPreferences("user-1")
		prefs.QuietHours = domain.QuietHours{
			Enabled: true, StartTime: "22:00", EndTime: "07:00", Timezone: "UTC", EmergencyOverride: true,
		}

		n := testNotification(domain.ChannelEmail)
		n.Priority = domain.PriorityCritical

		quietNow := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
		got := e.Evaluate(context.Background(), n, prefs, quietNow)

		assert.Equal(t, []domain.Channel{domain.ChannelEmail}, got)
	})
}

type stubRateLimiter struct {
	allow bool

	checkedUserIDs []string
}

func (s *stubRateLimiter) Allow(ctx context.Context, userID string, channel domain.Channel, limitPerHour int) (bool, error) {
	s.checkedUserIDs = append(s.checkedUserIDs, userID)
	return s.allow, nil
}

func TestEvaluator_RateLimiting(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("channel over its rate limit is dropped", func(t *testing.T) {
		e := NewEvaluator(&stubRateLimiter{allow: false})
		prefs := domain.DefaultPreferences("user-1")
		prefs.ChannelPreferences = []domain.ChannelPreference{
			{Channel: domain.ChannelEmail, Enabled: true, RateLimitPerHour: 5},
		}

		got := e.Evaluate(context.Background(), testNotification(domain.ChannelEmail), prefs, now)

		assert.Empty(t, got)
	})

	t.Run("channel with no configured limit is never rate limited", func(t *testing.T) {
		e := NewEvaluator(&stubRateLimiter{allow: false})
		prefs := domain.DefaultPreferences("user-1")

		got := e.Evaluate(context.Background(), testNotification(domain.ChannelEmail), prefs, now)

		assert.Equal(t, []domain.Channel{domain.ChannelEmail}, got)
	})

	t.Run("only the preference owner's counter is consulted on a multi-recipient notification", func(t *testing.T) {
		limiter := &stubRateLimiter{allow: true}
		e := NewEvaluator(limiter)
		prefs := domain.DefaultPreferences("user-1")
		prefs.ChannelPreferences = []domain.ChannelPreference{
			{Channel: domain.ChannelEmail, Enabled: true, RateLimitPerHour: 5},
		}

		n := domain.NewNotification(
			domain.TypeSystemAlert,
			domain.PriorityHigh,
			domain.Content{Subject: "s", Body: "b"},
			[]domain.Recipient{{UserID: "user-1"}, {UserID: "user-2"}, {UserID: "user-3"}},
			[]domain.Channel{domain.ChannelEmail},
		)

		got := e.Evaluate(context.Background(), n, prefs, now)

		assert.Equal(t, []domain.Channel{domain.ChannelEmail}, got)
		assert.Equal(t, []string{"user-1"}, limiter.checkedUserIDs, "other recipients' budgets must not be checked or charged")
	})
}
