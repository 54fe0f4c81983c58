package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AttemptOutcome is the result recorded for a single delivery attempt.
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeFailure AttemptOutcome = "failure"
	OutcomeSkipped AttemptOutcome = "skipped" // suppressed by preference/quiet-hours
)

// DeliveryAttempt records one channel-level delivery try for a notification.
type DeliveryAttempt struct {
	ID             uuid.UUID      `json:"id"`
	NotificationID uuid.UUID      `json:"notification_id"`
	RecipientID    string         `json:"recipient_id"`
	Channel        Channel        `json:"channel"`
	AttemptNumber  int            `json:"attempt_number"`
	Outcome        AttemptOutcome `json:"outcome"`
	ErrorKind      *ErrorKind     `json:"error_kind,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	ProviderRef    string         `json:"provider_ref,omitempty"` // e.g. SMTP message-id
	DurationMs     int64          `json:"duration_ms"`
	AttemptedAt    time.Time      `json:"attempted_at"`
}

// DeliveryHistory is the queryable audit trail of attempts for one notification.
type DeliveryHistory struct {
	NotificationID uuid.UUID         `json:"notification_id"`
	Attempts       []DeliveryAttempt `json:"attempts"`
}

// ChannelStats aggregates delivery outcomes for one channel over a window.
type ChannelStats struct {
	Channel        Channel `json:"channel"`
	TotalAttempts  int64   `json:"total_attempts"`
	Successes      int64   `json:"successes"`
	Failures       int64   `json:"failures"`
	SuccessRate    float64 `json:"success_rate"`
	AvgDurationMs  float64 `json:"avg_duration_ms"`
}

// TimeSeriesGranularity buckets the time-series dimension.
type TimeSeriesGranularity string

const (
	GranularityHour  TimeSeriesGranularity = "hour"
	GranularityDay   TimeSeriesGranularity = "day"
	GranularityWeek  TimeSeriesGranularity = "week"
	GranularityMonth TimeSeriesGranularity = "month"
)

func (g TimeSeriesGranularity) IsValid() bool {
	switch g {
	case GranularityHour, GranularityDay, GranularityWeek, GranularityMonth:
		return true
	}
	return false
}

// FailureBreakdownEntry is one error_type bucket in the top-N failure
// analysis, with the set of channels it showed up on and a recent sample.
type FailureBreakdownEntry struct {
	ErrorType        string    `json:"error_type"`
	Count            int64     `json:"count"`
	ChannelsAffected []Channel `json:"channels_affected"`
	SampleMessage    string    `json:"sample_message,omitempty"`
}

// TimeSeriesBucket is one point in the time-bucketed send/deliver/fail series.
type TimeSeriesBucket struct {
	BucketStart time.Time `json:"bucket_start"`
	Sent        int64     `json:"sent"`
	Delivered   int64     `json:"delivered"`
	Failed      int64     `json:"failed"`
}

// ResponsivenessMetrics summarizes how a user engages with delivered
// notifications: whether they open them, act on them, and how quickly.
type ResponsivenessMetrics struct {
	TotalNotifications int64   `json:"total_notifications"`
	Opened             int64   `json:"opened"`
	Clicked            int64   `json:"clicked"`
	OpenRate           float64 `json:"open_rate"`            // opened / total * 100
	ClickThroughRate   float64 `json:"click_through_rate"`   // clicked / opened * 100
	EngagementScore    float64 `json:"engagement_score"`     // (open_rate + click_through_rate) / 2
	AvgOpenTimeMs      float64 `json:"avg_open_time_ms"`     // delivered_at -> opened_at
	AvgClickTimeMs     float64 `json:"avg_click_time_ms"`    // opened_at -> clicked_at
}

// AnalyticsSummary is the aggregate view returned by the analytics endpoint
// scoped to a single user across all four analytics dimensions.
type AnalyticsSummary struct {
	UserID         string             `json:"user_id"`
	From           time.Time          `json:"from"`
	To             time.Time          `json:"to"`
	TotalSent      int64              `json:"total_sent"`
	TotalDelivered int64              `json:"total_delivered"`
	TotalFailed    int64              `json:"total_failed"`
	ByChannel      []ChannelStats     `json:"by_channel"`
	ByPriority     map[Priority]int64 `json:"by_priority"`

	FailureBreakdown []FailureBreakdownEntry `json:"failure_breakdown,omitempty"`
	TimeSeries       []TimeSeriesBucket      `json:"time_series,omitempty"`
	Responsiveness   *ResponsivenessMetrics  `json:"responsiveness,omitempty"`
}

// HistoryRepository persists delivery attempts and serves analytics queries.
// Analytics is split into four independently-cacheable dimensions rather
// than one monolithic query, matching how HistoryService caches each under
// its own TTL.
type HistoryRepository interface {
	RecordAttempt(ctx context.Context, attempt DeliveryAttempt) error
	GetHistory(ctx context.Context, notificationID uuid.UUID) (*DeliveryHistory, error)

	// GetChannelSummary returns totals, by-priority and by-channel stats,
	// scoped to userID's own notifications/attempts.
	GetChannelSummary(ctx context.Context, userID string, from, to time.Time) (*AnalyticsSummary, error)
	// GetFailureBreakdown returns the top-N error_type causes behind userID's
	// failed delivery attempts in the window.
	GetFailureBreakdown(ctx context.Context, userID string, from, to time.Time, topN int) ([]FailureBreakdownEntry, error)
	// GetTimeSeries buckets userID's notification volume at the requested
	// granularity.
	GetTimeSeries(ctx context.Context, userID string, from, to time.Time, granularity TimeSeriesGranularity) ([]TimeSeriesBucket, error)
	// GetResponsiveness computes userID's open/click engagement metrics.
	GetResponsiveness(ctx context.Context, userID string, from, to time.Time) (*ResponsivenessMetrics, error)
}
