package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/insider-one/notification-engine/internal/domain"
)

// HistoryRepository implements domain.HistoryRepository using PostgreSQL.
type HistoryRepository struct {
	db *DB
}

func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) RecordAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error {
	query := `
		INSERT INTO delivery_attempts (
			id, notification_id, recipient_id, channel, attempt_number, outcome,
			error_kind, error_message, provider_ref, duration_ms, attempted_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	var errKind *string
	if attempt.ErrorKind != nil {
		s := string(*attempt.ErrorKind)
		errKind = &s
	}
	_, err := r.db.Pool.Exec(ctx, query,
		attempt.ID, attempt.NotificationID, attempt.RecipientID, attempt.Channel, attempt.AttemptNumber,
		attempt.Outcome, errKind, attempt.ErrorMessage, attempt.ProviderRef, attempt.DurationMs, attempt.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("record delivery attempt: %w", err)
	}
	return nil
}

func (r *HistoryRepository) GetHistory(ctx context.Context, notificationID uuid.UUID) (*domain.DeliveryHistory, error) {
	query := `
		SELECT id, notification_id, recipient_id, channel, attempt_number, outcome,
			error_kind, error_message, provider_ref, duration_ms, attempted_at
		FROM delivery_attempts WHERE notification_id = $1 ORDER BY attempted_at ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, notificationID)
	if err != nil {
		return nil, fmt.Errorf("query delivery history: %w", err)
	}
	defer rows.Close()

	hist := &domain.DeliveryHistory{NotificationID: notificationID, Attempts: []domain.DeliveryAttempt{}}
	for rows.Next() {
		var a domain.DeliveryAttempt
		var errKind *string
		if err := rows.Scan(
			&a.ID, &a.NotificationID, &a.RecipientID, &a.Channel, &a.AttemptNumber, &a.Outcome,
			&errKind, &a.ErrorMessage, &a.ProviderRef, &a.DurationMs, &a.AttemptedAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery attempt: %w", err)
		}
		if errKind != nil {
			k := domain.ErrorKind(*errKind)
			a.ErrorKind = &k
		}
		hist.Attempts = append(hist.Attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery attempts: %w", err)
	}
	return hist, nil
}

// recipientFilter is the JSONB-containment predicate that scopes a
// notifications-table query to one recipient, matching the pattern
// established for list filtering.
func recipientFilter(userID string) string {
	return fmt.Sprintf(`[{"user_id":"%s"}]`, userID)
}

// GetChannelSummary returns the userID-scoped totals, by-priority and
// by-channel stats that make up the headline of an analytics summary.
func (r *HistoryRepository) GetChannelSummary(ctx context.Context, userID string, from, to time.Time) (*domain.AnalyticsSummary, error) {
	summary := &domain.AnalyticsSummary{
		UserID:     userID,
		From:       from,
		To:         to,
		ByChannel:  []domain.ChannelStats{},
		ByPriority: map[domain.Priority]int64{},
	}

	totalsQuery := `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('sent','delivered','failed')) AS total_sent,
			COUNT(*) FILTER (WHERE status = 'delivered') AS total_delivered,
			COUNT(*) FILTER (WHERE status = 'failed') AS total_failed
		FROM notifications
		WHERE recipients @> $1 AND created_at BETWEEN $2 AND $3
	`
	if err := r.db.Pool.QueryRow(ctx, totalsQuery, recipientFilter(userID), from, to).Scan(
		&summary.TotalSent, &summary.TotalDelivered, &summary.TotalFailed,
	); err != nil {
		return nil, fmt.Errorf("query analytics totals: %w", err)
	}

	priorityQuery := `
		SELECT priority, COUNT(*) FROM notifications
		WHERE recipients @> $1 AND created_at BETWEEN $2 AND $3 GROUP BY priority
	`
	prioRows, err := r.db.Pool.Query(ctx, priorityQuery, recipientFilter(userID), from, to)
	if err != nil {
		return nil, fmt.Errorf("query analytics by priority: %w", err)
	}
	defer prioRows.Close()
	for prioRows.Next() {
		var p domain.Priority
		var count int64
		if err := prioRows.Scan(&p, &count); err != nil {
			return nil, fmt.Errorf("scan priority row: %w", err)
		}
		summary.ByPriority[p] = count
	}
	if err := prioRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate priority rows: %w", err)
	}

	channelQuery := `
		SELECT channel,
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE outcome = 'success') AS successes,
			COUNT(*) FILTER (WHERE outcome = 'failure') AS failures,
			COALESCE(AVG(duration_ms), 0) AS avg_duration_ms
		FROM delivery_attempts
		WHERE recipient_id = $1 AND attempted_at BETWEEN $2 AND $3
		GROUP BY channel
	`
	chanRows, err := r.db.Pool.Query(ctx, channelQuery, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query analytics by channel: %w", err)
	}
	defer chanRows.Close()
	for chanRows.Next() {
		var cs domain.ChannelStats
		if err := chanRows.Scan(&cs.Channel, &cs.TotalAttempts, &cs.Successes, &cs.Failures, &cs.AvgDurationMs); err != nil {
			return nil, fmt.Errorf("scan channel stats row: %w", err)
		}
		if cs.TotalAttempts > 0 {
			cs.SuccessRate = float64(cs.Successes) / float64(cs.TotalAttempts)
		}
		summary.ByChannel = append(summary.ByChannel, cs)
	}
	if err := chanRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel stats rows: %w", err)
	}

	return summary, nil
}

// GetFailureBreakdown returns the topN error_type causes behind a user's
// failed delivery attempts, each with the set of channels it touched and a
// recent sample message for diagnosis.
func (r *HistoryRepository) GetFailureBreakdown(ctx context.Context, userID string, from, to time.Time, topN int) ([]domain.FailureBreakdownEntry, error) {
	query := `
		SELECT
			COALESCE(error_kind, 'unknown') AS error_type,
			COUNT(*) AS count,
			array_agg(DISTINCT channel) AS channels,
			(array_agg(error_message ORDER BY attempted_at DESC))[1] AS sample_message
		FROM delivery_attempts
		WHERE recipient_id = $1 AND outcome = 'failure' AND attempted_at BETWEEN $2 AND $3
		GROUP BY error_type
		ORDER BY count DESC
		LIMIT $4
	`
	rows, err := r.db.Pool.Query(ctx, query, userID, from, to, topN)
	if err != nil {
		return nil, fmt.Errorf("query failure breakdown: %w", err)
	}
	defer rows.Close()

	out := make([]domain.FailureBreakdownEntry, 0, topN)
	for rows.Next() {
		var e domain.FailureBreakdownEntry
		var channels []domain.Channel
		var sample *string
		if err := rows.Scan(&e.ErrorType, &e.Count, &channels, &sample); err != nil {
			return nil, fmt.Errorf("scan failure breakdown row: %w", err)
		}
		e.ChannelsAffected = channels
		if sample != nil {
			e.SampleMessage = *sample
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failure breakdown rows: %w", err)
	}
	return out, nil
}

// postgresTruncUnit maps a domain.TimeSeriesGranularity onto the date_trunc
// field name Postgres expects.
func postgresTruncUnit(g domain.TimeSeriesGranularity) string {
	switch g {
	case domain.GranularityHour:
		return "hour"
	case domain.GranularityWeek:
		return "week"
	case domain.GranularityMonth:
		return "month"
	default:
		return "day"
	}
}

// GetTimeSeries buckets a user's notification volume at the requested
// granularity using Postgres's native date_trunc rather than manual
// bucketing in application code.
func (r *HistoryRepository) GetTimeSeries(ctx context.Context, userID string, from, to time.Time, granularity domain.TimeSeriesGranularity) ([]domain.TimeSeriesBucket, error) {
	unit := postgresTruncUnit(granularity)
	query := fmt.Sprintf(`
		SELECT
			date_trunc('%s', created_at) AS bucket,
			COUNT(*) FILTER (WHERE status IN ('sent','delivered','failed')) AS sent,
			COUNT(*) FILTER (WHERE status = 'delivered') AS delivered,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed
		FROM notifications
		WHERE recipients @> $1 AND created_at BETWEEN $2 AND $3
		GROUP BY bucket
		ORDER BY bucket ASC
	`, unit)
	rows, err := r.db.Pool.Query(ctx, query, recipientFilter(userID), from, to)
	if err != nil {
		return nil, fmt.Errorf("query time series: %w", err)
	}
	defer rows.Close()

	out := []domain.TimeSeriesBucket{}
	for rows.Next() {
		var b domain.TimeSeriesBucket
		if err := rows.Scan(&b.BucketStart, &b.Sent, &b.Delivered, &b.Failed); err != nil {
			return nil, fmt.Errorf("scan time series row: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate time series rows: %w", err)
	}
	return out, nil
}

// GetResponsiveness computes a user's open/click engagement metrics over
// the window: rates, an averaged engagement score, and the average time to
// open and to click.
func (r *HistoryRepository) GetResponsiveness(ctx context.Context, userID string, from, to time.Time) (*domain.ResponsivenessMetrics, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'delivered') AS total,
			COUNT(*) FILTER (WHERE opened_at IS NOT NULL) AS opened,
			COUNT(*) FILTER (WHERE clicked_at IS NOT NULL) AS clicked,
			COALESCE(AVG(EXTRACT(EPOCH FROM (opened_at - delivered_at)) * 1000)
				FILTER (WHERE opened_at IS NOT NULL AND delivered_at IS NOT NULL), 0) AS avg_open_ms,
			COALESCE(AVG(EXTRACT(EPOCH FROM (clicked_at - opened_at)) * 1000)
				FILTER (WHERE clicked_at IS NOT NULL AND opened_at IS NOT NULL), 0) AS avg_click_ms
		FROM notifications
		WHERE recipients @> $1 AND created_at BETWEEN $2 AND $3
	`
	m := &domain.ResponsivenessMetrics{}
	if err := r.db.Pool.QueryRow(ctx, query, recipientFilter(userID), from, to).Scan(
		&m.TotalNotifications, &m.Opened, &m.Clicked, &m.AvgOpenTimeMs, &m.AvgClickTimeMs,
	); err != nil {
		return nil, fmt.Errorf("query responsiveness: %w", err)
	}

	if m.TotalNotifications > 0 {
		m.OpenRate = float64(m.Opened) / float64(m.TotalNotifications) * 100
	}
	if m.Opened > 0 {
		m.ClickThroughRate = float64(m.Clicked) / float64(m.Opened) * 100
	}
	m.EngagementScore = (m.OpenRate + m.ClickThroughRate) / 2

	return m, nil
}
