package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/insider-one/notification-engine/internal/domain"
)

const (
	channelStatsTTL     = 5 * time.Minute
	failureBreakdownTTL = 10 * time.Minute
	responsivenessTTL   = 15 * time.Minute

	defaultFailureBreakdownTopN = 5
	defaultTimeSeriesGranularity = domain.GranularityDay
)

// HistoryService serves paginated delivery history and cached analytics.
type HistoryService struct {
	notifications domain.NotificationRepository
	history       domain.HistoryRepository
	cache         *gocache.Cache
}

func NewHistoryService(notifications domain.NotificationRepository, history domain.HistoryRepository) *HistoryService {
	return &HistoryService{
		notifications: notifications,
		history:       history,
		cache:         gocache.New(responsivenessTTL, responsivenessTTL*2),
	}
}

// List returns a page of a user's notification history.
func (s *HistoryService) List(ctx context.Context, filter domain.Filter) (*domain.ListResult, error) {
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	if filter.Page <= 0 || filter.Page > 1000 {
		filter.Page = 1
	}
	if filter.SortBy == "" {
		filter.SortBy = "created_at"
		filter.SortDescending = true
	}
	return s.notifications.List(ctx, filter)
}

// Detail returns the full attempt log for one notification, enforcing
// ownership: 404 surfaces as domain.ErrNotFound, 403 as domain.ErrForbidden.
func (s *HistoryService) Detail(ctx context.Context, notificationID uuid.UUID, userID string) (*domain.Notification, *domain.DeliveryHistory, error) {
	n, err := s.notifications.GetByID(ctx, notificationID)
	if err != nil {
		return nil, nil, err
	}

	owner := n.CreatedBy == userID
	if !owner {
		for _, r := range n.Recipients {
			if r.UserID == userID {
				owner = true
				break
			}
		}
	}
	if !owner {
		return nil, nil, domain.ErrForbidden
	}

	hist, err := s.history.GetHistory(ctx, notificationID)
	if err != nil {
		return nil, nil, err
	}
	return n, hist, nil
}

// Summary returns a dashboard analytics summary for the window [from, to],
// scoped to userID across all four analytics dimensions. Each
// dimension is cached independently under its own TTL, since failure
// breakdowns and responsiveness change far less often than raw channel
// counts and don't need to be recomputed together.
func (s *HistoryService) Summary(ctx context.Context, userID string, from, to time.Time) (*domain.AnalyticsSummary, error) {
	key := cacheKey(userID, from, to)

	channelKey := "channel:" + key
	var summary *domain.AnalyticsSummary
	if cached, ok := s.cache.Get(channelKey); ok {
		summary = cached.(*domain.AnalyticsSummary)
	} else {
		fetched, err := s.history.GetChannelSummary(ctx, userID, from, to)
		if err != nil {
			return nil, fmt.Errorf("compute channel summary: %w", err)
		}
		s.cache.Set(channelKey, fetched, channelStatsTTL)
		summary = fetched
	}

	failureKey := "failure:" + key
	if cached, ok := s.cache.Get(failureKey); ok {
		summary.FailureBreakdown = cached.([]domain.FailureBreakdownEntry)
	} else {
		breakdown, err := s.history.GetFailureBreakdown(ctx, userID, from, to, defaultFailureBreakdownTopN)
		if err != nil {
			return nil, fmt.Errorf("compute failure breakdown: %w", err)
		}
		s.cache.Set(failureKey, breakdown, failureBreakdownTTL)
		summary.FailureBreakdown = breakdown
	}

	seriesKey := "series:" + key
	if cached, ok := s.cache.Get(seriesKey); ok {
		summary.TimeSeries = cached.([]domain.TimeSeriesBucket)
	} else {
		series, err := s.history.GetTimeSeries(ctx, userID, from, to, defaultTimeSeriesGranularity)
		if err != nil {
			return nil, fmt.Errorf("compute time series: %w", err)
		}
		s.cache.Set(seriesKey, series, channelStatsTTL)
		summary.TimeSeries = series
	}

	responsivenessKey := "responsiveness:" + key
	if cached, ok := s.cache.Get(responsivenessKey); ok {
		summary.Responsiveness = cached.(*domain.ResponsivenessMetrics)
	} else {
		responsiveness, err := s.history.GetResponsiveness(ctx, userID, from, to)
		if err != nil {
			return nil, fmt.Errorf("compute responsiveness: %w", err)
		}
		s.cache.Set(responsivenessKey, responsiveness, responsivenessTTL)
		summary.Responsiveness = responsiveness
	}

	return summary, nil
}

// InvalidateUser drops every cached analytics entry for a user, across all
// four dimension caches. Called whenever that user's preferences change or
// a new history entry is recorded for them.
func (s *HistoryService) InvalidateUser(userID string) {
	needle := ":" + userID + ":"
	for key := range s.cache.Items() {
		if strings.Contains(key, needle) {
			s.cache.Delete(key)
		}
	}
}

func cacheKey(userID string, from, to time.Time) string {
	h := sha256.Sum256([]byte(from.String() + "|" + to.String()))
	return userID + ":" + hex.EncodeToString(h[:])[:16]
}
