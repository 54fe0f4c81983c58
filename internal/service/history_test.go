package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/insider-one/notification-engine/internal/domain"
)

// MockHistoryRepository is a mock implementation of domain.HistoryRepository
type MockHistoryRepository struct {
	mock.Mock
}

func (m *MockHistoryRepository) RecordAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error {
	args := m.Called(ctx, attempt)
	return args.Error(0)
}

func (m *MockHistoryRepository) GetHistory(ctx context.Context, notificationID uuid.UUID) (*domain.DeliveryHistory, error) {
	args := m.Called(ctx, notificationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DeliveryHistory), args.Error(1)
}

func (m *MockHistoryRepository) GetChannelSummary(ctx context.Context, userID string, from, to time.Time) (*domain.AnalyticsSummary, error) {
	args := m.Called(ctx, userID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AnalyticsSummary), args.Error(1)
}

func (m *MockHistoryRepository) GetFailureBreakdown(ctx context.Context, userID string, from, to time.Time, topN int) ([]domain.FailureBreakdownEntry, error) {
	args := m.Called(ctx, userID, from, to, topN)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.FailureBreakdownEntry), args.Error(1)
}

func (m *MockHistoryRepository) GetTimeSeries(ctx context.Context, userID string, from, to time.Time, granularity domain.TimeSeriesGranularity) ([]domain.TimeSeriesBucket, error) {
	args := m.Called(ctx, userID, from, to, granularity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.TimeSeriesBucket), args.Error(1)
}

func (m *MockHistoryRepository) GetResponsiveness(ctx context.Context, userID string, from, to time.Time) (*domain.ResponsivenessMetrics, error) {
	args := m.Called(ctx, userID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ResponsivenessMetrics), args.Error(1)
}

func TestHistoryService_Summary(t *testing.T) {
	ctx := context.Background()
	from, to := time.Now().Add(-24*time.Hour), time.Now()

	t.Run("scopes every dimension query to the caller's user ID", func(t *testing.T) {
		history := new(MockHistoryRepository)
		svc := NewHistoryService(nil, history)

		channelSummary := &domain.AnalyticsSummary{UserID: "user-1", ByChannel: []domain.ChannelStats{}, ByPriority: map[domain.Priority]int64{}}
		history.On("GetChannelSummary", ctx, "user-1", from, to).Return(channelSummary, nil).Once()
		history.On("GetFailureBreakdown", ctx, "user-1", from, to, defaultFailureBreakdownTopN).Return([]domain.FailureBreakdownEntry{}, nil).Once()
		history.On("GetTimeSeries", ctx, "user-1", from, to, defaultTimeSeriesGranularity).Return([]domain.TimeSeriesBucket{}, nil).Once()
		history.On("GetResponsiveness", ctx, "user-1", from, to).Return(&domain.ResponsivenessMetrics{}, nil).Once()

		summary, err := svc.Summary(ctx, "user-1", from, to)

		assert.NoError(t, err)
		assert.Equal(t, "user-1", summary.UserID)
		history.AssertExpectations(t)
	})

	t.Run("caches each dimension independently across repeat calls", func(t *testing.T) {
		history := new(MockHistoryRepository)
		svc := NewHistoryService(nil, history)

		channelSummary := &domain.AnalyticsSummary{UserID: "user-1", ByChannel: []domain.ChannelStats{}, ByPriority: map[domain.Priority]int64{}}
		history.On("GetChannelSummary", ctx, "user-1", from, to).Return(channelSummary, nil).Once()
		history.On("GetFailureBreakdown", ctx, "user-1", from, to, defaultFailureBreakdownTopN).Return([]domain.FailureBreakdownEntry{}, nil).Once()
		history.On("GetTimeSeries", ctx, "user-1", from, to, defaultTimeSeriesGranularity).Return([]domain.TimeSeriesBucket{}, nil).Once()
		history.On("GetResponsiveness", ctx, "user-1", from, to).Return(&domain.ResponsivenessMetrics{}, nil).Once()

		_, err := svc.Summary(ctx, "user-1", from, to)
		assert.NoError(t, err)

		_, err = svc.Summary(ctx, "user-1", from, to)
		assert.NoError(t, err)

		history.AssertExpectations(t)
	})

	t.Run("different users never share a cache entry", func(t *testing.T) {
		history := new(MockHistoryRepository)
		svc := NewHistoryService(nil, history)

		for _, userID := range []string{"user-1", "user-2"} {
			summary := &domain.AnalyticsSummary{UserID: userID, ByChannel: []domain.ChannelStats{}, ByPriority: map[domain.Priority]int64{}}
			history.On("GetChannelSummary", ctx, userID, from, to).Return(summary, nil).Once()
			history.On("GetFailureBreakdown", ctx, userID, from, to, defaultFailureBreakdownTopN).Return([]domain.FailureBreakdownEntry{}, nil).Once()
			history.On("GetTimeSeries", ctx, userID, from, to, defaultTimeSeriesGranularity).Return([]domain.TimeSeriesBucket{}, nil).Once()
			history.On("GetResponsiveness", ctx, userID, from, to).Return(&domain.ResponsivenessMetrics{}, nil).Once()
		}

		s1, err := svc.Summary(ctx, "user-1", from, to)
		assert.NoError(t, err)
		s2, err := svc.Summary(ctx, "user-2", from, to)
		assert.NoError(t, err)

		assert.Equal(t, "user-1", s1.UserID)
		assert.Equal(t, "user-2", s2.UserID)
		history.AssertExpectations(t)
	})
}

func TestHistoryService_InvalidateUser(t *testing.T) {
	ctx := context.Background()
	from, to := time.Now().Add(-24*time.Hour), time.Now()

	history := new(MockHistoryRepository)
	svc := NewHistoryService(nil, history)

	summary := &domain.AnalyticsSummary{UserID: "user-1", ByChannel: []domain.ChannelStats{}, ByPriority: map[domain.Priority]int64{}}
	history.On("GetChannelSummary", ctx, "user-1", from, to).Return(summary, nil).Twice()
	history.On("GetFailureBreakdown", ctx, "user-1", from, to, defaultFailureBreakdownTopN).Return([]domain.FailureBreakdownEntry{}, nil).Twice()
	history.On("GetTimeSeries", ctx, "user-1", from, to, defaultTimeSeriesGranularity).Return([]domain.TimeSeriesBucket{}, nil).Twice()
	history.On("GetResponsiveness", ctx, "user-1", from, to).Return(&domain.ResponsivenessMetrics{}, nil).Twice()

	_, err := svc.Summary(ctx, "user-1", from, to)
	assert.NoError(t, err)

	svc.InvalidateUser("user-1")

	_, err = svc.Summary(ctx, "user-1", from, to)
	assert.NoError(t, err)

	history.AssertExpectations(t)
}
