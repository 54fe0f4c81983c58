package service

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/insider-one/notification-engine/internal/domain"
)

// MockNotificationRepository is a mock implementation of domain.NotificationRepository
type MockNotificationRepository struct {
	mock.Mock
}

func (m *MockNotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *MockNotificationRepository) CreateBatch(ctx context.Context, notifications []*domain.Notification) error {
	args := m.Called(ctx, notifications)
	return args.Error(0)
}

func (m *MockNotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Notification), args.Error(1)
}

func (m *MockNotificationRepository) GetByBatchID(ctx context.Context, batchID uuid.UUID) ([]*domain.Notification, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Notification), args.Error(1)
}

func (m *MockNotificationRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Notification, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Notification), args.Error(1)
}

func (m *MockNotificationRepository) Update(ctx context.Context, n *domain.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *MockNotificationRepository) CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from, to domain.Status) (bool, error) {
	args := m.Called(ctx, id, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockNotificationRepository) List(ctx context.Context, filter domain.Filter) (*domain.ListResult, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ListResult), args.Error(1)
}

func (m *MockNotificationRepository) GetPendingBatch(ctx context.Context, criticalLimit, totalLimit int, now time.Time) ([]*domain.Notification, error) {
	args := m.Called(ctx, criticalLimit, totalLimit, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Notification), args.Error(1)
}

func (m *MockNotificationRepository) GetDueRetries(ctx context.Context, now time.Time, limit int) ([]*domain.Notification, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Notification), args.Error(1)
}

func (m *MockNotificationRepository) MarkOpened(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockNotificationRepository) MarkClicked(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func testNotification() (domain.NotificationType, domain.Priority, domain.Content, []domain.Recipient, []domain.Channel) {
	return domain.TypeSystemAlert,
		domain.PriorityHigh,
		domain.Content{Subject: "s", Body: "b"},
		[]domain.Recipient{{UserID: "user-1"}},
		[]domain.Channel{domain.ChannelEmail}
}

func TestNotificationService_Create(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	t.Run("creates a new notification", func(t *testing.T) {
		repo := new(MockNotificationRepository)
		svc := NewNotificationService(repo, nil, logger)
		typ, prio, content, recipients, channels := testNotification()

		repo.On("Create", ctx, mock.AnythingOfType("*domain.Notification")).Return(nil).Once()

		result, err := svc.Create(ctx, SendNotificationRequest{
			Type:       typ,
			Priority:   prio,
			Content:    content,
			Recipients: recipients,
			Channels:   channels,
		})

		assert.NoError(t, err)
		assert.NotNil(t, result)
		assert.Equal(t, domain.StatusPending, result.Status)
		assert.Equal(t, 1, result.RecipientCount)
		repo.AssertExpectations(t)
	})

	t.Run("idempotency key returns existing notification without creating", func(t *testing.T) {
		repo := new(MockNotificationRepository)
		svc := NewNotificationService(repo, nil, logger)
		typ, prio, content, recipients, channels := testNotification()

		key := "dup-key"
		existing := domain.NewNotification(typ, prio, content, recipients, channels)
		repo.On("GetByIdempotencyKey", ctx, key).Return(existing, nil).Once()

		result, err := svc.Create(ctx, SendNotificationRequest{
			Type:           typ,
			Priority:       prio,
			Content:        content,
			Recipients:     recipients,
			Channels:       channels,
			IdempotencyKey: &key,
		})

		assert.NoError(t, err)
		assert.Equal(t, existing.ID, result.NotificationID)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("rejects invalid notification", func(t *testing.T) {
		repo := new(MockNotificationRepository)
		svc := NewNotificationService(repo, nil, logger)

		result, err := svc.Create(ctx, SendNotificationRequest{
			Type:     domain.TypeSystemAlert,
			Priority: domain.PriorityHigh,
			Content:  domain.Content{},
		})

		assert.Error(t, err)
		assert.Nil(t, result)
	})
}

func TestNotificationService_Cancel(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	t.Run("cancels a pending notification owned by the caller", func(t *testing.T) {
		repo := new(MockNotificationRepository)
		svc := NewNotificationService(repo, nil, logger)
		typ, prio, content, recipients, channels := testNotification()

		n := domain.NewNotification(typ, prio, content, recipients, channels)
		n.CreatedBy = "user-1"
		n.Status = domain.StatusPending

		repo.On("GetByID", ctx, n.ID).Return(n, nil).Once()
		repo.On("CompareAndSwapStatus", ctx, n.ID, domain.StatusPending, domain.StatusCancelled).Return(true, nil).Once()

		err := svc.Cancel(ctx, n.ID, "user-1")

		assert.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("rejects cancel from a non-owner", func(t *testing.T) {
		repo := new(MockNotificationRepository)
		svc := NewNotificationService(repo, nil, logger)
		typ, prio, content, recipients, channels := testNotification()

		n := domain.NewNotification(typ, prio, content, recipients, channels)
		n.CreatedBy = "user-1"

		repo.On("GetByID", ctx, n.ID).Return(n, nil).Once()

		err := svc.Cancel(ctx, n.ID, "someone-else")

		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("rejects cancel of a sent notification", func(t *testing.T) {
		repo := new(MockNotificationRepository)
		svc := NewNotificationService(repo, nil, logger)
		typ, prio, content, recipients, channels := testNotification()

		n := domain.NewNotification(typ, prio, content, recipients, channels)
		n.CreatedBy = "user-1"
		n.Status = domain.StatusSent

		repo.On("GetByID", ctx, n.ID).Return(n, nil).Once()

		err := svc.Cancel(ctx, n.ID, "user-1")

		assert.ErrorIs(t, err, domain.ErrCannotCancel)
	})
}

func TestNotificationService_GetForUser(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	typ, prio, content, recipients, channels := testNotification()

	t.Run("recipient can read their own notification", func(t *testing.T) {
		repo := new(MockNotificationRepository)
		svc := NewNotificationService(repo, nil, logger)

		n := domain.NewNotification(typ, prio, content, recipients, channels)
		n.CreatedBy = "creator"
		repo.On("GetByID", ctx, n.ID).Return(n, nil).Once()

		got, err := svc.GetForUser(ctx, n.ID, "user-1")

		assert.NoError(t, err)
		assert.Equal(t, n.ID, got.ID)
	})

	t.Run("unrelated user is forbidden", func(t *testing.T) {
		repo := new(MockNotificationRepository)
		svc := NewNotificationService(repo, nil, logger)

		n := domain.NewNotification(typ, prio, content, recipients, channels)
		n.CreatedBy = "creator"
		repo.On("GetByID", ctx, n.ID).Return(n, nil).Once()

		_, err := svc.GetForUser(ctx, n.ID, "stranger")

		assert.ErrorIs(t, err, domain.ErrForbidden)
	})
}

func TestNotificationService_MarkOpenedAndClicked(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	typ, prio, content, recipients, channels := testNotification()

	t.Run("recipient can mark their own notification opened", func(t *testing.T) {
		repo := new(MockNotificationRepository)
		svc := NewNotificationService(repo, nil, logger)

		n := domain.NewNotification(typ, prio, content, recipients, channels)
		repo.On("GetByID", ctx, n.ID).Return(n, nil).Once()
		repo.On("MarkOpened", ctx, n.ID).Return(nil).Once()

		err := svc.MarkOpened(ctx, n.ID, "user-1")

		assert.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("unrelated user cannot mark clicked", func(t *testing.T) {
		repo := new(MockNotificationRepository)
		svc := NewNotificationService(repo, nil, logger)

		n := domain.NewNotification(typ, prio, content, recipients, channels)
		n.CreatedBy = "creator"
		repo.On("GetByID", ctx, n.ID).Return(n, nil).Once()

		err := svc.MarkClicked(ctx, n.ID, "stranger")

		assert.ErrorIs(t, err, domain.ErrForbidden)
		repo.AssertNotCalled(t, "MarkClicked", mock.Anything, mock.Anything)
	})
}
