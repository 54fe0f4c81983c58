// Package service implements the business logic layer: notification intake,
// preference management, delivery history/analytics, and audit logging.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/insider-one/notification-engine/internal/domain"
)

// SendNotificationRequest is the producer-facing request shape.
type SendNotificationRequest struct {
	Type           domain.NotificationType `json:"type" validate:"required"`
	Priority       domain.Priority         `json:"priority" validate:"required"`
	Content        domain.Content          `json:"content" validate:"required"`
	Recipients     []domain.Recipient      `json:"recipients" validate:"required,min=1,max=100,dive"`
	Channels       []domain.Channel        `json:"channels" validate:"required,min=1"`
	ScheduledAt    *time.Time              `json:"scheduled_at,omitempty"`
	ExpiresAt      *time.Time              `json:"expires_at,omitempty"`
	CorrelationID  string                  `json:"correlation_id,omitempty"`
	Context        map[string]any          `json:"context,omitempty"`
	IdempotencyKey *string                 `json:"idempotency_key,omitempty"`
	ActorUserID    string                  `json:"actor_user_id,omitempty"`
}

// EstimatedDelivery is a coarse human-facing hint about when delivery will happen.
type EstimatedDelivery string

const (
	EstimateImmediate     EstimatedDelivery = "immediate"
	EstimateWithin30Sec   EstimatedDelivery = "within 30 seconds"
	EstimateWithin1Min    EstimatedDelivery = "within 1 minute"
	EstimateWithin5Min    EstimatedDelivery = "within 5 minutes"
	EstimateScheduled     EstimatedDelivery = "scheduled"
)

// SendResult is the producer-facing response.
type SendResult struct {
	NotificationID       uuid.UUID         `json:"notification_id"`
	Status               domain.Status     `json:"status"`
	CreatedAt            time.Time         `json:"created_at"`
	ScheduledAt          *time.Time        `json:"scheduled_at,omitempty"`
	Channels             []domain.Channel  `json:"channels"`
	RecipientCount       int               `json:"recipient_count"`
	EstimatedDeliveryTime EstimatedDelivery `json:"estimated_delivery_time"`
}

// NotificationService owns notification lifecycle operations: creation,
// cancellation, resend, and single-record retrieval with ownership checks.
type NotificationService struct {
	repo            domain.NotificationRepository
	audit           *AuditService
	logger          *slog.Logger
	statusBroadcast func(*domain.Notification)
}

func NewNotificationService(repo domain.NotificationRepository, audit *AuditService, logger *slog.Logger) *NotificationService {
	return &NotificationService{repo: repo, audit: audit, logger: logger}
}

// SetStatusBroadcast wires a callback invoked whenever a notification's
// status changes, used to push updates over the WebSocket hub.
func (s *NotificationService) SetStatusBroadcast(fn func(*domain.Notification)) {
	s.statusBroadcast = fn
}

// Create validates and persists a new notification in pending status.
// Idempotent on IdempotencyKey: a repeat request with the same key returns
// the existing record rather than creating a duplicate.
func (s *NotificationService) Create(ctx context.Context, req SendNotificationRequest) (*SendResult, error) {
	if req.IdempotencyKey != nil {
		existing, err := s.repo.GetByIdempotencyKey(ctx, *req.IdempotencyKey)
		if err == nil && existing != nil {
			return s.toResult(existing), nil
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("check idempotency: %w", err)
		}
	}

	n := domain.NewNotification(req.Type, req.Priority, req.Content, req.Recipients, req.Channels)
	n.ScheduledAt = req.ScheduledAt
	n.ExpiresAt = req.ExpiresAt
	n.CorrelationID = req.CorrelationID
	n.Context = req.Context
	n.IdempotencyKey = req.IdempotencyKey
	n.CreatedBy = req.ActorUserID

	if err := n.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("persist notification: %w", err)
	}

	if s.audit != nil {
		s.audit.Log(ctx, domain.AuditEventCreated, req.ActorUserID, &n.ID, map[string]any{
			"type": n.Type, "priority": n.Priority, "recipient_count": len(n.Recipients),
			"context": n.Context,
		})
	}

	s.broadcast(n)

	return s.toResult(n), nil
}

func (s *NotificationService) toResult(n *domain.Notification) *SendResult {
	return &SendResult{
		NotificationID:        n.ID,
		Status:                n.Status,
		CreatedAt:             n.CreatedAt,
		ScheduledAt:           n.ScheduledAt,
		Channels:              n.Channels,
		RecipientCount:        len(n.Recipients),
		EstimatedDeliveryTime: estimateDelivery(n),
	}
}

func estimateDelivery(n *domain.Notification) EstimatedDelivery {
	if n.ScheduledAt != nil {
		return EstimateScheduled
	}
	switch n.Priority {
	case domain.PriorityCritical:
		return EstimateImmediate
	case domain.PriorityUrgent:
		return EstimateWithin30Sec
	case domain.PriorityHigh:
		return EstimateWithin1Min
	default:
		return EstimateWithin5Min
	}
}

// GetForUser fetches a notification and enforces the ownership check:
// the caller must be one of the recipients or the creator.
func (s *NotificationService) GetForUser(ctx context.Context, id uuid.UUID, userID string) (*domain.Notification, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.CreatedBy == userID {
		return n, nil
	}
	for _, r := range n.Recipients {
		if r.UserID == userID {
			return n, nil
		}
	}
	return nil, domain.ErrForbidden
}

// Cancel transitions a notification to cancelled, compare-and-swapping the
// status so a concurrent worker that already advanced it wins instead.
func (s *NotificationService) Cancel(ctx context.Context, id uuid.UUID, userID string) error {
	n, err := s.GetForUser(ctx, id, userID)
	if err != nil {
		return err
	}
	if !n.CanCancel() {
		return domain.ErrCannotCancel
	}

	ok, err := s.repo.CompareAndSwapStatus(ctx, id, n.Status, domain.StatusCancelled)
	if err != nil {
		return fmt.Errorf("cancel notification: %w", err)
	}
	if !ok {
		// Another writer already advanced the status; treat as success.
		return nil
	}

	n.MarkCancelled()
	s.broadcast(n)
	if s.audit != nil {
		s.audit.Log(ctx, domain.AuditEventCancelled, userID, &n.ID, nil)
	}
	return nil
}

// Resend re-enqueues a failed notification by resetting its retry
// bookkeeping and compare-and-swapping its status back to pending. Admin-only
// at the HTTP layer; the service itself trusts the caller.
func (s *NotificationService) Resend(ctx context.Context, id uuid.UUID, actorID string) error {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if n.Status != domain.StatusFailed {
		return fmt.Errorf("%w: notification is %s, not failed", domain.ErrInvalidStatus, n.Status)
	}

	ok, err := s.repo.CompareAndSwapStatus(ctx, id, domain.StatusFailed, domain.StatusPending)
	if err != nil {
		return fmt.Errorf("resend notification: %w", err)
	}
	if !ok {
		return nil
	}

	n.Status = domain.StatusPending
	n.RetryMeta.CurrentAttempt = 0
	n.RetryMeta.NextRetryAt = nil
	n.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, n); err != nil {
		return fmt.Errorf("persist resend: %w", err)
	}

	s.broadcast(n)
	if s.audit != nil {
		s.audit.Log(ctx, domain.AuditEventEscalated, actorID, &n.ID, map[string]any{"action": "manual_resend"})
	}
	return nil
}

// MarkOpened records that userID opened notification id, feeding the
// responsiveness metrics. Ownership is enforced the same as GetForUser.
func (s *NotificationService) MarkOpened(ctx context.Context, id uuid.UUID, userID string) error {
	if _, err := s.GetForUser(ctx, id, userID); err != nil {
		return err
	}
	return s.repo.MarkOpened(ctx, id)
}

// MarkClicked records that userID acted on notification id.
func (s *NotificationService) MarkClicked(ctx context.Context, id uuid.UUID, userID string) error {
	if _, err := s.GetForUser(ctx, id, userID); err != nil {
		return err
	}
	return s.repo.MarkClicked(ctx, id)
}

func (s *NotificationService) broadcast(n *domain.Notification) {
	if s.statusBroadcast != nil {
		s.statusBroadcast(n)
	}
}
