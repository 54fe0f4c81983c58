package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const MaxRecipients = 100

// Status is the lattice pending -> processing -> sent -> delivered | failed | cancelled.
// pending <-> processing is the only backward transition, used for retry.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Recipient is one addressee of a notification.
type Recipient struct {
	UserID            string   `json:"user_id"`
	Email             *string  `json:"email,omitempty"`
	PreferredChannels []Channel `json:"preferred_channels,omitempty"`
	RoleTags          []string `json:"role_tags,omitempty"`
}

// Content holds subject/body plus optional template metadata.
type Content struct {
	Subject          string            `json:"subject"`
	Body             string            `json:"body"`
	RichBody         *string           `json:"rich_body,omitempty"`
	TemplateID       *string           `json:"template_id,omitempty"`
	TemplateVars     map[string]string `json:"template_variables,omitempty"`
}

// RetryMetadata tracks a notification's retry progress.
type RetryMetadata struct {
	MaxRetries        int        `json:"max_retries"`
	CurrentAttempt    int        `json:"current_attempt"`
	NextRetryAt       *time.Time `json:"next_retry_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	BackoffMultiplier float64    `json:"backoff_multiplier"`
}

// Notification is the immutable-core / mutable-envelope delivery record.
type Notification struct {
	ID             uuid.UUID        `json:"id"`
	Type           NotificationType `json:"type"`
	Priority       Priority         `json:"priority"`
	Content        Content          `json:"content"`
	Recipients     []Recipient      `json:"recipients"`
	Channels       []Channel        `json:"channels"`
	ScheduledAt    *time.Time       `json:"scheduled_at,omitempty"`
	ExpiresAt      *time.Time       `json:"expires_at,omitempty"`
	CorrelationID  string           `json:"correlation_id,omitempty"`
	SourceService  string           `json:"source_service,omitempty"`
	CreatedBy      string           `json:"created_by,omitempty"`
	Context        map[string]any   `json:"context,omitempty"`
	IdempotencyKey *string          `json:"idempotency_key,omitempty"`
	BatchID        *uuid.UUID       `json:"batch_id,omitempty"`

	Status       Status         `json:"status"`
	RetryMeta    RetryMetadata  `json:"retry_metadata"`
	SentAt       *time.Time     `json:"sent_at,omitempty"`
	DeliveredAt  *time.Time     `json:"delivered_at,omitempty"`
	FailedAt     *time.Time     `json:"failed_at,omitempty"`
	ErrorDetails map[string]any `json:"error_details,omitempty"`

	// OpenedAt/ClickedAt track recipient engagement with a delivered
	// notification, feeding the responsiveness metrics.
	OpenedAt  *time.Time `json:"opened_at,omitempty"`
	ClickedAt *time.Time `json:"clicked_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewNotification constructs a pending notification with default retry metadata.
func NewNotification(typ NotificationType, priority Priority, content Content, recipients []Recipient, channels []Channel) *Notification {
	now := time.Now().UTC()
	return &Notification{
		ID:         uuid.New(),
		Type:       typ,
		Priority:   priority,
		Content:    content,
		Recipients: recipients,
		Channels:   DedupeChannels(channels),
		Status:     StatusPending,
		RetryMeta: RetryMetadata{
			MaxRetries:        3,
			CurrentAttempt:    0,
			BackoffMultiplier: 2.0,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the creation-time invariants.
func (n *Notification) Validate() error {
	var errs []ValidationError

	if len(n.Recipients) == 0 {
		errs = append(errs, NewValidationError("recipients", ErrEmptyRecipients.Error()))
	}
	if len(n.Recipients) > MaxRecipients {
		errs = append(errs, NewValidationError("recipients", ErrTooManyRecipients.Error()))
	}
	seen := make(map[string]bool, len(n.Recipients))
	for _, r := range n.Recipients {
		if seen[r.UserID] {
			errs = append(errs, NewValidationError("recipients", ErrDuplicateRecipient.Error()))
			break
		}
		seen[r.UserID] = true
	}

	if len(n.Channels) == 0 {
		errs = append(errs, NewValidationError("channels", ErrEmptyChannels.Error()))
	}
	for _, c := range n.Channels {
		if !c.IsValid() {
			errs = append(errs, NewValidationError("channels", "unknown channel: "+string(c)))
		}
	}

	if !n.Type.IsValid() {
		errs = append(errs, NewValidationError("type", "unknown notification type"))
	}
	if !n.Priority.IsValid() {
		errs = append(errs, NewValidationError("priority", "unknown priority"))
	}
	if n.Content.Subject == "" && n.Content.TemplateID == nil {
		errs = append(errs, NewValidationError("content.subject", "subject is required"))
	}

	if len(errs) > 0 {
		return ValidationErrors{Errors: errs}
	}
	return nil
}

// IsExpired reports whether the notification's expiry has already passed.
func (n *Notification) IsExpired(now time.Time) bool {
	return n.ExpiresAt != nil && n.ExpiresAt.Before(now)
}

// CanRetry reports whether another attempt is allowed by the retry budget.
func (n *Notification) CanRetry() bool {
	return n.RetryMeta.CurrentAttempt < n.RetryMeta.MaxRetries
}

func (n *Notification) MarkProcessing() {
	n.Status = StatusProcessing
	n.UpdatedAt = time.Now().UTC()
}

func (n *Notification) MarkSent() {
	n.Status = StatusSent
	now := time.Now().UTC()
	n.SentAt = &now
	n.UpdatedAt = now
}

func (n *Notification) MarkDelivered() {
	n.Status = StatusDelivered
	now := time.Now().UTC()
	n.DeliveredAt = &now
	n.UpdatedAt = now
}

func (n *Notification) MarkFailed(errDetails map[string]any) {
	n.Status = StatusFailed
	now := time.Now().UTC()
	n.FailedAt = &now
	n.ErrorDetails = errDetails
	n.UpdatedAt = now
}

func (n *Notification) MarkCancelled() {
	n.Status = StatusCancelled
	n.UpdatedAt = time.Now().UTC()
}

// MarkPendingForRetry reverts processing -> pending with updated retry bookkeeping.
func (n *Notification) MarkPendingForRetry(nextRetryAt time.Time, lastErr string) {
	n.Status = StatusPending
	n.RetryMeta.CurrentAttempt++
	n.RetryMeta.NextRetryAt = &nextRetryAt
	n.RetryMeta.LastError = lastErr
	n.UpdatedAt = time.Now().UTC()
}

func (n *Notification) CanCancel() bool {
	return n.Status == StatusPending || n.Status == StatusProcessing
}

// MarkOpened records the first time a recipient opened a delivered
// notification. Repeated calls are no-ops; open time is first-touch only.
func (n *Notification) MarkOpened() {
	if n.OpenedAt != nil {
		return
	}
	now := time.Now().UTC()
	n.OpenedAt = &now
	n.UpdatedAt = now
}

// MarkClicked records the first time a recipient acted on a notification
// action. Implies an open if one wasn't already recorded.
func (n *Notification) MarkClicked() {
	now := time.Now().UTC()
	if n.OpenedAt == nil {
		n.OpenedAt = &now
	}
	if n.ClickedAt == nil {
		n.ClickedAt = &now
	}
	n.UpdatedAt = now
}

// Filter describes the query filters accepted by NotificationRepository.List.
type Filter struct {
	UserID         string
	Status         *Status
	Channel        *Channel
	Priority       *Priority
	NotificationType *NotificationType
	DateFrom       *time.Time
	DateTo         *time.Time
	SearchTerm     string
	SortBy         string // created_at | status | channel
	SortDescending bool
	Page           int
	PageSize       int
}

// ListResult is a page of notifications plus pagination metadata.
type ListResult struct {
	Items       []*Notification `json:"items"`
	CurrentPage int             `json:"current_page"`
	PageSize    int             `json:"page_size"`
	TotalItems  int64           `json:"total_items"`
	TotalPages  int             `json:"total_pages"`
	HasNext     bool            `json:"has_next"`
	HasPrevious bool             `json:"has_previous"`
}

// NotificationRepository persists notification records.
type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
	CreateBatch(ctx context.Context, notifications []*Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	GetByBatchID(ctx context.Context, batchID uuid.UUID) ([]*Notification, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Notification, error)
	Update(ctx context.Context, n *Notification) error
	CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error)
	List(ctx context.Context, filter Filter) (*ListResult, error)
	GetPendingBatch(ctx context.Context, criticalLimit, totalLimit int, now time.Time) ([]*Notification, error)
	GetDueRetries(ctx context.Context, now time.Time, limit int) ([]*Notification, error)
	MarkOpened(ctx context.Context, id uuid.UUID) error
	MarkClicked(ctx context.Context, id uuid.UUID) error
}
