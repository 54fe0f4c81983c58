package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/insider-one/notification-engine/internal/domain"
)

// NotificationRepository implements domain.NotificationRepository using PostgreSQL.
type NotificationRepository struct {
	db *DB
}

func NewNotificationRepository(db *DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const notificationColumns = `
	id, type, priority, content, recipients, channels, scheduled_at, expires_at,
	correlation_id, source_service, created_by, context, idempotency_key, batch_id,
	status, retry_metadata, sent_at, delivered_at, failed_at, error_details,
	opened_at, clicked_at, created_at, updated_at`

func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	content, _ := json.Marshal(n.Content)
	recipients, _ := json.Marshal(n.Recipients)
	channels, _ := json.Marshal(n.Channels)
	ctxData, _ := json.Marshal(n.Context)
	retryMeta, _ := json.Marshal(n.RetryMeta)
	errDetails, _ := json.Marshal(n.ErrorDetails)

	query := `
		INSERT INTO notifications (
			id, type, priority, content, recipients, channels, scheduled_at, expires_at,
			correlation_id, source_service, created_by, context, idempotency_key, batch_id,
			status, retry_metadata, sent_at, delivered_at, failed_at, error_details,
			created_at, updated_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22
		)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		n.ID, n.Type, n.Priority, content, recipients, channels, n.ScheduledAt, n.ExpiresAt,
		n.CorrelationID, n.SourceService, n.CreatedBy, ctxData, n.IdempotencyKey, n.BatchID,
		n.Status, retryMeta, n.SentAt, n.DeliveredAt, n.FailedAt, errDetails,
		n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") && strings.Contains(err.Error(), "idempotency_key") {
			return domain.ErrIdempotencyConflict
		}
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (r *NotificationRepository) CreateBatch(ctx context.Context, notifications []*domain.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, n := range notifications {
		if err := r.createTx(ctx, tx, n); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (r *NotificationRepository) createTx(ctx context.Context, tx pgx.Tx, n *domain.Notification) error {
	content, _ := json.Marshal(n.Content)
	recipients, _ := json.Marshal(n.Recipients)
	channels, _ := json.Marshal(n.Channels)
	ctxData, _ := json.Marshal(n.Context)
	retryMeta, _ := json.Marshal(n.RetryMeta)
	errDetails, _ := json.Marshal(n.ErrorDetails)

	query := `
		INSERT INTO notifications (
			id, type, priority, content, recipients, channels, scheduled_at, expires_at,
			correlation_id, source_service, created_by, context, idempotency_key, batch_id,
			status, retry_metadata, sent_at, delivered_at, failed_at, error_details,
			created_at, updated_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22
		)
	`
	_, err := tx.Exec(ctx, query,
		n.ID, n.Type, n.Priority, content, recipients, channels, n.ScheduledAt, n.ExpiresAt,
		n.CorrelationID, n.SourceService, n.CreatedBy, ctxData, n.IdempotencyKey, n.BatchID,
		n.Status, retryMeta, n.SentAt, n.DeliveredAt, n.FailedAt, errDetails,
		n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") && strings.Contains(err.Error(), "idempotency_key") {
			return domain.ErrIdempotencyConflict
		}
		return fmt.Errorf("create notification in batch: %w", err)
	}
	return nil
}

func (r *NotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

func (r *NotificationRepository) GetByBatchID(ctx context.Context, batchID uuid.UUID) ([]*domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE batch_id = $1 ORDER BY created_at ASC`
	return r.scanMany(ctx, query, batchID)
}

func (r *NotificationRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE idempotency_key = $1`
	return r.scanOne(ctx, query, key)
}

func (r *NotificationRepository) Update(ctx context.Context, n *domain.Notification) error {
	content, _ := json.Marshal(n.Content)
	recipients, _ := json.Marshal(n.Recipients)
	channels, _ := json.Marshal(n.Channels)
	ctxData, _ := json.Marshal(n.Context)
	retryMeta, _ := json.Marshal(n.RetryMeta)
	errDetails, _ := json.Marshal(n.ErrorDetails)

	query := `
		UPDATE notifications SET
			type=$2, priority=$3, content=$4, recipients=$5, channels=$6, scheduled_at=$7,
			expires_at=$8, correlation_id=$9, context=$10, batch_id=$11, status=$12,
			retry_metadata=$13, sent_at=$14, delivered_at=$15, failed_at=$16,
			error_details=$17, opened_at=$18, clicked_at=$19, updated_at=$20
		WHERE id = $1
	`
	result, err := r.db.Pool.Exec(ctx, query,
		n.ID, n.Type, n.Priority, content, recipients, channels, n.ScheduledAt,
		n.ExpiresAt, n.CorrelationID, ctxData, n.BatchID, n.Status,
		retryMeta, n.SentAt, n.DeliveredAt, n.FailedAt, errDetails,
		n.OpenedAt, n.ClickedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkOpened records a first-touch open timestamp, scoped by a NULL guard so
// repeated calls from duplicate tracking pixels don't overwrite the
// original open time.
func (r *NotificationRepository) MarkOpened(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE notifications SET opened_at = $2, updated_at = $2 WHERE id = $1 AND opened_at IS NULL`
	_, err := r.db.Pool.Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark notification opened: %w", err)
	}
	return nil
}

// MarkClicked records a first-touch click timestamp, backfilling opened_at
// if the open event was never separately tracked.
func (r *NotificationRepository) MarkClicked(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	query := `
		UPDATE notifications SET
			opened_at = COALESCE(opened_at, $2),
			clicked_at = COALESCE(clicked_at, $2),
			updated_at = $2
		WHERE id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("mark notification clicked: %w", err)
	}
	return nil
}

// CompareAndSwapStatus implements the status-transition serialization
// guarantee: a losing writer's update affects zero rows and is
// reported back as a no-op rather than an error.
func (r *NotificationRepository) CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from, to domain.Status) (bool, error) {
	query := `UPDATE notifications SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	result, err := r.db.Pool.Exec(ctx, query, id, from, to, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("compare-and-swap status: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func (r *NotificationRepository) List(ctx context.Context, filter domain.Filter) (*domain.ListResult, error) {
	conditions := []string{"1=1"}
	args := []any{}
	argIndex := 1

	add := func(cond string, val any) {
		conditions = append(conditions, fmt.Sprintf(cond, argIndex))
		args = append(args, val)
		argIndex++
	}

	if filter.UserID != "" {
		add("recipients @> $%d", fmt.Sprintf(`[{"user_id":"%s"}]`, filter.UserID))
	}
	if filter.Status != nil {
		add("status = $%d", *filter.Status)
	}
	if filter.Channel != nil {
		add("channels @> $%d", fmt.Sprintf(`["%s"]`, *filter.Channel))
	}
	if filter.Priority != nil {
		add("priority = $%d", *filter.Priority)
	}
	if filter.NotificationType != nil {
		add("type = $%d", *filter.NotificationType)
	}
	if filter.DateFrom != nil {
		add("created_at >= $%d", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		add("created_at <= $%d", *filter.DateTo)
	}
	if filter.SearchTerm != "" {
		conditions = append(conditions, fmt.Sprintf("(content->>'subject' ILIKE $%d OR content->>'body' ILIKE $%d)", argIndex, argIndex))
		args = append(args, "%"+filter.SearchTerm+"%")
		argIndex++
	}

	whereClause := strings.Join(conditions, " AND ")

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM notifications WHERE %s", whereClause)
	if err := r.db.Pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	sortBy := "created_at"
	switch filter.SortBy {
	case "status", "channel":
		sortBy = filter.SortBy
	}
	direction := "ASC"
	if filter.SortDescending {
		direction = "DESC"
	}

	query := fmt.Sprintf(`
		SELECT %s FROM notifications
		WHERE %s
		ORDER BY %s %s, created_at DESC
		LIMIT $%d OFFSET $%d
	`, notificationColumns, whereClause, sortBy, direction, argIndex, argIndex+1)

	args = append(args, pageSize, offset)
	items, err := r.scanMany(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	return &domain.ListResult{
		Items:       items,
		CurrentPage: page,
		PageSize:    pageSize,
		TotalItems:  total,
		TotalPages:  totalPages,
		HasNext:     page < totalPages,
		HasPrevious: page > 1,
	}, nil
}

func (r *NotificationRepository) GetPendingBatch(ctx context.Context, criticalLimit, totalLimit int, now time.Time) ([]*domain.Notification, error) {
	criticalQuery := fmt.Sprintf(`
		SELECT %s FROM notifications
		WHERE status = 'pending' AND priority = 'critical' AND (scheduled_at IS NULL OR scheduled_at <= $1)
			AND retry_metadata->>'next_retry_at' IS NULL
		ORDER BY created_at ASC
		LIMIT $2
	`, notificationColumns)
	critical, err := r.scanMany(ctx, criticalQuery, now, criticalLimit)
	if err != nil {
		return nil, err
	}

	remaining := totalLimit - len(critical)
	if remaining <= 0 {
		return critical, nil
	}

	restQuery := fmt.Sprintf(`
		SELECT %s FROM notifications
		WHERE status = 'pending' AND priority != 'critical' AND (scheduled_at IS NULL OR scheduled_at <= $1)
			AND retry_metadata->>'next_retry_at' IS NULL
		ORDER BY created_at ASC
		LIMIT $2
	`, notificationColumns)
	rest, err := r.scanMany(ctx, restQuery, now, remaining)
	if err != nil {
		return nil, err
	}

	return append(critical, rest...), nil
}

func (r *NotificationRepository) GetDueRetries(ctx context.Context, now time.Time, limit int) ([]*domain.Notification, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM notifications
		WHERE status = 'pending' AND retry_metadata->>'next_retry_at' IS NOT NULL
			AND (retry_metadata->>'next_retry_at')::timestamptz <= $1
		ORDER BY created_at ASC
		LIMIT $2
	`, notificationColumns)
	return r.scanMany(ctx, query, now, limit)
}

func (r *NotificationRepository) scanOne(ctx context.Context, query string, args ...any) (*domain.Notification, error) {
	row := r.db.Pool.QueryRow(ctx, query, args...)
	n, err := scanNotificationRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan notification: %w", err)
	}
	return n, nil
}

func (r *NotificationRepository) scanMany(ctx context.Context, query string, args ...any) ([]*domain.Notification, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Notification, 0)
	for rows.Next() {
		n, err := scanNotificationRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification row: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotificationRow(row rowScanner) (*domain.Notification, error) {
	n := &domain.Notification{}
	var content, recipients, channels, ctxData, retryMeta, errDetails []byte

	err := row.Scan(
		&n.ID, &n.Type, &n.Priority, &content, &recipients, &channels, &n.ScheduledAt, &n.ExpiresAt,
		&n.CorrelationID, &n.SourceService, &n.CreatedBy, &ctxData, &n.IdempotencyKey, &n.BatchID,
		&n.Status, &retryMeta, &n.SentAt, &n.DeliveredAt, &n.FailedAt, &errDetails,
		&n.OpenedAt, &n.ClickedAt, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	json.Unmarshal(content, &n.Content)
	json.Unmarshal(recipients, &n.Recipients)
	json.Unmarshal(channels, &n.Channels)
	if len(ctxData) > 0 {
		json.Unmarshal(ctxData, &n.Context)
	}
	json.Unmarshal(retryMeta, &n.RetryMeta)
	if len(errDetails) > 0 {
		json.Unmarshal(errDetails, &n.ErrorDetails)
	}

	return n, nil
}
