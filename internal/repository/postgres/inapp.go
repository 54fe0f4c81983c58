package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/insider-one/notification-engine/internal/domain"
)

// InAppRepository implements domain.InAppRepository using PostgreSQL.
type InAppRepository struct {
	db *DB
}

func NewInAppRepository(db *DB) *InAppRepository {
	return &InAppRepository{db: db}
}

const inAppColumns = `
	id, notification_id, recipient_id, subject, body, preview, html_body,
	priority, icon, color, show_badge, show_popup, actions, status,
	group_key, group_count, is_grouped, created_at, expires_at, read_at, dismissed_at`

func (r *InAppRepository) Insert(ctx context.Context, item domain.InAppItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	actions, _ := json.Marshal(item.Actions)

	query := `
		INSERT INTO in_app_items (` + inAppColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		item.ID, item.NotificationID, item.RecipientID, item.Subject, item.Body, item.Preview, item.HTMLBody,
		item.Priority, item.Display.Icon, item.Display.Color, item.Display.ShowBadge, item.Display.ShowPopup, actions, item.Status,
		item.GroupKey, item.GroupCount, item.IsGrouped, item.CreatedAt, item.ExpiresAt, item.ReadAt, item.DismissedAt,
	)
	if err != nil {
		return fmt.Errorf("insert in-app item: %w", err)
	}
	return nil
}

func scanInAppItem(row rowScanner) (domain.InAppItem, error) {
	var item domain.InAppItem
	var actions []byte
	err := row.Scan(
		&item.ID, &item.NotificationID, &item.RecipientID, &item.Subject, &item.Body, &item.Preview, &item.HTMLBody,
		&item.Priority, &item.Display.Icon, &item.Display.Color, &item.Display.ShowBadge, &item.Display.ShowPopup, &actions, &item.Status,
		&item.GroupKey, &item.GroupCount, &item.IsGrouped, &item.CreatedAt, &item.ExpiresAt, &item.ReadAt, &item.DismissedAt,
	)
	if err != nil {
		return item, err
	}
	if len(actions) > 0 {
		json.Unmarshal(actions, &item.Actions)
	}
	return item, nil
}

func (r *InAppRepository) ListForUser(ctx context.Context, recipientID string, unreadOnly bool, page, pageSize int) ([]domain.InAppItem, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	whereClause := "recipient_id = $1"
	if unreadOnly {
		whereClause += " AND status = 'unread'"
	}

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM in_app_items WHERE %s", whereClause)
	if err := r.db.Pool.QueryRow(ctx, countQuery, recipientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count in-app items: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM in_app_items WHERE %s ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, inAppColumns, whereClause)

	rows, err := r.db.Pool.Query(ctx, query, recipientID, pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query in-app items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.InAppItem, 0)
	for rows.Next() {
		item, err := scanInAppItem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan in-app item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate in-app items: %w", err)
	}

	return items, total, nil
}

func (r *InAppRepository) MarkRead(ctx context.Context, id uuid.UUID, recipientID string) error {
	query := `UPDATE in_app_items SET status = 'read', read_at = now() WHERE id = $1 AND recipient_id = $2 AND status = 'unread'`
	result, err := r.db.Pool.Exec(ctx, query, id, recipientID)
	if err != nil {
		return fmt.Errorf("mark in-app item read: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *InAppRepository) MarkDismissed(ctx context.Context, id uuid.UUID, recipientID string) error {
	query := `UPDATE in_app_items SET status = 'dismissed', dismissed_at = now() WHERE id = $1 AND recipient_id = $2`
	result, err := r.db.Pool.Exec(ctx, query, id, recipientID)
	if err != nil {
		return fmt.Errorf("mark in-app item dismissed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// EvictOldest trims a recipient's inbox down to `keep` items, deleting the
// oldest first.
func (r *InAppRepository) EvictOldest(ctx context.Context, recipientID string, keep int) error {
	query := `
		DELETE FROM in_app_items
		WHERE id IN (
			SELECT id FROM in_app_items
			WHERE recipient_id = $1
			ORDER BY created_at DESC
			OFFSET $2
		)
	`
	_, err := r.db.Pool.Exec(ctx, query, recipientID, keep)
	if err != nil {
		return fmt.Errorf("evict oldest in-app items: %w", err)
	}
	return nil
}

func (r *InAppRepository) CountActiveGroup(ctx context.Context, recipientID, groupKey string, excludeID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM in_app_items
		WHERE recipient_id = $1 AND group_key = $2 AND id != $3 AND status IN ('unread','read')
	`
	var count int
	if err := r.db.Pool.QueryRow(ctx, query, recipientID, groupKey, excludeID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active in-app group: %w", err)
	}
	return count, nil
}

func (r *InAppRepository) MarkGroupGrouped(ctx context.Context, recipientID, groupKey string, excludeID uuid.UUID) error {
	query := `
		UPDATE in_app_items SET is_grouped = true, group_count = group_count + 1
		WHERE recipient_id = $1 AND group_key = $2
	`
	if _, err := r.db.Pool.Exec(ctx, query, recipientID, groupKey); err != nil {
		return fmt.Errorf("mark in-app group grouped: %w", err)
	}
	return nil
}

func (r *InAppRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM in_app_items WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired in-app items: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *InAppRepository) AutoMarkRead(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE in_app_items SET status = 'read', read_at = now()
		WHERE status = 'unread' AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("auto-mark-read in-app items: %w", err)
	}
	return tag.RowsAffected(), nil
}
