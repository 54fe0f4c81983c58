package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/insider-one/notification-engine/internal/domain"
)

// AuditRepository implements domain.AuditRepository using PostgreSQL.
type AuditRepository struct {
	db *DB
}

func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Record(ctx context.Context, entry domain.AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	details, _ := json.Marshal(entry.Details)

	query := `
		INSERT INTO audit_entries (id, event_type, notification_id, actor_id, details, correlation_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		entry.ID, entry.EventType, entry.NotificationID, entry.ActorID, details, entry.CorrelationID, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
	conditions := []string{"1=1"}
	args := []any{}
	argIndex := 1

	add := func(cond string, val any) {
		conditions = append(conditions, fmt.Sprintf(cond, argIndex))
		args = append(args, val)
		argIndex++
	}

	if filter.EventType != nil {
		add("event_type = $%d", *filter.EventType)
	}
	if filter.NotificationID != nil {
		add("notification_id = $%d", *filter.NotificationID)
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at <= $%d", *filter.To)
	}
	whereClause := strings.Join(conditions, " AND ")

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_entries WHERE %s", whereClause)
	if err := r.db.Pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := fmt.Sprintf(`
		SELECT id, event_type, notification_id, actor_id, details, correlation_id, created_at
		FROM audit_entries WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d
	`, whereClause, argIndex, argIndex+1)
	args = append(args, pageSize, offset)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.AuditEntry, 0)
	for rows.Next() {
		var e domain.AuditEntry
		var details []byte
		if err := rows.Scan(&e.ID, &e.EventType, &e.NotificationID, &e.ActorID, &details, &e.CorrelationID, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		if len(details) > 0 {
			json.Unmarshal(details, &e.Details)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit entries: %w", err)
	}

	return entries, total, nil
}

// DeleteOlderThan removes audit entries created before cutoff, returning the
// number of rows removed.
func (r *AuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM audit_entries WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old audit entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *AuditRepository) RecordSecurityEvent(ctx context.Context, event domain.SecurityEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	details, _ := json.Marshal(event.Details)

	query := `
		INSERT INTO security_events (id, kind, severity, recipient_id, details, detected_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`
	_, err := r.db.Pool.Exec(ctx, query, event.ID, event.Kind, event.Severity, event.RecipientID, details, event.DetectedAt)
	if err != nil {
		return fmt.Errorf("record security event: %w", err)
	}
	return nil
}
