package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const deliveryColumns = `
	id, notification_id, recipient, subject, body, status,
	attempts, max_attempts, last_error, next_attempt_at, created_at, updated_at
`

func scanDelivery(row pgx.Row) (*DeliveryEntry, error) {
	var e DeliveryEntry
	err := row.Scan(
		&e.ID,
		&e.NotificationID,
		&e.Recipient,
		&e.Subject,
		&e.Body,
		&e.Status,
		&e.Attempts,
		&e.MaxAttempts,
		&e.LastError,
		&e.NextAttemptAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListDueDeliveries returns up to limit pending or retry entries whose
// next attempt time has passed, oldest first.
func (r *Repository) ListDueDeliveries(ctx context.Context, now time.Time, limit int) ([]*DeliveryEntry, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM delivery_queue
		WHERE status IN ($1, $2)
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $3)
		ORDER BY created_at ASC
		LIMIT $4
	`

	rows, err := r.db.Pool().Query(ctx, query, DeliveryPending, DeliveryRetry, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due deliveries: %w", err)
	}
	defer rows.Close()

	var entries []*DeliveryEntry
	for rows.Next() {
		e, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// MarkDeliverySent records a successful send.
func (r *Repository) MarkDeliverySent(ctx context.Context, id uuid.UUID, attempts int) error {
	query := `
		UPDATE delivery_queue
		SET status = $1, attempts = $2, last_error = NULL, next_attempt_at = NULL, updated_at = NOW()
		WHERE id = $3
	`

	tag, err := r.db.Pool().Exec(ctx, query, DeliverySent, attempts, id)
	if err != nil {
		return fmt.Errorf("mark delivery sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delivery entry %s: %w", id, ErrNotFound)
	}

	return nil
}

// MarkDeliveryRetry records a failed attempt and schedules the next one.
func (r *Repository) MarkDeliveryRetry(ctx context.Context, id uuid.UUID, attempts int, lastError string, nextAttemptAt time.Time) error {
	query := `
		UPDATE delivery_queue
		SET status = $1, attempts = $2, last_error = $3, next_attempt_at = $4, updated_at = NOW()
		WHERE id = $5
	`

	tag, err := r.db.Pool().Exec(ctx, query, DeliveryRetry, attempts, lastError, nextAttemptAt, id)
	if err != nil {
		return fmt.Errorf("mark delivery retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delivery entry %s: %w", id, ErrNotFound)
	}

	return nil
}

// MarkDeliveryFailed retires an entry whose attempts are exhausted and
// writes the matching audit record in one transaction. The in-app
// notification already exists, so a permanent email failure is surfaced
// only through the audit trail.
func (r *Repository) MarkDeliveryFailed(ctx context.Context, entry *DeliveryEntry, lastError string) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	update := `
		UPDATE delivery_queue
		SET status = $1, attempts = $2, last_error = $3, next_attempt_at = NULL, updated_at = NOW()
		WHERE id = $4
	`
	if _, err := tx.Exec(ctx, update, DeliveryFailed, entry.Attempts, lastError, entry.ID); err != nil {
		return fmt.Errorf("mark delivery failed: %w", err)
	}

	var learnerID *uuid.UUID
	var assessmentID *uuid.UUID
	lookup := `SELECT learner_id, assessment_id FROM notifications WHERE id = $1`
	if err := tx.QueryRow(ctx, lookup, entry.NotificationID).Scan(&learnerID, &assessmentID); err != nil && err != pgx.ErrNoRows {
		return fmt.Errorf("lookup notification: %w", err)
	}

	detail, _ := json.Marshal(map[string]any{
		"delivery_entry_id": entry.ID.String(),
		"notification_id":   entry.NotificationID.String(),
		"attempts":          entry.Attempts,
		"last_error":        lastError,
	})
	insertAudit := `
		INSERT INTO audit_records (id, action, assessment_id, learner_id, detail)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.Exec(ctx, insertAudit, uuid.New(), AuditFailed, assessmentID, learnerID, detail); err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Warn("delivery entry permanently failed",
		zap.String("delivery_entry_id", entry.ID.String()),
		zap.Int("attempts", entry.Attempts),
		zap.String("last_error", lastError),
	)

	return nil
}

// ListFailedDeliveries returns permanently failed entries for ops tooling,
// newest first.
func (r *Repository) ListFailedDeliveries(ctx context.Context, limit, offset int) ([]*DeliveryEntry, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM delivery_queue
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, DeliveryFailed, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query failed deliveries: %w", err)
	}
	defer rows.Close()

	var entries []*DeliveryEntry
	for rows.Next() {
		e, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
