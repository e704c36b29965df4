package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const notificationColumns = `
	id, learner_id, type, title, body, assessment_id, status, expires_at, created_at
`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(
		&n.ID,
		&n.LearnerID,
		&n.Type,
		&n.Title,
		&n.Body,
		&n.AssessmentID,
		&n.Status,
		&n.ExpiresAt,
		&n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// GetNotification retrieves a notification by ID
func (r *Repository) GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	n, err := scanNotification(r.db.Pool().QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}

	return n, nil
}

// ListNotifications returns the learner's inbox: dismissed rows and rows
// past their expiry are excluded, newest first.
func (r *Repository) ListNotifications(ctx context.Context, learnerID uuid.UUID, now time.Time, limit, offset int) ([]*Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE learner_id = $1
		  AND status <> $2
		  AND (expires_at IS NULL OR expires_at > $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`

	rows, err := r.db.Pool().Query(ctx, query, learnerID, NotificationDismissed, now, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// MarkNotificationRead transitions unread -> read. Any other starting
// status is left alone and reported as ErrNotFound.
func (r *Repository) MarkNotificationRead(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE notifications SET status = $1 WHERE id = $2 AND status = $3`

	tag, err := r.db.Pool().Exec(ctx, query, NotificationRead, id, NotificationUnread)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s not unread: %w", id, ErrNotFound)
	}

	return nil
}

// MarkNotificationDismissed transitions unread or read -> dismissed.
// Dismissing does not require reading first.
func (r *Repository) MarkNotificationDismissed(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE notifications SET status = $1 WHERE id = $2 AND status IN ($3, $4)`

	tag, err := r.db.Pool().Exec(ctx, query, NotificationDismissed, id, NotificationUnread, NotificationRead)
	if err != nil {
		return fmt.Errorf("mark notification dismissed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s not dismissable: %w", id, ErrNotFound)
	}

	return nil
}
