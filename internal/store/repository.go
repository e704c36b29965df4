package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotPending indicates a conditional transition lost the race: the
	// reminder was no longer pending when the update ran.
	ErrNotPending = errors.New("reminder is not pending")
)

// Repository handles database operations for the reminder core
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const reminderColumns = `
	id, assessment_id, learner_id, policy_id, fire_at, status,
	dispatched_at, error_message, created_at, updated_at
`

func scanReminder(row pgx.Row) (*ScheduledReminder, error) {
	var r ScheduledReminder
	err := row.Scan(
		&r.ID,
		&r.AssessmentID,
		&r.LearnerID,
		&r.PolicyID,
		&r.FireAt,
		&r.Status,
		&r.DispatchedAt,
		&r.ErrorMessage,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertPendingReminder inserts a pending reminder keyed on the
// (assessment, learner, policy) triple. A conflict with any existing row,
// whatever its status, is a no-op: re-running a reconciliation trigger
// with the same inputs never duplicates or resurrects a reminder.
// Returns true when a row was actually created.
func (r *Repository) UpsertPendingReminder(ctx context.Context, rem *ScheduledReminder) (bool, error) {
	query := `
		INSERT INTO scheduled_reminders (
			id, assessment_id, learner_id, policy_id, fire_at, status
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (assessment_id, learner_id, policy_id) DO NOTHING
	`

	tag, err := r.db.Pool().Exec(ctx, query,
		rem.ID,
		rem.AssessmentID,
		rem.LearnerID,
		rem.PolicyID,
		rem.FireAt,
		ReminderPending,
	)
	if err != nil {
		return false, fmt.Errorf("upsert reminder: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// RescheduleReminder is the due-date-change variant of the upsert: a
// conflicting pending or cancelled row is re-pointed at the new fire time
// and reset to pending. Sent and failed rows are terminal and stay put so
// a learner never receives the same policy's reminder twice.
// On conflict the existing row keeps its original id; the effective row id
// is written back into rem.ID so callers always reference a live row.
// Returns true when a pending row exists afterwards.
func (r *Repository) RescheduleReminder(ctx context.Context, rem *ScheduledReminder) (bool, error) {
	query := `
		INSERT INTO scheduled_reminders (
			id, assessment_id, learner_id, policy_id, fire_at, status
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (assessment_id, learner_id, policy_id) DO UPDATE SET
			fire_at = EXCLUDED.fire_at,
			status = EXCLUDED.status,
			dispatched_at = NULL,
			error_message = NULL,
			updated_at = NOW()
		WHERE scheduled_reminders.status IN ($7, $8)
		RETURNING id
	`

	err := r.db.Pool().QueryRow(ctx, query,
		rem.ID,
		rem.AssessmentID,
		rem.LearnerID,
		rem.PolicyID,
		rem.FireAt,
		ReminderPending,
		ReminderPending,
		ReminderCancelled,
	).Scan(&rem.ID)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reschedule reminder: %w", err)
	}

	return true, nil
}

// GetReminder retrieves a scheduled reminder by ID
func (r *Repository) GetReminder(ctx context.Context, id uuid.UUID) (*ScheduledReminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM scheduled_reminders WHERE id = $1`

	rem, err := scanReminder(r.db.Pool().QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("reminder %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query reminder: %w", err)
	}

	return rem, nil
}

// CancelPendingReminders transitions every pending reminder for the
// (assessment, learner) pair to cancelled and returns the affected ids.
func (r *Repository) CancelPendingReminders(ctx context.Context, assessmentID, learnerID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		UPDATE scheduled_reminders
		SET status = $1, updated_at = NOW()
		WHERE assessment_id = $2 AND learner_id = $3 AND status = $4
		RETURNING id
	`

	rows, err := r.db.Pool().Query(ctx, query, ReminderCancelled, assessmentID, learnerID, ReminderPending)
	if err != nil {
		return nil, fmt.Errorf("cancel pending reminders: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan cancelled id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// CancelAssessmentReminders transitions every pending reminder for the
// assessment to cancelled, across all learners, and returns the affected ids.
func (r *Repository) CancelAssessmentReminders(ctx context.Context, assessmentID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		UPDATE scheduled_reminders
		SET status = $1, updated_at = NOW()
		WHERE assessment_id = $2 AND status = $3
		RETURNING id
	`

	rows, err := r.db.Pool().Query(ctx, query, ReminderCancelled, assessmentID, ReminderPending)
	if err != nil {
		return nil, fmt.Errorf("cancel assessment reminders: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan cancelled id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// ListDueReminders returns up to limit pending reminders whose fire time has
// passed, whose assessment is still active, published and due in the future,
// and whose learner has not submitted. Oldest-due first so backlog staleness
// is bounded. Read-only: selection and dispatch are separate steps.
func (r *Repository) ListDueReminders(ctx context.Context, now time.Time, limit int) ([]*ScheduledReminder, error) {
	query := `
		SELECT
			r.id, r.assessment_id, r.learner_id, r.policy_id, r.fire_at, r.status,
			r.dispatched_at, r.error_message, r.created_at, r.updated_at
		FROM scheduled_reminders r
		JOIN assessments a ON a.id = r.assessment_id
		WHERE r.status = $1
		  AND r.fire_at <= $2
		  AND a.active AND a.published
		  AND a.due_at > $2
		  AND NOT EXISTS (
			SELECT 1 FROM submissions s
			WHERE s.assessment_id = r.assessment_id AND s.learner_id = r.learner_id
		  )
		ORDER BY r.fire_at ASC
		LIMIT $3
	`

	rows, err := r.db.Pool().Query(ctx, query, ReminderPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due reminders: %w", err)
	}
	defer rows.Close()

	var reminders []*ScheduledReminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		reminders = append(reminders, rem)
	}

	return reminders, rows.Err()
}

// NextPendingFireAt returns the earliest pending fire time for the
// (assessment, learner) pair, or nil when none remains.
func (r *Repository) NextPendingFireAt(ctx context.Context, assessmentID, learnerID uuid.UUID) (*time.Time, error) {
	query := `
		SELECT MIN(fire_at) FROM scheduled_reminders
		WHERE assessment_id = $1 AND learner_id = $2 AND status = $3
	`

	var next *time.Time
	err := r.db.Pool().QueryRow(ctx, query, assessmentID, learnerID, ReminderPending).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("query next fire time: %w", err)
	}

	return next, nil
}

// DispatchReminder performs the atomic dispatch unit: the conditional
// pending -> sent transition, the notification insert, the optional delivery
// queue insert, and the audit record, in one transaction. A reminder that is
// no longer pending returns ErrNotPending with nothing written, which is how
// exactly one of several concurrent dispatchers wins.
func (r *Repository) DispatchReminder(
	ctx context.Context,
	reminderID uuid.UUID,
	now time.Time,
	notif *Notification,
	entry *DeliveryEntry,
) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	transition := `
		UPDATE scheduled_reminders
		SET status = $1, dispatched_at = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`
	tag, err := tx.Exec(ctx, transition, ReminderSent, now, reminderID, ReminderPending)
	if err != nil {
		return fmt.Errorf("transition reminder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPending
	}

	insertNotif := `
		INSERT INTO notifications (
			id, learner_id, type, title, body, assessment_id, status, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, insertNotif,
		notif.ID,
		notif.LearnerID,
		notif.Type,
		notif.Title,
		notif.Body,
		notif.AssessmentID,
		notif.Status,
		notif.ExpiresAt,
	).Scan(&notif.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	if entry != nil {
		insertEntry := `
			INSERT INTO delivery_queue (
				id, notification_id, recipient, subject, body, status,
				attempts, max_attempts, next_attempt_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING created_at, updated_at
		`
		err = tx.QueryRow(ctx, insertEntry,
			entry.ID,
			entry.NotificationID,
			entry.Recipient,
			entry.Subject,
			entry.Body,
			entry.Status,
			entry.Attempts,
			entry.MaxAttempts,
			entry.NextAttemptAt,
		).Scan(&entry.CreatedAt, &entry.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert delivery entry: %w", err)
		}
	}

	detail, _ := json.Marshal(map[string]any{
		"notification_id": notif.ID.String(),
		"email_enqueued":  entry != nil,
	})
	insertAudit := `
		INSERT INTO audit_records (id, action, reminder_id, assessment_id, learner_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = tx.Exec(ctx, insertAudit,
		uuid.New(), AuditSent, reminderID, notif.AssessmentID, notif.LearnerID, detail,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Info("reminder dispatched",
		zap.String("reminder_id", reminderID.String()),
		zap.String("notification_id", notif.ID.String()),
		zap.Bool("email_enqueued", entry != nil),
	)

	return nil
}

// MarkReminderFailed moves a pending reminder to the terminal failed status
// and writes the matching audit record in one transaction. A reminder that
// already left pending returns ErrNotPending.
func (r *Repository) MarkReminderFailed(ctx context.Context, rem *ScheduledReminder, reason string) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	transition := `
		UPDATE scheduled_reminders
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`
	tag, err := tx.Exec(ctx, transition, ReminderFailed, reason, rem.ID, ReminderPending)
	if err != nil {
		return fmt.Errorf("mark reminder failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPending
	}

	detail, _ := json.Marshal(map[string]any{"reason": reason})
	insertAudit := `
		INSERT INTO audit_records (id, action, reminder_id, assessment_id, learner_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = tx.Exec(ctx, insertAudit,
		uuid.New(), AuditFailed, rem.ID, rem.AssessmentID, rem.LearnerID, detail,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Warn("reminder marked failed",
		zap.String("reminder_id", rem.ID.String()),
		zap.String("reason", reason),
	)

	return nil
}
