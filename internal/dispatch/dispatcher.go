// Package dispatch turns due scheduled reminders into notifications and
// queued outbound email. At-most-once per reminder is enforced by the
// store's conditional pending -> sent transition; the Redis claim service,
// when present, only reduces wasted work between concurrent workers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classpulse/classpulse/internal/catalog"
	"github.com/classpulse/classpulse/internal/metrics"
	"github.com/classpulse/classpulse/internal/store"
)

// Dispatch outcomes for metrics.
const (
	OutcomeSent    = "sent"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Repository is the slice of the store the dispatcher needs.
type Repository interface {
	GetReminder(ctx context.Context, id uuid.UUID) (*store.ScheduledReminder, error)
	GetPolicy(ctx context.Context, id uuid.UUID) (*store.ReminderPolicy, error)
	ListDueReminders(ctx context.Context, now time.Time, limit int) ([]*store.ScheduledReminder, error)
	DispatchReminder(ctx context.Context, reminderID uuid.UUID, now time.Time, notif *store.Notification, entry *store.DeliveryEntry) error
	MarkReminderFailed(ctx context.Context, rem *store.ScheduledReminder, reason string) error
}

// Claims leases reminders across workers. Optional.
type Claims interface {
	Acquire(ctx context.Context, reminderID uuid.UUID) (bool, error)
	Release(ctx context.Context, reminderID uuid.UUID) error
}

// Config holds dispatcher settings.
type Config struct {
	DeliveryMaxAttempts int
}

// Dispatcher processes individual due reminders.
type Dispatcher struct {
	repo      Repository
	catalog   catalog.Store
	directory catalog.Directory
	claims    Claims
	config    Config
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a Dispatcher. claims may be nil. now is injectable for tests;
// pass time.Now in production.
func New(repo Repository, cat catalog.Store, dir catalog.Directory, claims Claims, cfg Config, logger *zap.Logger, now func() time.Time) *Dispatcher {
	if cfg.DeliveryMaxAttempts == 0 {
		cfg.DeliveryMaxAttempts = 3
	}
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		repo:      repo,
		catalog:   cat,
		directory: dir,
		claims:    claims,
		config:    cfg,
		logger:    logger,
		now:       now,
	}
}

// ProcessReminder dispatches one reminder: re-validates it is still pending,
// renders the notification, and commits the atomic unit (notification,
// optional delivery entry, sent transition, audit). Returns the created
// notification id, or nil for benign no-ops (already handled, submitted in
// the meantime, lost the claim).
//
// A reminder whose catalog context is gone is marked failed with an audit
// record; the error is swallowed so one bad record never halts a batch.
func (d *Dispatcher) ProcessReminder(ctx context.Context, reminderID uuid.UUID) (*uuid.UUID, error) {
	rem, err := d.repo.GetReminder(ctx, reminderID)
	if err != nil {
		return nil, fmt.Errorf("load reminder: %w", err)
	}

	if rem.Status != store.ReminderPending {
		metrics.RecordReminderDispatched(OutcomeSkipped)
		return nil, nil
	}

	if d.claims != nil {
		ok, err := d.claims.Acquire(ctx, reminderID)
		if err != nil {
			// Redis down: fall through, the conditional update still protects us.
			d.logger.Warn("claim service unavailable", zap.Error(err))
		} else if !ok {
			metrics.RecordReminderDispatched(OutcomeSkipped)
			return nil, nil
		}
	}

	notifID, err := d.process(ctx, rem)
	if err != nil || notifID == nil {
		// Nothing was sent; free the claim so the next sweep can retry.
		d.releaseClaim(ctx, reminderID)
	}
	return notifID, err
}

func (d *Dispatcher) process(ctx context.Context, rem *store.ScheduledReminder) (*uuid.UUID, error) {
	now := d.now()

	a, err := d.catalog.Assessment(ctx, rem.AssessmentID)
	if errors.Is(err, catalog.ErrNotFound) {
		d.fail(ctx, rem, "assessment no longer exists")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load assessment: %w", err)
	}

	if !a.Open(now) {
		// Reconciliation will cancel these; nothing to send now.
		metrics.RecordReminderDispatched(OutcomeSkipped)
		return nil, nil
	}

	submitted, err := d.catalog.HasSubmitted(ctx, rem.LearnerID, rem.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("check submission: %w", err)
	}
	if submitted {
		// Final defense: never remind a learner who already submitted.
		metrics.RecordReminderDispatched(OutcomeSkipped)
		return nil, nil
	}

	contact, err := d.directory.LearnerContact(ctx, rem.LearnerID)
	if errors.Is(err, catalog.ErrNotFound) {
		d.fail(ctx, rem, "learner contact missing")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load learner contact: %w", err)
	}

	policy, err := d.repo.GetPolicy(ctx, rem.PolicyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			d.fail(ctx, rem, "reminder policy missing")
			return nil, nil
		}
		return nil, fmt.Errorf("load policy: %w", err)
	}

	rendered := Render(policy, a, contact)

	dueAt := a.DueAt
	notif := &store.Notification{
		ID:           uuid.New(),
		LearnerID:    rem.LearnerID,
		Type:         store.NotificationReminder,
		Title:        rendered.Title,
		Body:         rendered.Body,
		AssessmentID: &rem.AssessmentID,
		Status:       store.NotificationUnread,
		ExpiresAt:    &dueAt,
	}

	var entry *store.DeliveryEntry
	if contact.WantsEmail() {
		entry = &store.DeliveryEntry{
			ID:             uuid.New(),
			NotificationID: notif.ID,
			Recipient:      contact.Email,
			Subject:        rendered.Title,
			Body:           rendered.EmailBody,
			Status:         store.DeliveryPending,
			Attempts:       0,
			MaxAttempts:    d.config.DeliveryMaxAttempts,
		}
	}

	err = d.repo.DispatchReminder(ctx, rem.ID, now, notif, entry)
	if errors.Is(err, store.ErrNotPending) {
		// Another dispatcher won, or a submission cancelled the reminder
		// between selection and now.
		metrics.RecordReminderDispatched(OutcomeSkipped)
		return nil, nil
	}
	if err != nil {
		// Left pending: the next sweep retries it.
		return nil, fmt.Errorf("dispatch reminder: %w", err)
	}

	metrics.RecordReminderDispatched(OutcomeSent)
	d.logger.Info("reminder dispatched",
		zap.String("reminder_id", rem.ID.String()),
		zap.String("learner_id", rem.LearnerID.String()),
		zap.String("assessment_id", rem.AssessmentID.String()),
		zap.Bool("email_enqueued", entry != nil),
	)

	return &notif.ID, nil
}

// fail marks a reminder permanently failed; losing the race to another
// transition is fine.
func (d *Dispatcher) fail(ctx context.Context, rem *store.ScheduledReminder, reason string) {
	err := d.repo.MarkReminderFailed(ctx, rem, reason)
	if err != nil && !errors.Is(err, store.ErrNotPending) {
		d.logger.Error("failed to mark reminder failed",
			zap.Error(err),
			zap.String("reminder_id", rem.ID.String()),
		)
		return
	}
	metrics.RecordReminderDispatched(OutcomeFailed)
}

func (d *Dispatcher) releaseClaim(ctx context.Context, reminderID uuid.UUID) {
	if d.claims == nil {
		return
	}
	if err := d.claims.Release(ctx, reminderID); err != nil {
		d.logger.Warn("failed to release reminder claim",
			zap.Error(err),
			zap.String("reminder_id", reminderID.String()),
		)
	}
}
