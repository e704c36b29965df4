// Package reconcile keeps the persisted reminder schedule consistent with
// the catalog. It reacts to four collaborator events: assessment created,
// assessment updated, learner enrolled, submission recorded. Handlers are
// stateless and safely re-invocable; idempotency comes from the conditional
// writes in the store, not from any lock.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classpulse/classpulse/internal/catalog"
	"github.com/classpulse/classpulse/internal/metrics"
	"github.com/classpulse/classpulse/internal/planner"
	"github.com/classpulse/classpulse/internal/store"
)

// Trigger labels for audit detail and metrics.
const (
	TriggerAssessmentCreated = "assessment_created"
	TriggerAssessmentUpdated = "assessment_updated"
	TriggerEnrollmentCreated = "enrollment_created"
)

// Cancellation reasons.
const (
	ReasonSubmissionReceived = "submission_received"
	ReasonDueDateChanged     = "due_date_changed"
	ReasonAssessmentInactive = "assessment_inactive"
	ReasonAssessmentRemoved  = "assessment_removed"
)

// ReminderStore is the slice of the repository the reconciler writes to.
type ReminderStore interface {
	ListActivePolicies(ctx context.Context) ([]*store.ReminderPolicy, error)
	UpsertPendingReminder(ctx context.Context, rem *store.ScheduledReminder) (bool, error)
	RescheduleReminder(ctx context.Context, rem *store.ScheduledReminder) (bool, error)
	CancelPendingReminders(ctx context.Context, assessmentID, learnerID uuid.UUID) ([]uuid.UUID, error)
	CancelAssessmentReminders(ctx context.Context, assessmentID uuid.UUID) ([]uuid.UUID, error)
	AppendAudit(ctx context.Context, rec *store.AuditRecord) error
}

// Reconciler brings the scheduled reminder set in line with the catalog.
type Reconciler struct {
	reminders ReminderStore
	catalog   catalog.Store
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a Reconciler. now is injectable so reconciliation is
// deterministic in tests; pass time.Now in production.
func New(reminders ReminderStore, cat catalog.Store, logger *zap.Logger, now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		reminders: reminders,
		catalog:   cat,
		logger:    logger,
		now:       now,
	}
}

// AssessmentCreated schedules reminders for every enrolled learner of the
// new assessment's course. Learners who somehow already submitted are
// skipped, which makes the handler safe to replay.
func (r *Reconciler) AssessmentCreated(ctx context.Context, assessmentID uuid.UUID) error {
	a, err := r.catalog.Assessment(ctx, assessmentID)
	if errors.Is(err, catalog.ErrNotFound) {
		r.logger.Warn("assessment vanished before scheduling", zap.String("assessment_id", assessmentID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load assessment: %w", err)
	}

	return r.scheduleForAssessment(ctx, a, TriggerAssessmentCreated, false)
}

// EnrollmentCreated schedules reminders for one learner across every open
// assessment of the course they just joined.
func (r *Reconciler) EnrollmentCreated(ctx context.Context, courseID, learnerID uuid.UUID) error {
	assessments, err := r.catalog.AssessmentsForCourse(ctx, courseID)
	if err != nil {
		return fmt.Errorf("load course assessments: %w", err)
	}

	now := r.now()
	policies, err := r.reminders.ListActivePolicies(ctx)
	if err != nil {
		return fmt.Errorf("load policy catalog: %w", err)
	}

	for _, a := range assessments {
		if !a.Open(now) {
			continue
		}
		submitted, err := r.catalog.HasSubmitted(ctx, learnerID, a.ID)
		if err != nil {
			return fmt.Errorf("check submission: %w", err)
		}
		if submitted {
			continue
		}
		if err := r.upsertPlan(ctx, a, learnerID, policies, TriggerEnrollmentCreated, false); err != nil {
			return err
		}
	}

	return nil
}

// SubmissionRecorded cancels every pending reminder for the pair,
// unconditionally: a learner who submitted must never receive a stale
// "not submitted" reminder afterwards.
func (r *Reconciler) SubmissionRecorded(ctx context.Context, assessmentID, learnerID uuid.UUID) error {
	cancelled, err := r.reminders.CancelPendingReminders(ctx, assessmentID, learnerID)
	if err != nil {
		return fmt.Errorf("cancel reminders on submission: %w", err)
	}
	if len(cancelled) == 0 {
		return nil
	}

	metrics.RecordRemindersCancelled(ReasonSubmissionReceived, len(cancelled))
	r.logger.Info("reminders cancelled on submission",
		zap.String("assessment_id", assessmentID.String()),
		zap.String("learner_id", learnerID.String()),
		zap.Int("count", len(cancelled)),
	)

	return r.auditCancelled(ctx, cancelled, &assessmentID, &learnerID, ReasonSubmissionReceived)
}

// AssessmentUpdated reacts to a due date change or an active/published
// toggle: every pending reminder for the assessment is cancelled, then the
// schedule is recomputed against the new state for each enrolled,
// non-submitted learner. A deactivated or unpublished assessment keeps zero
// reminders until it opens again.
func (r *Reconciler) AssessmentUpdated(ctx context.Context, old, updated *catalog.Assessment) error {
	if old != nil &&
		old.DueAt.Equal(updated.DueAt) &&
		old.Active == updated.Active &&
		old.Published == updated.Published {
		return nil
	}

	now := r.now()
	reason := ReasonDueDateChanged
	if !updated.Active || !updated.Published {
		reason = ReasonAssessmentInactive
	}

	cancelled, err := r.reminders.CancelAssessmentReminders(ctx, updated.ID)
	if err != nil {
		return fmt.Errorf("cancel reminders on update: %w", err)
	}
	if len(cancelled) > 0 {
		metrics.RecordRemindersCancelled(reason, len(cancelled))
		if err := r.auditCancelled(ctx, cancelled, &updated.ID, nil, reason); err != nil {
			return err
		}
	}

	if !updated.Open(now) {
		r.logger.Info("assessment closed, no reminders recomputed",
			zap.String("assessment_id", updated.ID.String()),
			zap.String("reason", reason),
		)
		return nil
	}

	return r.scheduleForAssessment(ctx, updated, TriggerAssessmentUpdated, true)
}

// AssessmentRemoved cancels every pending reminder for an assessment that no
// longer exists in the catalog. Without this, rows for a deleted assessment
// would stay pending forever: the due-reminder sweep joins against the
// catalog and never selects them.
func (r *Reconciler) AssessmentRemoved(ctx context.Context, assessmentID uuid.UUID) error {
	cancelled, err := r.reminders.CancelAssessmentReminders(ctx, assessmentID)
	if err != nil {
		return fmt.Errorf("cancel reminders on removal: %w", err)
	}
	if len(cancelled) == 0 {
		return nil
	}

	metrics.RecordRemindersCancelled(ReasonAssessmentRemoved, len(cancelled))
	r.logger.Info("reminders cancelled for removed assessment",
		zap.String("assessment_id", assessmentID.String()),
		zap.Int("count", len(cancelled)),
	)

	return r.auditCancelled(ctx, cancelled, &assessmentID, nil, ReasonAssessmentRemoved)
}

// scheduleForAssessment computes and persists the target reminder set for
// every enrolled, non-submitted learner. reschedule selects the upsert
// flavor: plain inserts for creation-style triggers, fire-time rewrites for
// the due-date-change path.
func (r *Reconciler) scheduleForAssessment(ctx context.Context, a *catalog.Assessment, trigger string, reschedule bool) error {
	now := r.now()
	if !a.Open(now) {
		return nil
	}

	policies, err := r.reminders.ListActivePolicies(ctx)
	if err != nil {
		return fmt.Errorf("load policy catalog: %w", err)
	}
	if len(policies) == 0 {
		return nil
	}

	learners, err := r.catalog.EnrolledLearners(ctx, a.CourseID)
	if err != nil {
		return fmt.Errorf("load enrollments: %w", err)
	}

	for _, learnerID := range learners {
		submitted, err := r.catalog.HasSubmitted(ctx, learnerID, a.ID)
		if err != nil {
			return fmt.Errorf("check submission: %w", err)
		}
		if submitted {
			continue
		}
		if err := r.upsertPlan(ctx, a, learnerID, policies, trigger, reschedule); err != nil {
			return err
		}
	}

	return nil
}

// upsertPlan persists the planner's output for one learner. Each learner's
// upsert is independent so concurrent triggers for the same assessment do
// not interfere.
func (r *Reconciler) upsertPlan(
	ctx context.Context,
	a *catalog.Assessment,
	learnerID uuid.UUID,
	policies []*store.ReminderPolicy,
	trigger string,
	reschedule bool,
) error {
	entries := planner.Plan(a.DueAt, policies, r.now())

	for _, e := range entries {
		rem := &store.ScheduledReminder{
			ID:           uuid.New(),
			AssessmentID: a.ID,
			LearnerID:    learnerID,
			PolicyID:     e.PolicyID,
			FireAt:       e.FireAt,
			Status:       store.ReminderPending,
		}

		var created bool
		var err error
		if reschedule {
			created, err = r.reminders.RescheduleReminder(ctx, rem)
		} else {
			created, err = r.reminders.UpsertPendingReminder(ctx, rem)
		}
		if err != nil {
			return fmt.Errorf("upsert reminder: %w", err)
		}
		if !created {
			continue
		}

		metrics.RecordReminderScheduled(trigger)

		detail, _ := json.Marshal(map[string]any{
			"trigger":   trigger,
			"policy_id": e.PolicyID.String(),
			"fire_at":   e.FireAt.Format(time.RFC3339),
		})
		audit := &store.AuditRecord{
			Action:       store.AuditScheduled,
			ReminderID:   &rem.ID,
			AssessmentID: &a.ID,
			LearnerID:    &learnerID,
			Detail:       detail,
		}
		if err := r.reminders.AppendAudit(ctx, audit); err != nil {
			return fmt.Errorf("audit scheduled reminder: %w", err)
		}
	}

	return nil
}

func (r *Reconciler) auditCancelled(ctx context.Context, reminderIDs []uuid.UUID, assessmentID, learnerID *uuid.UUID, reason string) error {
	for _, id := range reminderIDs {
		id := id
		detail, _ := json.Marshal(map[string]any{"reason": reason})
		audit := &store.AuditRecord{
			Action:       store.AuditCancelled,
			ReminderID:   &id,
			AssessmentID: assessmentID,
			LearnerID:    learnerID,
			Detail:       detail,
		}
		if err := r.reminders.AppendAudit(ctx, audit); err != nil {
			return fmt.Errorf("audit cancelled reminder: %w", err)
		}
	}
	return nil
}
