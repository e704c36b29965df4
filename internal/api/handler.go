package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classpulse/classpulse/internal/catalog"
	"github.com/classpulse/classpulse/internal/store"
)

// Repository defines the store operations the API needs.
type Repository interface {
	ListDueReminders(ctx context.Context, now time.Time, limit int) ([]*store.ScheduledReminder, error)
	NextPendingFireAt(ctx context.Context, assessmentID, learnerID uuid.UUID) (*time.Time, error)
	ListAudit(ctx context.Context, assessmentID, learnerID *uuid.UUID, limit, offset int) ([]*store.AuditRecord, error)
	ListFailedDeliveries(ctx context.Context, limit, offset int) ([]*store.DeliveryEntry, error)
	ListNotifications(ctx context.Context, learnerID uuid.UUID, now time.Time, limit, offset int) ([]*store.Notification, error)
	MarkNotificationRead(ctx context.Context, id uuid.UUID) error
	MarkNotificationDismissed(ctx context.Context, id uuid.UUID) error
	ListActivePolicies(ctx context.Context) ([]*store.ReminderPolicy, error)
	DeactivatePolicy(ctx context.Context, id uuid.UUID) error
}

// Reconciler reacts to catalog change events.
type Reconciler interface {
	AssessmentCreated(ctx context.Context, assessmentID uuid.UUID) error
	AssessmentUpdated(ctx context.Context, old, updated *catalog.Assessment) error
	AssessmentRemoved(ctx context.Context, assessmentID uuid.UUID) error
	EnrollmentCreated(ctx context.Context, courseID, learnerID uuid.UUID) error
	SubmissionRecorded(ctx context.Context, assessmentID, learnerID uuid.UUID) error
}

// Dispatcher processes a single reminder on demand.
type Dispatcher interface {
	ProcessReminder(ctx context.Context, reminderID uuid.UUID) (*uuid.UUID, error)
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger     *zap.Logger
	repo       Repository
	reconciler Reconciler
	dispatcher Dispatcher
	catalog    catalog.Store
	now        func() time.Time
}

// NewHandler creates a new API handler. now is injectable for tests; pass
// time.Now in production.
func NewHandler(logger *zap.Logger, repo Repository, rec Reconciler, disp Dispatcher, cat catalog.Store, now func() time.Time) *Handler {
	if now == nil {
		now = time.Now
	}
	return &Handler{
		logger:     logger,
		repo:       repo,
		reconciler: rec,
		dispatcher: disp,
		catalog:    cat,
		now:        now,
	}
}

// AssessmentCreatedEvent handles POST /v1/events/assessment-created
func (h *Handler) AssessmentCreatedEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		AssessmentID string `json:"assessment_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	assessmentID, err := uuid.Parse(req.AssessmentID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid assessment_id", "assessment_id must be a valid UUID")
		return
	}

	if err := h.reconciler.AssessmentCreated(ctx, assessmentID); err != nil {
		h.logger.Error("failed to reconcile assessment creation",
			zap.Error(err),
			zap.String("assessment_id", req.AssessmentID),
		)
		h.writeError(w, http.StatusInternalServerError, "reconcile_error", "Failed to schedule reminders", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"assessment_id": req.AssessmentID,
		"status":        "reconciled",
	})
}

// AssessmentUpdatedEvent handles POST /v1/events/assessment-updated.
// The caller includes the assessment's previous scheduling-relevant state
// so unchanged updates can be skipped; without it the schedule is always
// recomputed.
func (h *Handler) AssessmentUpdatedEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		AssessmentID string `json:"assessment_id"`
		Previous     *struct {
			DueAt     time.Time `json:"due_at"`
			Active    bool      `json:"active"`
			Published bool      `json:"published"`
		} `json:"previous,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	assessmentID, err := uuid.Parse(req.AssessmentID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid assessment_id", "assessment_id must be a valid UUID")
		return
	}

	updated, err := h.catalog.Assessment(ctx, assessmentID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			// The assessment is gone from the catalog. Cancel its
			// reminders instead of leaving them pending forever.
			if err := h.reconciler.AssessmentRemoved(ctx, assessmentID); err != nil {
				h.logger.Error("failed to cancel reminders for removed assessment",
					zap.Error(err),
					zap.String("assessment_id", req.AssessmentID),
				)
				h.writeError(w, http.StatusInternalServerError, "reconcile_error", "Failed to cancel reminders", "")
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"assessment_id": req.AssessmentID,
				"status":        "reminders_cancelled",
			})
			return
		}
		h.logger.Error("failed to load assessment", zap.Error(err), zap.String("assessment_id", req.AssessmentID))
		h.writeError(w, http.StatusInternalServerError, "catalog_error", "Failed to load assessment", "")
		return
	}

	var old *catalog.Assessment
	if req.Previous != nil {
		prev := *updated
		prev.DueAt = req.Previous.DueAt
		prev.Active = req.Previous.Active
		prev.Published = req.Previous.Published
		old = &prev
	}

	if err := h.reconciler.AssessmentUpdated(ctx, old, updated); err != nil {
		h.logger.Error("failed to reconcile assessment update",
			zap.Error(err),
			zap.String("assessment_id", req.AssessmentID),
		)
		h.writeError(w, http.StatusInternalServerError, "reconcile_error", "Failed to recompute reminders", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"assessment_id": req.AssessmentID,
		"status":        "reconciled",
	})
}

// EnrollmentCreatedEvent handles POST /v1/events/enrollment-created
func (h *Handler) EnrollmentCreatedEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		CourseID  string `json:"course_id"`
		LearnerID string `json:"learner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	courseID, err := uuid.Parse(req.CourseID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid course_id", "course_id must be a valid UUID")
		return
	}
	learnerID, err := uuid.Parse(req.LearnerID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid learner_id", "learner_id must be a valid UUID")
		return
	}

	if err := h.reconciler.EnrollmentCreated(ctx, courseID, learnerID); err != nil {
		h.logger.Error("failed to reconcile enrollment",
			zap.Error(err),
			zap.String("course_id", req.CourseID),
			zap.String("learner_id", req.LearnerID),
		)
		h.writeError(w, http.StatusInternalServerError, "reconcile_error", "Failed to schedule reminders", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"course_id":  req.CourseID,
		"learner_id": req.LearnerID,
		"status":     "reconciled",
	})
}

// SubmissionRecordedEvent handles POST /v1/events/submission-recorded
func (h *Handler) SubmissionRecordedEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		AssessmentID string `json:"assessment_id"`
		LearnerID    string `json:"learner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	assessmentID, err := uuid.Parse(req.AssessmentID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid assessment_id", "assessment_id must be a valid UUID")
		return
	}
	learnerID, err := uuid.Parse(req.LearnerID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid learner_id", "learner_id must be a valid UUID")
		return
	}

	if err := h.reconciler.SubmissionRecorded(ctx, assessmentID, learnerID); err != nil {
		h.logger.Error("failed to reconcile submission",
			zap.Error(err),
			zap.String("assessment_id", req.AssessmentID),
			zap.String("learner_id", req.LearnerID),
		)
		h.writeError(w, http.StatusInternalServerError, "reconcile_error", "Failed to cancel reminders", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"assessment_id": req.AssessmentID,
		"learner_id":    req.LearnerID,
		"status":        "reconciled",
	})
}

// ListDueReminders handles GET /v1/reminders/due?limit=50
func (h *Handler) ListDueReminders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}

	reminders, err := h.repo.ListDueReminders(ctx, h.now(), limit)
	if err != nil {
		h.logger.Error("failed to list due reminders", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list due reminders", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  reminders,
		"count": len(reminders),
	})
}

// ProcessReminder handles POST /v1/reminders/{id}/process
func (h *Handler) ProcessReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	reminderID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid reminder ID", "ID must be a valid UUID")
		return
	}

	notifID, err := h.dispatcher.ProcessReminder(ctx, reminderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Reminder not found", "")
			return
		}
		h.logger.Error("failed to process reminder",
			zap.Error(err),
			zap.String("reminder_id", idStr),
		)
		h.writeError(w, http.StatusInternalServerError, "dispatch_error", "Failed to process reminder", "")
		return
	}

	resp := map[string]interface{}{
		"reminder_id": idStr,
	}
	if notifID != nil {
		resp["dispatched"] = true
		resp["notification_id"] = notifID.String()
	} else {
		resp["dispatched"] = false
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// ListAudit handles GET /v1/audit?assessment_id=xxx&learner_id=yyy&limit=20&offset=0
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var assessmentID, learnerID *uuid.UUID
	if s := r.URL.Query().Get("assessment_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid assessment_id", "assessment_id must be a valid UUID")
			return
		}
		assessmentID = &id
	}
	if s := r.URL.Query().Get("learner_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid learner_id", "learner_id must be a valid UUID")
			return
		}
		learnerID = &id
	}

	limit, offset := h.pagination(r)

	records, err := h.repo.ListAudit(ctx, assessmentID, learnerID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list audit records", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list audit records", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   records,
		"limit":  limit,
		"offset": offset,
		"count":  len(records),
	})
}

// ListFailedDeliveries handles GET /v1/delivery/failed?limit=20&offset=0
func (h *Handler) ListFailedDeliveries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, offset := h.pagination(r)

	entries, err := h.repo.ListFailedDeliveries(ctx, limit, offset)
	if err != nil {
		h.logger.Error("failed to list failed deliveries", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list failed deliveries", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   entries,
		"limit":  limit,
		"offset": offset,
		"count":  len(entries),
	})
}

// ListLearnerNotifications handles GET /v1/learners/{id}/notifications
func (h *Handler) ListLearnerNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	learnerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid learner ID", "ID must be a valid UUID")
		return
	}

	limit, offset := h.pagination(r)

	notifications, err := h.repo.ListNotifications(ctx, learnerID, h.now(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list notifications",
			zap.Error(err),
			zap.String("learner_id", learnerID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list notifications", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   notifications,
		"limit":  limit,
		"offset": offset,
		"count":  len(notifications),
	})
}

// MarkNotificationRead handles PATCH /v1/notifications/{id}/read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	h.transitionNotification(w, r, "read", h.repo.MarkNotificationRead)
}

// MarkNotificationDismissed handles PATCH /v1/notifications/{id}/dismiss
func (h *Handler) MarkNotificationDismissed(w http.ResponseWriter, r *http.Request) {
	h.transitionNotification(w, r, "dismissed", h.repo.MarkNotificationDismissed)
}

func (h *Handler) transitionNotification(w http.ResponseWriter, r *http.Request, target string, apply func(context.Context, uuid.UUID) error) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	notifID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return
	}

	if err := apply(ctx, notifID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusConflict, "invalid_transition", "Notification cannot transition",
				"the notification does not exist or is not in a state that allows this transition")
			return
		}
		h.logger.Error("failed to transition notification",
			zap.Error(err),
			zap.String("id", idStr),
			zap.String("target", target),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update notification", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":     idStr,
		"status": target,
	})
}

// CalendarEntry is one row of a learner's deadline calendar.
type CalendarEntry struct {
	Assessment     catalog.Assessment `json:"assessment"`
	Submitted      bool               `json:"submitted"`
	NextReminderAt *time.Time         `json:"next_reminder_at,omitempty"`
}

// LearnerCalendar handles GET /v1/learners/{id}/calendar?from=...&to=...
// Defaults to the next 30 days.
func (h *Handler) LearnerCalendar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	learnerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid learner ID", "ID must be a valid UUID")
		return
	}

	now := h.now()
	from, to := now, now.Add(30*24*time.Hour)

	if s := r.URL.Query().Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid from", "from must be RFC 3339")
			return
		}
		from = t
	}
	if s := r.URL.Query().Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid to", "to must be RFC 3339")
			return
		}
		to = t
	}
	if !to.After(from) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid window", "to must be after from")
		return
	}

	upcoming, err := h.catalog.UpcomingForLearner(ctx, learnerID, from, to)
	if err != nil {
		h.logger.Error("failed to build calendar",
			zap.Error(err),
			zap.String("learner_id", learnerID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "catalog_error", "Failed to build calendar", "")
		return
	}

	entries := make([]CalendarEntry, 0, len(upcoming))
	for _, u := range upcoming {
		entry := CalendarEntry{Assessment: u.Assessment, Submitted: u.Submitted}
		if !u.Submitted {
			next, err := h.repo.NextPendingFireAt(ctx, u.Assessment.ID, learnerID)
			if err != nil {
				h.logger.Warn("failed to resolve next reminder",
					zap.Error(err),
					zap.String("assessment_id", u.Assessment.ID.String()),
					zap.String("learner_id", learnerID.String()),
				)
			} else {
				entry.NextReminderAt = next
			}
		}
		entries = append(entries, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  entries,
		"from":  from,
		"to":    to,
		"count": len(entries),
	})
}

// ListPolicies handles GET /v1/policies
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	policies, err := h.repo.ListActivePolicies(ctx)
	if err != nil {
		h.logger.Error("failed to list policies", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list policies", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  policies,
		"count": len(policies),
	})
}

// DeactivatePolicy handles DELETE /v1/policies/{id}. Already-scheduled
// reminders keep their policy reference; the policy just stops applying to
// future planning.
func (h *Handler) DeactivatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	policyID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid policy ID", "ID must be a valid UUID")
		return
	}

	if err := h.repo.DeactivatePolicy(ctx, policyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Policy not found", "")
			return
		}
		h.logger.Error("failed to deactivate policy",
			zap.Error(err),
			zap.String("id", idStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to deactivate policy", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":     idStr,
		"status": "deactivated",
	})
}

func (h *Handler) pagination(r *http.Request) (limit, offset int) {
	limit = 20
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}
	return limit, offset
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
