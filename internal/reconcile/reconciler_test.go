package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classpulse/classpulse/internal/catalog"
	"github.com/classpulse/classpulse/internal/store"
)

// fakeReminderStore is an in-memory ReminderStore enforcing the same
// triple-uniqueness semantics as the SQL schema.
type fakeReminderStore struct {
	policies  []*store.ReminderPolicy
	reminders map[string]*store.ScheduledReminder
	audits    []*store.AuditRecord
}

func newFakeReminderStore(policies []*store.ReminderPolicy) *fakeReminderStore {
	return &fakeReminderStore{
		policies:  policies,
		reminders: make(map[string]*store.ScheduledReminder),
	}
}

func tripleKey(assessmentID, learnerID, policyID uuid.UUID) string {
	return assessmentID.String() + "|" + learnerID.String() + "|" + policyID.String()
}

func (f *fakeReminderStore) ListActivePolicies(ctx context.Context) ([]*store.ReminderPolicy, error) {
	var active []*store.ReminderPolicy
	for _, p := range f.policies {
		if p.Active {
			active = append(active, p)
		}
	}
	return active, nil
}

func (f *fakeReminderStore) UpsertPendingReminder(ctx context.Context, rem *store.ScheduledReminder) (bool, error) {
	key := tripleKey(rem.AssessmentID, rem.LearnerID, rem.PolicyID)
	if _, exists := f.reminders[key]; exists {
		return false, nil
	}
	cp := *rem
	f.reminders[key] = &cp
	return true, nil
}

func (f *fakeReminderStore) RescheduleReminder(ctx context.Context, rem *store.ScheduledReminder) (bool, error) {
	key := tripleKey(rem.AssessmentID, rem.LearnerID, rem.PolicyID)
	existing, exists := f.reminders[key]
	if !exists {
		cp := *rem
		f.reminders[key] = &cp
		return true, nil
	}
	if existing.Status == store.ReminderSent || existing.Status == store.ReminderFailed {
		return false, nil
	}
	existing.FireAt = rem.FireAt
	existing.Status = store.ReminderPending
	existing.DispatchedAt = nil
	existing.ErrorMessage = nil
	rem.ID = existing.ID
	return true, nil
}

func (f *fakeReminderStore) CancelPendingReminders(ctx context.Context, assessmentID, learnerID uuid.UUID) ([]uuid.UUID, error) {
	var cancelled []uuid.UUID
	for _, r := range f.reminders {
		if r.AssessmentID == assessmentID && r.LearnerID == learnerID && r.Status == store.ReminderPending {
			r.Status = store.ReminderCancelled
			cancelled = append(cancelled, r.ID)
		}
	}
	return cancelled, nil
}

func (f *fakeReminderStore) CancelAssessmentReminders(ctx context.Context, assessmentID uuid.UUID) ([]uuid.UUID, error) {
	var cancelled []uuid.UUID
	for _, r := range f.reminders {
		if r.AssessmentID == assessmentID && r.Status == store.ReminderPending {
			r.Status = store.ReminderCancelled
			cancelled = append(cancelled, r.ID)
		}
	}
	return cancelled, nil
}

func (f *fakeReminderStore) AppendAudit(ctx context.Context, rec *store.AuditRecord) error {
	cp := *rec
	f.audits = append(f.audits, &cp)
	return nil
}

func (f *fakeReminderStore) byStatus(status string) []*store.ScheduledReminder {
	var out []*store.ScheduledReminder
	for _, r := range f.reminders {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeReminderStore) auditActions(action string) int {
	n := 0
	for _, a := range f.audits {
		if a.Action == action {
			n++
		}
	}
	return n
}

var testNow = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func testPolicies() []*store.ReminderPolicy {
	return []*store.ReminderPolicy{
		{ID: uuid.New(), Name: "1 week before", DaysBefore: 7, Active: true},
		{ID: uuid.New(), Name: "3 days before", DaysBefore: 3, Active: true},
		{ID: uuid.New(), Name: "1 day before", DaysBefore: 1, Active: true},
		{ID: uuid.New(), Name: "6 hours before", HoursBefore: 6, Active: true},
	}
}

func testAssessment(courseID uuid.UUID) *catalog.Assessment {
	return &catalog.Assessment{
		ID:          uuid.New(),
		CourseID:    courseID,
		Title:       "Project Milestone 2",
		CourseTitle: "Distributed Systems",
		DueAt:       time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC),
		Active:      true,
		Published:   true,
	}
}

func setup(t *testing.T) (*Reconciler, *fakeReminderStore, *catalog.MemoryStore) {
	t.Helper()
	reminders := newFakeReminderStore(testPolicies())
	cat := catalog.NewMemoryStore()
	rec := New(reminders, cat, zap.NewNop(), fixedNow)
	return rec, reminders, cat
}

func TestAssessmentCreated_SchedulesDefaultSet(t *testing.T) {
	rec, reminders, cat := setup(t)
	courseID := uuid.New()
	learnerID := uuid.New()
	a := testAssessment(courseID)
	cat.PutAssessment(a)
	cat.Enroll(courseID, learnerID)

	if err := rec.AssessmentCreated(context.Background(), a.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pending := reminders.byStatus(store.ReminderPending)
	if len(pending) != 4 {
		t.Fatalf("expected 4 pending reminders, got %d", len(pending))
	}

	want := map[time.Time]bool{
		time.Date(2026, 2, 13, 0, 0, 0, 0, time.UTC):  true,
		time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC):  true,
		time.Date(2026, 2, 19, 0, 0, 0, 0, time.UTC):  true,
		time.Date(2026, 2, 19, 18, 0, 0, 0, time.UTC): true,
	}
	for _, r := range pending {
		if !want[r.FireAt] {
			t.Errorf("unexpected fire time %s", r.FireAt)
		}
	}

	if got := reminders.auditActions(store.AuditScheduled); got != 4 {
		t.Errorf("expected 4 scheduled audit records, got %d", got)
	}
}

func TestAssessmentCreated_Idempotent(t *testing.T) {
	rec, reminders, cat := setup(t)
	courseID := uuid.New()
	a := testAssessment(courseID)
	cat.PutAssessment(a)
	cat.Enroll(courseID, uuid.New())

	for i := 0; i < 2; i++ {
		if err := rec.AssessmentCreated(context.Background(), a.ID); err != nil {
			t.Fatalf("run %d: unexpected error: %v", i, err)
		}
	}

	if got := len(reminders.reminders); got != 4 {
		t.Fatalf("expected 4 reminders after replay, got %d", got)
	}
	if got := reminders.auditActions(store.AuditScheduled); got != 4 {
		t.Errorf("replay must not re-audit: expected 4 records, got %d", got)
	}
}

func TestAssessmentCreated_SkipsSubmittedLearner(t *testing.T) {
	rec, reminders, cat := setup(t)
	courseID := uuid.New()
	submitted := uuid.New()
	fresh := uuid.New()
	a := testAssessment(courseID)
	cat.PutAssessment(a)
	cat.Enroll(courseID, submitted)
	cat.Enroll(courseID, fresh)
	cat.RecordSubmission(submitted, a.ID)

	if err := rec.AssessmentCreated(context.Background(), a.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, r := range reminders.reminders {
		if r.LearnerID == submitted {
			t.Fatalf("reminder scheduled for learner who already submitted")
		}
	}
	if got := len(reminders.byStatus(store.ReminderPending)); got != 4 {
		t.Errorf("expected 4 reminders for the fresh learner, got %d", got)
	}
}

func TestAssessmentCreated_PastDueDate(t *testing.T) {
	rec, reminders, cat := setup(t)
	courseID := uuid.New()
	a := testAssessment(courseID)
	a.DueAt = testNow.Add(-time.Hour)
	cat.PutAssessment(a)
	cat.Enroll(courseID, uuid.New())

	if err := rec.AssessmentCreated(context.Background(), a.ID); err != nil {
		t.Fatalf("past due date must not be an error: %v", err)
	}
	if got := len(reminders.reminders); got != 0 {
		t.Errorf("expected no reminders for past due date, got %d", got)
	}
}

func TestAssessmentCreated_MissingAssessment(t *testing.T) {
	rec, reminders, _ := setup(t)

	if err := rec.AssessmentCreated(context.Background(), uuid.New()); err != nil {
		t.Fatalf("missing assessment must be a no-op: %v", err)
	}
	if len(reminders.reminders) != 0 {
		t.Errorf("expected no reminders")
	}
}

func TestEnrollmentCreated_SchedulesForNewLearnerOnly(t *testing.T) {
	rec, reminders, cat := setup(t)
	courseID := uuid.New()
	a := testAssessment(courseID)
	closed := testAssessment(courseID)
	closed.Published = false
	cat.PutAssessment(a)
	cat.PutAssessment(closed)

	learnerID := uuid.New()
	cat.Enroll(courseID, learnerID)

	if err := rec.EnrollmentCreated(context.Background(), courseID, learnerID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pending := reminders.byStatus(store.ReminderPending)
	if len(pending) != 4 {
		t.Fatalf("expected 4 reminders (open assessment only), got %d", len(pending))
	}
	for _, r := range pending {
		if r.AssessmentID != a.ID {
			t.Errorf("reminder scheduled for unpublished assessment")
		}
		if r.LearnerID != learnerID {
			t.Errorf("reminder scheduled for wrong learner")
		}
	}
}

func TestEnrollmentCreated_Idempotent(t *testing.T) {
	rec, reminders, cat := setup(t)
	courseID := uuid.New()
	a := testAssessment(courseID)
	cat.PutAssessment(a)
	learnerID := uuid.New()
	cat.Enroll(courseID, learnerID)

	for i := 0; i < 2; i++ {
		if err := rec.EnrollmentCreated(context.Background(), courseID, learnerID); err != nil {
			t.Fatalf("run %d: unexpected error: %v", i, err)
		}
	}

	if got := len(reminders.reminders); got != 4 {
		t.Fatalf("expected 4 reminders after replay, got %d", got)
	}
}

func TestSubmissionRecorded_CancelsPendingKeepsSent(t *testing.T) {
	rec, reminders, cat := setup(t)
	courseID := uuid.New()
	a := testAssessment(courseID)
	cat.PutAssessment(a)
	learnerID := uuid.New()
	cat.Enroll(courseID, learnerID)

	if err := rec.AssessmentCreated(context.Background(), a.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The 7d and 3d reminders have already gone out.
	sent := 0
	for _, r := range reminders.reminders {
		if sent < 2 {
			r.Status = store.ReminderSent
			sent++
		}
	}

	cat.RecordSubmission(learnerID, a.ID)
	if err := rec.SubmissionRecorded(context.Background(), a.ID, learnerID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := len(reminders.byStatus(store.ReminderPending)); got != 0 {
		t.Errorf("expected 0 pending reminders after submission, got %d", got)
	}
	if got := len(reminders.byStatus(store.ReminderCancelled)); got != 2 {
		t.Errorf("expected 2 cancelled reminders, got %d", got)
	}
	if got := len(reminders.byStatus(store.ReminderSent)); got != 2 {
		t.Errorf("sent reminders must stay sent, got %d", got)
	}
	if got := reminders.auditActions(store.AuditCancelled); got != 2 {
		t.Errorf("expected 2 cancellation audit records, got %d", got)
	}
}

func TestSubmissionRecorded_NothingPending(t *testing.T) {
	rec, reminders, _ := setup(t)

	if err := rec.SubmissionRecorded(context.Background(), uuid.New(), uuid.New()); err != nil {
		t.Fatalf("cancelling nothing must not be an error: %v", err)
	}
	if got := reminders.auditActions(store.AuditCancelled); got != 0 {
		t.Errorf("expected no audit records, got %d", got)
	}
}

func TestAssessmentUpdated_DueDateChange(t *testing.T) {
	rec, reminders, cat := setup(t)
	courseID := uuid.New()
	a := testAssessment(courseID)
	cat.PutAssessment(a)
	learnerID := uuid.New()
	cat.Enroll(courseID, learnerID)

	if err := rec.AssessmentCreated(context.Background(), a.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	old := *a
	updated := *a
	updated.DueAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cat.PutAssessment(&updated)

	if err := rec.AssessmentUpdated(context.Background(), &old, &updated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pending := reminders.byStatus(store.ReminderPending)
	if len(pending) != 4 {
		t.Fatalf("expected 4 recomputed reminders, got %d", len(pending))
	}
	want := map[time.Time]bool{
		time.Date(2026, 2, 22, 0, 0, 0, 0, time.UTC):  true,
		time.Date(2026, 2, 26, 0, 0, 0, 0, time.UTC):  true,
		time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC):  true,
		time.Date(2026, 2, 28, 18, 0, 0, 0, time.UTC): true,
	}
	for _, r := range pending {
		if !want[r.FireAt] {
			t.Errorf("reminder still points at stale due date: %s", r.FireAt)
		}
	}
}

func TestAssessmentUpdated_AuditReferencesLiveRows(t *testing.T) {
	rec, reminders, cat := setup(t)
	courseID := uuid.New()
	a := testAssessment(courseID)
	cat.PutAssessment(a)
	cat.Enroll(courseID, uuid.New())

	if err := rec.AssessmentCreated(context.Background(), a.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The reschedule re-points the existing rows in place, so the audit
	// records it writes must carry the surviving ids, not fresh ones.
	old := *a
	updated := *a
	updated.DueAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cat.PutAssessment(&updated)

	if err := rec.AssessmentUpdated(context.Background(), &old, &updated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	live := make(map[uuid.UUID]bool)
	for _, r := range reminders.reminders {
		live[r.ID] = true
	}
	for _, ar := range reminders.audits {
		if ar.Action != store.AuditScheduled {
			continue
		}
		if ar.ReminderID == nil {
			t.Fatal("scheduled audit record without a reminder id")
		}
		if !live[*ar.ReminderID] {
			t.Errorf("scheduled audit references reminder %s that does not exist as a row", ar.ReminderID)
		}
	}
}

func TestAssessmentUpdated_SentRemindersNotResurrected(t *testing.T) {
	rec, reminders, cat := setup(t)
	courseID := uuid.New()
	a := testAssessment(courseID)
	cat.PutAssessment(a)
	learnerID := uuid.New()
	cat.Enroll(courseID, learnerID)

	if err := rec.AssessmentCreated(context.Background(), a.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sentPolicy uuid.UUID
	for _, r := range reminders.reminders {
		r.Status = store.ReminderSent
		sentPolicy = r.PolicyID
		break
	}

	old := *a
	updated := *a
	updated.DueAt = a.DueAt.AddDate(0, 0, 7)
	cat.PutAssessment(&updated)

	if err := rec.AssessmentUpdated(context.Background(), &old, &updated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, r := range reminders.reminders {
		if r.PolicyID == sentPolicy && r.Status != store.ReminderSent {
			t.Fatalf("sent reminder was resurrected to %s", r.Status)
		}
	}
	if got := len(reminders.byStatus(store.ReminderPending)); got != 3 {
		t.Errorf("expected 3 pending reminders (sent policy excluded), got %d", got)
	}
}

func TestAssessmentUpdated_Deactivated(t *testing.T) {
	rec, reminders, cat := setup(t)
	courseID := uuid.New()
	a := testAssessment(courseID)
	cat.PutAssessment(a)
	cat.Enroll(courseID, uuid.New())

	if err := rec.AssessmentCreated(context.Background(), a.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	old := *a
	updated := *a
	updated.Active = false
	cat.PutAssessment(&updated)

	if err := rec.AssessmentUpdated(context.Background(), &old, &updated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := len(reminders.byStatus(store.ReminderPending)); got != 0 {
		t.Errorf("expected 0 pending reminders for deactivated assessment, got %d", got)
	}
	if got := len(reminders.byStatus(store.ReminderCancelled)); got != 4 {
		t.Errorf("expected 4 cancelled reminders, got %d", got)
	}
}

func TestAssessmentRemoved_CancelsPendingReminders(t *testing.T) {
	rec, reminders, cat := setup(t)
	courseID := uuid.New()
	a := testAssessment(courseID)
	cat.PutAssessment(a)
	cat.Enroll(courseID, uuid.New())

	if err := rec.AssessmentCreated(context.Background(), a.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// One reminder already went out before the assessment disappeared.
	for _, r := range reminders.reminders {
		r.Status = store.ReminderSent
		break
	}
	cat.RemoveAssessment(a.ID)

	if err := rec.AssessmentRemoved(context.Background(), a.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := len(reminders.byStatus(store.ReminderPending)); got != 0 {
		t.Errorf("expected 0 pending reminders for removed assessment, got %d", got)
	}
	if got := len(reminders.byStatus(store.ReminderCancelled)); got != 3 {
		t.Errorf("expected 3 cancelled reminders, got %d", got)
	}
	if got := len(reminders.byStatus(store.ReminderSent)); got != 1 {
		t.Errorf("sent reminder must stay sent, got %d", got)
	}
	if got := reminders.auditActions(store.AuditCancelled); got != 3 {
		t.Errorf("expected 3 cancellation audit records, got %d", got)
	}
}

func TestAssessmentRemoved_NothingScheduled(t *testing.T) {
	rec, reminders, _ := setup(t)

	if err := rec.AssessmentRemoved(context.Background(), uuid.New()); err != nil {
		t.Fatalf("cancelling nothing must not be an error: %v", err)
	}
	if got := reminders.auditActions(store.AuditCancelled); got != 0 {
		t.Errorf("expected no audit records, got %d", got)
	}
}

func TestAssessmentUpdated_NoRelevantChange(t *testing.T) {
	rec, reminders, cat := setup(t)
	courseID := uuid.New()
	a := testAssessment(courseID)
	cat.PutAssessment(a)
	cat.Enroll(courseID, uuid.New())

	if err := rec.AssessmentCreated(context.Background(), a.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	old := *a
	updated := *a
	updated.Title = "Renamed assessment"

	if err := rec.AssessmentUpdated(context.Background(), &old, &updated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := len(reminders.byStatus(store.ReminderPending)); got != 4 {
		t.Errorf("title-only update must not disturb reminders, got %d pending", got)
	}
	if got := reminders.auditActions(store.AuditCancelled); got != 0 {
		t.Errorf("expected no cancellation audit records, got %d", got)
	}
}
