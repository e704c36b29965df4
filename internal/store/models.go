package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ReminderPolicy is a named offset before an assessment due date at which
// a reminder should fire. Policies are configuration: they are seeded at
// startup and deactivated rather than deleted once schedules reference them.
type ReminderPolicy struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	DaysBefore  int       `json:"days_before"`
	HoursBefore int       `json:"hours_before"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Offset returns the policy's total offset before the due date.
func (p ReminderPolicy) Offset() time.Duration {
	return time.Duration(p.DaysBefore)*24*time.Hour + time.Duration(p.HoursBefore)*time.Hour
}

// ScheduledReminder is one future reminder for an (assessment, learner,
// policy) triple. The triple is unique; pending is the only non-terminal
// status.
type ScheduledReminder struct {
	ID           uuid.UUID  `json:"id"`
	AssessmentID uuid.UUID  `json:"assessment_id"`
	LearnerID    uuid.UUID  `json:"learner_id"`
	PolicyID     uuid.UUID  `json:"policy_id"`
	FireAt       time.Time  `json:"fire_at"`
	Status       string     `json:"status"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Reminder status constants
const (
	ReminderPending   = "pending"
	ReminderSent      = "sent"
	ReminderCancelled = "cancelled"
	ReminderFailed    = "failed"
)

// Notification is the user-facing inbox record created exactly once per
// dispatched reminder.
type Notification struct {
	ID           uuid.UUID  `json:"id"`
	LearnerID    uuid.UUID  `json:"learner_id"`
	Type         string     `json:"type"`
	Title        string     `json:"title"`
	Body         string     `json:"body"`
	AssessmentID *uuid.UUID `json:"assessment_id,omitempty"`
	Status       string     `json:"status"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Notification type constants
const (
	NotificationReminder     = "reminder"
	NotificationGrade        = "grade"
	NotificationAnnouncement = "announcement"
)

// Notification status constants
const (
	NotificationUnread    = "unread"
	NotificationRead      = "read"
	NotificationDismissed = "dismissed"
)

// DeliveryEntry is one outbound email in the durable delivery queue.
// Attempts are bounded; exhausted entries are marked failed permanently.
type DeliveryEntry struct {
	ID             uuid.UUID  `json:"id"`
	NotificationID uuid.UUID  `json:"notification_id"`
	Recipient      string     `json:"recipient"`
	Subject        string     `json:"subject"`
	Body           string     `json:"body"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"max_attempts"`
	LastError      *string    `json:"last_error,omitempty"`
	NextAttemptAt  *time.Time `json:"next_attempt_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Delivery status constants
const (
	DeliveryPending = "pending"
	DeliveryRetry   = "retry"
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
)

// AuditRecord is an append-only lifecycle event. Records are never updated
// or deleted.
type AuditRecord struct {
	ID           uuid.UUID       `json:"id"`
	Action       string          `json:"action"`
	ReminderID   *uuid.UUID      `json:"reminder_id,omitempty"`
	AssessmentID *uuid.UUID      `json:"assessment_id,omitempty"`
	LearnerID    *uuid.UUID      `json:"learner_id,omitempty"`
	Detail       json.RawMessage `json:"detail,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Audit action constants
const (
	AuditScheduled = "scheduled"
	AuditSent      = "sent"
	AuditCancelled = "cancelled"
	AuditFailed    = "failed"
)
