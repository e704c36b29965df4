// Package catalog exposes the read-only views of the course catalog this
// core consumes. Courses, enrollments, assessments and submissions are owned
// by an external collaborator; the reminder engine references them by id and
// must tolerate their absence.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the referenced catalog entity does not exist, for
// example an assessment deleted after its reminders were scheduled.
var ErrNotFound = errors.New("catalog entity not found")

// Assessment is the catalog's view of one assessment.
type Assessment struct {
	ID          uuid.UUID `json:"id"`
	CourseID    uuid.UUID `json:"course_id"`
	Title       string    `json:"title"`
	CourseTitle string    `json:"course_title"`
	DueAt       time.Time `json:"due_at"`
	Active      bool      `json:"active"`
	Published   bool      `json:"published"`
}

// Open reports whether the assessment currently accepts submissions and
// should carry reminders.
func (a Assessment) Open(now time.Time) bool {
	return a.Active && a.Published && a.DueAt.After(now)
}

// Delivery preference constants
const (
	PreferDashboard = "dashboard"
	PreferEmail     = "email"
	PreferBoth      = "both"
)

// Contact is the audience directory's view of one learner.
type Contact struct {
	LearnerID   uuid.UUID `json:"learner_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Preference  string    `json:"preference"`
}

// WantsEmail reports whether the learner's preference permits the email
// channel.
func (c Contact) WantsEmail() bool {
	return c.Preference == PreferEmail || c.Preference == PreferBoth
}

// Upcoming is one assessment in a learner's calendar window.
type Upcoming struct {
	Assessment Assessment `json:"assessment"`
	Submitted  bool       `json:"submitted"`
}

// Store reads catalog state. All mutation happens outside this core.
type Store interface {
	EnrolledLearners(ctx context.Context, courseID uuid.UUID) ([]uuid.UUID, error)
	Assessment(ctx context.Context, assessmentID uuid.UUID) (*Assessment, error)
	AssessmentsForCourse(ctx context.Context, courseID uuid.UUID) ([]*Assessment, error)
	HasSubmitted(ctx context.Context, learnerID, assessmentID uuid.UUID) (bool, error)
	UpcomingForLearner(ctx context.Context, learnerID uuid.UUID, from, to time.Time) ([]*Upcoming, error)
}

// Directory resolves learner contact information.
type Directory interface {
	LearnerContact(ctx context.Context, learnerID uuid.UUID) (*Contact, error)
}
