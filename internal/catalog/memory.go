package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store and Directory for tests and local
// development. Safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	assessments map[uuid.UUID]*Assessment
	enrollments map[uuid.UUID][]uuid.UUID // courseID -> learnerIDs
	submissions map[string]bool           // learnerID|assessmentID
	contacts    map[uuid.UUID]*Contact
}

// NewMemoryStore creates an empty in-memory catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assessments: make(map[uuid.UUID]*Assessment),
		enrollments: make(map[uuid.UUID][]uuid.UUID),
		submissions: make(map[string]bool),
		contacts:    make(map[uuid.UUID]*Contact),
	}
}

func submissionKey(learnerID, assessmentID uuid.UUID) string {
	return learnerID.String() + "|" + assessmentID.String()
}

// PutAssessment adds or replaces an assessment.
func (m *MemoryStore) PutAssessment(a *Assessment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.assessments[a.ID] = &cp
}

// RemoveAssessment deletes an assessment, simulating collaborator-side
// removal.
func (m *MemoryStore) RemoveAssessment(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assessments, id)
}

// Enroll records a learner in a course.
func (m *MemoryStore) Enroll(courseID, learnerID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.enrollments[courseID] {
		if id == learnerID {
			return
		}
	}
	m.enrollments[courseID] = append(m.enrollments[courseID], learnerID)
}

// RecordSubmission marks a submission as received.
func (m *MemoryStore) RecordSubmission(learnerID, assessmentID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions[submissionKey(learnerID, assessmentID)] = true
}

// PutContact adds or replaces a learner contact.
func (m *MemoryStore) PutContact(c *Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.contacts[c.LearnerID] = &cp
}

// EnrolledLearners implements Store.
func (m *MemoryStore) EnrolledLearners(ctx context.Context, courseID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uuid.UUID, len(m.enrollments[courseID]))
	copy(out, m.enrollments[courseID])
	return out, nil
}

// Assessment implements Store.
func (m *MemoryStore) Assessment(ctx context.Context, assessmentID uuid.UUID) (*Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assessments[assessmentID]
	if !ok {
		return nil, fmt.Errorf("assessment %s: %w", assessmentID, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

// AssessmentsForCourse implements Store.
func (m *MemoryStore) AssessmentsForCourse(ctx context.Context, courseID uuid.UUID) ([]*Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Assessment
	for _, a := range m.assessments {
		if a.CourseID == courseID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}

// HasSubmitted implements Store.
func (m *MemoryStore) HasSubmitted(ctx context.Context, learnerID, assessmentID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.submissions[submissionKey(learnerID, assessmentID)], nil
}

// UpcomingForLearner implements Store.
func (m *MemoryStore) UpcomingForLearner(ctx context.Context, learnerID uuid.UUID, from, to time.Time) ([]*Upcoming, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Upcoming
	for _, a := range m.assessments {
		if !a.Active || !a.Published {
			continue
		}
		if a.DueAt.Before(from) || a.DueAt.After(to) {
			continue
		}
		enrolled := false
		for _, id := range m.enrollments[a.CourseID] {
			if id == learnerID {
				enrolled = true
				break
			}
		}
		if !enrolled {
			continue
		}
		cp := *a
		out = append(out, &Upcoming{
			Assessment: cp,
			Submitted:  m.submissions[submissionKey(learnerID, a.ID)],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Assessment.DueAt.Before(out[j].Assessment.DueAt)
	})
	return out, nil
}

// LearnerContact implements Directory.
func (m *MemoryStore) LearnerContact(ctx context.Context, learnerID uuid.UUID) (*Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[learnerID]
	if !ok {
		return nil, fmt.Errorf("learner %s: %w", learnerID, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}
