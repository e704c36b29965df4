package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore reads the collaborator-owned catalog tables. Queries here
// are strictly SELECTs.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a catalog reader over an existing pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// EnrolledLearners returns the learner ids enrolled in a course.
func (s *PostgresStore) EnrolledLearners(ctx context.Context, courseID uuid.UUID) ([]uuid.UUID, error) {
	query := `SELECT learner_id FROM enrollments WHERE course_id = $1`

	rows, err := s.pool.Query(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("query enrollments: %w", err)
	}
	defer rows.Close()

	var learners []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan learner id: %w", err)
		}
		learners = append(learners, id)
	}

	return learners, rows.Err()
}

const assessmentColumns = `
	a.id, a.course_id, a.title, c.title, a.due_at, a.active, a.published
`

func scanAssessment(row pgx.Row) (*Assessment, error) {
	var a Assessment
	err := row.Scan(&a.ID, &a.CourseID, &a.Title, &a.CourseTitle, &a.DueAt, &a.Active, &a.Published)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Assessment returns one assessment with its course title.
func (s *PostgresStore) Assessment(ctx context.Context, assessmentID uuid.UUID) (*Assessment, error) {
	query := `
		SELECT ` + assessmentColumns + `
		FROM assessments a
		JOIN courses c ON c.id = a.course_id
		WHERE a.id = $1
	`

	a, err := scanAssessment(s.pool.QueryRow(ctx, query, assessmentID))
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("assessment %s: %w", assessmentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query assessment: %w", err)
	}

	return a, nil
}

// AssessmentsForCourse returns every assessment in a course.
func (s *PostgresStore) AssessmentsForCourse(ctx context.Context, courseID uuid.UUID) ([]*Assessment, error) {
	query := `
		SELECT ` + assessmentColumns + `
		FROM assessments a
		JOIN courses c ON c.id = a.course_id
		WHERE a.course_id = $1
		ORDER BY a.due_at ASC
	`

	rows, err := s.pool.Query(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("query course assessments: %w", err)
	}
	defer rows.Close()

	var assessments []*Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		assessments = append(assessments, a)
	}

	return assessments, rows.Err()
}

// HasSubmitted reports whether the learner has a submission for the
// assessment.
func (s *PostgresStore) HasSubmitted(ctx context.Context, learnerID, assessmentID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM submissions WHERE learner_id = $1 AND assessment_id = $2
		)
	`

	var submitted bool
	if err := s.pool.QueryRow(ctx, query, learnerID, assessmentID).Scan(&submitted); err != nil {
		return false, fmt.Errorf("query submission: %w", err)
	}

	return submitted, nil
}

// UpcomingForLearner returns active published assessments due inside the
// window for courses the learner is enrolled in, with submission status.
func (s *PostgresStore) UpcomingForLearner(ctx context.Context, learnerID uuid.UUID, from, to time.Time) ([]*Upcoming, error) {
	query := `
		SELECT ` + assessmentColumns + `,
			EXISTS (
				SELECT 1 FROM submissions s
				WHERE s.learner_id = $1 AND s.assessment_id = a.id
			)
		FROM assessments a
		JOIN courses c ON c.id = a.course_id
		JOIN enrollments e ON e.course_id = a.course_id AND e.learner_id = $1
		WHERE a.active AND a.published
		  AND a.due_at >= $2 AND a.due_at <= $3
		ORDER BY a.due_at ASC
	`

	rows, err := s.pool.Query(ctx, query, learnerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query upcoming assessments: %w", err)
	}
	defer rows.Close()

	var upcoming []*Upcoming
	for rows.Next() {
		var u Upcoming
		err := rows.Scan(
			&u.Assessment.ID,
			&u.Assessment.CourseID,
			&u.Assessment.Title,
			&u.Assessment.CourseTitle,
			&u.Assessment.DueAt,
			&u.Assessment.Active,
			&u.Assessment.Published,
			&u.Submitted,
		)
		if err != nil {
			return nil, fmt.Errorf("scan upcoming assessment: %w", err)
		}
		upcoming = append(upcoming, &u)
	}

	return upcoming, rows.Err()
}

// PostgresDirectory reads learner contact rows from the audience directory
// tables.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresDirectory creates a directory reader over an existing pool.
func NewPostgresDirectory(pool *pgxpool.Pool, logger *zap.Logger) *PostgresDirectory {
	return &PostgresDirectory{pool: pool, logger: logger}
}

// LearnerContact resolves a learner's email, display name and delivery
// preference.
func (d *PostgresDirectory) LearnerContact(ctx context.Context, learnerID uuid.UUID) (*Contact, error) {
	query := `
		SELECT learner_id, email, display_name, notification_preference
		FROM learner_contacts
		WHERE learner_id = $1
	`

	var c Contact
	err := d.pool.QueryRow(ctx, query, learnerID).Scan(&c.LearnerID, &c.Email, &c.DisplayName, &c.Preference)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("learner %s: %w", learnerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query learner contact: %w", err)
	}

	return &c, nil
}
