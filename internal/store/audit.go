package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AppendAudit writes one immutable audit record.
func (r *Repository) AppendAudit(ctx context.Context, rec *AuditRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	query := `
		INSERT INTO audit_records (id, action, reminder_id, assessment_id, learner_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		rec.ID,
		rec.Action,
		rec.ReminderID,
		rec.AssessmentID,
		rec.LearnerID,
		rec.Detail,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}

	return nil
}

// ListAudit returns audit records filtered by assessment and/or learner,
// newest first. Nil filters match everything.
func (r *Repository) ListAudit(ctx context.Context, assessmentID, learnerID *uuid.UUID, limit, offset int) ([]*AuditRecord, error) {
	query := `
		SELECT id, action, reminder_id, assessment_id, learner_id, detail, created_at
		FROM audit_records
		WHERE ($1::uuid IS NULL OR assessment_id = $1)
		  AND ($2::uuid IS NULL OR learner_id = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Pool().Query(ctx, query, assessmentID, learnerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var records []*AuditRecord
	for rows.Next() {
		var rec AuditRecord
		err := rows.Scan(
			&rec.ID,
			&rec.Action,
			&rec.ReminderID,
			&rec.AssessmentID,
			&rec.LearnerID,
			&rec.Detail,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, &rec)
	}

	return records, rows.Err()
}
