package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// DefaultPolicy describes one seeded reminder offset.
type DefaultPolicy struct {
	Name        string
	DaysBefore  int
	HoursBefore int
}

// DefaultPolicies are the offsets seeded at system initialization.
var DefaultPolicies = []DefaultPolicy{
	{Name: "1 week before", DaysBefore: 7, HoursBefore: 0},
	{Name: "3 days before", DaysBefore: 3, HoursBefore: 0},
	{Name: "1 day before", DaysBefore: 1, HoursBefore: 0},
	{Name: "6 hours before", DaysBefore: 0, HoursBefore: 6},
}

// SeedDefaultPolicies inserts the default policy catalog. Offsets that
// already exist are left alone, so the seed is safe to run on every startup.
func (r *Repository) SeedDefaultPolicies(ctx context.Context) error {
	query := `
		INSERT INTO reminder_policies (id, name, days_before, hours_before, active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (days_before, hours_before) WHERE active DO NOTHING
	`

	for _, p := range DefaultPolicies {
		if _, err := r.db.Pool().Exec(ctx, query, uuid.New(), p.Name, p.DaysBefore, p.HoursBefore); err != nil {
			return fmt.Errorf("seed policy %q: %w", p.Name, err)
		}
	}

	r.logger.Info("reminder policy catalog seeded", zap.Int("defaults", len(DefaultPolicies)))
	return nil
}

const policyColumns = `id, name, days_before, hours_before, active, created_at`

func scanPolicy(row pgx.Row) (*ReminderPolicy, error) {
	var p ReminderPolicy
	err := row.Scan(&p.ID, &p.Name, &p.DaysBefore, &p.HoursBefore, &p.Active, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListActivePolicies returns the active policy catalog ordered by offset,
// largest first.
func (r *Repository) ListActivePolicies(ctx context.Context) ([]*ReminderPolicy, error) {
	query := `
		SELECT ` + policyColumns + `
		FROM reminder_policies
		WHERE active
		ORDER BY days_before DESC, hours_before DESC
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query active policies: %w", err)
	}
	defer rows.Close()

	var policies []*ReminderPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		policies = append(policies, p)
	}

	return policies, rows.Err()
}

// GetPolicy retrieves a policy by ID, active or not. Deactivated policies
// stay resolvable because existing schedules still reference them.
func (r *Repository) GetPolicy(ctx context.Context, id uuid.UUID) (*ReminderPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM reminder_policies WHERE id = $1`

	p, err := scanPolicy(r.db.Pool().QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query policy: %w", err)
	}

	return p, nil
}

// DeactivatePolicy retires a policy from the active catalog. The row is
// never deleted: scheduled reminders keep their policy reference.
func (r *Repository) DeactivatePolicy(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE reminder_policies SET active = FALSE WHERE id = $1 AND active`

	tag, err := r.db.Pool().Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deactivate policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}

	r.logger.Info("reminder policy deactivated", zap.String("policy_id", id.String()))
	return nil
}
