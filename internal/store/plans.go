package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// AutomationPlan is a lightweight planning record, independent of tickets.
type AutomationPlan struct {
	ID                   int64   `json:"id"`
	FeatureName          string  `json:"feature_name"`
	ReleaseStatus        *string `json:"release_status"`
	Complexity           *string `json:"complexity"`
	Owner                *string `json:"owner"`
	WeeklyPlan           *string `json:"weekly_plan"`
	AutomationStatus     *string `json:"automation_status"`
	TestScenarioDocument *string `json:"test_scenario_document"`
	Notes                *string `json:"notes"`
	CreatedAt            string  `json:"created_at"`
	UpdatedAt            string  `json:"updated_at"`
}

// AutomationPlanUpdate carries partial updates; nil fields are left alone.
type AutomationPlanUpdate struct {
	FeatureName          *string
	ReleaseStatus        *string
	Complexity           *string
	Owner                *string
	WeeklyPlan           *string
	AutomationStatus     *string
	TestScenarioDocument *string
	Notes                *string
}

const planColumns = `id, feature_name, release_status, complexity, owner,
	weekly_plan, automation_status, test_scenario_document, notes,
	created_at, updated_at`

// AddAutomationPlan inserts a plan. feature_name is required.
func (db *DB) AddAutomationPlan(ctx context.Context, p *AutomationPlan) (int64, error) {
	if p.FeatureName == "" {
		return 0, fmt.Errorf("automation plan requires a feature_name")
	}

	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO automation_plans (
			feature_name, release_status, complexity, owner, weekly_plan,
			automation_status, test_scenario_document, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.FeatureName, p.ReleaseStatus, p.Complexity, p.Owner, p.WeeklyPlan,
		p.AutomationStatus, p.TestScenarioDocument, p.Notes)
	if err != nil {
		return 0, fmt.Errorf("failed to add automation plan: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read automation plan id: %w", err)
	}
	return id, nil
}

// ListAutomationPlans returns all plans, newest first.
func (db *DB) ListAutomationPlans(ctx context.Context) ([]AutomationPlan, error) {
	return db.queryPlans(ctx,
		"SELECT "+planColumns+" FROM automation_plans ORDER BY created_at DESC, id DESC")
}

// ListAutomationPlansByMonth returns the plans created in the given
// "YYYY-MM" month.
func (db *DB) ListAutomationPlansByMonth(ctx context.Context, monthYear string) ([]AutomationPlan, error) {
	return db.queryPlans(ctx, `
		SELECT `+planColumns+` FROM automation_plans
		WHERE strftime('%Y-%m', created_at) = ?
		ORDER BY created_at DESC, id DESC`, monthYear)
}

// GetAutomationStatusDistribution counts the month's plans per automation
// status; NULL statuses group under "Not Set".
func (db *DB) GetAutomationStatusDistribution(ctx context.Context, monthYear string) ([]StatusCount, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT automation_status, COUNT(*) AS count FROM automation_plans
		WHERE strftime('%Y-%m', created_at) = ?
		GROUP BY automation_status
		ORDER BY count DESC, automation_status ASC`, monthYear)
	if err != nil {
		return nil, fmt.Errorf("failed to query automation status distribution: %w", err)
	}
	defer rows.Close()

	return scanStatusCounts(rows)
}

// UpdateAutomationPlan applies the non-nil fields of the update. Returns
// ErrNotFound for unknown ids; an empty update is a no-op.
func (db *DB) UpdateAutomationPlan(ctx context.Context, id int64, u AutomationPlanUpdate) error {
	var sets []string
	var args []any

	add := func(column string, value *string) {
		if value != nil {
			sets = append(sets, column+" = ?")
			args = append(args, *value)
		}
	}
	add("feature_name", u.FeatureName)
	add("release_status", u.ReleaseStatus)
	add("complexity", u.Complexity)
	add("owner", u.Owner)
	add("weekly_plan", u.WeeklyPlan)
	add("automation_status", u.AutomationStatus)
	add("test_scenario_document", u.TestScenarioDocument)
	add("notes", u.Notes)

	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	res, err := db.conn.ExecContext(ctx,
		"UPDATE automation_plans SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update automation plan %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update automation plan %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAutomationPlan removes a plan. Deleting an unknown id is a no-op.
func (db *DB) DeleteAutomationPlan(ctx context.Context, id int64) error {
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM automation_plans WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete automation plan %d: %w", id, err)
	}
	return nil
}

func (db *DB) queryPlans(ctx context.Context, query string, args ...any) ([]AutomationPlan, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list automation plans: %w", err)
	}
	defer rows.Close()

	plans := []AutomationPlan{}
	for rows.Next() {
		var p AutomationPlan
		err := rows.Scan(
			&p.ID, &p.FeatureName, &p.ReleaseStatus, &p.Complexity, &p.Owner,
			&p.WeeklyPlan, &p.AutomationStatus, &p.TestScenarioDocument,
			&p.Notes, &p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// GetAutomationPlan retrieves one plan by id.
func (db *DB) GetAutomationPlan(ctx context.Context, id int64) (*AutomationPlan, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+planColumns+" FROM automation_plans WHERE id = ?", id)

	var p AutomationPlan
	err := row.Scan(
		&p.ID, &p.FeatureName, &p.ReleaseStatus, &p.Complexity, &p.Owner,
		&p.WeeklyPlan, &p.AutomationStatus, &p.TestScenarioDocument,
		&p.Notes, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get automation plan %d: %w", id, err)
	}
	return &p, nil
}
