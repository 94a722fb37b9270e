package plans

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/joao-fontenele/insureflow/internal/domain"
)

const planColumns = `id, name, description, category, premium, coverage_amount, duration_months, is_active`

type PlanRepository struct {
	db *sql.DB
}

func NewPlanRepository(db *sql.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// List returns plans ordered by name with their features. An empty category
// matches every plan.
func (r *PlanRepository) List(ctx context.Context, category string, includeInactive bool) ([]domain.PlanSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+planColumns+`
		FROM plans.plans
		WHERE ($1::text = '' OR category = $1::text) AND ($2::boolean OR is_active)
		ORDER BY name
	`, category, includeInactive)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	planMap := make(map[string]*domain.PlanSnapshot)
	var planIDs []string

	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		planMap[plan.ID] = plan
		planIDs = append(planIDs, plan.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(planIDs) == 0 {
		return []domain.PlanSnapshot{}, nil
	}

	featureRows, err := r.db.QueryContext(ctx, `
		SELECT plan_id, feature_name, feature_description, is_included, additional_cost
		FROM plans.plan_features
		WHERE plan_id = ANY($1)
		ORDER BY is_included DESC, feature_name
	`, pq.Array(planIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = featureRows.Close() }()

	for featureRows.Next() {
		var planID string
		var f domain.PlanFeature
		if err := featureRows.Scan(&planID, &f.FeatureName, &f.FeatureDescription, &f.IsIncluded, &f.AdditionalCost); err != nil {
			return nil, err
		}
		plan := planMap[planID]
		plan.Features = append(plan.Features, f)
	}

	if err := featureRows.Err(); err != nil {
		return nil, err
	}

	plans := make([]domain.PlanSnapshot, 0, len(planIDs))
	for _, id := range planIDs {
		plans = append(plans, *planMap[id])
	}

	return plans, nil
}

func (r *PlanRepository) Get(ctx context.Context, id string) (*domain.PlanSnapshot, error) {
	plan, err := scanPlan(r.db.QueryRowContext(ctx, `
		SELECT `+planColumns+`
		FROM plans.plans
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT feature_name, feature_description, is_included, additional_cost
		FROM plans.plan_features
		WHERE plan_id = $1
		ORDER BY is_included DESC, feature_name
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var f domain.PlanFeature
		if err := rows.Scan(&f.FeatureName, &f.FeatureDescription, &f.IsIncluded, &f.AdditionalCost); err != nil {
			return nil, err
		}
		plan.Features = append(plan.Features, f)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return plan, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*domain.PlanSnapshot, error) {
	var p domain.PlanSnapshot
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Premium, &p.CoverageAmount, &p.DurationMonths, &p.IsActive); err != nil {
		return nil, err
	}
	return &p, nil
}
