package domain

import "github.com/shopspring/decimal"

type PlanFeature struct {
	FeatureName        string           `json:"feature_name"`
	FeatureDescription string           `json:"feature_description"`
	IsIncluded         bool             `json:"is_included"`
	AdditionalCost     *decimal.Decimal `json:"additional_cost,omitempty"`
}

// PlanSnapshot is the plan as priced when an order was placed. Orders copy
// what they need from it and never follow later plan changes.
type PlanSnapshot struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Category       string          `json:"category"`
	Premium        decimal.Decimal `json:"premium"`
	CoverageAmount decimal.Decimal `json:"coverage_amount"`
	DurationMonths int             `json:"duration_months"`
	IsActive       bool            `json:"is_active"`
	Features       []PlanFeature   `json:"features,omitempty"`
}
