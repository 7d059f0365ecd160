package subscription

import "github.com/inkwell/server/internal/module/plan"

// LimitsResponse is returned by GET /subscription/limits.
type LimitsResponse struct {
	Plan   plan.Tier   `json:"plan"`
	Limits plan.Limits `json:"limits"`
}

// PlansResponse is returned by GET /subscription/plans.
type PlansResponse struct {
	Plans []plan.Plan `json:"plans"`
}
