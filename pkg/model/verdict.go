package model

import (
	"time"

	"github.com/exploopio/sentinel/pkg/shared/severity"
)

// Grade is the letter grade used for compliance reporting.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// RiskVerdict is the aggregated score and tier of a finding set.
// Derived on demand; always reproducible from its inputs.
type RiskVerdict struct {
	// Score in [0, 100]; 100 is full compliance
	Score float64 `json:"score"`

	// Operational risk tier from risk-point accumulation
	Tier severity.Level `json:"tier"`

	// Compliance letter grade from the score
	Grade Grade `json:"grade"`

	// Accumulated risk points (sum of weight x confidence)
	RiskPoints float64 `json:"risk_points"`

	// Name of the aggregation policy that produced Score
	Policy string `json:"policy"`

	// Finding IDs in input order
	ContributingFindings []string `json:"contributing_findings"`

	ComputedAt time.Time `json:"computed_at"`
}
