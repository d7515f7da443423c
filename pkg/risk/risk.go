// Package risk aggregates findings into a RiskVerdict.
//
// Two scoring policies coexist and callers pick one per subsystem:
// WeightedDeduction subtracts fixed per-severity penalties from 100, and
// NormalizedAverage scores the mean severity weight against the maximum.
// Independently, risk points (severity weight x confidence) give the
// operational tier used for alerting, and the score gives the letter grade
// used for compliance reporting.
//
// Everything in this package is pure: the same findings in the same order
// always produce the same verdict.
package risk

import (
	"fmt"
	"math"
	"strings"
	"time"

	serrors "github.com/exploopio/sentinel/pkg/errors"
	"github.com/exploopio/sentinel/pkg/model"
	"github.com/exploopio/sentinel/pkg/shared/severity"
)

// MaxScore is the score of an empty finding set.
const MaxScore = 100.0

// Policy turns a finding set into a score in [0, 100].
type Policy interface {
	Name() string
	Score(findings []*model.Finding) float64
}

// =============================================================================
// Weighted deduction
// =============================================================================

// WeightedDeduction starts at 100 and subtracts a fixed penalty per finding:
// CRITICAL 20, HIGH 10 (20 when Strict), MEDIUM 10, LOW 5. The score floors
// at 0. Confidence is not used; it already gated the finding into existence.
type WeightedDeduction struct {
	Strict bool
}

// Name implements Policy.
func (p WeightedDeduction) Name() string {
	if p.Strict {
		return "weighted_deduction_strict"
	}
	return "weighted_deduction"
}

// Penalty returns the deduction for one finding of severity s.
func (p WeightedDeduction) Penalty(s severity.Level) float64 {
	switch s {
	case severity.Critical:
		return 20
	case severity.High:
		if p.Strict {
			return 20
		}
		return 10
	case severity.Medium:
		return 10
	case severity.Low:
		return 5
	default:
		return 0
	}
}

// Score implements Policy.
func (p WeightedDeduction) Score(findings []*model.Finding) float64 {
	score := MaxScore
	for _, f := range findings {
		score -= p.Penalty(f.Severity)
	}
	return math.Max(score, 0)
}

// =============================================================================
// Normalized severity average
// =============================================================================

// NormalizedAverage maps severities to weights (CRITICAL 5, HIGH 4,
// MEDIUM 2, LOW 1) and scores 100 - mean/5 x 100, rounded to two decimals.
type NormalizedAverage struct{}

// Name implements Policy.
func (NormalizedAverage) Name() string { return "normalized_average" }

// Score implements Policy.
func (NormalizedAverage) Score(findings []*model.Finding) float64 {
	if len(findings) == 0 {
		return MaxScore
	}
	var total float64
	for _, f := range findings {
		total += f.Severity.Weight()
	}
	avg := total / float64(len(findings))
	return round2(MaxScore - avg/severity.MaxWeight*MaxScore)
}

// ParsePolicy resolves a policy by name. An empty name selects
// WeightedDeduction.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "weighted_deduction":
		return WeightedDeduction{}, nil
	case "weighted_deduction_strict":
		return WeightedDeduction{Strict: true}, nil
	case "normalized_average":
		return NormalizedAverage{}, nil
	default:
		return nil, serrors.E(serrors.KindInvalidInput, "risk.ParsePolicy", fmt.Sprintf("unknown aggregation policy %q", name))
	}
}

// =============================================================================
// Tiers and grades
// =============================================================================

// Risk-point tier boundaries (inclusive lower bounds).
const (
	CriticalPoints = 50.0
	HighPoints     = 30.0
	MediumPoints   = 15.0
)

// RiskPoints sums severity weight x confidence over findings.
// Zero-confidence findings contribute nothing.
func RiskPoints(findings []*model.Finding) float64 {
	var points float64
	for _, f := range findings {
		points += f.Severity.Weight() * f.Confidence
	}
	return points
}

// TierFromPoints maps risk points to an operational tier:
// >=50 CRITICAL, >=30 HIGH, >=15 MEDIUM, else LOW.
func TierFromPoints(points float64) severity.Level {
	switch {
	case points >= CriticalPoints:
		return severity.Critical
	case points >= HighPoints:
		return severity.High
	case points >= MediumPoints:
		return severity.Medium
	default:
		return severity.Low
	}
}

// Grade maps a score to a compliance letter grade:
// >=90 A, >=80 B, >=70 C, >=60 D, else F.
func Grade(score float64) model.Grade {
	switch {
	case score >= 90:
		return model.GradeA
	case score >= 80:
		return model.GradeB
	case score >= 70:
		return model.GradeC
	case score >= 60:
		return model.GradeD
	default:
		return model.GradeF
	}
}

// =============================================================================
// Aggregation
// =============================================================================

// Aggregate scores findings with policy and derives tier and grade.
// ContributingFindings lists finding IDs in input order. A nil policy
// selects WeightedDeduction.
func Aggregate(policy Policy, findings []*model.Finding, now time.Time) model.RiskVerdict {
	if policy == nil {
		policy = WeightedDeduction{}
	}
	score := policy.Score(findings)
	points := RiskPoints(findings)
	return model.RiskVerdict{
		Score:                score,
		Tier:                 TierFromPoints(points),
		Grade:                Grade(score),
		RiskPoints:           round2(points),
		Policy:               policy.Name(),
		ContributingFindings: model.FindingIDs(findings),
		ComputedAt:           now,
	}
}

// AggregateMetrics is the metrics-monitoring variant: anomalies and threats
// are scored together, anomalies first.
func AggregateMetrics(policy Policy, anomalies, threats []*model.Finding, now time.Time) model.RiskVerdict {
	all := make([]*model.Finding, 0, len(anomalies)+len(threats))
	all = append(all, anomalies...)
	all = append(all, threats...)
	return Aggregate(policy, all, now)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
