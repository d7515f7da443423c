package risk

import (
	"math"

	"github.com/exploopio/sentinel/pkg/model"
	"github.com/exploopio/sentinel/pkg/shared/severity"
)

// complianceWeight caps severities at HIGH for the dashboard score.
func complianceWeight(s severity.Level) float64 {
	switch s {
	case severity.Critical, severity.High:
		return 3
	case severity.Medium:
		return 2
	default:
		return 1
	}
}

// ComplianceScore is the dashboard score of an open threat set: the share of
// the worst-case risk (every threat HIGH) that is not realized, as a rounded
// percentage. An empty set scores 100.
func ComplianceScore(threats []*model.Finding) int {
	if len(threats) == 0 {
		return 100
	}
	var points float64
	for _, t := range threats {
		points += complianceWeight(t.Severity)
	}
	maxRisk := float64(len(threats)) * 3
	return int(math.Round((maxRisk - points) / maxRisk * 100))
}

// PostureInput holds the counts behind the compliance report score.
type PostureInput struct {
	ResolvedThreats    int `json:"resolved_threats"`
	TotalThreats       int `json:"total_threats"`
	AnalyzedUnits      int `json:"analyzed_units"`
	TotalUnits         int `json:"total_units"`
	ActiveIntegrations int `json:"active_integrations"`
	TotalIntegrations  int `json:"total_integrations"`
}

// Posture is the compliance report score with its component rates.
type Posture struct {
	Score                 int         `json:"score"`
	Grade                 model.Grade `json:"grade"`
	ThreatResolutionRate  int         `json:"threat_resolution_rate"`
	CommunicationAnalysis int         `json:"communication_analysis_rate"`
	IntegrationHealthRate int         `json:"integration_health_rate"`
}

// PostureScore weights threat resolution 0.4, analysis coverage 0.4 and
// integration health 0.2. A component with an empty denominator counts as
// fully healthy.
func PostureScore(in PostureInput) Posture {
	resolution := rate(in.ResolvedThreats, in.TotalThreats)
	analysis := rate(in.AnalyzedUnits, in.TotalUnits)
	health := rate(in.ActiveIntegrations, in.TotalIntegrations)

	score := int(math.Round((resolution*0.4 + analysis*0.4 + health*0.2) * 100))
	return Posture{
		Score:                 score,
		Grade:                 Grade(float64(score)),
		ThreatResolutionRate:  int(math.Round(resolution * 100)),
		CommunicationAnalysis: int(math.Round(analysis * 100)),
		IntegrationHealthRate: int(math.Round(health * 100)),
	}
}

func rate(part, total int) float64 {
	if total <= 0 {
		return 1
	}
	return float64(part) / float64(total)
}
