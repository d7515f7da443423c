package model

import (
	"fmt"
	"time"

	"github.com/exploopio/sentinel/pkg/shared/severity"
)

// RecommendationType is the kind of action a recommendation proposes.
type RecommendationType string

const (
	RecommendationPolicyUpdate           RecommendationType = "POLICY_UPDATE"
	RecommendationTraining               RecommendationType = "TRAINING"
	RecommendationInvestigation          RecommendationType = "INVESTIGATION"
	RecommendationSystemConfig           RecommendationType = "SYSTEM_CONFIG"
	RecommendationCommunicationGuideline RecommendationType = "COMMUNICATION_GUIDELINE"
)

// AllRecommendationTypes returns every recommendation type.
func AllRecommendationTypes() []RecommendationType {
	return []RecommendationType{
		RecommendationPolicyUpdate,
		RecommendationTraining,
		RecommendationInvestigation,
		RecommendationSystemConfig,
		RecommendationCommunicationGuideline,
	}
}

// Priority is the urgency of a recommendation.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// PriorityForSeverity maps a finding severity onto a recommendation priority.
func PriorityForSeverity(s severity.Level) Priority {
	switch s {
	case severity.Critical:
		return PriorityUrgent
	case severity.High:
		return PriorityHigh
	case severity.Medium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Rank orders priorities for sorting; higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// RecommendationStatus is the workflow state of a recommendation.
type RecommendationStatus string

const (
	RecommendationPending    RecommendationStatus = "PENDING"
	RecommendationInProgress RecommendationStatus = "IN_PROGRESS"
	RecommendationCompleted  RecommendationStatus = "COMPLETED"
)

// Recommendation is a localized, prioritized action plan for one finding.
type Recommendation struct {
	ID string `json:"id"`

	// Back-reference to the finding (non-owning)
	FindingID string   `json:"finding_id"`
	Category  Category `json:"category"`

	Type        RecommendationType `json:"type"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Steps       []string           `json:"steps"`
	Priority    Priority           `json:"priority"`
	Locale      string             `json:"locale"`

	Status RecommendationStatus `json:"status"`

	// Drafted is true when Description/Steps came from the classifier drafter
	Drafted bool `json:"drafted"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanTransition reports whether from -> to is a legal workflow step.
// COMPLETED is terminal; recommendations are never deleted.
func CanTransition(from, to RecommendationStatus) bool {
	switch from {
	case RecommendationPending:
		return to == RecommendationInProgress || to == RecommendationCompleted
	case RecommendationInProgress:
		return to == RecommendationCompleted
	default:
		return false
	}
}

// Transition moves the recommendation to status to.
func (r *Recommendation) Transition(to RecommendationStatus, now time.Time) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("recommendation %s: illegal status transition %s -> %s", r.ID, r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = now
	return nil
}
