package model

import (
	"sort"
	"time"

	"github.com/exploopio/sentinel/pkg/shared/severity"
)

// Finding is one detector's verdict on one unit for one category.
// Created by exactly one detector and never mutated afterwards.
type Finding struct {
	// Unique identifier
	ID string `json:"id"`

	// Risk category
	Category Category `json:"category"`

	// Severity (required, never UNKNOWN)
	Severity severity.Level `json:"severity"`

	// Confidence in [0, 1]
	Confidence float64 `json:"confidence"`

	// Human-readable summary
	Title       string `json:"title"`
	Description string `json:"description"`

	// Ordered evidence strings (indicators, matched metric values)
	Evidence []string `json:"evidence,omitempty"`

	// Set of affected entity IDs (sorted, unique)
	AffectedEntities []string `json:"affected_entities,omitempty"`

	// Detector that produced the finding
	Detector string `json:"detector"`

	// Source unit
	SourceID   string        `json:"source_id"`
	SourceKind UnitKind      `json:"source_kind"`
	Channel    SourceChannel `json:"channel,omitempty"`

	// Locale the finding was raised in
	Locale string `json:"locale,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// FindingParams carries the inputs of NewFinding.
type FindingParams struct {
	ID               string
	Category         Category
	Severity         severity.Level
	Confidence       float64
	Title            string
	Description      string
	Evidence         []string
	AffectedEntities []string
	Detector         string
	Unit             Unit
	Locale           string
	CreatedAt        time.Time
}

// NewFinding builds a finding, clamping confidence to [0, 1], copying the
// evidence slice and normalizing affected entities into a sorted set.
func NewFinding(p FindingParams) *Finding {
	f := &Finding{
		ID:               p.ID,
		Category:         p.Category,
		Severity:         p.Severity,
		Confidence:       clamp01(p.Confidence),
		Title:            p.Title,
		Description:      p.Description,
		Evidence:         append([]string(nil), p.Evidence...),
		AffectedEntities: entitySet(p.AffectedEntities),
		Detector:         p.Detector,
		Locale:           p.Locale,
		CreatedAt:        p.CreatedAt,
	}
	if p.Unit != nil {
		f.SourceID = p.Unit.SourceID()
		f.SourceKind = p.Unit.Kind()
		if c, ok := p.Unit.(*Communication); ok {
			f.Channel = c.Channel
		}
	}
	return f
}

// FindingIDs returns the IDs of findings in order.
func FindingIDs(findings []*Finding) []string {
	ids := make([]string, 0, len(findings))
	for _, f := range findings {
		ids = append(ids, f.ID)
	}
	return ids
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func entitySet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, e := range in {
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
