// Package model defines the records that flow through the analysis pipeline:
// input units, findings, verdicts, recommendations, notification policies and
// notifications.
//
// Units and findings are immutable by convention once constructed. Every
// component receives them by pointer and must not write to them.
package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// UnitKind distinguishes the two kinds of input unit.
type UnitKind string

const (
	UnitCommunication UnitKind = "communication"
	UnitMetrics       UnitKind = "metrics"
)

// Unit is one unit of input produced by an ingestion collaborator.
// Units reaching the pipeline are assumed to be deduplicated already.
type Unit interface {
	// SourceID is the stable identifier assigned by the ingestion collaborator.
	SourceID() string

	// Kind reports whether this is a communication or a metric snapshot.
	Kind() UnitKind

	// Content is the text handed to the classifier collaborator.
	Content() string

	// Locale is the locale tag of the unit ("" when unknown).
	Locale() string
}

// =============================================================================
// Communication
// =============================================================================

// SourceChannel is the kind of system a communication came from.
type SourceChannel string

const (
	SourceEmail SourceChannel = "EMAIL"
	SourceChat  SourceChannel = "CHAT"
	SourceSlack SourceChannel = "SLACK"
	SourceTeams SourceChannel = "TEAMS"
	SourceOther SourceChannel = "OTHER"
)

// Communication is an email or chat message.
type Communication struct {
	// Stable source identifier (provider message ID)
	ID string `json:"id"`

	// Source channel kind
	Channel SourceChannel `json:"channel"`

	// Message body (required)
	Body string `json:"content"`

	// Locale tag; empty means "detect"
	Language string `json:"language,omitempty"`

	// Optional email subject / chat thread title
	Subject string `json:"subject,omitempty"`

	// Sender and recipients as provider identifiers
	Sender     string   `json:"sender,omitempty"`
	Recipients []string `json:"recipients,omitempty"`

	// Arbitrary key/value context from the provider
	Context map[string]string `json:"context,omitempty"`

	// When the provider received the message
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

func (c *Communication) SourceID() string { return c.ID }
func (c *Communication) Kind() UnitKind   { return UnitCommunication }
func (c *Communication) Content() string  { return c.Body }
func (c *Communication) Locale() string   { return c.Language }

// Validate checks the fields the detectors rely on.
func (c *Communication) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("communication id is required")
	}
	if strings.TrimSpace(c.Body) == "" {
		return fmt.Errorf("communication %s has no content", c.ID)
	}
	return nil
}

// =============================================================================
// Metric Snapshot
// =============================================================================

// Application is the operational system a metric snapshot comes from.
type Application string

const (
	ApplicationAttendance  Application = "attendance"
	ApplicationLeave       Application = "leave"
	ApplicationPerformance Application = "performance"
	ApplicationCustom      Application = "custom"
)

// MetricSnapshot is a set of named metrics for one entity over a time window.
type MetricSnapshot struct {
	// Stable source identifier
	ID string `json:"id"`

	// Entity the metrics describe (employee, team, company)
	EntityID string `json:"entity_id"`

	// Originating application
	Application Application `json:"application"`

	// Named numeric metrics (e.g. "lateArrivals": 5)
	Numeric map[string]float64 `json:"numeric,omitempty"`

	// Named categorical metrics (e.g. "department": "sales")
	Categorical map[string]string `json:"categorical,omitempty"`

	// Observation window
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	// Additional entities affected by findings on this snapshot
	AffectedEntities []string `json:"affected_entities,omitempty"`
}

func (m *MetricSnapshot) SourceID() string { return m.ID }
func (m *MetricSnapshot) Kind() UnitKind   { return UnitMetrics }
func (m *MetricSnapshot) Locale() string   { return "" }

// Content renders the snapshot as sorted "name=value" lines.
func (m *MetricSnapshot) Content() string {
	lines := make([]string, 0, len(m.Numeric)+len(m.Categorical))
	for k, v := range m.Numeric {
		lines = append(lines, k+"="+strconv.FormatFloat(v, 'f', -1, 64))
	}
	for k, v := range m.Categorical {
		lines = append(lines, k+"="+v)
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// Validate checks the snapshot has an identity and a non-inverted window.
func (m *MetricSnapshot) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("metric snapshot id is required")
	}
	if strings.TrimSpace(m.EntityID) == "" {
		return fmt.Errorf("metric snapshot %s has no entity id", m.ID)
	}
	if !m.WindowStart.IsZero() && !m.WindowEnd.IsZero() && m.WindowEnd.Before(m.WindowStart) {
		return fmt.Errorf("metric snapshot %s window ends before it starts", m.ID)
	}
	return nil
}

// Entities returns the snapshot entity plus any additional affected entities.
func (m *MetricSnapshot) Entities() []string {
	return append([]string{m.EntityID}, m.AffectedEntities...)
}

var (
	_ Unit = (*Communication)(nil)
	_ Unit = (*MetricSnapshot)(nil)
)
