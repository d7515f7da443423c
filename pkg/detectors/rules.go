package detectors

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	serrors "github.com/exploopio/sentinel/pkg/errors"
	"github.com/exploopio/sentinel/pkg/model"
	"github.com/exploopio/sentinel/pkg/shared/severity"
)

// Operator compares a metric against a condition value.
type Operator string

const (
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpBetween     Operator = "between"
)

// Condition is one threshold test against a snapshot metric.
type Condition struct {
	// Metric name (numeric or categorical)
	Field string `yaml:"field" json:"field"`

	Operator Operator `yaml:"operator" json:"operator"`

	// Numeric operand; lower bound for between
	Value float64 `yaml:"value" json:"value"`

	// Upper bound for between (inclusive)
	Upper float64 `yaml:"upper,omitempty" json:"upper,omitempty"`

	// String operand for categorical metrics (equals, not_equals, contains)
	Text string `yaml:"text,omitempty" json:"text,omitempty"`

	// Contribution to the finding confidence, in [0, 1]
	Weight float64 `yaml:"weight" json:"weight"`
}

// RuleSpec describes a metrics-monitoring detector. All conditions must hold
// for the rule to fire.
type RuleSpec struct {
	ID          string            `yaml:"id" json:"id"`
	Category    model.Category    `yaml:"category" json:"category"`
	Application model.Application `yaml:"application,omitempty" json:"application,omitempty"`
	Title       string            `yaml:"title" json:"title"`
	Description string            `yaml:"description" json:"description"`
	Severity    severity.Level    `yaml:"severity" json:"severity"`
	Conditions  []Condition       `yaml:"conditions" json:"conditions"`
}

// Validate checks the rule is well formed.
func (s RuleSpec) Validate() error {
	const op = "detectors.RuleSpec.Validate"
	if s.ID == "" {
		return serrors.E(serrors.KindInvalidInput, op, "rule id is required")
	}
	if !s.Category.IsValid() {
		return serrors.E(serrors.KindUnknownCategory, op, fmt.Sprintf("rule %s: unknown category %q", s.ID, s.Category))
	}
	if !s.Severity.IsValid() {
		return serrors.E(serrors.KindInvalidInput, op, fmt.Sprintf("rule %s: invalid severity %q", s.ID, s.Severity))
	}
	if len(s.Conditions) == 0 {
		return serrors.E(serrors.KindInvalidInput, op, fmt.Sprintf("rule %s: no conditions", s.ID))
	}
	for _, c := range s.Conditions {
		switch c.Operator {
		case OpGreaterThan, OpLessThan, OpEquals, OpNotEquals, OpContains:
		case OpBetween:
			if c.Upper < c.Value {
				return serrors.E(serrors.KindInvalidInput, op, fmt.Sprintf("rule %s: between bounds inverted on %s", s.ID, c.Field))
			}
		default:
			return serrors.E(serrors.KindInvalidInput, op, fmt.Sprintf("rule %s: unknown operator %q", s.ID, c.Operator))
		}
		if c.Weight < 0 || c.Weight > 1 {
			return serrors.E(serrors.KindInvalidInput, op, fmt.Sprintf("rule %s: weight %v outside [0,1]", s.ID, c.Weight))
		}
	}
	return nil
}

// MetricRuleSpecs returns the built-in attendance, leave and performance rules.
func MetricRuleSpecs() []RuleSpec {
	return []RuleSpec{
		{
			ID:          IDAttendance,
			Category:    model.CategoryIrregularAttendance,
			Application: model.ApplicationAttendance,
			Title:       "Irregular Attendance Pattern",
			Description: "Irregular clock-in/clock-out patterns detected",
			Severity:    severity.Medium,
			Conditions:  []Condition{{Field: "lateArrivals", Operator: OpGreaterThan, Value: 3, Weight: 0.7}},
		},
		{
			ID:          IDLeave,
			Category:    model.CategoryExcessiveLeave,
			Application: model.ApplicationLeave,
			Title:       "Excessive Sick Leave",
			Description: "Excessive sick leave pattern detected",
			Severity:    severity.High,
			Conditions:  []Condition{{Field: "sickDays", Operator: OpGreaterThan, Value: 8, Weight: 0.8}},
		},
		{
			ID:          IDPerformance,
			Category:    model.CategoryPerformanceDecline,
			Application: model.ApplicationPerformance,
			Title:       "Performance Decline",
			Description: "Significant performance decline detected",
			Severity:    severity.Medium,
			Conditions:  []Condition{{Field: "performanceScore", Operator: OpLessThan, Value: 70, Weight: 0.9}},
		},
	}
}

// RuleDetector evaluates threshold rules against metric snapshots. It does
// not call the classifier.
type RuleDetector struct {
	spec RuleSpec
	opts Options
}

// NewRuleDetector validates spec and creates a detector for it.
func NewRuleDetector(spec RuleSpec, opts Options) (*RuleDetector, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &RuleDetector{spec: spec, opts: opts.withDefaults()}, nil
}

// DefaultMetricDetectors returns detectors for MetricRuleSpecs.
func DefaultMetricDetectors(opts Options) []Detector {
	specs := MetricRuleSpecs()
	out := make([]Detector, 0, len(specs))
	for _, s := range specs {
		d, err := NewRuleDetector(s, opts)
		if err != nil {
			panic(err) // built-in rules are static
		}
		out = append(out, d)
	}
	return out
}

func (d *RuleDetector) ID() string               { return d.spec.ID }
func (d *RuleDetector) Category() model.Category { return d.spec.Category }

// Detect implements Detector.
func (d *RuleDetector) Detect(_ context.Context, unit model.Unit) (*model.Finding, error) {
	snap, ok := unit.(*model.MetricSnapshot)
	if !ok {
		return nil, nil
	}
	if d.spec.Application != "" && snap.Application != "" && snap.Application != d.spec.Application {
		return nil, nil
	}

	evidence := make([]string, 0, len(d.spec.Conditions))
	var weight float64
	for _, c := range d.spec.Conditions {
		matched, observed := evaluate(c, snap)
		if !matched {
			return nil, nil
		}
		evidence = append(evidence, fmt.Sprintf("%s=%s (%s)", c.Field, observed, describe(c)))
		weight += c.Weight
	}

	return model.NewFinding(model.FindingParams{
		ID:               d.opts.NewID(),
		Category:         d.spec.Category,
		Severity:         d.spec.Severity,
		Confidence:       weight / float64(len(d.spec.Conditions)),
		Title:            d.spec.Title,
		Description:      d.spec.Description,
		Evidence:         evidence,
		AffectedEntities: snap.Entities(),
		Detector:         d.spec.ID,
		Unit:             snap,
		CreatedAt:        d.opts.Clock(),
	}), nil
}

// evaluate reports whether c holds on snap and the observed value.
// A missing metric never matches.
func evaluate(c Condition, snap *model.MetricSnapshot) (bool, string) {
	if v, ok := snap.Numeric[c.Field]; ok {
		observed := strconv.FormatFloat(v, 'f', -1, 64)
		switch c.Operator {
		case OpGreaterThan:
			return v > c.Value, observed
		case OpLessThan:
			return v < c.Value, observed
		case OpEquals:
			return v == c.Value, observed
		case OpNotEquals:
			return v != c.Value, observed
		case OpBetween:
			return v >= c.Value && v <= c.Upper, observed
		case OpContains:
			return strings.Contains(observed, c.Text), observed
		}
		return false, observed
	}

	if s, ok := snap.Categorical[c.Field]; ok {
		switch c.Operator {
		case OpEquals:
			return strings.EqualFold(s, c.Text), s
		case OpNotEquals:
			return !strings.EqualFold(s, c.Text), s
		case OpContains:
			return strings.Contains(strings.ToLower(s), strings.ToLower(c.Text)), s
		}
		return false, s
	}
	return false, ""
}

func describe(c Condition) string {
	num := strconv.FormatFloat(c.Value, 'f', -1, 64)
	switch c.Operator {
	case OpBetween:
		return fmt.Sprintf("between %s and %s", num, strconv.FormatFloat(c.Upper, 'f', -1, 64))
	case OpContains:
		return "contains " + strconv.Quote(c.Text)
	case OpEquals, OpNotEquals:
		if c.Text != "" {
			return string(c.Operator) + " " + strconv.Quote(c.Text)
		}
	}
	return string(c.Operator) + " " + num
}

var _ Detector = (*RuleDetector)(nil)
