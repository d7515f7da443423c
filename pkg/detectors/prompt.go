package detectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/exploopio/sentinel/pkg/classifier"
	serrors "github.com/exploopio/sentinel/pkg/errors"
	"github.com/exploopio/sentinel/pkg/locale"
	"github.com/exploopio/sentinel/pkg/model"
)

// PromptSpec describes a classifier-backed communication detector.
type PromptSpec struct {
	ID       string
	Category model.Category

	// Title given to findings
	Title string

	// What the classifier is asked to look at
	Task string

	// Indicator bullets listed in the instructions
	Indicators []string

	// Minimum confidence; a result must be strictly above it
	Gate float64
}

// Instructions renders the category-specific instruction text.
func (s PromptSpec) Instructions() string {
	var b strings.Builder
	b.WriteString(s.Task)
	b.WriteString("\nLook for patterns such as:\n")
	for _, ind := range s.Indicators {
		b.WriteString("- ")
		b.WriteString(ind)
		b.WriteByte('\n')
	}
	return b.String()
}

// CommunicationSpecs returns the built-in communication detector specs in
// registration order.
func CommunicationSpecs() []PromptSpec {
	return []PromptSpec{
		{
			ID:       IDFraud,
			Category: model.CategoryFraud,
			Title:    "Potential Fraud Detected",
			Task:     "Analyze the following communication for potential fraud indicators.",
			Indicators: []string{
				"Unusual transaction requests",
				"Pressure tactics or urgency",
				"Requests for sensitive information",
				"Suspicious links or attachments",
				"Impersonation attempts",
			},
			Gate: 0.6,
		},
		{
			ID:       IDHarassment,
			Category: model.CategoryHarassment,
			Title:    "Potential Harassment Detected",
			Task:     "Analyze the following communication for potential harassment or bullying.",
			Indicators: []string{
				"Inappropriate language or slurs",
				"Personal attacks or insults",
				"Threats or intimidation",
				"Discriminatory content",
				"Unwanted advances",
			},
			Gate: 0.7,
		},
		{
			ID:       IDBurnout,
			Category: model.CategoryBurnout,
			Title:    "Employee Burnout Indicators",
			Task:     "Analyze the following communication for potential employee burnout indicators.",
			Indicators: []string{
				"Expressions of exhaustion or overwhelm",
				"Negative sentiment about work",
				"Mention of excessive workload",
				"Signs of stress or anxiety",
				"Decreased engagement or motivation",
			},
			Gate: 0.6,
		},
		{
			ID:       IDInformationLeakage,
			Category: model.CategoryInformationLeakage,
			Title:    "Potential Information Leakage",
			Task:     "Analyze the following communication for potential information leakage.",
			Indicators: []string{
				"Sharing of sensitive company data",
				"Customer information being shared inappropriately",
				"Confidential business information",
				"Personal data of employees or clients",
				"Intellectual property being shared",
			},
			Gate: 0.7,
		},
		{
			ID:       IDDissatisfaction,
			Category: model.CategoryDissatisfaction,
			Title:    "Employee Dissatisfaction Detected",
			Task:     "Analyze the following communication for potential employee dissatisfaction.",
			Indicators: []string{
				"Negative sentiment about company or management",
				"Expressions of frustration or anger",
				"Mention of wanting to leave or quit",
				"Complaints about work environment",
				"Lack of engagement or enthusiasm",
			},
			Gate: 0.6,
		},
	}
}

// PromptDetector asks the classifier collaborator about one category and
// gates the reply on confidence. It only applies to communications.
type PromptDetector struct {
	spec       PromptSpec
	classifier classifier.Classifier
	opts       Options
}

// NewPromptDetector creates a detector from spec.
func NewPromptDetector(spec PromptSpec, c classifier.Classifier, opts Options) *PromptDetector {
	return &PromptDetector{spec: spec, classifier: c, opts: opts.withDefaults()}
}

// DefaultCommunicationDetectors returns the five communication detectors in
// the order FRAUD, HARASSMENT, BURNOUT, INFORMATION_LEAKAGE, DISSATISFACTION.
func DefaultCommunicationDetectors(c classifier.Classifier, opts Options) []Detector {
	specs := CommunicationSpecs()
	out := make([]Detector, 0, len(specs))
	for _, s := range specs {
		out = append(out, NewPromptDetector(s, c, opts))
	}
	return out
}

func (d *PromptDetector) ID() string               { return d.spec.ID }
func (d *PromptDetector) Category() model.Category { return d.spec.Category }

// Gate returns the minimum confidence of the detector.
func (d *PromptDetector) Gate() float64 { return d.spec.Gate }

// Detect implements Detector.
func (d *PromptDetector) Detect(ctx context.Context, unit model.Unit) (*model.Finding, error) {
	op := "detectors." + d.spec.ID

	comm, ok := unit.(*model.Communication)
	if !ok {
		return nil, nil
	}
	if d.classifier == nil {
		return nil, serrors.E(serrors.KindClassifierUnavailable, op, "no classifier configured")
	}

	tag := locale.Resolve(comm.Language, comm.Body)
	res, err := d.classifier.Classify(ctx, classifier.Request{
		Category:     d.spec.Category,
		Instructions: d.spec.Instructions(),
		Content:      comm.Body,
		Locale:       tag,
	})
	if err != nil {
		if serrors.GetKind(err) == serrors.KindUnknown {
			return nil, serrors.E(serrors.KindClassifierUnavailable, op, err)
		}
		return nil, serrors.Wrap(err, op)
	}
	if res == nil {
		return nil, serrors.E(serrors.KindMalformedResponse, op, "empty classifier result")
	}

	if !res.Flagged || res.Confidence <= d.spec.Gate {
		return nil, nil
	}
	if !res.Severity.IsValid() {
		return nil, serrors.E(serrors.KindMalformedResponse, op, fmt.Sprintf("unknown severity %q", res.Severity))
	}

	var entities []string
	if comm.Sender != "" {
		entities = append(entities, comm.Sender)
	}

	return model.NewFinding(model.FindingParams{
		ID:               d.opts.NewID(),
		Category:         d.spec.Category,
		Severity:         res.Severity,
		Confidence:       res.Confidence,
		Title:            d.spec.Title,
		Description:      res.Explanation,
		Evidence:         res.Evidence,
		AffectedEntities: entities,
		Detector:         d.spec.ID,
		Unit:             comm,
		Locale:           tag,
		CreatedAt:        d.opts.Clock(),
	}), nil
}

var _ Detector = (*PromptDetector)(nil)
