// Package classifier defines the contract of the external text classifier and
// ships clients for it: an OpenAI-compatible chat completion client, a gRPC
// client for a classifier sidecar, and a rate-limiting wrapper.
//
// A classifier answers one question per call: does this content exhibit the
// given category, with what confidence and severity.
package classifier

import (
	"context"

	"github.com/exploopio/sentinel/pkg/model"
	"github.com/exploopio/sentinel/pkg/shared/severity"
)

// Request is one classification call.
type Request struct {
	// Category under test
	Category model.Category `json:"category"`

	// Category-specific instructions (what to look for)
	Instructions string `json:"instructions"`

	// Unit content
	Content string `json:"content"`

	// Locale tag of the content
	Locale string `json:"locale,omitempty"`
}

// Result is a conforming classifier reply.
type Result struct {
	Flagged     bool           `json:"flagged"`
	Confidence  float64        `json:"confidence"`
	Severity    severity.Level `json:"severity"`
	Explanation string         `json:"explanation"`
	Evidence    []string       `json:"evidence,omitempty"`
}

// Classifier is the classifier collaborator.
//
// Implementations return KindClassifierUnavailable errors when the backend
// cannot be reached and KindMalformedResponse errors when the reply does not
// conform to Result.
type Classifier interface {
	Classify(ctx context.Context, req Request) (*Result, error)
}

// Func adapts a function to the Classifier interface.
type Func func(ctx context.Context, req Request) (*Result, error)

// Classify calls f.
func (f Func) Classify(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

// =============================================================================
// Drafting
// =============================================================================

// DraftRequest asks for free-text remediation prose for one finding.
type DraftRequest struct {
	Category    model.Category           `json:"category"`
	Type        model.RecommendationType `json:"type"`
	Severity    severity.Level           `json:"severity"`
	Confidence  float64                  `json:"confidence"`
	Title       string                   `json:"title"`
	Description string                   `json:"description"`
	Locale      string                   `json:"locale"`
}

// Draft is drafted recommendation prose.
type Draft struct {
	Description string   `json:"description"`
	Steps       []string `json:"steps"`
}

// Drafter produces recommendation prose. Callers fall back to static
// templates when it fails.
type Drafter interface {
	Draft(ctx context.Context, req DraftRequest) (*Draft, error)
}

// DrafterFunc adapts a function to the Drafter interface.
type DrafterFunc func(ctx context.Context, req DraftRequest) (*Draft, error)

// Draft calls f.
func (f DrafterFunc) Draft(ctx context.Context, req DraftRequest) (*Draft, error) {
	return f(ctx, req)
}
