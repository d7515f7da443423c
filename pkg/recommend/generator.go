// Package recommend turns findings into localized, prioritized action plans.
//
// One recommendation is produced per finding. The text comes from a static
// template catalog; an optional drafter may rewrite the description and
// steps, and any drafter failure falls back to the template text.
package recommend

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/exploopio/sentinel/pkg/classifier"
	"github.com/exploopio/sentinel/pkg/core"
	serrors "github.com/exploopio/sentinel/pkg/errors"
	"github.com/exploopio/sentinel/pkg/locale"
	"github.com/exploopio/sentinel/pkg/metrics"
	"github.com/exploopio/sentinel/pkg/model"
)

// Text sources reported to metrics.
const (
	SourceTemplate = "template"
	SourceDrafted  = "drafted"
	SourceFallback = "fallback"
)

// Config configures a Generator.
type Config struct {
	// Catalog of templates (default: embedded catalog)
	Catalog *Catalog

	// Drafter rewrites description and steps (optional)
	Drafter classifier.Drafter

	NewID   core.IDGenerator
	Clock   core.Clock
	Logger  core.Logger
	Metrics metrics.Collector
}

// Generator produces recommendations. Safe for concurrent use.
type Generator struct {
	catalog *Catalog
	drafter classifier.Drafter
	newID   core.IDGenerator
	clock   core.Clock
	logger  core.Logger
	metrics metrics.Collector
}

// New creates a generator. The catalog is validated here so that an
// incomplete category mapping fails at configuration load.
func New(cfg Config) (*Generator, error) {
	cat := cfg.Catalog
	if cat == nil {
		var err error
		if cat, err = DefaultCatalog(); err != nil {
			return nil, err
		}
	} else if err := cat.Validate(); err != nil {
		return nil, err
	}

	g := &Generator{
		catalog: cat,
		drafter: cfg.Drafter,
		newID:   cfg.NewID,
		clock:   cfg.Clock,
		logger:  core.OrNop(cfg.Logger),
		metrics: metrics.OrNop(cfg.Metrics),
	}
	if g.newID == nil {
		g.newID = core.NewID
	}
	if g.clock == nil {
		g.clock = core.SystemClock
	}
	return g, nil
}

// Catalog returns the generator's template catalog.
func (g *Generator) Catalog() *Catalog {
	return g.catalog
}

// Generate builds the recommendation for f in the requested locale.
//
// The locale argument wins over the finding's locale; unsupported or empty
// values fall through to the finding locale and then the catalog default.
// Priority follows the finding severity. Drafter failures are returned as
// warnings alongside a template-based recommendation. Only an unmapped
// category or a canceled context produce an error.
func (g *Generator) Generate(ctx context.Context, f *model.Finding, loc string) (*model.Recommendation, serrors.Warnings, error) {
	const op = "recommend.Generate"

	if f == nil {
		return nil, nil, serrors.E(serrors.KindInvalidInput, op, "nil finding")
	}
	recType, ok := g.catalog.TypeFor(f.Category)
	if !ok {
		return nil, nil, serrors.E(serrors.KindUnknownCategory, op, fmt.Sprintf("no template for category %q", f.Category))
	}

	requested := g.resolveLocale(loc, f.Locale)
	tpl, tplLocale, ok := g.catalog.Lookup(recType, requested)
	if !ok {
		return nil, nil, serrors.E(serrors.KindUnknownCategory, op, fmt.Sprintf("no %s template in default locale", recType))
	}

	priority := model.PriorityForSeverity(f.Severity)
	if !f.Severity.IsValid() && tpl.Priority != "" {
		priority = tpl.Priority
	}

	now := g.clock()
	rec := &model.Recommendation{
		ID:          g.newID(),
		FindingID:   f.ID,
		Category:    f.Category,
		Type:        recType,
		Title:       tpl.Title,
		Description: tpl.Description,
		Steps:       append([]string(nil), tpl.Steps...),
		Priority:    priority,
		Locale:      tplLocale,
		Status:      model.RecommendationPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if g.drafter == nil {
		metrics.RecordRecommendation(g.metrics, SourceTemplate)
		return rec, nil, nil
	}

	var warnings serrors.Warnings
	draft, err := g.drafter.Draft(ctx, classifier.DraftRequest{
		Category:    f.Category,
		Type:        recType,
		Severity:    f.Severity,
		Confidence:  f.Confidence,
		Title:       f.Title,
		Description: f.Description,
		Locale:      requested,
	})
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, nil, serrors.E(serrors.KindCanceled, op, ctx.Err())
	case err != nil:
		if serrors.GetKind(err) == serrors.KindUnknown {
			err = serrors.E(serrors.KindClassifierUnavailable, op, err)
		}
		g.logger.Warn("draft for finding %s failed, using template: %v", f.ID, err)
		warnings.Add("recommend:"+f.ID, err)
		metrics.RecordRecommendation(g.metrics, SourceFallback)
	case draft == nil || strings.TrimSpace(draft.Description) == "" || len(draft.Steps) == 0:
		warnings.Add("recommend:"+f.ID, serrors.E(serrors.KindMalformedResponse, op, "empty draft"))
		metrics.RecordRecommendation(g.metrics, SourceFallback)
	default:
		rec.Description = draft.Description
		rec.Steps = append([]string(nil), draft.Steps...)
		rec.Locale = requested
		rec.Drafted = true
		metrics.RecordRecommendation(g.metrics, SourceDrafted)
	}
	return rec, warnings, nil
}

// GenerateAll builds one recommendation per finding, in finding order.
func (g *Generator) GenerateAll(ctx context.Context, findings []*model.Finding, loc string) ([]*model.Recommendation, serrors.Warnings, error) {
	recs := make([]*model.Recommendation, 0, len(findings))
	var warnings serrors.Warnings
	for _, f := range findings {
		rec, w, err := g.Generate(ctx, f, loc)
		if err != nil {
			return nil, nil, err
		}
		recs = append(recs, rec)
		warnings = append(warnings, w...)
	}
	return recs, warnings, nil
}

func (g *Generator) resolveLocale(requested, findingLocale string) string {
	if t := locale.Normalize(requested); t != "" {
		return t
	}
	if t := locale.Normalize(findingLocale); t != "" {
		return t
	}
	return g.catalog.DefaultLocale()
}

// =============================================================================
// Statistics
// =============================================================================

// Stats counts recommendations by status, priority and type.
type Stats struct {
	ByStatus   map[model.RecommendationStatus]int `json:"by_status"`
	ByPriority map[model.Priority]int             `json:"by_priority"`
	ByType     map[model.RecommendationType]int   `json:"by_type"`
	Total      int                                `json:"total"`
}

// ComputeStats aggregates recs.
func ComputeStats(recs []*model.Recommendation) Stats {
	s := Stats{
		ByStatus:   map[model.RecommendationStatus]int{},
		ByPriority: map[model.Priority]int{},
		ByType:     map[model.RecommendationType]int{},
	}
	for _, r := range recs {
		s.ByStatus[r.Status]++
		s.ByPriority[r.Priority]++
		s.ByType[r.Type]++
		s.Total++
	}
	return s
}

// SortByPriority orders recs most urgent first, oldest first within a
// priority. The sort is stable.
func SortByPriority(recs []*model.Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		pi, pj := recs[i].Priority.Rank(), recs[j].Priority.Rank()
		if pi != pj {
			return pi > pj
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}
