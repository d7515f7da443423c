package recommend

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/exploopio/sentinel/pkg/classifier"
	serrors "github.com/exploopio/sentinel/pkg/errors"
	"github.com/exploopio/sentinel/pkg/metrics"
	"github.com/exploopio/sentinel/pkg/model"
	"github.com/exploopio/sentinel/pkg/shared/severity"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newGenerator(t *testing.T, cfg Config) *Generator {
	t.Helper()
	if cfg.NewID == nil {
		cfg.NewID = func() string { return "rec-1" }
	}
	cfg.Clock = func() time.Time { return now }
	g, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return g
}

func finding(c model.Category, s severity.Level, loc string) *model.Finding {
	return model.NewFinding(model.FindingParams{
		ID:          "f-1",
		Category:    c,
		Severity:    s,
		Confidence:  0.8,
		Title:       "Employee Burnout Indicators",
		Description: "Signs of burnout",
		Locale:      loc,
	})
}

func TestGenerate_Localization(t *testing.T) {
	g := newGenerator(t, Config{})

	tests := []struct {
		name       string
		category   model.Category
		findingLoc string
		requested  string
		wantType   model.RecommendationType
		wantLocale string
		wantTitle  string
	}{
		{"zh falls back to en", model.CategoryBurnout, "", "zh", model.RecommendationPolicyUpdate, "en", "Policy Update Required"},
		{"es training", model.CategoryDissatisfaction, "", "es", model.RecommendationTraining, "es", "Capacitación de Empleados Requerida"},
		{"es investigation falls back", model.CategoryFraud, "", "es", model.RecommendationInvestigation, "en", "Investigation Required"},
		{"region suffix stripped", model.CategoryBurnout, "", "fr-CA", model.RecommendationPolicyUpdate, "fr", "Mise à Jour de la Politique Requise"},
		{"finding locale used", model.CategoryFraud, "de", "", model.RecommendationInvestigation, "de", "Untersuchung erforderlich"},
		{"unsupported uses default", model.CategoryHarassment, "", "xx", model.RecommendationCommunicationGuideline, "en", "Communication Guidelines Update"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, warnings, err := g.Generate(context.Background(), finding(tt.category, severity.High, tt.findingLoc), tt.requested)
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if len(warnings) != 0 {
				t.Errorf("warnings = %+v, want none", warnings)
			}
			if rec.Type != tt.wantType {
				t.Errorf("Type = %s, want %s", rec.Type, tt.wantType)
			}
			if rec.Locale != tt.wantLocale {
				t.Errorf("Locale = %s, want %s", rec.Locale, tt.wantLocale)
			}
			if rec.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", rec.Title, tt.wantTitle)
			}
			if rec.Status != model.RecommendationPending {
				t.Errorf("Status = %s, want PENDING", rec.Status)
			}
			if len(rec.Steps) == 0 {
				t.Error("Steps should not be empty")
			}
		})
	}
}

func TestGenerate_PriorityFromSeverity(t *testing.T) {
	g := newGenerator(t, Config{})

	tests := []struct {
		sev  severity.Level
		want model.Priority
	}{
		{severity.Critical, model.PriorityUrgent},
		{severity.High, model.PriorityHigh},
		{severity.Medium, model.PriorityMedium},
		{severity.Low, model.PriorityLow},
	}
	for _, tt := range tests {
		t.Run(string(tt.sev), func(t *testing.T) {
			// BURNOUT maps to POLICY_UPDATE whose template priority is MEDIUM.
			rec, _, err := g.Generate(context.Background(), finding(model.CategoryBurnout, tt.sev, ""), "en")
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if rec.Priority != tt.want {
				t.Errorf("Priority = %s, want %s", rec.Priority, tt.want)
			}
		})
	}
}

func TestGenerate_PerformanceDeclineTraining(t *testing.T) {
	g := newGenerator(t, Config{})
	f := model.NewFinding(model.FindingParams{
		ID:         "p-1",
		Category:   model.CategoryPerformanceDecline,
		Severity:   severity.Medium,
		Confidence: 0.9,
	})
	rec, _, err := g.Generate(context.Background(), f, "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if rec.Type != model.RecommendationTraining || rec.FindingID != "p-1" || rec.Locale != "en" {
		t.Errorf("rec = %+v", rec)
	}
}

func TestGenerate_Drafter(t *testing.T) {
	t.Run("draft replaces text", func(t *testing.T) {
		var got classifier.DraftRequest
		mc := metrics.NewInMemoryCollector()
		g := newGenerator(t, Config{
			Metrics: mc,
			Drafter: classifier.DrafterFunc(func(_ context.Context, req classifier.DraftRequest) (*classifier.Draft, error) {
				got = req
				return &classifier.Draft{Description: "Redistribuir la carga", Steps: []string{"Paso uno"}}, nil
			}),
		})

		rec, warnings, err := g.Generate(context.Background(), finding(model.CategoryFraud, severity.High, ""), "es")
		if err != nil || len(warnings) != 0 {
			t.Fatalf("Generate() = %v, %+v", err, warnings)
		}
		if !rec.Drafted || rec.Description != "Redistribuir la carga" || rec.Locale != "es" {
			t.Errorf("rec = %+v", rec)
		}
		if !reflect.DeepEqual(rec.Steps, []string{"Paso uno"}) {
			t.Errorf("Steps = %v", rec.Steps)
		}
		if got.Type != model.RecommendationInvestigation || got.Locale != "es" {
			t.Errorf("draft request = %+v", got)
		}
		if mc.GetCounter(metrics.RecommendationsTotal.Name, "source", SourceDrafted) != 1 {
			t.Error("drafted recommendation not counted")
		}
	})

	t.Run("draft failure falls back", func(t *testing.T) {
		mc := metrics.NewInMemoryCollector()
		g := newGenerator(t, Config{
			Metrics: mc,
			Drafter: classifier.DrafterFunc(func(context.Context, classifier.DraftRequest) (*classifier.Draft, error) {
				return nil, errors.New("connection refused")
			}),
		})

		rec, warnings, err := g.Generate(context.Background(), finding(model.CategoryBurnout, severity.Medium, ""), "fr")
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if rec.Drafted || rec.Title != "Mise à Jour de la Politique Requise" || rec.Locale != "fr" {
			t.Errorf("rec = %+v", rec)
		}
		if len(warnings) != 1 || warnings[0].Kind != serrors.KindClassifierUnavailable {
			t.Fatalf("warnings = %+v", warnings)
		}
		if mc.GetCounter(metrics.RecommendationsTotal.Name, "source", SourceFallback) != 1 {
			t.Error("fallback not counted")
		}
	})

	t.Run("empty draft falls back", func(t *testing.T) {
		g := newGenerator(t, Config{
			Drafter: classifier.DrafterFunc(func(context.Context, classifier.DraftRequest) (*classifier.Draft, error) {
				return &classifier.Draft{Description: "  "}, nil
			}),
		})
		rec, warnings, err := g.Generate(context.Background(), finding(model.CategoryBurnout, severity.Medium, ""), "en")
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if rec.Drafted || len(warnings) != 1 || warnings[0].Kind != serrors.KindMalformedResponse {
			t.Errorf("rec.Drafted = %v, warnings = %+v", rec.Drafted, warnings)
		}
	})

	t.Run("canceled context aborts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		g := newGenerator(t, Config{
			Drafter: classifier.DrafterFunc(func(ctx context.Context, _ classifier.DraftRequest) (*classifier.Draft, error) {
				cancel()
				return nil, ctx.Err()
			}),
		})
		_, _, err := g.Generate(ctx, finding(model.CategoryBurnout, severity.Medium, ""), "en")
		if !serrors.IsCanceled(err) {
			t.Errorf("error = %v, want Canceled", err)
		}
	})
}

func TestGenerate_Errors(t *testing.T) {
	g := newGenerator(t, Config{})

	if _, _, err := g.Generate(context.Background(), nil, "en"); serrors.GetKind(err) != serrors.KindInvalidInput {
		t.Errorf("nil finding error = %v", err)
	}

	bogus := finding(model.Category("ESPIONAGE"), severity.High, "")
	if _, _, err := g.Generate(context.Background(), bogus, "en"); !serrors.IsUnknownCategory(err) {
		t.Errorf("unknown category error = %v", err)
	}
}

func TestGenerateAll_Order(t *testing.T) {
	n := 0
	g := newGenerator(t, Config{NewID: func() string { n++; return "rec-" + string(rune('0'+n)) }})
	fs := []*model.Finding{
		finding(model.CategoryFraud, severity.Critical, ""),
		finding(model.CategoryBurnout, severity.Low, ""),
	}
	recs, _, err := g.GenerateAll(context.Background(), fs, "")
	if err != nil {
		t.Fatalf("GenerateAll() error = %v", err)
	}
	if len(recs) != 2 || recs[0].Type != model.RecommendationInvestigation || recs[1].Type != model.RecommendationPolicyUpdate {
		t.Errorf("recs = %+v", recs)
	}
	if recs[0].ID != "rec-1" || recs[1].ID != "rec-2" {
		t.Errorf("IDs = %s, %s", recs[0].ID, recs[1].ID)
	}
}

func TestLoadCatalog_Validation(t *testing.T) {
	full, err := DefaultCatalog()
	if err != nil {
		t.Fatalf("DefaultCatalog() error = %v", err)
	}
	if got := full.Locales(); !reflect.DeepEqual(got, []string{"de", "en", "es", "fr"}) {
		t.Errorf("Locales() = %v", got)
	}

	tests := []struct {
		name     string
		yaml     string
		wantKind serrors.Kind
	}{
		{
			name:     "not yaml",
			yaml:     "templates: [",
			wantKind: serrors.KindInvalidInput,
		},
		{
			name:     "missing category mapping",
			yaml:     "categories:\n  FRAUD: INVESTIGATION\ntemplates: {}\n",
			wantKind: serrors.KindUnknownCategory,
		},
		{
			name:     "default locale missing type",
			yaml:     strings.Replace(string(defaultTemplates), "    SYSTEM_CONFIG:", "    SYSTEM_CONFIGX:", 1),
			wantKind: serrors.KindUnknownCategory,
		},
		{
			name:     "unknown category key",
			yaml:     strings.Replace(string(defaultTemplates), "categories:\n", "categories:\n  ESPIONAGE: INVESTIGATION\n", 1),
			wantKind: serrors.KindUnknownCategory,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCatalog([]byte(tt.yaml))
			if serrors.GetKind(err) != tt.wantKind {
				t.Errorf("LoadCatalog() error = %v, want kind %s", err, tt.wantKind)
			}
		})
	}
}

func TestStatsAndSort(t *testing.T) {
	recs := []*model.Recommendation{
		{ID: "a", Type: model.RecommendationTraining, Priority: model.PriorityLow, Status: model.RecommendationPending, CreatedAt: now},
		{ID: "b", Type: model.RecommendationInvestigation, Priority: model.PriorityUrgent, Status: model.RecommendationCompleted, CreatedAt: now.Add(time.Minute)},
		{ID: "c", Type: model.RecommendationTraining, Priority: model.PriorityUrgent, Status: model.RecommendationPending, CreatedAt: now},
	}

	s := ComputeStats(recs)
	if s.Total != 3 || s.ByStatus[model.RecommendationPending] != 2 || s.ByPriority[model.PriorityUrgent] != 2 || s.ByType[model.RecommendationTraining] != 2 {
		t.Errorf("stats = %+v", s)
	}

	SortByPriority(recs)
	var ids []string
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	if !reflect.DeepEqual(ids, []string{"c", "b", "a"}) {
		t.Errorf("order = %v, want [c b a]", ids)
	}
}
