package detectors

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/exploopio/sentinel/pkg/core"
	serrors "github.com/exploopio/sentinel/pkg/errors"
	"github.com/exploopio/sentinel/pkg/metrics"
	"github.com/exploopio/sentinel/pkg/model"
)

// BankConfig configures a Bank.
type BankConfig struct {
	// Maximum detectors running at once (0 = all at once, 1 = sequential)
	MaxConcurrency int

	Logger  core.Logger
	Metrics metrics.Collector
}

// Bank runs an ordered, fixed set of detectors against one unit.
// A Bank is immutable after construction and safe for concurrent passes.
type Bank struct {
	detectors []Detector
	index     map[string]int
	limit     int
	logger    core.Logger
	metrics   metrics.Collector
}

// Result is the outcome of one bank run.
type Result struct {
	// Findings in detector registration order
	Findings []*model.Finding

	// Detectors that ran, in registration order
	Ran []string

	// Recovered per-detector failures
	Warnings serrors.Warnings
}

// NewBank creates a bank from detectors in registration order.
// Detector IDs must be unique.
func NewBank(cfg BankConfig, detectors ...Detector) (*Bank, error) {
	b := &Bank{
		detectors: make([]Detector, 0, len(detectors)),
		index:     make(map[string]int, len(detectors)),
		limit:     cfg.MaxConcurrency,
		logger:    core.OrNop(cfg.Logger),
		metrics:   metrics.OrNop(cfg.Metrics),
	}
	for _, d := range detectors {
		if d == nil {
			return nil, serrors.E(serrors.KindInvalidInput, "detectors.NewBank", "nil detector")
		}
		if _, dup := b.index[d.ID()]; dup {
			return nil, serrors.E(serrors.KindInvalidInput, "detectors.NewBank", fmt.Sprintf("duplicate detector id %q", d.ID()))
		}
		if !d.Category().IsValid() {
			return nil, serrors.E(serrors.KindUnknownCategory, "detectors.NewBank",
				fmt.Sprintf("detector %s has unknown category %q", d.ID(), d.Category()))
		}
		b.index[d.ID()] = len(b.detectors)
		b.detectors = append(b.detectors, d)
	}
	return b, nil
}

// IDs returns the registered detector IDs in order.
func (b *Bank) IDs() []string {
	ids := make([]string, len(b.detectors))
	for i, d := range b.detectors {
		ids[i] = d.ID()
	}
	return ids
}

// Categories returns the distinct categories the bank can produce.
func (b *Bank) Categories() []model.Category {
	seen := map[model.Category]bool{}
	var out []model.Category
	for _, d := range b.detectors {
		if !seen[d.Category()] {
			seen[d.Category()] = true
			out = append(out, d.Category())
		}
	}
	return out
}

// Len returns the number of registered detectors.
func (b *Bank) Len() int {
	return len(b.detectors)
}

type slot struct {
	finding *model.Finding
	err     error
}

// Run executes the enabled detectors against unit. A nil enabled list
// enables every detector; unknown IDs in the list produce warnings.
//
// Detectors may run concurrently but findings come back in registration
// order. A failing detector contributes no finding and one warning. When ctx
// is canceled Run returns a KindCanceled error and no findings.
func (b *Bank) Run(ctx context.Context, unit model.Unit, enabled []string) (*Result, error) {
	const op = "detectors.Bank.Run"

	if unit == nil {
		return nil, serrors.E(serrors.KindInvalidInput, op, "nil unit")
	}
	if err := ctx.Err(); err != nil {
		return nil, serrors.E(serrors.KindCanceled, op, err)
	}

	res := &Result{}
	selected := b.selectDetectors(enabled, &res.Warnings)
	slots := make([]slot, len(selected))

	var g errgroup.Group
	if b.limit > 0 {
		g.SetLimit(b.limit)
	}
	for i, d := range selected {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			slots[i] = b.runOne(ctx, d, unit)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, serrors.E(serrors.KindCanceled, op, err)
	}

	for i, d := range selected {
		res.Ran = append(res.Ran, d.ID())
		s := slots[i]
		if s.err != nil {
			b.logger.Warn("detector %s failed on %s: %v", d.ID(), unit.SourceID(), s.err)
			res.Warnings.Add("detector:"+d.ID(), s.err)
			continue
		}
		if s.finding == nil {
			continue
		}
		res.Findings = append(res.Findings, s.finding)
		metrics.RecordFinding(b.metrics, string(s.finding.Category), string(s.finding.Severity))
	}
	return res, nil
}

func (b *Bank) selectDetectors(enabled []string, warnings *serrors.Warnings) []Detector {
	if enabled == nil {
		return b.detectors
	}
	want := make(map[string]bool, len(enabled))
	for _, id := range enabled {
		if _, ok := b.index[id]; !ok {
			warnings.Add("detector:"+id, serrors.E(serrors.KindInvalidInput, "detectors.Bank.Run", fmt.Sprintf("unknown detector %q", id)))
			continue
		}
		want[id] = true
	}
	out := make([]Detector, 0, len(want))
	for _, d := range b.detectors {
		if want[d.ID()] {
			out = append(out, d)
		}
	}
	return out
}

// runOne isolates one detector: panics and out-of-contract findings become
// errors.
func (b *Bank) runOne(ctx context.Context, d Detector, unit model.Unit) (s slot) {
	op := "detectors." + d.ID()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s = slot{err: serrors.E(serrors.KindInternal, op, fmt.Sprintf("detector panicked: %v", r))}
		}
		status := "clean"
		switch {
		case s.err != nil:
			status = "failed"
		case s.finding != nil:
			status = "finding"
		}
		metrics.RecordDetectorRun(b.metrics, d.ID(), status, time.Since(start))
	}()

	f, err := d.Detect(ctx, unit)
	if err != nil {
		return slot{err: err}
	}
	if f == nil {
		return slot{}
	}
	if f.Category != d.Category() {
		return slot{err: serrors.E(serrors.KindInternal, op,
			fmt.Sprintf("finding category %s does not match detector category %s", f.Category, d.Category()))}
	}
	if !f.Severity.IsValid() {
		return slot{err: serrors.E(serrors.KindMalformedResponse, op, fmt.Sprintf("finding has invalid severity %q", f.Severity))}
	}
	return slot{finding: f}
}
