// Package pipeline runs analysis passes: one unit of input through the
// detector bank, the risk aggregator, the recommendation generator and the
// alert dispatcher, with the results persisted and audited.
//
// A pass is request-scoped. Recoverable problems (a detector that failed, a
// drafter that timed out, a notification that could not be delivered) come
// back as warnings next to the results. Only cancellation, an unmapped
// category and storage failures abort a pass, and an aborted pass returns no
// partial results. A storage failure carries the finished report in a
// *PersistError so the caller can resume saving it with Analyzer.Persist
// instead of re-running detection and dispatch.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/exploopio/sentinel/pkg/alert"
	"github.com/exploopio/sentinel/pkg/audit"
	"github.com/exploopio/sentinel/pkg/core"
	"github.com/exploopio/sentinel/pkg/detectors"
	serrors "github.com/exploopio/sentinel/pkg/errors"
	"github.com/exploopio/sentinel/pkg/locale"
	"github.com/exploopio/sentinel/pkg/metrics"
	"github.com/exploopio/sentinel/pkg/model"
	"github.com/exploopio/sentinel/pkg/recommend"
	"github.com/exploopio/sentinel/pkg/risk"
)

// Pass outcomes reported to metrics.
const (
	StatusCompleted = "completed"
	StatusCanceled  = "canceled"
	StatusFailed    = "failed"
)

// Store persists the results of a pass. *store.Store implements it.
type Store interface {
	SaveFindings(ctx context.Context, findings []*model.Finding) error
	SaveVerdict(ctx context.Context, v *model.RiskVerdict) (int64, error)
	SaveRecommendations(ctx context.Context, recs []*model.Recommendation) error
	SaveNotifications(ctx context.Context, ns []*model.Notification) error
}

// Config configures an Analyzer.
type Config struct {
	// Bank runs the detectors (required)
	Bank *detectors.Bank

	// Policy scores findings (default: risk.WeightedDeduction)
	Policy risk.Policy

	// Recommender builds one recommendation per finding (required)
	Recommender *recommend.Generator

	// Dispatcher notifies recipients (required)
	Dispatcher *alert.Dispatcher

	// Recipients notified when a request names none
	Recipients []string

	// NotifyRecommendations also sends RECOMMENDATION_AVAILABLE
	// notifications for findings that got a recommendation.
	NotifyRecommendations bool

	// Store persists results (optional)
	Store Store

	// Audit records pass events (optional)
	Audit *audit.Logger

	NewID   core.IDGenerator
	Clock   core.Clock
	Logger  core.Logger
	Metrics metrics.Collector
}

// Analyzer runs analysis passes. Safe for concurrent use.
type Analyzer struct {
	bank        *detectors.Bank
	policy      risk.Policy
	recommender *recommend.Generator
	dispatcher  *alert.Dispatcher
	recipients  []string
	notifyRecs  bool
	store       Store
	audit       *audit.Logger
	newID       core.IDGenerator
	clock       core.Clock
	logger      core.Logger
	metrics     metrics.Collector
}

// Request is one unit to analyze.
type Request struct {
	Unit model.Unit

	// Detector IDs to run; nil runs the whole bank
	Enabled []string

	// Recipients overrides Config.Recipients when non-nil
	Recipients []string

	// Locale hint for recommendations; empty means detect from content
	Locale string

	// RelatedThreats are earlier communication findings for the entity of
	// a metric snapshot. They are scored after the snapshot's anomalies and
	// are not re-notified.
	RelatedThreats []*model.Finding
}

// Report is the outcome of one pass.
type Report struct {
	PassID          string                  `json:"pass_id"`
	UnitKind        model.UnitKind          `json:"unit_kind"`
	SourceID        string                  `json:"source_id"`
	Locale          string                  `json:"locale"`
	Findings        []*model.Finding        `json:"findings"`
	Verdict         model.RiskVerdict       `json:"verdict"`
	VerdictID       int64                   `json:"verdict_id,omitempty"`
	Recommendations []*model.Recommendation `json:"recommendations"`
	Notifications   []*model.Notification   `json:"notifications"`
	Suppressed      int                     `json:"suppressed"`
	Warnings        serrors.Warnings        `json:"warnings,omitempty"`
	StartedAt       time.Time               `json:"started_at"`
	Duration        time.Duration           `json:"duration_ms"`

	// saved counts the persistence steps already committed.
	saved int
}

// PersistError is returned by Analyze when the pass ran to completion,
// notifications included, but its results could not be saved. Report must
// not be analyzed again; pass it to Analyzer.Persist.
type PersistError struct {
	Report *Report
	Err    error
}

func (e *PersistError) Error() string { return e.Err.Error() }
func (e *PersistError) Unwrap() error { return e.Err }

// New creates an analyzer.
func New(cfg Config) (*Analyzer, error) {
	const op = "pipeline.New"

	switch {
	case cfg.Bank == nil:
		return nil, serrors.E(serrors.KindInvalidInput, op, "detector bank is required")
	case cfg.Recommender == nil:
		return nil, serrors.E(serrors.KindInvalidInput, op, "recommendation generator is required")
	case cfg.Dispatcher == nil:
		return nil, serrors.E(serrors.KindInvalidInput, op, "alert dispatcher is required")
	}

	a := &Analyzer{
		bank:        cfg.Bank,
		policy:      cfg.Policy,
		recommender: cfg.Recommender,
		dispatcher:  cfg.Dispatcher,
		recipients:  append([]string(nil), cfg.Recipients...),
		notifyRecs:  cfg.NotifyRecommendations,
		store:       cfg.Store,
		audit:       cfg.Audit,
		newID:       cfg.NewID,
		clock:       cfg.Clock,
		logger:      core.OrNop(cfg.Logger),
		metrics:     metrics.OrNop(cfg.Metrics),
	}
	if a.policy == nil {
		a.policy = risk.WeightedDeduction{}
	}
	if a.newID == nil {
		a.newID = core.NewID
	}
	if a.clock == nil {
		a.clock = core.SystemClock
	}
	return a, nil
}

// Policy returns the aggregation policy in use.
func (a *Analyzer) Policy() risk.Policy {
	return a.policy
}

// Analyze runs one pass over req.Unit.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Report, error) {
	const op = "pipeline.Analyze"

	if req.Unit == nil {
		return nil, serrors.E(serrors.KindInvalidInput, op, "unit is required")
	}
	if v, ok := req.Unit.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, serrors.E(serrors.KindInvalidInput, op, err)
		}
	}

	rep := &Report{
		PassID:    a.newID(),
		UnitKind:  req.Unit.Kind(),
		SourceID:  req.Unit.SourceID(),
		StartedAt: a.clock(),
	}
	pass := a.passLogger(rep.PassID)
	pass.Started(rep.UnitKind, rep.SourceID)

	if err := a.run(ctx, req, rep); err != nil {
		status := StatusFailed
		if serrors.IsCanceled(err) {
			status = StatusCanceled
			pass.Canceled(err)
		} else {
			pass.Failed(err)
		}
		metrics.RecordPass(a.metrics, string(rep.UnitKind), status)
		a.logger.Warn("pass %s over %s %s aborted: %v", rep.PassID, rep.UnitKind, rep.SourceID, err)
		return nil, err
	}

	rep.Duration = a.clock().Sub(rep.StartedAt)
	pass.Warnings(rep.Warnings)
	pass.Completed(rep.Duration, len(rep.Findings), len(rep.Notifications), len(rep.Warnings))
	metrics.RecordPass(a.metrics, string(rep.UnitKind), StatusCompleted)
	a.logger.Info("pass %s over %s %s: %d findings, tier %s, %d notifications, %d warnings",
		rep.PassID, rep.UnitKind, rep.SourceID, len(rep.Findings), rep.Verdict.Tier, len(rep.Notifications), len(rep.Warnings))
	return rep, nil
}

func (a *Analyzer) run(ctx context.Context, req Request, rep *Report) error {
	const op = "pipeline.Analyze"
	pass := a.passLogger(rep.PassID)

	rep.Locale = a.resolveLocale(req)

	// Detection
	res, err := a.bank.Run(ctx, req.Unit, req.Enabled)
	if err != nil {
		return err
	}
	rep.Findings = res.Findings
	rep.Warnings = append(rep.Warnings, res.Warnings...)

	// Aggregation
	if req.Unit.Kind() == model.UnitMetrics {
		rep.Verdict = risk.AggregateMetrics(a.policy, rep.Findings, req.RelatedThreats, a.clock())
	} else {
		rep.Verdict = risk.Aggregate(a.policy, rep.Findings, a.clock())
	}
	metrics.RecordVerdict(a.metrics, rep.Verdict.Policy, string(rep.Verdict.Tier), rep.Verdict.Score)
	pass.Verdict(&rep.Verdict)

	// Recommendations
	recs, warnings, err := a.recommender.GenerateAll(ctx, rep.Findings, rep.Locale)
	if err != nil {
		return err
	}
	rep.Recommendations = recs
	rep.Warnings = append(rep.Warnings, warnings...)

	// Notifications
	recipients := a.recipients
	if req.Recipients != nil {
		recipients = req.Recipients
	}
	for _, f := range rep.Findings {
		if err := a.notify(ctx, rep, f, recipients, a.dispatcher.DispatchThreat); err != nil {
			return err
		}
	}
	if a.notifyRecs {
		for _, rec := range rep.Recommendations {
			f := findingByID(rep.Findings, rec.FindingID)
			if f == nil {
				continue
			}
			if err := a.notify(ctx, rep, f, recipients, a.dispatcher.DispatchRecommendation); err != nil {
				return err
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return serrors.E(serrors.KindCanceled, op, err)
	}
	if err := a.persist(ctx, rep); err != nil {
		return &PersistError{Report: rep, Err: err}
	}
	return nil
}

type dispatchFunc func(ctx context.Context, f *model.Finding, recipients []string) (*alert.Dispatch, error)

func (a *Analyzer) notify(ctx context.Context, rep *Report, f *model.Finding, recipients []string, dispatch dispatchFunc) error {
	out, err := dispatch(ctx, f, recipients)
	if err != nil {
		return err
	}
	pass := a.passLogger(rep.PassID)
	for _, n := range out.Notifications {
		pass.NotificationCreated(n)
	}
	for _, s := range out.Skipped {
		pass.NotificationSuppressed(f.ID, s.RecipientID, s.Reason)
	}
	rep.Notifications = append(rep.Notifications, out.Notifications...)
	rep.Suppressed += out.Suppressed
	rep.Warnings = append(rep.Warnings, out.Warnings...)
	return nil
}

// Persist saves whatever part of rep an earlier attempt did not store. It
// never re-runs detection or dispatch, so no notification is sent twice.
func (a *Analyzer) Persist(ctx context.Context, rep *Report) error {
	if rep == nil {
		return serrors.E(serrors.KindInvalidInput, "pipeline.Persist", "report is required")
	}
	if err := a.persist(ctx, rep); err != nil {
		return err
	}
	a.logger.Info("pass %s saved on retry", rep.PassID)
	return nil
}

// persist saves a finished pass. Findings go first so every later record
// can reference them. Each step commits on its own; rep.saved records how
// far it got so a retry resumes at the failed step.
func (a *Analyzer) persist(ctx context.Context, rep *Report) error {
	if a.store == nil {
		return nil
	}
	steps := []func() error{
		func() error { return a.store.SaveFindings(ctx, rep.Findings) },
		func() error {
			id, err := a.store.SaveVerdict(ctx, &rep.Verdict)
			rep.VerdictID = id
			return err
		},
		func() error { return a.store.SaveRecommendations(ctx, rep.Recommendations) },
		func() error { return a.store.SaveNotifications(ctx, rep.Notifications) },
	}
	for rep.saved < len(steps) {
		if err := steps[rep.saved](); err != nil {
			return storageError(err)
		}
		rep.saved++
	}
	return nil
}

func storageError(err error) error {
	const op = "pipeline.persist"
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return serrors.E(serrors.KindCanceled, op, err)
	}
	if serrors.GetKind(err) != serrors.KindUnknown {
		return err
	}
	return serrors.E(serrors.KindStorage, op, err)
}

// resolveLocale picks the recommendation locale: the request hint, then the
// unit's declared locale, then detection over its content.
func (a *Analyzer) resolveLocale(req Request) string {
	if t := locale.Normalize(req.Locale); t != "" {
		return t
	}
	if req.Unit.Kind() == model.UnitMetrics {
		return locale.Default
	}
	return locale.Resolve(req.Unit.Locale(), req.Unit.Content())
}

func (a *Analyzer) passLogger(passID string) *audit.PassLogger {
	if a.audit == nil {
		return nil
	}
	return a.audit.ForPass(passID)
}

func findingByID(findings []*model.Finding, id string) *model.Finding {
	for _, f := range findings {
		if f.ID == id {
			return f
		}
	}
	return nil
}
