package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/exploopio/sentinel/pkg/alert"
	"github.com/exploopio/sentinel/pkg/audit"
	"github.com/exploopio/sentinel/pkg/classifier"
	"github.com/exploopio/sentinel/pkg/config"
	"github.com/exploopio/sentinel/pkg/core"
	"github.com/exploopio/sentinel/pkg/delivery"
	"github.com/exploopio/sentinel/pkg/detectors"
	serrors "github.com/exploopio/sentinel/pkg/errors"
	"github.com/exploopio/sentinel/pkg/health"
	"github.com/exploopio/sentinel/pkg/metrics"
	"github.com/exploopio/sentinel/pkg/model"
	"github.com/exploopio/sentinel/pkg/pipeline"
	"github.com/exploopio/sentinel/pkg/recommend"
	"github.com/exploopio/sentinel/pkg/retry"
	"github.com/exploopio/sentinel/pkg/risk"
	"github.com/exploopio/sentinel/pkg/store"
)

// app holds every wired component of one sentinel process.
type app struct {
	cfg    *config.Config
	logger core.Logger

	metrics    metrics.Collector
	prometheus *metrics.PrometheusCollector

	store       *store.Store
	audit       *audit.Logger
	backend     string
	analyzer    *pipeline.Analyzer
	health      *health.Handler
	retryQueue  *retry.FileRetryQueue
	retryWorker *retry.RetryWorker

	closers []func() error
}

func buildApp(ctx context.Context, cfg *config.Config, logger core.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.metrics = metrics.NopCollector{}
	if cfg.Metrics.Enabled {
		a.prometheus = metrics.NewPrometheusCollector(&metrics.PrometheusConfig{RegisterDefaultMetrics: true})
		a.metrics = a.prometheus
	}

	if dir := filepath.Dir(cfg.Store.Path); cfg.Store.Path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	storeCfg := cfg.Store
	storeCfg.Logger = logger
	if a.store, err = store.Open(storeCfg); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	if cfg.Audit.Enabled {
		lc := cfg.Audit.LoggerConfig
		if lc.InstanceID == "" {
			lc.InstanceID, _ = os.Hostname()
		}
		if a.audit, err = audit.NewLogger(&lc); err != nil {
			return nil, fmt.Errorf("audit logger: %w", err)
		}
		a.audit.Start()
		a.closers = append(a.closers, a.audit.Stop)
	}

	clf, drafter, err := a.buildClassifier(ctx)
	if err != nil {
		return nil, err
	}

	opts := detectors.Options{}
	dets := append(detectors.DefaultCommunicationDetectors(clf, opts), detectors.DefaultMetricDetectors(opts)...)
	bank, err := detectors.NewBank(detectors.BankConfig{
		MaxConcurrency: cfg.Detectors.MaxConcurrency,
		Logger:         logger,
		Metrics:        a.metrics,
	}, dets...)
	if err != nil {
		return nil, err
	}

	policy, err := risk.ParsePolicy(cfg.Risk.Policy)
	if err != nil {
		return nil, err
	}

	recommender, err := recommend.New(recommend.Config{
		Drafter: drafter,
		Logger:  logger,
		Metrics: a.metrics,
	})
	if err != nil {
		return nil, err
	}

	senders, err := a.buildSenders()
	if err != nil {
		return nil, err
	}
	policies := alert.NewStaticPolicies(cfg.Alerting.Policies()...)
	dispatcher, err := alert.New(alert.Config{
		Senders:  senders,
		Policies: policies,
		Logger:   logger,
		Metrics:  a.metrics,
	})
	if err != nil {
		return nil, err
	}

	if a.retryQueue != nil {
		a.startRetryWorker(ctx, senders)
	}

	a.analyzer, err = pipeline.New(pipeline.Config{
		Bank:                  bank,
		Policy:                policy,
		Recommender:           recommender,
		Dispatcher:            dispatcher,
		Recipients:            policies.Recipients(),
		NotifyRecommendations: cfg.Alerting.NotifyRecommendations,
		Store:                 a.store,
		Audit:                 a.audit,
		Logger:                logger,
		Metrics:               a.metrics,
	})
	if err != nil {
		return nil, err
	}

	a.health = a.buildHealth()
	return a, nil
}

// buildClassifier returns the configured classifier and, when the backend
// can draft prose, the recommendation drafter. Without a backend every
// communication detector reports the classifier as unavailable and metric
// rules still run.
func (a *app) buildClassifier(ctx context.Context) (classifier.Classifier, classifier.Drafter, error) {
	cfg := a.cfg.Classifier

	var c classifier.Classifier
	switch cfg.Backend {
	case config.BackendOpenAI:
		oc := cfg.OpenAI
		oc.Logger = a.logger
		openaiClf, err := classifier.NewOpenAIClassifier(oc)
		if err != nil {
			return nil, nil, err
		}
		c = openaiClf
		a.backend = openaiClf.String()
	case config.BackendRemote:
		rc := cfg.Remote
		rc.Logger = a.logger
		if rc.InstanceID == "" {
			rc.InstanceID = a.cfg.Audit.InstanceID
		}
		remote, err := classifier.NewRemoteClassifier(ctx, &rc)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, remote.Close)
		c = remote
		a.backend = remote.String()
	default:
		unavailable := classifier.Func(func(context.Context, classifier.Request) (*classifier.Result, error) {
			return nil, serrors.E(serrors.KindClassifierUnavailable, "classifier.none", "no classifier backend configured")
		})
		return unavailable, nil, nil
	}

	if cfg.RateLimit.RPS > 0 {
		c = classifier.NewRateLimited(c, cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}
	drafter, _ := c.(classifier.Drafter)
	return c, drafter, nil
}

// buildSenders creates one sender per channel. Channels without a
// configured transport log their notifications instead.
func (a *app) buildSenders() ([]alert.Sender, error) {
	cfg := a.cfg.Delivery
	dir := a.cfg.Alerting.Directory()

	byChannel := map[model.Channel]alert.Sender{
		model.ChannelInApp: delivery.InAppSender{Logger: a.logger},
	}
	add := func(s alert.Sender) {
		if _, dup := byChannel[s.Channel()]; dup {
			a.logger.Warn("second %s transport ignored", s.Channel())
			return
		}
		byChannel[s.Channel()] = s
	}

	if cfg.SMTP != nil {
		s, err := delivery.NewSMTPSender(*cfg.SMTP, dir)
		if err != nil {
			return nil, err
		}
		add(s)
	}
	if cfg.Discord != nil {
		s, err := delivery.NewDiscordSender(*cfg.Discord, dir)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		add(s)
	}
	for _, wc := range cfg.Webhooks {
		s, err := delivery.NewWebhookSender(wc, dir, nil)
		if err != nil {
			return nil, err
		}
		add(s)
	}
	for _, ch := range model.AllChannels() {
		if _, ok := byChannel[ch]; !ok {
			byChannel[ch] = delivery.NewLogSender(ch, a.logger)
		}
	}

	if cfg.RetryDir != "" {
		q, err := retry.NewFileRetryQueue(&retry.FileQueueConfig{
			Dir:               cfg.RetryDir,
			MaxSize:           cfg.RetryQueueSize,
			Deduplication:     true,
			CompressThreshold: a.cfg.Store.CompressThreshold,
			Logger:            a.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("retry queue: %w", err)
		}
		a.retryQueue = q
		a.closers = append(a.closers, q.Close)
	}

	senders := make([]alert.Sender, 0, len(byChannel))
	for _, ch := range model.AllChannels() {
		s := byChannel[ch]
		if cfg.RateLimit.RPS > 0 && ch != model.ChannelInApp {
			s = delivery.NewLimited(s, cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		}
		if a.retryQueue != nil && ch != model.ChannelInApp {
			s = delivery.NewQueued(s, a.retryQueue, a.logger)
		}
		senders = append(senders, s)
	}
	return senders, nil
}

func (a *app) startRetryWorker(ctx context.Context, senders []alert.Sender) {
	wc := a.cfg.Delivery.RetryWorker
	wc.Logger = a.logger
	wc.Metrics = a.metrics

	a.retryWorker = retry.NewRetryWorker(&wc, a.retryQueue, delivery.NewRouter(senders...))
	if a.audit != nil {
		a.retryWorker.OnExhaust(func(item *retry.QueueItem) {
			a.audit.RedeliveryExhausted(item.Notification, item.Attempts, item.LastError)
		})
	}
	if err := a.retryWorker.Start(ctx); err != nil {
		a.logger.Warn("retry worker not started: %v", err)
		return
	}
	a.closers = append(a.closers, func() error {
		return a.retryWorker.Stop(context.Background())
	})
}

func (a *app) buildHealth() *health.Handler {
	h := health.NewHandler(health.WithVersion(appVersion))
	h.Register("store", &health.StoreCheck{Store: a.store})
	h.Register("classifier", &health.ClassifierCheck{Backend: a.backend})
	h.Register("memory", &health.MemoryCheck{MaxHeapBytes: 1 << 30})
	h.Register("system_memory", &health.SystemMemoryCheck{MaxUsagePercent: 95})
	if a.cfg.Store.Path != ":memory:" {
		h.Register("disk", &health.DiskCheck{Path: filepath.Dir(a.cfg.Store.Path), MinFreePercent: 5})
	}
	if a.retryQueue != nil {
		h.Register("retry_queue", &health.RetryQueueCheck{Queue: a.retryQueue, MaxPending: a.cfg.Delivery.RetryQueueSize / 2})
	}
	return h
}

// close releases components in reverse construction order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("shutdown: %v", err)
		}
	}
	a.closers = nil
}
