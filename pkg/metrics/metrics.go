// Package metrics provides metrics collection for analysis passes.
// Components depend on the Collector interface; the Prometheus
// implementation backs the daemon's /metrics endpoint.
package metrics

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Metrics Interface
// =============================================================================

// Collector is the interface for collecting and reporting metrics.
// Labels are passed as name/value pairs in the order of the definition.
type Collector interface {
	// Counter operations
	CounterInc(name string, labels ...string)
	CounterAdd(name string, value float64, labels ...string)

	// Gauge operations
	GaugeSet(name string, value float64, labels ...string)

	// Histogram operations
	HistogramObserve(name string, value float64, labels ...string)

	// Handler returns an HTTP handler for the metrics endpoint
	Handler() http.Handler
}

// OrNop returns c, or a NopCollector when c is nil.
func OrNop(c Collector) Collector {
	if c == nil {
		return NopCollector{}
	}
	return c
}

// =============================================================================
// Metric Types
// =============================================================================

// MetricType represents the type of metric.
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// MetricDefinition defines a metric with its metadata.
type MetricDefinition struct {
	Name    string     `json:"name"`
	Type    MetricType `json:"type"`
	Help    string     `json:"help"`
	Labels  []string   `json:"labels,omitempty"`
	Buckets []float64  `json:"buckets,omitempty"` // For histograms
}

// =============================================================================
// Pipeline Metrics
// =============================================================================

var (
	// Detector bank
	DetectorRunsTotal = MetricDefinition{
		Name:   "sentinel_detector_runs_total",
		Type:   MetricTypeCounter,
		Help:   "Detector invocations by outcome (finding, clean, failed)",
		Labels: []string{"detector", "status"},
	}
	DetectorDuration = MetricDefinition{
		Name:    "sentinel_detector_duration_seconds",
		Type:    MetricTypeHistogram,
		Help:    "Detector run time in seconds",
		Labels:  []string{"detector"},
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}
	FindingsTotal = MetricDefinition{
		Name:   "sentinel_findings_total",
		Type:   MetricTypeCounter,
		Help:   "Findings produced by category and severity",
		Labels: []string{"category", "severity"},
	}

	// Aggregation
	VerdictScore = MetricDefinition{
		Name:    "sentinel_verdict_score",
		Type:    MetricTypeHistogram,
		Help:    "Aggregated compliance score per pass",
		Labels:  []string{"policy"},
		Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	}
	VerdictsTotal = MetricDefinition{
		Name:   "sentinel_verdicts_total",
		Type:   MetricTypeCounter,
		Help:   "Verdicts by operational tier",
		Labels: []string{"tier"},
	}

	// Recommendations
	RecommendationsTotal = MetricDefinition{
		Name:   "sentinel_recommendations_total",
		Type:   MetricTypeCounter,
		Help:   "Recommendations by text source (template, drafted, fallback)",
		Labels: []string{"source"},
	}

	// Alerting
	NotificationsTotal = MetricDefinition{
		Name:   "sentinel_notifications_total",
		Type:   MetricTypeCounter,
		Help:   "Notification records created by channel and kind",
		Labels: []string{"channel", "kind"},
	}
	NotificationsSuppressedTotal = MetricDefinition{
		Name:   "sentinel_notifications_suppressed_total",
		Type:   MetricTypeCounter,
		Help:   "Recipients skipped by reason (below_threshold, invalid_policy)",
		Labels: []string{"reason"},
	}
	DeliveriesTotal = MetricDefinition{
		Name:   "sentinel_deliveries_total",
		Type:   MetricTypeCounter,
		Help:   "Channel send attempts by outcome",
		Labels: []string{"channel", "status"},
	}
	RetryQueueDepth = MetricDefinition{
		Name: "sentinel_retry_queue_depth",
		Type: MetricTypeGauge,
		Help: "Deliveries waiting in the retry queue",
	}

	// Passes
	PassesTotal = MetricDefinition{
		Name:   "sentinel_passes_total",
		Type:   MetricTypeCounter,
		Help:   "Analysis passes by unit kind and outcome",
		Labels: []string{"kind", "status"},
	}
)

// AllDefinitions returns every pipeline metric definition.
func AllDefinitions() []MetricDefinition {
	return []MetricDefinition{
		DetectorRunsTotal,
		DetectorDuration,
		FindingsTotal,
		VerdictScore,
		VerdictsTotal,
		RecommendationsTotal,
		NotificationsTotal,
		NotificationsSuppressedTotal,
		DeliveriesTotal,
		RetryQueueDepth,
		PassesTotal,
	}
}

// =============================================================================
// Recording helpers
// =============================================================================

// RecordDetectorRun records one detector invocation.
func RecordDetectorRun(c Collector, detector, status string, d time.Duration) {
	c.CounterInc(DetectorRunsTotal.Name, "detector", detector, "status", status)
	c.HistogramObserve(DetectorDuration.Name, d.Seconds(), "detector", detector)
}

// RecordFinding records one surfaced finding.
func RecordFinding(c Collector, category, severity string) {
	c.CounterInc(FindingsTotal.Name, "category", category, "severity", severity)
}

// RecordVerdict records an aggregated verdict.
func RecordVerdict(c Collector, policy, tier string, score float64) {
	c.HistogramObserve(VerdictScore.Name, score, "policy", policy)
	c.CounterInc(VerdictsTotal.Name, "tier", tier)
}

// RecordRecommendation records where a recommendation's text came from.
func RecordRecommendation(c Collector, source string) {
	c.CounterInc(RecommendationsTotal.Name, "source", source)
}

// RecordNotification records a created notification record.
func RecordNotification(c Collector, channel, kind string) {
	c.CounterInc(NotificationsTotal.Name, "channel", channel, "kind", kind)
}

// RecordSuppressed records a recipient skipped by the dispatcher.
func RecordSuppressed(c Collector, reason string) {
	c.CounterInc(NotificationsSuppressedTotal.Name, "reason", reason)
}

// RecordDelivery records one channel send attempt.
func RecordDelivery(c Collector, channel, status string) {
	c.CounterInc(DeliveriesTotal.Name, "channel", channel, "status", status)
}

// RecordPass records one analysis pass.
func RecordPass(c Collector, kind, status string) {
	c.CounterInc(PassesTotal.Name, "kind", kind, "status", status)
}

// =============================================================================
// NopCollector - No-operation implementation
// =============================================================================

// NopCollector is a no-op metrics collector that discards all metrics.
type NopCollector struct{}

func (NopCollector) CounterInc(name string, labels ...string)                      {}
func (NopCollector) CounterAdd(name string, value float64, labels ...string)       {}
func (NopCollector) GaugeSet(name string, value float64, labels ...string)         {}
func (NopCollector) HistogramObserve(name string, value float64, labels ...string) {}
func (NopCollector) Handler() http.Handler                                         { return http.NotFoundHandler() }

// =============================================================================
// InMemoryCollector - Simple in-memory implementation for testing
// =============================================================================

// InMemoryCollector stores metrics in memory for tests and the dev server.
type InMemoryCollector struct {
	mu         sync.RWMutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewInMemoryCollector creates a new in-memory metrics collector.
func NewInMemoryCollector() *InMemoryCollector {
	return &InMemoryCollector{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

func (c *InMemoryCollector) key(name string, labels []string) string {
	key := name
	for i := 0; i+1 < len(labels); i += 2 {
		key += "," + labels[i] + "=" + labels[i+1]
	}
	return key
}

func (c *InMemoryCollector) CounterInc(name string, labels ...string) {
	c.CounterAdd(name, 1, labels...)
}

func (c *InMemoryCollector) CounterAdd(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[c.key(name, labels)] += value
}

func (c *InMemoryCollector) GaugeSet(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[c.key(name, labels)] = value
}

func (c *InMemoryCollector) HistogramObserve(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.key(name, labels)
	c.histograms[key] = append(c.histograms[key], value)
}

// Handler serves the collected values as sorted "key value" lines.
func (c *InMemoryCollector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.RLock()
		lines := make([]string, 0, len(c.counters)+len(c.gauges))
		for k, v := range c.counters {
			lines = append(lines, k+" "+formatFloat(v))
		}
		for k, v := range c.gauges {
			lines = append(lines, k+" "+formatFloat(v))
		}
		c.mu.RUnlock()
		sort.Strings(lines)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(strings.Join(lines, "\n") + "\n"))
	})
}

// GetCounter returns the value of a counter.
func (c *InMemoryCollector) GetCounter(name string, labels ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[c.key(name, labels)]
}

// GetGauge returns the value of a gauge.
func (c *InMemoryCollector) GetGauge(name string, labels ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gauges[c.key(name, labels)]
}

// GetHistogram returns all observations of a histogram.
func (c *InMemoryCollector) GetHistogram(name string, labels ...string) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]float64(nil), c.histograms[c.key(name, labels)]...)
}

// =============================================================================
// Interface compliance
// =============================================================================

var (
	_ Collector = NopCollector{}
	_ Collector = (*InMemoryCollector)(nil)
)
