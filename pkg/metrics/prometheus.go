package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// Prometheus Collector
// =============================================================================

// PrometheusCollector implements Collector on a Prometheus registry.
// Samples for unregistered names, or with the wrong number of label values,
// are dropped instead of panicking inside a detector or sender.
type PrometheusCollector struct {
	mu       sync.RWMutex
	registry *prometheus.Registry
	vecs     map[string]registered

	namespace string
	subsystem string
}

// registered is one metric vector together with its definition.
type registered struct {
	def       MetricDefinition
	counter   *prometheus.CounterVec
	gauge     *prometheus.GaugeVec
	histogram *prometheus.HistogramVec
}

// PrometheusConfig configures the Prometheus collector.
type PrometheusConfig struct {
	// Namespace prefixes all metric names. Pipeline definitions already
	// carry the "sentinel_" prefix, so this is usually empty.
	Namespace string

	// Subsystem prefixes metric names after namespace
	Subsystem string

	// Registry is the Prometheus registry to use (nil = new registry with
	// the Go runtime and process collectors)
	Registry *prometheus.Registry

	// RegisterDefaultMetrics registers AllDefinitions()
	RegisterDefaultMetrics bool
}

// NewPrometheusCollector creates a Prometheus metrics collector.
func NewPrometheusCollector(cfg *PrometheusConfig) *PrometheusCollector {
	if cfg == nil {
		cfg = &PrometheusConfig{}
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	c := &PrometheusCollector{
		registry:  registry,
		vecs:      make(map[string]registered),
		namespace: cfg.Namespace,
		subsystem: cfg.Subsystem,
	}

	if cfg.RegisterDefaultMetrics {
		for _, def := range AllDefinitions() {
			if err := c.Register(def); err != nil {
				panic("metrics: " + err.Error())
			}
		}
	}
	return c
}

// Register adds def to the registry. Registering the same name twice with
// the same type is a no-op.
func (c *PrometheusCollector) Register(def MetricDefinition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.vecs[def.Name]; ok {
		if prev.def.Type != def.Type {
			return fmt.Errorf("register %s: already registered as %s", def.Name, prev.def.Type)
		}
		return nil
	}

	r := registered{def: def}
	var coll prometheus.Collector
	switch def.Type {
	case MetricTypeCounter:
		r.counter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: c.namespace, Subsystem: c.subsystem, Name: def.Name, Help: def.Help,
		}, def.Labels)
		coll = r.counter
	case MetricTypeGauge:
		r.gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: c.namespace, Subsystem: c.subsystem, Name: def.Name, Help: def.Help,
		}, def.Labels)
		coll = r.gauge
	case MetricTypeHistogram:
		buckets := def.Buckets
		if len(buckets) == 0 {
			buckets = prometheus.DefBuckets
		}
		r.histogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: c.namespace, Subsystem: c.subsystem, Name: def.Name, Help: def.Help, Buckets: buckets,
		}, def.Labels)
		coll = r.histogram
	default:
		return fmt.Errorf("register %s: unsupported type %q", def.Name, def.Type)
	}

	if err := c.registry.Register(coll); err != nil {
		return fmt.Errorf("register %s: %w", def.Name, err)
	}
	c.vecs[def.Name] = r
	return nil
}

// lookup returns the vector for name and the label values, or false when
// the sample must be dropped.
func (c *PrometheusCollector) lookup(name string, labels []string) (registered, []string, bool) {
	c.mu.RLock()
	r, ok := c.vecs[name]
	c.mu.RUnlock()
	if !ok {
		return r, nil, false
	}
	values := labelsToValues(labels)
	if len(values) != len(r.def.Labels) {
		return r, nil, false
	}
	return r, values, true
}

// =============================================================================
// Collector Interface Implementation
// =============================================================================

func (c *PrometheusCollector) CounterInc(name string, labels ...string) {
	c.CounterAdd(name, 1, labels...)
}

func (c *PrometheusCollector) CounterAdd(name string, value float64, labels ...string) {
	r, values, ok := c.lookup(name, labels)
	if !ok || r.counter == nil {
		return
	}
	if m, err := r.counter.GetMetricWithLabelValues(values...); err == nil {
		m.Add(value)
	}
}

func (c *PrometheusCollector) GaugeSet(name string, value float64, labels ...string) {
	r, values, ok := c.lookup(name, labels)
	if !ok || r.gauge == nil {
		return
	}
	if m, err := r.gauge.GetMetricWithLabelValues(values...); err == nil {
		m.Set(value)
	}
}

func (c *PrometheusCollector) HistogramObserve(name string, value float64, labels ...string) {
	r, values, ok := c.lookup(name, labels)
	if !ok || r.histogram == nil {
		return
	}
	if m, err := r.histogram.GetMetricWithLabelValues(values...); err == nil {
		m.Observe(value)
	}
}

// Handler serves the registry in the Prometheus/OpenMetrics text format.
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying Prometheus registry.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

// labelsToValues keeps the values of name/value label pairs.
func labelsToValues(labels []string) []string {
	if len(labels) == 0 {
		return nil
	}

	values := make([]string, 0, len(labels)/2)
	for i := 1; i < len(labels); i += 2 {
		values = append(values, labels[i])
	}
	return values
}

var _ Collector = (*PrometheusCollector)(nil)
