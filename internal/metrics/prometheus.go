package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "kettle"

// Collector holds the engine's Prometheus metrics. Metrics are registered in
// a dedicated registry so they do not interfere with the default global
// registry. All methods are safe on a nil *Collector, which records nothing.
type Collector struct {
	registry *prometheus.Registry

	verdicts          *prometheus.CounterVec
	multicallRequests *prometheus.CounterVec
	multicallDuration prometheus.Histogram
	multicallCalls    prometheus.Histogram
	actionsBuilt      *prometheus.CounterVec
	actionsExecuted   *prometheus.CounterVec
	uptimeSeconds     prometheus.GaugeFunc

	startTime time.Time
}

// NewCollector creates a Collector with every metric registered
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{registry: reg, startTime: time.Now()}

	c.verdicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "validation_verdicts_total",
		Help:      "Offer verdicts by offer kind and reason.",
	}, []string{"kind", "reason"})

	c.multicallRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "multicall_requests_total",
		Help:      "Multicall round trips by outcome.",
	}, []string{"outcome"})

	c.multicallDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "multicall_duration_seconds",
		Help:      "Latency of a single multicall round trip.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	})

	c.multicallCalls = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "multicall_calls_per_request",
		Help:      "Number of contract calls packed into one multicall request.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})

	c.actionsBuilt = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "actions_built_total",
		Help:      "Actions returned by the builder by intent and action kind.",
	}, []string{"intent", "kind"})

	c.actionsExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "actions_executed_total",
		Help:      "Executed actions by kind and outcome.",
	}, []string{"kind", "outcome"})

	c.uptimeSeconds = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Time since the collector was created in seconds.",
	}, func() float64 { return time.Since(c.startTime).Seconds() })

	reg.MustRegister(
		c.verdicts,
		c.multicallRequests,
		c.multicallDuration,
		c.multicallCalls,
		c.actionsBuilt,
		c.actionsExecuted,
		c.uptimeSeconds,
	)
	return c
}

// Registry returns the Prometheus registry used by this collector
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordVerdict counts one offer verdict. Valid offers are recorded with
// reason "valid".
func (c *Collector) RecordVerdict(kind, reason string, valid bool) {
	if c == nil {
		return
	}
	if valid {
		reason = "valid"
	}
	c.verdicts.WithLabelValues(kind, reason).Inc()
}

// RecordMulticall records one multicall round trip
func (c *Collector) RecordMulticall(calls int, duration time.Duration, err error) {
	if c == nil {
		return
	}
	c.multicallRequests.WithLabelValues(outcome(err)).Inc()
	c.multicallDuration.Observe(duration.Seconds())
	c.multicallCalls.Observe(float64(calls))
}

// RecordActions counts the actions returned for one intent
func (c *Collector) RecordActions(intent string, kinds ...string) {
	if c == nil {
		return
	}
	for _, kind := range kinds {
		c.actionsBuilt.WithLabelValues(intent, kind).Inc()
	}
}

// RecordExecution counts one executed action
func (c *Collector) RecordExecution(kind string, err error) {
	if c == nil {
		return
	}
	c.actionsExecuted.WithLabelValues(kind, outcome(err)).Inc()
}

// Snapshot flattens counters and gauges into name{labels} -> value.
// Histograms contribute their sample count.
func (c *Collector) Snapshot() (map[string]float64, error) {
	if c == nil {
		return map[string]float64{}, nil
	}
	families, err := c.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName() + labelString(m.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				out[key] = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				out[key] = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				out[key+"_count"] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out, nil
}

// PrometheusHandler returns an http.Handler that serves metrics in the
// Prometheus text exposition format
func (c *Collector) PrometheusHandler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func labelString(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	s := "{"
	for i, l := range labels {
		if i > 0 {
			s += ","
		}
		s += l.GetName() + "=" + l.GetValue()
	}
	return s + "}"
}
