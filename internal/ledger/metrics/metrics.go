// Package metrics wraps Prometheus collectors for the ledger pipeline.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector provides ledger metrics collection.
type Collector struct {
	registry *prometheus.Registry

	transactions    *prometheus.CounterVec
	processLatency  *prometheus.HistogramVec
	fraudConfidence prometheus.Histogram
	fraudFlagged    prometheus.Counter
	compensations   *prometheus.CounterVec
	auditWrites     *prometheus.CounterVec
	auditDropped    prometheus.Counter
	rateLimited     prometheus.Counter
	breakerState    *prometheus.GaugeVec
}

// NewCollector creates a collector on its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "points_ledger"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.transactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "transactions_total",
			Help:      "Transactions processed by kind and result.",
		},
		[]string{"kind", "result"},
	)

	c.processLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "process_duration_seconds",
			Help:      "Duration of a full process call.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
		[]string{"kind"},
	)

	c.fraudConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fraud",
			Name:      "confidence",
			Help:      "Fraud verdict confidence per screened transaction.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	c.fraudFlagged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fraud",
			Name:      "flagged_total",
			Help:      "Transactions held for review.",
		},
	)

	c.compensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "compensations_total",
			Help:      "Compensating credits after a failed credit leg.",
		},
		[]string{"result"},
	)

	c.auditWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "writes_total",
			Help:      "Audit records written to the sink.",
		},
		[]string{"result"},
	)

	c.auditDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "dropped_total",
			Help:      "Audit records dropped because the queue was full.",
		},
	)

	c.rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingress",
			Name:      "rate_limited_total",
			Help:      "Submissions rejected by the per-account rate limiter.",
		},
	)

	c.breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "breaker_state",
			Help:      "Store circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{"name"},
	)

	c.registry.MustRegister(
		c.transactions,
		c.processLatency,
		c.fraudConfidence,
		c.fraudFlagged,
		c.compensations,
		c.auditWrites,
		c.auditDropped,
		c.rateLimited,
		c.breakerState,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)

	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler returns an HTTP handler exposing the collector's metrics.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordTransaction records one process call. result is "completed",
// "degraded_completed" or an error kind.
func (c *Collector) RecordTransaction(kind, result string, duration time.Duration) {
	if c == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = "unknown"
	}
	c.transactions.WithLabelValues(kind, result).Inc()
	c.processLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordFraudVerdict records a screened verdict.
func (c *Collector) RecordFraudVerdict(confidence float64, flagged bool) {
	if c == nil {
		return
	}
	c.fraudConfidence.Observe(confidence)
	if flagged {
		c.fraudFlagged.Inc()
	}
}

// RecordCompensation records the result of a compensating credit.
func (c *Collector) RecordCompensation(success bool) {
	if c == nil {
		return
	}
	result := "failed"
	if success {
		result = "success"
	}
	c.compensations.WithLabelValues(result).Inc()
}

// RecordAuditWrite records a sink write.
func (c *Collector) RecordAuditWrite(err error) {
	if c == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	c.auditWrites.WithLabelValues(result).Inc()
}

// RecordAuditDropped records an audit record lost to a full queue.
func (c *Collector) RecordAuditDropped() {
	if c == nil {
		return
	}
	c.auditDropped.Inc()
}

// RecordRateLimited records a rejected submission.
func (c *Collector) RecordRateLimited() {
	if c == nil {
		return
	}
	c.rateLimited.Inc()
}

// SetBreakerState records the state of a named circuit breaker.
func (c *Collector) SetBreakerState(name string, state float64) {
	if c == nil {
		return
	}
	c.breakerState.WithLabelValues(name).Set(state)
}
