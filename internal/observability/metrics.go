// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "spice"

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	// Job metrics
	JobsSubmitted *prometheus.CounterVec
	JobsRejected  *prometheus.CounterVec
	JobsFinished  *prometheus.CounterVec
	JobsActive    *prometheus.GaugeVec
	JobDuration   *prometheus.HistogramVec
	JobsRecovered prometheus.Counter

	// Matching metrics
	MatchOutcomes   *prometheus.CounterVec
	MatchConfidence *prometheus.HistogramVec

	// Enrichment metrics
	ProviderCalls   *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec
	ProviderTokens  *prometheus.CounterVec
	ProviderCost    *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec
	EnrichFailures  *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on reg.
// Passing nil registers on a fresh private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,

		JobsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "submitted_total",
			Help:      "Total number of accepted job submissions by kind",
		}, []string{"kind"}),
		JobsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "rejected_total",
			Help:      "Total number of submissions rejected because the resource was busy",
		}, []string{"kind"}),
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Total number of jobs reaching a terminal status",
		}, []string{"kind", "status"}),
		JobsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "active",
			Help:      "Jobs currently pending, queued or running",
		}, []string{"kind"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Wall time from start to terminal status",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"kind"}),
		JobsRecovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "recovered_total",
			Help:      "Jobs failed at startup because a previous process left them active",
		}),

		MatchOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "outcomes_total",
			Help:      "Per-transaction matching outcomes by source kind",
		}, []string{"kind", "outcome"}),
		MatchConfidence: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "confidence",
			Help:      "Confidence of recorded matches",
			Buckets:   prometheus.LinearBuckets(50, 10, 6),
		}, []string{"kind"}),

		ProviderCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "provider_calls_total",
			Help:      "AI provider calls by result",
		}, []string{"provider", "result"}),
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "provider_latency_seconds",
			Help:      "AI provider call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		ProviderTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "provider_tokens_total",
			Help:      "Tokens consumed by AI provider calls",
		}, []string{"provider"}),
		ProviderCost: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "provider_cost_total",
			Help:      "Estimated spend on AI provider calls in currency units",
		}, []string{"provider"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "cache_lookups_total",
			Help:      "Enrichment cache lookups by result",
		}, []string{"result"}),
		EnrichFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "failures_total",
			Help:      "Failed enrichment attempts by error kind",
		}, []string{"error_kind"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// JobSubmitted records an accepted submission.
func (m *Metrics) JobSubmitted(kind string) {
	if m == nil {
		return
	}
	m.JobsSubmitted.WithLabelValues(kind).Inc()
	m.JobsActive.WithLabelValues(kind).Inc()
}

// JobRejected records a submission refused for a busy resource.
func (m *Metrics) JobRejected(kind string) {
	if m == nil {
		return
	}
	m.JobsRejected.WithLabelValues(kind).Inc()
}

// JobFinished records a terminal transition.
func (m *Metrics) JobFinished(kind, status string, seconds float64) {
	if m == nil {
		return
	}
	m.JobsFinished.WithLabelValues(kind, status).Inc()
	m.JobsActive.WithLabelValues(kind).Dec()
	m.JobDuration.WithLabelValues(kind).Observe(seconds)
}

// JobsRecoveredAdd records jobs failed by startup recovery.
func (m *Metrics) JobsRecoveredAdd(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.JobsRecovered.Add(float64(n))
}

// MatchOutcome records one transaction's matching outcome.
func (m *Metrics) MatchOutcome(kind, outcome string) {
	if m == nil {
		return
	}
	m.MatchOutcomes.WithLabelValues(kind, outcome).Inc()
}

// MatchRecorded records the confidence of a stored match.
func (m *Metrics) MatchRecorded(kind string, confidence int) {
	if m == nil {
		return
	}
	m.MatchOutcomes.WithLabelValues(kind, "matched").Inc()
	m.MatchConfidence.WithLabelValues(kind).Observe(float64(confidence))
}

// ProviderCall records one AI provider call.
func (m *Metrics) ProviderCall(provider string, seconds float64, tokens int, cost decimal.Decimal, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.ProviderCalls.WithLabelValues(provider, result).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(seconds)
	if tokens > 0 {
		m.ProviderTokens.WithLabelValues(provider).Add(float64(tokens))
	}
	if cost.IsPositive() {
		m.ProviderCost.WithLabelValues(provider).Add(cost.InexactFloat64())
	}
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

// EnrichFailure records a failed enrichment attempt.
func (m *Metrics) EnrichFailure(errorKind string) {
	if m == nil {
		return
	}
	m.EnrichFailures.WithLabelValues(errorKind).Inc()
}
