package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sentinel"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so library code can take it optionally.
type Metrics struct {
	// HTTP
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec

	// Analysis
	AnalysesTotal      *prometheus.CounterVec
	AnalysisDuration   prometheus.Histogram
	TierExecutions     *prometheus.CounterVec
	TierDuration       *prometheus.HistogramVec
	TierTimeouts       *prometheus.CounterVec
	BoundaryViolations *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	Quarantined        prometheus.Counter
}

// NewMetrics registers the collectors with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	start := time.Now()

	m := &Metrics{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "path"}),
		RequestSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}, []string{"method", "path"}),

		AnalysesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Completed analyses by verdict, final state and cache use",
		}, []string{"verdict", "state", "cached"}),
		AnalysisDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "End-to-end analysis latency",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2, 5, 10, 30},
		}),
		TierExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_executions_total",
			Help:      "Tier runs by tier and outcome",
		}, []string{"tier", "outcome"}),
		TierDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tier_duration_seconds",
			Help:      "Tier run latency",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2, 5, 10},
		}, []string{"tier"}),
		TierTimeouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_timeouts_total",
			Help:      "Tier runs that hit their time budget",
		}, []string{"tier"}),
		BoundaryViolations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "boundary_violations_total",
			Help:      "Rejected guest or tracee memory accesses",
		}, []string{"boundary"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Verdict cache lookups by result",
		}, []string{"result"}),
		Quarantined: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quarantined_total",
			Help:      "Files handed to quarantine",
		}),
	}

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Process uptime in seconds",
	}, func() float64 { return time.Since(start).Seconds() })

	return m
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
}

// RecordAnalysis records a finished analysis.
func (m *Metrics) RecordAnalysis(verdict, state string, cached bool, duration time.Duration) {
	if m == nil {
		return
	}
	c := "false"
	if cached {
		c = "true"
	}
	m.AnalysesTotal.WithLabelValues(verdict, state, c).Inc()
	m.AnalysisDuration.Observe(duration.Seconds())
}

// RecordTier records one tier run. outcome is completed, degraded or
// escalate.
func (m *Metrics) RecordTier(tier, outcome string, duration time.Duration, timedOut bool) {
	if m == nil {
		return
	}
	m.TierExecutions.WithLabelValues(tier, outcome).Inc()
	m.TierDuration.WithLabelValues(tier).Observe(duration.Seconds())
	if timedOut {
		m.TierTimeouts.WithLabelValues(tier).Inc()
	}
}

// RecordBoundaryViolation counts a rejected cross-boundary access.
func (m *Metrics) RecordBoundaryViolation(boundary string) {
	if m == nil {
		return
	}
	m.BoundaryViolations.WithLabelValues(boundary).Inc()
}

// RecordCacheLookup counts a cache lookup: hit, miss, error or bypass.
func (m *Metrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// IncQuarantined counts a quarantine hand-off.
func (m *Metrics) IncQuarantined() {
	if m == nil {
		return
	}
	m.Quarantined.Inc()
}
