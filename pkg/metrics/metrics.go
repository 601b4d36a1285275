// Package metrics defines the Prometheus metric collectors used by the index
// engine and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	DocsIndexedTotal     *prometheus.CounterVec
	IndexErrorsTotal     *prometheus.CounterVec
	CommitsTotal         *prometheus.CounterVec
	CommitLatency        *prometheus.HistogramVec
	ReductionsTotal      *prometheus.CounterVec
	QueriesTotal         *prometheus.CounterVec
	QueryLatency         *prometheus.HistogramVec
	SkippedResultsTotal  *prometheus.CounterVec
	LiveSnapshots        *prometheus.GaugeVec
	IndexSegments        *prometheus.GaugeVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all metrics and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all metrics and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		DocsIndexedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total index entries written per index.",
			},
			[]string{"index"},
		),
		IndexErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_errors_total",
				Help: "Errors recorded against an index by action (map, reduce, write, commit, dispose).",
			},
			[]string{"index", "action"},
		),
		CommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_commits_total",
				Help: "Index write sessions by outcome.",
			},
			[]string{"index", "status"},
		),
		CommitLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "index_commit_duration_seconds",
				Help:    "Index write session latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"index"},
		),
		ReductionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_reductions_total",
				Help: "Reduce groups processed per index and level.",
			},
			[]string{"index", "level"},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_queries_total",
				Help: "Queries by index and result type (hit, zero_result, error).",
			},
			[]string{"index", "result_type"},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "index_query_duration_seconds",
				Help:    "Query latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"index", "cache_status"},
		),
		SkippedResultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_query_skipped_results_total",
				Help: "Hits skipped as duplicates while paging.",
			},
			[]string{"index"},
		),
		LiveSnapshots: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "index_live_snapshots",
				Help: "Snapshots currently held by readers.",
			},
			[]string{"index"},
		),
		IndexSegments: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "index_segments",
				Help: "Committed segments per index.",
			},
			[]string{"index"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of query cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.DocsIndexedTotal,
		m.IndexErrorsTotal,
		m.CommitsTotal,
		m.CommitLatency,
		m.ReductionsTotal,
		m.QueriesTotal,
		m.QueryLatency,
		m.SkippedResultsTotal,
		m.LiveSnapshots,
		m.IndexSegments,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
	)

	return m
}

func (m *Metrics) IndexError(index, action string) {
	if m == nil {
		return
	}
	m.IndexErrorsTotal.WithLabelValues(index, action).Inc()
}

// Commit records one write session.
func (m *Metrics) Commit(index string, entries int, took time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.CommitsTotal.WithLabelValues(index, status).Inc()
	m.CommitLatency.WithLabelValues(index).Observe(took.Seconds())
	if entries > 0 {
		m.DocsIndexedTotal.WithLabelValues(index).Add(float64(entries))
	}
}

func (m *Metrics) Reduced(index string, level, groups int) {
	if m == nil || groups == 0 {
		return
	}
	m.ReductionsTotal.WithLabelValues(index, strconv.Itoa(level)).Add(float64(groups))
}

// Query records one executed query. resultType is hit, zero_result or error.
func (m *Metrics) Query(index, resultType, cacheStatus string, took time.Duration, skipped int) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(index, resultType).Inc()
	m.QueryLatency.WithLabelValues(index, cacheStatus).Observe(took.Seconds())
	if skipped > 0 {
		m.SkippedResultsTotal.WithLabelValues(index).Add(float64(skipped))
	}
}

func (m *Metrics) SnapshotAcquired(index string) {
	if m == nil {
		return
	}
	m.LiveSnapshots.WithLabelValues(index).Inc()
}

func (m *Metrics) SnapshotReleased(index string) {
	if m == nil {
		return
	}
	m.LiveSnapshots.WithLabelValues(index).Dec()
}

func (m *Metrics) Segments(index string, n int) {
	if m == nil {
		return
	}
	m.IndexSegments.WithLabelValues(index).Set(float64(n))
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

// BreakerState records the state of a named circuit breaker.
func (m *Metrics) BreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
