// Package metrics exposes Prometheus instrumentation for the API client,
// scanner, scheduler and HTTP server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns every metric. A nil *Manager is valid and records nothing.
type Manager struct {
	namespace string
	buckets   []float64
	registry  *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	cacheHits   prometheus.Counter

	scanDuration  prometheus.Histogram
	scanCountries *prometheus.CounterVec

	analyses *prometheus.CounterVec

	refreshRuns     *prometheus.CounterVec
	refreshKeywords prometheus.Counter
	purgedResults   prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace sets the metric namespace.
func WithNamespace(ns string) Option {
	return func(m *Manager) {
		if ns != "" {
			m.namespace = ns
		}
	}
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(m *Manager) {
		if reg != nil {
			m.registry = reg
		}
	}
}

// WithBuckets sets latency histogram buckets in seconds.
func WithBuckets(b []float64) Option {
	return func(m *Manager) {
		if len(b) > 0 {
			m.buckets = b
		}
	}
}

// New creates and registers all metrics.
func New(opts ...Option) *Manager {
	m := &Manager{
		namespace: "respectaso",
		buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	auto := promauto.With(m.registry)
	m.apiRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "itunes", Name: "requests_total",
		Help: "iTunes API requests by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})
	m.apiLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "itunes", Name: "request_duration_seconds",
		Help: "iTunes API request latency.", Buckets: m.buckets,
	}, []string{"endpoint"})
	m.cacheHits = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "itunes", Name: "cache_hits_total",
		Help: "Search responses served from cache.",
	})
	m.scanDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "scan", Name: "duration_seconds",
		Help:    "Country opportunity scan duration.",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
	})
	m.scanCountries = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "scan", Name: "countries_total",
		Help: "Countries scanned by outcome.",
	}, []string{"outcome"})
	m.analyses = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "scoring", Name: "analyses_total",
		Help: "Keyword analyses by classification.",
	}, []string{"classification"})
	m.refreshRuns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "refresh", Name: "runs_total",
		Help: "Auto-refresh runs by outcome.",
	}, []string{"outcome"})
	m.refreshKeywords = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "refresh", Name: "keywords_total",
		Help: "Keyword+country pairs refreshed.",
	})
	m.purgedResults = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "refresh", Name: "purged_results_total",
		Help: "Search results removed by retention.",
	})
	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "http", Name: "requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})
	m.httpDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "http", Name: "request_duration_seconds",
		Help: "HTTP request latency.", Buckets: m.buckets,
	}, []string{"method", "route"})
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveAPI records one iTunes API call.
func (m *Manager) ObserveAPI(endpoint string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.apiRequests.WithLabelValues(endpoint, outcome).Inc()
	m.apiLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

// CacheHit records a cached search response.
func (m *Manager) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// ObserveScan records a finished country scan.
func (m *Manager) ObserveScan(d time.Duration, succeeded, failed int) {
	if m == nil {
		return
	}
	m.scanDuration.Observe(d.Seconds())
	m.scanCountries.WithLabelValues("ok").Add(float64(succeeded))
	m.scanCountries.WithLabelValues("failed").Add(float64(failed))
}

// Analysis records one scored keyword.
func (m *Manager) Analysis(classification string) {
	if m == nil {
		return
	}
	m.analyses.WithLabelValues(classification).Inc()
}

// ObserveRefresh records an auto-refresh run.
func (m *Manager) ObserveRefresh(refreshed int, purged int64, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.refreshRuns.WithLabelValues(outcome).Inc()
	m.refreshKeywords.Add(float64(refreshed))
	m.purgedResults.Add(float64(purged))
}

// ObserveHTTP records one served HTTP request.
func (m *Manager) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
