// Package metrics builds the process's Prometheus registry and the
// per-component counters/histograms/gauges it collects, grounded on the
// teacher's internal/metrics.go: the same default-collector registration,
// the same chi-middleware HTTP instrumentation shape, and the same
// pgxpoolprometheus-backed DB collector, generalized from the teacher's
// controller/cache/gql subsystems to this engine's
// reconciler/fetcher/cache subsystems.
package metrics

import (
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "bookwatch"

// patternRE strips chi's `{...}` path parameters so distinct book IDs
// collapse onto one label value.
var patternRE = regexp.MustCompile(`\{[^/]+\}`)

// Collector owns every metric this process emits and is the structural
// type store.cacheRecorder and reconciler/fetcher callers record against.
type Collector struct {
	Registry *prometheus.Registry

	reconcileTotals *prometheus.CounterVec
	reconcileGauge  *prometheus.GaugeVec
	fetchTotals     *prometheus.CounterVec
	cacheTotals     *prometheus.CounterVec
}

// New builds a Collector with the default Go/process/build-info
// collectors already registered, matching NewMetrics's startup shape.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
		collectors.NewBuildInfoCollector(),
	)

	c := &Collector{
		Registry: reg,
		reconcileTotals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "total_operations",
			Help:      "Counts of reconcile-loop outcomes by type.",
		}, []string{"type"}),
		reconcileGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "books_in_system",
			Help:      "Active book count as observed at the end of the last reconcile run.",
		}, []string{"state"}),
		fetchTotals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "total_requests",
			Help:      "Upstream HTTP requests by outcome.",
		}, []string{"outcome"}),
		cacheTotals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "total",
			Help:      "Fingerprint cache lookups by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(c.reconcileTotals, c.reconcileGauge, c.fetchTotals, c.cacheTotals)
	return c
}

// RegisterDBPool wires a pgxpoolprometheus collector against pool, the
// same collector the teacher registers directly on its connection pool.
func (c *Collector) RegisterDBPool(pool *pgxpool.Pool) {
	c.Registry.MustRegister(pgxpoolprometheus.NewCollector(pool, nil))
}

// CacheHitInc and CacheMissInc satisfy store.cacheRecorder.
func (c *Collector) CacheHitInc()  { c.cacheTotals.WithLabelValues("hit").Inc() }
func (c *Collector) CacheMissInc() { c.cacheTotals.WithLabelValues("miss").Inc() }

// FetchSuccessInc and FetchErrorInc record upstream fetch outcomes.
func (c *Collector) FetchSuccessInc() { c.fetchTotals.WithLabelValues("success").Inc() }
func (c *Collector) FetchErrorInc()   { c.fetchTotals.WithLabelValues("error").Inc() }
func (c *Collector) FetchRetryInc()   { c.fetchTotals.WithLabelValues("retry").Inc() }

// RecordReconcile reports a completed DetectionRun's headline counters.
func (c *Collector) RecordReconcile(checked, newBooks, updated, removed, restored int) {
	c.reconcileTotals.WithLabelValues("books_checked").Add(float64(checked))
	c.reconcileTotals.WithLabelValues("new_books").Add(float64(newBooks))
	c.reconcileTotals.WithLabelValues("books_updated").Add(float64(updated))
	c.reconcileTotals.WithLabelValues("books_removed").Add(float64(removed))
	c.reconcileTotals.WithLabelValues("books_restored").Add(float64(restored))
}

// SetActiveBooks records the active book count observed after a reconcile
// run completes.
func (c *Collector) SetActiveBooks(n int) {
	c.reconcileGauge.WithLabelValues("active").Set(float64(n))
}

// Instrument wraps next with request-latency and in-flight gauges,
// grounded on the teacher's instrument(): a histogram of request
// durations by method/normalized-path/status, plus an in-flight gauge.
func (c *Collector) Instrument(next http.Handler) http.Handler {
	requests := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests",
		Help:      "HTTP request latencies by method, path, and status.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "path", "status"})
	inflight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "inflight",
		Help:      "Current number of in-flight HTTP requests.",
	})
	c.Registry.MustRegister(requests, inflight)

	normalized := map[string]string{}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		inflight.Inc()
		defer inflight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path, ok := normalized[r.Pattern]
		if !ok {
			path = normalizePattern(r.Pattern)
			normalized[r.Pattern] = path
		}
		if path == "" {
			return
		}
		requests.WithLabelValues(r.Method, path, fmt.Sprint(ww.Status())).Observe(time.Since(start).Seconds())
	})
}

func normalizePattern(pattern string) string {
	return patternRE.ReplaceAllString(pattern, "")
}
