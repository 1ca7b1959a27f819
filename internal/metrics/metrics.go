// Package metrics exposes Prometheus collectors for the repository harvester.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_pages_total",
		Help: "Total number of pages fetched and persisted.",
	})
	repositoriesUpsertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_repositories_upserted_total",
		Help: "Total number of repository rows written.",
	})
	fetchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_fetch_failures_total",
			Help: "Total number of failed fetches, labeled by kind (remote or transport).",
		},
		[]string{"kind"},
	)
	persistFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_persist_failures_total",
		Help: "Total number of page writes that failed and were rolled back.",
	})
	archiveFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_archive_failures_total",
		Help: "Total number of raw page snapshots that could not be archived.",
	})
	throttleSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvester_rate_limit_wait_seconds",
		Help:    "Histogram of waits imposed by a low rate-limit quota.",
		Buckets: []float64{1, 10, 30, 60, 300, 900, 3600},
	})
	rateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_rate_limit_remaining",
		Help: "Remaining API quota as reported by the last page.",
	})
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_runs_total",
			Help: "Total number of crawl runs, labeled by termination reason.",
		},
		[]string{"reason"},
	)
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_http_requests_total",
			Help: "Total number of requests served by the metrics server, labeled by route and code.",
		},
		[]string{"route", "code"},
	)
	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_http_request_duration_seconds",
			Help:    "Histogram of metrics server latencies, labeled by route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records one persisted page and the rows it wrote.
func ObservePage(written int) {
	pagesTotal.Inc()
	if written > 0 {
		repositoriesUpsertedTotal.Add(float64(written))
	}
}

// ObserveFetchFailure increments the fetch failure counter for kind.
func ObserveFetchFailure(kind string) {
	fetchFailuresTotal.WithLabelValues(kind).Inc()
}

// ObservePersistFailure increments the persist failure counter.
func ObservePersistFailure() {
	persistFailuresTotal.Inc()
}

// ObserveArchiveFailure increments the archive failure counter.
func ObserveArchiveFailure() {
	archiveFailuresTotal.Inc()
}

// ObserveThrottle records a rate-limit wait.
func ObserveThrottle(d time.Duration) {
	throttleSeconds.Observe(d.Seconds())
}

// SetRateLimitRemaining publishes the last reported quota.
func SetRateLimitRemaining(n int) {
	rateLimitRemaining.Set(float64(n))
}

// ObserveRun counts a finished run by reason.
func ObserveRun(reason string) {
	runsTotal.WithLabelValues(reason).Inc()
}

// ObserveHTTPRequest records a request served by the metrics server.
func ObserveHTTPRequest(route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(route).Observe(duration.Seconds())
}
