// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	claimsTotal                *prometheus.CounterVec
	resultsTotal               *prometheus.CounterVec
	fetchBytesTotal            prometheus.Counter
	connectedWorkers           *prometheus.GaugeVec
	inflightAssignments        prometheus.Gauge
	assignmentDurationSeconds  *prometheus.HistogramVec
	hostsDisabledTotal         *prometheus.CounterVec
	stuckReleasedTotal         prometheus.Counter
	purgeDeletedTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		claimsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunecrawler_claims_total",
				Help: "Total claim attempts, labeled by work kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		resultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunecrawler_results_total",
				Help: "Total worker results applied, labeled by work kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tunecrawler_fetch_bytes_total",
				Help: "Total document bytes stored from successful fetches.",
			},
		)

		connectedWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tunecrawler_connected_workers",
				Help: "Number of worker connections currently held, labeled by role.",
			},
			[]string{"role"},
		)

		inflightAssignments = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tunecrawler_inflight_assignments",
				Help: "Number of assignments handed to workers and not yet resolved.",
			},
		)

		assignmentDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tunecrawler_assignment_duration_seconds",
				Help:    "Histogram of assignment round-trip times, labeled by work kind.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"kind"},
		)

		hostsDisabledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunecrawler_hosts_disabled_total",
				Help: "Total hosts disabled, labeled by reason.",
			},
			[]string{"reason"},
		)

		stuckReleasedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tunecrawler_stuck_released_total",
				Help: "Total in-flight claims released by the liveness sweep.",
			},
		)

		purgeDeletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunecrawler_purge_deleted_total",
				Help: "Total rows removed or erased by the purger, labeled by kind.",
			},
			[]string{"kind"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveClaim counts one claim attempt for the given work kind.
func ObserveClaim(kind, outcome string) {
	claimsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveResult counts one applied worker result.
func ObserveResult(kind, outcome string) {
	resultsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveFetchBytes adds the size of a stored document.
func ObserveFetchBytes(n int64) {
	if n > 0 {
		fetchBytesTotal.Add(float64(n))
	}
}

// WorkerConnected adjusts the connected-worker gauge for a role.
func WorkerConnected(role string, delta int) {
	connectedWorkers.WithLabelValues(role).Add(float64(delta))
}

// AssignmentStarted increments the in-flight assignment gauge.
func AssignmentStarted() {
	inflightAssignments.Inc()
}

// AssignmentResolved decrements the in-flight assignment gauge and records the
// round-trip time.
func AssignmentResolved(kind string, duration time.Duration) {
	inflightAssignments.Dec()
	assignmentDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// AssignmentAbandoned decrements the in-flight assignment gauge for a claim
// lost to a worker disconnect. No duration is recorded.
func AssignmentAbandoned() {
	inflightAssignments.Dec()
}

// ObserveHostDisabled counts one host disable for the given reason.
func ObserveHostDisabled(reason string) {
	hostsDisabledTotal.WithLabelValues(reason).Inc()
}

// ObserveStuckReleased counts claims released by the liveness sweep.
func ObserveStuckReleased(n int64) {
	if n > 0 {
		stuckReleasedTotal.Add(float64(n))
	}
}

// ObservePurge counts rows removed or erased by the purger.
func ObservePurge(kind string, n int64) {
	if n > 0 {
		purgeDeletedTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
