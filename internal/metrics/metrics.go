// Package metrics exposes Prometheus collectors for the harvester workers.
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
	unitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_units_total",
			Help: "Total number of units processed, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	pagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_pages_total",
			Help: "Total number of upstream review pages requested, labeled by result.",
		},
		[]string{"result"},
	)

	recordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_records_total",
			Help: "Total number of review records appended to checkpoint logs.",
		},
	)

	requestRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_request_retries_total",
			Help: "Total number of upstream request retries, labeled by reason.",
		},
		[]string{"reason"},
	)

	requestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_request_duration_seconds",
			Help:    "Histogram of upstream request latencies, labeled by status code class.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"code"},
	)

	lockTakeoversTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_lock_takeovers_total",
			Help: "Total number of stale locks removed and taken over.",
		},
	)

	queuePollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_queue_polls_total",
			Help: "Total number of queue polls, labeled by result.",
		},
		[]string{"result"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_http_requests_total",
			Help: "Total number of status server requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_http_request_duration_seconds",
			Help:    "Histogram of status server latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "route"},
	)

	activeUnits = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvester_active_units",
			Help: "Number of units currently being processed by this worker.",
		},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUnit increments the unit counter for the given outcome.
func ObserveUnit(outcome string) {
	unitsTotal.WithLabelValues(outcome).Inc()
}

// ObservePage counts one upstream page request by result (ok, empty, error...).
func ObservePage(result string) {
	pagesTotal.WithLabelValues(result).Inc()
}

// ObserveRecords adds n appended records.
func ObserveRecords(n int) {
	if n > 0 {
		recordsTotal.Add(float64(n))
	}
}

// ObserveRetry counts one retry for the given reason (transport, server, rate_limited).
func ObserveRetry(reason string) {
	requestRetriesTotal.WithLabelValues(reason).Inc()
}

// ObserveRequest records the latency of one upstream request.
func ObserveRequest(code int, duration time.Duration) {
	requestDurationSeconds.WithLabelValues(codeClass(code)).Observe(duration.Seconds())
}

// ObserveLockTakeover counts a stale lock taken over.
func ObserveLockTakeover() {
	lockTakeoversTotal.Inc()
}

// ObserveQueuePoll counts a queue poll by result (hit, empty, error).
func ObserveQueuePoll(result string) {
	queuePollsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest records one status server request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveUnits increments the active units gauge.
func IncActiveUnits() {
	activeUnits.Inc()
}

// DecActiveUnits decrements the active units gauge.
func DecActiveUnits() {
	activeUnits.Dec()
}

func codeClass(code int) string {
	switch {
	case code <= 0:
		return "transport_error"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code == http.StatusTooManyRequests:
		return "429"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
