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
	unitsProcessedTotal        *prometheus.CounterVec
	fetchStatusTotal           *prometheus.CounterVec
	extractionWinsTotal        *prometheus.CounterVec
	gateVerdictsTotal          *prometheus.CounterVec
	unitDurationSeconds        prometheus.Histogram
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		unitsProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "landcrawler_units_processed_total",
				Help: "Total number of crawl units handled, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchStatusTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "landcrawler_fetch_status_total",
				Help: "Total number of fetches, labeled by status class (2xx, 3xx, 4xx, 5xx, error).",
			},
			[]string{"class"},
		)

		extractionWinsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "landcrawler_extraction_wins_total",
				Help: "Total extractions, labeled by the tier that produced the content.",
			},
			[]string{"source"},
		)

		gateVerdictsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "landcrawler_gate_verdicts_total",
				Help: "Total relevance gate calls, labeled by verdict (yes, no, none).",
			},
			[]string{"verdict"},
		)

		unitDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "landcrawler_unit_duration_seconds",
				Help:    "Histogram of end-to-end per-unit processing latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "landcrawler_active_workers",
				Help: "Number of workers currently processing a unit.",
			},
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

// ObserveUnit records one completed unit with its outcome and latency.
func ObserveUnit(outcome string, duration time.Duration) {
	unitsProcessedTotal.WithLabelValues(outcome).Inc()
	unitDurationSeconds.Observe(duration.Seconds())
}

// ObserveFetchStatus buckets an HTTP status into its class counter. A status
// below 100 (sentinels included) counts as a transport error.
func ObserveFetchStatus(status int) {
	class := "error"
	switch {
	case status >= 500:
		class = "5xx"
	case status >= 400:
		class = "4xx"
	case status >= 300:
		class = "3xx"
	case status >= 200:
		class = "2xx"
	case status >= 100:
		class = "1xx"
	}
	fetchStatusTotal.WithLabelValues(class).Inc()
}

// ObserveExtraction records which tier produced a unit's content.
func ObserveExtraction(source string) {
	extractionWinsTotal.WithLabelValues(source).Inc()
}

// ObserveGateVerdict records one relevance gate call.
func ObserveGateVerdict(verdict string) {
	if verdict == "" {
		verdict = "none"
	}
	gateVerdictsTotal.WithLabelValues(verdict).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}
