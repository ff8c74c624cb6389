// Package metrics exposes Prometheus collectors for the HTTP surface.
// Extraction-run metrics live in progress/sinks and are fed by events.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	submissionsTotal           *prometheus.CounterVec

	once      sync.Once
	depthOnce sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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
				Buckets: []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120},
			},
			[]string{"method", "route"},
		)

		submissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patents_api_submissions_total",
				Help: "Extraction requests received by the API, labeled by outcome.",
			},
			[]string{"outcome"},
		)
	})
}

// RegisterQueueDepth exposes the worker queue length as a gauge. Only the
// first call registers.
func RegisterQueueDepth(depth func() int) {
	depthOnce.Do(func() {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "patents_worker_queue_depth",
			Help: "Extraction tasks waiting for the run slot.",
		}, func() float64 { return float64(depth()) })
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveSubmission counts one extraction request by outcome
// (ok, rejected, queue_full, canceled, invalid).
func ObserveSubmission(outcome string) {
	submissionsTotal.WithLabelValues(outcome).Inc()
}
