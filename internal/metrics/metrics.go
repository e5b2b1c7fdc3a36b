// Package metrics exposes Prometheus collectors for the outreach service.
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
	outreachSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_sends_total",
			Help: "Total number of send attempts, labeled by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	outreachQuotaRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outreach_quota_remaining",
			Help: "Remaining daily sends observed after the last attempt, labeled by source.",
		},
		[]string{"source"},
	)

	outreachLifecycleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_lifecycle_total",
			Help: "Total number of record lifecycle updates, labeled by event.",
		},
		[]string{"event"},
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

	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outreach_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{"name"},
	)

	circuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_circuit_breaker_requests_total",
			Help: "Requests passing through a circuit breaker, labeled by name and result.",
		},
		[]string{"name", "result"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSend counts one terminal send outcome.
func ObserveSend(source, outcome string) {
	if source == "" {
		source = "unknown"
	}
	outreachSendsTotal.WithLabelValues(source, outcome).Inc()
}

// SetQuotaRemaining records the remaining daily sends for source.
func SetQuotaRemaining(source string, remaining int) {
	if source == "" {
		source = "global"
	}
	outreachQuotaRemaining.WithLabelValues(source).Set(float64(remaining))
}

// ObserveLifecycle counts a replied/converted update.
func ObserveLifecycle(event string) {
	outreachLifecycleTotal.WithLabelValues(event).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetBreakerState records the numeric state of a named breaker.
func SetBreakerState(name string, state float64) {
	circuitBreakerState.WithLabelValues(name).Set(state)
}

// ObserveBreakerRequest counts a breaker outcome (success, failure, rejected).
func ObserveBreakerRequest(name, result string) {
	circuitBreakerRequests.WithLabelValues(name, result).Inc()
}
