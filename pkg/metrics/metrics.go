// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// UpstreamDuration tracks calls to the NL-to-SQL service by endpoint.
	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Upstream NL-to-SQL request duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"endpoint", "outcome"},
	)

	// UpstreamErrorsTotal counts upstream failures by category.
	UpstreamErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_errors_total",
			Help: "Upstream NL-to-SQL failures by category",
		},
		[]string{"endpoint", "category"},
	)

	// TurnsTotal tracks turns appended to the conversation log.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_turns_total",
			Help: "Turns appended to the conversation log",
		},
		[]string{"role"},
	)

	// SubmissionsRejected counts questions dropped because another was in flight.
	SubmissionsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_submissions_rejected_total",
			Help: "Questions ignored because a question was already in flight",
		},
	)

	// ExportsTotal tracks exports by the row source that was rendered.
	ExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_exports_total",
			Help: "Result exports by row source",
		},
		[]string{"source"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// StoreWriteFailures counts failed persistence writes.
	StoreWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_store_write_failures_total",
			Help: "Failed writes of the persisted conversation",
		},
		[]string{"backend"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordUpstream records one upstream call. category is empty on success.
func RecordUpstream(endpoint, category string, duration float64) {
	outcome := "success"
	if category != "" {
		outcome = "failure"
		UpstreamErrorsTotal.WithLabelValues(endpoint, category).Inc()
	}
	UpstreamDuration.WithLabelValues(endpoint, outcome).Observe(duration)
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
