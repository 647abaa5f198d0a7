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

	// MessagesIngested tracks messages accepted into the store.
	MessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_ingested_total",
			Help: "Messages recorded in the conversation store",
		},
		[]string{"direction", "source"},
	)

	// DuplicatesDropped tracks messages rejected by deduplication.
	DuplicatesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_duplicates_dropped_total",
			Help: "Messages dropped as duplicates",
		},
		[]string{"rule", "source"},
	)

	// ConversationsActive tracks conversations held in memory.
	ConversationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_conversations_active",
			Help: "Conversations held in the store",
		},
	)

	// SessionConnected is 1 while the external session is usable.
	SessionConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_session_connected",
			Help: "Whether the external chat session is connected",
		},
	)

	// SessionEvents tracks events received from the external session.
	SessionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_session_events_total",
			Help: "Events received from the external session",
		},
		[]string{"type"},
	)

	// ReconcileDuration tracks the duration of reconciliation passes.
	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_reconcile_duration_seconds",
			Help:    "Duration of a reconciliation pass",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// ReconcileFailures tracks per-conversation fetch failures.
	ReconcileFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_reconcile_failures_total",
			Help: "Conversation history fetches that failed",
		},
	)

	// SendsTotal tracks outbound send attempts.
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sends_total",
			Help: "Outbound send attempts",
		},
		[]string{"status"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// SetSessionConnected updates the session connectivity gauge.
func SetSessionConnected(connected bool) {
	if connected {
		SessionConnected.Set(1)
		return
	}
	SessionConnected.Set(0)
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
