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

	// SubscriptionsActive tracks open remote subscriptions by kind.
	SubscriptionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_subscriptions_active",
			Help: "Open remote subscriptions",
		},
		[]string{"kind"},
	)

	// FeedEmissionsTotal tracks list emissions by feed kind.
	FeedEmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_feed_emissions_total",
			Help: "List emissions delivered to feed consumers",
		},
		[]string{"kind"},
	)

	// JoinDuration tracks time from resolve start to quiescence or budget.
	JoinDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "join_resolve_duration_seconds",
			Help:    "Profile join resolve duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 3, 5},
		},
	)

	// JoinSettlementsTotal tracks profile join settlements by outcome.
	JoinSettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "join_settlements_total",
			Help: "Profile join settlements",
		},
		[]string{"outcome"},
	)

	// JoinBudgetExpiredTotal counts resolves that hit the wall-clock budget.
	JoinBudgetExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "join_budget_expired_total",
			Help: "Profile join resolves that hit the budget before quiescence",
		},
	)

	// ConversationsCreatedTotal tracks conversations created.
	ConversationsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_created_total",
			Help: "Total conversations created",
		},
	)

	// MessagesSentTotal tracks messages sent.
	MessagesSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_sent_total",
			Help: "Total messages sent",
		},
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

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
