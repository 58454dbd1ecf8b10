// Package metrics holds the Prometheus collectors exported by the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors are registered on the default registry through promauto.

var (
	// RoundsTotal counts completed rounds by outcome.
	RoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pias_rounds_total",
			Help: "Total number of completed rounds by outcome",
		},
		[]string{"outcome"},
	)

	// RoundDuration measures train → predict → partition wall time.
	RoundDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pias_round_duration_seconds",
			Help:    "Duration of a round in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// RoundsPending tracks rounds queued but not yet dequeued.
	RoundsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pias_rounds_pending",
			Help: "Rounds waiting in the workflow queue",
		},
	)

	// EdgesTotal is the edge count of the current feature cache generation.
	EdgesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pias_edges_total",
			Help: "Edges in the current feature cache generation",
		},
	)

	// LabelsTotal is the number of stored user labels.
	LabelsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pias_labels_total",
			Help: "User labels held by the label cache",
		},
	)

	// RequestsTotal counts messaging requests by endpoint and reply status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pias_requests_total",
			Help: "Messaging requests processed, by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	// NotificationsTotal counts new-solution notifications by result
	// ("sent", "dropped").
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pias_notifications_total",
			Help: "New-solution notifications by result",
		},
		[]string{"result"},
	)

	// Subscribers is the number of connected notification subscribers.
	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pias_subscribers",
			Help: "Connected new-solution subscribers",
		},
	)

	// HttpRequestsTotal counts admin HTTP requests.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pias_http_requests_total",
			Help: "Total number of admin HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// HttpRequestDuration measures admin HTTP response time.
	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pias_http_request_duration_seconds",
			Help:    "Duration of admin HTTP requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "path"},
	)
)
