// Package metrics declares the node's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tcr_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tcr_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tcr_transitions_total",
		Help: "State transitions applied, labeled by call and result",
	}, []string{"call", "result"})

	TransitionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tcr_transition_duration_seconds",
		Help:    "Time spent applying a state transition including commit",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	}, []string{"call"})

	BlockHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tcr_block_height",
		Help: "Current block height of the state machine",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tcr_events_published_total",
		Help: "Domain events handed to a sink, labeled by sink and result",
	}, []string{"sink", "result"})

	EventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tcr_event_subscribers",
		Help: "Open event stream subscriptions",
	})
)

// Result labels for TransitionsTotal.
const (
	ResultOK        = "ok"
	ResultRejected  = "rejected"
	ResultInvariant = "invariant"
	ResultError     = "error"
)
