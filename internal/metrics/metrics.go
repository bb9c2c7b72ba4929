// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "anonchat"

var (
	// Matches counts pairings created by the waiting queue
	Matches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "matches_total",
		Help:      "Total number of sessions created by the matcher",
	})

	// WaitingQueueDepth is the number of users waiting for a partner
	WaitingQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "waiting_queue_depth",
		Help:      "Number of users currently waiting for a partner",
	})

	// RateLimitDecisions counts limiter answers by kind (allow, debounce) and result
	RateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limiter decisions by kind and result",
		},
		[]string{"kind", "result"},
	)

	SessionsEnded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_ended_total",
		Help:      "Total number of sessions torn down",
	})

	SessionsSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_swept_total",
		Help:      "Total number of expired session records removed",
	})

	// RelayOutcomes counts message relay attempts by outcome
	RelayOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_outcomes_total",
			Help:      "Message relay attempts by outcome",
		},
		[]string{"outcome"},
	)
)

// MustRegister adds every collector to reg
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		Matches,
		WaitingQueueDepth,
		RateLimitDecisions,
		SessionsEnded,
		SessionsSwept,
		RelayOutcomes,
	)
}
