package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AttemptCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phoenixgate_attempts_total",
			Help: "Provider attempts by outcome",
		},
		[]string{"provider", "outcome"},
	)

	AttemptLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "phoenixgate_attempt_latency_seconds",
			Help: "Provider attempt latency in seconds",
		},
		[]string{"provider"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "phoenixgate_breaker_state",
			Help: "Circuit breaker state per provider (0=closed, 1=open, 2=half_open)",
		},
		[]string{"provider"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phoenixgate_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"provider", "to"},
	)

	DispatchCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phoenixgate_dispatches_total",
			Help: "Completed dispatches by serving provider and persona",
		},
		[]string{"provider", "persona", "status"},
	)
)
