// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Classifications counts final classification decisions.
	Classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalyze_classifications_total",
		Help: "Classification decisions by intent and deciding source",
	}, []string{"intent", "source"})

	// GuardrailRejections counts queries refused as off-domain.
	GuardrailRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalyze_guardrail_rejections_total",
		Help: "Queries rejected by the domain guardrail",
	})

	// RouterOutcomes counts router responses by outcome.
	RouterOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalyze_router_outcomes_total",
		Help: "Router responses by outcome (refused, clarify, capabilities, dispatched, handler_error)",
	}, []string{"outcome"})

	// GenerationAttempts counts generation attempts by result.
	GenerationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalyze_generation_attempts_total",
		Help: "Generation attempts by result (success, precheck_failed, simulation_failed, infrastructure_error)",
	}, []string{"result"})

	// GenerationSessions counts finished generation sessions by status.
	GenerationSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalyze_generation_sessions_total",
		Help: "Finished generation sessions by terminal status",
	}, []string{"status"})

	// SimulationDuration tracks simulator wall time.
	SimulationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalyze_simulation_duration_seconds",
		Help:    "Simulator invocation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s to ~2m
	})
)
