package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	IntentsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intentmesh_intents_created_total",
		Help: "The total number of created intents",
	}, []string{"from_token", "to_token"})

	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intentmesh_status_transitions_total",
		Help: "The total number of intent status transitions",
	}, []string{"from", "to"})

	IntentsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "intentmesh_intents_swept_total",
		Help: "The total number of active intents moved to expired by the sweep",
	})

	IntentsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "intentmesh_intents_cancelled_total",
		Help: "The total number of intents deleted by their creator",
	})

	ActiveIntents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "intentmesh_active_intents",
		Help: "The number of active intents seen by the last refresh",
	})

	FulfillableMatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "intentmesh_fulfillable_matches",
		Help: "The number of fulfillable pairs found by the last refresh",
	})

	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "intentmesh_refresh_seconds",
		Help:    "Time taken to sweep, load and match the active pool",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // Start at 1ms with 12 buckets doubling in size
	})

	FulfillFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intentmesh_fulfill_failures_total",
		Help: "Total number of rejected fulfill attempts by reason",
	}, []string{"reason"})

	SettlementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intentmesh_settlement_failures_total",
		Help: "Total number of failed settlement submissions by error type",
	}, []string{"error_type"})

	SettlementsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intentmesh_settlements_completed_total",
		Help: "Total number of settlements confirmed by token",
	}, []string{"token"})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intentmesh_store_errors_total",
		Help: "Total number of store faults by operation",
	}, []string{"op"})

	StaleMatched = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "intentmesh_stale_matched_intents",
		Help: "Matched intents not confirmed within the configured window",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intentmesh_events_published_total",
		Help: "Lifecycle events handed to the publisher by type and result",
	}, []string{"type", "result"})

	CircuitOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "intentmesh_settlement_circuit_open",
		Help: "1 when the settlement circuit breaker is open",
	})
)
