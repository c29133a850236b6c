// Package metrics defines the Prometheus instruments for the interaction
// synchronizer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OptimisticApplies counts local optimistic state changes by kind.
	OptimisticApplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interactions_optimistic_applies_total",
			Help: "Local optimistic state changes by mutation kind",
		},
		[]string{"kind"},
	)

	// Reverts counts optimistic mutations rolled back after a failed write.
	Reverts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interactions_reverts_total",
			Help: "Optimistic mutations reverted after durable write failure",
		},
		[]string{"kind"},
	)

	// EchoSuppressed counts discarded self-echo push events. mode is
	// "op_id" when matched by operation id, "window" for the time-window
	// fallback.
	EchoSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interactions_echo_suppressed_total",
			Help: "Self-echo push events discarded by the reconciler",
		},
		[]string{"mode"},
	)

	// RemoteApplied counts accepted remote push events by table and kind.
	RemoteApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interactions_remote_applied_total",
			Help: "Remote push events merged into local state",
		},
		[]string{"table", "kind"},
	)

	// MalformedEvents counts push events discarded for missing fields.
	MalformedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "interactions_malformed_events_total",
			Help: "Push events discarded as malformed",
		},
	)

	// DuplicateDropped counts user actions swallowed by the dedup gate.
	DuplicateDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interactions_duplicate_dropped_total",
			Help: "User actions dropped as duplicates",
		},
		[]string{"reason"},
	)

	// DebounceCoalesced counts toggles superseded inside a debounce window.
	DebounceCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "interactions_debounce_coalesced_total",
			Help: "Toggles coalesced by the debounce gate before dispatch",
		},
	)

	// WriteFailures counts durable write failures by error class.
	WriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interactions_write_failures_total",
			Help: "Durable write failures by class",
		},
		[]string{"class"},
	)

	// HeldCounterUpdates counts authoritative counter updates held while a
	// local mutation was in flight.
	HeldCounterUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "interactions_held_counter_updates_total",
			Help: "Authoritative counter updates deferred during in-flight mutations",
		},
	)

	// BreakerState tracks the durable-store circuit breaker state
	// (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "store_circuit_breaker_state",
			Help: "Durable store circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)

	// BreakerStateChanges counts circuit breaker transitions by new state.
	BreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_circuit_breaker_state_changes_total",
			Help: "Durable store circuit breaker transitions by resulting state",
		},
		[]string{"state"},
	)

	// SubscriptionsActive tracks currently active push subscriptions.
	SubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_subscriptions_active",
			Help: "Currently active push-channel subscriptions",
		},
	)

	// SubscriptionReplacements counts subscribes that displaced an
	// existing handle for the same topic.
	SubscriptionReplacements = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_subscription_replacements_total",
			Help: "Subscriptions that replaced an active handle for the same topic",
		},
	)
)
