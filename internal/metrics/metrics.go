// Package metrics exposes APEX's required observable signals (§6):
// counters for drop reasons, per-scope budget usage, switch phase
// durations, queue depths, and the controller decision latency
// histogram. All percentiles are computable from these fixed-bucket
// histograms without re-sorting raw samples.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Router metrics.
	MessagesAdmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_router_messages_admitted_total",
			Help: "Total messages admitted to a recipient queue",
		},
		[]string{"topology"},
	)

	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_router_messages_dropped_total",
			Help: "Total messages dropped by reason",
		},
		[]string{"reason"},
	)

	MessagesDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apex_router_messages_duplicate_total",
			Help: "Total messages rejected as duplicates by the dedup store",
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "apex_router_queue_depth",
			Help: "Current depth of a recipient's active queue",
		},
		[]string{"recipient"},
	)

	// Switch Engine phase durations.
	SwitchPhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apex_switch_phase_duration_seconds",
			Help:    "Switch Engine phase duration (prepare, quiesce)",
			Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2},
		},
		[]string{"phase"},
	)

	SwitchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_switch_outcomes_total",
			Help: "Total switch attempts by outcome",
		},
		[]string{"outcome"},
	)

	SwitchMigratedMessages = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "apex_switch_migrated_messages",
			Help:    "Number of messages migrated from Q_next to Q_active on commit",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500},
		},
	)

	// Coordinator FSM.
	CoordinatorOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_coordinator_outcomes_total",
			Help: "Total RequestSwitch outcomes by type",
		},
		[]string{"outcome"},
	)

	CoordinatorState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "apex_coordinator_state",
			Help: "Current Coordinator FSM state (0=stable, 1=switching, 2=cooldown)",
		},
	)

	// Budget Guard.
	BudgetDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_budget_denials_total",
			Help: "Total budget denials by scope and reason",
		},
		[]string{"scope", "reason"},
	)

	BudgetUsageRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "apex_budget_usage_ratio",
			Help: "Fraction of scope budget consumed (used+reserved)/budget",
		},
		[]string{"scope"},
	)

	// Switching Controller.
	ControllerDecisionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "apex_controller_decision_latency_seconds",
			Help:    "Latency of one controller decision tick",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.002, 0.005, 0.01},
		},
	)

	ControllerArmChosen = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_controller_arm_chosen_total",
			Help: "Total bandit arm selections",
		},
		[]string{"arm"},
	)

	ControllerEpsilon = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "apex_controller_epsilon",
			Help: "Current bandit exploration epsilon",
		},
	)
)

// RecordSwitchOutcome records a completed switch attempt's phase
// durations and terminal outcome.
func RecordSwitchOutcome(outcome string, prepareSeconds, quiesceSeconds float64, migrated int) {
	SwitchOutcomes.WithLabelValues(outcome).Inc()
	SwitchPhaseDuration.WithLabelValues("prepare").Observe(prepareSeconds)
	SwitchPhaseDuration.WithLabelValues("quiesce").Observe(quiesceSeconds)
	SwitchMigratedMessages.Observe(float64(migrated))
}

// RecordBudgetDenial increments the per-scope denial counter.
func RecordBudgetDenial(scope, reason string) {
	BudgetDenials.WithLabelValues(scope, reason).Inc()
}
