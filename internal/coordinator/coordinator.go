// Package coordinator implements the Coordinator FSM: the sole legal
// entrant to the Switch Engine, serializing switches and enforcing dwell
// and cooldown (spec §4.3).
package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/apex-run/apex/internal/metrics"
	"github.com/apex-run/apex/internal/switchengine"
	"github.com/apex-run/apex/internal/topology"
)

// State is the Coordinator's own FSM state, distinct from the Switch
// Engine's internal PREPARE/QUIESCE/COMMIT/ABORT phases.
type State int

const (
	StateStable State = iota
	StateSwitching
	StateCooldown
)

// Outcome enumerates the taxonomy of RequestSwitch results (§7).
type Outcome string

const (
	OutcomeCommitted        Outcome = "committed"
	OutcomeDeferredInFlight Outcome = "deferred_in_flight"
	OutcomeDeferredHealth   Outcome = "deferred_health"
	OutcomeRejectedDwell    Outcome = "rejected_dwell"
	OutcomeRejectedCooldown Outcome = "rejected_cooldown"
	OutcomeAborted          Outcome = "aborted"
)

// HealthProbe is the optional Topology Health Probe pre-validation hook
// (§4.3), called with a 20ms deadline before committing a switch.
type HealthProbe func(ctx context.Context, target topology.Topology) bool

// Config bounds dwell/cooldown tick counts.
type Config struct {
	DwellMinSteps int
	CooldownSteps int
}

func (c Config) withDefaults() Config {
	if c.DwellMinSteps < 0 {
		c.DwellMinSteps = 2
	}
	if c.CooldownSteps <= 0 {
		c.CooldownSteps = 2
	}
	return c
}

// RequestResult is the structured result of RequestSwitch.
type RequestResult struct {
	Outcome Outcome
	Epoch   uint64
}

// Coordinator serializes switch requests behind switch_lock and enforces
// dwell/cooldown in tick units (§4.3's tick semantics).
type Coordinator struct {
	cfg    Config
	engine *switchengine.Engine
	logger *zap.Logger
	probe  HealthProbe

	switchLock sync.Mutex

	mu                sync.Mutex
	state             State
	stepsSinceSwitch  int
	cooldownRemaining int
	pendingTarget     *topology.Topology

	changeMu sync.Mutex
	changeCh chan TopologyChanged
}

// TopologyChanged is emitted strictly after COMMIT installs the new
// (topology, epoch) pair.
type TopologyChanged struct {
	From  topology.Topology
	To    topology.Topology
	Epoch uint64
}

// New constructs a Coordinator wrapping the given Switch Engine.
func New(cfg Config, engine *switchengine.Engine, logger *zap.Logger, probe HealthProbe) *Coordinator {
	return &Coordinator{
		cfg:      cfg.withDefaults(),
		engine:   engine,
		logger:   logger,
		probe:    probe,
		state:    StateStable,
		changeCh: make(chan TopologyChanged, 8),
	}
}

// Step advances the tick counters; called once per controller decision
// tick regardless of whether a switch was requested.
func (c *Coordinator) Step() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stepsSinceSwitch++
	if c.cooldownRemaining > 0 {
		c.cooldownRemaining--
		if c.cooldownRemaining == 0 {
			c.state = StateStable
		}
	}
}

// RequestSwitch attempts to move to target. Only one switch may be in
// flight at a time (I5); a concurrent caller observes deferred(in_flight)
// and its target is stored as pendingTarget, a later deferred request
// overwriting an earlier one. pendingTarget is not read anywhere, so a
// deferred request is not replayed once the lock is free.
func (c *Coordinator) RequestSwitch(ctx context.Context, target topology.Topology) RequestResult {
	if !c.switchLock.TryLock() {
		c.mu.Lock()
		c.pendingTarget = &target
		c.mu.Unlock()
		metrics.CoordinatorOutcomes.WithLabelValues(string(OutcomeDeferredInFlight)).Inc()
		return RequestResult{Outcome: OutcomeDeferredInFlight}
	}
	defer c.switchLock.Unlock()

	c.mu.Lock()
	dwellOK := c.stepsSinceSwitch >= c.cfg.DwellMinSteps
	inCooldown := c.state == StateCooldown
	c.mu.Unlock()

	if inCooldown {
		metrics.CoordinatorOutcomes.WithLabelValues(string(OutcomeRejectedCooldown)).Inc()
		return RequestResult{Outcome: OutcomeRejectedCooldown}
	}
	if !dwellOK {
		metrics.CoordinatorOutcomes.WithLabelValues(string(OutcomeRejectedDwell)).Inc()
		return RequestResult{Outcome: OutcomeRejectedDwell}
	}

	if c.probe != nil {
		probeCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		ok := c.probe(probeCtx, target)
		cancel()
		if !ok {
			c.mu.Lock()
			c.state = StateCooldown
			c.cooldownRemaining = c.cfg.CooldownSteps
			c.mu.Unlock()
			metrics.CoordinatorState.Set(float64(StateCooldown))
			metrics.CoordinatorOutcomes.WithLabelValues(string(OutcomeDeferredHealth)).Inc()
			return RequestResult{Outcome: OutcomeDeferredHealth}
		}
	}

	c.mu.Lock()
	c.state = StateSwitching
	c.mu.Unlock()
	metrics.CoordinatorState.Set(float64(StateSwitching))

	fromTopo, _ := c.engine.Active()
	outcome := c.engine.ExecuteSwitch(ctx, target)

	c.mu.Lock()
	if outcome.OK {
		c.state = StateCooldown
		c.cooldownRemaining = c.cfg.CooldownSteps
		c.stepsSinceSwitch = 0
	} else {
		c.state = StateStable
	}
	c.mu.Unlock()
	metrics.CoordinatorState.Set(float64(c.State()))

	if outcome.OK {
		c.emit(TopologyChanged{From: fromTopo, To: target, Epoch: outcome.Epoch})
		metrics.CoordinatorOutcomes.WithLabelValues(string(OutcomeCommitted)).Inc()
		return RequestResult{Outcome: OutcomeCommitted, Epoch: outcome.Epoch}
	}
	metrics.CoordinatorOutcomes.WithLabelValues(string(OutcomeAborted)).Inc()
	return RequestResult{Outcome: OutcomeAborted, Epoch: outcome.Epoch}
}

func (c *Coordinator) emit(evt TopologyChanged) {
	select {
	case c.changeCh <- evt:
	default:
		c.logger.Warn("topology change channel full, dropping event")
	}
}

// Active delegates to the engine.
func (c *Coordinator) Active() (topology.Topology, uint64) {
	return c.engine.Active()
}

// WaitForTopologyChange exposes the topology-changed event stream;
// consumers may ignore it entirely.
func (c *Coordinator) WaitForTopologyChange() <-chan TopologyChanged {
	return c.changeCh
}

// State returns the Coordinator's current FSM state, for observability.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
