// Package controller implements the Switching Controller: on each
// decision tick it extracts the 8-dimensional feature vector, asks the
// bandit policy for an action, and requests a switch via the Coordinator
// — never the Switch Engine directly (spec §4.6).
package controller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/apex-run/apex/internal/budget"
	"github.com/apex-run/apex/internal/coordinator"
	"github.com/apex-run/apex/internal/metrics"
	"github.com/apex-run/apex/internal/topology"
)

// DecisionRecord is the controller's audit-log entry (§3 "Decision
// record"), supplemented per §12 with a bounded ring buffer so recent
// decisions are queryable without unbounded memory growth.
type DecisionRecord struct {
	Step            int64
	TopologyBefore  topology.Topology
	Features        vec8
	Action          Arm
	Epsilon         float64
	DecisionMs      float64
	SwitchAttempted bool
	SwitchCommitted bool
	Epoch           uint64
}

// Controller runs the bandit policy on a fixed decision cadence.
type Controller struct {
	logger       *zap.Logger
	coord        *coordinator.Coordinator
	guard        *budget.Guard
	bandit       *Bandit
	features     *FeatureSource
	episodeScope budget.Scope

	dwellMinSteps int
	step          int64

	mu     sync.Mutex
	log    []DecisionRecord
	logCap int

	prevPassRate float64
	prevTokens   float64
	prevPhase    string
}

// Config wires the controller's dependencies and tick parameters.
type Config struct {
	DwellMinSteps int
	FeatureWindow int
	Bandit        BanditConfig
	Seed          int64
	AuditLogCap   int
}

// New constructs a Controller.
func New(cfg Config, coord *coordinator.Coordinator, guard *budget.Guard, episodeScope budget.Scope, logger *zap.Logger) *Controller {
	if cfg.AuditLogCap <= 0 {
		cfg.AuditLogCap = 1000
	}
	return &Controller{
		logger:        logger,
		coord:         coord,
		guard:         guard,
		bandit:        NewBandit(cfg.Bandit, cfg.Seed),
		features:      NewFeatureSource(cfg.FeatureWindow),
		episodeScope:  episodeScope,
		dwellMinSteps: cfg.DwellMinSteps,
		logCap:        cfg.AuditLogCap,
	}
}

// ObserveMessage feeds the rolling role-share window; call once per
// message routed during the current tick.
func (c *Controller) ObserveMessage(senderRole string) {
	c.features.ObserveMessage(senderRole)
}

// Tick runs one controller decision: extract features, decide, and
// request a switch from the Coordinator if the arm is not "stay".
func (c *Controller) Tick(ctx context.Context, passRate float64, tokensUsed float64, phase string, episodeSuccess bool) DecisionRecord {
	start := time.Now()

	currentTopo, epoch := c.coord.Active()
	stepsSinceSwitch := int(c.step)
	x := c.features.Vector(currentTopo, stepsSinceSwitch, c.dwellMinSteps, c.guard, c.episodeScope)

	decision := c.bandit.Decide(x)

	rec := DecisionRecord{
		Step:           c.step,
		TopologyBefore: currentTopo,
		Features:       x,
		Action:         decision.Arm,
		Epsilon:        decision.Epsilon,
		Epoch:          epoch,
	}

	if target, ok := ArmTopology(decision.Arm); ok && target != currentTopo {
		rec.SwitchAttempted = true
		result := c.coord.RequestSwitch(ctx, target)
		rec.SwitchCommitted = result.Outcome == coordinator.OutcomeCommitted
		if rec.SwitchCommitted {
			rec.Epoch = result.Epoch
		}
	}

	phaseAdvanced := PhaseAdvanced(c.prevPhase, phase)
	deltaPassRate := passRate - c.prevPassRate
	deltaTokens := tokensUsed - c.prevTokens
	r := StepReward(phaseAdvanced, deltaPassRate, deltaTokens, rec.SwitchCommitted)
	if episodeSuccess {
		r += FinalBonus(true)
	}
	c.bandit.Update(decision.Arm, x, r)

	c.prevPassRate, c.prevTokens, c.prevPhase = passRate, tokensUsed, phase
	c.features.Step()
	c.coord.Step()
	c.step++

	rec.DecisionMs = float64(time.Since(start).Microseconds()) / 1000.0
	c.appendLog(rec)

	metrics.ControllerDecisionLatency.Observe(time.Since(start).Seconds())
	metrics.ControllerArmChosen.WithLabelValues(decision.Arm.String()).Inc()
	metrics.ControllerEpsilon.Set(decision.Epsilon)

	return rec
}

func (c *Controller) appendLog(rec DecisionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, rec)
	if len(c.log) > c.logCap {
		c.log = c.log[len(c.log)-c.logCap:]
	}
}

// RecentDecisions returns a copy of the bounded audit log.
func (c *Controller) RecentDecisions() []DecisionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DecisionRecord, len(c.log))
	copy(out, c.log)
	return out
}
