// Package degradation implements the Topology Health Probe: the
// Coordinator's optional pre-validation hook, evaluated under a 20ms
// deadline before a switch is allowed to proceed (§4.3). The probe
// never blocks indefinitely — a slow or failing dependency degrades
// the evaluation to "not ready" rather than hanging the FSM.
package degradation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/apex-run/apex/internal/health"
	"github.com/apex-run/apex/internal/topology"
)

// DefaultProbeDeadline matches the 20ms budget from §4.3.
const DefaultProbeDeadline = 20 * time.Millisecond

// Probe evaluates collaborator and intent-log readiness and reduces
// it to the single boolean the Coordinator's HealthProbe contract
// expects (§4.3's "on ok=false, enter COOLDOWN and return deferred(health)").
type Probe struct {
	manager  *health.Manager
	deadline time.Duration
	logger   *zap.Logger
}

// NewProbe constructs a Probe backed by an already-populated health.Manager
// (its registered checkers typically include the intent log and each
// configured collaborator).
func NewProbe(manager *health.Manager, deadline time.Duration, logger *zap.Logger) *Probe {
	if deadline <= 0 {
		deadline = DefaultProbeDeadline
	}
	return &Probe{manager: manager, deadline: deadline, logger: logger}
}

// Evaluate implements coordinator.HealthProbe. The target topology is
// accepted for interface symmetry with the Coordinator contract; MVP
// evaluates the same dependency set regardless of which topology is
// being switched to (§9 Open Question).
func (p *Probe) Evaluate(ctx context.Context, target topology.Topology) bool {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()

	ready := p.manager.IsReady(ctx)

	elapsed := time.Since(start)
	probeLatencySeconds.Observe(elapsed.Seconds())

	outcome := "ok"
	if !ready {
		outcome = "not_ready"
	}
	if ctx.Err() == context.DeadlineExceeded {
		outcome = "timeout"
		ready = false
	}
	probeEvaluationsTotal.WithLabelValues(outcome).Inc()

	if !ready && p.logger != nil {
		p.logger.Warn("topology health probe failed", zap.String("target", string(target)), zap.Duration("elapsed", elapsed))
	}
	return ready
}
