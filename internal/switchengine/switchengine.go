// Package switchengine implements the Atomic Switch Engine: the
// epoch-gated PREPARE → QUIESCE → COMMIT/ABORT protocol over the
// Router's dual queues (spec §4.2).
package switchengine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/apex-run/apex/internal/message"
	"github.com/apex-run/apex/internal/metrics"
	"github.com/apex-run/apex/internal/router"
	"github.com/apex-run/apex/internal/topology"
	"github.com/apex-run/apex/internal/tracing"
)

// Config bounds the switch protocol's phase deadlines.
type Config struct {
	PrepareDeadline time.Duration
	QuiesceDeadline time.Duration
}

func (c Config) withDefaults() Config {
	if c.PrepareDeadline <= 0 {
		c.PrepareDeadline = 20 * time.Millisecond
	}
	if c.QuiesceDeadline <= 0 {
		c.QuiesceDeadline = 50 * time.Millisecond
	}
	return c
}

// Warmup is an optional PREPARE sub-task (health ping, tool-adapter
// readiness, plan pre-warm). A warmup that does not return before the
// prepare deadline, or returns an error, sets Stats.NotReady; the switch
// is neither deferred nor aborted for it and proceeds to QUIESCE.
type Warmup func(ctx context.Context) error

// IntentLog is the optional append-only crash-recovery log (§6
// "Persisted state"). A nil IntentLog disables persistence.
type IntentLog interface {
	BeginPrepare(target topology.Topology) error
	Commit(epoch uint64) error
	Abort(reason string, dropped map[message.DropReason]int64) error
}

// Outcome is the structured result of ExecuteSwitch.
type Outcome struct {
	OK       bool
	Epoch    uint64
	Topology topology.Topology
	Stats    Stats
}

// Stats records phase durations and migration counts for observability.
type Stats struct {
	PrepareMs       int64
	QuiesceMs       int64
	Migrated        int
	DroppedByReason map[message.DropReason]int64
	NotReady        bool
}

// Engine executes the three-phase switch protocol. It is the sole owner
// of the epoch counter and the current topology; readers observe both
// atomically via Active().
type Engine struct {
	cfg    Config
	router *router.Router
	logger *zap.Logger
	log    IntentLog

	mu      sync.RWMutex
	topo    topology.Topology
	warmups []Warmup
}

// New constructs a switch Engine starting at the given topology.
func New(cfg Config, r *router.Router, initial topology.Topology, logger *zap.Logger, log IntentLog) *Engine {
	return &Engine{
		cfg:    cfg.withDefaults(),
		router: r,
		logger: logger,
		log:    log,
		topo:   initial,
	}
}

// RegisterWarmup adds a PREPARE-phase warmup task, run concurrently with
// the others under the prepare deadline.
func (e *Engine) RegisterWarmup(w Warmup) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.warmups = append(e.warmups, w)
}

// Active returns the current (topology, epoch) pair atomically.
func (e *Engine) Active() (topology.Topology, uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.topo, e.router.CurrentEpoch()
}

// ExecuteSwitch runs PREPARE → QUIESCE → COMMIT|ABORT against target.
func (e *Engine) ExecuteSwitch(ctx context.Context, target topology.Topology) Outcome {
	_, curEpochBefore := e.Active()
	ctx, switchSpan := tracing.StartSwitchSpan(ctx, "execute", string(target), curEpochBefore)
	defer switchSpan.End()

	if e.log != nil {
		if err := e.log.BeginPrepare(target); err != nil {
			e.logger.Warn("intent log begin_prepare failed", zap.Error(err))
		}
	}

	_, prepareSpan := tracing.StartSwitchSpan(ctx, "prepare", string(target), curEpochBefore)
	prepareStart := time.Now()
	notReady := e.prepare(ctx)
	prepareMs := time.Since(prepareStart).Milliseconds()
	prepareSpan.End()

	_, quiesceSpan := tracing.StartSwitchSpan(ctx, "quiesce", string(target), curEpochBefore)
	quiesceStart := time.Now()
	drained := e.quiesce(ctx)
	quiesceMs := time.Since(quiesceStart).Milliseconds()
	quiesceSpan.End()

	stats := Stats{PrepareMs: prepareMs, QuiesceMs: quiesceMs, NotReady: notReady}

	if drained {
		e.mu.Lock()
		newEpoch, migrated := e.router.Commit()
		e.topo = target
		e.mu.Unlock()
		stats.Migrated = migrated

		if e.log != nil {
			if err := e.log.Commit(newEpoch); err != nil {
				e.logger.Warn("intent log commit failed", zap.Error(err))
			}
		}
		metrics.RecordSwitchOutcome("committed", float64(prepareMs)/1000, float64(quiesceMs)/1000, migrated)
		return Outcome{OK: true, Epoch: newEpoch, Topology: target, Stats: stats}
	}

	dropped := e.router.Abort()
	stats.DroppedByReason = dropped
	if e.log != nil {
		if err := e.log.Abort("quiesce_timeout", dropped); err != nil {
			e.logger.Warn("intent log abort failed", zap.Error(err))
		}
	}
	metrics.RecordSwitchOutcome("aborted", float64(prepareMs)/1000, float64(quiesceMs)/1000, 0)
	curTopo, curEpoch := e.Active()
	return Outcome{OK: false, Epoch: curEpoch, Topology: curTopo, Stats: stats}
}

// prepare clears Q_next, flips buffer_to_next, and runs warmups
// concurrently under the prepare deadline. It never fails the switch:
// a slow warmup only marks notReady.
func (e *Engine) prepare(ctx context.Context) (notReady bool) {
	e.router.BeginPrepare()

	e.mu.RLock()
	warmups := make([]Warmup, len(e.warmups))
	copy(warmups, e.warmups)
	e.mu.RUnlock()

	if len(warmups) == 0 {
		return false
	}

	prepCtx, cancel := context.WithTimeout(ctx, e.cfg.PrepareDeadline)
	defer cancel()

	g, gctx := errgroup.WithContext(prepCtx)
	for _, w := range warmups {
		w := w
		g.Go(func() error { return w(gctx) })
	}
	if err := g.Wait(); err != nil {
		return true
	}
	return false
}

// quiesce waits up to the quiesce deadline for Q_active to fully drain,
// polling at a fine granularity like the original implementation.
func (e *Engine) quiesce(ctx context.Context) (drained bool) {
	deadline := time.Now().Add(e.cfg.QuiesceDeadline)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		if e.router.TotalActiveDepth() == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
