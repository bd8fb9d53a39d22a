package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/apex-run/apex/internal/dedup"
	"github.com/apex-run/apex/internal/router"
	"github.com/apex-run/apex/internal/switchengine"
	"github.com/apex-run/apex/internal/topology"
)

func newTestCoordinator(t *testing.T, cfg Config, probe HealthProbe) *Coordinator {
	t.Helper()
	dedupStore, err := dedup.New(nil)
	require.NoError(t, err)
	t.Cleanup(dedupStore.Close)

	logger := zaptest.NewLogger(t)
	r := router.New(router.Config{}, dedupStore, logger)
	engine := switchengine.New(switchengine.Config{QuiesceDeadline: 100 * time.Millisecond}, r, topology.Star, logger, nil)
	return New(cfg, engine, logger, probe)
}

func TestRequestSwitchRejectsBelowDwellMinimum(t *testing.T) {
	c := newTestCoordinator(t, Config{DwellMinSteps: 3}, nil)

	res := c.RequestSwitch(context.Background(), topology.Chain)
	assert.Equal(t, OutcomeRejectedDwell, res.Outcome)
}

func TestRequestSwitchCommitsAfterDwellSatisfied(t *testing.T) {
	c := newTestCoordinator(t, Config{DwellMinSteps: 2, CooldownSteps: 1}, nil)

	c.Step()
	c.Step()
	res := c.RequestSwitch(context.Background(), topology.Chain)
	assert.Equal(t, OutcomeCommitted, res.Outcome)
	assert.Equal(t, StateCooldown, c.State())
}

func TestRequestSwitchRejectsDuringCooldown(t *testing.T) {
	c := newTestCoordinator(t, Config{DwellMinSteps: 1, CooldownSteps: 2}, nil)

	c.Step()
	first := c.RequestSwitch(context.Background(), topology.Chain)
	require.Equal(t, OutcomeCommitted, first.Outcome)

	second := c.RequestSwitch(context.Background(), topology.Flat)
	assert.Equal(t, OutcomeRejectedCooldown, second.Outcome)
}

func TestRequestSwitchDeferredHealthEntersCooldown(t *testing.T) {
	c := newTestCoordinator(t, Config{DwellMinSteps: 1, CooldownSteps: 2}, func(ctx context.Context, target topology.Topology) bool {
		return false
	})

	c.Step()
	res := c.RequestSwitch(context.Background(), topology.Chain)
	assert.Equal(t, OutcomeDeferredHealth, res.Outcome)
	assert.Equal(t, StateCooldown, c.State())
}

func TestRequestSwitchConcurrentCallerDefersInFlight(t *testing.T) {
	c := newTestCoordinator(t, Config{DwellMinSteps: 0, CooldownSteps: 1}, nil)

	c.switchLock.Lock()
	defer c.switchLock.Unlock()

	res := c.RequestSwitch(context.Background(), topology.Chain)
	assert.Equal(t, OutcomeDeferredInFlight, res.Outcome)
}

func TestStepAdvancesCooldownToStable(t *testing.T) {
	c := newTestCoordinator(t, Config{DwellMinSteps: 1, CooldownSteps: 2}, nil)
	c.Step()
	res := c.RequestSwitch(context.Background(), topology.Chain)
	require.Equal(t, OutcomeCommitted, res.Outcome)
	require.Equal(t, StateCooldown, c.State())

	c.Step()
	assert.Equal(t, StateCooldown, c.State())
	c.Step()
	assert.Equal(t, StateStable, c.State())
}

func TestWaitForTopologyChangeEmitsOnCommit(t *testing.T) {
	c := newTestCoordinator(t, Config{DwellMinSteps: 0, CooldownSteps: 1}, nil)
	changes := c.WaitForTopologyChange()

	var wg sync.WaitGroup
	wg.Add(1)
	var got TopologyChanged
	go func() {
		defer wg.Done()
		got = <-changes
	}()

	res := c.RequestSwitch(context.Background(), topology.Flat)
	require.Equal(t, OutcomeCommitted, res.Outcome)
	wg.Wait()

	assert.Equal(t, topology.Star, got.From)
	assert.Equal(t, topology.Flat, got.To)
}
