package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/apex-run/apex/internal/budget"
	"github.com/apex-run/apex/internal/coordinator"
	"github.com/apex-run/apex/internal/dedup"
	"github.com/apex-run/apex/internal/router"
	"github.com/apex-run/apex/internal/switchengine"
	"github.com/apex-run/apex/internal/topology"
)

func newTestController(t *testing.T, cfg Config) (*Controller, *coordinator.Coordinator) {
	t.Helper()
	dedupStore, err := dedup.New(nil)
	require.NoError(t, err)
	t.Cleanup(dedupStore.Close)

	logger := zaptest.NewLogger(t)
	r := router.New(router.Config{}, dedupStore, logger)
	engine := switchengine.New(switchengine.Config{QuiesceDeadline: 100 * time.Millisecond}, r, topology.Star, logger, nil)
	coord := coordinator.New(coordinator.Config{DwellMinSteps: 0, CooldownSteps: 1}, engine, logger, nil)
	guard := budget.New(budget.Config{}, logger)

	c := New(cfg, coord, guard, budget.ScopeEpisode("ep-1"), logger)
	return c, coord
}

func TestTickRecordsDecisionAndAdvancesStep(t *testing.T) {
	c, _ := newTestController(t, Config{DwellMinSteps: 0})

	rec := c.Tick(context.Background(), 0.5, 10, "planning", false)
	assert.Equal(t, int64(0), rec.Step)

	recs := c.RecentDecisions()
	require.Len(t, recs, 1)
	assert.Equal(t, rec.Action, recs[0].Action)
}

func TestTickStayArmNeverAttemptsSwitch(t *testing.T) {
	// The zero epsilon fields are replaced by the bandit defaults, so the
	// first decision explores with probability 0.20; seed 1's first draw
	// (about 0.60) takes the exploit branch, and with all arm weights
	// still zero the argmax is arm 0 (stay).
	c, _ := newTestController(t, Config{
		DwellMinSteps: 0,
		Bandit:        BanditConfig{EpsilonStart: 0, EpsilonEnd: 0},
		Seed:          1,
	})

	rec := c.Tick(context.Background(), 0, 0, "planning", false)
	assert.Equal(t, ArmStay, rec.Action)
	assert.False(t, rec.SwitchAttempted)
}

func TestRecentDecisionsIsBoundedCopy(t *testing.T) {
	c, _ := newTestController(t, Config{DwellMinSteps: 0, AuditLogCap: 2})
	for i := 0; i < 5; i++ {
		c.Tick(context.Background(), 0, 0, "planning", false)
	}
	recs := c.RecentDecisions()
	assert.Len(t, recs, 2)

	recs[0].Step = -999
	assert.NotEqual(t, int64(-999), c.RecentDecisions()[0].Step)
}
