package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSweeperStartStopIsIdempotentAndSafe(t *testing.T) {
	g := New(Config{}, zaptest.NewLogger(t))
	s, err := NewSweeper(g, zaptest.NewLogger(t))
	require.NoError(t, err)

	s.Start()
	time.Sleep(10 * time.Millisecond)
	s.Stop()
}

func TestSweeperExpireStaleClearsExpiredReservations(t *testing.T) {
	g := New(Config{SafetyFactor: 1.0, ReservationTTL: time.Millisecond}, zaptest.NewLogger(t))
	g.SetBudget(ScopeDaily, 1000, 0)
	decision := g.CheckAndReserve([]Scope{ScopeDaily}, 500, 0)
	require.True(t, decision.Allowed)
	time.Sleep(5 * time.Millisecond)

	s, err := NewSweeper(g, zaptest.NewLogger(t))
	require.NoError(t, err)

	s.expireStale()
	used, reserved, _ := g.Usage(ScopeDaily)
	assert.Equal(t, int64(500), used)
	assert.Equal(t, int64(0), reserved)
}

func TestSweeperResetDailyClearsUsage(t *testing.T) {
	g := New(Config{}, zaptest.NewLogger(t))
	g.SetBudget(ScopeDaily, 1000, 0)
	decision := g.CheckAndReserve([]Scope{ScopeDaily}, 500, 0)
	require.True(t, decision.Allowed)
	require.NoError(t, g.Settle(decision.ReservationID, 500, 0))

	s, err := NewSweeper(g, zaptest.NewLogger(t))
	require.NoError(t, err)

	s.resetDaily()
	used, _, _ := g.Usage(ScopeDaily)
	assert.Equal(t, int64(0), used)
}
