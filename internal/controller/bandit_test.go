package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/apex-run/apex/internal/topology"
)

func TestArmStringKnownAndUnknown(t *testing.T) {
	assert.Equal(t, "stay", ArmStay.String())
	assert.Equal(t, "star", ArmStar.String())
	assert.Equal(t, "chain", ArmChain.String())
	assert.Equal(t, "flat", ArmFlat.String())
	assert.Equal(t, "unknown", Arm(99).String())
}

func TestArmTopologyMapping(t *testing.T) {
	_, ok := ArmTopology(ArmStay)
	assert.False(t, ok, "stay has no target topology")

	target, ok := ArmTopology(ArmChain)
	assert.True(t, ok)
	assert.Equal(t, topology.Chain, target)
}

func TestEpsilonScheduleLinearDecayThenFloor(t *testing.T) {
	eps := EpsilonSchedule(0, 0.20, 0.05, 100)
	assert.InDelta(t, 0.20, eps, 1e-9)

	eps = EpsilonSchedule(50, 0.20, 0.05, 100)
	assert.InDelta(t, 0.125, eps, 1e-9)

	eps = EpsilonSchedule(100, 0.20, 0.05, 100)
	assert.InDelta(t, 0.05, eps, 1e-9)

	eps = EpsilonSchedule(1000, 0.20, 0.05, 100)
	assert.InDelta(t, 0.05, eps, 1e-9)
}

func TestEpsilonScheduleZeroWindowReturnsFloor(t *testing.T) {
	assert.Equal(t, 0.05, EpsilonSchedule(0, 0.20, 0.05, 0))
}

func TestBanditUpdateShiftsPreferenceTowardRewardedArm(t *testing.T) {
	b := NewBandit(BanditConfig{EpsilonStart: 0, EpsilonEnd: 0, EpsilonScheduleN: 1}, 1)

	x := vec8{1, 0, 0, 0, 0, 0, 0, 0}
	for i := 0; i < 50; i++ {
		b.Update(ArmChain, x, 1.0)
		b.Update(ArmFlat, x, -1.0)
	}

	decision := b.Decide(x)
	assert.Equal(t, ArmChain, decision.Arm)
}
