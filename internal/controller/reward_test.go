package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhaseAdvanced(t *testing.T) {
	assert.True(t, PhaseAdvanced("planning", "coding"))
	assert.False(t, PhaseAdvanced("coding", "planning"))
	assert.False(t, PhaseAdvanced("coding", "coding"))
	assert.False(t, PhaseAdvanced("", "coding"))
	assert.False(t, PhaseAdvanced("planning", "not-a-phase"))
}

func TestStepRewardExactFormula(t *testing.T) {
	r := StepReward(true, 0.1, 100, true)
	want := PhaseAdvanceReward + PassRateScale*0.1 - TokenCost*100 - SwitchCost
	assert.InDelta(t, want, r, 1e-12)
}

func TestStepRewardNoSwitchNoPhase(t *testing.T) {
	r := StepReward(false, 0, 0, false)
	assert.Equal(t, 0.0, r)
}

func TestFinalBonus(t *testing.T) {
	assert.Equal(t, TerminalBonus, FinalBonus(true))
	assert.Equal(t, 0.0, FinalBonus(false))
}
