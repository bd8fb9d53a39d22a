package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/apex-run/apex/internal/topology"
)

func TestVectorOneHotTopology(t *testing.T) {
	f := NewFeatureSource(5)
	v := f.Vector(topology.Chain, 0, 2, nil, "")
	assert.Equal(t, 0.0, v[0])
	assert.Equal(t, 1.0, v[1])
	assert.Equal(t, 0.0, v[2])
}

func TestVectorDwellProgressClips(t *testing.T) {
	f := NewFeatureSource(5)
	v := f.Vector(topology.Star, 10, 2, nil, "")
	assert.Equal(t, 1.0, v[3])
}

func TestVectorRoleSharesAfterStep(t *testing.T) {
	f := NewFeatureSource(5)
	f.ObserveMessage(topology.Planner)
	f.ObserveMessage(topology.Coder)
	f.ObserveMessage(topology.Critic)
	f.ObserveMessage(topology.Critic)
	f.Step()

	v := f.Vector(topology.Star, 0, 1, nil, "")
	assert.InDelta(t, 0.25, v[4], 1e-9)
	assert.InDelta(t, 0.25, v[5], 1e-9)
	assert.InDelta(t, 0.5, v[6], 1e-9)
}

func TestVectorNilGuardLeavesHeadroomZero(t *testing.T) {
	f := NewFeatureSource(5)
	v := f.Vector(topology.Star, 0, 1, nil, "")
	assert.Equal(t, 0.0, v[7])
}
