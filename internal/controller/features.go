package controller

import (
	"github.com/samber/lo"

	"github.com/apex-run/apex/internal/budget"
	"github.com/apex-run/apex/internal/topology"
)

var coderRunnerRoles = []string{topology.Coder, topology.Runner}

// FeatureWindow is the default rolling-share window (W in §4.6).
const FeatureWindow = 5

// FeatureSource accumulates per-tick role-group counters and produces the
// deterministic 8-dimensional feature vector. It never sorts and does no
// percentile work — only ring-buffer means (§9).
type FeatureSource struct {
	window int

	plannerShare     *ringBuffer
	coderRunnerShare *ringBuffer
	criticShare      *ringBuffer

	// Per-tick accumulators, reset by Step.
	plannerCount     int
	coderRunnerCount int
	criticCount      int
	totalCount       int
}

// NewFeatureSource constructs a FeatureSource with the given window (0
// selects the spec default of 5).
func NewFeatureSource(window int) *FeatureSource {
	if window <= 0 {
		window = FeatureWindow
	}
	return &FeatureSource{
		window:           window,
		plannerShare:     newRingBuffer(window),
		coderRunnerShare: newRingBuffer(window),
		criticShare:      newRingBuffer(window),
	}
}

// ObserveMessage records one message's sender role for the current tick's
// role-share accounting.
func (f *FeatureSource) ObserveMessage(senderRole string) {
	f.totalCount++
	switch {
	case senderRole == topology.Planner:
		f.plannerCount++
	case lo.Contains(coderRunnerRoles, senderRole):
		f.coderRunnerCount++
	case senderRole == topology.Critic:
		f.criticCount++
	}
}

// Step closes out the current tick: it pushes this tick's role shares
// onto the rolling window and resets the per-tick accumulators.
func (f *FeatureSource) Step() {
	total := f.totalCount
	if total == 0 {
		f.plannerShare.Push(0)
		f.coderRunnerShare.Push(0)
		f.criticShare.Push(0)
	} else {
		f.plannerShare.Push(float64(f.plannerCount) / float64(total))
		f.coderRunnerShare.Push(float64(f.coderRunnerCount) / float64(total))
		f.criticShare.Push(float64(f.criticCount) / float64(total))
	}
	f.plannerCount, f.coderRunnerCount, f.criticCount, f.totalCount = 0, 0, 0, 0
}

// Vector produces the deterministic 8-dimensional feature vector (§4.6).
func (f *FeatureSource) Vector(current topology.Topology, stepsSinceSwitch, dwellMinSteps int, guard *budget.Guard, episodeScope budget.Scope) [8]float64 {
	var v [8]float64
	switch current {
	case topology.Star:
		v[0] = 1
	case topology.Chain:
		v[1] = 1
	case topology.Flat:
		v[2] = 1
	}

	denom := dwellMinSteps
	if denom < 1 {
		denom = 1
	}
	v[3] = clip01(float64(stepsSinceSwitch) / float64(denom))

	v[4] = f.plannerShare.Mean()
	v[5] = f.coderRunnerShare.Mean()
	v[6] = f.criticShare.Mean()

	if guard != nil {
		v[7] = guard.Headroom(episodeScope)
	}
	return v
}

func clip01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
