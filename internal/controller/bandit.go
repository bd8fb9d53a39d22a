package controller

import (
	"math/rand"

	"github.com/apex-run/apex/internal/topology"
)

// Arm enumerates the bandit's four actions.
type Arm int

const (
	ArmStay Arm = iota
	ArmStar
	ArmChain
	ArmFlat
)

var armTopology = map[Arm]topology.Topology{
	ArmStar:  topology.Star,
	ArmChain: topology.Chain,
	ArmFlat:  topology.Flat,
}

var armNames = [...]string{"stay", "star", "chain", "flat"}

// String returns the metric-label form of the arm.
func (a Arm) String() string {
	if int(a) < 0 || int(a) >= len(armNames) {
		return "unknown"
	}
	return armNames[a]
}

const numFeatures = 8
const numArms = 4

// EpsilonSchedule is a pure function of the global decision count:
// linear 0.20 -> 0.05 over the first scheduleN decisions, constant
// thereafter (§4.6). Reproducible given only the count.
func EpsilonSchedule(decisionCount int64, start, end float64, scheduleN int64) float64 {
	if scheduleN <= 0 {
		return end
	}
	if decisionCount >= scheduleN {
		return end
	}
	frac := float64(decisionCount) / float64(scheduleN)
	return start + frac*(end-start)
}

// vec8 is a fixed-size 8-vector; mat8 a fixed-size 8x8 matrix. Using
// fixed arrays (not slices) keeps the hot path allocation-free.
type vec8 = [numFeatures]float64
type mat8 = [numFeatures][numFeatures]float64

type armState struct {
	aInv mat8 // (lambda*I + sum xx^T)^-1, maintained via Sherman-Morrison
	b    vec8
	w    vec8
}

func newArmState(lambda float64) *armState {
	s := &armState{}
	for i := 0; i < numFeatures; i++ {
		s.aInv[i][i] = 1.0 / lambda
	}
	return s
}

// Bandit is an epsilon-greedy ridge contextual bandit with four arms.
// All mutation is single-writer (the controller tick goroutine); no
// process-global RNG is ever touched — rng is injected so runs are
// reproducible given the same (x, r, seed) sequence (§4.6, §9).
type Bandit struct {
	cfg  BanditConfig
	arms [numArms]*armState
	rng  *rand.Rand

	decisionCount int64
}

// BanditConfig bounds the ridge regularizer and epsilon schedule.
type BanditConfig struct {
	Lambda           float64
	EpsilonStart     float64
	EpsilonEnd       float64
	EpsilonScheduleN int64
}

func (c BanditConfig) withDefaults() BanditConfig {
	if c.Lambda <= 0 {
		c.Lambda = 1e-2
	}
	if c.EpsilonStart <= 0 {
		c.EpsilonStart = 0.20
	}
	if c.EpsilonEnd <= 0 {
		c.EpsilonEnd = 0.05
	}
	if c.EpsilonScheduleN <= 0 {
		c.EpsilonScheduleN = 5000
	}
	return c
}

// NewBandit constructs a Bandit with an injected deterministic RNG seed.
func NewBandit(cfg BanditConfig, seed int64) *Bandit {
	cfg = cfg.withDefaults()
	b := &Bandit{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
	for a := 0; a < numArms; a++ {
		b.arms[a] = newArmState(cfg.Lambda)
	}
	return b
}

// Decision is the structured result of one bandit tick.
type Decision struct {
	Arm     Arm
	Epsilon float64
}

// Decide chooses an arm for feature vector x: with probability 1-epsilon
// the argmax of w_a . x, else uniform random. epsilon is a pure function
// of the running decision count.
func (b *Bandit) Decide(x vec8) Decision {
	eps := EpsilonSchedule(b.decisionCount, b.cfg.EpsilonStart, b.cfg.EpsilonEnd, b.cfg.EpsilonScheduleN)
	b.decisionCount++

	if b.rng.Float64() < eps {
		return Decision{Arm: Arm(b.rng.Intn(numArms)), Epsilon: eps}
	}

	best := Arm(0)
	bestScore := dot(b.arms[0].w, x)
	for a := 1; a < numArms; a++ {
		score := dot(b.arms[a].w, x)
		if score > bestScore {
			bestScore = score
			best = Arm(a)
		}
	}
	return Decision{Arm: best, Epsilon: eps}
}

// Update applies the Sherman-Morrison rank-1 update for arm a given the
// observed reward r for feature vector x, then refreshes w_a = A_inv . b.
func (b *Bandit) Update(a Arm, x vec8, r float64) {
	s := b.arms[a]

	ax := matVec(s.aInv, x)
	denom := 1.0 + dot(x, ax)

	var outer mat8
	for i := 0; i < numFeatures; i++ {
		for j := 0; j < numFeatures; j++ {
			outer[i][j] = ax[i] * ax[j] / denom
		}
	}
	for i := 0; i < numFeatures; i++ {
		for j := 0; j < numFeatures; j++ {
			s.aInv[i][j] -= outer[i][j]
		}
	}

	for i := 0; i < numFeatures; i++ {
		s.b[i] += r * x[i]
	}

	s.w = matVec(s.aInv, s.b)
}

// ArmTopology maps a non-stay arm to its target topology.
func ArmTopology(a Arm) (topology.Topology, bool) {
	t, ok := armTopology[a]
	return t, ok
}

func dot(a, b vec8) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func matVec(m mat8, v vec8) vec8 {
	var out vec8
	for i := 0; i < numFeatures; i++ {
		sum := 0.0
		for j := 0; j < numFeatures; j++ {
			sum += m[i][j] * v[j]
		}
		out[i] = sum
	}
	return out
}
