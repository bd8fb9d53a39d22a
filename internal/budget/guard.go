// Package budget implements the Budget Guard: scoped reservations with
// time-to-live, an estimate/reserve/settle lifecycle, and a deny signal
// surfaced back to the Switching Controller (spec §4.5).
package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/apex-run/apex/internal/metrics"
)

// Scope identifies an independent budget bucket.
type Scope string

// ScopeDaily is the single process-wide daily scope.
const ScopeDaily Scope = "daily"

// ScopeEpisode returns the per-episode scope key.
func ScopeEpisode(episodeID string) Scope { return Scope("episode:" + episodeID) }

// ScopeAgent returns the per-role scope key.
func ScopeAgent(role string) Scope { return Scope("agent:" + role) }

// DenyReason enumerates why check_and_reserve refused a scope.
type DenyReason string

const (
	DenyTokenHeadroom DenyReason = "tok_headroom"
	DenyTimeHeadroom  DenyReason = "ms_headroom"
	DenyRateLimited   DenyReason = "rate_limited"
)

type scopeState struct {
	tokenBudget   int64
	msBudget      int64
	tokenUsed     int64
	msUsed        int64
	tokenReserved int64
	msReserved    int64

	// limiter caps how often a single scope may attempt a reservation,
	// independent of remaining token/time headroom — a burst of calls
	// against a scope that still has headroom left can still be too
	// fast for the downstream collaborator it's paying for.
	limiter *rate.Limiter
}

type reservation struct {
	id        string
	scopes    []Scope
	estTokens int64
	estMs     int64
	createdAt time.Time
	ttl       time.Duration
}

// Decision is the structured result of CheckAndReserve (§7's budget
// outcome taxonomy).
type Decision struct {
	Allowed       bool
	ReservationID string
	Denials       map[Scope]DenyReason
}

// Config bounds the safety factor and reservation TTL (§6).
type Config struct {
	SafetyFactor   float64
	ReservationTTL time.Duration

	// PerScopeRPS, if positive, caps the rate of CheckAndReserve calls
	// admitted per scope via a token-bucket limiter (PerScopeBurst
	// capacity, defaulting to the rate itself). Zero disables the cap.
	PerScopeRPS   float64
	PerScopeBurst int
}

func (c Config) withDefaults() Config {
	if c.SafetyFactor < 1.0 {
		c.SafetyFactor = 1.2
	}
	if c.ReservationTTL <= 0 {
		c.ReservationTTL = 10 * time.Second
	}
	return c
}

// Guard gates external calls against multi-scope token/time budgets.
//
// Mutex lock ordering (to prevent deadlocks):
//  1. mu — protects scopes and reservations
//
// A single lock is sufficient here: unlike the donor's multi-cache
// BudgetManager, APEX's scope set is small (daily, one per episode, one
// per role) and all mutation goes through CheckAndReserve/Settle/expire.
type Guard struct {
	cfg    Config
	logger *zap.Logger

	mu           sync.Mutex
	scopes       map[Scope]*scopeState
	reservations map[string]*reservation

	denyTotal  int64
	allowTotal int64
}

// New constructs a Budget Guard.
func New(cfg Config, logger *zap.Logger) *Guard {
	return &Guard{
		cfg:          cfg.withDefaults(),
		logger:       logger,
		scopes:       make(map[Scope]*scopeState),
		reservations: make(map[string]*reservation),
	}
}

// SetBudget configures the token (and optional time) budget for a scope.
// Safe to call at any time; it does not reset usage already accounted.
func (g *Guard) SetBudget(scope Scope, tokenBudget, msBudget int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.scope(scope)
	s.tokenBudget = tokenBudget
	s.msBudget = msBudget
}

func (g *Guard) scope(s Scope) *scopeState {
	st, ok := g.scopes[s]
	if !ok {
		st = &scopeState{}
		if g.cfg.PerScopeRPS > 0 {
			burst := g.cfg.PerScopeBurst
			if burst <= 0 {
				burst = int(g.cfg.PerScopeRPS)
				if burst < 1 {
					burst = 1
				}
			}
			st.limiter = rate.NewLimiter(rate.Limit(g.cfg.PerScopeRPS), burst)
		}
		g.scopes[s] = st
	}
	return st
}

// CheckAndReserve evaluates I4 for every scope in scopes and, if all
// pass, creates a reservation referenced by a single opaque id.
func (g *Guard) CheckAndReserve(scopes []Scope, estTokens, estMs int64) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	denials := make(map[Scope]DenyReason)
	for _, sc := range scopes {
		st := g.scope(sc)
		if st.limiter != nil && !st.limiter.Allow() {
			denials[sc] = DenyRateLimited
			continue
		}
		if st.tokenBudget > 0 {
			projected := st.tokenUsed + st.tokenReserved + int64(g.cfg.SafetyFactor*float64(estTokens))
			if projected > st.tokenBudget {
				denials[sc] = DenyTokenHeadroom
				continue
			}
		}
		if st.msBudget > 0 {
			projected := st.msUsed + st.msReserved + int64(g.cfg.SafetyFactor*float64(estMs))
			if projected > st.msBudget {
				denials[sc] = DenyTimeHeadroom
			}
		}
	}

	if len(denials) > 0 {
		g.denyTotal++
		for sc, reason := range denials {
			metrics.RecordBudgetDenial(string(sc), string(reason))
		}
		return Decision{Allowed: false, Denials: denials}
	}

	for _, sc := range scopes {
		st := g.scope(sc)
		st.tokenReserved += estTokens
		st.msReserved += estMs
		if st.tokenBudget > 0 {
			metrics.BudgetUsageRatio.WithLabelValues(string(sc)).Set(float64(st.tokenUsed+st.tokenReserved) / float64(st.tokenBudget))
		}
	}

	id := uuid.NewString()
	g.reservations[id] = &reservation{
		id:        id,
		scopes:    append([]Scope(nil), scopes...),
		estTokens: estTokens,
		estMs:     estMs,
		createdAt: time.Now(),
		ttl:       g.cfg.ReservationTTL,
	}
	g.allowTotal++
	return Decision{Allowed: true, ReservationID: id}
}

// Settle replaces a reservation's estimate with actuals, updating used
// totals and freeing the reserved slot. Overshoot is allowed.
func (g *Guard) Settle(reservationID string, actualTokens, actualMs int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.reservations[reservationID]
	if !ok {
		return fmt.Errorf("budget: unknown reservation %q", reservationID)
	}
	delete(g.reservations, reservationID)

	for _, sc := range r.scopes {
		st := g.scope(sc)
		st.tokenReserved -= r.estTokens
		st.msReserved -= r.estMs
		st.tokenUsed += actualTokens
		st.msUsed += actualMs
	}
	return nil
}

// ExpireStale debits any reservation past its TTL from used (as though
// spent) and removes it from reserved, preventing a crashed caller from
// deadlocking the scope. Intended to be called periodically by a
// sweeper (see Sweeper).
func (g *Guard) ExpireStale(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	expired := 0
	for id, r := range g.reservations {
		if now.Sub(r.createdAt) < r.ttl {
			continue
		}
		for _, sc := range r.scopes {
			st := g.scope(sc)
			st.tokenReserved -= r.estTokens
			st.msReserved -= r.estMs
			st.tokenUsed += r.estTokens
			st.msUsed += r.estMs
		}
		delete(g.reservations, id)
		expired++
	}
	return expired
}

// Usage returns a snapshot of a scope's accounting, for the Controller's
// token-headroom feature (§4.6).
func (g *Guard) Usage(scope Scope) (used, reserved, budget int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.scope(scope)
	return st.tokenUsed, st.tokenReserved, st.tokenBudget
}

// Headroom returns max(0, 1 - used/budget) for a scope, matching the
// Controller's feature #8 exactly. Returns 0 if budget is 0.
func (g *Guard) Headroom(scope Scope) float64 {
	used, _, bud := g.Usage(scope)
	if bud == 0 {
		return 0
	}
	h := 1.0 - float64(used)/float64(bud)
	if h < 0 {
		return 0
	}
	return h
}

// DenyRateEMA returns the fraction of all CheckAndReserve decisions
// since construction that were denials, surfaced to the Controller as a
// headroom-adjacent feature input for the deny signal (§4.5). Every
// decision weighs the same: the ratio is cumulative, older decisions
// are not decayed.
func (g *Guard) DenyRateEMA() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := g.allowTotal + g.denyTotal
	if total == 0 {
		return 0
	}
	return float64(g.denyTotal) / float64(total)
}
