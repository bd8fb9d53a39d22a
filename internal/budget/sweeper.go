package budget

import (
	"time"

	"github.com/robfig/cron"
	"go.uber.org/zap"
)

// Sweeper periodically expires stale reservations and resets the daily
// scope at midnight, matching the donor's cron-driven maintenance
// pattern (internal/ratecontrol uses the same library for config
// refresh cadence).
type Sweeper struct {
	guard  *Guard
	logger *zap.Logger
	cron   *cron.Cron
}

// NewSweeper wires a cron schedule: reservation expiry every 5 seconds,
// daily scope reset at 00:00.
func NewSweeper(guard *Guard, logger *zap.Logger) (*Sweeper, error) {
	c := cron.New()
	s := &Sweeper{guard: guard, logger: logger, cron: c}

	if err := c.AddFunc("@every 5s", s.expireStale); err != nil {
		return nil, err
	}
	if err := c.AddFunc("@midnight", s.resetDaily); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the cron schedule in the background.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the cron schedule.
func (s *Sweeper) Stop() { s.cron.Stop() }

func (s *Sweeper) expireStale() {
	n := s.guard.ExpireStale(time.Now())
	if n > 0 {
		s.logger.Info("expired stale budget reservations", zap.Int("count", n))
	}
}

func (s *Sweeper) resetDaily() {
	s.guard.mu.Lock()
	defer s.guard.mu.Unlock()
	if st, ok := s.guard.scopes[ScopeDaily]; ok {
		st.tokenUsed = 0
		st.msUsed = 0
	}
	s.logger.Info("reset daily budget scope")
}
