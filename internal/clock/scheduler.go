package clock

import (
	"time"

	"github.com/eddiefleurent/strategy-engine/internal/models"
)

// DefaultTickPeriod is the default cycle cadence P from §4.1.
const DefaultTickPeriod = 60 * time.Second

// Ticker produces a tick channel at the configured period. On the live
// engine this wraps time.Ticker; the backtest driver does not use it at
// all (it iterates bars directly, see internal/backtest).
type Ticker struct {
	period time.Duration
	t      *time.Ticker
}

// NewTicker creates a Ticker with the given period, defaulting to
// DefaultTickPeriod when period <= 0.
func NewTicker(period time.Duration) *Ticker {
	if period <= 0 {
		period = DefaultTickPeriod
	}
	return &Ticker{period: period, t: time.NewTicker(period)}
}

// C returns the tick channel.
func (t *Ticker) C() <-chan time.Time { return t.t.C }

// Stop releases the underlying time.Ticker.
func (t *Ticker) Stop() { t.t.Stop() }

// Activation records a scheduled strategy transitioning to enabled (§4.1).
type Activation struct {
	StrategyID string
	At         time.Time
}

// Scheduler filters strategies for evaluation and performs scheduled
// activation transitions.
type Scheduler struct {
	clock Clock
}

// NewScheduler creates a Scheduler backed by clock.
func NewScheduler(clock Clock) *Scheduler {
	return &Scheduler{clock: clock}
}

// Active reports whether a strategy should be evaluated this cycle:
// enabled ∧ ¬schedule_pending(now) ∧ not quarantined ∧ not terminal.
func (s *Scheduler) Active(strategy *models.Strategy) bool {
	return strategy.IsActive(s.clock.Now())
}

// ActivateDue performs the atomic activation transition (§4.1) for any
// strategy whose schedule_at has arrived: enabled:=true,
// schedule_enabled:=false, schedule_at:=nil. It mutates the strategies in
// place and returns one Activation per strategy activated, for the
// caller to persist and audit. Scheduling precision is bounded by the
// tick period P; this is documented, not hidden (§4.1).
func (s *Scheduler) ActivateDue(strategies []*models.Strategy) []Activation {
	now := s.clock.Now()
	var activations []Activation
	for _, strat := range strategies {
		if !strat.ScheduleEnabled || strat.ScheduleAt == nil {
			continue
		}
		if strat.ScheduleAt.After(now) {
			continue
		}
		strat.Enabled = true
		strat.ScheduleEnabled = false
		strat.ScheduleAt = nil
		strat.UpdatedAt = now
		activations = append(activations, Activation{StrategyID: strat.ID, At: now})
	}
	return activations
}
