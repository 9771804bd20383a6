package lifecycle

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	brokerpkg "github.com/eddiefleurent/strategy-engine/internal/broker"
	"github.com/eddiefleurent/strategy-engine/internal/clock"
	"github.com/eddiefleurent/strategy-engine/internal/config"
	"github.com/eddiefleurent/strategy-engine/internal/evaluator"
	"github.com/eddiefleurent/strategy-engine/internal/models"
	"github.com/eddiefleurent/strategy-engine/internal/router"
	"github.com/eddiefleurent/strategy-engine/internal/safety"
	"github.com/eddiefleurent/strategy-engine/internal/store"
)

// Engine drives the live tick loop described in §5: one logical,
// single-threaded cooperative loop evaluates every active strategy in
// deterministic (strategy id) order each tick, routing emitted orders
// through the safety gate and order router and persisting the result
// before moving to the next strategy. Grounded on the teacher's
// cmd/bot Bot.Run ticker loop (select on ctx.Done / stop channel /
// ticker.C, running one cycle immediately on start), generalized from
// a single strangle position to the strategy collection.
type Engine struct {
	clock     clock.Clock
	scheduler *clock.Scheduler
	store     *store.JSONStore
	router    *router.Router
	gate      *safety.Gate
	broker    brokerpkg.Broker
	cfg       *config.Config
	log       *logrus.Logger
	lock      *Lock

	stop chan struct{}
}

// New constructs an Engine from its already-built collaborators. The
// caller is responsible for having acquired lock via Acquire before
// calling Run.
func New(clk clock.Clock, st *store.JSONStore, r *router.Router, gate *safety.Gate, br brokerpkg.Broker, cfg *config.Config, log *logrus.Logger, lck *Lock) *Engine {
	if log == nil {
		log = logrus.New()
	}
	return &Engine{
		clock:     clk,
		scheduler: clock.NewScheduler(clk),
		store:     st,
		router:    r,
		gate:      gate,
		broker:    br,
		cfg:       cfg,
		log:       log,
		lock:      lck,
		stop:      make(chan struct{}),
	}
}

// Run starts the engine's main loop: it runs one cycle immediately,
// then one per tick, until ctx is cancelled or Shutdown(graceful) is
// called. Both shutdown modes close the same stop channel, which
// runCycle checks before each strategy: the strategy being evaluated
// is finished and persisted, the remaining strategies of the in-flight
// cycle are skipped, and the lock is released. Graceful shutdown does
// not wait for the rest of the cycle (§4.9).
func (e *Engine) Run(ctx context.Context) error {
	ticker := clock.NewTicker(e.cfg.TickInterval())
	defer ticker.Stop()

	e.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return e.releaseLock()
		case <-e.stop:
			return e.releaseLock()
		case <-ticker.C():
			e.runCycle(ctx)
		}
	}
}

// Shutdown requests the engine stop. Both values of graceful close the
// same stop channel and behave alike: the running cycle is never
// interrupted mid-strategy by Shutdown itself, but it stops before its
// next strategy and no further tick runs. graceful=false only adds a
// warning log line. Cancelling ctx takes effect at the same
// between-strategy check point (runCycle).
func (e *Engine) Shutdown(graceful bool) {
	if !graceful {
		e.log.Warn("forced shutdown requested; skipping remainder of any in-flight cycle")
	}
	select {
	case <-e.stop:
		// already closed
	default:
		close(e.stop)
	}
}

// EngineHealthy implements internal/statusapi.HealthSource: the engine
// is healthy so long as it still holds its lifecycle lock.
func (e *Engine) EngineHealthy() bool {
	return e.lock != nil
}

// LockOwner implements internal/statusapi.HealthSource.
func (e *Engine) LockOwner() string {
	return e.lock.Owner()
}

func (e *Engine) releaseLock() error {
	if e.lock == nil {
		return nil
	}
	err := e.lock.Release()
	e.lock = nil
	return err
}

// runCycle performs one tick (§5's Engine Cycle): (1) activate any
// strategies whose schedule has arrived, (2) consult the market-open /
// trading-window predicate, (3) evaluate every active strategy in
// strategy-id order, (4) route any emitted action through the safety
// gate and order router, persisting after each strategy.
func (e *Engine) runCycle(ctx context.Context) {
	now := e.clock.Now()

	strategies, err := e.store.LoadAll()
	if err != nil {
		e.log.WithError(err).Error("lifecycle: loading strategies")
		return
	}

	for _, act := range e.scheduler.ActivateDue(strategies) {
		e.log.WithFields(logrus.Fields{"strategy_id": act.StrategyID, "activated_at": act.At}).
			Info("lifecycle: scheduled strategy activated")
	}
	sort.Slice(strategies, func(i, j int) bool { return strategies[i].ID < strategies[j].ID })

	withinHours, err := e.cfg.IsWithinTradingHours(now)
	if err != nil {
		e.log.WithError(err).Error("lifecycle: resolving trading hours")
		return
	}

	for _, strat := range strategies {
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		if !strat.IsActive(now) {
			continue
		}
		if !withinHours {
			continue
		}

		e.evaluateAndRoute(ctx, strat, now)

		if err := e.store.Upsert(strat); err != nil {
			e.log.WithError(err).WithField("strategy_id", strat.ID).Error("lifecycle: persisting strategy")
		}
	}
}

// evaluateAndRoute advances one strategy through a single evaluator
// call, routing any emitted action through the safety gate (submit
// only) and order router, then reconciling a fill observed
// synchronously from the router's response (the live broker, unlike
// the historical simulator, may report a fill on the same call that
// accepted the order; polling the remaining open orders to terminal
// status is left to the next cycle's quote-driven re-evaluation,
// matching §5's "re-queried next cycle, not retried blindly").
func (e *Engine) evaluateAndRoute(ctx context.Context, strat *models.Strategy, now time.Time) {
	quote, err := e.router.Quote(ctx, strat.Symbol)
	if err != nil {
		e.log.WithError(err).WithField("strategy_id", strat.ID).Warn("lifecycle: quote fetch failed, skipping this cycle")
		return
	}

	next, action := evaluator.Evaluate(*strat, *quote)
	*strat = next

	switch action.Kind {
	case models.ActionSubmit:
		acct, err := e.broker.GetAccount(ctx)
		if err != nil {
			e.log.WithError(err).WithField("strategy_id", strat.ID).Warn("lifecycle: account fetch failed, skipping submit")
			return
		}
		approval := e.gate.Evaluate(strat.ID, action.Order, safety.Account{
			Equity:             acct.Equity,
			BuyingPower:        acct.BuyingPower,
			OpenPositionCount:  acct.OpenPositionCount,
			IsPatternDayTrader: acct.IsPatternDayTrader,
		}, quote.Last)
		if !approval.Approved {
			strat.RuntimeState.LastError = approval.Reason.Error()
			e.log.WithField("strategy_id", strat.ID).WithError(approval.Reason).Warn("lifecycle: safety gate rejected order")
			return
		}

		placed, err := e.router.Submit(ctx, strat.ID, action.Order)
		if err != nil {
			e.log.WithError(err).WithField("strategy_id", strat.ID).Warn("lifecycle: order submit failed")
			return
		}
		if placed.ClientID == strat.RuntimeState.TPOrderID {
			strat.RuntimeState.TPAccepted = true
		}
		if placed.Status == models.OrderStatusFilled {
			evaluator.ReconcileFill(strat, placed)
		}

	case models.ActionCancel:
		if err := e.router.Cancel(ctx, strat.ID, action.CancelClientID); err != nil {
			e.log.WithError(err).WithField("strategy_id", strat.ID).Warn("lifecycle: order cancel failed")
		}
	}
}
