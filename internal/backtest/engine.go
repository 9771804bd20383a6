// Package backtest implements the Backtest Driver (§4.7): a bar-by-bar
// replay loop that drives the same internal/evaluator used live against
// an internal/broker.HistoricalBroker, producing a BacktestResult with
// the equity curve and derived performance metrics. RunMany generalizes
// the single-run driver to the teacher's errgroup-based fan-out pattern
// (cmd/bot's reconciler uses a single goroutine; here independent
// backtests — each owning its own HistoricalBroker and in-memory store —
// run concurrently with no shared mutable state, per §5).
package backtest

import (
	"context"
	"fmt"
	"runtime"

	"github.com/eddiefleurent/strategy-engine/internal/broker"
	"github.com/eddiefleurent/strategy-engine/internal/evaluator"
	"github.com/eddiefleurent/strategy-engine/internal/models"
	"github.com/eddiefleurent/strategy-engine/internal/retry"
	"github.com/eddiefleurent/strategy-engine/internal/router"
	"github.com/eddiefleurent/strategy-engine/internal/safety"
	"golang.org/x/sync/errgroup"
)

// RunConfig parameterizes a single backtest run.
type RunConfig struct {
	InitialCash float64
	Adjustment  broker.FillAdjustment // nil uses the simulator's zero-cost default

	// SafetyPolicy, when non-nil, gates the strategy's initial entry order
	// exactly as the live engine would (§4.7: "StrategyRejected when the
	// safety gate blocks initial entry").
	SafetyPolicy *safety.Policy
}

// Job is one unit of work for RunMany: a strategy replayed against bars,
// each with its own isolated broker and cash ledger.
type Job struct {
	ID       string
	Bars     []models.Bar
	Strategy *models.Strategy
	Config   RunConfig
}

// Run replays bars against strategy, routing every evaluator action
// through a HistoricalBroker-backed router. It mutates a copy of
// strategy internally and leaves the caller's pointer's RuntimeState
// reflecting the final tick, matching the live engine's
// commit-after-evaluate discipline (internal/evaluator's doc comment).
func Run(ctx context.Context, bars []models.Bar, strategy *models.Strategy, cfg RunConfig) (*models.BacktestResult, error) {
	result := &models.BacktestResult{
		ID:          strategy.ID,
		Symbol:      strategy.Symbol,
		Variant:     strategy.Variant,
		InitialCash: cfg.InitialCash,
		FinalEquity: cfg.InitialCash,
	}

	if len(bars) == 0 {
		result.Failure = models.FailureNoData
		result.FailureError = fmt.Sprintf("no bars for symbol %s", strategy.Symbol)
		return result, nil
	}
	result.Start = bars[0].Timestamp
	result.End = bars[len(bars)-1].Timestamp

	hb := broker.NewHistoricalBroker(strategy.Symbol, cfg.InitialCash, cfg.Adjustment)
	r := router.New(hb, nil, retry.NewClient(nil), 0)

	ledger := &tradeLedger{}
	strat := *strategy
	gateChecked := false
	peak := cfg.InitialCash

	for _, bar := range bars {
		if err := ctx.Err(); err != nil {
			break
		}

		filledIDs := hb.AdvanceBar(bar)
		for _, id := range filledIDs {
			order, err := r.Status(ctx, id)
			if err != nil {
				continue
			}
			evaluator.ReconcileFill(&strat, order)
			ledger.recordFill(strat.Symbol, order.Side, order.FilledQty, order.AvgFillPrice, bar.Timestamp)
		}

		quote := models.QuoteFromBar(strategy.Symbol, bar)
		next, action := evaluator.Evaluate(strat, quote)
		strat = next

		if action.Kind == models.ActionSubmit {
			if !gateChecked {
				gateChecked = true
				if cfg.SafetyPolicy != nil {
					acct, _ := hb.GetAccount(ctx)
					gate := safety.NewGate(*cfg.SafetyPolicy, nil)
					approval := gate.Evaluate(strat.ID, action.Order, safety.Account{
						Equity:      acct.Equity,
						BuyingPower: acct.BuyingPower,
					}, bar.Close)
					if !approval.Approved {
						result.Failure = models.FailureStrategyRejected
						result.FailureError = approval.Reason.Error()
						return result, nil
					}
				}
			}
			placed, err := r.Submit(ctx, strat.ID, action.Order)
			if err == nil {
				if placed.ClientID == strat.RuntimeState.TPOrderID {
					strat.RuntimeState.TPAccepted = true
				}
				if placed.Status == models.OrderStatusFilled {
					evaluator.ReconcileFill(&strat, placed)
					ledger.recordFill(strat.Symbol, placed.Side, placed.FilledQty, placed.AvgFillPrice, bar.Timestamp)
				}
			}
		} else if action.Kind == models.ActionCancel {
			_ = r.Cancel(ctx, strat.ID, action.CancelClientID)
		}

		equity := hb.Cash() + float64(hb.PositionQty())*bar.Close
		if equity > peak {
			peak = equity
		}
		result.EquityCurve = append(result.EquityCurve, models.EquityPoint{Timestamp: bar.Timestamp, Equity: equity})
	}

	*strategy = strat
	result.FinalEquity = hb.Cash() + float64(hb.PositionQty())*bars[len(bars)-1].Close
	result.Trades = ledger.trades
	result.Metrics = computeMetrics(result.Trades, result.EquityCurve, cfg.InitialCash)
	return result, nil
}

// RunMany fans out independent backtests with golang.org/x/sync/errgroup,
// bounded by GOMAXPROCS, since each job owns its own HistoricalBroker and
// shares no mutable state with the others (§5).
func RunMany(ctx context.Context, jobs []Job) ([]*models.BacktestResult, error) {
	results := make([]*models.BacktestResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			res, err := Run(gctx, job.Bars, job.Strategy, job.Config)
			if err != nil {
				return fmt.Errorf("backtest job %s: %w", job.ID, err)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
