// Package evaluator implements the Strategy Evaluator (§4.5): a pure
// function of (phase, quote, strategy record) that emits the next
// transition and at most one Action per call. The engine commits the
// returned record and routes the action atomically; the evaluator never
// touches the store or the broker itself, which is what lets the same
// code run identically against live quotes and backtest bars (§2).
//
// The dispatch shape — one file per variant under a shared phase-table
// skeleton — is grounded on the teacher's table-driven state machine
// (internal/models/state_machine.go: ValidTransitions + transitionLookup),
// generalized from the teacher's fixed 11-state options-football machine
// to the five generic variants named in §4.5.
package evaluator

import (
	"fmt"

	"github.com/eddiefleurent/strategy-engine/internal/models"
)

// Evaluate dispatches to the per-variant evaluator for strategy.Variant.
// It operates on a copy of strategy (value receiver) so a caller cannot
// accidentally rely on in-place mutation; the returned Strategy is the
// only channel for state changes, and the returned Action the only
// channel for side effects (§4.5).
func Evaluate(strategy models.Strategy, quote models.Quote) (models.Strategy, models.Action) {
	switch strategy.Variant {
	case models.VariantTrailingStop:
		return evaluateTrailingStop(strategy, quote)
	case models.VariantBracket:
		return evaluateBracket(strategy, quote)
	case models.VariantScaleOut:
		return evaluateScaleOut(strategy, quote)
	case models.VariantGrid:
		return evaluateGrid(strategy, quote)
	case models.VariantPullbackTrailing:
		return evaluatePullbackTrailing(strategy, quote)
	default:
		strategy.RuntimeState.Quarantined = true
		strategy.RuntimeState.LastError = fmt.Sprintf("unknown variant %q", strategy.Variant)
		return strategy, models.NoAction
	}
}

// clientID derives a deterministic, collision-resistant client order id
// from the strategy id and a purpose tag, so resubmission after a crash
// reaches the router's idempotency cache instead of duplicating
// (§4.3: submit is keyed by client_id).
func clientID(strategyID, purpose string) string {
	return fmt.Sprintf("%s-%s", strategyID, purpose)
}

// submitAction builds an ActionSubmit for a freshly constructed order,
// stamping ParentStrategyID so downstream audit and safety checks can
// attribute it.
func submitAction(strategyID string, order models.Order) models.Action {
	order.ParentStrategyID = strategyID
	if order.Status == "" {
		order.Status = models.OrderStatusPending
	}
	return models.Action{Kind: models.ActionSubmit, Order: &order}
}

func cancelAction(clientID string) models.Action {
	return models.Action{Kind: models.ActionCancel, CancelClientID: clientID}
}

func ptr(f float64) *float64 { return &f }

// ReconcileFill applies an observed order fill back onto strat's
// RuntimeState, matching by client_id against whichever field the
// evaluator recorded it under when it submitted the order. This is the
// feedback channel the pure per-variant evaluators above rely on for
// order acceptance/fill observation (bracket.go's OCO handling in
// particular); both the live engine and the backtest driver call it
// after observing a fill from their respective brokers.
func ReconcileFill(strat *models.Strategy, order *models.Order) {
	rs := &strat.RuntimeState
	price := order.AvgFillPrice

	switch order.ClientID {
	case rs.EntryOrderID:
		rs.EntryFillPrice = &price
		return
	case rs.ExitOrderID:
		rs.ExitFillPrice = &price
		return
	case rs.TPOrderID:
		rs.TPFilled = true
		return
	case rs.SLOrderID:
		rs.SLFilled = true
		return
	}

	for i, id := range rs.RungOrderIDs {
		if id == order.ClientID {
			rs.RungsFilled[i] = true
			return
		}
	}

	for i := range rs.GridLevels {
		if rs.GridLevels[i].OrderID == order.ClientID {
			rs.GridLevels[i].Filled = true
			return
		}
	}
}

// transition advances strategy.Phase in place, validated against
// models.ValidPhaseTransitions. Callers treat a returned error as a
// quarantine signal — it means the evaluator itself tried an illegal
// move, a programming error rather than a market condition.
func transition(strategy *models.Strategy, to models.Phase, condition string) error {
	return models.TransitionPhase(&strategy.Phase, to, condition)
}
