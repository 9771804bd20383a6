package evaluator

import (
	"fmt"

	"github.com/eddiefleurent/strategy-engine/internal/models"
)

// evaluateScaleOut implements §4.5's scale-out variant: after entry fill,
// the position is sold off in rungs keyed by price level, each rung's
// quantity derived from VariantParams.ScaleOut.Fractions. Fractions need
// not divide Quantity evenly; rounding residue is folded into the last
// rung so the rungs always sum to exactly Quantity (§4.5 rounding rule).
// Like bracket, only one rung order is ever in flight per evaluator call;
// fill observation (RuntimeState.RungsFilled) is the engine's job.
func evaluateScaleOut(s models.Strategy, q models.Quote) (models.Strategy, models.Action) {
	params := s.VariantParams.ScaleOut
	if params == nil || len(params.Rungs) == 0 || len(params.Rungs) != len(params.Fractions) {
		s.RuntimeState.Quarantined = true
		s.RuntimeState.LastError = "scale_out strategy missing or malformed variant_params.scale_out"
		return s, models.NoAction
	}

	switch s.Phase {
	case models.PhasePending:
		if s.RuntimeState.EntryOrderID != "" {
			return s, models.NoAction
		}
		order := models.Order{
			ClientID: clientID(s.ID, "entry"),
			Symbol:   s.Symbol,
			Side:     models.SideBuy,
			Type:     models.OrderTypeMarket,
			Quantity: s.Quantity,
		}
		s.RuntimeState.EntryOrderID = order.ClientID
		if err := transition(&s, models.PhaseEntryActive, models.ConditionEntryMet); err != nil {
			s.RuntimeState.Quarantined = true
			s.RuntimeState.LastError = err.Error()
			return s, models.NoAction
		}
		return s, submitAction(s.ID, order)

	case models.PhaseEntryActive:
		if s.RuntimeState.EntryFillPrice == nil {
			return s, models.NoAction
		}
		if err := transition(&s, models.PhasePositionOpen, models.ConditionEntryFill); err != nil {
			s.RuntimeState.Quarantined = true
			s.RuntimeState.LastError = err.Error()
			return s, models.NoAction
		}
		n := len(params.Rungs)
		s.RuntimeState.RungsFilled = make([]bool, n)
		s.RuntimeState.RungOrderIDs = make([]string, n)
		return s, models.NoAction

	case models.PhasePositionOpen:
		return evaluateScaleOutOpen(s, q, params)

	case models.PhaseExiting:
		if allTrue(s.RuntimeState.RungsFilled) {
			if err := transition(&s, models.PhaseCompleted, models.ConditionExitFill); err != nil {
				s.RuntimeState.Quarantined = true
				s.RuntimeState.LastError = err.Error()
			}
		}
		return s, models.NoAction

	default:
		return s, models.NoAction
	}
}

func evaluateScaleOutOpen(s models.Strategy, q models.Quote, params *models.ScaleOutParams) (models.Strategy, models.Action) {
	qtys := rungQuantities(s.Quantity, params.Fractions)

	for i, price := range params.Rungs {
		if s.RuntimeState.RungOrderIDs[i] != "" {
			continue
		}
		if q.Last < price && q.High < price {
			return s, models.NoAction
		}
		order := models.Order{
			ClientID:   clientID(s.ID, fmt.Sprintf("rung-%d", i)),
			Symbol:     s.Symbol,
			Side:       models.SideSell,
			Type:       models.OrderTypeLimit,
			LimitPrice: ptr(price),
			Quantity:   qtys[i],
		}
		s.RuntimeState.RungOrderIDs[i] = order.ClientID
		if i == len(params.Rungs)-1 {
			if err := transition(&s, models.PhaseExiting, models.ConditionExitMet); err != nil {
				s.RuntimeState.Quarantined = true
				s.RuntimeState.LastError = err.Error()
				return s, models.NoAction
			}
		}
		return s, submitAction(s.ID, order)
	}
	return s, models.NoAction
}

// rungQuantities splits quantity across fractions, rounding each rung
// down and folding the leftover remainder into the final rung so the
// rungs always sum to exactly quantity.
func rungQuantities(quantity int, fractions []float64) []int {
	qtys := make([]int, len(fractions))
	assigned := 0
	for i, f := range fractions {
		qtys[i] = int(f * float64(quantity))
		assigned += qtys[i]
	}
	qtys[len(qtys)-1] += quantity - assigned
	return qtys
}

func allTrue(bs []bool) bool {
	for _, b := range bs {
		if !b {
			return false
		}
	}
	return true
}
