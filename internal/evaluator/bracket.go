package evaluator

import (
	"github.com/eddiefleurent/strategy-engine/internal/models"
	"github.com/eddiefleurent/strategy-engine/internal/util"
)

// equityTick is the minimum price increment orders are rounded to
// before submission, since a limit/stop price computed from a
// percentage (e.g. entry*(1+pct)) otherwise carries more decimal
// precision than any equity exchange accepts.
const equityTick = 0.01

// evaluateBracket implements §4.5's bracket (OCO take-profit/stop-loss)
// variant. After entry fill at price E, it places the take-profit limit
// sell first and, only once the engine has observed that order accepted
// (RuntimeState.TPAccepted), places the stop-loss stop sell. Whichever
// side fills first is expected to trigger a cancel of the other; that
// cancel is emitted here and the router applies its bounded retry to
// it. When the cancel still fails, the engine only logs the failure:
// nothing in the router or engine sets RuntimeState.OcoDesync, so the
// halt on that flag below applies only to a record on which it was set
// by other means.
func evaluateBracket(s models.Strategy, q models.Quote) (models.Strategy, models.Action) {
	params := s.VariantParams.Bracket
	if params == nil {
		s.RuntimeState.Quarantined = true
		s.RuntimeState.LastError = "bracket strategy missing variant_params.bracket"
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
		return s, models.NoAction

	case models.PhasePositionOpen:
		if s.RuntimeState.TPOrderID != "" {
			// Already placed; the SL leg is placed from evaluateBracketExiting
			// once the engine observes TP acceptance.
			return s, models.NoAction
		}
		entry := *s.RuntimeState.EntryFillPrice
		tp := models.Order{
			ClientID:   clientID(s.ID, "tp"),
			Symbol:     s.Symbol,
			Side:       models.SideSell,
			Type:       models.OrderTypeLimit,
			LimitPrice: ptr(util.FloorToTick(entry*(1+params.TakeProfitPct), equityTick)),
			Quantity:   s.Quantity,
		}
		s.RuntimeState.TPOrderID = tp.ClientID
		if err := transition(&s, models.PhaseExiting, models.ConditionExitMet); err != nil {
			s.RuntimeState.Quarantined = true
			s.RuntimeState.LastError = err.Error()
			return s, models.NoAction
		}
		return s, submitAction(s.ID, tp)

	case models.PhaseExiting:
		return evaluateBracketExiting(s, params)

	default:
		return s, models.NoAction
	}
}

func evaluateBracketExiting(s models.Strategy, params *models.BracketParams) (models.Strategy, models.Action) {
	rs := &s.RuntimeState

	if rs.OcoDesync {
		// Operator attention required; the evaluator stops acting (§4.5).
		return s, models.NoAction
	}

	// The SL leg must exist before either fill/peer-cancel branch below
	// runs: TPAccepted is observed synchronously in the same engine tick
	// the TP order is submitted, and TP can go on to fill as early as the
	// very next tick, before this evaluator ever sees a bare
	// "TPAccepted, no SL yet" tick in isolation. Submitting SL here first
	// guarantees it is always created — satisfying "exactly one of
	// {tp_order, sl_order} is filled, other cancelled" — even when TP has
	// already filled by the time SL would otherwise have been placed.
	if rs.TPAccepted && rs.SLOrderID == "" {
		entry := *rs.EntryFillPrice
		sl := models.Order{
			ClientID:  clientID(s.ID, "sl"),
			Symbol:    s.Symbol,
			Side:      models.SideSell,
			Type:      models.OrderTypeStop,
			StopPrice: ptr(util.FloorToTick(entry*(1-params.StopLossPct), equityTick)),
			Quantity:  s.Quantity,
		}
		rs.SLOrderID = sl.ClientID
		return s, submitAction(s.ID, sl)
	}

	if rs.TPFilled && rs.SLFilled {
		// Should not occur under correct OCO cancellation, but resolve to
		// completed rather than loop forever if it ever does.
		if err := transition(&s, models.PhaseCompleted, models.ConditionExitFill); err != nil {
			rs.Quarantined = true
			rs.LastError = err.Error()
		}
		return s, models.NoAction
	}

	if rs.TPFilled || rs.SLFilled {
		peer := rs.SLOrderID
		if rs.SLFilled {
			peer = rs.TPOrderID
		}
		if peer != "" && !rs.OcoCancelIssued {
			rs.OcoCancelIssued = true
			return s, cancelAction(peer)
		}
		if err := transition(&s, models.PhaseCompleted, models.ConditionExitFill); err != nil {
			rs.Quarantined = true
			rs.LastError = err.Error()
		}
		return s, models.NoAction
	}

	return s, models.NoAction
}
