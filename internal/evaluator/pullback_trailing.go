package evaluator

import "github.com/eddiefleurent/strategy-engine/internal/models"

// evaluatePullbackTrailing implements §4.5's pullback-trailing variant:
// observe a pre-entry high watermark, enter at market once price has
// pulled back pullback_pct off that high, then behave exactly as
// trailing-stop with the variant's own trailing_pct.
func evaluatePullbackTrailing(s models.Strategy, q models.Quote) (models.Strategy, models.Action) {
	params := s.VariantParams.PullbackTrailing
	if params == nil {
		s.RuntimeState.Quarantined = true
		s.RuntimeState.LastError = "pullback_trailing strategy missing variant_params.pullback_trailing"
		return s, models.NoAction
	}

	if s.Phase == models.PhasePending {
		observedHigh := q.High
		if s.RuntimeState.ObservedHigh != nil && *s.RuntimeState.ObservedHigh > observedHigh {
			observedHigh = *s.RuntimeState.ObservedHigh
		}
		s.RuntimeState.ObservedHigh = ptr(observedHigh)

		if s.RuntimeState.EntryOrderID != "" {
			return s, models.NoAction
		}

		trigger := observedHigh * (1 - params.PullbackPct)
		if q.Last > trigger {
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
	}

	// From entry_active onward the behavior is identical to trailing-stop,
	// parameterized by the variant's own trailing_pct (§4.5: "thereafter
	// behaves as trailing-stop").
	delegate := s
	delegate.VariantParams.TrailingStop = &models.TrailingStopParams{TrailingPct: params.TrailingPct}
	result, action := evaluateTrailingStopFromEntryActive(delegate, q)
	result.VariantParams.TrailingStop = nil
	return result, action
}

// evaluateTrailingStopFromEntryActive runs the trailing-stop phase
// logic for entry_active/position_open/exiting, reused by
// pullback-trailing once its own distinct entry condition has fired.
func evaluateTrailingStopFromEntryActive(s models.Strategy, q models.Quote) (models.Strategy, models.Action) {
	return evaluateTrailingStop(s, q)
}
