package evaluator

import (
	"github.com/eddiefleurent/strategy-engine/internal/models"
)

// evaluateTrailingStop implements §4.5's trailing-stop skeleton:
// pending -> entry_active on entry condition (here: always ready to
// enter once active, the entry condition for this variant is "now"),
// entry_active -> position_open on fill, then trailing exit while
// position_open: high_watermark := max(watermark, last), exit when
// last <= watermark*(1-trailing_pct).
func evaluateTrailingStop(s models.Strategy, q models.Quote) (models.Strategy, models.Action) {
	params := s.VariantParams.TrailingStop
	if params == nil {
		s.RuntimeState.Quarantined = true
		s.RuntimeState.LastError = "trailing_stop strategy missing variant_params.trailing_stop"
		return s, models.NoAction
	}

	switch s.Phase {
	case models.PhasePending:
		if s.RuntimeState.EntryOrderID != "" {
			// Already submitted this cycle; avoid a duplicate submit while
			// awaiting the fill-observation that moves us to entry_active.
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
		s.RuntimeState.HighWatermark = ptr(*s.RuntimeState.EntryFillPrice)
		return s, models.NoAction

	case models.PhasePositionOpen:
		watermark := q.Last
		if s.RuntimeState.HighWatermark != nil && *s.RuntimeState.HighWatermark > watermark {
			watermark = *s.RuntimeState.HighWatermark
		}
		if q.High > watermark {
			watermark = q.High
		}
		s.RuntimeState.HighWatermark = ptr(watermark)

		trigger := watermark * (1 - params.TrailingPct)
		if q.Last > trigger && q.Low > trigger {
			return s, models.NoAction
		}

		// StopPrice carries trailing_pct, not a price (the fill simulator's
		// and live broker's own convention, see internal/broker); the
		// trigger above has already been confirmed against this bar's
		// low, so TrailingWatermark hands the broker the true watermark
		// history instead of letting it restart tracking from zero on
		// this order alone (§4.6).
		order := models.Order{
			ClientID:          clientID(s.ID, "exit"),
			Symbol:            s.Symbol,
			Side:              models.SideSell,
			Type:              models.OrderTypeTrailingStop,
			StopPrice:         ptr(params.TrailingPct),
			TrailingWatermark: ptr(watermark),
			Quantity:          s.Quantity,
		}
		s.RuntimeState.ExitOrderID = order.ClientID
		if err := transition(&s, models.PhaseExiting, models.ConditionExitMet); err != nil {
			s.RuntimeState.Quarantined = true
			s.RuntimeState.LastError = err.Error()
			return s, models.NoAction
		}
		return s, submitAction(s.ID, order)

	case models.PhaseExiting:
		if !s.RuntimeState.ExitFilled() {
			return s, models.NoAction
		}
		if err := transition(&s, models.PhaseCompleted, models.ConditionExitFill); err != nil {
			s.RuntimeState.Quarantined = true
			s.RuntimeState.LastError = err.Error()
			return s, models.NoAction
		}
		return s, models.NoAction

	default:
		return s, models.NoAction
	}
}
