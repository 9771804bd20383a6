package evaluator

import (
	"fmt"

	"github.com/eddiefleurent/strategy-engine/internal/models"
)

// evaluateGrid implements §4.5's grid variant: a symmetric ladder of buy
// levels below and sell levels above VariantParams.Grid.ReferencePrice,
// spaced by Spacing — a fraction of ReferencePrice, per §4.5's
// `R·(1−s), R·(1−2s), …` — not an absolute dollar increment. Grid has
// no entry condition and no terminal phase —
// it moves directly from pending to position_open (ConditionSkipEntry)
// and stays there for the strategy's lifetime. When a level fills, the
// refill on the opposite side is queued one rung away rather than at the
// same price, so the ladder walks outward instead of flip-flopping on
// the same two prices (§4.5's "one-rung-delayed" refill rule).
func evaluateGrid(s models.Strategy, q models.Quote) (models.Strategy, models.Action) {
	params := s.VariantParams.Grid
	if params == nil || params.Levels <= 0 || params.Spacing <= 0 {
		s.RuntimeState.Quarantined = true
		s.RuntimeState.LastError = "grid strategy missing or malformed variant_params.grid"
		return s, models.NoAction
	}

	if s.Phase == models.PhasePending {
		s.RuntimeState.GridLevels = buildGridLadder(params)
		if err := transition(&s, models.PhasePositionOpen, models.ConditionSkipEntry); err != nil {
			s.RuntimeState.Quarantined = true
			s.RuntimeState.LastError = err.Error()
			return s, models.NoAction
		}
	}

	if s.Phase != models.PhasePositionOpen {
		return s, models.NoAction
	}

	levels := s.RuntimeState.GridLevels

	for i := range levels {
		lvl := &levels[i]
		if lvl.OrderID != "" {
			continue
		}
		order := models.Order{
			ClientID:   clientID(s.ID, fmt.Sprintf("grid-%d", i)),
			Symbol:     s.Symbol,
			Side:       lvl.Side,
			Type:       models.OrderTypeLimit,
			LimitPrice: ptr(lvl.Price),
			Quantity:   s.Quantity,
		}
		lvl.OrderID = order.ClientID
		s.RuntimeState.GridLevels = levels
		return s, submitAction(s.ID, order)
	}

	for i := range levels {
		lvl := &levels[i]
		if !lvl.Filled || lvl.QueuedOpp {
			continue
		}
		lvl.QueuedOpp = true
		refill := refillLevel(lvl, params)
		levels = append(levels, refill)
		s.RuntimeState.GridLevels = levels
		return s, models.NoAction
	}

	return s, models.NoAction
}

// buildGridLadder constructs the initial symmetric ladder: Levels buy
// rungs below the reference price and Levels sell rungs above it, each
// i*Spacing (a fraction of ReferencePrice) apart — `R·(1−i·s)` below,
// `R·(1+i·s)` above, per §4.5.
func buildGridLadder(params *models.GridParams) []models.GridLevel {
	levels := make([]models.GridLevel, 0, params.Levels*2)
	for i := 1; i <= params.Levels; i++ {
		levels = append(levels, models.GridLevel{
			Price: params.ReferencePrice * (1 - float64(i)*params.Spacing),
			Side:  models.SideBuy,
		})
	}
	for i := 1; i <= params.Levels; i++ {
		levels = append(levels, models.GridLevel{
			Price: params.ReferencePrice * (1 + float64(i)*params.Spacing),
			Side:  models.SideSell,
		})
	}
	return levels
}

// refillLevel queues the opposite-side rung one spacing away from a
// filled level: a filled buy queues a sell one rung above it, a filled
// sell queues a buy one rung below it. The rung width is Spacing
// expressed in price terms (ReferencePrice*Spacing), matching
// buildGridLadder's fractional spacing.
func refillLevel(filled *models.GridLevel, params *models.GridParams) models.GridLevel {
	step := params.ReferencePrice * params.Spacing
	if filled.Side == models.SideBuy {
		return models.GridLevel{Price: filled.Price + step, Side: models.SideSell}
	}
	return models.GridLevel{Price: filled.Price - step, Side: models.SideBuy}
}
