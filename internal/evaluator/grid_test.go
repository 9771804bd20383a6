package evaluator

import (
	"testing"

	"github.com/eddiefleurent/strategy-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gridStrategy() models.Strategy {
	s := baseStrategy("g1", models.VariantGrid, 1)
	s.VariantParams.Grid = &models.GridParams{ReferencePrice: 100, Spacing: 0.05, Levels: 2}
	return s
}

func TestGrid_BuildsSymmetricLadderAndHasNoTerminalPhase(t *testing.T) {
	s := gridStrategy()

	s, action := Evaluate(s, quote(100, 100, 100))
	require.Equal(t, models.ActionSubmit, action.Kind)
	assert.Equal(t, models.PhasePositionOpen, s.Phase)
	require.Len(t, s.RuntimeState.GridLevels, 4)

	var buys, sells int
	for _, lvl := range s.RuntimeState.GridLevels {
		if lvl.Side == models.SideBuy {
			buys++
		} else {
			sells++
		}
	}
	assert.Equal(t, 2, buys)
	assert.Equal(t, 2, sells)

	// Submits remaining levels one per tick.
	for i := 0; i < 3; i++ {
		s, action = Evaluate(s, quote(100, 100, 100))
		require.Equal(t, models.ActionSubmit, action.Kind)
	}
	for _, lvl := range s.RuntimeState.GridLevels {
		assert.NotEmpty(t, lvl.OrderID)
	}

	// All levels placed, none filled: no further action, still position_open.
	s, action = Evaluate(s, quote(100, 100, 100))
	assert.Equal(t, models.ActionNone, action.Kind)
	assert.Equal(t, models.PhasePositionOpen, s.Phase)
}

func TestGrid_FillQueuesOneRungDelayedRefill(t *testing.T) {
	s := gridStrategy()
	s.Phase = models.PhasePositionOpen
	s.RuntimeState.GridLevels = []models.GridLevel{
		{Price: 90, Side: models.SideBuy, OrderID: "g1-grid-0", Filled: true},
		{Price: 95, Side: models.SideBuy, OrderID: "g1-grid-1"},
		{Price: 105, Side: models.SideSell, OrderID: "g1-grid-2"},
		{Price: 110, Side: models.SideSell, OrderID: "g1-grid-3"},
	}

	s, action := Evaluate(s, quote(91, 92, 90))
	assert.Equal(t, models.ActionNone, action.Kind)
	require.Len(t, s.RuntimeState.GridLevels, 5)
	refill := s.RuntimeState.GridLevels[4]
	assert.Equal(t, models.SideSell, refill.Side)
	assert.InDelta(t, 95.0, refill.Price, 1e-9)
	assert.True(t, s.RuntimeState.GridLevels[0].QueuedOpp)
}
