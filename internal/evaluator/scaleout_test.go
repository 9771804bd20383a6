package evaluator

import (
	"testing"

	"github.com/eddiefleurent/strategy-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRungQuantities_ResidueGoesToLastRung(t *testing.T) {
	qtys := rungQuantities(10, []float64{1.0 / 3, 1.0 / 3, 1.0 / 3})
	require.Len(t, qtys, 3)
	sum := 0
	for _, q := range qtys {
		sum += q
	}
	assert.Equal(t, 10, sum)
	assert.Equal(t, qtys[2], 10-qtys[0]-qtys[1])
}

func TestScaleOut_SubmitsRungsInOrderThenCompletes(t *testing.T) {
	s := baseStrategy("so1", models.VariantScaleOut, 9)
	s.VariantParams.ScaleOut = &models.ScaleOutParams{
		Rungs:     []float64{105, 110, 115},
		Fractions: []float64{1.0 / 3, 1.0 / 3, 1.0 / 3},
	}

	s, action := Evaluate(s, quote(100, 100, 100))
	require.Equal(t, models.ActionSubmit, action.Kind)
	s.RuntimeState.EntryFillPrice = ptr(100)

	s, action = Evaluate(s, quote(100, 100, 100))
	assert.Equal(t, models.ActionNone, action.Kind)
	assert.Equal(t, models.PhasePositionOpen, s.Phase)
	require.Len(t, s.RuntimeState.RungOrderIDs, 3)

	// Price below every rung: no submission yet.
	s, action = Evaluate(s, quote(101, 102, 100))
	assert.Equal(t, models.ActionNone, action.Kind)

	s, action = Evaluate(s, quote(106, 106, 104))
	require.Equal(t, models.ActionSubmit, action.Kind)
	assert.Equal(t, 3, action.Order.Quantity)
	assert.NotEmpty(t, s.RuntimeState.RungOrderIDs[0])
	assert.Equal(t, models.PhasePositionOpen, s.Phase)

	s, action = Evaluate(s, quote(111, 111, 109))
	require.Equal(t, models.ActionSubmit, action.Kind)
	assert.NotEmpty(t, s.RuntimeState.RungOrderIDs[1])

	s, action = Evaluate(s, quote(116, 116, 114))
	require.Equal(t, models.ActionSubmit, action.Kind)
	assert.NotEmpty(t, s.RuntimeState.RungOrderIDs[2])
	assert.Equal(t, models.PhaseExiting, s.Phase)

	s.RuntimeState.RungsFilled[0] = true
	s.RuntimeState.RungsFilled[1] = true
	s, action = Evaluate(s, quote(116, 116, 114))
	assert.Equal(t, models.ActionNone, action.Kind)
	assert.Equal(t, models.PhaseExiting, s.Phase)

	s.RuntimeState.RungsFilled[2] = true
	s, action = Evaluate(s, quote(116, 116, 114))
	assert.Equal(t, models.ActionNone, action.Kind)
	assert.Equal(t, models.PhaseCompleted, s.Phase)
}
