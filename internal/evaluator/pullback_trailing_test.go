package evaluator

import (
	"testing"

	"github.com/eddiefleurent/strategy-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPullbackTrailing_EntersOnPullbackThenTrails(t *testing.T) {
	s := baseStrategy("pt1", models.VariantPullbackTrailing, 4)
	s.VariantParams.PullbackTrailing = &models.PullbackTrailingParams{PullbackPct: 0.05, TrailingPct: 0.03}

	s, action := Evaluate(s, quote(100, 100, 99))
	assert.Equal(t, models.ActionNone, action.Kind)
	assert.Equal(t, models.PhasePending, s.Phase)
	require.NotNil(t, s.RuntimeState.ObservedHigh)
	assert.Equal(t, 100.0, *s.RuntimeState.ObservedHigh)

	s, action = Evaluate(s, quote(105, 106, 104))
	assert.Equal(t, models.ActionNone, action.Kind)
	assert.Equal(t, 106.0, *s.RuntimeState.ObservedHigh)

	// Pulls back 5% off the 106 high: trigger is 100.7.
	s, action = Evaluate(s, quote(100, 101, 99))
	require.Equal(t, models.ActionSubmit, action.Kind)
	assert.Equal(t, models.PhaseEntryActive, s.Phase)
	assert.Nil(t, s.VariantParams.TrailingStop)

	s.RuntimeState.EntryFillPrice = ptr(100)
	s, action = Evaluate(s, quote(100, 101, 99))
	assert.Equal(t, models.ActionNone, action.Kind)
	assert.Equal(t, models.PhasePositionOpen, s.Phase)
	assert.Nil(t, s.VariantParams.TrailingStop)
}

func TestPullbackTrailing_MissingParamsQuarantines(t *testing.T) {
	s := baseStrategy("pt1", models.VariantPullbackTrailing, 4)
	s, action := Evaluate(s, quote(100, 100, 100))
	assert.Equal(t, models.ActionNone, action.Kind)
	assert.True(t, s.RuntimeState.Quarantined)
}
