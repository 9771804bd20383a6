package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/eddiefleurent/strategy-engine/internal/models"
	"github.com/eddiefleurent/strategy-engine/internal/safety"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(day int, o, h, l, c float64) models.Bar {
	return models.Bar{
		Timestamp: time.Date(2026, 1, day, 0, 0, 0, 0, time.UTC),
		Open:      o, High: h, Low: l, Close: c,
		Volume: 1000,
	}
}

func TestRun_NoDataFailsGracefully(t *testing.T) {
	strat := &models.Strategy{ID: "bt1", Symbol: "SPY", Variant: models.VariantTrailingStop, Quantity: 10}
	strat.VariantParams.TrailingStop = &models.TrailingStopParams{TrailingPct: 0.05}

	result, err := Run(context.Background(), nil, strat, RunConfig{InitialCash: 10_000})
	require.NoError(t, err)
	assert.Equal(t, models.FailureNoData, result.Failure)
}

func TestRun_TrailingStopEntryAndExit(t *testing.T) {
	strat := &models.Strategy{ID: "bt2", Symbol: "SPY", Variant: models.VariantTrailingStop, Quantity: 10, Phase: models.PhasePending, Enabled: true}
	strat.VariantParams.TrailingStop = &models.TrailingStopParams{TrailingPct: 0.05}

	bars := []models.Bar{
		bar(1, 100, 101, 99, 100),
		bar(2, 100, 110, 100, 110),
		bar(3, 109, 111, 100, 104),
		bar(4, 104, 105, 103, 104),
	}

	result, err := Run(context.Background(), bars, strat, RunConfig{InitialCash: 10_000})
	require.NoError(t, err)
	assert.Equal(t, models.FailureNone, result.Failure)
	require.Len(t, result.EquityCurve, 4)
	assert.NotEmpty(t, result.Trades)
}

// TestRun_TrailingStopScenario1 pins spec §8 scenario 1 exactly: bars
// 100,110,120,110,100, qty 1, trailing 5% — entry at bar 1 (fill 100),
// watermark reaches 120, exit at bar 4 at fill 110, realized +10. This
// is the scenario the broker-side watermark desync (seeded from zero on
// the exit order's own submission bar instead of the evaluator's
// tracked high) previously caused to never fill at all.
func TestRun_TrailingStopScenario1(t *testing.T) {
	strat := &models.Strategy{ID: "bt-scenario1", Symbol: "SPY", Variant: models.VariantTrailingStop, Quantity: 1, Phase: models.PhasePending, Enabled: true}
	strat.VariantParams.TrailingStop = &models.TrailingStopParams{TrailingPct: 0.05}

	bars := []models.Bar{
		bar(1, 100, 100, 100, 100),
		bar(2, 110, 110, 110, 110),
		bar(3, 120, 120, 120, 120),
		bar(4, 110, 110, 110, 110),
		bar(5, 100, 100, 100, 100),
	}

	result, err := Run(context.Background(), bars, strat, RunConfig{InitialCash: 10_000})
	require.NoError(t, err)
	assert.Equal(t, models.FailureNone, result.Failure)
	require.Len(t, result.Trades, 1)

	trade := result.Trades[0]
	assert.Equal(t, bars[0].Timestamp, trade.EntryTime)
	assert.InDelta(t, 100.0, trade.EntryPrice, 1e-9)
	assert.Equal(t, bars[3].Timestamp, trade.ExitTime)
	assert.InDelta(t, 110.0, trade.ExitPrice, 1e-9)
	assert.InDelta(t, 10.0, trade.RealizedPnL, 1e-9)

	assert.InDelta(t, 10_010.0, result.FinalEquity, 1e-9)
	assert.InDelta(t, 1.0, result.Metrics.WinRate, 1e-9)
	assert.InDelta(t, 10.0, result.Metrics.TotalReturn, 1e-9)
}

func TestRun_SafetyGateRejectsInitialEntry(t *testing.T) {
	strat := &models.Strategy{ID: "bt3", Symbol: "SPY", Variant: models.VariantTrailingStop, Quantity: 10, Phase: models.PhasePending, Enabled: true}
	strat.VariantParams.TrailingStop = &models.TrailingStopParams{TrailingPct: 0.05}

	bars := []models.Bar{bar(1, 100, 101, 99, 100)}
	cfg := RunConfig{InitialCash: 10_000, SafetyPolicy: &safety.Policy{KillSwitch: true}}

	result, err := Run(context.Background(), bars, strat, cfg)
	require.NoError(t, err)
	assert.Equal(t, models.FailureStrategyRejected, result.Failure)
	assert.NotEmpty(t, result.FailureError)
}

func TestRunMany_IndependentJobs(t *testing.T) {
	mk := func(id string) *models.Strategy {
		s := &models.Strategy{ID: id, Symbol: "SPY", Variant: models.VariantTrailingStop, Quantity: 10, Phase: models.PhasePending, Enabled: true}
		s.VariantParams.TrailingStop = &models.TrailingStopParams{TrailingPct: 0.05}
		return s
	}
	bars := []models.Bar{
		bar(1, 100, 101, 99, 100),
		bar(2, 100, 110, 100, 110),
		bar(3, 109, 111, 100, 104),
	}
	jobs := []Job{
		{ID: "j1", Bars: bars, Strategy: mk("j1"), Config: RunConfig{InitialCash: 10_000}},
		{ID: "j2", Bars: bars, Strategy: mk("j2"), Config: RunConfig{InitialCash: 5_000}},
	}

	results, err := RunMany(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 10_000.0, results[0].InitialCash)
	assert.Equal(t, 5_000.0, results[1].InitialCash)
}
