package broker

import (
	"context"
	"testing"
	"time"

	"github.com/eddiefleurent/strategy-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(o, h, l, c float64) models.Bar {
	return models.Bar{Timestamp: time.Now(), Open: o, High: h, Low: l, Close: c, Volume: 1000}
}

func TestHistoricalBroker_MarketOrderFillsAtClose(t *testing.T) {
	hb := NewHistoricalBroker("SPY", 10_000, nil)
	hb.AdvanceBar(bar(100, 105, 99, 102))
	order := &models.Order{ClientID: "o1", Symbol: "SPY", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 10}
	placed, err := hb.SubmitOrder(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, placed.Status)
	assert.Equal(t, 102.0, placed.AvgFillPrice)
	assert.Equal(t, 10_000-102.0*10, hb.Cash())
}

func TestHistoricalBroker_SubmitIsIdempotentByClientID(t *testing.T) {
	hb := NewHistoricalBroker("SPY", 10_000, nil)
	hb.AdvanceBar(bar(100, 105, 99, 102))
	order := &models.Order{ClientID: "o1", Symbol: "SPY", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 10}
	first, err := hb.SubmitOrder(context.Background(), order)
	require.NoError(t, err)
	second, err := hb.SubmitOrder(context.Background(), order)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestHistoricalBroker_LimitBuyFillsWhenLowCrosses(t *testing.T) {
	hb := NewHistoricalBroker("SPY", 10_000, nil)
	limit := 98.0
	order := &models.Order{ClientID: "o1", Symbol: "SPY", Side: models.SideBuy, Type: models.OrderTypeLimit, LimitPrice: &limit, Quantity: 10}
	_, err := hb.SubmitOrder(context.Background(), order)
	require.NoError(t, err)

	filled := hb.AdvanceBar(bar(100, 101, 99, 100))
	assert.Empty(t, filled)

	filled = hb.AdvanceBar(bar(99, 100, 97, 98))
	require.Len(t, filled, 1)
	status, err := hb.GetOrderStatus(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, status.Status)
	assert.Equal(t, 98.0, status.AvgFillPrice) // min(L, o) = min(98, 99)
}

func TestHistoricalBroker_LimitSellFillsAtMaxOfLevelAndOpen(t *testing.T) {
	hb := NewHistoricalBroker("SPY", 10_000, nil)
	limit := 105.0
	order := &models.Order{ClientID: "o1", Symbol: "SPY", Side: models.SideSell, Type: models.OrderTypeLimit, LimitPrice: &limit, Quantity: 10}
	_, err := hb.SubmitOrder(context.Background(), order)
	require.NoError(t, err)

	filled := hb.AdvanceBar(bar(106, 108, 105, 107))
	require.Len(t, filled, 1)
	status, _ := hb.GetOrderStatus(context.Background(), "o1")
	assert.Equal(t, 106.0, status.AvgFillPrice) // max(L, o) = max(105, 106)
}

func TestHistoricalBroker_StopBuyTriggersAtMaxOfLevelAndOpen(t *testing.T) {
	hb := NewHistoricalBroker("SPY", 10_000, nil)
	stop := 100.0
	order := &models.Order{ClientID: "o1", Symbol: "SPY", Side: models.SideBuy, Type: models.OrderTypeStop, StopPrice: &stop, Quantity: 10}
	_, err := hb.SubmitOrder(context.Background(), order)
	require.NoError(t, err)

	filled := hb.AdvanceBar(bar(99, 102, 98, 101))
	require.Len(t, filled, 1)
	status, _ := hb.GetOrderStatus(context.Background(), "o1")
	assert.Equal(t, 100.0, status.AvgFillPrice) // max(S, o) = max(100, 99)
}

func TestHistoricalBroker_StopSellTriggersAtMinOfLevelAndOpen(t *testing.T) {
	hb := NewHistoricalBroker("SPY", 10_000, nil)
	stop := 95.0
	order := &models.Order{ClientID: "o1", Symbol: "SPY", Side: models.SideSell, Type: models.OrderTypeStop, StopPrice: &stop, Quantity: 10}
	_, err := hb.SubmitOrder(context.Background(), order)
	require.NoError(t, err)

	filled := hb.AdvanceBar(bar(96, 97, 93, 94))
	require.Len(t, filled, 1)
	status, _ := hb.GetOrderStatus(context.Background(), "o1")
	assert.Equal(t, 95.0, status.AvgFillPrice) // min(S, o) = min(95, 96)
}

func TestHistoricalBroker_TrailingStopTracksWatermark(t *testing.T) {
	hb := NewHistoricalBroker("SPY", 10_000, nil)
	trailingPct := 0.05
	order := &models.Order{ClientID: "o1", Symbol: "SPY", Side: models.SideSell, Type: models.OrderTypeTrailingStop, StopPrice: &trailingPct, Quantity: 10}
	_, err := hb.SubmitOrder(context.Background(), order)
	require.NoError(t, err)

	filled := hb.AdvanceBar(bar(100, 110, 105, 108)) // watermark -> 110, low 105 stays above 104.5
	assert.Empty(t, filled)

	filled = hb.AdvanceBar(bar(108, 109, 104, 105)) // trigger: 110*0.95=104.5, low 104 <= 104.5
	require.Len(t, filled, 1)
	status, _ := hb.GetOrderStatus(context.Background(), "o1")
	assert.InDelta(t, 104.5, status.AvgFillPrice, 0.001)
}

func TestHistoricalBroker_CancelIsNoOpOnTerminalOrder(t *testing.T) {
	hb := NewHistoricalBroker("SPY", 10_000, nil)
	hb.AdvanceBar(bar(100, 101, 99, 100))
	order := &models.Order{ClientID: "o1", Symbol: "SPY", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 1}
	_, err := hb.SubmitOrder(context.Background(), order)
	require.NoError(t, err)
	err = hb.CancelOrder(context.Background(), "o1")
	assert.NoError(t, err)
	status, _ := hb.GetOrderStatus(context.Background(), "o1")
	assert.Equal(t, models.OrderStatusFilled, status.Status)
}
