package safety

import (
	"testing"
	"time"

	"github.com/eddiefleurent/strategy-engine/internal/errs"
	"github.com/eddiefleurent/strategy-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitOrder(strategyID, symbol string, qty int, price float64) *models.Order {
	p := price
	return &models.Order{
		ClientID:         "c1",
		Symbol:           symbol,
		Side:             models.SideBuy,
		Type:             models.OrderTypeLimit,
		LimitPrice:       &p,
		Quantity:         qty,
		ParentStrategyID: strategyID,
	}
}

func TestGate_KillSwitchBlocksEverything(t *testing.T) {
	g := NewGate(Policy{KillSwitch: true}, nil)
	approval := g.Evaluate("strat-1", limitOrder("strat-1", "SPY", 1, 10), Account{BuyingPower: 1_000_000}, 0)
	assert.False(t, approval.Approved)
	var taxErr *errs.Error
	require.ErrorAs(t, approval.Reason, &taxErr)
	assert.Equal(t, errs.CodeSafety, taxErr.Code)
}

func TestGate_DuplicateWithinWindowRejected(t *testing.T) {
	now := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	g := NewGate(Policy{DuplicateWindow: time.Second}, func() time.Time { return now })

	first := g.Evaluate("strat-1", limitOrder("strat-1", "SPY", 1, 10), Account{BuyingPower: 1000}, 0)
	assert.True(t, first.Approved)

	second := g.Evaluate("strat-1", limitOrder("strat-1", "SPY", 1, 10), Account{BuyingPower: 1000}, 0)
	assert.False(t, second.Approved)

	now = now.Add(2 * time.Second)
	third := g.Evaluate("strat-1", limitOrder("strat-1", "SPY", 1, 10), Account{BuyingPower: 1000}, 0)
	assert.True(t, third.Approved)
}

func TestGate_MaxPositionValueExceeded(t *testing.T) {
	g := NewGate(Policy{MaxPositionValue: 500}, nil)
	approval := g.Evaluate("strat-1", limitOrder("strat-1", "SPY", 10, 100), Account{BuyingPower: 100_000}, 0)
	assert.False(t, approval.Approved)
}

func TestGate_DailyLossLimitReached(t *testing.T) {
	g := NewGate(Policy{MaxDailyLossPct: 5}, nil)
	acct := Account{StartOfDayEquity: 10_000, RealizedLossToday: 600, BuyingPower: 100_000}
	approval := g.Evaluate("strat-1", limitOrder("strat-1", "SPY", 1, 10), acct, 0)
	assert.False(t, approval.Approved)
}

func TestGate_OpenPositionCapReached(t *testing.T) {
	g := NewGate(Policy{MaxOpenPositions: 2}, nil)
	acct := Account{OpenPositionCount: 2, BuyingPower: 100_000}
	approval := g.Evaluate("strat-1", limitOrder("strat-1", "SPY", 1, 10), acct, 0)
	assert.False(t, approval.Approved)
}

func TestGate_PatternDayTradeBlocksLowEquity(t *testing.T) {
	g := NewGate(Policy{PatternDayTradeProtect: true, PatternDayTradeMinEquity: 25_000}, nil)
	acct := Account{Equity: 10_000, IsPatternDayTrader: true, BuyingPower: 100_000}
	approval := g.Evaluate("strat-1", limitOrder("strat-1", "SPY", 1, 10), acct, 0)
	assert.False(t, approval.Approved)
}

func TestGate_InsufficientBuyingPower(t *testing.T) {
	g := NewGate(Policy{}, nil)
	acct := Account{BuyingPower: 50}
	approval := g.Evaluate("strat-1", limitOrder("strat-1", "SPY", 10, 100), acct, 0)
	assert.False(t, approval.Approved)
}

func TestGate_MarketOrderUsesReferencePrice(t *testing.T) {
	g := NewGate(Policy{MaxPositionValue: 100}, nil)
	order := &models.Order{Symbol: "SPY", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 10, ParentStrategyID: "strat-1"}
	approval := g.Evaluate("strat-1", order, Account{BuyingPower: 100_000}, 50)
	assert.False(t, approval.Approved)
}

func TestGate_ApprovesWithinAllBounds(t *testing.T) {
	g := NewGate(Policy{
		MaxPositionValue:         10_000,
		MaxDailyLossPct:          5,
		MaxOpenPositions:         5,
		PatternDayTradeProtect:   true,
		PatternDayTradeMinEquity: 25_000,
	}, nil)
	acct := Account{
		Equity:            30_000,
		StartOfDayEquity:  30_000,
		RealizedLossToday: 100,
		OpenPositionCount: 1,
		BuyingPower:       100_000,
	}
	approval := g.Evaluate("strat-1", limitOrder("strat-1", "SPY", 1, 10), acct, 0)
	assert.True(t, approval.Approved)
	assert.NoError(t, approval.Reason)
}

func TestGate_EvaluationOrderKillSwitchBeforeDuplicate(t *testing.T) {
	g := NewGate(Policy{KillSwitch: true}, nil)
	order := limitOrder("strat-1", "SPY", 1, 10)
	first := g.Evaluate("strat-1", order, Account{BuyingPower: 1000}, 0)
	second := g.Evaluate("strat-1", order, Account{BuyingPower: 1000}, 0)
	assert.False(t, first.Approved)
	assert.False(t, second.Approved)
}
