// Package safety implements the Safety Gate (§4.2): a pure,
// side-effect-free check applied to every order before it reaches the
// router. Evaluation order is fixed — kill switch, then
// identity/duplicate, then monetary caps — and stops at the first
// failing check.
// This mirrors the teacher's RiskConfig cross-field validation in
// internal/config/config.go, generalized from static YAML bounds into a
// runtime decision made against live account state.
package safety

import (
	"fmt"
	"time"

	"github.com/eddiefleurent/strategy-engine/internal/errs"
	"github.com/eddiefleurent/strategy-engine/internal/models"
)

// Policy holds the risk bounds evaluated by the gate, one set per
// engine (not per strategy): per-strategy sizing lives on the strategy's
// variant params, account-wide caps live here (§4.2).
type Policy struct {
	KillSwitch              bool    // when true, every order is rejected
	MaxPositionValue        float64 // absolute dollar notional cap per order
	MaxDailyLossPct         float64 // percent of starting-of-day equity
	MaxOpenPositions        int     // concurrent open strategies across the book
	PatternDayTradeProtect  bool    // reject opening round-trips under PDT threshold
	PatternDayTradeMinEquity float64
	DuplicateWindow         time.Duration // §4.2 duplicate-submission window
}

// Account is the subset of broker/account state the gate needs,
// independent of any particular broker's wire format (§4.2, §4.3).
type Account struct {
	Equity             float64
	StartOfDayEquity   float64
	BuyingPower        float64
	OpenPositionCount  int
	RealizedLossToday  float64
	IsPatternDayTrader bool
}

// Approval is the gate's verdict: Approved or a rejection reason with a
// stable error code.
type Approval struct {
	Approved bool
	Reason   error
}

// Approved is a convenience constructor for the passing case.
func Approved() Approval { return Approval{Approved: true} }

// rejected builds a rejection Approval carrying a CodeSafety error.
func rejected(msg string) Approval {
	return Approval{Approved: false, Reason: errs.New(errs.CodeSafety, msg)}
}

// DuplicateTracker remembers recently submitted orders to reject
// duplicates within a fixed window (§4.2). It is a map from key to last
// submission time with no capacity limit; entries older than the window
// are pruned on every Seen call, so its size tracks the number of
// distinct keys seen within one window.
type DuplicateTracker struct {
	window  time.Duration
	entries map[string]time.Time
}

// NewDuplicateTracker creates a tracker that considers two orders
// duplicates when they share a key and arrive within window.
func NewDuplicateTracker(window time.Duration) *DuplicateTracker {
	return &DuplicateTracker{window: window, entries: make(map[string]time.Time)}
}

// Seen records key at now and reports whether an identical key was
// already seen within the window (i.e. this submission is a duplicate).
func (d *DuplicateTracker) Seen(key string, now time.Time) bool {
	last, ok := d.entries[key]
	d.entries[key] = now
	d.prune(now)
	return ok && now.Sub(last) < d.window
}

// prune drops entries older than the window so the map does not grow
// without bound across a long-running engine process.
func (d *DuplicateTracker) prune(now time.Time) {
	for k, t := range d.entries {
		if now.Sub(t) >= d.window {
			delete(d.entries, k)
		}
	}
}

// DuplicateKey derives the tracker key for an order: same strategy, same
// side, same symbol is treated as a potential duplicate regardless of
// quantity, matching §4.2's "identical intent resubmitted" definition.
func DuplicateKey(strategyID string, order *models.Order) string {
	return fmt.Sprintf("%s:%s:%s", strategyID, order.Symbol, order.Side)
}

// Gate evaluates orders against a Policy and Account snapshot.
type Gate struct {
	policy  Policy
	dup     *DuplicateTracker
	nowFunc func() time.Time
}

// NewGate constructs a Gate. nowFunc is injectable for deterministic
// backtests (§2); pass clock.Clock.Now in production.
func NewGate(policy Policy, nowFunc func() time.Time) *Gate {
	if policy.DuplicateWindow <= 0 {
		policy.DuplicateWindow = 5 * time.Second
	}
	return &Gate{
		policy:  policy,
		dup:     NewDuplicateTracker(policy.DuplicateWindow),
		nowFunc: nowFunc,
	}
}

// Evaluate runs the fixed-order safety checks for one proposed order
// against one strategy and the current account snapshot (§4.2):
//  1. kill switch
//  2. identity / duplicate submission
//  3. monetary caps (position size, daily loss, open-position count,
//     pattern day trade protection)
//
// The first failing check determines the rejection; later checks are
// never evaluated once one has failed, so a single log line always
// names the actual blocking reason.
// referencePrice is the current quote mid/last, used to value market
// orders that carry no limit/stop price of their own.
func (g *Gate) Evaluate(strategyID string, order *models.Order, acct Account, referencePrice float64) Approval {
	if g.policy.KillSwitch {
		return rejected("kill switch engaged: all order submission suspended")
	}

	if order == nil {
		return rejected("no order to evaluate")
	}

	now := time.Now()
	if g.nowFunc != nil {
		now = g.nowFunc()
	}
	if g.dup.Seen(DuplicateKey(strategyID, order), now) {
		return rejected(fmt.Sprintf("duplicate order for strategy %s within %s", strategyID, g.policy.DuplicateWindow))
	}

	notional := orderNotional(order, referencePrice)
	if g.policy.MaxPositionValue > 0 && notional > g.policy.MaxPositionValue {
		return rejected(fmt.Sprintf("order notional %.2f exceeds max position value %.2f", notional, g.policy.MaxPositionValue))
	}

	if g.policy.MaxDailyLossPct > 0 && acct.StartOfDayEquity > 0 {
		lossPct := acct.RealizedLossToday / acct.StartOfDayEquity * 100
		if lossPct >= g.policy.MaxDailyLossPct {
			return rejected(fmt.Sprintf("daily loss %.2f%% has reached the %.2f%% limit", lossPct, g.policy.MaxDailyLossPct))
		}
	}

	if g.policy.MaxOpenPositions > 0 && acct.OpenPositionCount >= g.policy.MaxOpenPositions {
		return rejected(fmt.Sprintf("open position count %d has reached the limit of %d", acct.OpenPositionCount, g.policy.MaxOpenPositions))
	}

	if g.policy.PatternDayTradeProtect && acct.IsPatternDayTrader && acct.Equity < g.policy.PatternDayTradeMinEquity {
		return rejected(fmt.Sprintf("account equity %.2f below pattern day trade minimum %.2f", acct.Equity, g.policy.PatternDayTradeMinEquity))
	}

	if notional > acct.BuyingPower {
		return rejected(fmt.Sprintf("order notional %.2f exceeds available buying power %.2f", notional, acct.BuyingPower))
	}

	return Approved()
}

// orderNotional estimates an order's dollar exposure for the purpose of
// the position-size and buying-power checks. Limit and stop orders are
// valued at their own price; market orders fall back to referencePrice
// since they carry no price of their own (§4.6).
func orderNotional(order *models.Order, referencePrice float64) float64 {
	price := referencePrice
	switch {
	case order.LimitPrice != nil:
		price = *order.LimitPrice
	case order.StopPrice != nil:
		price = *order.StopPrice
	}
	return price * float64(order.Quantity)
}
