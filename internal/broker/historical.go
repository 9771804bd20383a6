package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/eddiefleurent/strategy-engine/internal/errs"
	"github.com/eddiefleurent/strategy-engine/internal/models"
)

// FillAdjustment lets a caller apply a per-trade commission or slippage
// adjustment atop the simulator's mechanical fill price. Both are zero
// in the default simulator (§4.6: "Commission and slippage are zero in
// v1 but the accounting surface must accept per-trade adjustments").
type FillAdjustment func(order *models.Order, fillPrice float64) float64

// HistoricalBroker answers the Broker surface against a bar iterator
// instead of a live venue, so internal/evaluator runs unmodified in a
// backtest (§2, §4.6). It is not safe for concurrent use by more than
// one goroutine; internal/backtest drives it from a single loop per
// the engine's single-threaded-cooperative model (§5).
type HistoricalBroker struct {
	mu sync.Mutex

	symbol string
	bar    models.Bar
	cash   float64

	openOrders map[string]*models.Order // client_id -> order, pending/accepted
	allOrders  map[string]*models.Order // client_id -> terminal copy too, for status lookups
	watermarks map[string]float64       // client_id -> trailing-stop high watermark

	adjustment FillAdjustment

	positionQty int // net open quantity in symbol, signed: +long, -short
}

// NewHistoricalBroker creates a simulator seeded with initialCash and
// positioned on symbol. AdvanceBar must be called once per bar before
// GetQuote/SubmitOrder reflect that bar's prices.
func NewHistoricalBroker(symbol string, initialCash float64, adjustment FillAdjustment) *HistoricalBroker {
	if adjustment == nil {
		adjustment = func(_ *models.Order, fillPrice float64) float64 { return fillPrice }
	}
	return &HistoricalBroker{
		symbol:     symbol,
		cash:       initialCash,
		openOrders: make(map[string]*models.Order),
		allOrders:  make(map[string]*models.Order),
		watermarks: make(map[string]float64),
		adjustment: adjustment,
	}
}

// AdvanceBar moves the simulator to the next bar and resolves every
// open order against it, in the fixed order {stop trigger, limit fill,
// market fill, trailing update} (§4.6). It returns the client_ids that
// transitioned to filled this bar, for the driver to re-query status.
func (h *HistoricalBroker) AdvanceBar(bar models.Bar) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bar = bar

	var filled []string
	fill := func(order *models.Order, price float64) {
		order.FilledQty = order.Quantity
		order.AvgFillPrice = h.adjustment(order, price)
		order.Status = models.OrderStatusFilled
		h.settleCash(order)
		delete(h.openOrders, order.ClientID)
		filled = append(filled, order.ClientID)
	}

	for _, order := range h.sortedOpenOrders() {
		switch order.Type {
		case models.OrderTypeStop:
			h.resolveStop(order, bar, fill)
		case models.OrderTypeLimit:
			h.resolveLimit(order, bar, fill)
		case models.OrderTypeMarket:
			fill(order, bar.Close)
		case models.OrderTypeTrailingStop:
			h.resolveTrailingStop(order, bar, fill)
		}
	}
	return filled
}

// sortedOpenOrders returns open orders ordered {stop, limit, market,
// trailing_stop} to satisfy §4.6's bar-boundary ordering within a
// single AdvanceBar call, independent of map iteration order.
func (h *HistoricalBroker) sortedOpenOrders() []*models.Order {
	order := []models.OrderType{
		models.OrderTypeStop,
		models.OrderTypeLimit,
		models.OrderTypeMarket,
		models.OrderTypeTrailingStop,
	}
	var result []*models.Order
	for _, t := range order {
		for _, o := range h.openOrders {
			if o.Type == t {
				result = append(result, o)
			}
		}
	}
	return result
}

func (h *HistoricalBroker) resolveStop(order *models.Order, bar models.Bar, fill func(*models.Order, float64)) {
	if order.StopPrice == nil {
		return
	}
	s := *order.StopPrice
	if order.Side == models.SideBuy {
		if bar.High >= s {
			fill(order, max(s, bar.Open))
		}
		return
	}
	if bar.Low <= s {
		fill(order, min(s, bar.Open))
	}
}

func (h *HistoricalBroker) resolveLimit(order *models.Order, bar models.Bar, fill func(*models.Order, float64)) {
	if order.LimitPrice == nil {
		return
	}
	l := *order.LimitPrice
	if order.Side == models.SideBuy {
		if bar.Low <= l {
			fill(order, min(l, bar.Open))
		}
		return
	}
	if bar.High >= l {
		fill(order, max(l, bar.Open))
	}
}

func (h *HistoricalBroker) resolveTrailingStop(order *models.Order, bar models.Bar, fill func(*models.Order, float64)) {
	if order.StopPrice == nil {
		return
	}
	trailingPct := *order.StopPrice // trailing_pct encoded in StopPrice field, see SubmitOrder doc
	w := h.watermarks[order.ClientID]
	if bar.High > w {
		w = bar.High
	}
	h.watermarks[order.ClientID] = w
	trigger := w * (1 - trailingPct)
	if bar.Low <= trigger {
		fill(order, min(trigger, bar.Open))
	}
}

func (h *HistoricalBroker) settleCash(order *models.Order) {
	notional := order.AvgFillPrice * float64(order.FilledQty)
	if order.Side == models.SideBuy {
		h.cash -= notional
		h.positionQty += order.FilledQty
	} else {
		h.cash += notional
		h.positionQty -= order.FilledQty
	}
}

// Cash returns the simulator's current cash balance.
func (h *HistoricalBroker) Cash() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cash
}

// PositionQty returns the simulator's current net open quantity.
func (h *HistoricalBroker) PositionQty() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.positionQty
}

// GetQuote implements Broker: last/high/low of the most recently
// advanced bar (§4.7: "Quote derived from the bar").
func (h *HistoricalBroker) GetQuote(_ context.Context, symbol string) (*models.Quote, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	q := models.QuoteFromBar(symbol, h.bar)
	return &q, nil
}

// GetAccount implements Broker.
func (h *HistoricalBroker) GetAccount(_ context.Context) (Account, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	equity := h.cash + float64(h.positionQty)*h.bar.Close
	return Account{
		Equity:             equity,
		BuyingPower:        h.cash,
		OpenPositionCount:  boolToInt(h.positionQty != 0),
		IsPatternDayTrader: false,
	}, nil
}

// SubmitOrder implements Broker, honoring submit idempotency by
// client_id (§4.3): resubmitting an already-known order returns its
// current snapshot instead of creating a second one. Trailing-stop
// orders encode trailing_pct in StopPrice (a fraction, not a price) and
// the evaluator's own watermark in TrailingWatermark, by convention of
// this simulator, matching how the evaluator emits them.
func (h *HistoricalBroker) SubmitOrder(_ context.Context, order *models.Order) (*models.Order, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.allOrders[order.ClientID]; ok {
		return existing, nil
	}

	placed := *order
	placed.Status = models.OrderStatusAccepted
	h.allOrders[order.ClientID] = &placed

	switch placed.Type {
	case models.OrderTypeMarket:
		placed.FilledQty = placed.Quantity
		placed.AvgFillPrice = h.adjustment(&placed, h.bar.Close)
		placed.Status = models.OrderStatusFilled
		h.settleCash(&placed)
	case models.OrderTypeTrailingStop:
		// The evaluator only ever emits this once its own watermark
		// trigger has already fired against the current bar's low
		// (internal/evaluator/trailing_stop.go), so resolve it against
		// this same bar rather than deferring to the next AdvanceBar
		// call, which would test only bars the order was never exposed
		// to and desync from the evaluator's own watermark history. Guard
		// on a bar actually having been advanced yet: submitting before
		// the first AdvanceBar would otherwise resolve against a
		// zero-valued bar and fill spuriously at a zero price.
		h.seedWatermark(&placed)
		if !h.bar.Timestamp.IsZero() {
			h.resolveTrailingStop(&placed, h.bar, func(o *models.Order, price float64) {
				o.FilledQty = o.Quantity
				o.AvgFillPrice = h.adjustment(o, price)
				o.Status = models.OrderStatusFilled
				h.settleCash(o)
			})
		}
		if placed.Status != models.OrderStatusFilled {
			h.openOrders[placed.ClientID] = &placed
		}
	default:
		h.openOrders[placed.ClientID] = &placed
	}
	return &placed, nil
}

// seedWatermark initializes a trailing-stop order's broker-side
// watermark from the evaluator's own tracked high, the first time the
// order is seen, instead of letting resolveTrailingStop's zero-valued
// map default erase the watermark history accumulated before this
// order existed.
func (h *HistoricalBroker) seedWatermark(order *models.Order) {
	if order.TrailingWatermark == nil {
		return
	}
	if _, seeded := h.watermarks[order.ClientID]; !seeded {
		h.watermarks[order.ClientID] = *order.TrailingWatermark
	}
}

// CancelOrder implements Broker. Canceling a terminal order is a no-op
// (§4.6).
func (h *HistoricalBroker) CancelOrder(_ context.Context, clientID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	order, ok := h.allOrders[clientID]
	if !ok {
		return errs.New(errs.CodeNotFound, fmt.Sprintf("no such order: %s", clientID))
	}
	if order.Status.IsTerminal() {
		return nil
	}
	order.Status = models.OrderStatusCancelled
	delete(h.openOrders, clientID)
	return nil
}

// GetOrderStatus implements Broker.
func (h *HistoricalBroker) GetOrderStatus(_ context.Context, clientID string) (*models.Order, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	order, ok := h.allOrders[clientID]
	if !ok {
		return nil, errs.New(errs.CodeNotFound, fmt.Sprintf("no such order: %s", clientID))
	}
	copyOrder := *order
	return &copyOrder, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
