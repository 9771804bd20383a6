// Package broker defines the capability interface the engine submits
// orders and reads quotes through (§4.3), plus two concrete
// implementations: a circuit-breaker-wrapped live adapter and a
// deterministic historical fill simulator for backtests (§4.6).
//
// The interface shape is generalized from the teacher's Broker
// interface (internal/broker/interface.go in the reference strangle
// bot), which exposed a wide surface of strangle-specific methods atop
// Tradier; here the surface is narrowed to the five capabilities every
// variant actually needs, so the same interface serves both the live
// adapter and the backtest simulator.
package broker

import (
	"context"

	"github.com/eddiefleurent/strategy-engine/internal/models"
)

// Account is the subset of brokerage account state the engine reads
// back for safety-gate evaluation and position accounting (§4.2, §4.3).
type Account struct {
	Equity            float64
	BuyingPower       float64
	OpenPositionCount int
	IsPatternDayTrader bool
}

// Broker is the capability interface routed through by internal/router
// (live) and driven directly by internal/backtest (historical). Every
// method takes a context so the retry wrapper and cooperative
// cancellation in §4.3/§4.7 apply uniformly.
type Broker interface {
	// GetQuote returns the latest quote for symbol.
	GetQuote(ctx context.Context, symbol string) (*models.Quote, error)

	// GetAccount returns the current account snapshot.
	GetAccount(ctx context.Context) (Account, error)

	// SubmitOrder places order at the broker, returning the broker's
	// view of the order (status, broker_id) on success.
	SubmitOrder(ctx context.Context, order *models.Order) (*models.Order, error)

	// CancelOrder cancels a previously submitted order by client_id.
	// Canceling an order already in a terminal state is a no-op, not
	// an error (§4.6: "canceling a filled/cancelled order is idempotent").
	CancelOrder(ctx context.Context, clientID string) error

	// GetOrderStatus returns the broker's current view of an order.
	GetOrderStatus(ctx context.Context, clientID string) (*models.Order, error)
}
