package broker

import (
	"context"
	"time"

	"github.com/eddiefleurent/strategy-engine/internal/errs"
	"github.com/eddiefleurent/strategy-engine/internal/models"
	"github.com/sony/gobreaker"
)

// CircuitBreakerSettings configures the gobreaker wrapping a live
// broker, generalized from the teacher's CircuitBreakerSettings
// (internal/broker/interface_test.go) into exported, documented fields.
type CircuitBreakerSettings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// DefaultCircuitBreakerSettings trips once at least half of at least 5
// requests in a rolling window fail, and probes again after a cooldown.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  1,
	Interval:     30 * time.Second,
	Timeout:      60 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.5,
}

// CircuitBreakerBroker wraps a live Broker in a gobreaker circuit
// breaker so a struggling upstream fails fast instead of piling up
// blocked goroutines (§4.3: "broker unavailability is isolated per call,
// not allowed to wedge the evaluation loop").
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakerBroker wraps broker with DefaultCircuitBreakerSettings.
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, DefaultCircuitBreakerSettings)
}

// NewCircuitBreakerBrokerWithSettings wraps broker with explicit settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	st := gobreaker.Settings{
		Name:        "broker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
	}
	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

// execute runs fn through the breaker, translating a tripped breaker
// into a CodeBrokerTransient taxonomy error so internal/retry and
// internal/router treat it the same as any other transient failure.
func execute[T any](cb *CircuitBreakerBroker, fn func() (T, error)) (T, error) {
	result, err := cb.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	var zero T
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return zero, errs.Wrap(errs.CodeBrokerTransient, "broker circuit breaker open", err)
		}
		return zero, err
	}
	return result.(T), nil
}

// GetQuote implements Broker.
func (cb *CircuitBreakerBroker) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	return execute(cb, func() (*models.Quote, error) { return cb.broker.GetQuote(ctx, symbol) })
}

// GetAccount implements Broker.
func (cb *CircuitBreakerBroker) GetAccount(ctx context.Context) (Account, error) {
	return execute(cb, func() (Account, error) { return cb.broker.GetAccount(ctx) })
}

// SubmitOrder implements Broker.
func (cb *CircuitBreakerBroker) SubmitOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	return execute(cb, func() (*models.Order, error) { return cb.broker.SubmitOrder(ctx, order) })
}

// CancelOrder implements Broker.
func (cb *CircuitBreakerBroker) CancelOrder(ctx context.Context, clientID string) error {
	_, err := execute(cb, func() (struct{}, error) { return struct{}{}, cb.broker.CancelOrder(ctx, clientID) })
	return err
}

// GetOrderStatus implements Broker.
func (cb *CircuitBreakerBroker) GetOrderStatus(ctx context.Context, clientID string) (*models.Order, error) {
	return execute(cb, func() (*models.Order, error) { return cb.broker.GetOrderStatus(ctx, clientID) })
}

// State exposes the breaker's current state for status reporting.
func (cb *CircuitBreakerBroker) State() gobreaker.State {
	return cb.breaker.State()
}
