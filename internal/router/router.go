// Package router implements the Order Router (§4.3): a single surface
// — submit, cancel, status, quote — in front of either a live or
// historical Broker, with submission idempotency and an audit record
// appended before every state-changing call returns. It generalizes
// the teacher's internal/orders.Manager (broker + storage + logger,
// context-bounded calls) by replacing the position-polling loop with
// an idempotency cache and routing submit, cancel and quote calls
// through the generic internal/retry client instead of a single
// close-position method.
package router

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eddiefleurent/strategy-engine/internal/audit"
	brokerpkg "github.com/eddiefleurent/strategy-engine/internal/broker"
	"github.com/eddiefleurent/strategy-engine/internal/errs"
	"github.com/eddiefleurent/strategy-engine/internal/models"
	"github.com/eddiefleurent/strategy-engine/internal/retry"
)

// DefaultCallTimeout bounds a single broker I/O call (§5: "a per-call
// timeout bounds each I/O").
const DefaultCallTimeout = 5 * time.Second

// DefaultIdempotencyCacheSize caps the number of remembered client_ids,
// an LRU bound so a long-running engine's memory stays fixed regardless
// of order volume (supplemented feature, not named verbatim in §4.3 but
// required by it: "submit with a previously seen client_id returns the
// existing snapshot").
const DefaultIdempotencyCacheSize = 10_000

// Router fronts a Broker with idempotent submission and audit-before-
// return semantics.
type Router struct {
	broker      brokerpkg.Broker
	audit       *audit.Log
	retryClient *retry.Client
	callTimeout time.Duration

	cacheMu   sync.Mutex
	cache     map[string]*list.Element // client_id -> lru element
	lru       *list.List               // front = most recently used
	cacheSize int
}

type cacheEntry struct {
	clientID string
	order    *models.Order
}

// New constructs a Router. retryClient may be nil to use retry defaults.
func New(broker brokerpkg.Broker, auditLog *audit.Log, retryClient *retry.Client, callTimeout time.Duration) *Router {
	if retryClient == nil {
		retryClient = retry.NewClient(nil)
	}
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Router{
		broker:      broker,
		audit:       auditLog,
		retryClient: retryClient,
		callTimeout: callTimeout,
		cache:       make(map[string]*list.Element),
		lru:         list.New(),
		cacheSize:   DefaultIdempotencyCacheSize,
	}
}

// Submit places order, returning the existing snapshot if client_id was
// already submitted (§4.3 idempotency). An audit record is appended
// before Submit returns, whether the call is new or a cache hit.
func (r *Router) Submit(ctx context.Context, strategyID string, order *models.Order) (*models.Order, error) {
	if cached := r.cacheGet(order.ClientID); cached != nil {
		r.appendAudit(strategyID, "submit", order.ClientID, true, nil)
		return cached, nil
	}

	var result *models.Order
	err := r.retryClient.Do(ctx, "submit order", func(opCtx context.Context) error {
		resp, err := r.broker.SubmitOrder(opCtx, order)
		if err != nil {
			return err
		}
		result = resp
		return nil
	})

	r.appendAudit(strategyID, "submit", order.ClientID, false, err)
	if err != nil {
		return nil, fmt.Errorf("router: submit order %s: %w", order.ClientID, err)
	}
	r.cachePut(order.ClientID, result)
	return result, nil
}

// Cancel cancels an order by client_id. Canceling an already-terminal
// order is a no-op at the broker layer; the router still audits the
// call (§4.3).
func (r *Router) Cancel(ctx context.Context, strategyID, clientID string) error {
	err := r.retryClient.Do(ctx, "cancel order", func(opCtx context.Context) error {
		return r.broker.CancelOrder(opCtx, clientID)
	})
	r.appendAudit(strategyID, "cancel", clientID, false, err)
	if err != nil {
		return fmt.Errorf("router: cancel order %s: %w", clientID, err)
	}
	r.invalidateCache(clientID)
	return nil
}

// Status returns the broker's current view of an order. Status reads
// are not audited (§4.3 audits state-changing calls only) and are not
// retried, since a polling caller will simply ask again next cycle.
func (r *Router) Status(ctx context.Context, clientID string) (*models.Order, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	order, err := r.broker.GetOrderStatus(callCtx, clientID)
	if err != nil {
		return nil, fmt.Errorf("router: status %s: %w", clientID, err)
	}
	return order, nil
}

// Quote returns the latest quote for symbol, retrying transient
// failures through the retry client; each attempt is bounded by the
// per-call timeout.
func (r *Router) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	var quote *models.Quote
	err := r.retryClient.Do(ctx, "get quote", func(opCtx context.Context) error {
		callCtx, cancel := context.WithTimeout(opCtx, r.callTimeout)
		defer cancel()
		resp, err := r.broker.GetQuote(callCtx, symbol)
		if err != nil {
			return err
		}
		quote = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("router: quote %s: %w", symbol, err)
	}
	return quote, nil
}

func (r *Router) appendAudit(strategyID, action, clientID string, cacheHit bool, callErr error) {
	if r.audit == nil {
		return
	}
	rec := models.AuditRecord{
		StrategyID: strategyID,
		Action:     action,
		OrderID:    clientID,
		Source:     models.AuditSourceEngine,
	}
	if cacheHit {
		rec.Detail = "idempotent replay"
	}
	if callErr != nil {
		code := errs.CodeBrokerPermanent
		var tagged *errs.Error
		if errors.As(callErr, &tagged) {
			code = tagged.Code
		}
		rec.Error = &models.AuditError{Code: string(code), Message: callErr.Error()}
	}
	// Audit append failures mark the log unhealthy but never roll back
	// the action itself (§4.8); the router has no rollback to perform.
	_ = r.audit.Append(rec)
}

// cacheGet returns a cached order snapshot for clientID, or nil on miss,
// promoting the entry to most-recently-used on hit.
func (r *Router) cacheGet(clientID string) *models.Order {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	el, ok := r.cache[clientID]
	if !ok {
		return nil
	}
	r.lru.MoveToFront(el)
	return el.Value.(*cacheEntry).order
}

// cachePut inserts or updates a cache entry, evicting the least
// recently used entry if the cache is at capacity.
func (r *Router) cachePut(clientID string, order *models.Order) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if el, ok := r.cache[clientID]; ok {
		el.Value.(*cacheEntry).order = order
		r.lru.MoveToFront(el)
		return
	}
	el := r.lru.PushFront(&cacheEntry{clientID: clientID, order: order})
	r.cache[clientID] = el
	for r.lru.Len() > r.cacheSize {
		oldest := r.lru.Back()
		if oldest == nil {
			break
		}
		r.lru.Remove(oldest)
		delete(r.cache, oldest.Value.(*cacheEntry).clientID)
	}
}

func (r *Router) invalidateCache(clientID string) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if el, ok := r.cache[clientID]; ok {
		r.lru.Remove(el)
		delete(r.cache, clientID)
	}
}
