package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eddiefleurent/strategy-engine/internal/errs"
	"github.com/eddiefleurent/strategy-engine/internal/models"
)

// apiError mirrors the teacher's APIError: status code plus raw body,
// classified into a retryable/permanent errs.Code by statusCode.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("tradier: API error %d: %s", e.Status, e.Body)
}

func (e *apiError) code() errs.Code {
	switch {
	case e.Status == http.StatusTooManyRequests:
		return errs.CodeRateLimit
	case e.Status >= 500:
		return errs.CodeBrokerTransient
	default:
		return errs.CodeBrokerPermanent
	}
}

// TradierClient implements Broker against Tradier's equity trading
// REST API. It is a narrowed generalization of the teacher's TradierAPI
// (internal/broker/tradier.go in the reference strangle bot): same
// bearer-auth/form-encoded POST/JSON-decode request shape, but reduced
// to the five Broker methods every variant needs — plain equity orders
// (class=equity) rather than the teacher's multi-leg option strangles.
type TradierClient struct {
	client    *http.Client
	apiKey    string
	accountID string
	baseURL   string

	// brokerIDs maps client_id (the "tag" field submitted with every
	// order) to Tradier's own numeric order id, since Tradier indexes
	// orders by broker id, not the client id the router/engine use.
	idMu      sync.Mutex
	brokerIDs map[string]string
}

// NewTradierClient constructs a client against the sandbox or
// production Tradier host depending on sandbox.
func NewTradierClient(apiKey, accountID string, sandbox bool, timeout time.Duration) *TradierClient {
	baseURL := "https://api.tradier.com/v1"
	if sandbox {
		baseURL = "https://sandbox.tradier.com/v1"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TradierClient{
		client:    &http.Client{Timeout: timeout},
		apiKey:    apiKey,
		accountID: accountID,
		baseURL:   baseURL,
		brokerIDs: make(map[string]string),
	}
}

func (t *TradierClient) rememberBrokerID(clientID, brokerID string) {
	t.idMu.Lock()
	t.brokerIDs[clientID] = brokerID
	t.idMu.Unlock()
}

func (t *TradierClient) lookupBrokerID(clientID string) (string, bool) {
	t.idMu.Lock()
	defer t.idMu.Unlock()
	id, ok := t.brokerIDs[clientID]
	return id, ok
}

type quotesResponse struct {
	Quotes struct {
		Quote singleOrArray[quoteItem] `json:"quote"`
	} `json:"quotes"`
}

type quoteItem struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
}

// singleOrArray accepts Tradier's "object-or-array-of-objects" JSON
// shape, the same ambiguity the teacher's singleOrArray[T] handles.
type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '[' {
		return json.Unmarshal(b, (*[]T)(s))
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = []T{one}
	return nil
}

// GetQuote implements Broker.
func (t *TradierClient) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	params := url.Values{}
	params.Set("symbols", symbol)
	params.Set("greeks", "false")

	var resp quotesResponse
	if err := t.doRequest(ctx, http.MethodGet, t.baseURL+"/markets/quotes?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Quotes.Quote) == 0 {
		return nil, errs.New(errs.CodeNotFound, fmt.Sprintf("no quote found for symbol: %s", symbol))
	}
	q := resp.Quotes.Quote[0]
	return &models.Quote{Symbol: q.Symbol, Last: q.Last, High: q.High, Low: q.Low, Timestamp: time.Now()}, nil
}

type balanceResponse struct {
	Balances struct {
		TotalEquity        float64 `json:"total_equity"`
		AccountType        string  `json:"account_type"`
		PendingOrdersCount int     `json:"pending_orders_count"`
		Margin             *struct {
			StockBuyingPower float64 `json:"stock_buying_power"`
		} `json:"margin"`
		Cash *struct {
			CashAvailable float64 `json:"cash_available"`
		} `json:"cash"`
		PDT *struct {
			StockBuyingPower float64 `json:"stock_buying_power"`
		} `json:"pdt"`
	} `json:"balances"`
}

// GetAccount implements Broker.
func (t *TradierClient) GetAccount(ctx context.Context) (Account, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/balances", t.baseURL, t.accountID)
	var resp balanceResponse
	if err := t.doRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return Account{}, err
	}

	var buyingPower float64
	switch resp.Balances.AccountType {
	case "margin":
		if resp.Balances.Margin != nil {
			buyingPower = resp.Balances.Margin.StockBuyingPower
		}
	case "pdt":
		if resp.Balances.PDT != nil {
			buyingPower = resp.Balances.PDT.StockBuyingPower
		}
	case "cash":
		if resp.Balances.Cash != nil {
			buyingPower = resp.Balances.Cash.CashAvailable
		}
	}

	positions, err := t.getPositionCount(ctx)
	if err != nil {
		positions = 0
	}

	return Account{
		Equity:             resp.Balances.TotalEquity,
		BuyingPower:        buyingPower,
		OpenPositionCount:  positions,
		IsPatternDayTrader: resp.Balances.AccountType == "pdt",
	}, nil
}

type positionsResponse struct {
	Positions struct {
		Position singleOrArray[struct{}] `json:"position"`
	} `json:"positions"`
}

func (t *TradierClient) getPositionCount(ctx context.Context) (int, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/positions", t.baseURL, t.accountID)
	var resp positionsResponse
	if err := t.doRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return 0, err
	}
	return len(resp.Positions.Position), nil
}

type orderResponse struct {
	Order struct {
		ID           int     `json:"id"`
		Status       string  `json:"status"`
		AvgFillPrice float64 `json:"avg_fill_price"`
		ExecQuantity float64 `json:"exec_quantity"`
	} `json:"order"`
}

// SubmitOrder implements Broker. Equity market/limit/stop orders only
// (§2's Non-goals exclude multi-leg/options routing for this engine).
func (t *TradierClient) SubmitOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	params := url.Values{}
	params.Set("class", "equity")
	params.Set("symbol", order.Symbol)
	params.Set("side", string(order.Side))
	params.Set("quantity", strconv.Itoa(order.Quantity))
	params.Set("type", tradierOrderType(order.Type))
	params.Set("duration", "day")
	params.Set("tag", order.ClientID)
	if order.LimitPrice != nil {
		params.Set("price", strconv.FormatFloat(*order.LimitPrice, 'f', 2, 64))
	}
	// OrderTypeTrailingStop's StopPrice carries trailing_pct (a fraction),
	// not a price, by the evaluator's own convention (see
	// internal/evaluator/trailing_stop.go); tradierOrderType already
	// routes it to a plain market order below, so it must never reach
	// Tradier's "stop" price param or it would submit e.g. stop=0.05
	// against a live account.
	if order.StopPrice != nil && order.Type == models.OrderTypeStop {
		params.Set("stop", strconv.FormatFloat(*order.StopPrice, 'f', 2, 64))
	}

	endpoint := fmt.Sprintf("%s/accounts/%s/orders", t.baseURL, t.accountID)
	var resp orderResponse
	if err := t.doRequest(ctx, http.MethodPost, endpoint, params, &resp); err != nil {
		return nil, err
	}

	placed := *order
	placed.BrokerID = strconv.Itoa(resp.Order.ID)
	placed.Status = tradierOrderStatus(resp.Order.Status)
	placed.FilledQty = int(resp.Order.ExecQuantity)
	placed.AvgFillPrice = resp.Order.AvgFillPrice
	t.rememberBrokerID(order.ClientID, placed.BrokerID)
	return &placed, nil
}

// CancelOrder implements Broker. Cancelling an already-terminal order
// is idempotent (§4.6): the order's status is fetched first and no
// DELETE is sent for a filled/cancelled order. An error from the
// status lookup or from the DELETE itself is returned.
func (t *TradierClient) CancelOrder(ctx context.Context, clientID string) error {
	status, err := t.GetOrderStatus(ctx, clientID)
	if err != nil {
		return err
	}
	if status.Status.IsTerminal() {
		return nil
	}
	endpoint := fmt.Sprintf("%s/accounts/%s/orders/%s", t.baseURL, t.accountID, status.BrokerID)
	return t.doRequest(ctx, http.MethodDelete, endpoint, nil, nil)
}

// GetOrderStatus implements Broker. Tradier indexes orders by its own
// numeric broker_id rather than the client_id an order was submitted
// under, so the client maintains its own client_id -> broker_id map,
// populated in SubmitOrder; a client_id unknown to this process (e.g.
// after a restart) is reported not-found rather than guessed at.
func (t *TradierClient) GetOrderStatus(ctx context.Context, clientID string) (*models.Order, error) {
	brokerID, ok := t.lookupBrokerID(clientID)
	if !ok {
		return nil, errs.New(errs.CodeNotFound, "tradier: no broker order known for client_id: "+clientID)
	}

	endpoint := fmt.Sprintf("%s/accounts/%s/orders/%s", t.baseURL, t.accountID, brokerID)
	var resp orderResponse
	if err := t.doRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}

	return &models.Order{
		ClientID:     clientID,
		BrokerID:     brokerID,
		Status:       tradierOrderStatus(resp.Order.Status),
		FilledQty:    int(resp.Order.ExecQuantity),
		AvgFillPrice: resp.Order.AvgFillPrice,
	}, nil
}

func tradierOrderType(t models.OrderType) string {
	switch t {
	case models.OrderTypeLimit:
		return "limit"
	case models.OrderTypeStop:
		return "stop"
	case models.OrderTypeTrailingStop:
		// The evaluator emits this only once its own high-watermark
		// trigger has already fired (§4.5: "pure" evaluator shared by
		// live and backtest); by the time it reaches the broker the exit
		// is a decided market sell, not a resting trigger for Tradier to
		// track, and its StopPrice is a trailing_pct fraction rather than
		// a price Tradier's "stop" param would accept.
		return "market"
	default:
		return "market"
	}
}

func tradierOrderStatus(s string) models.OrderStatus {
	switch strings.ToLower(s) {
	case "filled":
		return models.OrderStatusFilled
	case "partially_filled":
		return models.OrderStatusPartial
	case "canceled", "cancelled":
		return models.OrderStatusCancelled
	case "rejected", "error":
		return models.OrderStatusRejected
	case "open", "pending":
		return models.OrderStatusAccepted
	default:
		return models.OrderStatusPending
	}
}

func (t *TradierClient) doRequest(ctx context.Context, method, endpoint string, params url.Values, out interface{}) error {
	var req *http.Request
	var err error
	if method == http.MethodPost && params != nil {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
		if err != nil {
			return err
		}
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "strategy-engine/1.0 (+tradier)")

	resp, err := t.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.CodeBrokerTransient, "tradier: request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated &&
		resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &apiError{Status: resp.StatusCode, Body: string(body)}
		return errs.Wrap(apiErr.code(), apiErr.Error(), apiErr)
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil && err != io.EOF {
		return errs.Wrap(errs.CodeBrokerPermanent, "tradier: decoding response", err)
	}
	return nil
}
