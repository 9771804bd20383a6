package models

import "time"

// EquityPoint is one time-indexed sample of the equity curve.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// Trade is a matched entry/exit pair produced by FIFO matching per symbol (§4.7).
type Trade struct {
	Symbol        string    `json:"symbol"`
	EntryTime     time.Time `json:"entry_time"`
	ExitTime      time.Time `json:"exit_time"`
	EntryPrice    float64   `json:"entry_price"`
	ExitPrice     float64   `json:"exit_price"`
	Quantity      int       `json:"quantity"`
	RealizedPnL   float64   `json:"realized_pnl"`
}

// Metrics holds the derived performance figures from §4.7. ProfitFactor
// is +Inf when the sum of losses is zero; SharpeRatio is nil when fewer
// than 30 per-bar return observations are available.
type Metrics struct {
	TotalReturn    float64  `json:"total_return"`
	TotalReturnPct float64  `json:"total_return_pct"`
	WinRate        float64  `json:"win_rate"`
	ProfitFactor   float64  `json:"profit_factor"`
	MaxDrawdown    float64  `json:"max_drawdown"`
	MaxDrawdownPct float64  `json:"max_drawdown_pct"`
	AvgWin         float64  `json:"avg_win"`
	AvgLoss        float64  `json:"avg_loss"`
	LargestWin     float64  `json:"largest_win"`
	LargestLoss    float64  `json:"largest_loss"`
	SharpeRatio    *float64 `json:"sharpe_ratio,omitempty"`
}

// FailureMode captures a structured backtest failure (§4.7: "surface as
// structured result fields, not exceptions that lose partial ledger").
type FailureMode string

// Backtest failure modes.
const (
	FailureNone              FailureMode = ""
	FailureNoData            FailureMode = "no_data"
	FailureStrategyRejected  FailureMode = "strategy_rejected"
)

// BacktestResult is the immutable output of one backtest run (§3, §6).
type BacktestResult struct {
	ID           string        `json:"id"`
	Symbol       string        `json:"symbol"`
	Variant      Variant       `json:"variant"`
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	InitialCash  float64       `json:"initial_cash"`
	FinalEquity  float64       `json:"final_equity"`
	Metrics      Metrics       `json:"metrics"`
	Trades       []Trade       `json:"trades"`
	EquityCurve  []EquityPoint `json:"equity_curve"`
	Failure      FailureMode   `json:"failure,omitempty"`
	FailureError string        `json:"failure_error,omitempty"`
}
