package models

import (
	"fmt"
	"time"
)

// Bar is one OHLCV tuple for a symbol. §3: low <= open <= high,
// low <= close <= high, timestamps strictly monotonic per symbol.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Validate checks the bar's internal OHLC consistency.
func (b Bar) Validate() error {
	if b.Low > b.Open || b.Open > b.High {
		return fmt.Errorf("bar %s: open %.4f not within [low %.4f, high %.4f]", b.Timestamp, b.Open, b.Low, b.High)
	}
	if b.Low > b.Close || b.Close > b.High {
		return fmt.Errorf("bar %s: close %.4f not within [low %.4f, high %.4f]", b.Timestamp, b.Close, b.Low, b.High)
	}
	if b.Low > b.High {
		return fmt.Errorf("bar %s: low %.4f exceeds high %.4f", b.Timestamp, b.Low, b.High)
	}
	return nil
}

// Quote is the evaluator's market-data input, derived either from a live
// broker tick or from a backtest bar (§4.7: last:=c, high:=h, low:=l).
type Quote struct {
	Symbol    string    `json:"symbol"`
	Last      float64   `json:"last"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Timestamp time.Time `json:"timestamp"`
}

// QuoteFromBar derives a Quote from one bar per §4.7.
func QuoteFromBar(symbol string, b Bar) Quote {
	return Quote{
		Symbol:    symbol,
		Last:      b.Close,
		High:      b.High,
		Low:       b.Low,
		Timestamp: b.Timestamp,
	}
}
