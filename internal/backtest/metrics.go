package backtest

import (
	"math"
	"time"

	"github.com/eddiefleurent/strategy-engine/internal/models"
)

// annualizationFactor assumes daily bars; §4.7 leaves the Sharpe
// annualization convention unspecified beyond "annualized mean/std",
// so this follows the teacher's daily-equity-curve assumption
// elsewhere in the codebase rather than inventing an intraday one.
const annualizationFactor = 252

// lot is one unmatched buy fill awaiting FIFO consumption by later sells.
type lot struct {
	qty   int
	price float64
	time  time.Time
}

// tradeLedger performs FIFO matching of buy/sell fills per symbol (§4.7).
// A single ledger is shared across a whole Run since a strategy's buys
// and sells for the same symbol are fungible regardless of which
// variant-specific order emitted them.
type tradeLedger struct {
	lots   []lot
	trades []models.Trade
}

func (l *tradeLedger) recordFill(symbol string, side models.Side, qty int, price float64, ts time.Time) {
	if side == models.SideBuy {
		l.lots = append(l.lots, lot{qty: qty, price: price, time: ts})
		return
	}

	remaining := qty
	for remaining > 0 && len(l.lots) > 0 {
		front := &l.lots[0]
		matched := remaining
		if front.qty < matched {
			matched = front.qty
		}
		l.trades = append(l.trades, models.Trade{
			Symbol:      symbol,
			EntryTime:   front.time,
			ExitTime:    ts,
			EntryPrice:  front.price,
			ExitPrice:   price,
			Quantity:    matched,
			RealizedPnL: (price - front.price) * float64(matched),
		})
		front.qty -= matched
		remaining -= matched
		if front.qty == 0 {
			l.lots = l.lots[1:]
		}
	}
}

// computeMetrics derives §4.7's metrics from a completed trade ledger
// and equity curve.
func computeMetrics(trades []models.Trade, curve []models.EquityPoint, initialCash float64) models.Metrics {
	var m models.Metrics
	finalEquity := initialCash
	if len(curve) > 0 {
		finalEquity = curve[len(curve)-1].Equity
	}
	m.TotalReturn = finalEquity - initialCash
	if initialCash != 0 {
		m.TotalReturnPct = m.TotalReturn / initialCash
	}

	if len(trades) > 0 {
		winners := 0
		var sumWins, sumLosses float64
		largestWin := math.Inf(-1)
		largestLoss := math.Inf(1)
		for _, tr := range trades {
			if tr.RealizedPnL > 0 {
				winners++
				sumWins += tr.RealizedPnL
				if tr.RealizedPnL > largestWin {
					largestWin = tr.RealizedPnL
				}
			} else if tr.RealizedPnL < 0 {
				sumLosses += -tr.RealizedPnL
				if tr.RealizedPnL < largestLoss {
					largestLoss = tr.RealizedPnL
				}
			}
		}
		m.WinRate = float64(winners) / float64(len(trades))
		if sumLosses == 0 {
			m.ProfitFactor = math.Inf(1)
		} else {
			m.ProfitFactor = sumWins / sumLosses
		}
		if winners > 0 {
			m.AvgWin = sumWins / float64(winners)
			m.LargestWin = largestWin
		}
		losers := len(trades) - winners
		if losers > 0 {
			m.AvgLoss = -sumLosses / float64(losers)
			m.LargestLoss = largestLoss
		}
	}

	m.MaxDrawdown, m.MaxDrawdownPct = maxDrawdown(curve)
	m.SharpeRatio = sharpeRatio(curve)
	return m
}

// maxDrawdown returns the largest peak-to-trough drop in the equity
// curve, in absolute terms and as a fraction of the peak at that point.
func maxDrawdown(curve []models.EquityPoint) (float64, float64) {
	if len(curve) == 0 {
		return 0, 0
	}
	peak := curve[0].Equity
	var maxDD, maxDDPct float64
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		dd := peak - p.Equity
		if dd > maxDD {
			maxDD = dd
			if peak != 0 {
				maxDDPct = dd / peak
			}
		}
	}
	return maxDD, maxDDPct
}

// sharpeRatio computes an annualized Sharpe ratio from per-bar equity
// returns, or nil when fewer than 30 observations are available (§4.7).
func sharpeRatio(curve []models.EquityPoint) *float64 {
	if len(curve) < 31 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity-prev)/prev)
	}
	if len(returns) < 30 {
		return nil
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return nil
	}

	sharpe := (mean / stddev) * math.Sqrt(annualizationFactor)
	return &sharpe
}
