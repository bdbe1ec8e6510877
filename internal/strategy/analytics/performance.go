// Package analytics computes performance statistics over the recorded
// trade history.
package analytics

import (
	"sort"
	"time"

	"tradepilot/internal/domain"
)

// Report holds aggregate performance statistics for a set of closed trades.
type Report struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64

	GrossProfit  float64 // Sum of winning PNL
	GrossLoss    float64 // Sum of losing PNL, as a positive magnitude
	NetProfit    float64
	ProfitFactor float64 // GrossProfit / GrossLoss
	AverageWin   float64
	AverageLoss  float64 // Negative
	Expectancy   float64 // Expected PNL per trade

	MaxDrawdown          float64 // Deepest peak-to-trough equity decline, as a fraction
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageDuration      time.Duration

	FinalBalance float64
	ROI          float64

	ByReason   map[domain.CloseReason]int
	MonthlyPNL map[string]float64 // Keyed by YYYY-MM of the exit time
	Equity     []EquityPoint
}

// EquityPoint is one step of the realised equity curve.
type EquityPoint struct {
	Time     time.Time
	Balance  float64
	Drawdown float64 // Decline from the running peak, as a fraction
}

// MonthlyPNLEntry pairs a month with its realised PNL.
type MonthlyPNLEntry struct {
	Month time.Time
	PNL   float64
}

// Analyze computes a performance report from closed trades. Trades with
// zero PNL count as losses, matching the win and loss accounting of the
// risk engine. The input slice is not modified.
func Analyze(trades []*domain.Trade, initialBalance float64) *Report {
	report := &Report{
		FinalBalance: initialBalance,
		ByReason:     make(map[domain.CloseReason]int),
		MonthlyPNL:   make(map[string]float64),
		Equity:       make([]EquityPoint, 0, len(trades)),
	}
	if len(trades) == 0 {
		return report
	}

	// Realised PNL applies in close order.
	ordered := make([]*domain.Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExitTime.Before(ordered[j].ExitTime)
	})

	balance := initialBalance
	peak := initialBalance
	var winStreak, lossStreak int
	var totalDuration time.Duration

	for _, trade := range ordered {
		report.TotalTrades++
		if trade.IsWin() {
			report.WinningTrades++
			report.GrossProfit += trade.PNL
			winStreak++
			lossStreak = 0
			if winStreak > report.MaxConsecutiveWins {
				report.MaxConsecutiveWins = winStreak
			}
		} else {
			report.LosingTrades++
			report.GrossLoss += -trade.PNL
			lossStreak++
			winStreak = 0
			if lossStreak > report.MaxConsecutiveLosses {
				report.MaxConsecutiveLosses = lossStreak
			}
		}

		balance += trade.PNL
		report.NetProfit += trade.PNL
		if balance > peak {
			peak = balance
		}
		drawdown := 0.0
		if peak > 0 {
			drawdown = (peak - balance) / peak
		}
		if drawdown > report.MaxDrawdown {
			report.MaxDrawdown = drawdown
		}
		report.Equity = append(report.Equity, EquityPoint{Time: trade.ExitTime, Balance: balance, Drawdown: drawdown})

		report.ByReason[trade.CloseReason]++
		report.MonthlyPNL[trade.ExitTime.Format("2006-01")] += trade.PNL
		totalDuration += trade.ExitTime.Sub(trade.EntryTime)
	}

	report.FinalBalance = balance
	report.WinRate = float64(report.WinningTrades) / float64(report.TotalTrades)
	if report.GrossLoss > 0 {
		report.ProfitFactor = report.GrossProfit / report.GrossLoss
	}
	if report.WinningTrades > 0 {
		report.AverageWin = report.GrossProfit / float64(report.WinningTrades)
	}
	if report.LosingTrades > 0 {
		report.AverageLoss = -report.GrossLoss / float64(report.LosingTrades)
	}
	report.Expectancy = report.WinRate*report.AverageWin + (1-report.WinRate)*report.AverageLoss
	report.AverageDuration = totalDuration / time.Duration(report.TotalTrades)
	if initialBalance > 0 {
		report.ROI = (report.FinalBalance - initialBalance) / initialBalance
	}
	return report
}

// MonthlySeries returns the monthly PNL as a chronologically sorted slice.
func (r *Report) MonthlySeries() []MonthlyPNLEntry {
	series := make([]MonthlyPNLEntry, 0, len(r.MonthlyPNL))
	for month, pnl := range r.MonthlyPNL {
		date, err := time.Parse("2006-01", month)
		if err != nil {
			continue
		}
		series = append(series, MonthlyPNLEntry{Month: date, PNL: pnl})
	}
	sort.Slice(series, func(i, j int) bool {
		return series[i].Month.Before(series[j].Month)
	})
	return series
}
