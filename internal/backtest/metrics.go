package backtest

import (
	"math"
	"time"

	"trade-engine/internal/trade"
)

// Metrics 记录回测绩效指标。
type Metrics struct {
	TotalReturn float64
	MaxDrawdown float64
	SharpeRatio float64
	WinRate     float64
	TradeCount  int
}

func calculateMetrics(equity []float64, returns []float64, closed []trade.ClosedTrade, step time.Duration) Metrics {
	if len(equity) == 0 {
		return Metrics{TradeCount: len(closed)}
	}

	initial := equity[0]
	final := equity[len(equity)-1]
	totalReturn := 0.0
	if initial > 0 {
		totalReturn = final/initial - 1
	}

	wins := 0
	for _, t := range closed {
		if t.PnL.IsPositive() {
			wins++
		}
	}
	winRate := 0.0
	if len(closed) > 0 {
		winRate = float64(wins) / float64(len(closed))
	}

	return Metrics{
		TotalReturn: totalReturn,
		MaxDrawdown: computeDrawdown(equity),
		SharpeRatio: computeSharpe(returns, step),
		WinRate:     winRate,
		TradeCount:  len(closed),
	}
}

func computeDrawdown(equity []float64) float64 {
	var peak float64
	maxDD := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		dd := (v - peak) / peak
		if dd < maxDD {
			maxDD = dd
		}
	}
	return math.Abs(maxDD)
}

func computeSharpe(returns []float64, step time.Duration) float64 {
	if len(returns) == 0 {
		return 0
	}
	if step <= 0 {
		step = time.Hour
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	if len(returns) > 1 {
		variance /= float64(len(returns) - 1)
	}

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}

	// 按回测周期换算年化：sqrt(一年的步数)。
	annualFactor := math.Sqrt(float64(365*24*time.Hour) / float64(step))
	return (mean / std) * annualFactor
}
