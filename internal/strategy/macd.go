package strategy

import (
	"fmt"
	"math"

	"trade-engine/internal/indicator"
	"trade-engine/internal/marketdata"
)

// MACDTrend 为趋势跟随策略：MACD 柱由负转正且收盘站上 EMA50 时买入，
// 柱由正转负时卖出。ADX 与成交量比过滤震荡段，布林带位置过滤追高，
// 止损止盈按 ATR 相对值自适应。
type MACDTrend struct {
	minADX     float64
	calculator *indicator.Calculator
}

// NewMACDTrend 创建 MACD 趋势策略。
func NewMACDTrend(minADX float64) *MACDTrend {
	if minADX <= 0 {
		minADX = 20
	}
	return &MACDTrend{
		minADX:     minADX,
		calculator: indicator.NewCalculator(),
	}
}

func (s *MACDTrend) Name() string {
	return "macd_trend"
}

// Evaluate 计算全量指标后交给 advise 判定。
func (s *MACDTrend) Evaluate(symbol string, candles []marketdata.Candle, holding bool) (Advice, error) {
	if len(candles) < 60 {
		return Advice{Action: ActionHold}, nil
	}

	result, err := s.calculator.Compute(symbol, candles)
	if err != nil {
		return Advice{}, fmt.Errorf("strategy: %s 指标计算失败: %w", symbol, err)
	}
	return s.advise(result, holding), nil
}

func (s *MACDTrend) advise(result indicator.Result, holding bool) Advice {
	hist, prevHist := result.MACD.Histogram, result.MACD.PrevHistogram
	if math.IsNaN(hist) || math.IsNaN(prevHist) {
		return Advice{Action: ActionHold}
	}

	if holding {
		if prevHist >= 0 && hist < 0 {
			return Advice{Action: ActionSell}
		}
		return Advice{Action: ActionHold}
	}

	crossedUp := prevHist <= 0 && hist > 0
	aboveTrend := result.Close > result.EMA50 && result.EMA12 > result.EMA26
	trending := result.ADX >= s.minADX
	confirmed := result.Volume.Ratio >= 1
	overextended := result.Bollinger.Position > 0.95

	if !crossedUp || !aboveTrend || !trending || !confirmed || overextended {
		return Advice{Action: ActionHold}
	}

	stop := 2 * result.ATR.Relative
	if math.IsNaN(stop) || stop <= 0 {
		stop = 0.03
	}
	if stop > 0.1 {
		stop = 0.1
	}
	return Advice{
		Action:        ActionBuy,
		StopLossPct:   stop,
		TakeProfitPct: 2 * stop,
	}
}
