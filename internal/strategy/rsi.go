package strategy

import (
	"fmt"
	"math"

	"trade-engine/internal/indicator"
	"trade-engine/internal/marketdata"
)

// RSIReversal 为超买超卖反转策略：RSI 跌破下阈值买入，
// 升破上阈值卖出。
type RSIReversal struct {
	oversold   float64
	overbought float64
	calculator *indicator.Calculator
}

// NewRSIReversal 创建 RSI 反转策略。
func NewRSIReversal(oversold, overbought float64) *RSIReversal {
	if oversold <= 0 || oversold >= 100 {
		oversold = 30
	}
	if overbought <= oversold || overbought >= 100 {
		overbought = 70
	}
	return &RSIReversal{
		oversold:   oversold,
		overbought: overbought,
		calculator: indicator.NewCalculator(),
	}
}

func (s *RSIReversal) Name() string {
	return fmt.Sprintf("rsi_reversal_%.0f_%.0f", s.oversold, s.overbought)
}

// Evaluate 根据14周期RSI判断超买超卖。
// 指标计算器内含 EMA50，历史不足时按观望处理。
func (s *RSIReversal) Evaluate(symbol string, candles []marketdata.Candle, holding bool) (Advice, error) {
	if len(candles) < 60 {
		return Advice{Action: ActionHold}, nil
	}

	result, err := s.calculator.Compute(symbol, candles)
	if err != nil {
		return Advice{}, fmt.Errorf("strategy: %s 指标计算失败: %w", symbol, err)
	}
	if math.IsNaN(result.RSI) {
		return Advice{Action: ActionHold}, nil
	}

	switch {
	case result.RSI <= s.oversold && !holding:
		return Advice{
			Action:        ActionBuy,
			StopLossPct:   0.03,
			TakeProfitPct: 0.06,
		}, nil
	case result.RSI >= s.overbought && holding:
		return Advice{Action: ActionSell}, nil
	default:
		return Advice{Action: ActionHold}, nil
	}
}
