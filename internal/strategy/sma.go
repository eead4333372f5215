package strategy

import (
	"fmt"

	talib "github.com/markcheno/go-talib"

	"trade-engine/internal/indicator"
	"trade-engine/internal/marketdata"
)

// SMACross 为双均线交叉策略：快线上穿慢线买入，下穿卖出。
type SMACross struct {
	fast int
	slow int
}

// NewSMACross 创建双均线策略。
func NewSMACross(fast, slow int) *SMACross {
	if fast <= 0 {
		fast = 10
	}
	if slow <= fast {
		slow = fast * 3
	}
	return &SMACross{fast: fast, slow: slow}
}

func (s *SMACross) Name() string {
	return fmt.Sprintf("sma_cross_%d_%d", s.fast, s.slow)
}

// Evaluate 检测最近一根K线上的均线交叉。
func (s *SMACross) Evaluate(symbol string, candles []marketdata.Candle, holding bool) (Advice, error) {
	if len(candles) < s.slow+1 {
		return Advice{Action: ActionHold}, nil
	}

	series := indicator.NewSeries(candles)
	fast := talib.Sma(series.Close, s.fast)
	slow := talib.Sma(series.Close, s.slow)

	fastNow, fastPrev := indicator.Last(fast), indicator.Prev(fast)
	slowNow, slowPrev := indicator.Last(slow), indicator.Prev(slow)

	crossedUp := fastPrev <= slowPrev && fastNow > slowNow
	crossedDown := fastPrev >= slowPrev && fastNow < slowNow

	switch {
	case crossedUp && !holding:
		return Advice{
			Action:        ActionBuy,
			StopLossPct:   0.05,
			TakeProfitPct: 0.10,
		}, nil
	case crossedDown && holding:
		return Advice{Action: ActionSell}, nil
	default:
		return Advice{Action: ActionHold}, nil
	}
}
