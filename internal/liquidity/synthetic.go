package liquidity

import (
	"math"
	"time"

	"trade-engine/internal/marketdata"
)

const (
	// syntheticTickPct 为合成盘口相邻档位的固定价差比例。
	syntheticTickPct = 0.0005
	// syntheticBaseAmount 为第一档的基础数量。
	syntheticBaseAmount = 2.0
	// syntheticDecay 为每档数量的指数衰减因子。
	syntheticDecay = 0.85
)

// SyntheticBook 围绕给定中间价生成合成订单簿：固定档距、
// 逐档指数衰减的深度。结果标记为 synthetic 来源。
func SyntheticBook(symbol, exchange string, mid float64, depth int) marketdata.OrderBookSnapshot {
	if depth <= 0 {
		depth = 20
	}
	if mid <= 0 {
		return marketdata.OrderBookSnapshot{
			Symbol:    symbol,
			Exchange:  exchange,
			Source:    marketdata.BookSourceSynthetic,
			Timestamp: time.Now().UTC(),
		}
	}

	tick := mid * syntheticTickPct
	bids := make([]marketdata.OrderBookLevel, 0, depth)
	asks := make([]marketdata.OrderBookLevel, 0, depth)

	for i := 0; i < depth; i++ {
		amount := syntheticBaseAmount * math.Pow(syntheticDecay, float64(i))
		offset := tick * float64(i+1)
		bids = append(bids, marketdata.OrderBookLevel{
			Price:  mid - offset,
			Amount: amount,
		})
		asks = append(asks, marketdata.OrderBookLevel{
			Price:  mid + offset,
			Amount: amount,
		})
	}

	return marketdata.OrderBookSnapshot{
		Symbol:    symbol,
		Exchange:  exchange,
		Bids:      bids,
		Asks:      asks,
		Source:    marketdata.BookSourceSynthetic,
		Timestamp: time.Now().UTC(),
	}
}
