package marketdata

import "time"

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Valid 判断K线是否可用于计算。
func (c Candle) Valid() bool {
	return !c.Timestamp.IsZero() && c.Close > 0 && c.High >= c.Low
}

// OrderBookLevel 表示盘口档位。
type OrderBookLevel struct {
	Price  float64
	Amount float64
}

// BookSource 标记订单簿来源。
type BookSource string

const (
	BookSourceLive      BookSource = "live"
	BookSourceSynthetic BookSource = "synthetic"
)

// OrderBookSnapshot 为订单簿快照。
type OrderBookSnapshot struct {
	Symbol    string
	Exchange  string
	Bids      []OrderBookLevel
	Asks      []OrderBookLevel
	Source    BookSource
	Timestamp time.Time
}

// BestBid 返回最优买价，空盘口返回0。
func (s OrderBookSnapshot) BestBid() float64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}

// BestAsk 返回最优卖价，空盘口返回0。
func (s OrderBookSnapshot) BestAsk() float64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}

// Mid 返回盘口中间价。
func (s OrderBookSnapshot) Mid() float64 {
	bid, ask := s.BestBid(), s.BestAsk()
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2
	case bid > 0:
		return bid
	default:
		return ask
	}
}
