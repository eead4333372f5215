package liquidity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"trade-engine/internal/marketdata"
)

// topLevels 为压力与深度统计所使用的档位数量。
const topLevels = 10

// Metrics 为一次盘口分析的结果。
type Metrics struct {
	Symbol          string
	Exchange        string
	BestBid         float64
	BestAsk         float64
	SpreadPct       float64
	DepthWithin1Pct float64 // 中间价±1%内的基础货币总量
	MarketPressure  float64 // (买盘量-卖盘量)/总量，正值为净买压
	Source          marketdata.BookSource
	Timestamp       time.Time
}

// BookProvider 抽象订单簿来源。
type BookProvider interface {
	FetchOrderBook(ctx context.Context, symbol string, depth int64) (marketdata.OrderBookSnapshot, error)
}

// PriceProvider 为合成订单簿提供最近中间价。
type PriceProvider interface {
	Get(ctx context.Context, symbol string) (float64, error)
}

type cacheEntry struct {
	metrics   Metrics
	fetchedAt time.Time
}

// Analyzer 从真实或合成订单簿推导执行成本指标，
// 按 (symbol, exchange) 维度做短 TTL 缓存。
type Analyzer struct {
	books  BookProvider
	prices PriceProvider
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewAnalyzer 创建盘口分析器。
func NewAnalyzer(books BookProvider, prices PriceProvider, ttl time.Duration, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Analyzer{
		books:  books,
		prices: prices,
		ttl:    ttl,
		logger: logger,
		cache:  make(map[string]cacheEntry),
	}
}

// Analyze 返回标的的流动性指标。真实盘口不可达时退化为合成盘口，
// 并以 Source 字段标记以便调用方降低置信度。
func (a *Analyzer) Analyze(ctx context.Context, symbol, exchange string, depth int64) (Metrics, error) {
	key := symbol + "@" + exchange

	a.mu.Lock()
	entry, ok := a.cache[key]
	a.mu.Unlock()

	if ok && time.Since(entry.fetchedAt) < a.ttl {
		return entry.metrics, nil
	}

	metrics, err := a.analyzeFresh(ctx, symbol, exchange, depth)
	if err == nil {
		a.mu.Lock()
		a.cache[key] = cacheEntry{metrics: metrics, fetchedAt: time.Now()}
		a.mu.Unlock()
		return metrics, nil
	}

	if ok {
		// 刷新失败：过期指标作为降级结果返回。
		a.logger.Warn("盘口刷新失败，使用过期缓存",
			zap.String("symbol", symbol),
			zap.String("exchange", exchange),
			zap.Duration("age", time.Since(entry.fetchedAt)),
			zap.Error(err),
		)
		return entry.metrics, nil
	}

	return Metrics{}, err
}

func (a *Analyzer) analyzeFresh(ctx context.Context, symbol, exchange string, depth int64) (Metrics, error) {
	book, err := a.books.FetchOrderBook(ctx, symbol, depth)
	if err != nil || len(book.Bids) == 0 || len(book.Asks) == 0 {
		mid, priceErr := a.prices.Get(ctx, symbol)
		if priceErr != nil || mid <= 0 {
			if err == nil {
				err = fmt.Errorf("liquidity: %s 盘口为空", symbol)
			}
			return Metrics{}, fmt.Errorf("liquidity: 无法获取 %s 盘口且无参考价: %w", symbol, err)
		}

		a.logger.Warn("真实盘口不可用，生成合成盘口",
			zap.String("symbol", symbol),
			zap.String("exchange", exchange),
			zap.Float64("mid", mid),
			zap.Error(err),
		)
		book = SyntheticBook(symbol, exchange, mid, int(depth))
	}

	return Compute(book, exchange), nil
}

// Compute 从订单簿快照计算流动性指标。
func Compute(book marketdata.OrderBookSnapshot, exchange string) Metrics {
	bestBid := book.BestBid()
	bestAsk := book.BestAsk()
	mid := book.Mid()

	var spreadPct float64
	if mid > 0 && bestBid > 0 && bestAsk > 0 {
		spreadPct = (bestAsk - bestBid) / mid * 100
	}

	var depth1 float64
	if mid > 0 {
		lower, upper := mid*0.99, mid*1.01
		for _, level := range book.Bids {
			if level.Price < lower {
				break
			}
			depth1 += level.Amount
		}
		for _, level := range book.Asks {
			if level.Price > upper {
				break
			}
			depth1 += level.Amount
		}
	}

	var bidVol, askVol float64
	for i, level := range book.Bids {
		if i >= topLevels {
			break
		}
		bidVol += level.Amount
	}
	for i, level := range book.Asks {
		if i >= topLevels {
			break
		}
		askVol += level.Amount
	}

	var pressure float64
	if total := bidVol + askVol; total > 0 {
		pressure = (bidVol - askVol) / total
	}

	return Metrics{
		Symbol:          book.Symbol,
		Exchange:        exchange,
		BestBid:         bestBid,
		BestAsk:         bestAsk,
		SpreadPct:       spreadPct,
		DepthWithin1Pct: depth1,
		MarketPressure:  pressure,
		Source:          book.Source,
		Timestamp:       book.Timestamp,
	}
}
