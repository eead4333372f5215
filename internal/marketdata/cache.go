package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"trade-engine/internal/trade"
)

// PriceSource 抽象最新价来源，便于在测试中替换。
type PriceSource interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

type priceEntry struct {
	price     float64
	fetchedAt time.Time
}

// PriceCache 为按标的缓存的最新价。TTL 内直接命中；过期后强制刷新，
// 刷新失败时旧值仅作为降级回退返回，不会无限期使用新鲜值的身份。
type PriceCache struct {
	source PriceSource
	ttl    time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]priceEntry
}

// NewPriceCache 创建价格缓存。
func NewPriceCache(source PriceSource, ttl time.Duration, logger *zap.Logger) *PriceCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &PriceCache{
		source:  source,
		ttl:     ttl,
		logger:  logger,
		entries: make(map[string]priceEntry),
	}
}

// Get 返回标的最新价。无法取得任何价格时返回 trade.ErrPriceUnavailable。
func (p *PriceCache) Get(ctx context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	entry, ok := p.entries[symbol]
	p.mu.Unlock()

	if ok && time.Since(entry.fetchedAt) < p.ttl {
		return entry.price, nil
	}

	price, err := p.source.LastPrice(ctx, symbol)
	if err == nil && price > 0 {
		p.mu.Lock()
		p.entries[symbol] = priceEntry{price: price, fetchedAt: time.Now()}
		p.mu.Unlock()
		return price, nil
	}

	if ok && entry.price > 0 {
		// 刷新失败：返回过期值作为降级结果。
		p.logger.Warn("价格刷新失败，使用过期缓存",
			zap.String("symbol", symbol),
			zap.Duration("age", time.Since(entry.fetchedAt)),
			zap.Error(err),
		)
		return entry.price, nil
	}

	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", trade.ErrPriceUnavailable, symbol, err)
	}
	return 0, fmt.Errorf("%w: %s", trade.ErrPriceUnavailable, symbol)
}
