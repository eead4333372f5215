package symbol

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"trade-engine/internal/trade"
)

// SentinelAll 表示"全部标的"的占位输入，需要结合机会上下文解析。
const SentinelAll = "ALL"

// quoteSuffixes 为已知计价货币，按长度优先匹配。
var quoteSuffixes = []string{"USDT", "USDC", "USD", "BTC", "ETH", "EUR"}

// krakenAliases 为 Kraken 的资产别名。
var krakenAliases = map[string]string{
	"BTC":  "XBT",
	"DOGE": "XDG",
}

// OpportunityContext 携带上游机会扫描的标的信息，用于解析 ALL 占位符。
type OpportunityContext struct {
	Symbol         string
	Asset          string
	TopOpportunity struct {
		Symbol string
	}
}

// Resolution 为解析结果：规范形式与各交易所原生拼写。
type Resolution struct {
	Base       string
	Quote      string
	Normalized string            // BASE/QUOTE
	PerVenue   map[string]string // venue -> 原生格式
}

type cacheEntry struct {
	resolution Resolution
	expiresAt  time.Time
}

// Resolver 把自由文本标的解析为规范 BASE/QUOTE 形式，带短 TTL 缓存。
type Resolver struct {
	mu     sync.Mutex
	cache  map[string]cacheEntry
	ttl    time.Duration
	logger *zap.Logger
}

// NewResolver 创建解析器。
func NewResolver(ttl time.Duration, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Resolver{
		cache:  make(map[string]cacheEntry),
		ttl:    ttl,
		logger: logger,
	}
}

// NativeFor 返回指定交易所的原生拼写，未知交易所退回规范形式。
func (res Resolution) NativeFor(venue string) string {
	if native, ok := res.PerVenue[strings.ToLower(venue)]; ok {
		return native
	}
	return res.Normalized
}

// Resolve 解析标的。venueHint 仅用于日志定位，不影响解析结果。
// 除"ALL 且无上下文"外，畸形输入一律降级为最优猜测并记录日志，
// 不返回错误。
func (r *Resolver) Resolve(raw string, venueHint string, opCtx *OpportunityContext) (Resolution, error) {
	cleaned := strings.ToUpper(strings.TrimSpace(raw))

	if cleaned == SentinelAll {
		resolved, err := r.resolveAll(opCtx)
		if err != nil {
			r.logger.Warn("ALL 占位符解析失败",
				zap.String("venue_hint", venueHint),
				zap.Error(err),
			)
			return Resolution{}, err
		}
		cleaned = resolved
	}

	if cached, ok := r.lookup(cleaned); ok {
		return cached, nil
	}

	base, quote := r.splitPair(cleaned)
	res := buildResolution(base, quote)
	r.store(cleaned, res)
	return res, nil
}

func (r *Resolver) resolveAll(opCtx *OpportunityContext) (string, error) {
	if opCtx == nil {
		// 把"全部标的"路由到某个具体交易对是不安全的，必须显式失败。
		return "", fmt.Errorf("%w: ALL 占位符缺少机会上下文", trade.ErrInvalidSymbol)
	}

	for _, candidate := range []string{opCtx.Symbol, opCtx.Asset, opCtx.TopOpportunity.Symbol} {
		if s := strings.ToUpper(strings.TrimSpace(candidate)); s != "" && s != SentinelAll {
			return s, nil
		}
	}

	r.logger.Warn("机会上下文未包含标的，ALL 回退到 BTC")
	return "BTC", nil
}

func (r *Resolver) splitPair(cleaned string) (string, string) {
	if cleaned == "" {
		r.logger.Warn("标的为空，回退到 BTC/USDT")
		return "BTC", "USDT"
	}

	normalized := strings.NewReplacer("-", "/", "_", "/").Replace(cleaned)
	if strings.Contains(normalized, "/") {
		parts := strings.Split(normalized, "/")
		fields := parts[:0]
		for _, p := range parts {
			if p != "" {
				fields = append(fields, p)
			}
		}
		switch len(fields) {
		case 0:
			r.logger.Warn("标的仅含分隔符，回退到 BTC/USDT", zap.String("raw", cleaned))
			return "BTC", "USDT"
		case 1:
			return fields[0], "USDT"
		case 2:
			return fields[0], fields[1]
		default:
			// 多重分隔符：取首尾两段。
			r.logger.Warn("标的包含多个分隔符，取首尾部分",
				zap.String("raw", cleaned),
				zap.String("base", fields[0]),
				zap.String("quote", fields[len(fields)-1]),
			)
			return fields[0], fields[len(fields)-1]
		}
	}

	// 无分隔符：按计价货币后缀从长到短匹配。
	for _, quote := range quoteSuffixes {
		if strings.HasSuffix(normalized, quote) && len(normalized) > len(quote) {
			return normalized[:len(normalized)-len(quote)], quote
		}
	}

	return normalized, "USDT"
}

func (r *Resolver) lookup(key string) (Resolution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return Resolution{}, false
	}
	return entry.resolution, true
}

func (r *Resolver) store(key string, res Resolution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = cacheEntry{resolution: res, expiresAt: time.Now().Add(r.ttl)}
}

func buildResolution(base, quote string) Resolution {
	return Resolution{
		Base:       base,
		Quote:      quote,
		Normalized: base + "/" + quote,
		PerVenue: map[string]string{
			"binance":  base + quote,
			"kraken":   krakenAsset(base) + krakenAsset(quote),
			"coinbase": base + "-" + quote,
		},
	}
}

func krakenAsset(asset string) string {
	if alias, ok := krakenAliases[asset]; ok {
		return alias
	}
	return asset
}
