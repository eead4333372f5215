package simulation

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade-engine/internal/config"
	"trade-engine/internal/marketdata"
	"trade-engine/internal/trade"
)

// fillLevels 为模拟撮合最多消耗的盘口档位数。
const fillLevels = 10

// BookProvider 抽象订单簿来源。
type BookProvider interface {
	FetchOrderBook(ctx context.Context, symbol string, depth int64) (marketdata.OrderBookSnapshot, error)
}

// PriceProvider 在盘口不可用时提供参考价。
type PriceProvider interface {
	Get(ctx context.Context, symbol string) (float64, error)
}

// Engine 对市价单做逐档撮合模拟：按真实盘口计算成交均价，
// 叠加随机滑点与手续费，产出与真实执行同构的结果。
type Engine struct {
	books  BookProvider
	prices PriceProvider
	cfg    config.SimulationConfig
	logger *zap.Logger

	mu   sync.Mutex
	rand func() float64
}

// NewEngine 创建模拟撮合引擎。
func NewEngine(books BookProvider, prices PriceProvider, cfg config.SimulationConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FeeRate <= 0 {
		cfg.FeeRate = 0.001
	}
	if cfg.FallbackSlipPct <= 0 {
		cfg.FallbackSlipPct = 0.002
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Engine{
		books:  books,
		prices: prices,
		cfg:    cfg,
		logger: logger,
		rand:   rng.Float64,
	}
}

func (e *Engine) random() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rand()
}

// Fill 模拟一笔市价单成交。盘口可用时逐档吃单，
// 超出前几档深度的部分按部分成交处理；盘口不可用时退化为
// 参考价加随机滑点的全额成交。
func (e *Engine) Fill(ctx context.Context, symbol, exchange string, side trade.Side, quantity decimal.Decimal) (trade.ExecutionResult, error) {
	if !quantity.IsPositive() {
		return trade.ExecutionResult{}, fmt.Errorf("%w: 模拟成交数量必须为正", trade.ErrInvalidSizing)
	}

	book, err := e.books.FetchOrderBook(ctx, symbol, fillLevels)
	if err != nil || len(book.Bids) == 0 || len(book.Asks) == 0 {
		return e.fillFromReferencePrice(ctx, symbol, exchange, side, quantity, err)
	}

	levels := book.Asks
	if side == trade.SideSell {
		levels = book.Bids
	}

	remaining := quantity
	var notional, filled decimal.Decimal
	for i, level := range levels {
		if i >= fillLevels || !remaining.IsPositive() {
			break
		}
		take := decimal.NewFromFloat(level.Amount)
		if take.GreaterThan(remaining) {
			take = remaining
		}
		notional = notional.Add(take.Mul(decimal.NewFromFloat(level.Price)))
		filled = filled.Add(take)
		remaining = remaining.Sub(take)
	}

	if !filled.IsPositive() {
		return e.fillFromReferencePrice(ctx, symbol, exchange, side, quantity,
			fmt.Errorf("simulation: %s 盘口深度为零", symbol))
	}

	vwap := notional.Div(filled)
	mid := book.Mid()

	// 在逐档成本之外叠加半点差50%~100%的随机不利滑点。
	slipFraction := 0.0
	if mid > 0 {
		halfSpread := (book.BestAsk() - book.BestBid()) / 2 / mid
		slipFraction = (0.5 + 0.5*e.random()) * halfSpread
	}
	price := applySlip(vwap, side, slipFraction)

	status := trade.StatusFilled
	if remaining.IsPositive() {
		status = trade.StatusPartiallyFilled
		e.logger.Info("模拟成交深度不足，部分成交",
			zap.String("symbol", symbol),
			zap.String("exchange", exchange),
			zap.String("requested", quantity.String()),
			zap.String("filled", filled.String()),
		)
	}

	return e.buildResult(symbol, exchange, side, filled, price, mid, status), nil
}

// fillFromReferencePrice 在盘口缺失时按参考价加随机滑点全额成交。
func (e *Engine) fillFromReferencePrice(ctx context.Context, symbol, exchange string, side trade.Side, quantity decimal.Decimal, bookErr error) (trade.ExecutionResult, error) {
	mid, err := e.prices.Get(ctx, symbol)
	if err != nil || mid <= 0 {
		return trade.ExecutionResult{}, fmt.Errorf("%w: %s 无盘口且无参考价", trade.ErrPriceUnavailable, symbol)
	}

	e.logger.Warn("模拟成交退化为参考价模式",
		zap.String("symbol", symbol),
		zap.String("exchange", exchange),
		zap.Error(bookErr),
	)

	slipFraction := (0.5 + 0.5*e.random()) * e.cfg.FallbackSlipPct
	price := applySlip(decimal.NewFromFloat(mid), side, slipFraction)
	return e.buildResult(symbol, exchange, side, quantity, price, mid, trade.StatusFilled), nil
}

func (e *Engine) buildResult(symbol, exchange string, side trade.Side, quantity, price decimal.Decimal, mid float64, status trade.ExecutionStatus) trade.ExecutionResult {
	fees := price.Mul(quantity).Mul(decimal.NewFromFloat(e.cfg.FeeRate))

	slippagePct := 0.0
	if mid > 0 {
		priceF, _ := price.Float64()
		slippagePct = (priceF - mid) / mid * 100
		if side == trade.SideSell {
			slippagePct = -slippagePct
		}
	}

	return trade.ExecutionResult{
		OrderID:          "SIM-" + strconv.FormatInt(time.Now().UnixNano(), 36),
		Status:           status,
		ExecutedQuantity: quantity,
		ExecutedPrice:    price,
		Fees:             fees,
		FeeAsset:         "USD",
		Exchange:         exchange,
		Symbol:           symbol,
		Side:             side,
		Timestamp:        time.Now().UTC(),
		IsSimulation:     true,
		SlippagePct:      slippagePct,
	}
}

// applySlip 按方向施加不利滑点：买单抬价，卖单压价。
func applySlip(price decimal.Decimal, side trade.Side, fraction float64) decimal.Decimal {
	if fraction <= 0 {
		return price
	}
	factor := decimal.NewFromFloat(1 + fraction)
	if side == trade.SideSell {
		factor = decimal.NewFromFloat(1 - fraction)
	}
	return price.Mul(factor)
}
