package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"trade-engine/internal/config"
	"trade-engine/internal/trade"
)

// ErrMaintenance 表示行情源处于维护状态，需要上层跳过本轮。
var ErrMaintenance = errors.New("market data source on maintenance")

// ccxtCalls 以闭包形式收敛对具体 ccxt 交易所类型的调用。
type ccxtCalls struct {
	loadMarkets    func() error
	fetchOHLCV     func(symbol, timeframe string, since int64, limit int64) ([]ccxt.OHLCV, error)
	fetchOrderBook func(symbol string, limit int64) (ccxt.OrderBook, error)
}

// Client 负责与行情源交互并实现重试机制。
type Client struct {
	cfg      config.MarketDataConfig
	logger   *zap.Logger
	exchange string
	calls    ccxtCalls

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 根据配置构造行情客户端。
func NewClient(cfg config.MarketDataConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	name := strings.ToLower(strings.TrimSpace(cfg.Exchange))
	calls, err := newCCXTCalls(name)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		exchange: name,
		calls:    calls,
	}, nil
}

func newCCXTCalls(name string) (ccxtCalls, error) {
	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}

	switch name {
	case "binance":
		ex := ccxt.NewBinance(userConfig)
		return ccxtCalls{
			loadMarkets: func() error {
				_, err := ex.LoadMarkets()
				return err
			},
			fetchOHLCV: func(symbol, timeframe string, since int64, limit int64) ([]ccxt.OHLCV, error) {
				opts := []ccxt.FetchOHLCVOptions{
					ccxt.WithFetchOHLCVTimeframe(timeframe),
					ccxt.WithFetchOHLCVLimit(limit),
				}
				if since > 0 {
					opts = append(opts, ccxt.WithFetchOHLCVSince(since))
				}
				return ex.FetchOHLCV(symbol, opts...)
			},
			fetchOrderBook: func(symbol string, limit int64) (ccxt.OrderBook, error) {
				return ex.FetchOrderBook(symbol, ccxt.WithFetchOrderBookLimit(limit))
			},
		}, nil
	case "kraken":
		ex := ccxt.NewKraken(userConfig)
		return ccxtCalls{
			loadMarkets: func() error {
				_, err := ex.LoadMarkets()
				return err
			},
			fetchOHLCV: func(symbol, timeframe string, since int64, limit int64) ([]ccxt.OHLCV, error) {
				opts := []ccxt.FetchOHLCVOptions{
					ccxt.WithFetchOHLCVTimeframe(timeframe),
					ccxt.WithFetchOHLCVLimit(limit),
				}
				if since > 0 {
					opts = append(opts, ccxt.WithFetchOHLCVSince(since))
				}
				return ex.FetchOHLCV(symbol, opts...)
			},
			fetchOrderBook: func(symbol string, limit int64) (ccxt.OrderBook, error) {
				return ex.FetchOrderBook(symbol, ccxt.WithFetchOrderBookLimit(limit))
			},
		}, nil
	case "coinbase":
		ex := ccxt.NewCoinbase(userConfig)
		return ccxtCalls{
			loadMarkets: func() error {
				_, err := ex.LoadMarkets()
				return err
			},
			fetchOHLCV: func(symbol, timeframe string, since int64, limit int64) ([]ccxt.OHLCV, error) {
				opts := []ccxt.FetchOHLCVOptions{
					ccxt.WithFetchOHLCVTimeframe(timeframe),
					ccxt.WithFetchOHLCVLimit(limit),
				}
				if since > 0 {
					opts = append(opts, ccxt.WithFetchOHLCVSince(since))
				}
				return ex.FetchOHLCV(symbol, opts...)
			},
			fetchOrderBook: func(symbol string, limit int64) (ccxt.OrderBook, error) {
				return ex.FetchOrderBook(symbol, ccxt.WithFetchOrderBookLimit(limit))
			},
		}, nil
	default:
		return ccxtCalls{}, fmt.Errorf("marketdata: 不支持的行情源 %q", name)
	}
}

// Exchange 返回行情源名称。
func (c *Client) Exchange() string {
	return c.exchange
}

// FetchCandles 获取指定周期的K线数据，畸形条目会被丢弃。
func (c *Client) FetchCandles(ctx context.Context, symbol, timeframe string, since time.Time, limit int64) ([]Candle, error) {
	if limit <= 0 {
		limit = 1
	}

	var sinceMs int64
	if !since.IsZero() {
		sinceMs = since.UnixMilli()
	}

	var raw []ccxt.OHLCV
	err := c.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s_%s", symbol, timeframe), func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		result, err := c.calls.fetchOHLCV(symbol, timeframe, sinceMs, limit)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(raw))
	dropped := 0
	for _, item := range raw {
		candle := Candle{
			Timestamp: time.UnixMilli(item.Timestamp).UTC(),
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		}
		if !candle.Valid() {
			dropped++
			continue
		}
		candles = append(candles, candle)
	}
	if dropped > 0 {
		c.logger.Warn("丢弃畸形K线",
			zap.String("symbol", symbol),
			zap.Int("dropped", dropped),
		)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("marketdata: %s 无有效K线数据", symbol)
	}

	return candles, nil
}

// LastPrice 返回最近一根1分钟K线的收盘价。
func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	candles, err := c.FetchCandles(ctx, symbol, "1m", time.Time{}, 1)
	if err != nil {
		return 0, err
	}
	return candles[len(candles)-1].Close, nil
}

// FetchOrderBook 获取订单簿快照。
func (c *Client) FetchOrderBook(ctx context.Context, symbol string, depth int64) (OrderBookSnapshot, error) {
	if depth <= 0 {
		depth = 50
	}

	var raw ccxt.OrderBook
	err := c.callWithRetry(ctx, fmt.Sprintf("fetch_order_book_%s", symbol), func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		orderBook, err := c.calls.fetchOrderBook(symbol, depth)
		if err != nil {
			return err
		}
		raw = orderBook
		return nil
	})
	if err != nil {
		return OrderBookSnapshot{}, err
	}

	snapshot := convertOrderBook(symbol, c.exchange, raw)
	if len(snapshot.Bids) == 0 && len(snapshot.Asks) == 0 {
		return OrderBookSnapshot{}, fmt.Errorf("marketdata: %s 订单簿为空", symbol)
	}
	return snapshot, nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	if c.marketsLoaded {
		return nil
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if err := c.calls.loadMarkets(); err != nil {
		return err
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.String("exchange", c.exchange))
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("行情调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := c.classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("行情源维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= maxAttempts {
			c.logger.Error("行情调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("行情调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (c *Client) classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return fmt.Errorf("%w: %v", trade.ErrExchangeTransient, err), true
		case ccxt.OnMaintenanceErrType:
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		default:
			return err, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", trade.ErrExchangeTransient, err), true
	}

	return err, false
}

func convertOrderBook(symbol, exchange string, ob ccxt.OrderBook) OrderBookSnapshot {
	bids := make([]OrderBookLevel, 0, len(ob.Bids))
	for _, level := range ob.Bids {
		if len(level) < 2 || level[0] <= 0 || level[1] <= 0 {
			continue
		}
		bids = append(bids, OrderBookLevel{
			Price:  level[0],
			Amount: level[1],
		})
	}

	asks := make([]OrderBookLevel, 0, len(ob.Asks))
	for _, level := range ob.Asks {
		if len(level) < 2 || level[0] <= 0 || level[1] <= 0 {
			continue
		}
		asks = append(asks, OrderBookLevel{
			Price:  level[0],
			Amount: level[1],
		})
	}

	var ts time.Time
	if ob.Timestamp != nil {
		ts = time.UnixMilli(*ob.Timestamp).UTC()
	} else {
		ts = time.Now().UTC()
	}

	return OrderBookSnapshot{
		Symbol:    symbol,
		Exchange:  exchange,
		Bids:      bids,
		Asks:      asks,
		Source:    BookSourceLive,
		Timestamp: ts,
	}
}
