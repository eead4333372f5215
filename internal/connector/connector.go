package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade-engine/internal/breaker"
	"trade-engine/internal/config"
	"trade-engine/internal/trade"
)

// Connector 为单个交易所的下单客户端。symbol 使用该交易所的原生拼写。
type Connector interface {
	Name() string
	PlaceMarketOrder(ctx context.Context, creds trade.Credentials, symbol string, side trade.Side, quantity decimal.Decimal) (trade.ExecutionResult, error)
}

// New 按名称构造连接器。
func New(name string, cfg config.VenuesConfig, nonces *NonceGenerator, logger *zap.Logger) (Connector, error) {
	switch name {
	case "binance":
		return NewBinance(cfg.Binance, cfg.Timeout, cfg.Retry, logger), nil
	case "kraken":
		return NewKraken(cfg.Kraken, cfg.Timeout, cfg.Retry, nonces, logger), nil
	case "coinbase":
		return NewCoinbase(cfg.Coinbase, cfg.Timeout, cfg.Retry, logger), nil
	default:
		return nil, fmt.Errorf("connector: 不支持的交易所 %q", name)
	}
}

// Guard 把连接器包装到熔断器后面：OPEN 状态快速拒绝，
// 调用结果连同延迟计入熔断统计。
func Guard(inner Connector, br *breaker.Breaker) Connector {
	return &guarded{inner: inner, breaker: br}
}

type guarded struct {
	inner   Connector
	breaker *breaker.Breaker
}

func (g *guarded) Name() string {
	return g.inner.Name()
}

func (g *guarded) PlaceMarketOrder(ctx context.Context, creds trade.Credentials, symbol string, side trade.Side, quantity decimal.Decimal) (trade.ExecutionResult, error) {
	var result trade.ExecutionResult
	err := g.breaker.Do(func() error {
		var callErr error
		result, callErr = g.inner.PlaceMarketOrder(ctx, creds, symbol, side, quantity)
		return callErr
	})
	return result, err
}

// classifyStatus 把 HTTP 状态码映射到错误分类：429/5xx 可重试，
// 其余 4xx（签名、交易对、余额）为终态拒绝。
func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: status=%d body=%s", trade.ErrExchangeTransient, status, truncate(body, 256))
	default:
		return fmt.Errorf("%w: status=%d body=%s", trade.ErrExchangeRejected, status, truncate(body, 256))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// doRequest 执行单次 HTTP 调用并读取响应体，网络层错误归类为瞬时故障。
func doRequest(client *http.Client, req *http.Request) (int, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, nil, err
		}
		return 0, nil, fmt.Errorf("%w: %v", trade.ErrExchangeTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%w: 读取响应失败: %v", trade.ErrExchangeTransient, err)
	}
	return resp.StatusCode, body, nil
}

// callWithRetry 对瞬时故障做指数退避重试；终态拒绝立即返回，
// 不会用同一个签名反复触碰交易所。
func callWithRetry(ctx context.Context, retry config.RetryConfig, operation string, logger *zap.Logger, fn func() error) error {
	maxAttempts := retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	delay := retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, trade.ErrExchangeTransient) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}
		logger.Warn("下单调用瞬时失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
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

	return fmt.Errorf("connector: %s 重试耗尽: %w", operation, err)
}

// decimalFromAny 从异构响应字段中尽力解析数值，失败返回零值。
func decimalFromAny(v interface{}) decimal.Decimal {
	switch val := v.(type) {
	case string:
		if d, err := decimal.NewFromString(val); err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(val)
	case int64:
		return decimal.NewFromInt(val)
	}
	return decimal.Zero
}
