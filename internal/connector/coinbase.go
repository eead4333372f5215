package connector

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade-engine/internal/config"
	"trade-engine/internal/trade"
)

const coinbaseOrderPath = "/orders"

// Coinbase 通过 timestamp+method+path+body 预签串下单，
// passphrase 单独做一次 HMAC 后随签名一起放入请求头。
type Coinbase struct {
	cfg    config.VenueConfig
	retry  config.RetryConfig
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewCoinbase 创建 coinbase 连接器。
func NewCoinbase(cfg config.VenueConfig, timeout time.Duration, retry config.RetryConfig, logger *zap.Logger) *Coinbase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Coinbase{
		cfg:    cfg,
		retry:  retry,
		client: &http.Client{Timeout: timeout},
		logger: logger,
		now:    time.Now,
	}
}

func (c *Coinbase) Name() string {
	return "coinbase"
}

// signCoinbaseRequest 计算 CB-ACCESS-SIGN 头。
func signCoinbaseRequest(secret, timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// signCoinbasePassphrase 对 passphrase 单独签名。
func signCoinbasePassphrase(secret, passphrase string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(passphrase))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type coinbaseOrderRequest struct {
	Type      string `json:"type"`
	Side      string `json:"side"`
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
}

type coinbaseOrderResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	FilledSize    string `json:"filled_size"`
	ExecutedValue string `json:"executed_value"`
	FillFees      string `json:"fill_fees"`
	Settled       bool   `json:"settled"`
}

// PlaceMarketOrder 提交市价单。每次重试重新取时间戳并重新签名。
func (c *Coinbase) PlaceMarketOrder(ctx context.Context, creds trade.Credentials, symbol string, side trade.Side, quantity decimal.Decimal) (trade.ExecutionResult, error) {
	payload, err := json.Marshal(coinbaseOrderRequest{
		Type:      "market",
		Side:      strings.ToLower(string(side)),
		ProductID: symbol,
		Size:      quantity.String(),
	})
	if err != nil {
		return trade.ExecutionResult{}, fmt.Errorf("coinbase: 序列化请求失败: %w", err)
	}

	var result trade.ExecutionResult
	err = callWithRetry(ctx, c.retry, "coinbase.order", c.logger, func() error {
		timestamp := strconv.FormatInt(c.now().Unix(), 10)
		signature := signCoinbaseRequest(creds.APISecret, timestamp, http.MethodPost, coinbaseOrderPath, string(payload))

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.BaseURL+coinbaseOrderPath, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("coinbase: 构造请求失败: %w", err)
		}
		req.Header.Set("CB-ACCESS-KEY", creds.APIKey)
		req.Header.Set("CB-ACCESS-SIGN", signature)
		req.Header.Set("CB-ACCESS-TIMESTAMP", timestamp)
		req.Header.Set("CB-ACCESS-PASSPHRASE", signCoinbasePassphrase(creds.APISecret, creds.Passphrase))
		req.Header.Set("Content-Type", "application/json")

		status, body, err := doRequest(c.client, req)
		if err != nil {
			return err
		}
		if err := classifyStatus(status, body); err != nil {
			return err
		}

		parsed, err := c.parseOrder(body, symbol, side, quantity)
		if err != nil {
			return err
		}
		result = parsed
		return nil
	})
	return result, err
}

func (c *Coinbase) parseOrder(body []byte, symbol string, side trade.Side, requested decimal.Decimal) (trade.ExecutionResult, error) {
	var resp coinbaseOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return trade.ExecutionResult{}, fmt.Errorf("%w: coinbase 响应解析失败: %v", trade.ErrExchangeRejected, err)
	}

	if strings.EqualFold(resp.Status, "rejected") {
		return trade.ExecutionResult{}, fmt.Errorf("%w: coinbase 订单被拒绝", trade.ErrExchangeRejected)
	}

	executed := decimalFromAny(resp.FilledSize)
	if executed.IsZero() {
		executed = requested
	}

	var price decimal.Decimal
	if value := decimalFromAny(resp.ExecutedValue); value.IsPositive() && executed.IsPositive() {
		price = value.Div(executed)
	}

	status := trade.StatusFilled
	if executed.LessThan(requested) && executed.IsPositive() {
		status = trade.StatusPartiallyFilled
	}

	return trade.ExecutionResult{
		OrderID:          resp.ID,
		Status:           status,
		ExecutedQuantity: executed,
		ExecutedPrice:    price,
		Fees:             decimalFromAny(resp.FillFees),
		FeeAsset:         "USD",
		Exchange:         "coinbase",
		Symbol:           symbol,
		Side:             side,
		Timestamp:        time.Now().UTC(),
		RawResponse:      string(body),
	}, nil
}
