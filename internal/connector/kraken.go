package connector

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade-engine/internal/config"
	"trade-engine/internal/trade"
)

const krakenOrderPath = "/0/private/AddOrder"

// Kraken 通过带 nonce 的表单签名接口下单。
// 签名为 base64(HMAC-SHA512(path + SHA256(nonce+body), base64解码后的密钥))。
type Kraken struct {
	cfg    config.VenueConfig
	retry  config.RetryConfig
	client *http.Client
	nonces *NonceGenerator
	logger *zap.Logger
}

// NewKraken 创建 kraken 连接器。nonce 生成器必须全局共享，
// 否则并发实例会互相回退对方的序列。
func NewKraken(cfg config.VenueConfig, timeout time.Duration, retry config.RetryConfig, nonces *NonceGenerator, logger *zap.Logger) *Kraken {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if nonces == nil {
		nonces = NewNonceGenerator()
	}
	return &Kraken{
		cfg:    cfg,
		retry:  retry,
		client: &http.Client{Timeout: timeout},
		nonces: nonces,
		logger: logger,
	}
}

func (k *Kraken) Name() string {
	return "kraken"
}

// signKrakenRequest 计算 API-Sign 头。
func signKrakenRequest(secret, path, nonce, body string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("kraken: 密钥不是合法 base64: %w", err)
	}

	inner := sha256.Sum256([]byte(nonce + body))
	mac := hmac.New(sha512.New, decoded)
	mac.Write([]byte(path))
	mac.Write(inner[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

type krakenOrderResponse struct {
	Error  []string `json:"error"`
	Result struct {
		Txid    []string `json:"txid"`
		Price   string   `json:"price"`
		VolExec string   `json:"vol_exec"`
		Fee     string   `json:"fee"`
	} `json:"result"`
}

// PlaceMarketOrder 提交市价单。每次重试使用新的 nonce 重新签名。
func (k *Kraken) PlaceMarketOrder(ctx context.Context, creds trade.Credentials, symbol string, side trade.Side, quantity decimal.Decimal) (trade.ExecutionResult, error) {
	var result trade.ExecutionResult
	err := callWithRetry(ctx, k.retry, "kraken.order", k.logger, func() error {
		nonce := strconv.FormatInt(k.nonces.Next(), 10)

		form := url.Values{}
		form.Set("nonce", nonce)
		form.Set("pair", symbol)
		form.Set("type", strings.ToLower(string(side)))
		form.Set("ordertype", "market")
		form.Set("volume", quantity.String())
		body := form.Encode()

		signature, err := signKrakenRequest(creds.APISecret, krakenOrderPath, nonce, body)
		if err != nil {
			return fmt.Errorf("%w: %v", trade.ErrExchangeRejected, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			k.cfg.BaseURL+krakenOrderPath, strings.NewReader(body))
		if err != nil {
			return fmt.Errorf("kraken: 构造请求失败: %w", err)
		}
		req.Header.Set("API-Key", creds.APIKey)
		req.Header.Set("API-Sign", signature)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		status, respBody, err := doRequest(k.client, req)
		if err != nil {
			return err
		}
		if err := classifyStatus(status, respBody); err != nil {
			return err
		}

		parsed, err := k.parseOrder(respBody, symbol, side, quantity)
		if err != nil {
			return err
		}
		result = parsed
		return nil
	})
	return result, err
}

func (k *Kraken) parseOrder(body []byte, symbol string, side trade.Side, requested decimal.Decimal) (trade.ExecutionResult, error) {
	var resp krakenOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return trade.ExecutionResult{}, fmt.Errorf("%w: kraken 响应解析失败: %v", trade.ErrExchangeRejected, err)
	}

	// kraken 在 200 响应里用 error 数组报告业务失败。
	if len(resp.Error) > 0 {
		msg := strings.Join(resp.Error, "; ")
		if strings.Contains(msg, "Rate limit") || strings.Contains(msg, "Unavailable") || strings.Contains(msg, "Busy") {
			return trade.ExecutionResult{}, fmt.Errorf("%w: kraken: %s", trade.ErrExchangeTransient, msg)
		}
		return trade.ExecutionResult{}, fmt.Errorf("%w: kraken: %s", trade.ErrExchangeRejected, msg)
	}

	orderID := ""
	if len(resp.Result.Txid) > 0 {
		orderID = resp.Result.Txid[0]
	}

	executed := decimalFromAny(resp.Result.VolExec)
	if executed.IsZero() {
		executed = requested
	}

	status := trade.StatusFilled
	if executed.LessThan(requested) && executed.IsPositive() {
		status = trade.StatusPartiallyFilled
	}

	return trade.ExecutionResult{
		OrderID:          orderID,
		Status:           status,
		ExecutedQuantity: executed,
		ExecutedPrice:    decimalFromAny(resp.Result.Price),
		Fees:             decimalFromAny(resp.Result.Fee),
		FeeAsset:         "USD",
		Exchange:         "kraken",
		Symbol:           symbol,
		Side:             side,
		Timestamp:        time.Now().UTC(),
		RawResponse:      string(body),
	}, nil
}
