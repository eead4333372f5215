package connector

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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

const binanceOrderPath = "/api/v3/order"

// Binance 通过查询串 HMAC-SHA256 签名的 REST 接口下单。
type Binance struct {
	cfg    config.VenueConfig
	retry  config.RetryConfig
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewBinance 创建 binance 连接器。
func NewBinance(cfg config.VenueConfig, timeout time.Duration, retry config.RetryConfig, logger *zap.Logger) *Binance {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Binance{
		cfg:    cfg,
		retry:  retry,
		client: &http.Client{Timeout: timeout},
		logger: logger,
		now:    time.Now,
	}
}

func (b *Binance) Name() string {
	return "binance"
}

// signBinanceQuery 对已编码的查询串做 HMAC-SHA256，十六进制输出。
func signBinanceQuery(secret, query string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

type binanceFill struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
}

type binanceOrderResponse struct {
	OrderID             int64         `json:"orderId"`
	Status              string        `json:"status"`
	ExecutedQty         string        `json:"executedQty"`
	CummulativeQuoteQty string        `json:"cummulativeQuoteQty"`
	Fills               []binanceFill `json:"fills"`
}

// PlaceMarketOrder 提交市价单。每次重试都重新生成时间戳与签名。
func (b *Binance) PlaceMarketOrder(ctx context.Context, creds trade.Credentials, symbol string, side trade.Side, quantity decimal.Decimal) (trade.ExecutionResult, error) {
	var result trade.ExecutionResult
	err := callWithRetry(ctx, b.retry, "binance.order", b.logger, func() error {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("side", string(side))
		params.Set("type", "MARKET")
		params.Set("quantity", quantity.String())
		params.Set("timestamp", strconv.FormatInt(b.now().UnixMilli(), 10))

		query := params.Encode()
		signature := signBinanceQuery(creds.APISecret, query)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			b.cfg.BaseURL+binanceOrderPath+"?"+query, nil)
		if err != nil {
			return fmt.Errorf("binance: 构造请求失败: %w", err)
		}
		req.Header.Set("X-MBX-APIKEY", creds.APIKey)
		req.Header.Set("X-MBX-SIGNATURE", signature)

		status, body, err := doRequest(b.client, req)
		if err != nil {
			return err
		}
		if err := classifyStatus(status, body); err != nil {
			return err
		}

		parsed, err := b.parseOrder(body, symbol, side, quantity)
		if err != nil {
			return err
		}
		result = parsed
		return nil
	})
	return result, err
}

func (b *Binance) parseOrder(body []byte, symbol string, side trade.Side, requested decimal.Decimal) (trade.ExecutionResult, error) {
	var resp binanceOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return trade.ExecutionResult{}, fmt.Errorf("%w: binance 响应解析失败: %v", trade.ErrExchangeRejected, err)
	}

	executed := decimalFromAny(resp.ExecutedQty)
	if executed.IsZero() {
		executed = requested
	}

	// 成交均价优先按逐笔成交加权，缺失时退回报价总额/成交量。
	var price decimal.Decimal
	var fees decimal.Decimal
	feeAsset := ""
	if len(resp.Fills) > 0 {
		var notional, qty decimal.Decimal
		for _, fill := range resp.Fills {
			p := decimalFromAny(fill.Price)
			q := decimalFromAny(fill.Qty)
			notional = notional.Add(p.Mul(q))
			qty = qty.Add(q)
			fees = fees.Add(decimalFromAny(fill.Commission))
			if feeAsset == "" {
				feeAsset = fill.CommissionAsset
			}
		}
		if qty.IsPositive() {
			price = notional.Div(qty)
		}
	}
	if price.IsZero() {
		if quote := decimalFromAny(resp.CummulativeQuoteQty); quote.IsPositive() && executed.IsPositive() {
			price = quote.Div(executed)
		}
	}

	status := trade.StatusFilled
	switch strings.ToUpper(resp.Status) {
	case "FILLED", "":
	case "PARTIALLY_FILLED":
		status = trade.StatusPartiallyFilled
	default:
		return trade.ExecutionResult{}, fmt.Errorf("%w: binance 订单状态 %s", trade.ErrExchangeRejected, resp.Status)
	}

	return trade.ExecutionResult{
		OrderID:          strconv.FormatInt(resp.OrderID, 10),
		Status:           status,
		ExecutedQuantity: executed,
		ExecutedPrice:    price,
		Fees:             fees,
		FeeAsset:         feeAsset,
		Exchange:         "binance",
		Symbol:           symbol,
		Side:             side,
		Timestamp:        time.Now().UTC(),
		RawResponse:      string(body),
	}, nil
}
