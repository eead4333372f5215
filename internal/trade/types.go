package trade

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side 表示交易方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide 解析交易方向，容忍大小写差异。
func ParseSide(raw string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY", "LONG":
		return SideBuy, true
	case "SELL", "SHORT":
		return SideSell, true
	default:
		return "", false
	}
}

// Opposite 返回相反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType 表示委托类型。
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// ExchangeAuto 表示由系统自动选择交易所。
const ExchangeAuto = "auto"

// Request 描述一次交易意图。Quantity 与 NotionalUSD 二选一，
// 执行前必须折算出正数量。
type Request struct {
	Symbol      string
	Side        Side
	Quantity    decimal.Decimal
	NotionalUSD decimal.Decimal
	OrderType   OrderType
	Exchange    string
	StopLoss    decimal.Decimal
	TakeProfit  decimal.Decimal
	StrategyID  string
}

// HasQuantity 判断请求是否直接给出数量。
func (r Request) HasQuantity() bool {
	return r.Quantity.IsPositive()
}

// HasNotional 判断请求是否以美元名义金额计量。
func (r Request) HasNotional() bool {
	return r.NotionalUSD.IsPositive()
}

// ExecutionStatus 表示执行结果状态。
type ExecutionStatus string

const (
	StatusFilled          ExecutionStatus = "FILLED"
	StatusPartiallyFilled ExecutionStatus = "PARTIALLY_FILLED"
	StatusRejected        ExecutionStatus = "REJECTED"
)

// ExecutionResult 为一次执行（真实或模拟）的规范化结果，产生后不可变。
type ExecutionResult struct {
	OrderID            string
	Status             ExecutionStatus
	ExecutedQuantity   decimal.Decimal
	ExecutedPrice      decimal.Decimal
	Fees               decimal.Decimal
	FeeAsset           string
	Exchange           string
	Symbol             string
	Side               Side
	StopLoss           decimal.Decimal // 随单止损意图，仅作审计记录
	TakeProfit         decimal.Decimal
	Timestamp          time.Time
	IsSimulation       bool
	SimulationFallback bool
	SlippagePct        float64
	RawResponse        string
}

// Notional 返回成交名义金额。
func (r ExecutionResult) Notional() decimal.Decimal {
	return r.ExecutedQuantity.Mul(r.ExecutedPrice)
}

// Credentials 为单个交易所的 API 凭据。空结构体视为缺失。
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// IsZero 判断凭据是否缺失。
func (c Credentials) IsZero() bool {
	return c.APIKey == "" && c.APISecret == ""
}

// ExitReason 表示平仓原因。
type ExitReason string

const (
	ExitReasonStopLoss    ExitReason = "STOP_LOSS"
	ExitReasonTakeProfit  ExitReason = "TAKE_PROFIT"
	ExitReasonManual      ExitReason = "MANUAL"
	ExitReasonBacktestEnd ExitReason = "BACKTEST_END"
)

// PositionSide 表示持仓方向。现货组合只建多头仓位。
type PositionSide string

const PositionLong PositionSide = "LONG"

// ClosedTrade 为一笔已平仓交易的最终记录，只追加不修改。
type ClosedTrade struct {
	Symbol     string
	Side       PositionSide
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Quantity   decimal.Decimal
	ExitReason ExitReason
	PnL        decimal.Decimal
	PnLPct     float64
	Fees       decimal.Decimal
}
