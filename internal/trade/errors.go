package trade

import "errors"

// 错误分类：校验类错误在任何网络调用前返回；
// ErrExchangeTransient 允许带退避重试；其余均为终态。
var (
	// ErrInvalidSymbol 表示无法解析的交易对。
	ErrInvalidSymbol = errors.New("invalid symbol")
	// ErrInvalidSizing 表示既没有数量也没有名义金额。
	ErrInvalidSizing = errors.New("invalid sizing")
	// ErrUnsupportedOrderType 表示请求的委托类型尚未实现，拒绝而非静默转市价。
	ErrUnsupportedOrderType = errors.New("unsupported order type")
	// ErrPriceUnavailable 表示无法获取当前价格完成折算。
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrEmergencyHalt 表示全局或用户级紧急停机生效。
	ErrEmergencyHalt = errors.New("emergency halt active")
	// ErrCircuitOpen 表示熔断器处于 OPEN 状态，调用被快速拒绝。
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrInsufficientLiquidity 表示盘口深度不足以成交。
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	// ErrExchangeRejected 表示交易所明确拒绝（签名、交易对、余额），不得重试。
	ErrExchangeRejected = errors.New("exchange rejected order")
	// ErrExchangeTransient 表示瞬时故障（超时、5xx），重试耗尽后上抛。
	ErrExchangeTransient = errors.New("exchange transient failure")
	// ErrRecordingFailed 表示成交记录落库失败；不影响已完成的执行。
	ErrRecordingFailed = errors.New("trade recording failed")
)

// ErrorCode 把错误映射为稳定的结果码，供结构化返回使用。
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidSymbol):
		return "INVALID_SYMBOL"
	case errors.Is(err, ErrInvalidSizing):
		return "INVALID_SIZING"
	case errors.Is(err, ErrUnsupportedOrderType):
		return "UNSUPPORTED_ORDER_TYPE"
	case errors.Is(err, ErrPriceUnavailable):
		return "PRICE_UNAVAILABLE"
	case errors.Is(err, ErrEmergencyHalt):
		return "EMERGENCY_HALT"
	case errors.Is(err, ErrCircuitOpen):
		return "CIRCUIT_OPEN"
	case errors.Is(err, ErrInsufficientLiquidity):
		return "INSUFFICIENT_LIQUIDITY"
	case errors.Is(err, ErrExchangeRejected):
		return "EXCHANGE_REJECTED"
	case errors.Is(err, ErrExchangeTransient):
		return "EXCHANGE_TRANSIENT"
	case errors.Is(err, ErrRecordingFailed):
		return "RECORDING_FAILED"
	default:
		return "INTERNAL_ERROR"
	}
}
