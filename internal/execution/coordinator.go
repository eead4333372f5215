package execution

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade-engine/internal/liquidity"
	"trade-engine/internal/marketdata"
	"trade-engine/internal/trade"
)

// Outcome 为一次执行的结构化结果。协调器从不让裸异常逃逸，
// 所有失败路径都折叠进同一种形状。
type Outcome struct {
	Success          bool
	Result           trade.ExecutionResult
	ErrorCode        string
	ErrorMessage     string
	RecordingWarning bool // 订单已成交但本地落库失败
}

// Coordinator 串联校验、解析、定价、停机检查与执行分发。
type Coordinator struct {
	ctx    *ExecutionContext
	logger *zap.Logger
}

// NewCoordinator 创建执行协调器。
func NewCoordinator(execCtx *ExecutionContext) *Coordinator {
	logger := execCtx.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{ctx: execCtx, logger: logger}
}

// Execute 处理一笔交易请求。simulationMode 为真时走模拟撮合；
// 真实路径上凭据缺失会降级为模拟并打上 SimulationFallback 标记。
func (c *Coordinator) Execute(ctx context.Context, req trade.Request, userID string, simulationMode bool) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("执行协调器捕获 panic",
				zap.Any("panic", r),
				zap.String("symbol", req.Symbol),
				zap.String("user", userID),
			)
			outcome = Outcome{
				Success:      false,
				ErrorCode:    "INTERNAL_ERROR",
				ErrorMessage: fmt.Sprintf("internal fault: %v", r),
			}
		}
	}()

	// 停机开关优先于一切副作用。
	halted, err := c.ctx.Gate.Halted(ctx, userID)
	if err != nil {
		return c.failure(fmt.Errorf("%w: 停机状态查询失败: %v", trade.ErrEmergencyHalt, err))
	}
	if halted {
		return c.failure(fmt.Errorf("%w: user=%s", trade.ErrEmergencyHalt, userID))
	}

	if req.Side != trade.SideBuy && req.Side != trade.SideSell {
		return c.failure(fmt.Errorf("%w: 未知方向 %q", trade.ErrInvalidSizing, string(req.Side)))
	}
	// 目前只实现市价执行：限价等类型必须显式拒绝，不能静默转市价。
	if req.OrderType != "" && req.OrderType != trade.OrderTypeMarket {
		return c.failure(fmt.Errorf("%w: %q", trade.ErrUnsupportedOrderType, string(req.OrderType)))
	}
	if !req.HasQuantity() && !req.HasNotional() {
		return c.failure(fmt.Errorf("%w: 数量与名义金额均未给出", trade.ErrInvalidSizing))
	}

	venue := strings.ToLower(strings.TrimSpace(req.Exchange))
	if venue == "" || venue == trade.ExchangeAuto {
		venue = c.ctx.Config.DefaultVenue
	}

	resolution, err := c.ctx.Resolver.Resolve(req.Symbol, venue, nil)
	if err != nil {
		return c.failure(err)
	}

	quantity := req.Quantity
	if !req.HasQuantity() {
		price, err := c.ctx.Prices.Get(ctx, resolution.Normalized)
		if err != nil {
			return c.failure(fmt.Errorf("%w: %s 名义金额无法折算", trade.ErrPriceUnavailable, resolution.Normalized))
		}
		quantity = req.NotionalUSD.Div(decimal.NewFromFloat(price))
	}
	if !quantity.IsPositive() {
		return c.failure(fmt.Errorf("%w: 折算后数量非正", trade.ErrInvalidSizing))
	}

	// 防胖手指：超过硬上限直接拒绝，不区分模拟与真实。
	if maxQty := decimal.NewFromFloat(c.ctx.Config.MaxQuantity); c.ctx.Config.MaxQuantity > 0 && quantity.GreaterThan(maxQty) {
		return c.failure(fmt.Errorf("%w: 数量 %s 超过上限 %s", trade.ErrInvalidSizing, quantity, maxQty))
	}

	if simulationMode || c.ctx.Config.SimulationOnly {
		result, err := c.ctx.Simulator.Fill(ctx, resolution.Normalized, venue, req.Side, quantity)
		if err != nil {
			return c.failure(err)
		}
		return c.record(ctx, applyIntent(result, req))
	}

	creds, err := c.ctx.Credentials.Get(ctx, userID, venue)
	if err != nil {
		return c.failure(fmt.Errorf("execution: 凭据检索失败: %w", err))
	}
	if creds.IsZero() {
		// 凭据缺失是正常分支：降级为模拟并显式标记。
		c.logger.Info("凭据缺失，真实执行降级为模拟",
			zap.String("user", userID),
			zap.String("exchange", venue),
			zap.String("symbol", resolution.Normalized),
		)
		result, err := c.ctx.Simulator.Fill(ctx, resolution.Normalized, venue, req.Side, quantity)
		if err != nil {
			return c.failure(err)
		}
		result.SimulationFallback = true
		return c.record(ctx, applyIntent(result, req))
	}

	if err := c.checkLiquidity(ctx, resolution.Normalized, venue, quantity); err != nil {
		return c.failure(err)
	}

	conn, ok := c.ctx.Connectors[venue]
	if !ok {
		return c.failure(fmt.Errorf("%w: 不支持的交易所 %q", trade.ErrExchangeRejected, venue))
	}

	result, err := conn.PlaceMarketOrder(ctx, creds, resolution.NativeFor(venue), req.Side, quantity)
	if err != nil {
		return c.failure(err)
	}
	result.Symbol = resolution.Normalized

	return c.record(ctx, applyIntent(result, req))
}

// applyIntent 把请求携带的止损止盈意图附到结果上，随执行记录落库。
func applyIntent(result trade.ExecutionResult, req trade.Request) trade.ExecutionResult {
	result.StopLoss = req.StopLoss
	result.TakeProfit = req.TakeProfit
	return result
}

// checkLiquidity 在真实下单前核对盘口深度。只有真实盘口给出的
// 深度不足才拒绝；合成盘口置信度低，仅记录告警。
func (c *Coordinator) checkLiquidity(ctx context.Context, normalized, venue string, quantity decimal.Decimal) error {
	metrics, err := c.ctx.Liquidity.Analyze(ctx, normalized, venue, c.ctx.Depth)
	if err != nil {
		c.logger.Warn("流动性分析不可用，跳过深度检查",
			zap.String("symbol", normalized),
			zap.String("exchange", venue),
			zap.Error(err),
		)
		return nil
	}

	depth := decimal.NewFromFloat(metrics.DepthWithin1Pct)
	if quantity.GreaterThan(depth) {
		if metrics.Source == marketdata.BookSourceLive {
			return fmt.Errorf("%w: 请求 %s 超过±1%%深度 %s", trade.ErrInsufficientLiquidity, quantity, depth)
		}
		c.logger.Warn("合成盘口深度不足，继续执行",
			zap.String("symbol", normalized),
			zap.String("exchange", venue),
			zap.String("quantity", quantity.String()),
			zap.Float64("depth", metrics.DepthWithin1Pct),
		)
	}
	return nil
}

// record 持久化执行结果。落库失败不回滚已完成的订单，
// 以数据完整性告警的形式上浮。
func (c *Coordinator) record(ctx context.Context, result trade.ExecutionResult) Outcome {
	outcome := Outcome{Success: true, Result: result}

	if c.ctx.Recorder == nil {
		return outcome
	}
	if err := c.ctx.Recorder.RecordExecution(ctx, result); err != nil {
		c.logger.Error("执行记录落库失败",
			zap.String("order_id", result.OrderID),
			zap.String("symbol", result.Symbol),
			zap.Bool("is_simulation", result.IsSimulation),
			zap.Error(err),
		)
		outcome.RecordingWarning = true
	}
	return outcome
}

func (c *Coordinator) failure(err error) Outcome {
	c.logger.Warn("交易请求被拒绝", zap.String("code", trade.ErrorCode(err)), zap.Error(err))
	return Outcome{
		Success:      false,
		ErrorCode:    trade.ErrorCode(err),
		ErrorMessage: err.Error(),
	}
}

var _ LiquiditySource = (*liquidity.Analyzer)(nil)
