package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade-engine/internal/config"
	"trade-engine/internal/execution"
	"trade-engine/internal/marketdata"
	"trade-engine/internal/strategy"
	"trade-engine/internal/trade"
)

// engineUserID 为主循环提交请求时使用的调用方标识。
const engineUserID = "engine"

// orchestrator 驱动单次调度：拉取行情、评估策略、提交执行。
// 进程内维护每个标的的持仓数量，用于区分开平仓信号。
type orchestrator struct {
	cfg         *config.Config
	coordinator *execution.Coordinator
	market      *marketdata.Client
	strat       strategy.Strategy
	logger      *zap.Logger

	holdings map[string]decimal.Decimal
}

func newOrchestrator(cfg *config.Config, coordinator *execution.Coordinator, market *marketdata.Client, strat strategy.Strategy, logger *zap.Logger) *orchestrator {
	return &orchestrator{
		cfg:         cfg,
		coordinator: coordinator,
		market:      market,
		strat:       strat,
		logger:      logger,
		holdings:    make(map[string]decimal.Decimal),
	}
}

// Tick 对每个市场执行一轮策略评估。单个市场失败不影响其余市场。
func (o *orchestrator) Tick(ctx context.Context) error {
	for _, sym := range o.cfg.Engine.Markets {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.evaluateMarket(ctx, sym)
	}
	return nil
}

func (o *orchestrator) evaluateMarket(ctx context.Context, sym string) {
	candles, err := o.market.FetchCandles(ctx, sym, "1h", time.Time{}, int64(o.cfg.Engine.HistoryLimit))
	if err != nil {
		o.logger.Warn("拉取K线失败", zap.String("symbol", sym), zap.Error(err))
		return
	}

	holding := o.holdings[sym].IsPositive()
	advice, err := o.strat.Evaluate(sym, candles, holding)
	if err != nil {
		o.logger.Warn("策略评估失败", zap.String("symbol", sym), zap.Error(err))
		return
	}
	side, ok := strategy.SideOf(advice.Action)
	if !ok {
		return
	}

	price := decimal.NewFromFloat(candles[len(candles)-1].Close)
	if !price.IsPositive() {
		return
	}

	req := trade.Request{
		Symbol:     sym,
		Side:       side,
		OrderType:  trade.OrderTypeMarket,
		Exchange:   trade.ExchangeAuto,
		StrategyID: o.strat.Name(),
	}
	switch side {
	case trade.SideBuy:
		req.NotionalUSD = decimal.NewFromFloat(o.cfg.Engine.OrderNotional)
		if advice.StopLossPct > 0 {
			req.StopLoss = price.Mul(decimal.NewFromFloat(1 - advice.StopLossPct))
		}
		if advice.TakeProfitPct > 0 {
			req.TakeProfit = price.Mul(decimal.NewFromFloat(1 + advice.TakeProfitPct))
		}
	case trade.SideSell:
		req.Quantity = o.holdings[sym]
	}

	outcome := o.coordinator.Execute(ctx, req, engineUserID, o.cfg.Execution.SimulationOnly)
	if !outcome.Success {
		o.logger.Warn("交易执行失败",
			zap.String("symbol", sym),
			zap.String("side", string(side)),
			zap.String("code", outcome.ErrorCode),
			zap.String("reason", outcome.ErrorMessage),
		)
		return
	}

	result := outcome.Result
	switch side {
	case trade.SideBuy:
		o.holdings[sym] = o.holdings[sym].Add(result.ExecutedQuantity)
	case trade.SideSell:
		o.holdings[sym] = o.holdings[sym].Sub(result.ExecutedQuantity)
		if !o.holdings[sym].IsPositive() {
			delete(o.holdings, sym)
		}
	}

	o.logger.Info("交易执行完成",
		zap.String("symbol", sym),
		zap.String("side", string(side)),
		zap.String("order_id", result.OrderID),
		zap.String("status", string(result.Status)),
		zap.String("quantity", result.ExecutedQuantity.String()),
		zap.String("price", result.ExecutedPrice.String()),
		zap.Bool("is_simulation", result.IsSimulation),
		zap.Bool("simulation_fallback", result.SimulationFallback),
	)
}
