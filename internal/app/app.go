package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade-engine/internal/backtest"
	"trade-engine/internal/breaker"
	"trade-engine/internal/config"
	"trade-engine/internal/connector"
	"trade-engine/internal/execution"
	"trade-engine/internal/liquidity"
	"trade-engine/internal/marketdata"
	"trade-engine/internal/simulation"
	"trade-engine/internal/store"
	"trade-engine/internal/strategy"
	"trade-engine/internal/symbol"
	"trade-engine/internal/trade"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store

	market      *marketdata.Client
	prices      *marketdata.PriceCache
	breakers    *breaker.Registry
	recorder    *store.Recorder
	gate        *execution.InMemoryGate
	coordinator *execution.Coordinator
	strat       strategy.Strategy
	backtester  *backtest.Engine
}

// New 创建 App 实例并完成全部装配。
func New(cfg *config.Config, logger *zap.Logger, sqliteStore *store.Store) (*App, error) {
	market, err := marketdata.NewClient(cfg.MarketData, logger)
	if err != nil {
		return nil, fmt.Errorf("app: 初始化行情客户端失败: %w", err)
	}

	prices := marketdata.NewPriceCache(market, cfg.MarketData.PriceTTL, logger)
	analyzer := liquidity.NewAnalyzer(market, prices, cfg.Liquidity.CacheTTL, logger)
	resolver := symbol.NewResolver(30*time.Second, logger)

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
	}, logger)

	nonces := connector.NewNonceGenerator()
	connectors := make(map[string]execution.VenueConnector, 3)
	for _, venue := range []string{"binance", "kraken", "coinbase"} {
		conn, err := connector.New(venue, cfg.Venues, nonces, logger)
		if err != nil {
			return nil, fmt.Errorf("app: 初始化 %s 连接器失败: %w", venue, err)
		}
		connectors[venue] = connector.Guard(conn, breakers.Get("order."+venue))
	}

	recorder, err := store.NewRecorder(sqliteStore, logger)
	if err != nil {
		return nil, fmt.Errorf("app: 初始化记录器失败: %w", err)
	}

	gate := execution.NewInMemoryGate(logger)
	simulator := simulation.NewEngine(market, prices, cfg.Simulation, logger)

	coordinator := execution.NewCoordinator(&execution.ExecutionContext{
		Resolver:    resolver,
		Prices:      prices,
		Liquidity:   analyzer,
		Simulator:   simulator,
		Connectors:  connectors,
		Gate:        gate,
		Credentials: execution.NewStaticCredentialStore(cfg.Venues),
		Recorder:    recorder,
		Config:      cfg.Execution,
		Depth:       int64(cfg.Liquidity.Depth),
		Logger:      logger,
	})

	strat, err := strategy.NewRegistry().New(cfg.Engine.Strategy)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	backtester, err := backtest.NewEngine(market, cfg.Backtest, logger)
	if err != nil {
		return nil, fmt.Errorf("app: 初始化回测引擎失败: %w", err)
	}

	return &App{
		cfg:         cfg,
		logger:      logger,
		store:       sqliteStore,
		market:      market,
		prices:      prices,
		breakers:    breakers,
		recorder:    recorder,
		gate:        gate,
		coordinator: coordinator,
		strat:       strat,
		backtester:  backtester,
	}, nil
}

// Run 驱动实时主循环：按固定节奏评估策略并提交交易请求。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易引擎已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("strategy", a.strat.Name()),
		zap.Strings("markets", a.cfg.Engine.Markets),
		zap.Bool("simulation_only", a.cfg.Execution.SimulationOnly),
	)

	if a.cfg.Engine.MonitorPort > 0 {
		startMonitorServer(ctx, a.breakers, a.recorder, a.cfg.Engine.MonitorPort, a.logger)
	}

	orch := newOrchestrator(a.cfg, a.coordinator, a.market, a.strat, a.logger)

	loopInterval := a.cfg.Engine.LoopInterval
	if loopInterval <= 0 {
		loopInterval = time.Minute
	}

	if err := orch.Tick(ctx); err != nil {
		a.logger.Error("首次执行失败", zap.Error(err))
	}
	a.snapshotBreakers(ctx)

	ticker := time.NewTicker(loopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		case <-ticker.C:
			if err := orch.Tick(ctx); err != nil {
				a.logger.Error("执行调度失败", zap.Error(err))
			}
			a.snapshotBreakers(ctx)
		}
	}
}

// snapshotBreakers 把熔断健康状态落库，用于事后排查。
func (a *App) snapshotBreakers(ctx context.Context) {
	for _, health := range a.breakers.Report() {
		if err := a.recorder.RecordBreakerHealth(ctx, health); err != nil {
			a.logger.Warn("熔断健康快照落库失败",
				zap.String("operation", health.Operation),
				zap.Error(err),
			)
		}
	}
}

// RunBacktest 在指定窗口上回放策略并输出绩效报告。
func (a *App) RunBacktest(ctx context.Context, start, end time.Time) error {
	signalFn := a.backtestSignalFn()
	initial := decimal.NewFromFloat(a.cfg.Backtest.InitialCapital)

	report, err := a.backtester.Run(ctx, signalFn, a.cfg.Engine.Markets, start, end, initial)
	if err != nil {
		return err
	}

	a.logger.Info("回测报告",
		zap.String("initial_capital", report.InitialCapital.String()),
		zap.String("final_capital", report.FinalCapital.String()),
		zap.Float64("total_return", report.Metrics.TotalReturn),
		zap.Float64("max_drawdown", report.Metrics.MaxDrawdown),
		zap.Float64("sharpe_ratio", report.Metrics.SharpeRatio),
		zap.Float64("win_rate", report.Metrics.WinRate),
		zap.Int("trades", report.Metrics.TradeCount),
	)

	for _, closed := range report.Trades {
		if err := a.recorder.RecordClosedTrade(ctx, closed); err != nil {
			a.logger.Warn("平仓记录落库失败",
				zap.String("symbol", closed.Symbol),
				zap.Error(err),
			)
		}
	}
	return nil
}

// backtestSignalFn 把策略接口适配为回测引擎的信号函数。
func (a *App) backtestSignalFn() backtest.SignalFunc {
	notional := decimal.NewFromFloat(a.cfg.Engine.OrderNotional)

	return func(history map[string][]marketdata.Candle, snap backtest.Snapshot, ts time.Time) []backtest.Signal {
		var signals []backtest.Signal
		for _, sym := range a.cfg.Engine.Markets {
			candles := history[sym]
			if len(candles) == 0 {
				continue
			}

			view, holding := snap.Positions[sym]
			advice, err := a.strat.Evaluate(sym, candles, holding)
			if err != nil {
				a.logger.Warn("策略评估失败", zap.String("symbol", sym), zap.Error(err))
				continue
			}
			side, ok := strategy.SideOf(advice.Action)
			if !ok {
				continue
			}

			price := decimal.NewFromFloat(candles[len(candles)-1].Close)
			if !price.IsPositive() {
				continue
			}

			signal := backtest.Signal{Symbol: sym, Side: side}
			switch side {
			case trade.SideBuy:
				signal.Quantity = notional.Div(price)
				if advice.StopLossPct > 0 {
					signal.StopLoss = price.Mul(decimal.NewFromFloat(1 - advice.StopLossPct))
				}
				if advice.TakeProfitPct > 0 {
					signal.TakeProfit = price.Mul(decimal.NewFromFloat(1 + advice.TakeProfitPct))
				}
			case trade.SideSell:
				signal.Quantity = view.Quantity
			}
			if signal.Quantity.IsPositive() {
				signals = append(signals, signal)
			}
		}
		return signals
	}
}
