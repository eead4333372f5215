package backtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trade-engine/internal/config"
	"trade-engine/internal/marketdata"
	"trade-engine/internal/trade"
)

// HistoryProvider 提供历史K线。
type HistoryProvider interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, since time.Time, limit int64) ([]marketdata.Candle, error)
}

// Signal 为策略在某个时间点产生的交易指令。
type Signal struct {
	Symbol     string
	Side       trade.Side
	Quantity   decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// PositionView 为策略可见的持仓摘要。
type PositionView struct {
	Quantity decimal.Decimal
	AvgEntry decimal.Decimal
}

// Snapshot 为策略可见的组合快照。
type Snapshot struct {
	Time      time.Time
	Cash      decimal.Decimal
	Equity    decimal.Decimal
	Positions map[string]PositionView
}

// SignalFunc 在每个时间点被调用一次，history 只包含该时间点
// 之前（含当根）的K线，不允许看到未来数据。
type SignalFunc func(history map[string][]marketdata.Candle, snapshot Snapshot, ts time.Time) []Signal

// EquityPoint 为净值曲线上的一个点。
type EquityPoint struct {
	Time  time.Time
	Value float64
}

// Report 汇总一次回测的全部产出。
type Report struct {
	InitialCapital decimal.Decimal
	FinalCapital   decimal.Decimal
	EquityCurve    []EquityPoint
	ReturnSeries   []float64
	Metrics        Metrics
	Trades         []trade.ClosedTrade
}

// FillPriceFunc 把信号的参考价转换为成交价，用于叠加滑点模型。
type FillPriceFunc func(symbol string, side trade.Side, price decimal.Decimal) decimal.Decimal

// Engine 在统一时间轴上重放历史行情并驱动策略。
type Engine struct {
	provider  HistoryProvider
	cfg       config.BacktestConfig
	logger    *zap.Logger
	fillPrice FillPriceFunc
}

// NewEngine 创建回测引擎。
func NewEngine(provider HistoryProvider, cfg config.BacktestConfig, logger *zap.Logger) (*Engine, error) {
	if provider == nil {
		return nil, fmt.Errorf("backtest: provider 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinWindow <= 0 {
		cfg.MinWindow = 90 * 24 * time.Hour
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1h"
	}
	if cfg.FeeRate <= 0 {
		cfg.FeeRate = 0.001
	}
	return &Engine{
		provider: provider,
		cfg:      cfg,
		logger:   logger,
		fillPrice: func(_ string, _ trade.Side, price decimal.Decimal) decimal.Decimal {
			return price
		},
	}, nil
}

// UseFillPrice 替换信号的成交价模型。默认按K线收盘价成交，
// 接入滑点模型时由此注入。
func (e *Engine) UseFillPrice(fn FillPriceFunc) {
	if fn != nil {
		e.fillPrice = fn
	}
}

// Run 执行回测：并发拉取各标的历史，合并为统一时间轴，
// 逐点驱动策略并撮合信号，窗口结束时强制平仓。
func (e *Engine) Run(ctx context.Context, signalFn SignalFunc, symbols []string, start, end time.Time, initialCapital decimal.Decimal) (Report, error) {
	if signalFn == nil {
		return Report{}, fmt.Errorf("backtest: 策略函数不能为空")
	}
	if len(symbols) == 0 {
		return Report{}, fmt.Errorf("backtest: 至少需要一个标的")
	}
	if !initialCapital.IsPositive() {
		return Report{}, fmt.Errorf("backtest: 初始资金必须为正")
	}
	if window := end.Sub(start); window < e.cfg.MinWindow {
		return Report{}, fmt.Errorf("backtest: 窗口 %s 小于最小要求 %s", window, e.cfg.MinWindow)
	}

	histories, err := e.fetchHistories(ctx, symbols, start, end)
	if err != nil {
		return Report{}, err
	}

	timeline := buildTimeline(histories)
	if len(timeline) == 0 {
		return Report{}, fmt.Errorf("backtest: 窗口内没有任何K线")
	}

	e.logger.Info("回测开始",
		zap.Strings("symbols", symbols),
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("steps", len(timeline)),
	)

	portfolio := NewPortfolio(initialCapital, decimal.NewFromFloat(e.cfg.FeeRate))

	cursor := make(map[string]int, len(symbols))
	lastPrice := make(map[string]decimal.Decimal, len(symbols))
	visible := make(map[string][]marketdata.Candle, len(symbols))

	equityCurve := make([]EquityPoint, 0, len(timeline))
	equityValues := make([]float64, 0, len(timeline))
	returnSeries := make([]float64, 0, len(timeline))

	for _, ts := range timeline {
		// 推进各标的游标：已到达的K线进入可见历史并刷新现价。
		for symbol, candles := range histories {
			i := cursor[symbol]
			for i < len(candles) && !candles[i].Timestamp.After(ts) {
				lastPrice[symbol] = decimal.NewFromFloat(candles[i].Close)
				i++
			}
			cursor[symbol] = i
			visible[symbol] = candles[:i]
		}

		snapshot := e.snapshot(portfolio, lastPrice, ts)
		for _, signal := range signalFn(visible, snapshot, ts) {
			price, ok := lastPrice[signal.Symbol]
			if !ok || !price.IsPositive() {
				continue
			}
			fill := e.fillPrice(signal.Symbol, signal.Side, price)
			switch signal.Side {
			case trade.SideBuy:
				portfolio.Buy(signal.Symbol, signal.Quantity, fill, ts, signal.StopLoss, signal.TakeProfit)
			case trade.SideSell:
				portfolio.Sell(signal.Symbol, signal.Quantity, fill, ts, trade.ExitReasonManual)
			}
		}

		for _, symbol := range portfolio.OpenSymbols() {
			if price, ok := lastPrice[symbol]; ok {
				portfolio.CheckExits(symbol, price, ts)
			}
		}

		equity, _ := portfolio.Equity(lastPrice).Float64()
		if n := len(equityValues); n > 0 && equityValues[n-1] > 0 {
			returnSeries = append(returnSeries, equity/equityValues[n-1]-1)
		}
		equityValues = append(equityValues, equity)
		equityCurve = append(equityCurve, EquityPoint{Time: ts, Value: equity})
	}

	portfolio.CloseAll(lastPrice, timeline[len(timeline)-1], trade.ExitReasonBacktestEnd)

	final := portfolio.Cash()
	closed := portfolio.ClosedTrades()

	e.logger.Info("回测结束",
		zap.String("final_capital", final.String()),
		zap.Int("closed_trades", len(closed)),
	)

	return Report{
		InitialCapital: initialCapital,
		FinalCapital:   final,
		EquityCurve:    equityCurve,
		ReturnSeries:   returnSeries,
		Metrics:        calculateMetrics(equityValues, returnSeries, closed, timeframeDuration(e.cfg.Timeframe)),
		Trades:         closed,
	}, nil
}

// fetchHistories 并发拉取各标的历史K线并裁剪到窗口内。
func (e *Engine) fetchHistories(ctx context.Context, symbols []string, start, end time.Time) (map[string][]marketdata.Candle, error) {
	step := timeframeDuration(e.cfg.Timeframe)
	limit := int64(end.Sub(start)/step) + 2

	var mu sync.Mutex
	histories := make(map[string][]marketdata.Candle, len(symbols))

	group, groupCtx := errgroup.WithContext(ctx)
	for _, symbol := range symbols {
		group.Go(func() error {
			candles, err := e.provider.FetchCandles(groupCtx, symbol, e.cfg.Timeframe, start, limit)
			if err != nil {
				return fmt.Errorf("backtest: 拉取 %s 历史失败: %w", symbol, err)
			}

			inWindow := make([]marketdata.Candle, 0, len(candles))
			for _, c := range candles {
				if c.Timestamp.Before(start) || c.Timestamp.After(end) {
					continue
				}
				inWindow = append(inWindow, c)
			}
			if len(inWindow) == 0 {
				return fmt.Errorf("backtest: %s 在窗口内没有K线", symbol)
			}
			sort.Slice(inWindow, func(i, j int) bool {
				return inWindow[i].Timestamp.Before(inWindow[j].Timestamp)
			})

			mu.Lock()
			histories[symbol] = inWindow
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return histories, nil
}

func (e *Engine) snapshot(p *Portfolio, prices map[string]decimal.Decimal, ts time.Time) Snapshot {
	positions := make(map[string]PositionView)
	for _, symbol := range p.OpenSymbols() {
		pos := p.Position(symbol)
		positions[symbol] = PositionView{
			Quantity: pos.Quantity(),
			AvgEntry: pos.AvgEntry(),
		}
	}
	return Snapshot{
		Time:      ts,
		Cash:      p.Cash(),
		Equity:    p.Equity(prices),
		Positions: positions,
	}
}

// buildTimeline 合并所有标的的时间戳并去重排序。
func buildTimeline(histories map[string][]marketdata.Candle) []time.Time {
	seen := make(map[int64]struct{})
	timeline := make([]time.Time, 0)
	for _, candles := range histories {
		for _, c := range candles {
			key := c.Timestamp.UnixNano()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			timeline = append(timeline, c.Timestamp)
		}
	}
	sort.Slice(timeline, func(i, j int) bool { return timeline[i].Before(timeline[j]) })
	return timeline
}

func timeframeDuration(timeframe string) time.Duration {
	switch timeframe {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Hour
	}
}
