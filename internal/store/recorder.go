package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade-engine/internal/breaker"
	"trade-engine/internal/trade"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    status TEXT NOT NULL,
    exchange TEXT NOT NULL,
    executed_quantity TEXT NOT NULL,
    executed_price TEXT NOT NULL,
    fees TEXT NOT NULL,
    fee_asset TEXT NOT NULL,
    is_simulation INTEGER NOT NULL,
    simulation_fallback INTEGER NOT NULL,
    slippage_pct REAL NOT NULL,
    stop_loss TEXT NOT NULL,
    take_profit TEXT NOT NULL,
    raw_response TEXT NOT NULL,
    executed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_symbol ON executions(symbol, executed_at);

CREATE TABLE IF NOT EXISTS closed_trades (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    entry_time TIMESTAMP NOT NULL,
    exit_time TIMESTAMP NOT NULL,
    entry_price TEXT NOT NULL,
    exit_price TEXT NOT NULL,
    quantity TEXT NOT NULL,
    exit_reason TEXT NOT NULL,
    pnl TEXT NOT NULL,
    pnl_pct REAL NOT NULL,
    fees TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS breaker_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    operation TEXT NOT NULL,
    state TEXT NOT NULL,
    failure_count INTEGER NOT NULL,
    success_count INTEGER NOT NULL,
    success_rate REAL NOT NULL,
    avg_latency_ms INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Recorder 把执行结果、平仓记录与熔断健康事件以只追加方式落库。
type Recorder struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRecorder 创建记录器并确保表结构存在。
func NewRecorder(store *Store, logger *zap.Logger) (*Recorder, error) {
	if store == nil || store.DB() == nil {
		return nil, fmt.Errorf("store: 数据库连接不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := store.DB().Exec(schema); err != nil {
		return nil, fmt.Errorf("store: 初始化表结构失败: %w", err)
	}
	return &Recorder{db: store.DB(), logger: logger}, nil
}

// RecordExecution 追加一条执行记录，含交易所原始响应供审计。
func (r *Recorder) RecordExecution(ctx context.Context, result trade.ExecutionResult) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO executions (
    order_id, symbol, side, status, exchange,
    executed_quantity, executed_price, fees, fee_asset,
    is_simulation, simulation_fallback, slippage_pct,
    stop_loss, take_profit, raw_response, executed_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.OrderID,
		result.Symbol,
		string(result.Side),
		string(result.Status),
		result.Exchange,
		result.ExecutedQuantity.String(),
		result.ExecutedPrice.String(),
		result.Fees.String(),
		result.FeeAsset,
		boolToInt(result.IsSimulation),
		boolToInt(result.SimulationFallback),
		result.SlippagePct,
		result.StopLoss.String(),
		result.TakeProfit.String(),
		result.RawResponse,
		result.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", trade.ErrRecordingFailed, err)
	}
	return nil
}

// RecordClosedTrade 追加一条平仓记录。
func (r *Recorder) RecordClosedTrade(ctx context.Context, closed trade.ClosedTrade) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO closed_trades (
    symbol, side, entry_time, exit_time,
    entry_price, exit_price, quantity, exit_reason, pnl, pnl_pct, fees
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		closed.Symbol,
		string(closed.Side),
		closed.EntryTime,
		closed.ExitTime,
		closed.EntryPrice.String(),
		closed.ExitPrice.String(),
		closed.Quantity.String(),
		string(closed.ExitReason),
		closed.PnL.String(),
		closed.PnLPct,
		closed.Fees.String(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", trade.ErrRecordingFailed, err)
	}
	return nil
}

// RecordBreakerHealth 追加一条熔断健康快照。
func (r *Recorder) RecordBreakerHealth(ctx context.Context, health breaker.Health) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO breaker_events (
    operation, state, failure_count, success_count, success_rate, avg_latency_ms, recorded_at
) VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		health.Operation,
		health.State,
		health.FailureCount,
		health.SuccessCount,
		health.SuccessRate,
		health.AvgLatency.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", trade.ErrRecordingFailed, err)
	}
	return nil
}

// RecentExecutions 返回最近的执行记录，按时间倒序。
func (r *Recorder) RecentExecutions(ctx context.Context, limit int) ([]trade.ExecutionResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT order_id, symbol, side, status, exchange,
       executed_quantity, executed_price, fees, fee_asset,
       is_simulation, simulation_fallback, slippage_pct,
       stop_loss, take_profit, raw_response, executed_at
FROM executions ORDER BY executed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: 查询执行记录失败: %w", err)
	}
	defer rows.Close()

	var results []trade.ExecutionResult
	for rows.Next() {
		var (
			result             trade.ExecutionResult
			side, status       string
			qty, price, fees   string
			stop, take         string
			isSim, simFallback int
		)
		if err := rows.Scan(
			&result.OrderID, &result.Symbol, &side, &status, &result.Exchange,
			&qty, &price, &fees, &result.FeeAsset,
			&isSim, &simFallback, &result.SlippagePct,
			&stop, &take, &result.RawResponse, &result.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("store: 读取执行记录失败: %w", err)
		}
		result.Side = trade.Side(side)
		result.Status = trade.ExecutionStatus(status)
		result.ExecutedQuantity = mustDecimal(qty)
		result.ExecutedPrice = mustDecimal(price)
		result.Fees = mustDecimal(fees)
		result.StopLoss = mustDecimal(stop)
		result.TakeProfit = mustDecimal(take)
		result.IsSimulation = isSim != 0
		result.SimulationFallback = simFallback != 0
		results = append(results, result)
	}
	return results, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
