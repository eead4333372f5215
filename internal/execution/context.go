package execution

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade-engine/internal/config"
	"trade-engine/internal/liquidity"
	"trade-engine/internal/symbol"
	"trade-engine/internal/trade"
)

// SymbolResolver 把自由文本标的解析为规范形式。
type SymbolResolver interface {
	Resolve(raw string, venueHint string, opCtx *symbol.OpportunityContext) (symbol.Resolution, error)
}

// PriceSource 提供名义金额折算所需的现价。
type PriceSource interface {
	Get(ctx context.Context, symbol string) (float64, error)
}

// LiquiditySource 提供盘口流动性指标。
type LiquiditySource interface {
	Analyze(ctx context.Context, symbol, exchange string, depth int64) (liquidity.Metrics, error)
}

// Simulator 模拟一笔市价单成交。
type Simulator interface {
	Fill(ctx context.Context, symbol, exchange string, side trade.Side, quantity decimal.Decimal) (trade.ExecutionResult, error)
}

// VenueConnector 在指定交易所执行真实市价单。
type VenueConnector interface {
	Name() string
	PlaceMarketOrder(ctx context.Context, creds trade.Credentials, symbol string, side trade.Side, quantity decimal.Decimal) (trade.ExecutionResult, error)
}

// Recorder 持久化执行记录。写入失败不回滚已完成的真实订单。
type Recorder interface {
	RecordExecution(ctx context.Context, result trade.ExecutionResult) error
}

// ExecutionContext 显式持有协调器的全部依赖：
// 熔断与缓存状态都挂在这里，而不是包级全局变量。
type ExecutionContext struct {
	Resolver    SymbolResolver
	Prices      PriceSource
	Liquidity   LiquiditySource
	Simulator   Simulator
	Connectors  map[string]VenueConnector
	Gate        EmergencyGate
	Credentials CredentialStore
	Recorder    Recorder
	Config      config.ExecutionConfig
	Depth       int64
	Logger      *zap.Logger
}
