package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Venues     VenuesConfig     `mapstructure:"venues"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Liquidity  LiquidityConfig  `mapstructure:"liquidity"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Backtest   BacktestConfig   `mapstructure:"backtest"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Engine     EngineConfig     `mapstructure:"engine"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// MarketDataConfig 描述行情数据源。
type MarketDataConfig struct {
	Exchange string        `mapstructure:"exchange"`
	Retry    RetryConfig   `mapstructure:"retry"`
	PriceTTL time.Duration `mapstructure:"price_ttl"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// VenueConfig 描述单个交易所的连接与默认凭据信息。
type VenueConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	Passphrase string `mapstructure:"passphrase"`
}

// VenuesConfig 聚合三个执行端交易所。
type VenuesConfig struct {
	Binance  VenueConfig   `mapstructure:"binance"`
	Kraken   VenueConfig   `mapstructure:"kraken"`
	Coinbase VenueConfig   `mapstructure:"coinbase"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Retry    RetryConfig   `mapstructure:"retry"`
}

// BreakerConfig 控制熔断器行为。
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// LiquidityConfig 控制盘口分析。
type LiquidityConfig struct {
	Depth    int           `mapstructure:"depth"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// ExecutionConfig 控制执行协调器。
type ExecutionConfig struct {
	MaxQuantity    float64 `mapstructure:"max_quantity"`
	DefaultVenue   string  `mapstructure:"default_venue"`
	SimulationOnly bool    `mapstructure:"simulation_only"`
}

// SimulationConfig 控制模拟撮合。
type SimulationConfig struct {
	FeeRate         float64 `mapstructure:"fee_rate"`
	FallbackSlipPct float64 `mapstructure:"fallback_slip_pct"`
}

// BacktestConfig 控制回测引擎。
type BacktestConfig struct {
	MinWindow      time.Duration `mapstructure:"min_window"`
	Timeframe      string        `mapstructure:"timeframe"`
	InitialCapital float64       `mapstructure:"initial_capital"`
	FeeRate        float64       `mapstructure:"fee_rate"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// EngineConfig 控制主循环节奏与默认策略。
type EngineConfig struct {
	Markets       []string      `mapstructure:"markets"`
	Strategy      string        `mapstructure:"strategy"`
	LoopInterval  time.Duration `mapstructure:"loop_interval"`
	HistoryLimit  int           `mapstructure:"history_limit"`
	OrderNotional float64       `mapstructure:"order_notional"`
	MonitorPort   int           `mapstructure:"monitor_port"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.MarketData.Exchange == "" {
		err = multierr.Append(err, errors.New("market_data.exchange 不能为空"))
	}
	if c.MarketData.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("market_data.retry.max_attempts 必须大于0"))
	}
	if c.MarketData.Retry.MinDelay <= 0 || c.MarketData.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("market_data.retry.delay 必须为正"))
	}
	if c.MarketData.Retry.MinDelay > c.MarketData.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("market_data.retry.min_delay 不能大于 max_delay"))
	}
	if c.MarketData.PriceTTL <= 0 {
		err = multierr.Append(err, errors.New("market_data.price_ttl 必须大于0"))
	}
	if c.Venues.Timeout <= 0 {
		err = multierr.Append(err, errors.New("venues.timeout 必须大于0"))
	}
	if c.Venues.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("venues.retry.max_attempts 必须大于0"))
	}
	if c.Venues.Retry.MinDelay <= 0 || c.Venues.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("venues.retry.delay 必须为正"))
	}
	if c.Breaker.FailureThreshold <= 0 {
		err = multierr.Append(err, errors.New("breaker.failure_threshold 必须大于0"))
	}
	if c.Breaker.Cooldown <= 0 {
		err = multierr.Append(err, errors.New("breaker.cooldown 必须大于0"))
	}
	if c.Liquidity.Depth <= 0 {
		err = multierr.Append(err, errors.New("liquidity.depth 必须大于0"))
	}
	if c.Liquidity.CacheTTL <= 0 {
		err = multierr.Append(err, errors.New("liquidity.cache_ttl 必须大于0"))
	}
	if c.Execution.MaxQuantity <= 0 {
		err = multierr.Append(err, errors.New("execution.max_quantity 必须大于0"))
	}
	if c.Execution.DefaultVenue == "" {
		err = multierr.Append(err, errors.New("execution.default_venue 不能为空"))
	}
	if c.Simulation.FeeRate < 0 || c.Simulation.FeeRate > 0.05 {
		err = multierr.Append(err, errors.New("simulation.fee_rate 应位于[0,0.05]"))
	}
	if c.Simulation.FallbackSlipPct < 0 || c.Simulation.FallbackSlipPct > 0.05 {
		err = multierr.Append(err, errors.New("simulation.fallback_slip_pct 应位于[0,0.05]"))
	}
	if c.Backtest.MinWindow <= 0 {
		err = multierr.Append(err, errors.New("backtest.min_window 必须大于0"))
	}
	if c.Backtest.Timeframe == "" {
		err = multierr.Append(err, errors.New("backtest.timeframe 不能为空"))
	}
	if c.Backtest.InitialCapital <= 0 {
		err = multierr.Append(err, errors.New("backtest.initial_capital 必须大于0"))
	}
	if c.Backtest.FeeRate < 0 || c.Backtest.FeeRate > 0.05 {
		err = multierr.Append(err, errors.New("backtest.fee_rate 应位于[0,0.05]"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if len(c.Engine.Markets) == 0 {
		err = multierr.Append(err, errors.New("engine.markets 至少包含一个交易对"))
	}
	if c.Engine.Strategy == "" {
		err = multierr.Append(err, errors.New("engine.strategy 不能为空"))
	}
	if c.Engine.LoopInterval <= 0 {
		err = multierr.Append(err, errors.New("engine.loop_interval 必须大于0"))
	}
	if c.Engine.HistoryLimit <= 0 {
		err = multierr.Append(err, errors.New("engine.history_limit 必须大于0"))
	}
	if c.Engine.OrderNotional <= 0 {
		err = multierr.Append(err, errors.New("engine.order_notional 必须大于0"))
	}
	if c.Engine.MonitorPort < 0 || c.Engine.MonitorPort > 65535 {
		err = multierr.Append(err, errors.New("engine.monitor_port 必须位于[0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
