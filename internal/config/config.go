package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "engine"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("market_data.exchange", "binance")
	v.SetDefault("market_data.retry.max_attempts", 5)
	v.SetDefault("market_data.retry.min_delay", "500ms")
	v.SetDefault("market_data.retry.max_delay", "5s")
	v.SetDefault("market_data.price_ttl", "5s")

	v.SetDefault("venues.timeout", "30s")
	v.SetDefault("venues.retry.max_attempts", 3)
	v.SetDefault("venues.retry.min_delay", "500ms")
	v.SetDefault("venues.retry.max_delay", "5s")
	v.SetDefault("venues.binance.base_url", "https://api.binance.com")
	v.SetDefault("venues.kraken.base_url", "https://api.kraken.com")
	v.SetDefault("venues.coinbase.base_url", "https://api.exchange.coinbase.com")

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.cooldown", "300s")

	v.SetDefault("liquidity.depth", 20)
	v.SetDefault("liquidity.cache_ttl", "5s")

	v.SetDefault("execution.max_quantity", 1000)
	v.SetDefault("execution.default_venue", "binance")
	v.SetDefault("execution.simulation_only", true)

	v.SetDefault("simulation.fee_rate", 0.001)
	v.SetDefault("simulation.fallback_slip_pct", 0.002)

	v.SetDefault("backtest.min_window", "2160h") // 90 天
	v.SetDefault("backtest.timeframe", "1d")
	v.SetDefault("backtest.initial_capital", 10000)
	v.SetDefault("backtest.fee_rate", 0.001)

	v.SetDefault("database.path", "data/trade_engine.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("engine.markets", []string{"BTC/USDT"})
	v.SetDefault("engine.strategy", "sma_cross")
	v.SetDefault("engine.loop_interval", "1m")
	v.SetDefault("engine.history_limit", 200)
	v.SetDefault("engine.order_notional", 1000)
	v.SetDefault("engine.monitor_port", 0)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
