package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"trade-engine/internal/app"
	"trade-engine/internal/config"
	"trade-engine/internal/log"
	"trade-engine/internal/store"
)

func main() {
	var (
		configPath  string
		backtestRun bool
		startDate   string
		endDate     string
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.BoolVar(&backtestRun, "backtest", false, "运行回测后退出，而非实时主循环")
	flag.StringVar(&startDate, "start", "", "回测起始日期（2006-01-02），默认按最小窗口回推")
	flag.StringVar(&endDate, "end", "", "回测结束日期（2006-01-02），默认今天")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		logger.Error("初始化数据库失败", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	engine, err := app.New(cfg, logger, sqliteStore)
	if err != nil {
		logger.Error("初始化引擎失败", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if backtestRun {
		start, end, err := backtestWindow(startDate, endDate, cfg.Backtest.MinWindow)
		if err != nil {
			logger.Error("回测窗口无效", zap.Error(err))
			os.Exit(1)
		}
		if err := engine.RunBacktest(ctx, start, end); err != nil {
			logger.Error("回测失败", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("回测完成")
		return
	}

	if err := engine.Run(ctx); err != nil {
		logger.Error("系统运行异常", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("系统已安全退出")
}

// backtestWindow 解析回测窗口，缺省时以最小窗口回推到今天。
func backtestWindow(startDate, endDate string, minWindow time.Duration) (time.Time, time.Time, error) {
	const layout = "2006-01-02"

	end := time.Now().UTC().Truncate(24 * time.Hour)
	if endDate != "" {
		parsed, err := time.Parse(layout, endDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("解析结束日期失败: %w", err)
		}
		end = parsed
	}

	start := end.Add(-minWindow)
	if startDate != "" {
		parsed, err := time.Parse(layout, startDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("解析起始日期失败: %w", err)
		}
		start = parsed
	}

	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("起始日期 %s 必须早于结束日期 %s", start.Format(layout), end.Format(layout))
	}
	return start, end, nil
}
