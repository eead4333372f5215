package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"trade-engine/internal/breaker"
	"trade-engine/internal/store"
)

// startMonitorServer 暴露熔断健康与最近执行记录的只读观测接口。
func startMonitorServer(ctx context.Context, breakers *breaker.Registry, recorder *store.Recorder, port int, logger *zap.Logger) {
	mux := http.NewServeMux()

	mux.HandleFunc("/breakers", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(breakers.Report()); err != nil {
			logger.Warn("写入熔断报告失败", zap.Error(err))
		}
	})

	mux.HandleFunc("/executions", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if qs := r.URL.Query().Get("limit"); qs != "" {
			if v, err := strconv.Atoi(qs); err == nil && v > 0 {
				if v > 1000 {
					v = 1000
				}
				limit = v
			}
		}

		records, err := recorder.RecentExecutions(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(records); err != nil {
			logger.Warn("写入执行记录失败", zap.Error(err))
		}
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭监控服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("监控服务异常", zap.Error(err))
		}
	}()

	logger.Info("监控接口已启动", zap.Int("port", port))
}
