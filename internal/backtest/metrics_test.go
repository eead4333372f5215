package backtest

import (
	"math"
	"testing"
	"time"
)

func TestComputeSharpe_AnnualizationFollowsStep(t *testing.T) {
	returns := []float64{0.01, -0.005, 0.02, 0.003, -0.001, 0.007}

	hourly := computeSharpe(returns, time.Hour)
	daily := computeSharpe(returns, 24*time.Hour)
	if hourly == 0 || daily == 0 {
		t.Fatalf("sharpe = %f / %f, want non-zero", hourly, daily)
	}

	// 小时步比日线步多24倍年化步数，比值应为 sqrt(24)。
	if ratio := hourly / daily; math.Abs(ratio-math.Sqrt(24)) > 1e-9 {
		t.Errorf("hourly/daily = %f, want sqrt(24)", ratio)
	}
}

func TestComputeDrawdown(t *testing.T) {
	equity := []float64{100, 120, 90, 110, 80}

	// 峰值120跌到80，最大回撤 1/3。
	if dd := computeDrawdown(equity); math.Abs(dd-1.0/3) > 1e-9 {
		t.Errorf("drawdown = %f, want 0.3333", dd)
	}
}
