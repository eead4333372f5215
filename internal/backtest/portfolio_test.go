package backtest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trade-engine/internal/trade"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestPortfolio_FIFOMatching(t *testing.T) {
	p := NewPortfolio(d(10000), d(0))
	now := time.Now().UTC()

	p.Buy("BTC/USDT", d(1), d(100), now, decimal.Zero, decimal.Zero)
	p.Buy("BTC/USDT", d(1), d(110), now.Add(time.Hour), decimal.Zero, decimal.Zero)

	closed := p.Sell("BTC/USDT", d(1.5), d(120), now.Add(2*time.Hour), trade.ExitReasonManual)
	if !closed.Equal(d(1.5)) {
		t.Fatalf("closed qty = %s, want 1.5", closed)
	}

	trades := p.ClosedTrades()
	if len(trades) != 2 {
		t.Fatalf("closed trades = %d, want 2", len(trades))
	}
	// 先平最早一笔（100），再平后一笔的一半（110）。
	if !trades[0].EntryPrice.Equal(d(100)) || !trades[0].Quantity.Equal(d(1)) {
		t.Errorf("first closed trade = %+v", trades[0])
	}
	if !trades[1].EntryPrice.Equal(d(110)) || !trades[1].Quantity.Equal(d(0.5)) {
		t.Errorf("second closed trade = %+v", trades[1])
	}
	if !trades[0].PnL.Equal(d(20)) {
		t.Errorf("first pnl = %s, want 20", trades[0].PnL)
	}

	remaining := p.Position("BTC/USDT")
	if remaining == nil || !remaining.Quantity().Equal(d(0.5)) {
		t.Errorf("remaining position = %+v", remaining)
	}
}

func TestPortfolio_SellWithoutPositionIsNoop(t *testing.T) {
	p := NewPortfolio(d(1000), d(0.001))
	now := time.Now().UTC()

	// 现货组合只做多：无持仓的卖出信号直接忽略。
	closed := p.Sell("BTC/USDT", d(1), d(100), now, trade.ExitReasonManual)
	if !closed.IsZero() {
		t.Fatalf("closed qty = %s, want 0", closed)
	}
	if !p.Cash().Equal(d(1000)) {
		t.Errorf("cash = %s, want unchanged 1000", p.Cash())
	}
	if len(p.ClosedTrades()) != 0 {
		t.Errorf("closed trades = %d, want 0", len(p.ClosedTrades()))
	}
}

func TestPortfolio_StopLossClosesFull(t *testing.T) {
	p := NewPortfolio(d(10000), d(0))
	now := time.Now().UTC()

	p.Buy("ETH/USDT", d(2), d(100), now, d(90), d(150))
	p.CheckExits("ETH/USDT", d(89), now.Add(time.Hour))

	trades := p.ClosedTrades()
	if len(trades) != 1 {
		t.Fatalf("closed trades = %d, want 1", len(trades))
	}
	if trades[0].ExitReason != trade.ExitReasonStopLoss {
		t.Errorf("exit reason = %s", trades[0].ExitReason)
	}
	if p.Position("ETH/USDT") != nil {
		t.Error("position must be fully closed on stop loss")
	}
}

func TestPortfolio_BuyCappedByCash(t *testing.T) {
	p := NewPortfolio(d(100), d(0))
	now := time.Now().UTC()

	filled := p.Buy("BTC/USDT", d(10), d(50), now, decimal.Zero, decimal.Zero)
	// 现金只够买2个。
	if !filled.Equal(d(2)) {
		t.Fatalf("filled = %s, want 2", filled)
	}
	if !p.Cash().Equal(decimal.Zero) {
		t.Errorf("cash = %s, want 0", p.Cash())
	}
}

func TestPortfolio_FeesOnBothSides(t *testing.T) {
	p := NewPortfolio(d(1000), d(0.001))
	now := time.Now().UTC()

	p.Buy("BTC/USDT", d(1), d(100), now, decimal.Zero, decimal.Zero)
	p.Sell("BTC/USDT", d(1), d(110), now.Add(time.Hour), trade.ExitReasonManual)

	trades := p.ClosedTrades()
	if len(trades) != 1 {
		t.Fatalf("closed trades = %d", len(trades))
	}
	// 建仓费 0.1 + 平仓费 0.11。
	if !trades[0].Fees.Equal(d(0.21)) {
		t.Errorf("fees = %s, want 0.21", trades[0].Fees)
	}
	// 现金恒等式：初始 + pnl - fees。
	want := d(1000).Add(trades[0].PnL).Sub(trades[0].Fees)
	if !p.Cash().Equal(want) {
		t.Errorf("cash = %s, want %s", p.Cash(), want)
	}
}

func TestPortfolio_AvgEntryWeighted(t *testing.T) {
	p := NewPortfolio(d(10000), d(0))
	now := time.Now().UTC()

	p.Buy("BTC/USDT", d(1), d(100), now, decimal.Zero, decimal.Zero)
	p.Buy("BTC/USDT", d(3), d(120), now, decimal.Zero, decimal.Zero)

	avg := p.Position("BTC/USDT").AvgEntry()
	if !avg.Equal(d(115)) {
		t.Errorf("avg entry = %s, want 115", avg)
	}
}
