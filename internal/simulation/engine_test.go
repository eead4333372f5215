package simulation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trade-engine/internal/config"
	"trade-engine/internal/marketdata"
	"trade-engine/internal/trade"
)

type stubBooks struct {
	book marketdata.OrderBookSnapshot
	err  error
}

func (s *stubBooks) FetchOrderBook(ctx context.Context, symbol string, depth int64) (marketdata.OrderBookSnapshot, error) {
	return s.book, s.err
}

type stubPrices struct {
	price float64
	err   error
}

func (s *stubPrices) Get(ctx context.Context, symbol string) (float64, error) {
	return s.price, s.err
}

func simConfig() config.SimulationConfig {
	return config.SimulationConfig{FeeRate: 0.001, FallbackSlipPct: 0.002}
}

func testBook() marketdata.OrderBookSnapshot {
	return marketdata.OrderBookSnapshot{
		Symbol:   "BTC/USDT",
		Exchange: "binance",
		Bids: []marketdata.OrderBookLevel{
			{Price: 49990, Amount: 1},
			{Price: 49980, Amount: 2},
		},
		Asks: []marketdata.OrderBookLevel{
			{Price: 50010, Amount: 1},
			{Price: 50020, Amount: 2},
		},
		Source:    marketdata.BookSourceLive,
		Timestamp: time.Now().UTC(),
	}
}

func newTestEngine(books BookProvider, prices PriceProvider, r float64) *Engine {
	e := NewEngine(books, prices, simConfig(), nil)
	e.rand = func() float64 { return r }
	return e
}

func TestFill_WalksBookLevels(t *testing.T) {
	e := newTestEngine(&stubBooks{book: testBook()}, &stubPrices{}, 0)

	result, err := e.Fill(context.Background(), "BTC/USDT", "binance", trade.SideBuy, decimal.NewFromInt(2))
	if err != nil {
		t.Fatalf("Fill returned error: %v", err)
	}

	if result.Status != trade.StatusFilled {
		t.Errorf("status = %s", result.Status)
	}
	if !result.ExecutedQuantity.Equal(decimal.NewFromInt(2)) {
		t.Errorf("executed qty = %s, want 2", result.ExecutedQuantity)
	}

	// 逐档VWAP = (50010*1 + 50020*1)/2 = 50015，滑点只会向上。
	vwap := decimal.NewFromInt(50015)
	if result.ExecutedPrice.LessThan(vwap) {
		t.Errorf("buy price %s below vwap %s", result.ExecutedPrice, vwap)
	}
	ceiling := vwap.Mul(decimal.NewFromFloat(1.001))
	if result.ExecutedPrice.GreaterThan(ceiling) {
		t.Errorf("buy price %s exceeds slippage ceiling %s", result.ExecutedPrice, ceiling)
	}

	if !result.IsSimulation {
		t.Error("result must be marked as simulation")
	}
	if result.SlippagePct <= 0 {
		t.Errorf("adverse slippage pct = %f, want > 0", result.SlippagePct)
	}
	wantFees := result.ExecutedPrice.Mul(result.ExecutedQuantity).Mul(decimal.NewFromFloat(0.001))
	if !result.Fees.Equal(wantFees) {
		t.Errorf("fees = %s, want %s", result.Fees, wantFees)
	}
}

func TestFill_PartialWhenDepthExhausted(t *testing.T) {
	e := newTestEngine(&stubBooks{book: testBook()}, &stubPrices{}, 0)

	result, err := e.Fill(context.Background(), "BTC/USDT", "binance", trade.SideSell, decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("Fill returned error: %v", err)
	}
	if result.Status != trade.StatusPartiallyFilled {
		t.Fatalf("status = %s, want PARTIALLY_FILLED", result.Status)
	}
	// 买盘总深度 1+2=3。
	if !result.ExecutedQuantity.Equal(decimal.NewFromInt(3)) {
		t.Errorf("executed qty = %s, want 3", result.ExecutedQuantity)
	}
}

func TestFill_SellSlipsDownward(t *testing.T) {
	e := newTestEngine(&stubBooks{book: testBook()}, &stubPrices{}, 1)

	result, err := e.Fill(context.Background(), "BTC/USDT", "binance", trade.SideSell, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("Fill returned error: %v", err)
	}
	// 卖一档价格 49990，滑点只会向下。
	if result.ExecutedPrice.GreaterThanOrEqual(decimal.NewFromInt(49990)) {
		t.Errorf("sell price %s not slipped below best bid", result.ExecutedPrice)
	}
	if result.SlippagePct <= 0 {
		t.Errorf("adverse slippage pct = %f, want > 0", result.SlippagePct)
	}
}

func TestFill_FallbackToReferencePrice(t *testing.T) {
	e := newTestEngine(&stubBooks{err: errors.New("venue unreachable")}, &stubPrices{price: 50000}, 1)

	result, err := e.Fill(context.Background(), "BTC/USDT", "kraken", trade.SideBuy, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("Fill returned error: %v", err)
	}
	if result.Status != trade.StatusFilled {
		t.Errorf("status = %s", result.Status)
	}
	// 参考价50000，最大滑点0.2%。
	if result.ExecutedPrice.LessThanOrEqual(decimal.NewFromInt(50000)) {
		t.Errorf("buy price %s not above reference", result.ExecutedPrice)
	}
	ceiling := decimal.NewFromFloat(50000 * 1.002)
	if result.ExecutedPrice.GreaterThan(ceiling) {
		t.Errorf("buy price %s exceeds fallback ceiling %s", result.ExecutedPrice, ceiling)
	}
}

func TestFill_ErrorWithoutBookAndPrice(t *testing.T) {
	e := newTestEngine(&stubBooks{err: errors.New("down")}, &stubPrices{err: errors.New("down")}, 0)

	if _, err := e.Fill(context.Background(), "BTC/USDT", "binance", trade.SideBuy, decimal.NewFromInt(1)); !errors.Is(err, trade.ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable, got %v", err)
	}
}

func TestFill_RejectsNonPositiveQuantity(t *testing.T) {
	e := newTestEngine(&stubBooks{book: testBook()}, &stubPrices{}, 0)

	if _, err := e.Fill(context.Background(), "BTC/USDT", "binance", trade.SideBuy, decimal.Zero); !errors.Is(err, trade.ErrInvalidSizing) {
		t.Fatalf("expected ErrInvalidSizing, got %v", err)
	}
}
