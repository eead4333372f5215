package liquidity

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"trade-engine/internal/marketdata"
)

type stubBooks struct {
	book  marketdata.OrderBookSnapshot
	err   error
	calls int
}

func (s *stubBooks) FetchOrderBook(ctx context.Context, symbol string, depth int64) (marketdata.OrderBookSnapshot, error) {
	s.calls++
	return s.book, s.err
}

type stubPrices struct {
	price float64
	err   error
}

func (s *stubPrices) Get(ctx context.Context, symbol string) (float64, error) {
	return s.price, s.err
}

func sampleBook() marketdata.OrderBookSnapshot {
	return marketdata.OrderBookSnapshot{
		Symbol:   "BTC/USDT",
		Exchange: "binance",
		Bids: []marketdata.OrderBookLevel{
			{Price: 49990, Amount: 3},
			{Price: 49980, Amount: 2},
			{Price: 48000, Amount: 10}, // 超出±1%
		},
		Asks: []marketdata.OrderBookLevel{
			{Price: 50010, Amount: 1},
			{Price: 50020, Amount: 1},
			{Price: 52000, Amount: 10}, // 超出±1%
		},
		Source:    marketdata.BookSourceLive,
		Timestamp: time.Now().UTC(),
	}
}

func TestCompute_Metrics(t *testing.T) {
	m := Compute(sampleBook(), "binance")

	if m.BestBid != 49990 || m.BestAsk != 50010 {
		t.Fatalf("best bid/ask = %f/%f", m.BestBid, m.BestAsk)
	}

	wantSpread := (50010.0 - 49990.0) / 50000.0 * 100
	if math.Abs(m.SpreadPct-wantSpread) > 1e-9 {
		t.Errorf("spread pct = %f, want %f", m.SpreadPct, wantSpread)
	}

	// ±1% 内：买盘 3+2，卖盘 1+1。
	if math.Abs(m.DepthWithin1Pct-7) > 1e-9 {
		t.Errorf("depth within 1%% = %f, want 7", m.DepthWithin1Pct)
	}

	// 前10档：买盘量15，卖盘量12。
	wantPressure := (15.0 - 12.0) / 27.0
	if math.Abs(m.MarketPressure-wantPressure) > 1e-9 {
		t.Errorf("market pressure = %f, want %f", m.MarketPressure, wantPressure)
	}
	if m.Source != marketdata.BookSourceLive {
		t.Errorf("source = %s, want live", m.Source)
	}
}

func TestAnalyze_SyntheticFallback(t *testing.T) {
	books := &stubBooks{err: errors.New("venue unreachable")}
	prices := &stubPrices{price: 50000}
	a := NewAnalyzer(books, prices, time.Minute, nil)

	m, err := a.Analyze(context.Background(), "BTC/USDT", "kraken", 20)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if m.Source != marketdata.BookSourceSynthetic {
		t.Fatalf("source = %s, want synthetic", m.Source)
	}
	if m.BestBid <= 0 || m.BestAsk <= m.BestBid {
		t.Errorf("synthetic book not ordered around mid: bid=%f ask=%f", m.BestBid, m.BestAsk)
	}
	// 合成盘口买卖对称，压力应为零。
	if math.Abs(m.MarketPressure) > 1e-9 {
		t.Errorf("market pressure = %f, want 0", m.MarketPressure)
	}
}

func TestAnalyze_ErrorWithoutReferencePrice(t *testing.T) {
	books := &stubBooks{err: errors.New("venue unreachable")}
	prices := &stubPrices{err: errors.New("no price")}
	a := NewAnalyzer(books, prices, time.Minute, nil)

	if _, err := a.Analyze(context.Background(), "BTC/USDT", "kraken", 20); err == nil {
		t.Fatal("expected error when neither book nor price is available")
	}
}

func TestAnalyze_CacheWithinTTL(t *testing.T) {
	books := &stubBooks{book: sampleBook()}
	a := NewAnalyzer(books, &stubPrices{}, time.Minute, nil)

	for i := 0; i < 3; i++ {
		if _, err := a.Analyze(context.Background(), "BTC/USDT", "binance", 20); err != nil {
			t.Fatalf("Analyze returned error: %v", err)
		}
	}
	if books.calls != 1 {
		t.Errorf("book source invoked %d times, want 1", books.calls)
	}
}

func TestAnalyze_StaleFallbackAfterTTL(t *testing.T) {
	books := &stubBooks{book: sampleBook()}
	a := NewAnalyzer(books, &stubPrices{err: errors.New("no price")}, 10*time.Millisecond, nil)

	if _, err := a.Analyze(context.Background(), "BTC/USDT", "binance", 20); err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	books.err = errors.New("venue unreachable")

	m, err := a.Analyze(context.Background(), "BTC/USDT", "binance", 20)
	if err != nil {
		t.Fatalf("expected stale fallback, got error: %v", err)
	}
	if m.BestBid != 49990 {
		t.Errorf("stale metrics not returned, best bid = %f", m.BestBid)
	}
	if books.calls != 2 {
		t.Errorf("refresh must be attempted, calls = %d", books.calls)
	}
}

func TestSyntheticBook_DecayingDepth(t *testing.T) {
	book := SyntheticBook("BTC/USDT", "binance", 50000, 10)

	if len(book.Bids) != 10 || len(book.Asks) != 10 {
		t.Fatalf("levels = %d/%d, want 10/10", len(book.Bids), len(book.Asks))
	}
	for i := 1; i < len(book.Bids); i++ {
		if book.Bids[i].Amount >= book.Bids[i-1].Amount {
			t.Errorf("bid depth not decaying at level %d", i)
		}
		if book.Bids[i].Price >= book.Bids[i-1].Price {
			t.Errorf("bid prices not descending at level %d", i)
		}
	}
	for i := 1; i < len(book.Asks); i++ {
		if book.Asks[i].Price <= book.Asks[i-1].Price {
			t.Errorf("ask prices not ascending at level %d", i)
		}
	}
}
