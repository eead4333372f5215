package symbol

import (
	"errors"
	"testing"
	"time"

	"trade-engine/internal/trade"
)

func newTestResolver() *Resolver {
	return NewResolver(time.Minute, nil)
}

func TestResolve_SeparatorStyles(t *testing.T) {
	cases := []struct {
		raw   string
		base  string
		quote string
	}{
		{"BTC/USDT", "BTC", "USDT"},
		{"btc-usdt", "BTC", "USDT"},
		{"ETH_USD", "ETH", "USD"},
		{" sol/usdc ", "SOL", "USDC"},
	}

	r := newTestResolver()
	for _, tc := range cases {
		res, err := r.Resolve(tc.raw, "", nil)
		if err != nil {
			t.Fatalf("Resolve(%q) returned error: %v", tc.raw, err)
		}
		if res.Base != tc.base || res.Quote != tc.quote {
			t.Errorf("Resolve(%q) = %s/%s, want %s/%s", tc.raw, res.Base, res.Quote, tc.base, tc.quote)
		}
		if res.Normalized != tc.base+"/"+tc.quote {
			t.Errorf("Resolve(%q) normalized = %s", tc.raw, res.Normalized)
		}
	}
}

func TestResolve_ConcatenatedPairs(t *testing.T) {
	cases := []struct {
		raw   string
		base  string
		quote string
	}{
		{"BTCUSDT", "BTC", "USDT"},
		{"ETHUSD", "ETH", "USD"},
		{"SOLUSDC", "SOL", "USDC"},
		{"ADAEUR", "ADA", "EUR"},
		{"DOGEBTC", "DOGE", "BTC"},
		// 无已知计价后缀时默认 USDT。
		{"PEPE", "PEPE", "USDT"},
	}

	r := newTestResolver()
	for _, tc := range cases {
		res, err := r.Resolve(tc.raw, "", nil)
		if err != nil {
			t.Fatalf("Resolve(%q) returned error: %v", tc.raw, err)
		}
		if res.Base != tc.base || res.Quote != tc.quote {
			t.Errorf("Resolve(%q) = %s/%s, want %s/%s", tc.raw, res.Base, res.Quote, tc.base, tc.quote)
		}
	}
}

func TestResolve_MultiSeparatorKeepsFirstAndLast(t *testing.T) {
	r := newTestResolver()
	res, err := r.Resolve("BTC/USD/USDT", "", nil)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if res.Base != "BTC" || res.Quote != "USDT" {
		t.Errorf("got %s/%s, want BTC/USDT", res.Base, res.Quote)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	inputs := []string{"BTC/USDT", "eth-usd", "SOLUSDC", "ADA_EUR", "BTCUSDT"}

	r := newTestResolver()
	for _, raw := range inputs {
		first, err := r.Resolve(raw, "", nil)
		if err != nil {
			t.Fatalf("Resolve(%q) returned error: %v", raw, err)
		}
		second, err := r.Resolve(first.Normalized, "", nil)
		if err != nil {
			t.Fatalf("Resolve(%q) returned error: %v", first.Normalized, err)
		}
		if second.Normalized != first.Normalized {
			t.Errorf("resolve not idempotent for %q: %s != %s", raw, second.Normalized, first.Normalized)
		}
	}
}

func TestResolve_PerVenueFormats(t *testing.T) {
	r := newTestResolver()
	res, err := r.Resolve("BTC/USDT", "", nil)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	if got := res.PerVenue["binance"]; got != "BTCUSDT" {
		t.Errorf("binance format = %s, want BTCUSDT", got)
	}
	if got := res.PerVenue["kraken"]; got != "XBTUSDT" {
		t.Errorf("kraken format = %s, want XBTUSDT", got)
	}
	if got := res.PerVenue["coinbase"]; got != "BTC-USDT" {
		t.Errorf("coinbase format = %s, want BTC-USDT", got)
	}
}

func TestResolve_AllSentinel(t *testing.T) {
	r := newTestResolver()

	// 无上下文必须硬失败。
	if _, err := r.Resolve("ALL", "", nil); !errors.Is(err, trade.ErrInvalidSymbol) {
		t.Fatalf("expected ErrInvalidSymbol, got %v", err)
	}

	// 上下文按 symbol > asset > top_opportunity.symbol 取值。
	ctx := &OpportunityContext{Asset: "ETH"}
	ctx.TopOpportunity.Symbol = "SOL"
	res, err := r.Resolve("ALL", "", ctx)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if res.Base != "ETH" {
		t.Errorf("base = %s, want ETH", res.Base)
	}

	ctx.Symbol = "BTC/USD"
	res, err = r.Resolve("ALL", "", ctx)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if res.Normalized != "BTC/USD" {
		t.Errorf("normalized = %s, want BTC/USD", res.Normalized)
	}

	// 空上下文回退 BTC。
	res, err = r.Resolve("ALL", "", &OpportunityContext{})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if res.Base != "BTC" {
		t.Errorf("base = %s, want BTC", res.Base)
	}
}

func TestResolve_MalformedFallsBack(t *testing.T) {
	r := newTestResolver()
	for _, raw := range []string{"", "///", "_-_"} {
		res, err := r.Resolve(raw, "", nil)
		if err != nil {
			t.Fatalf("Resolve(%q) returned error: %v", raw, err)
		}
		if res.Normalized != "BTC/USDT" {
			t.Errorf("Resolve(%q) = %s, want BTC/USDT fallback", raw, res.Normalized)
		}
	}
}
