package connector

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trade-engine/internal/breaker"
	"trade-engine/internal/config"
	"trade-engine/internal/trade"
)

func testRetry() config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts: 3,
		MinDelay:    time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
	}
}

func TestNonceGenerator_ConcurrentStrictlyIncreasing(t *testing.T) {
	const (
		goroutines = 10
		perWorker  = 100
	)

	gen := NewNonceGenerator()
	var mu sync.Mutex
	all := make([]int64, 0, goroutines*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perWorker)
			for j := 0; j < perWorker; j++ {
				local = append(local, gen.Next())
			}
			// 单个调用方视角下必须严格递增。
			for j := 1; j < len(local); j++ {
				if local[j] <= local[j-1] {
					t.Errorf("nonce not increasing: %d then %d", local[j-1], local[j])
					return
				}
			}
			mu.Lock()
			all = append(all, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(all) != goroutines*perWorker {
		t.Fatalf("issued %d nonces, want %d", len(all), goroutines*perWorker)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	for i := 1; i < len(all); i++ {
		if all[i] == all[i-1] {
			t.Fatalf("duplicate nonce %d", all[i])
		}
	}
}

func TestBinance_PlaceMarketOrder(t *testing.T) {
	const secret = "test-secret"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != binanceOrderPath {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("X-MBX-APIKEY") != "test-key" {
			t.Errorf("api key header = %q", r.Header.Get("X-MBX-APIKEY"))
		}
		// 服务端按同一规则重算签名，验证客户端签的是原始查询串。
		want := signBinanceQuery(secret, r.URL.RawQuery)
		if got := r.Header.Get("X-MBX-SIGNATURE"); got != want {
			t.Errorf("signature = %q, want %q", got, want)
		}
		q := r.URL.Query()
		if q.Get("symbol") != "BTCUSDT" || q.Get("side") != "BUY" || q.Get("type") != "MARKET" {
			t.Errorf("unexpected params: %v", q)
		}
		if q.Get("timestamp") == "" {
			t.Error("missing timestamp")
		}

		w.Write([]byte(`{"orderId":12345,"status":"FILLED","executedQty":"0.5",` +
			`"cummulativeQuoteQty":"25002","fills":[` +
			`{"price":"50000","qty":"0.3","commission":"0.0003","commissionAsset":"BTC"},` +
			`{"price":"50010","qty":"0.2","commission":"0.0002","commissionAsset":"BTC"}]}`))
	}))
	defer srv.Close()

	b := NewBinance(config.VenueConfig{BaseURL: srv.URL}, time.Second, testRetry(), nil)
	creds := trade.Credentials{APIKey: "test-key", APISecret: secret}

	result, err := b.PlaceMarketOrder(context.Background(), creds, "BTCUSDT", trade.SideBuy, decimal.NewFromFloat(0.5))
	if err != nil {
		t.Fatalf("PlaceMarketOrder returned error: %v", err)
	}

	if result.OrderID != "12345" {
		t.Errorf("order id = %s", result.OrderID)
	}
	if result.Status != trade.StatusFilled {
		t.Errorf("status = %s", result.Status)
	}
	// 加权均价 (50000*0.3 + 50010*0.2) / 0.5 = 50004。
	if !result.ExecutedPrice.Equal(decimal.NewFromInt(50004)) {
		t.Errorf("executed price = %s, want 50004", result.ExecutedPrice)
	}
	if !result.Fees.Equal(decimal.NewFromFloat(0.0005)) {
		t.Errorf("fees = %s, want 0.0005", result.Fees)
	}
	if result.FeeAsset != "BTC" {
		t.Errorf("fee asset = %s", result.FeeAsset)
	}
	if result.IsSimulation {
		t.Error("live execution must not be marked simulation")
	}
	if result.RawResponse == "" {
		t.Error("raw response must be preserved")
	}
}

func TestKraken_PlaceMarketOrder(t *testing.T) {
	secret := "a2VlcC1pdC1zZWNyZXQ=" // base64("keep-it-secret")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		nonce := r.PostForm.Get("nonce")
		if nonce == "" {
			t.Error("missing nonce")
		}
		want, err := signKrakenRequest(secret, krakenOrderPath, nonce, r.PostForm.Encode())
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		if got := r.Header.Get("API-Sign"); got != want {
			t.Errorf("signature = %q, want %q", got, want)
		}
		if r.PostForm.Get("pair") != "XBTUSDT" || r.PostForm.Get("type") != "buy" || r.PostForm.Get("ordertype") != "market" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}

		w.Write([]byte(`{"error":[],"result":{"txid":["OABC-123"],"price":"50000","vol_exec":"1.25","fee":"0.5"}}`))
	}))
	defer srv.Close()

	k := NewKraken(config.VenueConfig{BaseURL: srv.URL}, time.Second, testRetry(), NewNonceGenerator(), nil)
	creds := trade.Credentials{APIKey: "key", APISecret: secret}

	result, err := k.PlaceMarketOrder(context.Background(), creds, "XBTUSDT", trade.SideBuy, decimal.NewFromFloat(1.25))
	if err != nil {
		t.Fatalf("PlaceMarketOrder returned error: %v", err)
	}
	if result.OrderID != "OABC-123" {
		t.Errorf("order id = %s", result.OrderID)
	}
	if !result.ExecutedQuantity.Equal(decimal.NewFromFloat(1.25)) {
		t.Errorf("executed qty = %s", result.ExecutedQuantity)
	}
	if !result.ExecutedPrice.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("executed price = %s", result.ExecutedPrice)
	}
}

func TestKraken_BusinessErrorRejected(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"error":["EOrder:Insufficient funds"],"result":{}}`))
	}))
	defer srv.Close()

	k := NewKraken(config.VenueConfig{BaseURL: srv.URL}, time.Second, testRetry(), NewNonceGenerator(), nil)
	creds := trade.Credentials{APIKey: "key", APISecret: "a2V5"}

	_, err := k.PlaceMarketOrder(context.Background(), creds, "XBTUSDT", trade.SideSell, decimal.NewFromInt(1))
	if !errors.Is(err, trade.ErrExchangeRejected) {
		t.Fatalf("expected ErrExchangeRejected, got %v", err)
	}
	if calls != 1 {
		t.Errorf("rejection must not be retried, calls = %d", calls)
	}
}

func TestCoinbase_PlaceMarketOrder(t *testing.T) {
	const (
		secret     = "cb-secret"
		passphrase = "cb-pass"
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		timestamp := r.Header.Get("CB-ACCESS-TIMESTAMP")
		if timestamp == "" {
			t.Error("missing timestamp header")
		}
		want := signCoinbaseRequest(secret, timestamp, http.MethodPost, coinbaseOrderPath, string(body))
		if got := r.Header.Get("CB-ACCESS-SIGN"); got != want {
			t.Errorf("signature = %q, want %q", got, want)
		}
		if got := r.Header.Get("CB-ACCESS-PASSPHRASE"); got != signCoinbasePassphrase(secret, passphrase) {
			t.Errorf("passphrase header = %q", got)
		}

		w.Write([]byte(`{"id":"ord-1","status":"done","filled_size":"0.5","executed_value":"25000","fill_fees":"12.5","settled":true}`))
	}))
	defer srv.Close()

	c := NewCoinbase(config.VenueConfig{BaseURL: srv.URL}, time.Second, testRetry(), nil)
	creds := trade.Credentials{APIKey: "key", APISecret: secret, Passphrase: passphrase}

	result, err := c.PlaceMarketOrder(context.Background(), creds, "BTC-USD", trade.SideBuy, decimal.NewFromFloat(0.5))
	if err != nil {
		t.Fatalf("PlaceMarketOrder returned error: %v", err)
	}
	if result.OrderID != "ord-1" {
		t.Errorf("order id = %s", result.OrderID)
	}
	if !result.ExecutedPrice.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("executed price = %s, want 50000", result.ExecutedPrice)
	}
	if !result.Fees.Equal(decimal.NewFromFloat(12.5)) {
		t.Errorf("fees = %s", result.Fees)
	}
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"orderId":1,"status":"FILLED","executedQty":"1","cummulativeQuoteQty":"50000"}`))
	}))
	defer srv.Close()

	b := NewBinance(config.VenueConfig{BaseURL: srv.URL}, time.Second, testRetry(), nil)
	creds := trade.Credentials{APIKey: "k", APISecret: "s"}

	if _, err := b.PlaceMarketOrder(context.Background(), creds, "BTCUSDT", trade.SideBuy, decimal.NewFromInt(1)); err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetry_RejectionNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	b := NewBinance(config.VenueConfig{BaseURL: srv.URL}, time.Second, testRetry(), nil)
	creds := trade.Credentials{APIKey: "k", APISecret: "s"}

	_, err := b.PlaceMarketOrder(context.Background(), creds, "NOPEUSDT", trade.SideBuy, decimal.NewFromInt(1))
	if !errors.Is(err, trade.ErrExchangeRejected) {
		t.Fatalf("expected ErrExchangeRejected, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestGuard_FastFailWhenOpen(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	br := breaker.New("binance.order", breaker.Config{FailureThreshold: 2, Cooldown: time.Hour}, nil)
	guarded := Guard(NewBinance(config.VenueConfig{BaseURL: srv.URL}, time.Second, testRetry(), nil), br)
	creds := trade.Credentials{APIKey: "k", APISecret: "s"}

	for i := 0; i < 2; i++ {
		if _, err := guarded.PlaceMarketOrder(context.Background(), creds, "BTCUSDT", trade.SideBuy, decimal.NewFromInt(1)); err == nil {
			t.Fatal("expected rejection")
		}
	}
	if br.CurrentState() != breaker.StateOpen {
		t.Fatalf("state = %s, want OPEN", br.CurrentState())
	}

	before := calls
	_, err := guarded.PlaceMarketOrder(context.Background(), creds, "BTCUSDT", trade.SideBuy, decimal.NewFromInt(1))
	if !errors.Is(err, trade.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != before {
		t.Error("open breaker must not reach the venue")
	}
}
