package venue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"multi-exchange-trading-bot/config"
)

type fakeAdapter struct {
	candleErr  error
	balanceErr error
	calls      int
}

func (f *fakeAdapter) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	f.calls++
	if f.candleErr != nil {
		return nil, f.candleErr
	}
	return []Candle{{Time: time.Unix(60, 0), Open: 1, High: 1, Low: 1, Close: 1}}, nil
}

func (f *fakeAdapter) FetchBalance(ctx context.Context) (map[string]float64, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return map[string]float64{"USDT": 100}, nil
}

func (f *fakeAdapter) FetchFees(ctx context.Context, symbol string) (Fees, error) {
	return Fees{Maker: 0.001, Taker: 0.001}, nil
}

func (f *fakeAdapter) PlaceMarketBuy(ctx context.Context, symbol string, order Order) (OrderFill, error) {
	return OrderFill{Filled: order.Base}, nil
}

func (f *fakeAdapter) PlaceMarketSell(ctx context.Context, symbol string, order Order) (OrderFill, error) {
	return OrderFill{Filled: order.Base}, nil
}

func TestValidateCandles(t *testing.T) {
	t0 := time.Unix(0, 0)
	good := Candle{Time: t0, Open: 1, High: 2, Low: 0.5, Close: 1.5}
	later := Candle{Time: t0.Add(time.Minute), Open: 1, High: 2, Low: 0.5, Close: 1.5}

	tests := []struct {
		name    string
		candles []Candle
		wantErr bool
	}{
		{"empty", nil, true},
		{"valid", []Candle{good, later}, false},
		{"zero close", []Candle{{Time: t0, High: 1, Low: 1}}, true},
		{"high below low", []Candle{{Time: t0, High: 1, Low: 2, Close: 1}}, true},
		{"unsorted", []Candle{later, good}, true},
		{"duplicate time", []Candle{good, good}, true},
	}

	for _, tt := range tests {
		err := ValidateCandles(tt.candles)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Expected error=%v, got %v", tt.name, tt.wantErr, err)
		}
		if err != nil && !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: Expected ErrMalformed, got %v", tt.name, err)
		}
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(fmt.Errorf("wrap: %w", ErrNetwork)) {
		t.Errorf("Expected network error to be transient")
	}
	if !IsTransient(ErrRateLimited) {
		t.Errorf("Expected rate limit to be transient")
	}
	if IsTransient(ErrExchange) || IsTransient(ErrMalformed) || IsTransient(ErrUnavailable) {
		t.Errorf("Expected exchange, malformed and unavailable errors to be permanent")
	}
}

func TestSplitSymbol(t *testing.T) {
	tests := []struct{ in, base, quote string }{
		{"BTC/USDT", "BTC", "USDT"},
		{"eth-usdc", "ETH", "USDC"},
		{"BTCUSDT", "BTCUSDT", ""},
	}
	for _, tt := range tests {
		b, q := SplitSymbol(tt.in)
		if b != tt.base || q != tt.quote {
			t.Errorf("SplitSymbol(%q): Expected %s/%s, got %s/%s", tt.in, tt.base, tt.quote, b, q)
		}
	}
}

func TestRegistryDegradesPairs(t *testing.T) {
	r := NewRegistry(config.DefaultPairs(), zerolog.Nop())
	r.Register(Handle{ID: Binance, Adapter: &fakeAdapter{}, QuoteCurrency: "USDT"})
	r.Register(Handle{ID: Coinbase}) // no adapter

	if _, ok := r.Handle(Coinbase); ok {
		t.Errorf("Expected coinbase to be degraded")
	}
	if _, ok := r.Symbol("BTC/USDT", Coinbase); ok {
		t.Errorf("Expected coinbase symbol removed from BTC/USDT")
	}
	if got := r.VenuesFor("BTC/USDT"); len(got) != 1 || got[0] != Binance {
		t.Errorf("Expected only binance for BTC/USDT, got %v", got)
	}
	if len(r.Pairs()) != 6 {
		t.Errorf("Expected all 6 pairs to survive on binance, got %d", len(r.Pairs()))
	}

	r.Remove(Binance)
	if len(r.Pairs()) != 0 {
		t.Errorf("Expected every pair dropped once no venue is left, got %v", r.Pairs())
	}
}

func TestRegistryCopiesPairs(t *testing.T) {
	pairs := config.DefaultPairs()
	r := NewRegistry(pairs, zerolog.Nop())
	r.Remove(Coinbase)

	if _, ok := pairs["BTC/USDT"][Coinbase]; !ok {
		t.Errorf("Expected caller pair table to stay untouched")
	}
}

func TestConnectivityRemovesFailingVenue(t *testing.T) {
	r := NewRegistry(config.DefaultPairs(), zerolog.Nop())
	r.Register(Handle{ID: Binance, Adapter: &fakeAdapter{balanceErr: ErrNoAuth}, QuoteCurrency: "USDT"})
	r.Register(Handle{ID: Coinbase, Adapter: &fakeAdapter{candleErr: ErrNetwork}, QuoteCurrency: "USDC"})

	r.TestConnectivity(context.Background(), "BTC/USDT", "1m")

	if _, ok := r.Handle(Binance); !ok {
		t.Errorf("Expected binance to survive a balance-only failure")
	}
	if _, ok := r.Handle(Coinbase); ok {
		t.Errorf("Expected coinbase removed after candle failure")
	}
}

func TestGuardedOpensAfterTransientFailures(t *testing.T) {
	inner := &fakeAdapter{candleErr: ErrNetwork}
	g := NewGuarded(Binance, inner, GuardSettings{RatePerSecond: 1000, Burst: 100, MaxFailures: 2, OpenTimeout: time.Hour}, zerolog.Nop())

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := g.FetchCandles(ctx, "BTC/USDT", "1m", 1); !errors.Is(err, ErrNetwork) {
			t.Fatalf("Expected network error on call %d, got %v", i, err)
		}
	}

	_, err := g.FetchCandles(ctx, "BTC/USDT", "1m", 1)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable once open, got %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("Expected open breaker to short-circuit, inner calls %d", inner.calls)
	}
	if g.State() != "open" {
		t.Errorf("Expected open state, got %s", g.State())
	}
}

func TestGuardedIgnoresExchangeRejections(t *testing.T) {
	inner := &fakeAdapter{candleErr: ErrExchange}
	g := NewGuarded(Binance, inner, GuardSettings{RatePerSecond: 1000, Burst: 100, MaxFailures: 1, OpenTimeout: time.Hour}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		g.FetchCandles(context.Background(), "BTC/USDT", "1m", 1)
	}
	if g.State() != "closed" {
		t.Errorf("Expected exchange rejections to keep breaker closed, got %s", g.State())
	}
}

func TestSimulatedCandlesAdvance(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 30, 0, time.UTC)
	sim := NewSimulated(SizeBase, Fees{Taker: 0.001}, WithRand(rand.New(rand.NewSource(1))), WithClock(func() time.Time { return now }))

	ctx := context.Background()
	first, err := sim.FetchCandles(ctx, "BTC/USDT", "1m", 50)
	if err != nil {
		t.Fatalf("Expected candles, got %v", err)
	}
	if len(first) != 50 {
		t.Fatalf("Expected 50 candles, got %d", len(first))
	}
	if err := ValidateCandles(first); err != nil {
		t.Errorf("Expected valid simulated candles, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	second, _ := sim.FetchCandles(ctx, "BTC/USDT", "1m", 50)
	if !second[len(second)-1].Time.After(first[len(first)-1].Time) {
		t.Errorf("Expected new candles after the clock advanced")
	}
	if err := ValidateCandles(second); err != nil {
		t.Errorf("Expected valid candles after advance, got %v", err)
	}
}

func TestSimulatedOrders(t *testing.T) {
	sim := NewSimulated(SizeQuote, Fees{Taker: 0.005}, WithBalances(map[string]float64{"USDC": 1000}))
	sim.SetPrice("BTC-USDC", 100)

	ctx := context.Background()
	fill, err := sim.PlaceMarketBuy(ctx, "BTC-USDC", Order{Base: 2, Quote: 200})
	if err != nil {
		t.Fatalf("Expected buy to fill, got %v", err)
	}
	if fill.Filled != 2 {
		t.Errorf("Expected quote-sized buy of 200 at 100 to fill 2, got %f", fill.Filled)
	}

	bal, _ := sim.FetchBalance(ctx)
	if bal["USDC"] != 800 || bal["BTC"] != 2 {
		t.Errorf("Expected USDC 800 BTC 2, got %v", bal)
	}

	if _, err := sim.PlaceMarketSell(ctx, "BTC-USDC", Order{Base: 5}); !errors.Is(err, ErrExchange) {
		t.Errorf("Expected ErrExchange on oversell, got %v", err)
	}
	if _, err := sim.PlaceMarketBuy(ctx, "BTC-USDC", Order{Quote: 5000}); !errors.Is(err, ErrExchange) {
		t.Errorf("Expected ErrExchange on insufficient quote, got %v", err)
	}
}

func TestSimulatedReplaysClientOrderID(t *testing.T) {
	sim := NewSimulated(SizeBase, Fees{}, WithBalances(map[string]float64{"USDT": 1000}))
	sim.SetPrice("BTC/USDT", 100)
	ctx := context.Background()

	order := Order{ClientOrderID: "cid-1", Base: 1}
	first, err := sim.PlaceMarketBuy(ctx, "BTC/USDT", order)
	if err != nil {
		t.Fatalf("Expected buy to fill, got %v", err)
	}
	again, err := sim.PlaceMarketBuy(ctx, "BTC/USDT", order)
	if err != nil {
		t.Fatalf("Expected repeated buy to replay, got %v", err)
	}
	if again.OrderID != first.OrderID {
		t.Errorf("Expected replayed order %s, got %s", first.OrderID, again.OrderID)
	}

	bal, _ := sim.FetchBalance(ctx)
	if bal["USDT"] != 900 || bal["BTC"] != 1 {
		t.Errorf("Expected a single fill (USDT 900, BTC 1), got %v", bal)
	}
}
