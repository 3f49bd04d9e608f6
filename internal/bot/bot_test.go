package bot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"multi-exchange-trading-bot/config"
	"multi-exchange-trading-bot/internal/circuit"
	"multi-exchange-trading-bot/internal/events"
	"multi-exchange-trading-bot/internal/execution"
	"multi-exchange-trading-bot/internal/ledger"
	"multi-exchange-trading-bot/internal/marketdata"
	"multi-exchange-trading-bot/internal/metrics"
	"multi-exchange-trading-bot/internal/report"
	"multi-exchange-trading-bot/internal/retry"
	"multi-exchange-trading-bot/internal/strategy"
	"multi-exchange-trading-bot/internal/venue"
)

const pair = "BTC/USDT"

// fetchGauge tracks concurrent FetchCandles calls across venues
type fetchGauge struct {
	mu       sync.Mutex
	inFlight int
	peak     int
}

func (g *fetchGauge) enter() {
	g.mu.Lock()
	g.inFlight++
	if g.inFlight > g.peak {
		g.peak = g.inFlight
	}
	g.mu.Unlock()
}

func (g *fetchGauge) exit() {
	g.mu.Lock()
	g.inFlight--
	g.mu.Unlock()
}

func (g *fetchGauge) max() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

// staticVenue serves flat candles at a settable price
type staticVenue struct {
	mu    sync.Mutex
	price float64
	err   error

	// set before the first tick
	delay time.Duration
	gauge *fetchGauge
}

func (s *staticVenue) set(price float64, err error) {
	s.mu.Lock()
	s.price, s.err = price, err
	s.mu.Unlock()
}

func (s *staticVenue) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]venue.Candle, error) {
	if s.gauge != nil {
		s.gauge.enter()
		defer s.gauge.exit()
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	now := time.Now().Truncate(time.Minute)
	out := make([]venue.Candle, 0, limit)
	for i := limit - 1; i >= 0; i-- {
		out = append(out, venue.Candle{
			Time: now.Add(-time.Duration(i) * time.Minute),
			Open: s.price, High: s.price, Low: s.price, Close: s.price, Volume: 1,
		})
	}
	return out, nil
}

func (s *staticVenue) FetchBalance(context.Context) (map[string]float64, error) {
	return map[string]float64{"USDT": 1000}, nil
}
func (s *staticVenue) FetchFees(context.Context, string) (venue.Fees, error) {
	return venue.Fees{}, nil
}
func (s *staticVenue) PlaceMarketBuy(context.Context, string, venue.Order) (venue.OrderFill, error) {
	return venue.OrderFill{}, nil
}
func (s *staticVenue) PlaceMarketSell(context.Context, string, venue.Order) (venue.OrderFill, error) {
	return venue.OrderFill{}, nil
}

// fakeExecutor applies intents straight to the ledger
type fakeExecutor struct {
	mu      sync.Mutex
	ledger  *ledger.Ledger
	intents []execution.Intent
}

func (f *fakeExecutor) Execute(ctx context.Context, in execution.Intent) (*execution.Fill, error) {
	f.mu.Lock()
	f.intents = append(f.intents, in)
	f.mu.Unlock()

	fill := &execution.Fill{Pair: in.Pair, Venue: in.Venue.ID, Signal: in.Signal, TradeType: in.TradeType,
		Price: in.Price, Requested: in.Amount, Amount: in.Amount}
	if in.Signal == execution.Buy {
		if err := f.ledger.OpenPosition(in.Pair, in.Venue.ID, in.Amount, in.Price); err != nil {
			return nil, err
		}
		return fill, nil
	}
	tr, err := f.ledger.ClosePosition(in.Pair, in.Venue.ID, in.Price, 0.001,
		ledger.CloseDetails{Amount: in.Amount, TradeType: in.TradeType})
	if err != nil {
		return nil, err
	}
	fill.Trade = &tr
	return fill, nil
}

func (f *fakeExecutor) snapshot() []execution.Intent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]execution.Intent(nil), f.intents...)
}

type env struct {
	bot      *TradingBot
	cfg      *config.Config
	ledger   *ledger.Ledger
	governor *circuit.Governor
	exec     *fakeExecutor
	binance  *staticVenue
	coinbase *staticVenue
	dir      string
}

func newEnv(t *testing.T, mutate func(*config.Config)) *env {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Pairs = map[string]config.PairConfig{pair: {venue.Binance: "BTCUSDT", venue.Coinbase: "BTC-USDC"}}
	cfg.StrategyConfig.ScalpingEnabled = false
	cfg.LoopConfig.Interval = 5 * time.Millisecond
	cfg.LoopConfig.WarmupInterval = 5 * time.Millisecond
	cfg.ReportConfig.Directory = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}

	logger := zerolog.Nop()
	reg := venue.NewRegistry(cfg.Pairs, logger)
	bn := &staticVenue{price: 100}
	cb := &staticVenue{price: 100}
	reg.Register(venue.Handle{ID: venue.Binance, Adapter: bn, Sizing: venue.SizeBase, QuoteCurrency: "USDT"})
	reg.Register(venue.Handle{ID: venue.Coinbase, Adapter: cb, Sizing: venue.SizeQuote, QuoteCurrency: "USDC"})

	bus := events.NewEventBus()
	l := ledger.New(map[string][]string{pair: {venue.Binance, venue.Coinbase}}, logger)
	g := circuit.NewGovernor(cfg.TradingConfig.SimulatedBalance, cfg.RiskConfig.CircuitBreakerThreshold, bus, logger)
	exec := &fakeExecutor{ledger: l}
	policy := retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	b, err := NewTradingBot(cfg, Components{
		Registry: reg,
		Ledger:   l,
		Governor: g,
		Cache:    marketdata.NewCache(200, cfg.RiskConfig.PriceTTL),
		Markers:  marketdata.NewTradeMarkers(0),
		Fetcher:  marketdata.NewFetcher(policy, "1m", 60, logger),
		Executor: exec,
		Sink:     report.NewSink(cfg.ReportConfig.Directory, l, nil, bus, logger),
		Bus:      bus,
		Metrics:  metrics.New(),
	}, execution.ModeSimulated, logger)
	if err != nil {
		t.Fatalf("NewTradingBot failed: %v", err)
	}
	return &env{bot: b, cfg: cfg, ledger: l, governor: g, exec: exec, binance: bn, coinbase: cb, dir: cfg.ReportConfig.Directory}
}

func TestNewTradingBotRequiresDeps(t *testing.T) {
	if _, err := NewTradingBot(config.DefaultConfig(), Components{}, execution.ModeSimulated, zerolog.Nop()); !errors.Is(err, ErrMissingDeps) {
		t.Errorf("Expected ErrMissingDeps, got %v", err)
	}
}

func TestTickRecordsPrices(t *testing.T) {
	e := newEnv(t, nil)

	e.bot.Tick(context.Background())

	hist := e.bot.PriceHistory(pair, time.Now().Add(-time.Minute))
	if len(hist) != 1 {
		t.Fatalf("Expected 1 price point, got %d", len(hist))
	}
	if hist[0].Prices[venue.Binance] != 100 || hist[0].Prices[venue.Coinbase] != 100 {
		t.Errorf("Expected both venues at 100, got %v", hist[0].Prices)
	}
	if n := len(e.bot.Candles(pair, venue.Binance, 10)); n != 10 {
		t.Errorf("Expected 10 cached candles, got %d", n)
	}
	if got := e.bot.Status()["tick_count"]; got != int64(1) {
		t.Errorf("Expected tick_count 1, got %v", got)
	}
	if len(e.exec.snapshot()) != 0 {
		t.Errorf("Expected no trades without a spread, got %d", len(e.exec.snapshot()))
	}
}

func TestTickFetchesAllVenuesConcurrently(t *testing.T) {
	e := newEnv(t, nil)
	gauge := &fetchGauge{}
	const delay = 100 * time.Millisecond
	for _, v := range []*staticVenue{e.binance, e.coinbase} {
		v.delay, v.gauge = delay, gauge
	}

	start := time.Now()
	e.bot.Tick(context.Background())
	elapsed := time.Since(start)

	if got := gauge.max(); got != 2 {
		t.Errorf("Expected 2 concurrent fetches for 1 pair on 2 venues, got %d", got)
	}
	if elapsed >= 2*delay-10*time.Millisecond {
		t.Errorf("Expected tick close to the slowest fetch (%v), took %v", delay, elapsed)
	}
	if hist := e.bot.PriceHistory(pair, time.Time{}); len(hist) != 1 || len(hist[0].Prices) != 2 {
		t.Errorf("Expected prices from both venues, got %v", hist)
	}
}

func TestTickRunsArbitrageOnSpread(t *testing.T) {
	e := newEnv(t, nil)
	e.coinbase.set(102, nil)

	e.bot.Tick(context.Background())

	intents := e.exec.snapshot()
	if len(intents) != 2 {
		t.Fatalf("Expected 2 legs, got %d", len(intents))
	}
	if intents[0].Signal != execution.Buy || intents[0].Venue.ID != venue.Binance {
		t.Errorf("Expected BUY on binance first, got %s on %s", intents[0].Signal, intents[0].Venue.ID)
	}
	if intents[1].Signal != execution.Sell || intents[1].Venue.ID != venue.Coinbase {
		t.Errorf("Expected SELL on coinbase second, got %s on %s", intents[1].Signal, intents[1].Venue.ID)
	}
	if intents[0].TradeType != strategy.TradeTypeArbitrage {
		t.Errorf("Expected Arbitrage trade type, got %s", intents[0].TradeType)
	}
}

func TestTickSkipsTradingWhenPaused(t *testing.T) {
	e := newEnv(t, nil)
	e.coinbase.set(102, nil)
	e.bot.Pause()

	e.bot.Tick(context.Background())

	if n := len(e.exec.snapshot()); n != 0 {
		t.Errorf("Expected no trades while paused, got %d", n)
	}
	if !e.governor.IsPaused() {
		t.Error("Expected governor to stay paused")
	}
}

func TestTickFetchFailureFallsBackToCache(t *testing.T) {
	e := newEnv(t, nil)
	e.bot.Tick(context.Background())

	e.coinbase.set(100, venue.ErrUnavailable)
	e.bot.Tick(context.Background())

	hist := e.bot.PriceHistory(pair, time.Now().Add(-time.Minute))
	if len(hist) != 2 {
		t.Fatalf("Expected 2 price points, got %d", len(hist))
	}
	if _, ok := hist[1].Prices[venue.Coinbase]; !ok {
		t.Error("Expected cached coinbase price within TTL")
	}
}

func TestTickWithoutAnyPriceDoesNotTrade(t *testing.T) {
	e := newEnv(t, nil)
	e.binance.set(100, venue.ErrNetwork)
	e.coinbase.set(100, venue.ErrNetwork)

	e.bot.Tick(context.Background())

	if len(e.bot.PriceHistory(pair, time.Time{})) != 0 {
		t.Error("Expected no price history without any fetch")
	}
	if len(e.exec.snapshot()) != 0 {
		t.Error("Expected no trades without prices")
	}
}

func TestCashOutSellsResetsAndReports(t *testing.T) {
	e := newEnv(t, nil)
	e.bot.Tick(context.Background())

	if err := e.ledger.OpenPosition(pair, venue.Binance, 0.5, 90); err != nil {
		t.Fatalf("OpenPosition failed: %v", err)
	}
	e.governor.Pause(circuit.ReasonOperator)

	outcomes, err := e.bot.CashOut(context.Background(), pair)
	if err != nil {
		t.Fatalf("CashOut failed: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Action != strategy.ActionExecuted {
		t.Fatalf("Expected one executed cash-out leg, got %+v", outcomes)
	}

	intents := e.exec.snapshot()
	if !intents[0].Liquidation {
		t.Error("Expected cash-out intent to be a liquidation")
	}
	if len(e.ledger.Holdings(pair)) != 0 {
		t.Error("Expected pair to be flat after cash-out")
	}
	if !e.governor.IsPaused() {
		t.Error("Expected cash-out to leave the governor paused")
	}

	entries, err := os.ReadDir(e.dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var tradeFiles int
	for _, entry := range entries {
		if report.IsTradeFile(entry.Name()) {
			tradeFiles++
			f, err := os.Open(filepath.Join(e.dir, entry.Name()))
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			trades, err := report.ReadTrades(f)
			f.Close()
			if err != nil {
				t.Fatalf("ReadTrades failed: %v", err)
			}
			if len(trades) != 1 || !strings.Contains(trades[0].Signal, strategy.TradeTypeCashOut) {
				t.Errorf("Expected one cash-out trade in report, got %+v", trades)
			}
		}
	}
	if tradeFiles != 1 {
		t.Errorf("Expected 1 trade report file, got %d", tradeFiles)
	}
}

func TestOperatorOpsRejectUnknownPair(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	if _, err := e.bot.CashOut(ctx, "DOGE/USDT"); !errors.Is(err, venue.ErrUnknownPair) {
		t.Errorf("CashOut: expected ErrUnknownPair, got %v", err)
	}
	if err := e.bot.ResetPositions("DOGE/USDT"); !errors.Is(err, venue.ErrUnknownPair) {
		t.Errorf("ResetPositions: expected ErrUnknownPair, got %v", err)
	}
	if _, err := e.bot.ManualTrade(ctx, "DOGE/USDT", execution.Buy); !errors.Is(err, venue.ErrUnknownPair) {
		t.Errorf("ManualTrade: expected ErrUnknownPair, got %v", err)
	}
	if _, err := e.bot.Indicators(pair, "kraken"); !errors.Is(err, venue.ErrUnknownPair) {
		t.Errorf("Indicators: expected ErrUnknownPair for unknown venue, got %v", err)
	}
}

func TestManualTrade(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	if _, err := e.bot.ManualTrade(ctx, pair, execution.Buy); !errors.Is(err, strategy.ErrNoPrices) {
		t.Errorf("Expected ErrNoPrices before any tick, got %v", err)
	}

	e.coinbase.set(99, nil)
	e.bot.Tick(context.Background())
	// the tick itself may arbitrage; start from a flat book
	if err := e.bot.ResetPositions(pair); err != nil {
		t.Fatalf("ResetPositions failed: %v", err)
	}

	if _, err := e.bot.ManualTrade(ctx, pair, execution.Sell); !errors.Is(err, strategy.ErrNothingToSell) {
		t.Errorf("Expected ErrNothingToSell, got %v", err)
	}

	out, err := e.bot.ManualTrade(ctx, pair, execution.Buy)
	if err != nil {
		t.Fatalf("ManualTrade BUY failed: %v", err)
	}
	if out.Fill.Venue != venue.Coinbase {
		t.Errorf("Expected BUY on cheaper coinbase, got %s", out.Fill.Venue)
	}

	out, err = e.bot.ManualTrade(ctx, pair, execution.Sell)
	if err != nil {
		t.Fatalf("ManualTrade SELL failed: %v", err)
	}
	if out.Fill.Venue != venue.Coinbase {
		t.Errorf("Expected SELL on holding venue coinbase, got %s", out.Fill.Venue)
	}
}

func TestIndicatorsSnapshot(t *testing.T) {
	e := newEnv(t, func(c *config.Config) { c.StrategyConfig.ArbitrageEnabled = false })
	e.coinbase.set(101, nil)
	e.bot.Tick(context.Background())

	ind, err := e.bot.Indicators(pair, venue.Binance)
	if err != nil {
		t.Fatalf("Indicators failed: %v", err)
	}
	if ind["sma_fast"] != 100.0 || ind["sma_slow"] != 100.0 {
		t.Errorf("Expected flat SMAs at 100, got %v / %v", ind["sma_fast"], ind["sma_slow"])
	}
	if ind["price"] != 100.0 {
		t.Errorf("Expected price 100, got %v", ind["price"])
	}
	if ind["arbitrage_action"] != "buy binance, sell coinbase" {
		t.Errorf("Expected buy binance / sell coinbase, got %v", ind["arbitrage_action"])
	}
}

func TestIntervalWarmup(t *testing.T) {
	e := newEnv(t, func(c *config.Config) {
		c.LoopConfig.Interval = time.Second
		c.LoopConfig.WarmupInterval = 3 * time.Second
		c.LoopConfig.WarmupTrades = 1
	})

	if got := e.bot.interval(); got != 3*time.Second {
		t.Errorf("Expected warmup interval, got %v", got)
	}
	for i := 0; i < 2; i++ {
		e.ledger.OpenPosition(pair, venue.Binance, 1, 100)
		e.ledger.ClosePosition(pair, venue.Binance, 101, 0, ledger.CloseDetails{})
	}
	if got := e.bot.interval(); got != time.Second {
		t.Errorf("Expected normal interval after warmup, got %v", got)
	}
}

func TestStartStop(t *testing.T) {
	e := newEnv(t, nil)

	if err := e.bot.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := e.bot.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for e.bot.Status()["tick_count"].(int64) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if e.bot.Status()["tick_count"].(int64) < 2 {
		t.Fatal("Expected the loop to tick")
	}

	if err := e.bot.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if e.bot.Status()["running"] != false {
		t.Error("Expected bot to report stopped")
	}
	ticks := e.bot.Status()["tick_count"].(int64)
	time.Sleep(20 * time.Millisecond)
	if e.bot.Status()["tick_count"].(int64) != ticks {
		t.Error("Expected no ticks after Stop")
	}
}

func TestRestartedBotStopsAgain(t *testing.T) {
	e := newEnv(t, nil)

	if err := e.bot.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := e.bot.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if err := e.ledger.OpenPosition(pair, venue.Binance, 1, 100); err != nil {
		t.Fatal(err)
	}
	e.ledger.ClosePosition(pair, venue.Binance, 101, 0, ledger.CloseDetails{})

	if err := e.bot.Start(context.Background()); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if err := e.bot.Stop(); err != nil {
		t.Errorf("Second Stop failed: %v", err)
	}
	if e.bot.Status()["running"] != false {
		t.Error("Expected restarted bot to report stopped")
	}
	ticks := e.bot.Status()["tick_count"].(int64)
	time.Sleep(20 * time.Millisecond)
	if e.bot.Status()["tick_count"].(int64) != ticks {
		t.Error("Expected no ticks after the second Stop")
	}

	entries, err := os.ReadDir(e.dir)
	if err != nil {
		t.Fatal(err)
	}
	trades := 0
	for _, entry := range entries {
		if report.IsTradeFile(entry.Name()) {
			trades++
		}
	}
	if trades != 1 {
		t.Errorf("Expected the second Stop to write 1 report, got %d", trades)
	}
}

func TestConcurrentStopRunsOnce(t *testing.T) {
	e := newEnv(t, nil)
	if err := e.bot.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.bot.Stop(); err != nil {
				t.Errorf("Stop failed: %v", err)
			}
		}()
	}
	wg.Wait()
	if e.bot.Status()["running"] != false {
		t.Error("Expected bot to report stopped")
	}
}

func TestInvalidReportSchedule(t *testing.T) {
	e := newEnv(t, func(c *config.Config) { c.ReportConfig.Schedule = "not a schedule" })
	if err := e.bot.Start(context.Background()); err == nil {
		t.Error("Expected error for invalid schedule")
	}
}
