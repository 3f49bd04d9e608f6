package database

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"multi-exchange-trading-bot/config"
	"multi-exchange-trading-bot/internal/ledger"
)

func TestDSN(t *testing.T) {
	cfg := config.DefaultConfig().DatabaseConfig
	cfg.Password = "secret"
	dsn := DSN(cfg)

	for _, want := range []string{"host=localhost", "port=5432", "dbname=trading_bot", "password=secret", "sslmode=disable"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("Expected DSN to contain %q, got %q", want, dsn)
		}
	}
}

func TestTradeArgsOrder(t *testing.T) {
	rec := ledger.TradeRecord{ID: "abc", Pair: "BTC/USDT", Venue: "binance", NetProfit: 1.5, Latency: 1500 * time.Millisecond}
	args := tradeArgs(7, rec)

	if len(args) != 14 {
		t.Fatalf("Expected 14 args, got %d", len(args))
	}
	if args[0] != "abc" || args[1] != int64(7) || args[11] != 1.5 || args[12] != int64(1500) {
		t.Errorf("Expected id, report id, net profit and latency in place, got %v", args)
	}
}

func TestPositionMirrorMemoryOnly(t *testing.T) {
	m := NewPositionMirror(nil, zerolog.Nop())
	if m.Available() {
		t.Errorf("Expected memory-only mirror to report unavailable")
	}

	l := ledger.New(map[string][]string{"BTC/USDT": {"binance"}}, zerolog.Nop())
	l.SetObserver(m.Observe)
	if err := l.OpenPosition("BTC/USDT", "binance", 0.5, 100); err != nil {
		t.Fatal(err)
	}

	p, ok, err := m.Load(context.Background(), "BTC/USDT", "binance")
	if err != nil || !ok {
		t.Fatalf("Expected mirrored position, got ok=%v err=%v", ok, err)
	}
	if !p.Holding || p.Amount != 0.5 {
		t.Errorf("Expected holding 0.5, got %+v", p)
	}

	if len(m.Snapshot()) != 1 {
		t.Errorf("Expected one mirrored position, got %d", len(m.Snapshot()))
	}
	if err := m.Save(context.Background(), p); err != nil {
		t.Errorf("Expected Save to be a no-op without a client, got %v", err)
	}
}

// recordingStore captures mirror writes in place of Redis
type recordingStore struct {
	mu       sync.Mutex
	saved    map[string]ledger.Position
	writes   int
	ctxErrs  int
	failNext bool
}

func newRecordingStore() *recordingStore {
	return &recordingStore{saved: make(map[string]ledger.Position)}
}

func (r *recordingStore) save(ctx context.Context, p ledger.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil {
		r.ctxErrs++
		return ctx.Err()
	}
	if r.failNext {
		r.failNext = false
		return errors.New("connection refused")
	}
	r.writes++
	r.saved[positionID(p.Pair, p.Venue)] = p
	return nil
}

func TestPositionMirrorDrainsQueuedUpdatesOnCancel(t *testing.T) {
	m := NewPositionMirror(nil, zerolog.Nop())
	store := newRecordingStore()
	m.save = store.save

	m.Observe(ledger.Position{Pair: "BTC/USDT", Venue: "binance", Holding: true, Amount: 0.5, EntryPrice: 100})
	m.Observe(ledger.Position{Pair: "ETH/USDT", Venue: "coinbase", Holding: true, Amount: 2, EntryPrice: 50})
	// final flatten after the bot stops
	m.Observe(ledger.Position{Pair: "BTC/USDT", Venue: "binance"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Run(ctx)

	select {
	case <-m.Done():
	default:
		t.Fatalf("Expected Done to be closed after Run returns")
	}
	if store.ctxErrs != 0 {
		t.Errorf("Expected drain to use a live context, got %d cancelled writes", store.ctxErrs)
	}
	btc, ok := store.saved["BTC/USDT:binance"]
	if !ok || btc.Holding {
		t.Errorf("Expected flattened BTC position in store, got %+v (ok=%v)", btc, ok)
	}
	if eth, ok := store.saved["ETH/USDT:coinbase"]; !ok || eth.Amount != 2 {
		t.Errorf("Expected ETH position in store, got %+v (ok=%v)", eth, ok)
	}
	if m.Pending() != 0 {
		t.Errorf("Expected no pending updates, got %d", m.Pending())
	}
}

func TestPositionMirrorBurstKeepsNewestState(t *testing.T) {
	m := NewPositionMirror(nil, zerolog.Nop())
	store := newRecordingStore()
	m.save = store.save

	for i := 1; i <= 1000; i++ {
		m.Observe(ledger.Position{Pair: "BTC/USDT", Venue: "binance", Holding: true, Amount: float64(i)})
	}
	if m.Pending() != 1 {
		t.Errorf("Expected updates coalesced to one pending entry, got %d", m.Pending())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Run(ctx)

	if store.writes != 1 {
		t.Errorf("Expected 1 write, got %d", store.writes)
	}
	if got := store.saved["BTC/USDT:binance"].Amount; got != 1000 {
		t.Errorf("Expected newest amount 1000, got %v", got)
	}
}

func TestPositionMirrorRequeuesFailedWrite(t *testing.T) {
	m := NewPositionMirror(nil, zerolog.Nop())
	store := newRecordingStore()
	store.failNext = true
	m.save = store.save

	m.Observe(ledger.Position{Pair: "BTC/USDT", Venue: "binance", Holding: true, Amount: 1})
	if n := m.flush(context.Background()); n != 0 {
		t.Errorf("Expected failed flush to write 0, got %d", n)
	}
	if m.Pending() != 1 {
		t.Fatalf("Expected failed update back in pending, got %d", m.Pending())
	}
	if n := m.flush(context.Background()); n != 1 {
		t.Errorf("Expected retry to write 1, got %d", n)
	}
	if got := store.saved["BTC/USDT:binance"].Amount; got != 1 {
		t.Errorf("Expected amount 1 after retry, got %v", got)
	}
}

func TestPositionMirrorWritesWhileRunning(t *testing.T) {
	m := NewPositionMirror(nil, zerolog.Nop())
	store := newRecordingStore()
	m.save = store.save

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)

	m.Observe(ledger.Position{Pair: "BTC/USDT", Venue: "binance", Holding: true, Amount: 3})
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		store.mu.Lock()
		_, ok := store.saved["BTC/USDT:binance"]
		store.mu.Unlock()
		if ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatalf("Expected Run to return after cancel")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if got := store.saved["BTC/USDT:binance"].Amount; got != 3 {
		t.Errorf("Expected amount 3 written while running, got %v", got)
	}
}
