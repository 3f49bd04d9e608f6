package ledger

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func newTestLedger() *Ledger {
	return New(map[string][]string{
		"BTC/USDT": {"binance", "coinbase"},
		"ETH/BTC":  {"binance"},
	}, zerolog.Nop())
}

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestOpenPositionErrors(t *testing.T) {
	l := newTestLedger()

	tests := []struct {
		name    string
		pair    string
		venue   string
		amount  float64
		price   float64
		wantErr error
	}{
		{"valid", "BTC/USDT", "binance", 1, 100, nil},
		{"already holding", "BTC/USDT", "binance", 1, 100, ErrAlreadyHolding},
		{"unknown venue", "ETH/BTC", "coinbase", 1, 100, ErrUnknownPosition},
		{"zero amount", "BTC/USDT", "coinbase", 0, 100, ErrInvalidAmount},
		{"zero price", "BTC/USDT", "coinbase", 1, 0, ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.OpenPosition(tt.pair, tt.venue, tt.amount, tt.price)
			if tt.wantErr == nil && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestClosePositionRealizesProfit(t *testing.T) {
	l := newTestLedger()
	if err := l.OpenPosition("BTC/USDT", "binance", 2, 100); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	rec, err := l.ClosePosition("BTC/USDT", "binance", 110, 0.001, CloseDetails{TradeType: "Scalping"})
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}

	// gross 20, fees 110*2*0.001 = 0.22
	if !almost(rec.GrossProfit, 20) || !almost(rec.Fees, 0.22) || !almost(rec.NetProfit, 19.78) {
		t.Errorf("Expected gross 20 fees 0.22 net 19.78, got %f %f %f", rec.GrossProfit, rec.Fees, rec.NetProfit)
	}
	if rec.Signal != "Scalping SELL BTC/USDT" {
		t.Errorf("Expected signal 'Scalping SELL BTC/USDT', got %q", rec.Signal)
	}

	p, _ := l.Position("BTC/USDT", "binance")
	if p.Holding || p.Amount != 0 {
		t.Errorf("Expected flat position, got %+v", p)
	}

	prof := l.Profit()
	if prof.TradeCount != 1 || !almost(prof.TotalProfit, 19.78) || prof.LastTradeTime == nil {
		t.Errorf("Expected one trade with 19.78 profit, got %+v", prof)
	}

	if _, err := l.ClosePosition("BTC/USDT", "binance", 110, 0.001, CloseDetails{}); !errors.Is(err, ErrNoPosition) {
		t.Errorf("Expected ErrNoPosition, got %v", err)
	}
}

func TestPartialClose(t *testing.T) {
	l := newTestLedger()
	_ = l.OpenPosition("BTC/USDT", "coinbase", 1, 100)

	rec, err := l.ClosePosition("BTC/USDT", "coinbase", 90, 0, CloseDetails{Amount: 0.4})
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if !almost(rec.NetProfit, -4) {
		t.Errorf("Expected net -4, got %f", rec.NetProfit)
	}

	p, _ := l.Position("BTC/USDT", "coinbase")
	if !p.Holding || !almost(p.Amount, 0.6) || p.EntryPrice != 100 {
		t.Errorf("Expected 0.6 still held at 100, got %+v", p)
	}
}

func TestDrainAndReset(t *testing.T) {
	l := newTestLedger()
	_ = l.OpenPosition("BTC/USDT", "binance", 1, 100)
	_, _ = l.ClosePosition("BTC/USDT", "binance", 101, 0, CloseDetails{})
	_ = l.OpenPosition("BTC/USDT", "binance", 1, 100)
	_ = l.OpenPosition("ETH/BTC", "binance", 1, 0.05)

	if got := len(l.DrainTrades()); got != 1 {
		t.Errorf("Expected 1 drained trade, got %d", got)
	}
	if got := len(l.DrainTrades()); got != 0 {
		t.Errorf("Expected empty buffer after drain, got %d", got)
	}
	if l.Profit().TradeCount != 1 {
		t.Errorf("Expected trade count to survive drain")
	}

	l.Reset("BTC/USDT")
	if len(l.Holdings("BTC/USDT")) != 0 {
		t.Errorf("Expected BTC/USDT flat after reset")
	}
	if len(l.Holdings("ETH/BTC")) != 1 {
		t.Errorf("Expected ETH/BTC untouched by reset")
	}

	l.ResetAll()
	for _, p := range l.Positions() {
		if p.Holding {
			t.Errorf("Expected all flat, got %+v", p)
		}
	}
}

func TestEquityAndObserver(t *testing.T) {
	l := newTestLedger()
	var seen []Position
	l.SetObserver(func(p Position) { seen = append(seen, p) })

	_ = l.OpenPosition("BTC/USDT", "binance", 1, 100)
	_, _ = l.ClosePosition("BTC/USDT", "binance", 99, 0, CloseDetails{})

	if !almost(l.Equity(25), 24) {
		t.Errorf("Expected equity 24, got %f", l.Equity(25))
	}
	if len(seen) != 2 || !seen[0].Holding || seen[1].Holding {
		t.Errorf("Expected open then close notifications, got %+v", seen)
	}
}

func TestConcurrentCloses(t *testing.T) {
	l := New(map[string][]string{"BTC/USDT": {"binance"}}, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.OpenPosition("BTC/USDT", "binance", 1, 100); err == nil {
				_, _ = l.ClosePosition("BTC/USDT", "binance", 101, 0, CloseDetails{})
			}
			_ = l.Profit()
		}()
	}
	wg.Wait()

	prof := l.Profit()
	if !almost(prof.TotalProfit, float64(prof.TradeCount)) {
		t.Errorf("Expected profit to equal trade count, got %f vs %d", prof.TotalProfit, prof.TradeCount)
	}
}
