package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	return rec.Body.String()
}

func TestCountersAndGauges(t *testing.T) {
	m := New()

	m.ObserveTrade("binance", "BUY", "simulated", 10*time.Millisecond)
	m.ObserveTrade("binance", "BUY", "simulated", 10*time.Millisecond)
	m.ObserveRejection("coinbase", "BUY", "simulated", "unprofitable")
	m.SetProfit(-1.5, 3)
	m.SetPaused(true)
	m.SetPrice("BTC/USDT", "binance", 42000)

	body := scrape(t, m)
	want := []string{
		`bot_trades_total{mode="simulated",result="executed",side="BUY",venue="binance"} 2`,
		`bot_rejections_total{reason="unprofitable"} 1`,
		`bot_total_profit -1.5`,
		`bot_trade_count 3`,
		`bot_paused 1`,
		`bot_price{pair="BTC/USDT",venue="binance"} 42000`,
	}
	for _, w := range want {
		if !strings.Contains(body, w) {
			t.Errorf("Expected exposition to contain %q", w)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTrade("binance", "BUY", "live", time.Second)
	m.SetProfit(1, 1)
	m.ObserveTick(time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("Expected 404 from nil metrics handler, got %d", rec.Code)
	}
}
