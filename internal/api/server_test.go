package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"multi-exchange-trading-bot/config"
	"multi-exchange-trading-bot/internal/circuit"
	"multi-exchange-trading-bot/internal/events"
	"multi-exchange-trading-bot/internal/execution"
	"multi-exchange-trading-bot/internal/ledger"
	"multi-exchange-trading-bot/internal/marketdata"
	"multi-exchange-trading-bot/internal/metrics"
	"multi-exchange-trading-bot/internal/strategy"
	"multi-exchange-trading-bot/internal/venue"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

type fakeBot struct {
	mu         sync.Mutex
	paused     bool
	candlePair string
	candleVen  string
	candleN    int
	manual     []string
	resets     []string
}

func (f *fakeBot) Status() map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return map[string]interface{}{"paused": f.paused, "mode": "simulated"}
}

func (f *fakeBot) Positions() []ledger.Position {
	return []ledger.Position{{Pair: "BTC/USDT", Venue: "binance", Holding: true, Amount: 0.5, EntryPrice: 100}}
}

func (f *fakeBot) Profit() ledger.Profit {
	return ledger.Profit{TotalProfit: 12.5, TradeCount: 3}
}

func (f *fakeBot) Candles(pair, venueID string, n int) []marketdata.Candle {
	f.mu.Lock()
	f.candlePair, f.candleVen, f.candleN = pair, venueID, n
	f.mu.Unlock()
	return []marketdata.Candle{{Close: 101}}
}

func (f *fakeBot) Markers(pair string, since time.Time) []marketdata.TradeMarker {
	return []marketdata.TradeMarker{{Price: 100, Side: "BUY", Venue: "binance"}}
}

func (f *fakeBot) PriceHistory(pair string, since time.Time) []marketdata.PricePoint {
	return nil
}

func (f *fakeBot) Indicators(pair, venueID string) (map[string]interface{}, error) {
	if pair != "BTC/USDT" {
		return nil, fmt.Errorf("%w: %s", venue.ErrUnknownPair, pair)
	}
	return map[string]interface{}{"atr": 1.5}, nil
}

func (f *fakeBot) Pause() {
	f.mu.Lock()
	f.paused = true
	f.mu.Unlock()
}

func (f *fakeBot) Resume() {
	f.mu.Lock()
	f.paused = false
	f.mu.Unlock()
}

func (f *fakeBot) TogglePause() circuit.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = !f.paused
	if f.paused {
		return circuit.StatePaused
	}
	return circuit.StateActive
}

func (f *fakeBot) CashOut(ctx context.Context, pair string) ([]strategy.Outcome, error) {
	if pair != "BTC/USDT" {
		return nil, fmt.Errorf("%w: %s", venue.ErrUnknownPair, pair)
	}
	return []strategy.Outcome{
		{Strategy: "cash-out", Pair: pair, Action: strategy.ActionExecuted, Signal: execution.Sell},
		{Strategy: "cash-out", Pair: pair, Action: strategy.ActionRejected, Signal: execution.Sell, Err: execution.ErrVenueUnavailable},
	}, nil
}

func (f *fakeBot) ResetPositions(pair string) error {
	f.mu.Lock()
	f.resets = append(f.resets, pair)
	f.mu.Unlock()
	return nil
}

func (f *fakeBot) ManualTrade(ctx context.Context, pair string, sig execution.Signal) (strategy.Outcome, error) {
	f.mu.Lock()
	f.manual = append(f.manual, pair+" "+string(sig))
	f.mu.Unlock()
	if sig == execution.Sell {
		return strategy.Outcome{}, fmt.Errorf("%w: %s", strategy.ErrNothingToSell, pair)
	}
	return strategy.Outcome{Strategy: "manual", Pair: pair, Action: strategy.ActionExecuted, Signal: sig}, nil
}

func newTestServer(t *testing.T, cfg config.ServerConfig, bus *events.EventBus) (*Server, *fakeBot) {
	t.Helper()
	bot := &fakeBot{}
	s := NewServer(cfg, bot, bus, metrics.New(), zerolog.Nop())
	t.Cleanup(s.hub.Stop)
	return s, bot
}

func do(s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	return response
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, config.ServerConfig{}, nil)

	w := do(s, http.MethodGet, "/api/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if resp := decode(t, w); resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got '%v'", resp["status"])
	}
}

func TestReadEndpoints(t *testing.T) {
	s, _ := newTestServer(t, config.ServerConfig{}, nil)

	tests := []struct {
		path string
		code int
	}{
		{"/api/status", http.StatusOK},
		{"/api/positions", http.StatusOK},
		{"/api/profit", http.StatusOK},
		{"/api/markers/BTC/USDT?since=30m", http.StatusOK},
		{"/api/markers/BTC/USDT?since=yesterday", http.StatusBadRequest},
		{"/api/prices/BTC/USDT", http.StatusOK},
		{"/api/indicators/binance/BTC/USDT", http.StatusOK},
		{"/api/indicators/binance/DOGE/USDT", http.StatusNotFound},
		{"/api/candles/binance/BTC/USDT?limit=abc", http.StatusBadRequest},
	}

	for _, tt := range tests {
		w := do(s, http.MethodGet, tt.path, "", nil)
		if w.Code != tt.code {
			t.Errorf("%s: Expected status %d, got %d", tt.path, tt.code, w.Code)
		}
	}
}

func TestCandlesPairWithSlash(t *testing.T) {
	s, bot := newTestServer(t, config.ServerConfig{}, nil)

	w := do(s, http.MethodGet, "/api/candles/coinbase/ETH/USDT?limit=5000", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if bot.candlePair != "ETH/USDT" {
		t.Errorf("Expected pair ETH/USDT, got %q", bot.candlePair)
	}
	if bot.candleVen != "coinbase" {
		t.Errorf("Expected venue coinbase, got %q", bot.candleVen)
	}
	if bot.candleN != maxCandleLimit {
		t.Errorf("Expected limit clamped to %d, got %d", maxCandleLimit, bot.candleN)
	}
}

func TestPauseResumeToggle(t *testing.T) {
	s, bot := newTestServer(t, config.ServerConfig{}, nil)

	do(s, http.MethodPost, "/api/control/pause", "", nil)
	if !bot.paused {
		t.Error("Expected bot to be paused")
	}
	do(s, http.MethodPost, "/api/control/resume", "", nil)
	if bot.paused {
		t.Error("Expected bot to be resumed")
	}

	w := do(s, http.MethodPost, "/api/control/toggle", "", nil)
	data := decode(t, w)["data"].(map[string]interface{})
	if data["state"] != string(circuit.StatePaused) {
		t.Errorf("Expected toggled state paused, got %v", data["state"])
	}
}

func TestOperatorKeyRequired(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash key: %v", err)
	}
	s, bot := newTestServer(t, config.ServerConfig{OperatorKeyHash: string(hash)}, nil)

	w := do(s, http.MethodPost, "/api/control/pause", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without key, got %d", w.Code)
	}
	w = do(s, http.MethodPost, "/api/control/pause", "", map[string]string{OperatorKeyHeader: "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 with wrong key, got %d", w.Code)
	}
	if bot.paused {
		t.Error("Expected rejected request not to pause the bot")
	}

	w = do(s, http.MethodPost, "/api/control/pause", "", map[string]string{OperatorKeyHeader: "s3cret"})
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 with key, got %d", w.Code)
	}

	// read routes stay open
	if w := do(s, http.MethodGet, "/api/status", "", nil); w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for read route, got %d", w.Code)
	}
}

func TestManualTrade(t *testing.T) {
	s, bot := newTestServer(t, config.ServerConfig{}, nil)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"buy", `{"pair":"BTC/USDT","signal":"buy"}`, http.StatusOK},
		{"sell without holding", `{"pair":"BTC/USDT","signal":"SELL"}`, http.StatusConflict},
		{"bad signal", `{"pair":"BTC/USDT","signal":"HOLD"}`, http.StatusBadRequest},
		{"missing pair", `{"signal":"BUY"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(s, http.MethodPost, "/api/control/manual", tt.body, nil)
			if w.Code != tt.code {
				t.Errorf("Expected status %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
		})
	}

	if len(bot.manual) != 2 || bot.manual[0] != "BTC/USDT BUY" {
		t.Errorf("Expected two forwarded manual trades, got %v", bot.manual)
	}
}

func TestCashOutAndReset(t *testing.T) {
	s, bot := newTestServer(t, config.ServerConfig{}, nil)

	w := do(s, http.MethodPost, "/api/control/cashout", `{"pair":"BTC/USDT"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	data := decode(t, w)["data"].(map[string]interface{})
	outcomes := data["outcomes"].([]interface{})
	if len(outcomes) != 2 {
		t.Fatalf("Expected 2 outcomes, got %d", len(outcomes))
	}
	rejected := outcomes[1].(map[string]interface{})
	if rejected["reason"] != "venue_unavailable" {
		t.Errorf("Expected reason venue_unavailable, got %v", rejected["reason"])
	}

	w = do(s, http.MethodPost, "/api/control/cashout", `{"pair":"XRP/USDT"}`, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown pair, got %d", w.Code)
	}

	w = do(s, http.MethodPost, "/api/control/reset", `{"pair":"BTC/USDT"}`, nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if len(bot.resets) != 1 || bot.resets[0] != "BTC/USDT" {
		t.Errorf("Expected reset of BTC/USDT, got %v", bot.resets)
	}
}

func TestMetricsRoute(t *testing.T) {
	s, _ := newTestServer(t, config.ServerConfig{}, nil)

	w := do(s, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "bot_paused") {
		t.Error("Expected bot_paused in metrics output")
	}
}

func TestWebSocketStreamsBusEvents(t *testing.T) {
	bus := events.NewEventBus()
	s, _ := newTestServer(t, config.ServerConfig{}, bus)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var greeting events.Event
	if err := conn.ReadJSON(&greeting); err != nil {
		t.Fatalf("Failed to read greeting: %v", err)
	}
	if greeting.Type != "CONNECTED" {
		t.Errorf("Expected CONNECTED greeting, got %s", greeting.Type)
	}

	bus.PublishPnL(42, 7)

	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	if ev.Type != events.EventPnLUpdate {
		t.Errorf("Expected %s, got %s", events.EventPnLUpdate, ev.Type)
	}
}

func TestAllowedOrigins(t *testing.T) {
	got := allowedOrigins(" http://a.test , ,http://b.test")
	if len(got) != 2 || got[0] != "http://a.test" || got[1] != "http://b.test" {
		t.Errorf("Expected two trimmed origins, got %v", got)
	}
	if len(allowedOrigins("")) == 0 {
		t.Error("Expected default origins when none configured")
	}
}
