package venue

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// basePrices seeds the random walk for known assets
var basePrices = map[string]float64{
	"BTC": 104500.00,
	"ETH": 3900.00,
	"XRP": 2.35,
	"LTC": 115.00,
	"BCH": 480.00,
}

// Simulated is an in-memory venue producing random-walk candles and filling
// market orders instantly at the last close.
type Simulated struct {
	mu       sync.Mutex
	sizing   SizingMode
	fees     Fees
	rng      *rand.Rand
	now      func() time.Time
	step     float64 // max fractional move per candle
	series   map[string][]Candle
	maxBars  int
	balances map[string]float64
	orders   map[string]OrderFill // by client order id
}

// SimulatedOption customizes a Simulated venue
type SimulatedOption func(*Simulated)

// WithRand makes the walk deterministic
func WithRand(r *rand.Rand) SimulatedOption {
	return func(s *Simulated) { s.rng = r }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) SimulatedOption {
	return func(s *Simulated) { s.now = now }
}

// WithBalances seeds account balances
func WithBalances(b map[string]float64) SimulatedOption {
	return func(s *Simulated) {
		for k, v := range b {
			s.balances[k] = v
		}
	}
}

// WithStep sets the max fractional move per candle
func WithStep(step float64) SimulatedOption {
	return func(s *Simulated) { s.step = step }
}

// NewSimulated creates a simulated venue
func NewSimulated(sizing SizingMode, fees Fees, opts ...SimulatedOption) *Simulated {
	s := &Simulated{
		sizing:   sizing,
		fees:     fees,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
		step:     0.005,
		series:   make(map[string][]Candle),
		maxBars:  1000,
		balances: make(map[string]float64),
		orders:   make(map[string]OrderFill),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SplitSymbol returns base and quote of "BTC/USDT" or "BTC-USDC"
func SplitSymbol(symbol string) (string, string) {
	for _, sep := range []string{"/", "-"} {
		if parts := strings.SplitN(symbol, sep, 2); len(parts) == 2 {
			return strings.ToUpper(parts[0]), strings.ToUpper(parts[1])
		}
	}
	return strings.ToUpper(symbol), ""
}

// TimeframeDuration parses "1m", "5m", "1h", "1d"; unknown values mean one minute
func TimeframeDuration(tf string) time.Duration {
	switch tf {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	}
	if d, err := time.ParseDuration(tf); err == nil && d > 0 {
		return d
	}
	return time.Minute
}

func (s *Simulated) nextBar(t time.Time, open float64) Candle {
	change := (s.rng.Float64() - 0.5) * 2 * s.step
	closePrice := open * (1 + change)
	high := math.Max(open, closePrice) * (1 + s.rng.Float64()*s.step*0.5)
	low := math.Min(open, closePrice) * (1 - s.rng.Float64()*s.step*0.5)
	return Candle{
		Time:   t,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePrice,
		Volume: 1 + s.rng.Float64()*100,
	}
}

// advance extends a symbol's series to now; the forming bar is re-walked in place
func (s *Simulated) advance(symbol, timeframe string, limit int) []Candle {
	step := TimeframeDuration(timeframe)
	now := s.now().Truncate(step)
	bars := s.series[symbol]

	if len(bars) == 0 {
		base, _ := SplitSymbol(symbol)
		price, ok := basePrices[base]
		if !ok {
			price = 100.0
		}
		n := limit
		if n <= 0 {
			n = 1
		}
		bars = make([]Candle, 0, n)
		for i := n - 1; i >= 0; i-- {
			bar := s.nextBar(now.Add(-time.Duration(i)*step), price)
			bars = append(bars, bar)
			price = bar.Close
		}
	} else {
		last := bars[len(bars)-1]
		if !now.After(last.Time) {
			moved := s.nextBar(last.Time, last.Open)
			moved.High = math.Max(moved.High, last.High)
			moved.Low = math.Min(moved.Low, last.Low)
			moved.Volume += last.Volume
			bars[len(bars)-1] = moved
		}
		for t := last.Time.Add(step); !t.After(now); t = t.Add(step) {
			bars = append(bars, s.nextBar(t, bars[len(bars)-1].Close))
		}
	}

	if len(bars) > s.maxBars {
		bars = bars[len(bars)-s.maxBars:]
	}
	s.series[symbol] = bars
	return bars
}

// SetPrice forces the last close of a symbol, creating the series if needed
func (s *Simulated) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bars := s.ensure(symbol)
	last := &bars[len(bars)-1]
	last.Close = price
	last.High = math.Max(last.High, price)
	last.Low = math.Min(last.Low, price)
}

func (s *Simulated) ensure(symbol string) []Candle {
	if bars := s.series[symbol]; len(bars) > 0 {
		return bars
	}
	return s.advance(symbol, "1m", 1)
}

func (s *Simulated) lastPrice(symbol string) float64 {
	bars := s.ensure(symbol)
	return bars[len(bars)-1].Close
}

func (s *Simulated) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	bars := s.advance(symbol, timeframe, limit)
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	out := make([]Candle, len(bars))
	copy(out, bars)
	return out, nil
}

func (s *Simulated) FetchBalance(ctx context.Context) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.balances))
	for k, v := range s.balances {
		out[k] = v
	}
	return out, nil
}

func (s *Simulated) FetchFees(ctx context.Context, symbol string) (Fees, error) {
	return s.fees, nil
}

// PlaceMarketBuy fills at the last close. A repeated client order id returns
// the original fill without moving balances again.
func (s *Simulated) PlaceMarketBuy(ctx context.Context, symbol string, order Order) (OrderFill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.orders[order.ClientOrderID]; ok && order.ClientOrderID != "" {
		return f, nil
	}
	price := s.lastPrice(symbol)
	base, quote := SplitSymbol(symbol)

	amount := order.Base
	if s.sizing == SizeQuote {
		amount = order.Quote / price
	}
	if amount <= 0 {
		return OrderFill{}, fmt.Errorf("%w: non-positive order size", ErrExchange)
	}

	cost := amount * price
	fee := cost * s.fees.Taker
	if s.balances[quote] < cost {
		return OrderFill{}, fmt.Errorf("%w: insufficient %s balance (%.2f < %.2f)", ErrExchange, quote, s.balances[quote], cost)
	}
	s.balances[quote] -= cost
	s.balances[base] += amount

	return s.record(order.ClientOrderID, OrderFill{OrderID: uuid.NewString(), Filled: amount, AvgPrice: price, QuoteCost: cost, Fee: fee}), nil
}

func (s *Simulated) PlaceMarketSell(ctx context.Context, symbol string, order Order) (OrderFill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.orders[order.ClientOrderID]; ok && order.ClientOrderID != "" {
		return f, nil
	}
	amount := order.Base
	if amount <= 0 {
		return OrderFill{}, fmt.Errorf("%w: non-positive order size", ErrExchange)
	}
	price := s.lastPrice(symbol)
	base, quote := SplitSymbol(symbol)
	if s.balances[base] < amount {
		return OrderFill{}, fmt.Errorf("%w: insufficient %s balance (%.8f < %.8f)", ErrExchange, base, s.balances[base], amount)
	}

	proceeds := amount * price
	s.balances[base] -= amount
	s.balances[quote] += proceeds

	return s.record(order.ClientOrderID, OrderFill{OrderID: uuid.NewString(), Filled: amount, AvgPrice: price, QuoteCost: proceeds, Fee: proceeds * s.fees.Taker}), nil
}

func (s *Simulated) record(clientID string, f OrderFill) OrderFill {
	if clientID != "" {
		s.orders[clientID] = f
	}
	return f
}

var _ Adapter = (*Simulated)(nil)
