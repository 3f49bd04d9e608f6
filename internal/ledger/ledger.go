// Package ledger tracks per-venue positions and realized profit for every
// configured pair.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Errors for position tracking
var (
	ErrAlreadyHolding  = errors.New("position already open")
	ErrNoPosition      = errors.New("no open position")
	ErrUnknownPosition = errors.New("pair not configured on venue")
	ErrInvalidAmount   = errors.New("invalid amount or price")
)

// Position is the holding on one venue for one pair
type Position struct {
	Pair       string    `json:"pair"`
	Venue      string    `json:"venue"`
	Holding    bool      `json:"holding"`
	Amount     float64   `json:"amount"`
	EntryPrice float64   `json:"entry_price"`
	OpenedAt   time.Time `json:"opened_at,omitempty"`
}

// TradeRecord is one completed closing trade
type TradeRecord struct {
	ID          string        `json:"id"`
	Time        time.Time     `json:"time"`
	Pair        string        `json:"pair"`
	Venue       string        `json:"venue"`
	Signal      string        `json:"signal"`
	BuyPrice    float64       `json:"buy_price"`
	SellPrice   float64       `json:"sell_price"`
	Amount      float64       `json:"amount"`
	GrossProfit float64       `json:"gross_profit"`
	Fees        float64       `json:"fees"`
	NetProfit   float64       `json:"net_profit"`
	Latency     time.Duration `json:"latency"`
	Slippage    float64       `json:"slippage"`
}

// Profit is a snapshot of the profit ledger
type Profit struct {
	TotalProfit   float64    `json:"total_profit"`
	TradeCount    int        `json:"trade_count"`
	LastTradeTime *time.Time `json:"last_trade_time,omitempty"`
	PendingTrades int        `json:"pending_trades"`
}

// CloseDetails carries the execution facts of a SELL
type CloseDetails struct {
	Amount    float64 // 0 closes everything
	TradeType string
	Latency   time.Duration
	Slippage  float64
}

type key struct {
	pair  string
	venue string
}

// Ledger owns positions and profit. Paths that touch both take the
// position lock first, then the profit lock.
type Ledger struct {
	posMu     sync.RWMutex
	positions map[key]*Position

	profitMu   sync.RWMutex
	total      decimal.Decimal
	tradeCount int
	lastTrade  *time.Time
	trades     []TradeRecord

	observer func(Position)
	now      func() time.Time
	logger   zerolog.Logger
}

// New creates a flat ledger for every (pair, venue) in table
func New(table map[string][]string, logger zerolog.Logger) *Ledger {
	l := &Ledger{
		positions: make(map[key]*Position),
		total:     decimal.Zero,
		now:       time.Now,
		logger:    logger.With().Str("component", "ledger").Logger(),
	}
	for pair, venues := range table {
		for _, v := range venues {
			l.positions[key{pair, v}] = &Position{Pair: pair, Venue: v}
		}
	}
	return l
}

// SetObserver registers a callback invoked with every changed position.
// It runs with the position lock held and must not call back into the ledger.
func (l *Ledger) SetObserver(fn func(Position)) {
	l.posMu.Lock()
	defer l.posMu.Unlock()
	l.observer = fn
}

func (l *Ledger) notify(p *Position) {
	if l.observer != nil {
		l.observer(*p)
	}
}

// OpenPosition records a filled BUY
func (l *Ledger) OpenPosition(pair, venueID string, amount, price float64) error {
	if amount <= 0 || price <= 0 {
		return fmt.Errorf("%w: amount=%f price=%f", ErrInvalidAmount, amount, price)
	}

	l.posMu.Lock()
	defer l.posMu.Unlock()

	p, ok := l.positions[key{pair, venueID}]
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrUnknownPosition, pair, venueID)
	}
	if p.Holding {
		return fmt.Errorf("%w: %s on %s", ErrAlreadyHolding, pair, venueID)
	}

	p.Holding = true
	p.Amount = amount
	p.EntryPrice = price
	p.OpenedAt = l.now()
	l.notify(p)

	l.logger.Debug().Str("pair", pair).Str("venue", venueID).
		Float64("amount", amount).Float64("price", price).Msg("Position opened")
	return nil
}

// ClosePosition records a filled SELL, realizing profit on the sold amount
func (l *Ledger) ClosePosition(pair, venueID string, exitPrice, feeRate float64, d CloseDetails) (TradeRecord, error) {
	if exitPrice <= 0 || d.Amount < 0 {
		return TradeRecord{}, fmt.Errorf("%w: amount=%f price=%f", ErrInvalidAmount, d.Amount, exitPrice)
	}

	l.posMu.Lock()
	defer l.posMu.Unlock()

	p, ok := l.positions[key{pair, venueID}]
	if !ok {
		return TradeRecord{}, fmt.Errorf("%w: %s on %s", ErrUnknownPosition, pair, venueID)
	}
	if !p.Holding {
		return TradeRecord{}, fmt.Errorf("%w: %s on %s", ErrNoPosition, pair, venueID)
	}

	amount := d.Amount
	if amount == 0 || amount >= p.Amount {
		amount = p.Amount
	}

	entry := decimal.NewFromFloat(p.EntryPrice)
	exit := decimal.NewFromFloat(exitPrice)
	qty := decimal.NewFromFloat(amount)
	gross := exit.Sub(entry).Mul(qty)
	fees := exit.Mul(qty).Mul(decimal.NewFromFloat(feeRate))
	net := gross.Sub(fees)

	now := l.now()
	tradeType := d.TradeType
	if tradeType == "" {
		tradeType = "Manual"
	}
	rec := TradeRecord{
		ID:          uuid.NewString(),
		Time:        now,
		Pair:        pair,
		Venue:       venueID,
		Signal:      fmt.Sprintf("%s SELL %s", tradeType, pair),
		BuyPrice:    p.EntryPrice,
		SellPrice:   exitPrice,
		Amount:      amount,
		GrossProfit: gross.InexactFloat64(),
		Fees:        fees.InexactFloat64(),
		NetProfit:   net.InexactFloat64(),
		Latency:     d.Latency,
		Slippage:    d.Slippage,
	}

	if amount >= p.Amount {
		p.Holding = false
		p.Amount = 0
		p.EntryPrice = 0
		p.OpenedAt = time.Time{}
	} else {
		p.Amount = decimal.NewFromFloat(p.Amount).Sub(qty).InexactFloat64()
	}
	l.notify(p)

	l.profitMu.Lock()
	l.total = l.total.Add(net)
	l.tradeCount++
	l.lastTrade = &now
	l.trades = append(l.trades, rec)
	l.profitMu.Unlock()

	l.logger.Info().Str("pair", pair).Str("venue", venueID).Str("signal", rec.Signal).
		Float64("amount", amount).Float64("net_profit", rec.NetProfit).Msg("Position closed")
	return rec, nil
}

// Position returns a copy of one position
func (l *Ledger) Position(pair, venueID string) (Position, bool) {
	l.posMu.RLock()
	defer l.posMu.RUnlock()

	p, ok := l.positions[key{pair, venueID}]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Positions returns copies of all positions ordered by pair then venue
func (l *Ledger) Positions() []Position {
	l.posMu.RLock()
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	l.posMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Pair != out[j].Pair {
			return out[i].Pair < out[j].Pair
		}
		return out[i].Venue < out[j].Venue
	})
	return out
}

// Holdings returns the open positions of one pair
func (l *Ledger) Holdings(pair string) []Position {
	var out []Position
	for _, p := range l.Positions() {
		if p.Pair == pair && p.Holding {
			out = append(out, p)
		}
	}
	return out
}

// Profit returns a snapshot of the profit ledger
func (l *Ledger) Profit() Profit {
	l.profitMu.RLock()
	defer l.profitMu.RUnlock()

	snap := Profit{
		TotalProfit:   l.total.InexactFloat64(),
		TradeCount:    l.tradeCount,
		PendingTrades: len(l.trades),
	}
	if l.lastTrade != nil {
		t := *l.lastTrade
		snap.LastTradeTime = &t
	}
	return snap
}

// TotalProfit returns the exact cumulative net profit
func (l *Ledger) TotalProfit() decimal.Decimal {
	l.profitMu.RLock()
	defer l.profitMu.RUnlock()
	return l.total
}

// TradeCount returns the number of completed closing trades
func (l *Ledger) TradeCount() int {
	l.profitMu.RLock()
	defer l.profitMu.RUnlock()
	return l.tradeCount
}

// Equity is the base balance plus realized profit
func (l *Ledger) Equity(baseBalance float64) float64 {
	return decimal.NewFromFloat(baseBalance).Add(l.TotalProfit()).InexactFloat64()
}

// DrainTrades consumes the buffered trade records
func (l *Ledger) DrainTrades() []TradeRecord {
	l.profitMu.Lock()
	defer l.profitMu.Unlock()

	out := l.trades
	l.trades = nil
	return out
}

// RestoreTrades puts drained records back in front of the buffer after a
// failed flush
func (l *Ledger) RestoreTrades(trades []TradeRecord) {
	if len(trades) == 0 {
		return
	}
	l.profitMu.Lock()
	defer l.profitMu.Unlock()

	l.trades = append(append(make([]TradeRecord, 0, len(trades)+len(l.trades)), trades...), l.trades...)
}

// Reset flattens every position of one pair
func (l *Ledger) Reset(pair string) {
	l.posMu.Lock()
	defer l.posMu.Unlock()

	for k, p := range l.positions {
		if k.pair == pair {
			l.flatten(p)
		}
	}
	l.logger.Info().Str("pair", pair).Msg("Positions reset")
}

// ResetAll flattens every position
func (l *Ledger) ResetAll() {
	l.posMu.Lock()
	defer l.posMu.Unlock()

	for _, p := range l.positions {
		l.flatten(p)
	}
	l.logger.Info().Msg("All positions reset")
}

func (l *Ledger) flatten(p *Position) {
	if !p.Holding && p.Amount == 0 {
		return
	}
	p.Holding = false
	p.Amount = 0
	p.EntryPrice = 0
	p.OpenedAt = time.Time{}
	l.notify(p)
}
