// Package venue defines the exchange adapter contract shared by the live REST
// adapters and the simulated market.
package venue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"multi-exchange-trading-bot/config"
)

// Venue ids
const (
	Binance  = config.VenueBinance
	Coinbase = config.VenueCoinbase
)

// Error taxonomy. Adapters wrap one of these so callers can classify with errors.Is.
var (
	ErrNetwork     = errors.New("venue network error")
	ErrExchange    = errors.New("venue rejected request")
	ErrMalformed   = errors.New("venue returned malformed data")
	ErrRateLimited = errors.New("venue rate limited")
	ErrUnavailable = errors.New("venue temporarily unavailable")
	ErrNoAuth      = errors.New("venue credentials not configured")
	ErrUnknownPair = errors.New("unknown pair")
)

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrRateLimited)
}

// Candle is one OHLCV bar
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Fees are fractional rates, e.g. 0.001 = 0.1%
type Fees struct {
	Maker float64 `json:"maker"`
	Taker float64 `json:"taker"`
}

// SizingMode says how a venue sizes market buys
type SizingMode int

const (
	// SizeBase buys a base-currency amount (Binance family)
	SizeBase SizingMode = iota
	// SizeQuote spends a quote-currency cost (Coinbase family)
	SizeQuote
)

func (m SizingMode) String() string {
	if m == SizeQuote {
		return "quote"
	}
	return "base"
}

// Order is one market order request. Buys carry both sizings and adapters
// read the one matching their mode; sells use Base. ClientOrderID is fixed for
// every attempt of the same order so the venue can reject or replay duplicates.
type Order struct {
	ClientOrderID string
	Base          float64
	Quote         float64
}

// OrderFill is what a venue reports for an executed market order
type OrderFill struct {
	OrderID   string
	Filled    float64 // base amount
	AvgPrice  float64
	QuoteCost float64
	Fee       float64
}

// Adapter is the minimal venue surface the engine needs
type Adapter interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	FetchBalance(ctx context.Context) (map[string]float64, error)
	FetchFees(ctx context.Context, symbol string) (Fees, error)
	PlaceMarketBuy(ctx context.Context, symbol string, order Order) (OrderFill, error)
	PlaceMarketSell(ctx context.Context, symbol string, order Order) (OrderFill, error)
}

// Handle pairs an adapter with the venue metadata the engine needs
type Handle struct {
	ID            string
	Adapter       Adapter
	Sizing        SizingMode
	QuoteCurrency string
}

// Available reports whether the handle has a usable adapter
func (h Handle) Available() bool {
	return h.Adapter != nil
}

// SizingFor returns the default sizing mode of a venue id
func SizingFor(id string) SizingMode {
	if id == Coinbase {
		return SizeQuote
	}
	return SizeBase
}

// ValidateCandles rejects empty, non-positive, inverted or unsorted batches
func ValidateCandles(candles []Candle) error {
	if len(candles) == 0 {
		return fmt.Errorf("%w: empty candle batch", ErrMalformed)
	}
	for i, c := range candles {
		if c.Close <= 0 || c.High < c.Low {
			return fmt.Errorf("%w: candle %d invalid (close=%f high=%f low=%f)", ErrMalformed, i, c.Close, c.High, c.Low)
		}
		if i > 0 && !c.Time.After(candles[i-1].Time) {
			return fmt.Errorf("%w: candles not strictly ascending at %d", ErrMalformed, i)
		}
	}
	return nil
}
