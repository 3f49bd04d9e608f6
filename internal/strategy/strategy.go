// Package strategy turns prices and candle history into trade intents.
package strategy

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"multi-exchange-trading-bot/internal/circuit"
	"multi-exchange-trading-bot/internal/execution"
	"multi-exchange-trading-bot/internal/ledger"
	"multi-exchange-trading-bot/internal/marketdata"
	"multi-exchange-trading-bot/internal/venue"
)

// Trade types stamped on intents
const (
	TradeTypeArbitrage = "Arbitrage"
	TradeTypeScalping  = "Scalping"
	TradeTypeManual    = "Manual"
	TradeTypeCashOut   = "Cash-Out"
)

// Outcome actions
const (
	ActionSkippedPaused  = "skipped_paused"
	ActionSkippedInvalid = "skipped_invalid"
	ActionNoSignal       = "no_signal"
	ActionExecuted       = "executed"
	ActionRejected       = "rejected"
)

// Executor is the slice of the execution engine strategies need
type Executor interface {
	Execute(ctx context.Context, in execution.Intent) (*execution.Fill, error)
}

// Deps are shared by all strategies
type Deps struct {
	Registry *venue.Registry
	Ledger   *ledger.Ledger
	Governor *circuit.Governor
	Cache    *marketdata.Cache
	Executor Executor
	Sizer    Sizer
	Logger   zerolog.Logger
}

func (d Deps) paused() bool {
	return d.Governor != nil && d.Governor.IsPaused()
}

func (d Deps) equity() float64 {
	return d.Ledger.Equity(d.Sizer.BaseBalance)
}

// intent resolves the venue handle and symbol for pair
func (d Deps) intent(pair, venueID string, sig execution.Signal, price, amount float64, tradeType string) (execution.Intent, bool) {
	h, ok := d.Registry.Handle(venueID)
	if !ok {
		return execution.Intent{}, false
	}
	symbol, ok := d.Registry.Symbol(pair, venueID)
	if !ok {
		return execution.Intent{}, false
	}
	return execution.Intent{
		Venue:     h,
		Signal:    sig,
		Price:     price,
		Amount:    amount,
		Symbol:    symbol,
		Pair:      pair,
		TradeType: tradeType,
	}, true
}

// executed reports whether Execute filled the intent. A trip after a SELL
// still counts as filled.
func executed(fill *execution.Fill, err error) bool {
	return fill != nil && (err == nil || errors.Is(err, execution.ErrCircuitTripped))
}

// Outcome summarizes one single-leg evaluation
type Outcome struct {
	Strategy string           `json:"strategy"`
	Pair     string           `json:"pair"`
	Action   string           `json:"action"`
	Signal   execution.Signal `json:"signal,omitempty"`
	Fill     *execution.Fill  `json:"fill,omitempty"`
	Err      error            `json:"-"`
}
