package strategy

import (
	"context"
	"errors"
	"fmt"

	"multi-exchange-trading-bot/internal/execution"
)

var (
	ErrNoPrices      = errors.New("no valid prices")
	ErrNothingToSell = errors.New("no position to sell")
)

// Manual executes operator-initiated trades on one pair
type Manual struct {
	deps Deps
}

// NewManual creates the operator trade helper
func NewManual(deps Deps) *Manual {
	deps.Logger = deps.Logger.With().Str("component", "manual").Logger()
	return &Manual{deps: deps}
}

// Trade buys on the cheapest venue or sells on a holding venue. Ties and
// multiple holdings go to the last venue id in sorted order.
func (m *Manual) Trade(ctx context.Context, pair string, sig execution.Signal, prices map[string]float64) Outcome {
	out := Outcome{Strategy: TradeTypeManual, Pair: pair, Signal: sig}
	venues := m.deps.Registry.VenuesFor(pair)

	minPrice := 0.0
	buyVenue := ""
	for _, v := range venues {
		if p := prices[v]; p > 0 && (minPrice == 0 || p <= minPrice) {
			minPrice, buyVenue = p, v
		}
	}
	if minPrice == 0 {
		out.Action = ActionSkippedInvalid
		out.Err = fmt.Errorf("%w for %s", ErrNoPrices, pair)
		return out
	}

	amount := m.deps.Sizer.ManualAmount(m.deps.equity(), minPrice)

	target := buyVenue
	if sig == execution.Sell {
		target = ""
		for i := len(venues) - 1; i >= 0; i-- {
			if pos, ok := m.deps.Ledger.Position(pair, venues[i]); ok && pos.Holding {
				target = venues[i]
				break
			}
		}
		if target == "" {
			out.Action = ActionSkippedInvalid
			out.Err = fmt.Errorf("%w: %s", ErrNothingToSell, pair)
			return out
		}
	}

	price := prices[target]
	if price <= 0 {
		out.Action = ActionSkippedInvalid
		out.Err = fmt.Errorf("%w on %s for %s", ErrNoPrices, target, pair)
		return out
	}

	in, ok := m.deps.intent(pair, target, sig, price, amount, TradeTypeManual)
	if !ok {
		out.Action = ActionSkippedInvalid
		out.Err = fmt.Errorf("%w: %s not on %s", ErrNoPrices, pair, target)
		return out
	}

	m.deps.Logger.Info().Str("pair", pair).Str("venue", target).Str("signal", string(sig)).
		Float64("amount", amount).Float64("price", price).Msg("Manual trade initiated")

	fill, err := m.deps.Executor.Execute(ctx, in)
	out.Err = err
	if !executed(fill, err) {
		out.Action = ActionRejected
		return out
	}
	out.Action = ActionExecuted
	out.Fill = fill
	return out
}

// CashOut sells every holding of pair at the given prices
func (m *Manual) CashOut(ctx context.Context, pair string, prices map[string]float64) []Outcome {
	var outs []Outcome
	for _, pos := range m.deps.Ledger.Holdings(pair) {
		out := Outcome{Strategy: TradeTypeCashOut, Pair: pair, Signal: execution.Sell}
		price := prices[pos.Venue]
		in, ok := m.deps.intent(pair, pos.Venue, execution.Sell, price, pos.Amount, TradeTypeCashOut)
		if !ok || price <= 0 {
			out.Action = ActionSkippedInvalid
			out.Err = fmt.Errorf("%w on %s for %s", ErrNoPrices, pos.Venue, pair)
			outs = append(outs, out)
			continue
		}
		in.Liquidation = true

		fill, err := m.deps.Executor.Execute(ctx, in)
		out.Err = err
		if executed(fill, err) {
			out.Action = ActionExecuted
			out.Fill = fill
		} else {
			out.Action = ActionRejected
		}
		outs = append(outs, out)
	}
	return outs
}
