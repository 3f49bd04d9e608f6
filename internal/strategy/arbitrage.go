package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"

	"multi-exchange-trading-bot/internal/execution"
)

// ErrSellLegFailed marks an arbitrage left holding the buy leg
var ErrSellLegFailed = errors.New("arbitrage sell leg failed")

// LegResult reports both legs of one arbitrage attempt
type LegResult struct {
	Pair      string          `json:"pair"`
	Action    string          `json:"action"`
	Spread    float64         `json:"spread"`
	Amount    float64         `json:"amount"`
	BuyVenue  string          `json:"buy_venue,omitempty"`
	SellVenue string          `json:"sell_venue,omitempty"`
	Buy       *execution.Fill `json:"buy,omitempty"`
	Sell      *execution.Fill `json:"sell,omitempty"`
	Exposed   bool            `json:"exposed"`
	Err       error           `json:"-"`
}

// Spread is the relative premium of primary over secondary
func Spread(primary, secondary float64) float64 {
	if secondary <= 0 {
		return 0
	}
	return (primary - secondary) / secondary
}

// ArbitrageDirection returns the (buy, sell) venues for a spread, or empty
// strings when |spread| does not exceed threshold.
func ArbitrageDirection(spread, threshold float64, primary, secondary string) (string, string) {
	if math.Abs(spread) <= threshold {
		return "", ""
	}
	if spread > 0 {
		return secondary, primary
	}
	return primary, secondary
}

// Arbitrage buys on the cheaper venue and sells on the dearer one
type Arbitrage struct {
	deps      Deps
	threshold float64
	primary   string
	secondary string
}

// NewArbitrage creates the cross-venue strategy between primary and secondary
func NewArbitrage(deps Deps, threshold float64, primary, secondary string) *Arbitrage {
	deps.Logger = deps.Logger.With().Str("component", "arbitrage").Logger()
	return &Arbitrage{deps: deps, threshold: threshold, primary: primary, secondary: secondary}
}

// Evaluate checks the spread of pair and runs both legs when it clears the threshold
func (a *Arbitrage) Evaluate(ctx context.Context, pair string, prices map[string]float64) LegResult {
	res := LegResult{Pair: pair}
	log := a.deps.Logger.With().Str("pair", pair).Logger()

	if a.deps.paused() {
		log.Debug().Msg("Arbitrage skipped: trading paused")
		res.Action = ActionSkippedPaused
		return res
	}

	pA, pB := prices[a.primary], prices[a.secondary]
	if pA <= 0 || pB <= 0 {
		log.Debug().Float64(a.primary, pA).Float64(a.secondary, pB).Msg("Arbitrage skipped: invalid prices")
		res.Action = ActionSkippedInvalid
		return res
	}

	res.Spread = Spread(pA, pB)
	buyVenue, sellVenue := ArbitrageDirection(res.Spread, a.threshold, a.primary, a.secondary)
	if buyVenue == "" {
		res.Action = ActionNoSignal
		return res
	}

	res.BuyVenue, res.SellVenue = buyVenue, sellVenue
	res.Amount = a.deps.Sizer.ArbitrageAmount(a.deps.equity(), pA, pB)

	buyIn, ok := a.deps.intent(pair, buyVenue, execution.Buy, prices[buyVenue], res.Amount, TradeTypeArbitrage)
	if !ok {
		res.Action = ActionSkippedInvalid
		return res
	}
	sellIn, ok := a.deps.intent(pair, sellVenue, execution.Sell, prices[sellVenue], res.Amount, TradeTypeArbitrage)
	if !ok {
		res.Action = ActionSkippedInvalid
		return res
	}

	log.Info().Float64("spread", res.Spread).Str("buy", buyVenue).Str("sell", sellVenue).
		Float64("amount", res.Amount).Msg("Arbitrage opportunity")

	buy, err := a.deps.Executor.Execute(ctx, buyIn)
	if !executed(buy, err) {
		res.Action = ActionRejected
		res.Err = err
		return res
	}
	res.Buy = buy

	sell, err := a.deps.Executor.Execute(ctx, sellIn)
	if !executed(sell, err) {
		res.Action = ActionRejected
		res.Exposed = true
		res.Err = fmt.Errorf("%w on %s: %w", ErrSellLegFailed, sellVenue, err)
		log.Warn().Err(err).Str("holding_on", buyVenue).Msg("Arbitrage failed: sell leg did not complete")
		return res
	}
	res.Sell = sell
	res.Action = ActionExecuted
	res.Err = err
	return res
}
