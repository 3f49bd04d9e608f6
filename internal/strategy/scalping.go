package strategy

import (
	"context"

	"multi-exchange-trading-bot/internal/execution"
	"multi-exchange-trading-bot/internal/marketdata"
)

// Scalping trades SMA crossovers on one venue
type Scalping struct {
	deps    Deps
	venueID string
	fast    int
	slow    int
}

// NewScalping creates the SMA strategy on venueID
func NewScalping(deps Deps, venueID string, fast, slow int) *Scalping {
	deps.Logger = deps.Logger.With().Str("component", "scalping").Logger()
	return &Scalping{deps: deps, venueID: venueID, fast: fast, slow: slow}
}

// Venue is the venue the strategy trades on
func (s *Scalping) Venue() string { return s.venueID }

// Signal computes the crossover signal from closes. It returns "" until
// enough history exists.
func (s *Scalping) Signal(closes []float64, holding bool) (execution.Signal, float64, float64) {
	need := s.fast
	if s.slow > need {
		need = s.slow
	}
	if len(closes) < need {
		return "", 0, 0
	}
	fast := marketdata.SMA(closes, s.fast)
	slow := marketdata.SMA(closes, s.slow)
	switch {
	case fast > slow && !holding:
		return execution.Buy, fast, slow
	case fast < slow && holding:
		return execution.Sell, fast, slow
	}
	return "", fast, slow
}

// Evaluate runs one scalping decision for pair
func (s *Scalping) Evaluate(ctx context.Context, pair string, prices map[string]float64) Outcome {
	out := Outcome{Strategy: TradeTypeScalping, Pair: pair}
	log := s.deps.Logger.With().Str("pair", pair).Logger()

	if s.deps.paused() {
		log.Debug().Msg("Scalping skipped: trading paused")
		out.Action = ActionSkippedPaused
		return out
	}

	price := prices[s.venueID]
	if price <= 0 {
		log.Debug().Msg("Scalping skipped: invalid price")
		out.Action = ActionSkippedInvalid
		return out
	}

	pos, ok := s.deps.Ledger.Position(pair, s.venueID)
	if !ok {
		out.Action = ActionSkippedInvalid
		return out
	}

	closes := s.deps.Cache.Closes(pair, s.venueID)
	sig, fast, slow := s.Signal(closes, pos.Holding)
	if sig == "" {
		out.Action = ActionNoSignal
		return out
	}

	amount := s.deps.Sizer.ScalpAmount(s.deps.equity(), price)
	if sig == execution.Sell {
		amount = pos.Amount
	}

	in, ok := s.deps.intent(pair, s.venueID, sig, price, amount, TradeTypeScalping)
	if !ok {
		out.Action = ActionSkippedInvalid
		return out
	}

	log.Debug().Float64("sma_fast", fast).Float64("sma_slow", slow).Str("signal", string(sig)).Msg("Scalping signal")

	fill, err := s.deps.Executor.Execute(ctx, in)
	out.Signal = sig
	out.Err = err
	if !executed(fill, err) {
		out.Action = ActionRejected
		return out
	}
	out.Action = ActionExecuted
	out.Fill = fill
	return out
}
