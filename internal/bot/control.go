package bot

import (
	"context"
	"fmt"
	"time"

	"multi-exchange-trading-bot/internal/circuit"
	"multi-exchange-trading-bot/internal/events"
	"multi-exchange-trading-bot/internal/execution"
	"multi-exchange-trading-bot/internal/ledger"
	"multi-exchange-trading-bot/internal/marketdata"
	"multi-exchange-trading-bot/internal/report"
	"multi-exchange-trading-bot/internal/strategy"
	"multi-exchange-trading-bot/internal/venue"
)

// Operator actions hold tickMu so they never interleave with a tick.

func (b *TradingBot) Pause() {
	b.tickMu.Lock()
	defer b.tickMu.Unlock()
	b.c.Governor.Pause(circuit.ReasonOperator)
	b.c.Metrics.SetPaused(true)
}

func (b *TradingBot) Resume() {
	b.tickMu.Lock()
	defer b.tickMu.Unlock()
	b.c.Governor.Resume()
}

func (b *TradingBot) TogglePause() circuit.State {
	b.tickMu.Lock()
	defer b.tickMu.Unlock()
	st := b.c.Governor.Toggle()
	b.c.Metrics.SetPaused(st == circuit.StatePaused)
	return st
}

func (b *TradingBot) checkPair(pair string) error {
	if len(b.c.Registry.VenuesFor(pair)) == 0 {
		return fmt.Errorf("%w: %s", venue.ErrUnknownPair, pair)
	}
	return nil
}

// latestPrices reads the cached price of pair on each of its venues
func (b *TradingBot) latestPrices(pair string) map[string]float64 {
	now := b.now()
	prices := make(map[string]float64)
	for _, v := range b.c.Registry.VenuesFor(pair) {
		if p, ok := b.c.Cache.LatestPrice(pair, v, now); ok {
			prices[v] = p
		}
	}
	return prices
}

// CashOut sells every holding of pair at the latest prices, writes a report
// and leaves the pair flat. Sells bypass the pause gate; the governor state is
// left untouched.
func (b *TradingBot) CashOut(ctx context.Context, pair string) ([]strategy.Outcome, error) {
	if err := b.checkPair(pair); err != nil {
		return nil, err
	}
	b.tickMu.Lock()
	defer b.tickMu.Unlock()

	log := b.logger.With().Str("pair", pair).Logger()
	outcomes := b.manual.CashOut(ctx, pair, b.latestPrices(pair))

	sold := 0
	for _, o := range outcomes {
		if o.Action == strategy.ActionExecuted {
			sold++
			continue
		}
		log.Warn().Err(o.Err).Str("action", o.Action).Msg("Cash-out leg did not fill, position will be reset")
	}

	if _, err := b.flush(report.ReasonCashOut); err != nil {
		log.Error().Err(err).Msg("Cash-out report failed")
	}
	b.c.Ledger.Reset(pair)

	prof := b.c.Ledger.Profit()
	b.c.Bus.Publish(events.Event{Type: events.EventCashOut, Data: map[string]interface{}{
		"pair": pair, "sold": sold, "legs": len(outcomes), "total_profit": prof.TotalProfit,
	}})
	log.Info().Int("sold", sold).Int("legs", len(outcomes)).Float64("total_profit", prof.TotalProfit).
		Msg("Cash-out complete")
	return outcomes, nil
}

// ResetPositions flattens pair without trading
func (b *TradingBot) ResetPositions(pair string) error {
	if err := b.checkPair(pair); err != nil {
		return err
	}
	b.tickMu.Lock()
	defer b.tickMu.Unlock()
	b.c.Ledger.Reset(pair)
	b.logger.Info().Str("pair", pair).Msg("Positions reset")
	return nil
}

// ManualTrade buys on the cheapest venue or sells the holding venue of pair
func (b *TradingBot) ManualTrade(ctx context.Context, pair string, sig execution.Signal) (strategy.Outcome, error) {
	if err := b.checkPair(pair); err != nil {
		return strategy.Outcome{}, err
	}
	b.tickMu.Lock()
	defer b.tickMu.Unlock()

	out := b.manual.Trade(ctx, pair, sig, b.latestPrices(pair))
	if out.Action != strategy.ActionExecuted {
		return out, out.Err
	}
	b.logger.Info().Str("pair", pair).Str("signal", string(sig)).Str("venue", out.Fill.Venue).
		Float64("amount", out.Fill.Amount).Float64("price", out.Fill.Price).Msg("Manual trade executed")
	return out, nil
}

// Status is the display snapshot of the bot
func (b *TradingBot) Status() map[string]interface{} {
	b.mu.RLock()
	running, started := b.running, b.startedAt
	lastTick, lastDur, ticks := b.lastTick, b.lastDur, b.tickCount
	b.mu.RUnlock()

	prof := b.c.Ledger.Profit()
	status := map[string]interface{}{
		"mode":          b.mode,
		"running":       running,
		"paused":        b.c.Governor.IsPaused(),
		"governor":      b.c.Governor.Stats(),
		"pairs":         b.c.Registry.Pairs(),
		"venues":        b.c.Registry.Venues(),
		"total_profit":  prof.TotalProfit,
		"trade_count":   prof.TradeCount,
		"equity":        b.c.Ledger.Equity(b.cfg.TradingConfig.SimulatedBalance),
		"tick_count":    ticks,
		"interval":      b.interval().String(),
		"last_tick_ms":  lastDur.Milliseconds(),
		"cache":         b.c.Cache.GetStats(),
		"arbitrage_on":  b.arbitrage != nil,
		"scalping_on":   b.scalping != nil,
		"open_holdings": len(b.holdings()),
	}
	if running {
		status["started_at"] = started
	}
	if !lastTick.IsZero() {
		status["last_tick"] = lastTick
	}
	return status
}

func (b *TradingBot) holdings() []ledger.Position {
	var out []ledger.Position
	for _, p := range b.c.Ledger.Positions() {
		if p.Holding {
			out = append(out, p)
		}
	}
	return out
}

func (b *TradingBot) Positions() []ledger.Position { return b.c.Ledger.Positions() }

func (b *TradingBot) Profit() ledger.Profit { return b.c.Ledger.Profit() }

func (b *TradingBot) Candles(pair, venueID string, n int) []marketdata.Candle {
	return b.c.Cache.Candles(pair, venueID, n)
}

func (b *TradingBot) Markers(pair string, since time.Time) []marketdata.TradeMarker {
	return b.c.Markers.Snapshot(pair, since)
}

func (b *TradingBot) PriceHistory(pair string, since time.Time) []marketdata.PricePoint {
	return b.c.Cache.PriceHistory(pair, since)
}

// Indicators reports ATR, volatility, the scalping SMAs and the current
// arbitrage spread for pair on venueID.
func (b *TradingBot) Indicators(pair, venueID string) (map[string]interface{}, error) {
	if err := b.checkPair(pair); err != nil {
		return nil, err
	}
	if _, ok := b.c.Registry.Symbol(pair, venueID); !ok {
		return nil, fmt.Errorf("%w: %s on %s", venue.ErrUnknownPair, pair, venueID)
	}

	sc := b.cfg.StrategyConfig
	closes := b.c.Cache.Closes(pair, venueID)
	ind := map[string]interface{}{
		"pair":       pair,
		"venue":      venueID,
		"candles":    len(closes),
		"atr":        b.c.Cache.ATR(pair, venueID, sc.ATRPeriod),
		"volatility": b.c.Cache.Volatility(pair, venueID, sc.VolatilityWindow),
		"sma_fast":   marketdata.SMA(closes, sc.SMAFast),
		"sma_slow":   marketdata.SMA(closes, sc.SMASlow),
	}

	prices := b.latestPrices(pair)
	if p, ok := prices[venueID]; ok {
		ind["price"] = p
	}
	if pos, ok := b.c.Ledger.Position(pair, venueID); ok {
		ind["holding"] = pos.Holding
	}

	primary, secondary := b.arbitrageVenues()
	if pA, pB := prices[primary], prices[secondary]; secondary != "" && pA > 0 && pB > 0 {
		spread := strategy.Spread(pA, pB)
		buy, sell := strategy.ArbitrageDirection(spread, sc.CrossArbitrageThreshold, primary, secondary)
		ind["spread"] = spread
		if buy == "" {
			ind["arbitrage_action"] = "hold"
		} else {
			ind["arbitrage_action"] = fmt.Sprintf("buy %s, sell %s", buy, sell)
		}
	}
	return ind, nil
}
