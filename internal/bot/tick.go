package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"multi-exchange-trading-bot/internal/events"
	"multi-exchange-trading-bot/internal/logging"
	"multi-exchange-trading-bot/internal/marketdata"
	"multi-exchange-trading-bot/internal/strategy"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type fetchJob struct {
	pair    string
	venueID string
	symbol  string
	candles []marketdata.Candle
	ok      bool
}

// Tick runs one loop iteration. Trades started in a tick run to completion
// even when ctx is cancelled.
func (b *TradingBot) Tick(ctx context.Context) {
	b.tickMu.Lock()
	defer b.tickMu.Unlock()

	start := b.now()
	ctx, log := logging.WithTickContext(ctx, b.logger)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("Tick panicked")
			b.c.Bus.PublishError("bot", "tick panicked", fmt.Errorf("%v", r))
		}
		elapsed := b.now().Sub(start)
		b.c.Metrics.ObserveTick(elapsed)
		b.mu.Lock()
		b.lastTick, b.lastDur = start, elapsed
		b.tickCount++
		b.mu.Unlock()
	}()

	b.refresh(ctx, log)
	prices := b.priceTable(start)

	if ctx.Err() != nil {
		log.Debug().Msg("Loop stopping, skipping strategies")
		return
	}

	tradeCtx := context.WithoutCancel(ctx)
	for _, pair := range b.c.Registry.Pairs() {
		pp := prices[pair]
		if len(pp) == 0 {
			log.Debug().Str("pair", pair).Msg("No valid prices this tick")
			continue
		}
		b.runStrategies(tradeCtx, log, pair, pp)
	}
	if pairs := b.c.Registry.Pairs(); len(pairs) >= 3 {
		for _, v := range b.c.Registry.Venues() {
			b.triangular.Evaluate(tradeCtx, v, pairs[0], pairs[1], pairs[2])
		}
	}

	prof := b.c.Ledger.Profit()
	b.c.Governor.Evaluate(prof.TotalProfit)
	b.c.Metrics.SetPaused(b.c.Governor.IsPaused())
	b.c.Metrics.SetProfit(prof.TotalProfit, prof.TradeCount)
	b.c.Bus.PublishPnL(prof.TotalProfit, prof.TradeCount)
	b.c.Bus.Publish(events.Event{Type: events.EventPositionUpdate, Data: map[string]interface{}{
		"positions": b.c.Ledger.Positions(),
	}})
}

// refresh fetches every (pair, venue) concurrently, then applies the results
// to the cache from the loop goroutine.
func (b *TradingBot) refresh(ctx context.Context, log zerolog.Logger) {
	var jobs []*fetchJob
	for _, pair := range b.c.Registry.Pairs() {
		for _, v := range b.c.Registry.VenuesFor(pair) {
			if sym, ok := b.c.Registry.Symbol(pair, v); ok {
				jobs = append(jobs, &fetchJob{pair: pair, venueID: v, symbol: sym})
			}
		}
	}
	if len(jobs) == 0 {
		return
	}

	fetchCtx := ctx
	if t := b.cfg.LoopConfig.FetchTimeout; t > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	// one goroutine per (pair, venue): a tick waits for the slowest fetch only
	g, gctx := errgroup.WithContext(fetchCtx)
	g.SetLimit(len(jobs))
	for _, job := range jobs {
		h, ok := b.c.Registry.Handle(job.venueID)
		if !ok {
			continue
		}
		g.Go(func() error {
			job.candles, job.ok = b.c.Fetcher.Fetch(gctx, h, job.symbol)
			return nil
		})
	}
	_ = g.Wait()

	now := b.now()
	for _, job := range jobs {
		if !job.ok {
			b.c.Cache.MarkFetchFailed(job.pair, job.venueID)
			b.c.Metrics.ObserveFetchFailure(job.venueID)
			log.Warn().Str("pair", job.pair).Str("venue", job.venueID).Msg("Market data unavailable, using cached price if fresh")
			continue
		}
		b.c.Cache.Ingest(job.pair, job.venueID, job.candles, now)
	}
}

// priceTable reads the latest usable price per pair and venue and publishes it
func (b *TradingBot) priceTable(now time.Time) map[string]map[string]float64 {
	table := make(map[string]map[string]float64)
	for _, pair := range b.c.Registry.Pairs() {
		pp := make(map[string]float64)
		for _, v := range b.c.Registry.VenuesFor(pair) {
			if p, ok := b.c.Cache.LatestPrice(pair, v, now); ok {
				pp[v] = p
				b.c.Metrics.SetPrice(pair, v, p)
			}
		}
		if len(pp) == 0 {
			continue
		}
		table[pair] = pp
		b.c.Cache.RecordPrices(pair, now, pp)
		b.c.Bus.PublishPriceUpdate(pair, pp)
	}
	return table
}

func (b *TradingBot) runStrategies(ctx context.Context, log zerolog.Logger, pair string, prices map[string]float64) {
	if b.arbitrage != nil {
		res := b.arbitrage.Evaluate(ctx, pair, prices)
		switch {
		case res.Exposed:
			log.Error().Err(res.Err).Str("pair", pair).Str("holding_on", res.BuyVenue).
				Msg("Arbitrage left an open buy leg")
		case res.Action == strategy.ActionExecuted:
			log.Info().Str("pair", pair).Float64("spread", res.Spread).Float64("amount", res.Amount).
				Str("buy", res.BuyVenue).Str("sell", res.SellVenue).Msg("Arbitrage executed")
		case res.Action == strategy.ActionRejected:
			log.Info().Err(res.Err).Str("pair", pair).Msg("Arbitrage rejected")
		}
	}

	if b.scalping != nil {
		if _, ok := prices[b.scalping.Venue()]; ok {
			out := b.scalping.Evaluate(ctx, pair, prices)
			switch out.Action {
			case strategy.ActionExecuted:
				log.Info().Str("pair", pair).Str("signal", string(out.Signal)).Msg("Scalping trade executed")
			case strategy.ActionRejected:
				log.Info().Err(out.Err).Str("pair", pair).Str("signal", string(out.Signal)).Msg("Scalping trade rejected")
			}
		}
	}
}
