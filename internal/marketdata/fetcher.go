package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"multi-exchange-trading-bot/internal/retry"
	"multi-exchange-trading-bot/internal/venue"
)

// Fetcher pulls candle batches through the retry policy. It never returns an
// error: exhaustion, malformed data and missing adapters all mean unavailable.
type Fetcher struct {
	policy    retry.Policy
	timeframe string
	limit     int
	logger    zerolog.Logger
}

func NewFetcher(policy retry.Policy, timeframe string, limit int, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		policy:    policy,
		timeframe: timeframe,
		limit:     limit,
		logger:    logger.With().Str("component", "fetcher").Logger(),
	}
}

func retryableFetch(err error) bool {
	return venue.IsTransient(err) || errors.Is(err, venue.ErrMalformed)
}

// Fetch returns a validated ascending batch, or false when unavailable
func (f *Fetcher) Fetch(ctx context.Context, h venue.Handle, symbol string) ([]Candle, bool) {
	if !h.Available() {
		return nil, false
	}

	notify := func(attempt int, err error, wait time.Duration) {
		f.logger.Debug().Err(err).Str("venue", h.ID).Str("symbol", symbol).
			Int("attempt", attempt).Dur("wait", wait).Msg("Candle fetch failed, retrying")
	}

	candles, err := retry.DoValue(ctx, f.policy, retryableFetch, notify, func(ctx context.Context) ([]Candle, error) {
		batch, err := h.Adapter.FetchCandles(ctx, symbol, f.timeframe, f.limit)
		if err != nil {
			return nil, err
		}
		if err := venue.ValidateCandles(batch); err != nil {
			return nil, err
		}
		return batch, nil
	})
	if err != nil {
		f.logger.Warn().Err(err).Str("venue", h.ID).Str("symbol", symbol).Msg("Price fetch failed")
		return nil, false
	}
	return candles, true
}
