package venue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// GuardSettings configures the per-venue request limiter and fault breaker
type GuardSettings struct {
	RatePerSecond float64
	Burst         int
	MaxFailures   uint32        // consecutive transient failures that open the breaker
	OpenTimeout   time.Duration // time the breaker stays open before half-open probing
	OnStateChange func(venueID, from, to string)
}

// DefaultGuardSettings matches the public REST limits closely enough for one bot
func DefaultGuardSettings() GuardSettings {
	return GuardSettings{
		RatePerSecond: 10,
		Burst:         20,
		MaxFailures:   5,
		OpenTimeout:   30 * time.Second,
	}
}

// Guarded wraps an adapter with a token-bucket limiter and a circuit breaker.
// Exchange rejections count as healthy responses; only transport-level failures trip it.
type Guarded struct {
	id      string
	inner   Adapter
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewGuarded wraps inner for venue id
func NewGuarded(id string, inner Adapter, st GuardSettings, logger zerolog.Logger) *Guarded {
	if st.RatePerSecond <= 0 {
		st.RatePerSecond = DefaultGuardSettings().RatePerSecond
	}
	if st.Burst <= 0 {
		st.Burst = 1
	}
	if st.MaxFailures == 0 {
		st.MaxFailures = DefaultGuardSettings().MaxFailures
	}

	log := logger.With().Str("component", "venue_guard").Str("venue", id).Logger()
	maxFailures := st.MaxFailures
	onChange := st.OnStateChange

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        id,
		MaxRequests: 1,
		Timeout:     st.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("Venue breaker state changed")
			if onChange != nil {
				onChange(name, from.String(), to.String())
			}
		},
	})

	return &Guarded{
		id:      id,
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(st.RatePerSecond), st.Burst),
		breaker: cb,
	}
}

// State returns the breaker state name
func (g *Guarded) State() string {
	return g.breaker.State().String()
}

func guard[T any](ctx context.Context, g *Guarded, fn func() (T, error)) (T, error) {
	var zero T
	if err := g.limiter.Wait(ctx); err != nil {
		return zero, fmt.Errorf("%w: %s limiter: %v", ErrRateLimited, g.id, err)
	}
	res, err := g.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %s breaker %v", ErrUnavailable, g.id, err)
		}
		return zero, err
	}
	return res.(T), nil
}

func (g *Guarded) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	return guard(ctx, g, func() ([]Candle, error) {
		return g.inner.FetchCandles(ctx, symbol, timeframe, limit)
	})
}

func (g *Guarded) FetchBalance(ctx context.Context) (map[string]float64, error) {
	return guard(ctx, g, func() (map[string]float64, error) {
		return g.inner.FetchBalance(ctx)
	})
}

func (g *Guarded) FetchFees(ctx context.Context, symbol string) (Fees, error) {
	return guard(ctx, g, func() (Fees, error) {
		return g.inner.FetchFees(ctx, symbol)
	})
}

func (g *Guarded) PlaceMarketBuy(ctx context.Context, symbol string, order Order) (OrderFill, error) {
	return guard(ctx, g, func() (OrderFill, error) {
		return g.inner.PlaceMarketBuy(ctx, symbol, order)
	})
}

func (g *Guarded) PlaceMarketSell(ctx context.Context, symbol string, order Order) (OrderFill, error) {
	return guard(ctx, g, func() (OrderFill, error) {
		return g.inner.PlaceMarketSell(ctx, symbol, order)
	})
}

var _ Adapter = (*Guarded)(nil)
