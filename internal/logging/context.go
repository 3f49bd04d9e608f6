package logging

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// NewContext creates a new context carrying the logger
func NewContext(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// FromContext retrieves the logger from context, falling back to Default
func FromContext(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return Default()
}

// WithTickContext tags a context with a fresh tick id for correlating one loop iteration
func WithTickContext(ctx context.Context, l zerolog.Logger) (context.Context, zerolog.Logger) {
	tl := l.With().Str("tick_id", uuid.NewString()[:8]).Logger()
	return tl.WithContext(ctx), tl
}

// TradeContext creates a logger for one trade intent
func TradeContext(l zerolog.Logger, pair, venueID, side string, amount, price float64) zerolog.Logger {
	return l.With().
		Str("component", "trade").
		Str("pair", pair).
		Str("venue", venueID).
		Str("side", side).
		Float64("amount", amount).
		Float64("price", price).
		Logger()
}

// VenueAPIContext creates a logger for venue REST calls
func VenueAPIContext(l zerolog.Logger, venueID, endpoint string) zerolog.Logger {
	return l.With().Str("component", venueID).Str("endpoint", endpoint).Logger()
}

// ReportContext creates a logger for report flushes
func ReportContext(l zerolog.Logger, reason string, at time.Time) zerolog.Logger {
	return l.With().Str("component", "report").Str("reason", reason).Time("flush_at", at).Logger()
}
