package strategy

import (
	"math"

	"multi-exchange-trading-bot/config"
)

// Sizer computes trade amounts from equity (base balance plus realized profit)
type Sizer struct {
	BaseBalance    float64
	MinTradeAmount float64
	TradeSizePct   float64
	MaxPositionPct float64
}

// NewSizer reads the sizing knobs from trading config
func NewSizer(cfg config.TradingConfig) Sizer {
	return Sizer{
		BaseBalance:    cfg.SimulatedBalance,
		MinTradeAmount: cfg.MinTradeAmount,
		TradeSizePct:   cfg.TradeSizePercentage,
		MaxPositionPct: cfg.MaxPositionPercent,
	}
}

// ArbitrageAmount caps the equity-proportional size at MinTradeAmount
func (s Sizer) ArbitrageAmount(equity, priceA, priceB float64) float64 {
	if priceA <= 0 || priceB <= 0 {
		return 0
	}
	return math.Min(s.MinTradeAmount, equity*s.TradeSizePct/math.Min(priceA, priceB))
}

// ScalpAmount is the single-venue variant of ArbitrageAmount
func (s Sizer) ScalpAmount(equity, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return math.Min(s.MinTradeAmount, equity*s.TradeSizePct/price)
}

// ManualAmount floors at MinTradeAmount and caps at MaxPositionPct of equity
func (s Sizer) ManualAmount(equity, price float64) float64 {
	if price <= 0 {
		return 0
	}
	amount := math.Max(s.MinTradeAmount, equity*s.TradeSizePct/price)
	return math.Min(amount, equity*s.MaxPositionPct/price)
}
