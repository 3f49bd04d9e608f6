package marketdata

import "math"

// SMA returns the mean of the last period values, 0 when there are fewer
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}

	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// TrueRange of a candle given the previous close
func TrueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

// ATR averages the true range across consecutive pairs of the last period
// candles, so period candles yield period-1 ranges. 0 when history < period.
func ATR(candles []Candle, period int) float64 {
	if period <= 0 || len(candles) < period {
		return 0
	}

	window := candles[len(candles)-period:]
	if len(window) < 2 {
		return 0
	}
	sum := 0.0
	for i := 1; i < len(window); i++ {
		sum += TrueRange(window[i].High, window[i].Low, window[i-1].Close)
	}
	return sum / float64(len(window)-1)
}

// Volatility is the population standard deviation of the last window closes
func Volatility(closes []float64, window int) float64 {
	if window <= 0 || len(closes) < window {
		return 0
	}

	w := closes[len(closes)-window:]
	mean := SMA(w, window)
	variance := 0.0
	for _, c := range w {
		d := c - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(window))
}
