package marketdata

import (
	"multi-exchange-trading-bot/internal/venue"
)

// Candle is the bar type shared with the venue adapters
type Candle = venue.Candle

// CandleHistory is a bounded FIFO of candles, oldest first
type CandleHistory struct {
	capacity int
	bars     []Candle
}

// NewCandleHistory creates a history holding at most capacity candles
func NewCandleHistory(capacity int) *CandleHistory {
	if capacity <= 0 {
		capacity = 1
	}
	return &CandleHistory{capacity: capacity, bars: make([]Candle, 0, capacity)}
}

// Append adds a candle, evicting the oldest once full
func (h *CandleHistory) Append(c Candle) {
	if len(h.bars) == h.capacity {
		copy(h.bars, h.bars[1:])
		h.bars[len(h.bars)-1] = c
		return
	}
	h.bars = append(h.bars, c)
}

// ReplaceLast overwrites the newest candle
func (h *CandleHistory) ReplaceLast(c Candle) {
	if len(h.bars) == 0 {
		h.Append(c)
		return
	}
	h.bars[len(h.bars)-1] = c
}

// Last returns the newest candle
func (h *CandleHistory) Last() (Candle, bool) {
	if len(h.bars) == 0 {
		return Candle{}, false
	}
	return h.bars[len(h.bars)-1], true
}

func (h *CandleHistory) Len() int { return len(h.bars) }

func (h *CandleHistory) Cap() int { return h.capacity }

// Snapshot copies the newest n candles; n <= 0 means all
func (h *CandleHistory) Snapshot(n int) []Candle {
	start := 0
	if n > 0 && n < len(h.bars) {
		start = len(h.bars) - n
	}
	out := make([]Candle, len(h.bars)-start)
	copy(out, h.bars[start:])
	return out
}

// Closes copies the close prices, oldest first
func (h *CandleHistory) Closes() []float64 {
	out := make([]float64, len(h.bars))
	for i, c := range h.bars {
		out[i] = c.Close
	}
	return out
}
