// Package marketdata holds per (pair, venue) candle histories, last-price
// staleness tracking, indicator helpers and chart markers.
package marketdata

import (
	"sync"
	"sync/atomic"
	"time"
)

const defaultPricePoints = 1000

type key struct {
	pair  string
	venue string
}

// LastPrice is the most recent close seen for a (pair, venue)
type LastPrice struct {
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}

// PricePoint is one tick's price table row for a pair
type PricePoint struct {
	Time   time.Time          `json:"time"`
	Prices map[string]float64 `json:"prices"`
}

// Cache is written by the control loop only; readers get copies.
type Cache struct {
	mu       sync.RWMutex
	capacity int
	ttl      time.Duration
	history  map[key]*CandleHistory
	last     map[key]LastPrice
	fresh    map[key]bool
	points   map[string][]PricePoint

	// Statistics
	hitCount  int64
	missCount int64
}

// NewCache creates a cache keeping capacity candles per (pair, venue)
func NewCache(capacity int, ttl time.Duration) *Cache {
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		history:  make(map[key]*CandleHistory),
		last:     make(map[key]LastPrice),
		fresh:    make(map[key]bool),
		points:   make(map[string][]PricePoint),
	}
}

func (c *Cache) historyFor(k key) *CandleHistory {
	h, ok := c.history[k]
	if !ok {
		h = NewCandleHistory(c.capacity)
		c.history[k] = h
	}
	return h
}

// RecordCandle appends one candle to the bounded history
func (c *Cache) RecordCandle(pair, venueID string, candle Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.historyFor(key{pair, venueID}).Append(candle)
}

// Ingest merges one fetch result. An empty history is seeded with the batch;
// afterwards only newer candles are appended and a candle with the same
// timestamp as the newest stored one replaces it.
func (c *Cache) Ingest(pair, venueID string, candles []Candle, now time.Time) {
	if len(candles) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{pair, venueID}
	h := c.historyFor(k)

	if h.Len() == 0 {
		start := 0
		if len(candles) > h.Cap() {
			start = len(candles) - h.Cap()
		}
		for _, cd := range candles[start:] {
			h.Append(cd)
		}
	} else {
		for _, cd := range candles {
			last, _ := h.Last()
			switch {
			case cd.Time.Equal(last.Time):
				h.ReplaceLast(cd)
			case cd.Time.After(last.Time):
				h.Append(cd)
			}
		}
	}

	c.last[k] = LastPrice{Price: candles[len(candles)-1].Close, ObservedAt: now}
	c.fresh[k] = true
}

// MarkFetchFailed makes LatestPrice fall back to the TTL rule
func (c *Cache) MarkFetchFailed(pair, venueID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fresh[key{pair, venueID}] = false
}

// LatestPrice returns the last close when the latest fetch succeeded, else the
// cached price while it is younger than the TTL.
func (c *Cache) LatestPrice(pair, venueID string, now time.Time) (float64, bool) {
	c.mu.RLock()
	k := key{pair, venueID}
	lp, seen := c.last[k]
	fresh := c.fresh[k]
	c.mu.RUnlock()

	if seen && lp.Price > 0 && (fresh || now.Sub(lp.ObservedAt) < c.ttl) {
		atomic.AddInt64(&c.hitCount, 1)
		return lp.Price, true
	}
	atomic.AddInt64(&c.missCount, 1)
	return 0, false
}

// Last returns the raw LastPrice entry
func (c *Cache) Last(pair, venueID string) (LastPrice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lp, ok := c.last[key{pair, venueID}]
	return lp, ok
}

// Candles returns a copy of the newest n candles; n <= 0 returns all
func (c *Cache) Candles(pair, venueID string, n int) []Candle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.history[key{pair, venueID}]
	if !ok {
		return nil
	}
	return h.Snapshot(n)
}

// Closes returns a copy of the close prices, oldest first
func (c *Cache) Closes(pair, venueID string) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.history[key{pair, venueID}]
	if !ok {
		return nil
	}
	return h.Closes()
}

// ATR over the cached history
func (c *Cache) ATR(pair, venueID string, period int) float64 {
	return ATR(c.Candles(pair, venueID, period), period)
}

// Volatility over the cached closes
func (c *Cache) Volatility(pair, venueID string, window int) float64 {
	return Volatility(c.Closes(pair, venueID), window)
}

// RecordPrices appends one row of the per-tick price table for a pair
func (c *Cache) RecordPrices(pair string, now time.Time, prices map[string]float64) {
	cp := make(map[string]float64, len(prices))
	for id, p := range prices {
		cp[id] = p
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	pts := append(c.points[pair], PricePoint{Time: now, Prices: cp})
	if len(pts) > defaultPricePoints {
		pts = append([]PricePoint(nil), pts[len(pts)-defaultPricePoints:]...)
	}
	c.points[pair] = pts
}

// PriceHistory returns price rows at or after since; a zero since returns all
func (c *Cache) PriceHistory(pair string, since time.Time) []PricePoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]PricePoint, 0, len(c.points[pair]))
	for _, p := range c.points[pair] {
		if since.IsZero() || !p.Time.Before(since) {
			out = append(out, p)
		}
	}
	return out
}

// GetStats returns cache statistics
func (c *Cache) GetStats() map[string]interface{} {
	hits := atomic.LoadInt64(&c.hitCount)
	misses := atomic.LoadInt64(&c.missCount)
	total := hits + misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	c.mu.RLock()
	series := len(c.history)
	c.mu.RUnlock()

	return map[string]interface{}{
		"hit_count":  hits,
		"miss_count": misses,
		"hit_rate":   hitRate,
		"series":     series,
	}
}
