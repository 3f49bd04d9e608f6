package marketdata

import (
	"sync"
	"time"
)

const defaultMarkerCapacity = 1000

// TradeMarker records where an intent passed its preconditions, for charting
type TradeMarker struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
	Side  string    `json:"side"`
	Venue string    `json:"venue,omitempty"`
}

// TradeMarkers holds a bounded, append-only marker list per pair
type TradeMarkers struct {
	mu       sync.RWMutex
	capacity int
	byPair   map[string][]TradeMarker
}

func NewTradeMarkers(capacity int) *TradeMarkers {
	if capacity <= 0 {
		capacity = defaultMarkerCapacity
	}
	return &TradeMarkers{capacity: capacity, byPair: make(map[string][]TradeMarker)}
}

// Add appends a marker, evicting the oldest past capacity
func (m *TradeMarkers) Add(pair string, marker TradeMarker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := append(m.byPair[pair], marker)
	if len(list) > m.capacity {
		list = append([]TradeMarker(nil), list[len(list)-m.capacity:]...)
	}
	m.byPair[pair] = list
}

// Snapshot returns markers at or after since; a zero since returns all
func (m *TradeMarkers) Snapshot(pair string, since time.Time) []TradeMarker {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]TradeMarker, 0, len(m.byPair[pair]))
	for _, mk := range m.byPair[pair] {
		if since.IsZero() || !mk.Time.Before(since) {
			out = append(out, mk)
		}
	}
	return out
}
