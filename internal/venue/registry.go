package venue

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"multi-exchange-trading-bot/config"
)

// Registry owns the venue handles and the pair table they serve.
// A venue that fails its connectivity test is dropped from every pair.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]Handle
	pairs   map[string]config.PairConfig
	logger  zerolog.Logger
}

// NewRegistry copies pairs so later degradation does not touch the caller's config
func NewRegistry(pairs map[string]config.PairConfig, logger zerolog.Logger) *Registry {
	cp := make(map[string]config.PairConfig, len(pairs))
	for name, p := range pairs {
		venues := make(config.PairConfig, len(p))
		for id, sym := range p {
			venues[id] = sym
		}
		cp[name] = venues
	}
	return &Registry{
		handles: make(map[string]Handle),
		pairs:   cp,
		logger:  logger.With().Str("component", "venue_registry").Logger(),
	}
}

// Register adds a handle. A handle without an adapter degrades the venue immediately.
func (r *Registry) Register(h Handle) {
	if !h.Available() {
		r.logger.Error().Str("venue", h.ID).Msg("Venue initialization failed, proceeding without it")
		r.Remove(h.ID)
		return
	}
	r.mu.Lock()
	r.handles[h.ID] = h
	r.mu.Unlock()
}

// Remove drops a venue and prunes pairs left without any venue
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handles, id)
	for name, p := range r.pairs {
		if _, ok := p[id]; !ok {
			continue
		}
		delete(p, id)
		if len(p) == 0 {
			delete(r.pairs, name)
			r.logger.Warn().Str("pair", name).Msg("Pair dropped: no venue left")
		}
	}
}

// Handle returns the handle of a venue
func (r *Registry) Handle(id string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	return h, ok
}

// Venues returns registered venue ids in stable order
func (r *Registry) Venues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Pairs returns the active pair names in stable order
func (r *Registry) Pairs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pairs))
	for name := range r.pairs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PairTable returns a copy of the active pair table
func (r *Registry) PairTable() map[string]config.PairConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]config.PairConfig, len(r.pairs))
	for name, p := range r.pairs {
		venues := make(config.PairConfig, len(p))
		for id, sym := range p {
			venues[id] = sym
		}
		out[name] = venues
	}
	return out
}

// Symbol returns the venue-specific symbol of a pair
func (r *Registry) Symbol(pair, venueID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pairs[pair]
	if !ok {
		return "", false
	}
	sym, ok := p[venueID]
	return sym, ok
}

// VenuesFor returns the venue ids serving a pair, in stable order
func (r *Registry) VenuesFor(pair string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := r.pairs[pair]
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TestConnectivity fetches candles and the quote balance of every venue.
// A venue whose candle fetch fails is removed; a balance failure only warns.
func (r *Registry) TestConnectivity(ctx context.Context, probePair, timeframe string) {
	for _, id := range r.Venues() {
		h, _ := r.Handle(id)
		sym, ok := r.Symbol(probePair, id)
		if !ok {
			for _, name := range r.Pairs() {
				if s, found := r.Symbol(name, id); found {
					sym, ok = s, true
					break
				}
			}
		}
		if !ok {
			continue
		}

		candles, err := h.Adapter.FetchCandles(ctx, sym, timeframe, 1)
		if err != nil || len(candles) == 0 {
			r.logger.Error().Err(err).Str("venue", id).Str("symbol", sym).
				Msg("Critical: connectivity test failed, proceeding without venue")
			r.Remove(id)
			continue
		}

		evt := r.logger.Info().Str("venue", id).Float64("last_price", candles[len(candles)-1].Close)
		if balances, err := h.Adapter.FetchBalance(ctx); err != nil {
			r.logger.Warn().Err(err).Str("venue", id).Msg("Balance unavailable during connectivity test")
		} else {
			evt = evt.Float64(h.QuoteCurrency+"_balance", balances[h.QuoteCurrency])
		}
		evt.Msg("Connectivity test passed")
	}
}
