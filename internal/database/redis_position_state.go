package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"multi-exchange-trading-bot/config"
	"multi-exchange-trading-bot/internal/ledger"
)

// Redis key layout for mirrored positions
const (
	// PositionKeyPrefix format: trading-bot:position:{pair}:{venue}
	PositionKeyPrefix = "trading-bot:position"
	// PositionSetKey lists every mirrored "{pair}:{venue}"
	PositionSetKey = "trading-bot:positions"

	PositionStateTTL = 7 * 24 * time.Hour

	// MirrorDrainTimeout bounds the final write of pending updates on shutdown
	MirrorDrainTimeout = 5 * time.Second
)

// NewRedisClient creates a client from config and pings it
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Address, err)
	}
	return client, nil
}

// PositionMirror copies ledger positions to Redis for external readers.
// Updates are coalesced per (pair, venue) so ledger locks never wait on the
// network and a burst never drops the newest state; when Redis is unreachable
// the latest state is kept in memory.
type PositionMirror struct {
	client    *redis.Client
	available atomic.Bool
	logger    zerolog.Logger
	save      func(ctx context.Context, p ledger.Position) error

	mu      sync.RWMutex
	cache   map[string]ledger.Position
	pending map[string]ledger.Position

	wake chan struct{}
	done chan struct{}
}

// NewPositionMirror creates a mirror. A nil client runs in memory only.
func NewPositionMirror(client *redis.Client, logger zerolog.Logger) *PositionMirror {
	m := &PositionMirror{
		client:  client,
		logger:  logger.With().Str("component", "position_mirror").Logger(),
		cache:   make(map[string]ledger.Position),
		pending: make(map[string]ledger.Position),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	m.save = m.Save
	m.available.Store(client != nil)
	return m
}

func positionID(pair, venueID string) string {
	return pair + ":" + venueID
}

func positionKey(pair, venueID string) string {
	return fmt.Sprintf("%s:%s", PositionKeyPrefix, positionID(pair, venueID))
}

// Observe is the ledger observer callback. It never blocks.
func (m *PositionMirror) Observe(p ledger.Position) {
	id := positionID(p.Pair, p.Venue)
	m.mu.Lock()
	m.cache[id] = p
	m.pending[id] = p
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run writes pending updates until ctx ends, then flushes what is left with
// a fresh deadline and closes Done.
func (m *PositionMirror) Run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), MirrorDrainTimeout)
			n := m.flush(drainCtx)
			cancel()
			m.logger.Debug().Int("written", n).Msg("Position mirror drained")
			return
		case <-m.wake:
			if ctx.Err() == nil {
				m.flush(ctx)
			}
		}
	}
}

// Done is closed once Run has returned and the final drain is done
func (m *PositionMirror) Done() <-chan struct{} {
	return m.done
}

// flush writes every pending update and returns how many were written.
// Failed updates go back to pending unless a newer one arrived meanwhile.
func (m *PositionMirror) flush(ctx context.Context) int {
	m.mu.Lock()
	batch := m.pending
	m.pending = make(map[string]ledger.Position, len(batch))
	m.mu.Unlock()

	written := 0
	for id, p := range batch {
		if err := m.save(ctx, p); err != nil {
			m.logger.Warn().Err(err).Str("pair", p.Pair).Str("venue", p.Venue).Msg("Position mirror write failed")
			m.mu.Lock()
			if _, newer := m.pending[id]; !newer {
				m.pending[id] = p
			}
			m.mu.Unlock()
			continue
		}
		written++
	}
	return written
}

// Pending is the number of updates not yet written
func (m *PositionMirror) Pending() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending)
}

// Save writes one position to Redis
func (m *PositionMirror) Save(ctx context.Context, p ledger.Position) error {
	if m.client == nil {
		return nil
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}

	pipe := m.client.TxPipeline()
	pipe.Set(ctx, positionKey(p.Pair, p.Venue), data, PositionStateTTL)
	pipe.SAdd(ctx, PositionSetKey, positionID(p.Pair, p.Venue))
	pipe.Expire(ctx, PositionSetKey, PositionStateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		if m.available.Swap(false) {
			m.logger.Warn().Err(err).Msg("Redis unavailable, mirroring in memory")
		}
		return err
	}
	if !m.available.Swap(true) {
		m.logger.Info().Msg("Redis available again")
	}
	return nil
}

// Load reads one position, from Redis when reachable, else from memory
func (m *PositionMirror) Load(ctx context.Context, pair, venueID string) (ledger.Position, bool, error) {
	if m.client != nil && m.available.Load() {
		data, err := m.client.Get(ctx, positionKey(pair, venueID)).Bytes()
		switch {
		case err == nil:
			var p ledger.Position
			if err := json.Unmarshal(data, &p); err != nil {
				return ledger.Position{}, false, fmt.Errorf("failed to unmarshal position: %w", err)
			}
			return p, true, nil
		case errors.Is(err, redis.Nil):
			return ledger.Position{}, false, nil
		default:
			m.available.Store(false)
			m.logger.Warn().Err(err).Msg("Redis read failed, using in-memory mirror")
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.cache[positionID(pair, venueID)]
	return p, ok, nil
}

// Snapshot returns the in-memory copy of every mirrored position
func (m *PositionMirror) Snapshot() map[string]ledger.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ledger.Position, len(m.cache))
	for k, v := range m.cache {
		out[k] = v
	}
	return out
}

// Available reports whether the last Redis operation succeeded
func (m *PositionMirror) Available() bool {
	return m.available.Load()
}
