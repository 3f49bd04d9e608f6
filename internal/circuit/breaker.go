// Package circuit is the risk governor: a two-state ACTIVE/PAUSED switch that
// trips when cumulative profit falls below a fixed loss limit.
package circuit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"multi-exchange-trading-bot/internal/events"
)

// State of the governor
type State string

const (
	StateActive State = "active"
	StatePaused State = "paused"
)

// Reasons recorded on pause
const (
	ReasonLossLimit = "loss_limit"
	ReasonOperator  = "operator"
)

// Governor gates trading. It never resumes on its own.
type Governor struct {
	mu          sync.RWMutex
	state       State
	baseBalance float64
	fraction    float64
	reason      string
	lastTrip    time.Time
	tripCount   int
	lastProfit  float64
	onTrip      func(reason string)
	onResume    func()
	bus         *events.EventBus
	logger      zerolog.Logger
	now         func() time.Time
}

// NewGovernor trips once total profit < -(fraction * baseBalance)
func NewGovernor(baseBalance, fraction float64, bus *events.EventBus, logger zerolog.Logger) *Governor {
	return &Governor{
		state:       StateActive,
		baseBalance: baseBalance,
		fraction:    fraction,
		bus:         bus,
		logger:      logger.With().Str("component", "circuit").Logger(),
		now:         time.Now,
	}
}

// OnTrip sets callback for when the loss limit trips
func (g *Governor) OnTrip(handler func(reason string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onTrip = handler
}

// OnResume sets callback for when trading resumes
func (g *Governor) OnResume(handler func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onResume = handler
}

// LossLimit is the absolute loss that trips the governor
func (g *Governor) LossLimit() float64 {
	return g.fraction * g.baseBalance
}

// Evaluate checks total profit against the loss limit, pausing on breach.
// Returns true when this call tripped the governor.
func (g *Governor) Evaluate(totalProfit float64) bool {
	g.mu.Lock()
	g.lastProfit = totalProfit
	if g.state == StatePaused || totalProfit >= -g.LossLimit() {
		g.mu.Unlock()
		return false
	}
	g.pauseLocked(ReasonLossLimit)
	handler := g.onTrip
	g.mu.Unlock()

	g.logger.Warn().Float64("total_profit", totalProfit).Float64("loss_limit", g.LossLimit()).
		Msg("Circuit breaker triggered: loss limit exceeded")
	if handler != nil {
		handler(ReasonLossLimit)
	}
	return true
}

// Pause stops trading with a reason
func (g *Governor) Pause(reason string) {
	g.mu.Lock()
	if g.state == StatePaused {
		g.mu.Unlock()
		return
	}
	g.pauseLocked(reason)
	g.mu.Unlock()
	g.logger.Info().Str("reason", reason).Msg("Trading paused")
}

func (g *Governor) pauseLocked(reason string) {
	g.state = StatePaused
	g.reason = reason
	g.lastTrip = g.now()
	if reason == ReasonLossLimit {
		g.tripCount++
	}
	g.bus.PublishCircuitBreaker(map[string]interface{}{
		"state":        string(StatePaused),
		"action":       "paused",
		"reason":       reason,
		"total_profit": g.lastProfit,
		"loss_limit":   g.LossLimit(),
		"paused_at":    g.lastTrip,
	})
}

// Resume re-enables trading
func (g *Governor) Resume() {
	g.mu.Lock()
	if g.state == StateActive {
		g.mu.Unlock()
		return
	}
	handler := g.resumeLocked()
	g.mu.Unlock()
	g.resumed(handler)
}

func (g *Governor) resumeLocked() func() {
	g.state = StateActive
	g.reason = ""
	g.bus.PublishCircuitBreaker(map[string]interface{}{
		"state":  string(StateActive),
		"action": "resumed",
	})
	return g.onResume
}

func (g *Governor) resumed(handler func()) {
	g.logger.Info().Msg("Trading resumed")
	if handler != nil {
		handler()
	}
}

// Toggle flips the state and returns the new one. The read and the flip
// happen under one lock so concurrent toggles never collapse into one.
func (g *Governor) Toggle() State {
	g.mu.Lock()
	if g.state == StatePaused {
		handler := g.resumeLocked()
		g.mu.Unlock()
		g.resumed(handler)
		return StateActive
	}
	g.pauseLocked(ReasonOperator)
	g.mu.Unlock()
	g.logger.Info().Str("reason", ReasonOperator).Msg("Trading paused")
	return StatePaused
}

// IsPaused reports whether trading is gated
func (g *Governor) IsPaused() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state == StatePaused
}

// GetState returns current governor state
func (g *Governor) GetState() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Stats returns current statistics
func (g *Governor) Stats() map[string]interface{} {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return map[string]interface{}{
		"state":        string(g.state),
		"reason":       g.reason,
		"loss_limit":   g.LossLimit(),
		"last_profit":  g.lastProfit,
		"trip_count":   g.tripCount,
		"last_trip_at": g.lastTrip,
	}
}
