package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTradeOpened          EventType = "TRADE_OPENED"
	EventTradeClosed          EventType = "TRADE_CLOSED"
	EventTradeRejected        EventType = "TRADE_REJECTED"
	EventPriceUpdate          EventType = "PRICE_UPDATE"
	EventPositionUpdate       EventType = "POSITION_UPDATE"
	EventPnLUpdate            EventType = "PNL_UPDATE"
	EventCircuitBreakerUpdate EventType = "CIRCUIT_BREAKER_UPDATE"
	EventReportWritten        EventType = "REPORT_WRITTEN"
	EventCashOut              EventType = "CASH_OUT"
	EventBotStarted           EventType = "BOT_STARTED"
	EventBotStopped           EventType = "BOT_STOPPED"
	EventError                EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish fans an event out to subscribers without blocking the publisher.
// A nil bus drops events.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishTradeOpened publishes a filled BUY
func (eb *EventBus) PublishTradeOpened(pair, venueID, tradeType string, price, amount float64) {
	eb.Publish(Event{
		Type: EventTradeOpened,
		Data: map[string]interface{}{
			"pair":       pair,
			"venue":      venueID,
			"trade_type": tradeType,
			"price":      price,
			"amount":     amount,
		},
	})
}

// PublishTradeClosed publishes a filled SELL with its realized result
func (eb *EventBus) PublishTradeClosed(pair, venueID, tradeType string, entryPrice, exitPrice, amount, netProfit float64) {
	eb.Publish(Event{
		Type: EventTradeClosed,
		Data: map[string]interface{}{
			"pair":        pair,
			"venue":       venueID,
			"trade_type":  tradeType,
			"entry_price": entryPrice,
			"exit_price":  exitPrice,
			"amount":      amount,
			"net_profit":  netProfit,
		},
	})
}

// PublishTradeRejected publishes an intent that did not execute
func (eb *EventBus) PublishTradeRejected(pair, venueID, side, tradeType, reason string) {
	eb.Publish(Event{
		Type: EventTradeRejected,
		Data: map[string]interface{}{
			"pair":       pair,
			"venue":      venueID,
			"side":       side,
			"trade_type": tradeType,
			"reason":     reason,
		},
	})
}

// PublishPriceUpdate publishes one pair's price table for the tick
func (eb *EventBus) PublishPriceUpdate(pair string, prices map[string]float64) {
	data := map[string]interface{}{"pair": pair}
	for id, p := range prices {
		data[id] = p
	}
	eb.Publish(Event{Type: EventPriceUpdate, Data: data})
}

// PublishPnL publishes the running profit ledger totals
func (eb *EventBus) PublishPnL(totalProfit float64, tradeCount int) {
	eb.Publish(Event{
		Type: EventPnLUpdate,
		Data: map[string]interface{}{
			"total_profit": totalProfit,
			"trade_count":  tradeCount,
		},
	})
}

// PublishCircuitBreaker publishes a governor state change
func (eb *EventBus) PublishCircuitBreaker(data map[string]interface{}) {
	eb.Publish(Event{Type: EventCircuitBreakerUpdate, Data: data})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: EventError, Data: data})
}
