// Package events provides the in-process pub/sub bus the watchdog publishes
// its decisions on. Notifiers and the dashboard subscribe here instead of
// being called inline from the evaluation path.
package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventExitSignal        EventType = "EXIT_SIGNAL"
	EventOrderPlaced       EventType = "ORDER_PLACED"
	EventOrderFailed       EventType = "ORDER_FAILED"
	EventPositionAdopted   EventType = "POSITION_ADOPTED"
	EventPositionRemoved   EventType = "POSITION_REMOVED"
	EventQuantityCorrected EventType = "QUANTITY_CORRECTED"
	EventPortfolioSummary  EventType = "PORTFOLIO_SUMMARY"
	EventWatchdogStarted   EventType = "WATCHDOG_STARTED"
	EventWatchdogStopped   EventType = "WATCHDOG_STOPPED"
	EventError             EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Bus manages event publishing and subscriptions
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Delivery is asynchronous so a
// slow subscriber can never stall the evaluation cycle.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := b.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishExitSignal publishes an exit decision.
func (b *Bus) PublishExitSignal(ticker, kind, reason string, triggerPrice float64, quantity int64) {
	b.Publish(Event{
		Type: EventExitSignal,
		Data: map[string]interface{}{
			"ticker":        ticker,
			"kind":          kind,
			"reason":        reason,
			"trigger_price": triggerPrice,
			"quantity":      quantity,
		},
	})
}

// PublishOrderPlaced publishes an accepted exit order.
func (b *Bus) PublishOrderPlaced(ticker, orderID, reason string, quantity int64, limitPrice float64) {
	b.Publish(Event{
		Type: EventOrderPlaced,
		Data: map[string]interface{}{
			"ticker":      ticker,
			"order_id":    orderID,
			"reason":      reason,
			"quantity":    quantity,
			"limit_price": limitPrice,
		},
	})
}

// PublishPositionRemoved publishes a position dropped from tracking, with
// the fields the closed-position journal needs.
func (b *Bus) PublishPositionRemoved(ticker, productType, cause string, quantity int64, entryPrice, exitPrice, pnl float64, entryTime time.Time) {
	b.Publish(Event{
		Type: EventPositionRemoved,
		Data: map[string]interface{}{
			"ticker":       ticker,
			"product_type": productType,
			"quantity":     quantity,
			"entry_price":  entryPrice,
			"exit_price":   exitPrice,
			"entry_time":   entryTime,
			"cause":        cause,
			"pnl":          pnl,
		},
	})
}

// PublishOrderFailed publishes a terminally failed exit order.
func (b *Bus) PublishOrderFailed(ticker, reason, cause string, quantity int64) {
	b.Publish(Event{
		Type: EventOrderFailed,
		Data: map[string]interface{}{
			"ticker":   ticker,
			"reason":   reason,
			"cause":    cause,
			"quantity": quantity,
		},
	})
}
