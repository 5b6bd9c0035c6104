package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventCandidateScored   EventType = "CANDIDATE_SCORED"
	EventCandidateRejected EventType = "CANDIDATE_REJECTED"
	EventFlushSelected     EventType = "FLUSH_SELECTED"
	EventOracleDecision    EventType = "ORACLE_DECISION"
	EventTradeOpened       EventType = "TRADE_OPENED"
	EventTradeClosed       EventType = "TRADE_CLOSED"
	EventTradeUpdate       EventType = "TRADE_UPDATE"
	EventPatternStatus     EventType = "PATTERN_STATUS"
	EventFloorAdjusted     EventType = "FLOOR_ADJUSTED"
	EventBudgetPaused      EventType = "BUDGET_PAUSED"
	EventSessionBlocked    EventType = "SESSION_BLOCKED"
	EventEngineState       EventType = "ENGINE_STATE"
	EventDailyReset        EventType = "DAILY_RESET"
	EventPriceUpdate       EventType = "PRICE_UPDATE"
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

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Notify specific subscribers
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	// Notify all-event subscribers
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishTradeOpened publishes a trade opened event
func (eb *EventBus) PublishTradeOpened(tradeID, setup, direction string, entryPrice, stopLoss, takeProfit float64) {
	eb.Publish(Event{
		Type: EventTradeOpened,
		Data: map[string]interface{}{
			"trade_id":    tradeID,
			"setup":       setup,
			"direction":   direction,
			"entry_price": entryPrice,
			"stop_loss":   stopLoss,
			"take_profit": takeProfit,
		},
	})
}

// PublishTradeClosed publishes a trade closed event
func (eb *EventBus) PublishTradeClosed(tradeID, exitReason string, exitPrice, netPoints, mae, mfe float64) {
	eb.Publish(Event{
		Type: EventTradeClosed,
		Data: map[string]interface{}{
			"trade_id":    tradeID,
			"exit_reason": exitReason,
			"exit_price":  exitPrice,
			"net_points":  netPoints,
			"mae":         mae,
			"mfe":         mfe,
		},
	})
}

// PublishCandidateScored publishes a scored candidate event
func (eb *EventBus) PublishCandidateScored(candidateID, setup, direction string, score float64) {
	eb.Publish(Event{
		Type: EventCandidateScored,
		Data: map[string]interface{}{
			"candidate_id": candidateID,
			"setup":        setup,
			"direction":    direction,
			"score":        score,
		},
	})
}

// PublishCandidateRejected publishes a rejection with its reason code
func (eb *EventBus) PublishCandidateRejected(candidateID, reason string) {
	eb.Publish(Event{
		Type: EventCandidateRejected,
		Data: map[string]interface{}{
			"candidate_id": candidateID,
			"reason":       reason,
		},
	})
}

// PublishOracleDecision publishes an advisory decision event
func (eb *EventBus) PublishOracleDecision(candidateID, action, source string, confidence int) {
	eb.Publish(Event{
		Type: EventOracleDecision,
		Data: map[string]interface{}{
			"candidate_id": candidateID,
			"action":       action,
			"source":       source,
			"confidence":   confidence,
		},
	})
}

// PublishPatternStatus publishes a fingerprint status transition
func (eb *EventBus) PublishPatternStatus(fingerprint, from, to string, samples int, trailingWR float64) {
	eb.Publish(Event{
		Type: EventPatternStatus,
		Data: map[string]interface{}{
			"fingerprint":       fingerprint,
			"from":              from,
			"to":                to,
			"samples":           samples,
			"trailing_win_rate": trailingWR,
		},
	})
}

// PublishFloorAdjusted publishes a calibration adjustment
func (eb *EventBus) PublishFloorAdjusted(setup string, oldFloor, newFloor int, winRate float64) {
	eb.Publish(Event{
		Type: EventFloorAdjusted,
		Data: map[string]interface{}{
			"setup":     setup,
			"old_floor": oldFloor,
			"new_floor": newFloor,
			"win_rate":  winRate,
		},
	})
}

// PublishBudgetPaused publishes a budget pause with its reason
func (eb *EventBus) PublishBudgetPaused(reason string, usedToday, cap int) {
	eb.Publish(Event{
		Type: EventBudgetPaused,
		Data: map[string]interface{}{
			"reason":     reason,
			"used_today": usedToday,
			"daily_cap":  cap,
		},
	})
}

// PublishEngineState publishes an engine lifecycle transition
func (eb *EventBus) PublishEngineState(state, reason string) {
	eb.Publish(Event{
		Type: EventEngineState,
		Data: map[string]interface{}{
			"state":  state,
			"reason": reason,
		},
	})
}

// PublishPriceUpdate publishes a price update event
func (eb *EventBus) PublishPriceUpdate(symbol string, price float64) {
	eb.Publish(Event{
		Type: EventPriceUpdate,
		Data: map[string]interface{}{
			"symbol": symbol,
			"price":  price,
		},
	})
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
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
