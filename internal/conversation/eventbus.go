package conversation

import (
	"sync"
	"time"
)

// EventType represents the type of conversation event.
type EventType string

const (
	EventTurnStart         EventType = "turn_start"
	EventMemoryQueried     EventType = "memory_queried"
	EventMemoryQueryFailed EventType = "memory_query_failed"
	EventMemoryAdded       EventType = "memory_added"
	EventMemoryWriteFailed EventType = "memory_write_failed"
	EventProviderRequest   EventType = "provider_request"
	EventProviderResponse  EventType = "provider_response"
	EventProviderFailed    EventType = "provider_failed"
	EventGuardViolation    EventType = "guard_violation"
	EventTurnComplete      EventType = "turn_complete"
)

// Event represents a conversation event with associated data.
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	TurnID    string
	Data      map[string]interface{}
}

// EventHandler is a function that handles events.
type EventHandler func(Event)

// EventBus manages event publication and subscription.
// Handlers run synchronously on the publishing goroutine.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// SubscribeAll registers a handler for all event types.
func (eb *EventBus) SubscribeAll(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allHandlers = append(eb.allHandlers, handler)
}

// Publish sends an event to all registered handlers.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	specific := eb.handlers[event.Type]
	all := eb.allHandlers
	eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, handler := range specific {
		handler(event)
	}
	for _, handler := range all {
		handler(event)
	}
}

// PublishWithData publishes an event with associated data.
func (eb *EventBus) PublishWithData(eventType EventType, sessionID, turnID string, data map[string]interface{}) {
	eb.Publish(Event{
		Type:      eventType,
		SessionID: sessionID,
		TurnID:    turnID,
		Data:      data,
	})
}
