package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventTaskCreated   EventType = "task.created"
	EventTaskStarted   EventType = "task.started"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"

	EventAgentInitialized EventType = "agent.initialized"
	EventAgentStarted     EventType = "agent.started"
	EventAgentStopped     EventType = "agent.stopped"
	EventAgentError       EventType = "agent.error"

	EventToolStarted   EventType = "tool.started"
	EventToolCompleted EventType = "tool.completed"
	EventToolFailed    EventType = "tool.failed"

	EventSystemStarted EventType = "system.started"
	EventSystemStopped EventType = "system.stopped"
	EventSystemError   EventType = "system.error"

	EventSupervisorReport EventType = "supervisor.report"
)

// Event is the envelope published on the event bus.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Source    string          `json:"source,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// HistoryQuery filters EventBus.History. A zero value returns everything.
type HistoryQuery struct {
	Type  EventType
	Limit int
}

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish records the event and delivers it to every matching subscriber.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// History returns a filtered copy of the retained events, oldest first.
	History(q HistoryQuery) []Event
	// ClearHistory drops all retained events.
	ClearHistory()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
