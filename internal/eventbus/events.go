package eventbus

import (
	"context"
	"time"
)

// EventType represents the type of an event
type EventType string

// Standard event types
const (
	// Request lifecycle events
	EventRequestStarted   EventType = "request_started"
	EventRequestCompleted EventType = "request_completed"
	EventRequestFailed    EventType = "request_failed"
	EventStateEntered     EventType = "state_entered"

	// Classification events
	EventClassificationStarted  EventType = "classification_started"
	EventClassificationSuccess  EventType = "classification_success"
	EventClassificationDegraded EventType = "classification_degraded"

	// Planning events
	EventPlanBuilt             EventType = "plan_built"
	EventPlanEarlyExit         EventType = "plan_early_exit"
	EventPlanValidationFailure EventType = "plan_validation_failure"

	// Scheduling events
	EventBatchStarted   EventType = "batch_started"
	EventBatchCompleted EventType = "batch_completed"
	EventStepStarted    EventType = "step_started"
	EventStepCompleted  EventType = "step_completed"
	EventStepFailed     EventType = "step_failed"
	EventStepSkipped    EventType = "step_skipped"

	// Aggregation and synthesis events
	EventAggregationCompleted EventType = "aggregation_completed"
	EventSynthesisStarted     EventType = "synthesis_started"
	EventSynthesisSuccess     EventType = "synthesis_success"
	EventSynthesisFallback    EventType = "synthesis_fallback"

	// Memory events
	EventMemoryLoadFailure EventType = "memory_load_failure"
	EventMemorySaved       EventType = "memory_saved"
	EventMemorySaveFailure EventType = "memory_save_failure"

	// Async request events
	EventAsyncStarted   EventType = "async_started"
	EventAsyncCompleted EventType = "async_completed"
	EventAsyncFailed    EventType = "async_failed"
	EventAsyncCancelled EventType = "async_cancelled"

	// System events
	EventSystemError EventType = "system_error"
)

// EventHandler is a function that handles events
type EventHandler func(context.Context, Event) error

// Event represents something that has happened within the system
type Event interface {
	// Type returns the event type
	Type() EventType

	// Payload returns the event data
	Payload() interface{}

	// Metadata returns additional information about the event
	Metadata() map[string]interface{}

	// Timestamp returns when the event occurred
	Timestamp() int64

	// Source returns information about what generated the event
	Source() string
}

// EventBus is the central event dispatch system
type EventBus interface {
	// Publish sends an event to all subscribed handlers
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for specific event types
	// Returns a subscription ID that can be used to unsubscribe
	Subscribe(eventTypes []EventType, handler EventHandler) (string, error)

	// SubscribeAll registers a handler for all event types
	SubscribeAll(handler EventHandler) (string, error)

	// Unsubscribe removes a subscription by ID
	Unsubscribe(subscriptionID string) error

	// Close shuts down the event bus, cleaning up resources
	Close() error
}

// BaseEvent is a simple implementation of the Event interface
type BaseEvent struct {
	eventType  EventType
	payload    interface{}
	metadata   map[string]interface{}
	timestamp  int64
	sourceInfo string
}

// NewEvent creates a new BaseEvent
func NewEvent(
	eventType EventType,
	payload interface{},
	source string,
	metadata map[string]interface{},
) *BaseEvent {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	return &BaseEvent{
		eventType:  eventType,
		payload:    payload,
		metadata:   metadata,
		timestamp:  time.Now().UnixNano(),
		sourceInfo: source,
	}
}

// NewEmptyEvent creates an event with no payload or metadata.
func NewEmptyEvent(eventType EventType, source string) *BaseEvent {
	return NewEvent(eventType, nil, source, nil)
}

func (e *BaseEvent) Type() EventType                  { return e.eventType }
func (e *BaseEvent) Payload() interface{}             { return e.payload }
func (e *BaseEvent) Metadata() map[string]interface{} { return e.metadata }
func (e *BaseEvent) Timestamp() int64                 { return e.timestamp }
func (e *BaseEvent) Source() string                   { return e.sourceInfo }

// WithMetadata adds or updates metadata and returns the same event
func (e *BaseEvent) WithMetadata(key string, value interface{}) *BaseEvent {
	e.metadata[key] = value
	return e
}

// Emit publishes an event if bus is non-nil. Publishing failures never affect the caller.
func Emit(ctx context.Context, bus EventBus, eventType EventType, payload interface{}, source string, metadata map[string]interface{}) {
	if bus == nil {
		return
	}
	_ = bus.Publish(ctx, NewEvent(eventType, payload, source, metadata))
}
