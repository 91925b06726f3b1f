package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gridfs-store/internal/shared/logger"
)

// ErrBusClosed is returned when an event is queued after Close
var ErrBusClosed = errors.New("event bus is closed")

// Event represents a generic event
type Event interface {
	Type() string
	Data() interface{}
	Timestamp() time.Time
	Source() string
}

// Handler defines the event handler function type
type Handler func(ctx context.Context, event Event) error

// EventBusInterface is what publishers see of the bus
type EventBusInterface interface {
	Subscribe(eventType string, handler Handler)
	Publish(ctx context.Context, event Event) error
	PublishAndForget(ctx context.Context, event Event)
	Unsubscribe(eventType string)
	GetSubscriberCount(eventType string) int
	GetEventTypes() []string
}

// BusConfig holds configuration for the event bus
type BusConfig struct {
	// Async makes PublishAndForget hand events to a single dispatcher goroutine.
	// Handlers then run in publish order, off the caller's goroutine.
	Async bool
	// QueueSize bounds the dispatcher queue; PublishAndForget waits while it is full
	QueueSize  int
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultBusConfig returns default configuration
func DefaultBusConfig() BusConfig {
	return BusConfig{
		QueueSize:  256,
		MaxRetries: 3,
		RetryDelay: 100 * time.Millisecond,
	}
}

type queuedEvent struct {
	ctx   context.Context
	event Event
}

// EventBus is an in-process bus. Publish delivers on the caller's goroutine;
// PublishAndForget goes through the dispatcher when Async is set.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   logger.Logger
	config   BusConfig

	// qmu guards closed and sends on queue. It is separate from mu so the
	// dispatcher can keep reading handlers while a sender waits on a full queue.
	qmu     sync.RWMutex
	closed  bool
	queue   chan queuedEvent
	drained chan struct{}
}

// NewEventBus creates a synchronous event bus
func NewEventBus(log logger.Logger) *EventBus {
	return NewEventBusWithConfig(log, DefaultBusConfig())
}

// NewEventBusWithConfig creates an event bus, starting the dispatcher when config.Async is set
func NewEventBusWithConfig(log logger.Logger, config BusConfig) *EventBus {
	if log == nil {
		log = &noopLogger{}
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	eb := &EventBus{
		handlers: make(map[string][]Handler),
		logger:   log,
		config:   config,
	}
	if config.Async {
		if config.QueueSize <= 0 {
			config.QueueSize = DefaultBusConfig().QueueSize
			eb.config.QueueSize = config.QueueSize
		}
		eb.queue = make(chan queuedEvent, config.QueueSize)
		eb.drained = make(chan struct{})
		go eb.dispatch()
	}
	return eb
}

// Subscribe adds a handler for a specific event type
func (eb *EventBus) Subscribe(eventType string, handler Handler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
	eb.logger.Debugf("Subscribed handler for event type: %s", eventType)
}

// SubscribeAll registers handler for each of the given event types
func (eb *EventBus) SubscribeAll(eventTypes []string, handler Handler) {
	for _, eventType := range eventTypes {
		eb.Subscribe(eventType, handler)
	}
}

// Publish runs every handler of the event's type in subscription order.
// The first handler that still fails after its retries stops delivery.
func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	eb.mu.RLock()
	handlers := eb.handlers[event.Type()]
	eb.mu.RUnlock()

	if len(handlers) == 0 {
		eb.logger.Debugf("No handlers found for event type: %s", event.Type())
		return nil
	}

	for i, handler := range handlers {
		if err := eb.deliver(ctx, event, handler, i); err != nil {
			return err
		}
	}
	return nil
}

func (eb *EventBus) deliver(ctx context.Context, event Event, handler Handler, idx int) error {
	var err error
	for attempt := 0; attempt <= eb.config.MaxRetries; attempt++ {
		if attempt > 0 {
			eb.logger.Warnf("Retrying handler %d for %s (attempt %d/%d)", idx, event.Type(), attempt+1, eb.config.MaxRetries+1)
			select {
			case <-ctx.Done():
				return fmt.Errorf("handler %d for %s: %w", idx, event.Type(), ctx.Err())
			case <-time.After(eb.config.RetryDelay):
			}
		}
		if err = handler(ctx, event); err == nil {
			return nil
		}
		eb.logger.Errorf("Handler %d failed for event %s: %v", idx, event.Type(), err)
	}
	return fmt.Errorf("handler failed after %d attempts: %w", eb.config.MaxRetries+1, err)
}

// PublishAndForget delivers event without reporting handler errors to the caller.
// With Async the event is queued and ctx cancellation no longer reaches the handlers.
func (eb *EventBus) PublishAndForget(ctx context.Context, event Event) {
	if !eb.config.Async {
		if err := eb.Publish(ctx, event); err != nil {
			eb.logger.Errorf("Failed to publish event %s: %v", event.Type(), err)
		}
		return
	}
	if err := eb.enqueue(ctx, event); err != nil {
		eb.logger.Errorf("Dropped event %s: %v", event.Type(), err)
	}
}

func (eb *EventBus) enqueue(ctx context.Context, event Event) error {
	eb.qmu.RLock()
	defer eb.qmu.RUnlock()
	if eb.closed {
		return ErrBusClosed
	}
	q := queuedEvent{ctx: context.WithoutCancel(ctx), event: event}
	select {
	case eb.queue <- q:
		return nil
	default:
	}
	select {
	case eb.queue <- q:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (eb *EventBus) dispatch() {
	defer close(eb.drained)
	for q := range eb.queue {
		if err := eb.Publish(q.ctx, q.event); err != nil {
			eb.logger.Errorf("Failed to publish event %s: %v", q.event.Type(), err)
		}
	}
}

// Close stops accepting queued events and waits until the queued ones are delivered.
// It is a no-op for a synchronous bus.
func (eb *EventBus) Close() {
	if eb.queue == nil {
		return
	}
	eb.qmu.Lock()
	if !eb.closed {
		eb.closed = true
		close(eb.queue)
	}
	eb.qmu.Unlock()
	<-eb.drained
}

// Unsubscribe removes all handlers for a specific event type
func (eb *EventBus) Unsubscribe(eventType string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	delete(eb.handlers, eventType)
	eb.logger.Debugf("Unsubscribed all handlers for event type: %s", eventType)
}

// GetSubscriberCount returns the number of handlers for an event type
func (eb *EventBus) GetSubscriberCount(eventType string) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}

// GetEventTypes returns the subscribed event types, sorted
func (eb *EventBus) GetEventTypes() []string {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	types := make([]string, 0, len(eb.handlers))
	for eventType := range eb.handlers {
		types = append(types, eventType)
	}
	sort.Strings(types)
	return types
}

// BasicEvent implements the Event interface
type BasicEvent struct {
	eventType string
	data      interface{}
	timestamp time.Time
	source    string
}

// NewBasicEvent creates an event with an unknown source
func NewBasicEvent(eventType string, data interface{}) Event {
	return NewBasicEventWithSource(eventType, data, "unknown")
}

// NewBasicEventWithSource creates a new basic event with source
func NewBasicEventWithSource(eventType string, data interface{}, source string) Event {
	return &BasicEvent{
		eventType: eventType,
		data:      data,
		timestamp: time.Now(),
		source:    source,
	}
}

func (e *BasicEvent) Type() string         { return e.eventType }
func (e *BasicEvent) Data() interface{}    { return e.data }
func (e *BasicEvent) Timestamp() time.Time { return e.timestamp }
func (e *BasicEvent) Source() string       { return e.source }

// Event types published by the file service
const (
	EventTypeFileCreated   = "file.created"
	EventTypeFileDeleted   = "file.deleted"
	EventTypeFilesRemoved  = "files.removed"
	EventTypeBucketDropped = "bucket.dropped"
)

// FileEventTypes lists every event type a file watcher should subscribe to
var FileEventTypes = []string{
	EventTypeFileCreated,
	EventTypeFileDeleted,
	EventTypeFilesRemoved,
	EventTypeBucketDropped,
}

type noopLogger struct{}

func (n *noopLogger) Debug(args ...interface{})                              {}
func (n *noopLogger) Info(args ...interface{})                               {}
func (n *noopLogger) Warn(args ...interface{})                               {}
func (n *noopLogger) Error(args ...interface{})                              {}
func (n *noopLogger) Fatal(args ...interface{})                              {}
func (n *noopLogger) Debugf(format string, args ...interface{})              {}
func (n *noopLogger) Infof(format string, args ...interface{})               {}
func (n *noopLogger) Warnf(format string, args ...interface{})               {}
func (n *noopLogger) Errorf(format string, args ...interface{})              {}
func (n *noopLogger) Fatalf(format string, args ...interface{})              {}
func (n *noopLogger) WithFields(fields map[string]interface{}) logger.Logger { return n }
func (n *noopLogger) WithContext(ctx context.Context) logger.Logger          { return n }
func (n *noopLogger) WithComponent(component string) logger.Logger           { return n }
