package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// DummyEvent implements Event for testing
type DummyEvent struct {
	typeStr   string
	data      interface{}
	timestamp time.Time
	source    string
}

func (e *DummyEvent) Type() string         { return e.typeStr }
func (e *DummyEvent) Data() interface{}    { return e.data }
func (e *DummyEvent) Timestamp() time.Time { return e.timestamp }
func (e *DummyEvent) Source() string       { return e.source }

func TestEventBus_SubscribePublish(t *testing.T) {
	bus := NewEventBus(nil)
	var called bool
	bus.Subscribe("test", func(ctx context.Context, event Event) error {
		called = true
		assert.Equal(t, "test", event.Type())
		return nil
	})
	err := bus.Publish(context.Background(), &DummyEvent{typeStr: "test", timestamp: time.Now()})
	assert.NoError(t, err)
	assert.True(t, called)
}

func TestEventBus_AsyncDeliversInPublishOrder(t *testing.T) {
	bus := NewEventBusWithConfig(&noopLogger{}, BusConfig{Async: true, QueueSize: 4})
	var got []string
	bus.Subscribe("async", func(ctx context.Context, event Event) error {
		got = append(got, event.Data().(string))
		return nil
	})
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		bus.PublishAndForget(context.Background(), NewBasicEvent("async", name))
	}
	bus.Close()
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, got)
}

func TestEventBus_AsyncIgnoresCallerCancellation(t *testing.T) {
	bus := NewEventBusWithConfig(nil, BusConfig{Async: true})
	var handlerErr error
	bus.Subscribe("async", func(ctx context.Context, event Event) error {
		handlerErr = ctx.Err()
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	bus.PublishAndForget(ctx, NewBasicEvent("async", nil))
	cancel()
	bus.Close()
	assert.NoError(t, handlerErr)
}

func TestEventBus_PublishAfterCloseIsDropped(t *testing.T) {
	bus := NewEventBusWithConfig(nil, BusConfig{Async: true})
	calls := 0
	bus.Subscribe("async", func(ctx context.Context, event Event) error {
		calls++
		return nil
	})
	bus.Close()
	bus.Close()
	bus.PublishAndForget(context.Background(), NewBasicEvent("async", nil))
	assert.ErrorIs(t, bus.enqueue(context.Background(), NewBasicEvent("async", nil)), ErrBusClosed)
	assert.Zero(t, calls)
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(nil)
	bus.Subscribe("ev", func(ctx context.Context, event Event) error { return nil })
	assert.Equal(t, 1, bus.GetSubscriberCount("ev"))
	bus.Unsubscribe("ev")
	assert.Equal(t, 0, bus.GetSubscriberCount("ev"))
}

func TestEventBus_GetEventTypes(t *testing.T) {
	bus := NewEventBus(nil)
	bus.Subscribe("a", func(ctx context.Context, event Event) error { return nil })
	bus.Subscribe("b", func(ctx context.Context, event Event) error { return nil })
	bus.Subscribe("a", func(ctx context.Context, event Event) error { return nil })
	assert.Equal(t, []string{"a", "b"}, bus.GetEventTypes())
}

func TestEventBus_PublishAndForgetSyncSwallowsErrors(t *testing.T) {
	bus := NewEventBusWithConfig(nil, BusConfig{MaxRetries: 0})
	called := false
	bus.Subscribe("forget", func(ctx context.Context, event Event) error {
		called = true
		return assert.AnError
	})
	bus.PublishAndForget(context.Background(), &DummyEvent{typeStr: "forget", timestamp: time.Now()})
	assert.True(t, called)
	bus.Close()
}

func TestEventBus_RetryStopsOnCancelledContext(t *testing.T) {
	bus := NewEventBusWithConfig(nil, BusConfig{MaxRetries: 5, RetryDelay: time.Hour})
	attempts := 0
	bus.Subscribe("retry", func(ctx context.Context, event Event) error {
		attempts++
		return assert.AnError
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := bus.Publish(ctx, NewBasicEvent("retry", nil))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestEventBus_SubscribeAllFileEvents(t *testing.T) {
	bus := NewEventBus(nil)
	var seen []string
	bus.SubscribeAll(FileEventTypes, func(ctx context.Context, event Event) error {
		seen = append(seen, event.Type())
		return nil
	})
	for _, et := range FileEventTypes {
		assert.Equal(t, 1, bus.GetSubscriberCount(et))
		assert.NoError(t, bus.Publish(context.Background(), NewBasicEventWithSource(et, nil, "test")))
	}
	assert.Equal(t, FileEventTypes, seen)
}

func TestEventBus_RetriesFailingHandler(t *testing.T) {
	bus := NewEventBusWithConfig(nil, BusConfig{MaxRetries: 2, RetryDelay: time.Millisecond})
	attempts := 0
	bus.Subscribe(EventTypeFileDeleted, func(ctx context.Context, event Event) error {
		attempts++
		if attempts < 3 {
			return assert.AnError
		}
		return nil
	})
	err := bus.Publish(context.Background(), NewBasicEvent(EventTypeFileDeleted, "id"))
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}
