package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/taskmesh/engine/internal/logger"
)

// EventBus is the in-process Manager implementation: a buffered channel
// plus a dispatcher goroutine that fans each event out to its
// subscribers, each handler running in its own goroutine so a slow
// subscriber never blocks another.
type EventBus struct {
	handlers map[EventType][]Handler
	mu       sync.RWMutex
	events   chan Event
	cancel   context.CancelFunc
}

// NewEventBus returns an EventBus with a 1000-event backlog buffer.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
		events:   make(chan Event, 1000),
	}
}

// Subscribe registers handler for eventType. Matches the Manager
// interface's (ctx, eventType, handler) signature; ctx is accepted for
// interface parity with KafkaPublisher but unused by the in-process bus.
func (eb *EventBus) Subscribe(ctx context.Context, eventType EventType, handler Handler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
	return nil
}

// Publish enqueues event for dispatch. If the backlog is full the event
// is dropped and logged rather than blocking the publisher -- a full
// backlog means subscribers are falling behind, and a blocked scheduler
// goroutine is worse than a missed notification.
func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	select {
	case eb.events <- event:
		return nil
	default:
		logger.WithComponent("events").Warn("event bus full, dropping event",
			zap.String("event_id", event.ID), zap.String("type", string(event.Type)))
		return nil
	}
}

// Start launches the dispatcher goroutine. Call once during engine
// bootstrap.
func (eb *EventBus) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	eb.cancel = cancel
	go func() {
		for {
			select {
			case event := <-eb.events:
				eb.handleEvent(ctx, event)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops the dispatcher goroutine.
func (eb *EventBus) Close() error {
	if eb.cancel != nil {
		eb.cancel()
	}
	return nil
}

func (eb *EventBus) handleEvent(ctx context.Context, event Event) {
	eb.mu.RLock()
	handlers := eb.handlers[event.Type]
	eb.mu.RUnlock()

	for _, h := range handlers {
		go func(handler Handler) {
			if err := handler(ctx, event); err != nil {
				logger.WithComponent("events").Error("handler error",
					zap.String("event_id", event.ID), zap.Error(err))
			}
		}(h)
	}
}
