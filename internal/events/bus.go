// Package events provides an in-process event bus for decoupling modules.
// Writers emit after commit; listeners enqueue background jobs in response.
package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// Handler processes a single event. Handlers must not block; long work
// belongs in the job queue.
type Handler func(Event)

// Bus is a synchronous in-process publish/subscribe bus
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	logger   zerolog.Logger
}

// NewBus creates a new event bus
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		logger:   logger.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for an event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Emit delivers an event to all subscribed handlers.
// Delivery is synchronous and in subscription order; a panicking handler
// is recovered and logged so one listener cannot take down the emitter.
func (b *Bus) Emit(eventType EventType, data interface{}) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[eventType]))
	copy(handlers, b.handlers[eventType])
	b.mu.RUnlock()

	evt := Event{Type: eventType, Data: data}
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error().
						Str("event", string(eventType)).
						Interface("panic", r).
						Msg("Event handler panicked")
				}
			}()
			h(evt)
		}()
	}
}
