package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Mux fans an outbox entry out to every handler registered for its type.
// Handlers must be idempotent: a failure in one redelivers the entry to all.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string][]DeliveryHandler
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[string][]DeliveryHandler)}
}

// Register subscribes h to the given event types.
func (m *Mux) Register(h DeliveryHandler, eventTypes ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range eventTypes {
		m.handlers[t] = append(m.handlers[t], h)
	}
}

// Handle implements DeliveryHandler. Entries without subscribers are acknowledged.
func (m *Mux) Handle(ctx context.Context, entry OutboxEntry) error {
	m.mu.RLock()
	handlers := append([]DeliveryHandler(nil), m.handlers[entry.EventType]...)
	m.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h.Handle(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("events: deliver %s: %w", entry.EventType, errors.Join(errs...))
	}
	return nil
}
