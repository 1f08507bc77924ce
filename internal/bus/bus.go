// Package bus provides the in-process event bus and the outbox relay that
// feeds it from the durable queue.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/dagizoltan/zx-proto-sub001/internal/event"
)

// Handler consumes a published event. Handlers are invoked at least once
// and must be idempotent.
type Handler func(ctx context.Context, evt event.Event) error

// Bus fans events out to subscribers by event type. Subscriptions are wired
// once at startup; Publish may run concurrently.
type Bus struct {
	mu       sync.RWMutex
	handlers map[event.Type][]Handler
	logger   *slog.Logger
}

func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[event.Type][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event type.
func (b *Bus) Subscribe(t event.Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish invokes every subscriber for the event's type. A failing handler
// does not stop the others; the joined error is returned so the durable
// queue redelivers the event to all of them.
func (b *Bus) Publish(ctx context.Context, evt event.Event) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[evt.Type]...)
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, evt); err != nil {
			b.logger.Error("event handler failed",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"stream_id", evt.StreamID,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
