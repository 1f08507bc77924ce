// Package saga provides the per-event idempotency markers process managers
// use to survive at-least-once redelivery without issuing duplicate
// downstream commands.
package saga

import (
	"context"
	"time"

	"github.com/dagizoltan/zx-proto-sub001/internal/event"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/kv"
)

// DefaultMarkerTTL bounds marker retention; after expiry a redelivered
// event would be handled again, which downstream idempotency absorbs.
const DefaultMarkerTTL = 24 * time.Hour

// Markers records (saga, eventID, eventType) tuples with a TTL.
//
// The check-then-act around Mark is not transactional with the downstream
// command dispatch: a crash between marking and dispatch can drop a saga
// step. That window is an accepted limitation of the design.
type Markers struct {
	store kv.Store
	name  string
	ttl   time.Duration
}

func NewMarkers(store kv.Store, name string, ttl time.Duration) *Markers {
	if ttl <= 0 {
		ttl = DefaultMarkerTTL
	}
	return &Markers{store: store, name: name, ttl: ttl}
}

func (m *Markers) key(eventID string, eventType event.Type) kv.Key {
	return kv.Key{"saga", m.name, eventID, string(eventType)}
}

// Processed reports whether the event was already handled by this saga.
func (m *Markers) Processed(ctx context.Context, eventID string, eventType event.Type) (bool, error) {
	entry, err := m.store.Get(ctx, m.key(eventID, eventType))
	if err != nil {
		return false, err
	}
	return entry.Exists(), nil
}

// Mark records the event as handled.
func (m *Markers) Mark(ctx context.Context, eventID string, eventType event.Type) error {
	return m.store.Atomic().
		SetTTL(m.key(eventID, eventType), true, m.ttl).
		Commit(ctx)
}
