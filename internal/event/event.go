// Package event defines the immutable domain event record and the
// append-only, optimistically-locked event store.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of a domain event, e.g. "OrderInitialized".
type Type string

// Event is an immutable fact. Version is the 1-based sequence number within
// its stream, assigned at commit time; no field is ever mutated afterwards.
type Event struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenantId"`
	StreamID  string          `json:"streamId"`
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data"`
	Version   uint64          `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Pending is an event under construction by an aggregate handler. The store
// stamps identity, stream position and time at commit.
type Pending struct {
	Type Type
	Data any
}

// EnvelopeKindDomainEvent marks durable queue messages carrying a committed
// domain event for relay.
const EnvelopeKindDomainEvent = "DOMAIN_EVENT"

// Envelope wraps a committed event for the durable queue.
type Envelope struct {
	Kind  string `json:"kind"`
	Event Event  `json:"event"`
}
