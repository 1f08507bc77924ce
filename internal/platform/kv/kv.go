// Package kv provides the durable key-value substrate for the platform:
// versioned reads, atomic multi-key transactions with optimistic checks,
// and a durable FIFO work queue with at-least-once delivery.
package kv

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	dErrors "github.com/dagizoltan/zx-proto-sub001/pkg/domain-errors"
)

// ErrVersionConflict is returned by Txn.Commit when a Check no longer
// matches the stored version. Nothing from the transaction is applied.
var ErrVersionConflict = dErrors.New(dErrors.CodeConflict, "kv: version check failed")

// keySep separates key parts in the encoded form. Parts must not contain it.
const keySep = "\x00"

// Key is a hierarchical key path, e.g. {"events", tenantID, streamID, "3"}.
type Key []string

// Append returns a new key with the given parts appended.
func (k Key) Append(parts ...string) Key {
	out := make(Key, 0, len(k)+len(parts))
	out = append(out, k...)
	return append(out, parts...)
}

// Encode renders the key into its stored byte form. Lexicographic order of
// encoded keys matches component-wise order of the parts.
func (k Key) Encode() []byte {
	return []byte(strings.Join(k, keySep))
}

// DecodeKey reverses Encode.
func DecodeKey(b []byte) Key {
	return Key(strings.Split(string(b), keySep))
}

// Entry is a versioned record. Version 0 means the key is absent; every
// successful write bumps the version, which serves as the compare-and-swap
// token for Txn.Check.
type Entry struct {
	Key     Key
	Value   json.RawMessage
	Version uint64
}

// Exists reports whether the entry holds a live record.
func (e Entry) Exists() bool { return e.Version != 0 }

// Decode unmarshals the entry value into v.
func (e Entry) Decode(v any) error {
	return json.Unmarshal(e.Value, v)
}

// Txn accumulates mutations applied atomically on Commit. A failed Check
// aborts the whole transaction with ErrVersionConflict.
type Txn interface {
	// Check asserts the key still has the given version at commit time.
	// Use version 0 to assert absence.
	Check(key Key, version uint64) Txn
	// Set writes the JSON encoding of value under key.
	Set(key Key, value any) Txn
	// SetTTL writes value under key with an expiry; expired keys read as absent.
	SetTTL(key Key, value any, ttl time.Duration) Txn
	// Delete removes the key.
	Delete(key Key) Txn
	// Enqueue appends the JSON encoding of msg to the durable work queue.
	Enqueue(msg any) Txn
	// Commit applies every mutation and enqueue atomically, or none of them.
	Commit(ctx context.Context) error
}

// Store is the durable backend shared by the event store, read views,
// saga markers and the stock ledger.
type Store interface {
	Get(ctx context.Context, key Key) (Entry, error)
	// List returns all live entries strictly under prefix, in key order.
	List(ctx context.Context, prefix Key) ([]Entry, error)
	Atomic() Txn
	// Listen consumes the durable queue in FIFO order, calling fn for each
	// message. A message is removed only after fn returns nil; failures are
	// redelivered with attempt-scaled backoff. Blocks until ctx is done.
	Listen(ctx context.Context, fn func(ctx context.Context, msg []byte) error) error
	// SweepExpired removes expired TTL records, returning how many were purged.
	SweepExpired(ctx context.Context) (int, error)
	Close() error
}

// record is the stored representation of a key's value plus its CAS token.
type record struct {
	Value     json.RawMessage `json:"value"`
	Version   uint64          `json:"version"`
	ExpiresAt int64           `json:"expires_at,omitempty"` // unix nanos, 0 = no expiry
}

func (r record) expired(now time.Time) bool {
	return r.ExpiresAt != 0 && now.UnixNano() >= r.ExpiresAt
}

// op is one pending transaction mutation.
type op struct {
	kind    opKind
	key     Key
	value   json.RawMessage
	version uint64 // for checks
	ttl     time.Duration
}

type opKind int

const (
	opCheck opKind = iota
	opSet
	opDelete
	opEnqueue
)

func marshalOp(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "kv: encode value")
	}
	return b, nil
}
