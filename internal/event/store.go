package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dagizoltan/zx-proto-sub001/internal/platform/kv"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/metrics"
	dErrors "github.com/dagizoltan/zx-proto-sub001/pkg/domain-errors"
)

// VersionAny skips the optimistic concurrency check on Append.
const VersionAny int64 = -1

// ErrConcurrency is returned when the stream moved past the expected
// version. Callers retry from fresh state; the store never retries itself.
var ErrConcurrency = dErrors.New(dErrors.CodeConflict, "event store: stream version mismatch")

// Store is the append-only event log. Each committed event is also enqueued
// on the durable work queue in the same transaction, so an event can never
// exist without its relay envelope.
type Store struct {
	kv      kv.Store
	metrics *metrics.Metrics
}

// StoreOption configures the Store.
type StoreOption func(*Store)

// WithMetrics wires commit and conflict counters.
func WithMetrics(m *metrics.Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

func NewStore(store kv.Store, opts ...StoreOption) *Store {
	s := &Store{kv: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func streamKey(tenantID, streamID string) kv.Key {
	return kv.Key{"events", tenantID, streamID}
}

func eventKey(tenantID, streamID string, version uint64) kv.Key {
	// Zero-padded so lexicographic key order equals version order.
	return streamKey(tenantID, streamID).Append(fmt.Sprintf("%020d", version))
}

func versionKey(tenantID, streamID string) kv.Key {
	return kv.Key{"streams", tenantID, streamID, "version"}
}

// Append commits the pending events to the stream, assigning consecutive
// versions starting at currentVersion+1. Pass VersionAny as expectedVersion
// to skip the optimistic check. The event writes, the version counter
// update and one queue envelope per event all commit atomically.
func (s *Store) Append(ctx context.Context, tenantID, streamID string, pending []Pending, expectedVersion int64) ([]Event, error) {
	if tenantID == "" || streamID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "event store: tenant and stream ids are required")
	}
	if len(pending) == 0 {
		return nil, nil
	}

	verKey := versionKey(tenantID, streamID)
	verEntry, err := s.kv.Get(ctx, verKey)
	if err != nil {
		return nil, err
	}
	var current uint64
	if verEntry.Exists() {
		if err := verEntry.Decode(&current); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "event store: decode stream version")
		}
	}

	if expectedVersion >= 0 && current != uint64(expectedVersion) {
		if s.metrics != nil {
			s.metrics.ConcurrencyConflicts.Inc()
		}
		return nil, dErrors.Wrap(ErrConcurrency, dErrors.CodeConflict,
			fmt.Sprintf("event store: expected version %d but found %d", expectedVersion, current))
	}

	now := time.Now().UTC()
	txn := s.kv.Atomic().Check(verKey, verEntry.Version)

	committed := make([]Event, 0, len(pending))
	next := current
	for _, p := range pending {
		next++
		data, err := json.Marshal(p.Data)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "event store: encode event data")
		}
		evt := Event{
			ID:        uuid.NewString(),
			TenantID:  tenantID,
			StreamID:  streamID,
			Type:      p.Type,
			Data:      data,
			Version:   next,
			Timestamp: now,
		}
		txn.Set(eventKey(tenantID, streamID, evt.Version), evt)
		txn.Enqueue(Envelope{Kind: EnvelopeKindDomainEvent, Event: evt})
		committed = append(committed, evt)
	}
	txn.Set(verKey, next)

	if err := txn.Commit(ctx); err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			if s.metrics != nil {
				s.metrics.ConcurrencyConflicts.Inc()
			}
			return nil, dErrors.Wrap(ErrConcurrency, dErrors.CodeConflict,
				"event store: commit lost optimistic race")
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.EventsCommitted.Add(float64(len(committed)))
	}
	return committed, nil
}

// ReadStream returns the stream's events with version > fromVersion, in
// version order. Pass 0 for the full history.
func (s *Store) ReadStream(ctx context.Context, tenantID, streamID string, fromVersion uint64) ([]Event, error) {
	entries, err := s.kv.List(ctx, streamKey(tenantID, streamID))
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(entries))
	for _, entry := range entries {
		var evt Event
		if err := entry.Decode(&evt); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "event store: decode event")
		}
		if evt.Version > fromVersion {
			events = append(events, evt)
		}
	}
	return events, nil
}

// ReadAll returns every event for the tenant grouped by stream, each stream
// in version order. There is no cross-stream ordering guarantee.
func (s *Store) ReadAll(ctx context.Context, tenantID string) ([]Event, error) {
	entries, err := s.kv.List(ctx, kv.Key{"events", tenantID})
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(entries))
	for _, entry := range entries {
		var evt Event
		if err := entry.Decode(&evt); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "event store: decode event")
		}
		events = append(events, evt)
	}
	return events, nil
}

// CurrentVersion returns the stream's committed version counter (0 when the
// stream does not exist).
func (s *Store) CurrentVersion(ctx context.Context, tenantID, streamID string) (uint64, error) {
	entry, err := s.kv.Get(ctx, versionKey(tenantID, streamID))
	if err != nil {
		return 0, err
	}
	if !entry.Exists() {
		return 0, nil
	}
	var current uint64
	if err := entry.Decode(&current); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "event store: decode stream version")
	}
	return current, nil
}
