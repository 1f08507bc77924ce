// Package view provides the shared projection machinery: idempotent,
// conditionally-committed read view updates keyed by (tenant, entity).
package view

import (
	"context"
	"time"

	"github.com/dagizoltan/zx-proto-sub001/internal/event"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/kv"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/metrics"
	dErrors "github.com/dagizoltan/zx-proto-sub001/pkg/domain-errors"
)

// DefaultProcessedTTL bounds how long per-event processed markers live.
// Rebuilding a view from the log clears both the view and its markers.
const DefaultProcessedTTL = 7 * 24 * time.Hour

// ErrNotFound is returned when a view document does not exist.
var ErrNotFound = dErrors.New(dErrors.CodeNotFound, "view: document not found")

func docKey(kind, tenantID, id string) kv.Key {
	return kv.Key{"view", kind, tenantID, id}
}

func processedKey(kind, eventID string) kv.Key {
	return kv.Key{"processed", kind, eventID}
}

// Applier applies events of one view kind with idempotency and optimistic
// commits. Projectors build on it.
type Applier[T any] struct {
	store        kv.Store
	kind         string
	processedTTL time.Duration
	metrics      *metrics.Metrics
}

// ApplierOption configures an Applier.
type ApplierOption[T any] func(*Applier[T])

// WithProcessedTTL overrides the processed-marker retention.
func WithProcessedTTL[T any](ttl time.Duration) ApplierOption[T] {
	return func(a *Applier[T]) {
		if ttl > 0 {
			a.processedTTL = ttl
		}
	}
}

// WithMetrics wires the projection conflict counter.
func WithMetrics[T any](m *metrics.Metrics) ApplierOption[T] {
	return func(a *Applier[T]) { a.metrics = m }
}

func NewApplier[T any](store kv.Store, kind string, opts ...ApplierOption[T]) *Applier[T] {
	a := &Applier[T]{store: store, kind: kind, processedTTL: DefaultProcessedTTL}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply loads the document for (tenant, id), skips when the event was
// already applied, computes the next document via update, and commits it
// conditionally against the previously-read version together with the
// processed marker. A lost race returns a conflict error; the relay's
// redelivery retries the whole event.
func (a *Applier[T]) Apply(ctx context.Context, evt event.Event, id string, update func(current T, exists bool) (T, error)) error {
	procKey := processedKey(a.kind, evt.ID)
	processed, err := a.store.Get(ctx, procKey)
	if err != nil {
		return err
	}
	if processed.Exists() {
		return nil
	}

	key := docKey(a.kind, evt.TenantID, id)
	entry, err := a.store.Get(ctx, key)
	if err != nil {
		return err
	}
	var current T
	if entry.Exists() {
		if err := entry.Decode(&current); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "view: decode document")
		}
	}

	next, err := update(current, entry.Exists())
	if err != nil {
		return err
	}

	err = a.store.Atomic().
		Check(key, entry.Version).
		Set(key, next).
		SetTTL(procKey, true, a.processedTTL).
		Commit(ctx)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) && a.metrics != nil {
			a.metrics.ProjectionConflicts.Inc()
		}
		return err
	}
	return nil
}

// Reset deletes every view document of the tenant, across all kinds,
// together with the processed markers for the given event ids. After a
// reset the next replay of the tenant's log rebuilds the documents from
// scratch instead of being skipped by live markers.
func Reset(ctx context.Context, store kv.Store, tenantID string, eventIDs map[string]struct{}) error {
	txn := store.Atomic()

	docs, err := store.List(ctx, kv.Key{"view"})
	if err != nil {
		return err
	}
	for _, doc := range docs {
		// Key layout: ("view", kind, tenant, id).
		if len(doc.Key) >= 3 && doc.Key[2] == tenantID {
			txn.Delete(doc.Key)
		}
	}

	markers, err := store.List(ctx, kv.Key{"processed"})
	if err != nil {
		return err
	}
	for _, m := range markers {
		if _, ok := eventIDs[m.Key[len(m.Key)-1]]; ok {
			txn.Delete(m.Key)
		}
	}

	return txn.Commit(ctx)
}

// Repository reads view documents of one kind.
type Repository[T any] struct {
	store kv.Store
	kind  string
}

func NewRepository[T any](store kv.Store, kind string) *Repository[T] {
	return &Repository[T]{store: store, kind: kind}
}

// FindByID returns the document for (tenant, id), or ErrNotFound.
func (r *Repository[T]) FindByID(ctx context.Context, tenantID, id string) (T, error) {
	var doc T
	entry, err := r.store.Get(ctx, docKey(r.kind, tenantID, id))
	if err != nil {
		return doc, err
	}
	if !entry.Exists() {
		return doc, ErrNotFound
	}
	if err := entry.Decode(&doc); err != nil {
		return doc, dErrors.Wrap(err, dErrors.CodeInternal, "view: decode document")
	}
	return doc, nil
}

// List returns every document for the tenant in key order.
func (r *Repository[T]) List(ctx context.Context, tenantID string) ([]T, error) {
	entries, err := r.store.List(ctx, kv.Key{"view", r.kind, tenantID})
	if err != nil {
		return nil, err
	}
	docs := make([]T, 0, len(entries))
	for _, entry := range entries {
		var doc T
		if err := entry.Decode(&doc); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "view: decode document")
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
