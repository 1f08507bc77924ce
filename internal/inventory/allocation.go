package inventory

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dagizoltan/zx-proto-sub001/internal/platform/kv"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/metrics"
	dErrors "github.com/dagizoltan/zx-proto-sub001/pkg/domain-errors"
)

// Movement types recorded in the ledger.
const (
	MovementInbound     = "INBOUND"
	MovementAllocation  = "ALLOCATION"
	MovementOutbound    = "OUTBOUND"
	MovementReleased    = "RELEASED"
	MovementTransfer    = "TRANSFER"
	MovementConsumption = "CONSUMPTION"
	MovementProduction  = "PRODUCTION"
)

// maxAttempts bounds the read-compute-write retry loop under contention.
const maxAttempts = 5

// StockEntry is one (product, location, batch) bucket in the stock ledger.
// Available quantity is Quantity - ReservedQuantity, never negative.
type StockEntry struct {
	ProductID        string    `json:"productId"`
	LocationID       string    `json:"locationId"`
	BatchID          string    `json:"batchId"`
	Quantity         int       `json:"quantity"`
	ReservedQuantity int       `json:"reservedQuantity"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Available returns the unreserved quantity of the bucket.
func (e StockEntry) Available() int { return e.Quantity - e.ReservedQuantity }

// Movement is one ledger entry recorded alongside every stock mutation,
// grouped under the reference id that caused it.
type Movement struct {
	ID             string    `json:"id"`
	ProductID      string    `json:"productId"`
	Quantity       int       `json:"quantity"`
	Type           string    `json:"type"`
	FromLocationID string    `json:"fromLocationId,omitempty"`
	ToLocationID   string    `json:"toLocationId,omitempty"`
	BatchID        string    `json:"batchId,omitempty"`
	ReferenceID    string    `json:"referenceId"`
	Timestamp      time.Time `json:"timestamp"`
}

// AllocationRequest asks for a quantity of one product.
type AllocationRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// ProductionRequest consumes raw-material buckets and produces finished
// goods in a single atomic transaction.
type ProductionRequest struct {
	ReferenceID    string              `json:"referenceId"`
	RawMaterials   []AllocationRequest `json:"rawMaterials"`
	OutputProduct  string              `json:"outputProduct"`
	OutputLocation string              `json:"outputLocation"`
	OutputBatch    string              `json:"outputBatch"`
	OutputQuantity int                 `json:"outputQuantity"`
}

// AllocationService mutates the stock ledger directly: synchronous
// multi-item reservation, commit, release, transfer and production. It is
// not event-sourced but follows the same optimistic concurrency discipline
// as everything else on the store.
type AllocationService struct {
	store   kv.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// AllocationOption configures the service.
type AllocationOption func(*AllocationService)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) AllocationOption {
	return func(s *AllocationService) { s.logger = l }
}

// WithMetrics wires the allocation retry counter.
func WithMetrics(m *metrics.Metrics) AllocationOption {
	return func(s *AllocationService) { s.metrics = m }
}

func NewAllocationService(store kv.Store, opts ...AllocationOption) *AllocationService {
	s := &AllocationService{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func stockKey(tenantID, productID, locationID, batchID string) kv.Key {
	return kv.Key{"tenants", tenantID, "stock", productID, locationID, batchID}
}

func movementKey(tenantID, referenceID, movementID string) kv.Key {
	return kv.Key{"tenants", tenantID, "movements", referenceID, movementID}
}

// entryRec pairs a decoded stock entry with its version token.
type entryRec struct {
	entry   StockEntry
	version uint64
}

func (s *AllocationService) loadEntries(ctx context.Context, tenantID, productID string) ([]entryRec, error) {
	raw, err := s.store.List(ctx, kv.Key{"tenants", tenantID, "stock", productID})
	if err != nil {
		return nil, err
	}
	recs := make([]entryRec, 0, len(raw))
	for _, e := range raw {
		var entry StockEntry
		if err := e.Decode(&entry); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "allocation: decode stock entry")
		}
		recs = append(recs, entryRec{entry: entry, version: e.Version})
	}
	return recs, nil
}

// withRetry runs op until it succeeds or fails with a non-conflict error.
// A lost optimistic race restarts the whole read-compute-write cycle with
// randomized backoff scaled by the attempt number; after maxAttempts the
// caller gets a timeout error.
func (s *AllocationService) withRetry(ctx context.Context, name string, op func(ctx context.Context) error) error {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := op(ctx)
		if err == nil || !dErrors.HasCode(err, dErrors.CodeConflict) {
			return err
		}
		if s.metrics != nil {
			s.metrics.AllocationRetries.Inc()
		}
		s.logger.Debug("allocation conflict, retrying", "op", name, "attempt", attempt)
		if attempt < maxAttempts {
			time.Sleep(backoff(attempt))
		}
	}
	return dErrors.New(dErrors.CodeTimeout, "allocation: "+name+" retries exhausted")
}

func backoff(attempt int) time.Duration {
	base := time.Duration(attempt) * 25 * time.Millisecond
	return 5*time.Millisecond + time.Duration(rand.Int63n(int64(base)))
}

// mergeByProduct folds duplicate product lines into a single request per
// product, keeping first-seen order. Each product must be read and
// version-checked exactly once per attempt: a second line for the same
// product would stage a Set over the same key and silently drop the first
// line's reservation while still recording both movements.
func mergeByProduct(items []AllocationRequest) []AllocationRequest {
	idx := make(map[string]int, len(items))
	merged := make([]AllocationRequest, 0, len(items))
	for _, item := range items {
		if i, ok := idx[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		idx[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged
}

// Allocate reserves stock for every requested item, all-or-nothing across
// the batch. Per product, buckets are consumed largest-available-first. An
// ALLOCATION movement is recorded per touched bucket, in the same
// transaction as the reservation writes.
func (s *AllocationService) Allocate(ctx context.Context, tenantID string, items []AllocationRequest, referenceID string) error {
	return s.withRetry(ctx, "allocate", func(ctx context.Context) error {
		txn := s.store.Atomic()
		now := time.Now().UTC()

		for _, item := range mergeByProduct(items) {
			recs, err := s.loadEntries(ctx, tenantID, item.ProductID)
			if err != nil {
				return err
			}

			available := make([]entryRec, 0, len(recs))
			total := 0
			for _, r := range recs {
				if r.entry.Available() > 0 {
					available = append(available, r)
					total += r.entry.Available()
				}
			}
			if total < item.Quantity {
				return dErrors.New(dErrors.CodeInsufficientStock,
					"insufficient stock for product "+item.ProductID)
			}

			// Largest available bucket first.
			sort.Slice(available, func(i, j int) bool {
				return available[i].entry.Available() > available[j].entry.Available()
			})

			remaining := item.Quantity
			for _, r := range available {
				if remaining <= 0 {
					break
				}
				take := min(r.entry.Available(), remaining)
				updated := r.entry
				updated.ReservedQuantity += take
				updated.UpdatedAt = now

				key := stockKey(tenantID, updated.ProductID, updated.LocationID, updated.BatchID)
				txn.Check(key, r.version).Set(key, updated)

				movementID := uuid.NewString()
				txn.Set(movementKey(tenantID, referenceID, movementID), Movement{
					ID:             movementID,
					ProductID:      updated.ProductID,
					Quantity:       take,
					Type:           MovementAllocation,
					FromLocationID: updated.LocationID,
					BatchID:        updated.BatchID,
					ReferenceID:    referenceID,
					Timestamp:      now,
				})
				remaining -= take
			}
		}
		return txn.Commit(ctx)
	})
}

// Commit finalizes the reservation held under referenceID: every
// ALLOCATION movement becomes an OUTBOUND movement and the stock leaves
// both Quantity and ReservedQuantity.
func (s *AllocationService) Commit(ctx context.Context, tenantID, referenceID string) error {
	return s.withRetry(ctx, "commit", func(ctx context.Context) error {
		return s.settle(ctx, tenantID, referenceID, MovementOutbound, true)
	})
}

// Release reverses the reservation held under referenceID without moving
// stock: only ReservedQuantity is restored.
func (s *AllocationService) Release(ctx context.Context, tenantID, referenceID string) error {
	return s.withRetry(ctx, "release", func(ctx context.Context) error {
		return s.settle(ctx, tenantID, referenceID, MovementReleased, false)
	})
}

// settle converts ALLOCATION movements under referenceID into the given
// terminal type. When consume is set the quantity leaves the bucket,
// otherwise only the reservation is undone.
func (s *AllocationService) settle(ctx context.Context, tenantID, referenceID, settledType string, consume bool) error {
	raw, err := s.store.List(ctx, kv.Key{"tenants", tenantID, "movements", referenceID})
	if err != nil {
		return err
	}

	txn := s.store.Atomic()
	now := time.Now().UTC()
	touched := 0

	for _, rec := range raw {
		var mv Movement
		if err := rec.Decode(&mv); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "allocation: decode movement")
		}
		if mv.Type != MovementAllocation {
			continue
		}

		key := stockKey(tenantID, mv.ProductID, mv.FromLocationID, mv.BatchID)
		entryRaw, err := s.store.Get(ctx, key)
		if err != nil {
			return err
		}
		if !entryRaw.Exists() {
			return dErrors.New(dErrors.CodeNotFound, "allocation: stock entry missing for movement "+mv.ID)
		}
		var entry StockEntry
		if err := entryRaw.Decode(&entry); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "allocation: decode stock entry")
		}

		entry.ReservedQuantity -= mv.Quantity
		if consume {
			entry.Quantity -= mv.Quantity
		}
		entry.UpdatedAt = now

		mv.Type = settledType
		mv.Timestamp = now

		txn.Check(key, entryRaw.Version).
			Set(key, entry).
			Set(movementKey(tenantID, referenceID, mv.ID), mv)
		touched++
	}

	if touched == 0 {
		// Nothing allocated under this reference, or already settled.
		return nil
	}
	return txn.Commit(ctx)
}

// Receive adds stock to a (location, batch) bucket and records an INBOUND
// movement.
func (s *AllocationService) Receive(ctx context.Context, tenantID, productID, locationID, batchID string, quantity int, referenceID string) error {
	if quantity <= 0 {
		return dErrors.New(dErrors.CodeValidation, "quantity must be positive")
	}
	if batchID == "" {
		batchID = DefaultBatchID
	}
	return s.withRetry(ctx, "receive", func(ctx context.Context) error {
		key := stockKey(tenantID, productID, locationID, batchID)
		raw, err := s.store.Get(ctx, key)
		if err != nil {
			return err
		}
		entry := StockEntry{ProductID: productID, LocationID: locationID, BatchID: batchID}
		if raw.Exists() {
			if err := raw.Decode(&entry); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "allocation: decode stock entry")
			}
		}
		now := time.Now().UTC()
		entry.Quantity += quantity
		entry.UpdatedAt = now

		movementID := uuid.NewString()
		return s.store.Atomic().
			Check(key, raw.Version).
			Set(key, entry).
			Set(movementKey(tenantID, referenceID, movementID), Movement{
				ID:           movementID,
				ProductID:    productID,
				Quantity:     quantity,
				Type:         MovementInbound,
				ToLocationID: locationID,
				BatchID:      batchID,
				ReferenceID:  referenceID,
				Timestamp:    now,
			}).
			Commit(ctx)
	})
}

// Move transfers unreserved stock between two buckets of the same product
// in one transaction, recording a TRANSFER movement.
func (s *AllocationService) Move(ctx context.Context, tenantID, productID, fromLocation, fromBatch, toLocation, toBatch string, quantity int, referenceID string) error {
	if quantity <= 0 {
		return dErrors.New(dErrors.CodeValidation, "quantity must be positive")
	}
	return s.withRetry(ctx, "move", func(ctx context.Context) error {
		fromKey := stockKey(tenantID, productID, fromLocation, fromBatch)
		fromRaw, err := s.store.Get(ctx, fromKey)
		if err != nil {
			return err
		}
		if !fromRaw.Exists() {
			return dErrors.New(dErrors.CodeNotFound, "allocation: no stock at "+fromLocation+":"+fromBatch)
		}
		var from StockEntry
		if err := fromRaw.Decode(&from); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "allocation: decode stock entry")
		}
		if from.Available() < quantity {
			return dErrors.New(dErrors.CodeInsufficientStock,
				"insufficient unreserved stock at "+fromLocation+":"+fromBatch)
		}

		toKey := stockKey(tenantID, productID, toLocation, toBatch)
		toRaw, err := s.store.Get(ctx, toKey)
		if err != nil {
			return err
		}
		to := StockEntry{ProductID: productID, LocationID: toLocation, BatchID: toBatch}
		if toRaw.Exists() {
			if err := toRaw.Decode(&to); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "allocation: decode stock entry")
			}
		}

		now := time.Now().UTC()
		from.Quantity -= quantity
		from.UpdatedAt = now
		to.Quantity += quantity
		to.UpdatedAt = now

		movementID := uuid.NewString()
		return s.store.Atomic().
			Check(fromKey, fromRaw.Version).
			Check(toKey, toRaw.Version).
			Set(fromKey, from).
			Set(toKey, to).
			Set(movementKey(tenantID, referenceID, movementID), Movement{
				ID:             movementID,
				ProductID:      productID,
				Quantity:       quantity,
				Type:           MovementTransfer,
				FromLocationID: fromLocation,
				ToLocationID:   toLocation,
				BatchID:        toBatch,
				ReferenceID:    referenceID,
				Timestamp:      now,
			}).
			Commit(ctx)
	})
}

// ExecuteProduction consumes raw-material buckets and produces the
// finished-good bucket in one atomic transaction. If any raw material is
// short the whole production aborts.
func (s *AllocationService) ExecuteProduction(ctx context.Context, tenantID string, req ProductionRequest) error {
	if req.OutputQuantity <= 0 {
		return dErrors.New(dErrors.CodeValidation, "output quantity must be positive")
	}
	return s.withRetry(ctx, "produce", func(ctx context.Context) error {
		txn := s.store.Atomic()
		now := time.Now().UTC()

		for _, mat := range mergeByProduct(req.RawMaterials) {
			recs, err := s.loadEntries(ctx, tenantID, mat.ProductID)
			if err != nil {
				return err
			}

			available := make([]entryRec, 0, len(recs))
			total := 0
			for _, r := range recs {
				if r.entry.Available() > 0 {
					available = append(available, r)
					total += r.entry.Available()
				}
			}
			if total < mat.Quantity {
				return dErrors.New(dErrors.CodeInsufficientStock,
					"insufficient raw material "+mat.ProductID)
			}
			sort.Slice(available, func(i, j int) bool {
				return available[i].entry.Available() > available[j].entry.Available()
			})

			remaining := mat.Quantity
			for _, r := range available {
				if remaining <= 0 {
					break
				}
				take := min(r.entry.Available(), remaining)
				updated := r.entry
				updated.Quantity -= take
				updated.UpdatedAt = now

				key := stockKey(tenantID, updated.ProductID, updated.LocationID, updated.BatchID)
				txn.Check(key, r.version).Set(key, updated)

				movementID := uuid.NewString()
				txn.Set(movementKey(tenantID, req.ReferenceID, movementID), Movement{
					ID:             movementID,
					ProductID:      updated.ProductID,
					Quantity:       take,
					Type:           MovementConsumption,
					FromLocationID: updated.LocationID,
					BatchID:        updated.BatchID,
					ReferenceID:    req.ReferenceID,
					Timestamp:      now,
				})
				remaining -= take
			}
		}

		outKey := stockKey(tenantID, req.OutputProduct, req.OutputLocation, req.OutputBatch)
		outRaw, err := s.store.Get(ctx, outKey)
		if err != nil {
			return err
		}
		out := StockEntry{ProductID: req.OutputProduct, LocationID: req.OutputLocation, BatchID: req.OutputBatch}
		if outRaw.Exists() {
			if err := outRaw.Decode(&out); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "allocation: decode stock entry")
			}
		}
		out.Quantity += req.OutputQuantity
		out.UpdatedAt = now

		movementID := uuid.NewString()
		txn.Check(outKey, outRaw.Version).
			Set(outKey, out).
			Set(movementKey(tenantID, req.ReferenceID, movementID), Movement{
				ID:           movementID,
				ProductID:    req.OutputProduct,
				Quantity:     req.OutputQuantity,
				Type:         MovementProduction,
				ToLocationID: req.OutputLocation,
				BatchID:      req.OutputBatch,
				ReferenceID:  req.ReferenceID,
				Timestamp:    now,
			})

		return txn.Commit(ctx)
	})
}

// Entries returns the ledger buckets for one product.
func (s *AllocationService) Entries(ctx context.Context, tenantID, productID string) ([]StockEntry, error) {
	recs, err := s.loadEntries(ctx, tenantID, productID)
	if err != nil {
		return nil, err
	}
	entries := make([]StockEntry, 0, len(recs))
	for _, r := range recs {
		entries = append(entries, r.entry)
	}
	return entries, nil
}

// Movements returns every movement recorded under a reference id.
func (s *AllocationService) Movements(ctx context.Context, tenantID, referenceID string) ([]Movement, error) {
	raw, err := s.store.List(ctx, kv.Key{"tenants", tenantID, "movements", referenceID})
	if err != nil {
		return nil, err
	}
	out := make([]Movement, 0, len(raw))
	for _, rec := range raw {
		var mv Movement
		if err := rec.Decode(&mv); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "allocation: decode movement")
		}
		out = append(out, mv)
	}
	return out, nil
}
