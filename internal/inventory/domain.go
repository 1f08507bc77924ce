// Package inventory is the inventory bounded context: the event-sourced
// per-product stock aggregate, its projector, and the synchronous stock
// allocation service over the ledger.
package inventory

import (
	"context"
	"sort"
	"time"

	"github.com/dagizoltan/zx-proto-sub001/internal/command"
	"github.com/dagizoltan/zx-proto-sub001/internal/event"
	dErrors "github.com/dagizoltan/zx-proto-sub001/pkg/domain-errors"
)

// Events.
const (
	EventStockReceived         event.Type = "StockReceived"
	EventStockReserved         event.Type = "StockReserved"
	EventStockReleased         event.Type = "StockReleased"
	EventStockShipped          event.Type = "StockShipped"
	EventStockAllocationFailed event.Type = "StockAllocationFailed"
)

// Commands. The aggregate id is the product id.
const (
	CmdReceiveStock command.Type = "ReceiveStock"
	CmdReserveStock command.Type = "ReserveStock"
	CmdReleaseStock command.Type = "ReleaseStock"
	CmdShipStock    command.Type = "ShipStock"
)

// ReasonInsufficientStock is recorded on StockAllocationFailed events.
// Insufficient stock is a business outcome, not a system error.
const ReasonInsufficientStock = "Insufficient Stock"

// DefaultBatchID is used when ReceiveStock names no batch.
const DefaultBatchID = "default"

// Reservation sources. StockReserved and StockAllocationFailed echo the
// source of the reservation so each process manager can tell its own
// reservations from another workflow's.
const (
	ReservationSourceOrder      = "order"
	ReservationSourceProduction = "production"
)

// Allocation pins a reserved quantity to one (location, batch) bucket.
type Allocation struct {
	LocationID string `json:"locationId"`
	BatchID    string `json:"batchId"`
	Quantity   int    `json:"quantity"`
}

// ReceiveStockPayload is the ReceiveStock command payload.
type ReceiveStockPayload struct {
	LocationID string `json:"locationId"`
	BatchID    string `json:"batchId,omitempty"`
	Quantity   int    `json:"quantity"`
	Reason     string `json:"reason,omitempty"`
}

// ReserveStockPayload is the ReserveStock command payload, issued by the
// order and manufacturing process managers.
type ReserveStockPayload struct {
	OrderID      string `json:"orderId"`
	Quantity     int    `json:"quantity"`
	AllowPartial bool   `json:"allowPartial"`
	Source       string `json:"source,omitempty"`
}

// ReleaseStockPayload is the ReleaseStock command payload.
type ReleaseStockPayload struct {
	OrderID string `json:"orderId"`
}

// ShipStockPayload is the ShipStock command payload.
type ShipStockPayload struct {
	OrderID string `json:"orderId"`
}

// StockReceivedData is the StockReceived event payload.
type StockReceivedData struct {
	ProductID  string    `json:"productId"`
	LocationID string    `json:"locationId"`
	BatchID    string    `json:"batchId"`
	Quantity   int       `json:"quantity"`
	Reason     string    `json:"reason,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// StockReservedData is the StockReserved event payload. Allocations record
// which buckets were locked.
type StockReservedData struct {
	ProductID     string       `json:"productId"`
	OrderID       string       `json:"orderId"`
	Allocations   []Allocation `json:"allocations"`
	TotalReserved int          `json:"totalReserved"`
	Source        string       `json:"source,omitempty"`
	ReservedAt    time.Time    `json:"reservedAt"`
}

// StockAllocationFailedData is the StockAllocationFailed event payload.
type StockAllocationFailedData struct {
	ProductID string    `json:"productId"`
	OrderID   string    `json:"orderId"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
	Reason    string    `json:"reason"`
	Source    string    `json:"source,omitempty"`
	FailedAt  time.Time `json:"failedAt"`
}

// StockReleasedData is the StockReleased event payload.
type StockReleasedData struct {
	ProductID   string       `json:"productId"`
	OrderID     string       `json:"orderId"`
	Allocations []Allocation `json:"allocations"`
	ReleasedAt  time.Time    `json:"releasedAt"`
}

// StockShippedData is the StockShipped event payload.
type StockShippedData struct {
	ProductID   string       `json:"productId"`
	OrderID     string       `json:"orderId"`
	Allocations []Allocation `json:"allocations"`
	ShippedAt   time.Time    `json:"shippedAt"`
}

// bucket is one (location, batch) stock pool in the hydrated aggregate.
type bucket struct {
	locationID string
	batchID    string
	quantity   int
	reserved   int
	receivedAt time.Time
}

func (b bucket) available() int { return b.quantity - b.reserved }

// state is the hydrated product stock aggregate.
type state struct {
	buckets      map[string]*bucket
	reservations map[string][]Allocation // orderID -> allocations
}

func bucketKey(locationID, batchID string) string {
	return locationID + ":" + batchID
}

func hydrate(history []event.Event) (state, error) {
	st := state{
		buckets:      make(map[string]*bucket),
		reservations: make(map[string][]Allocation),
	}
	for _, evt := range history {
		switch evt.Type {
		case EventStockReceived:
			var data StockReceivedData
			if err := evt.Decode(&data); err != nil {
				return st, err
			}
			key := bucketKey(data.LocationID, data.BatchID)
			b, ok := st.buckets[key]
			if !ok {
				b = &bucket{
					locationID: data.LocationID,
					batchID:    data.BatchID,
					receivedAt: data.ReceivedAt,
				}
				st.buckets[key] = b
			}
			b.quantity += data.Quantity
		case EventStockReserved:
			var data StockReservedData
			if err := evt.Decode(&data); err != nil {
				return st, err
			}
			st.reservations[data.OrderID] = data.Allocations
			for _, alloc := range data.Allocations {
				if b, ok := st.buckets[bucketKey(alloc.LocationID, alloc.BatchID)]; ok {
					b.reserved += alloc.Quantity
				}
			}
		case EventStockReleased:
			var data StockReleasedData
			if err := evt.Decode(&data); err != nil {
				return st, err
			}
			delete(st.reservations, data.OrderID)
			for _, alloc := range data.Allocations {
				if b, ok := st.buckets[bucketKey(alloc.LocationID, alloc.BatchID)]; ok {
					b.reserved -= alloc.Quantity
				}
			}
		case EventStockShipped:
			var data StockShippedData
			if err := evt.Decode(&data); err != nil {
				return st, err
			}
			delete(st.reservations, data.OrderID)
			for _, alloc := range data.Allocations {
				if b, ok := st.buckets[bucketKey(alloc.LocationID, alloc.BatchID)]; ok {
					b.reserved -= alloc.Quantity
					b.quantity -= alloc.Quantity
				}
			}
		case EventStockAllocationFailed:
			// Recorded outcome, no state change.
		}
	}
	return st, nil
}

// fifoBuckets returns buckets with available stock, oldest received first.
func (st state) fifoBuckets() []*bucket {
	out := make([]*bucket, 0, len(st.buckets))
	for _, b := range st.buckets {
		if b.available() > 0 {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].receivedAt.Equal(out[j].receivedAt) {
			return out[i].receivedAt.Before(out[j].receivedAt)
		}
		return bucketKey(out[i].locationID, out[i].batchID) < bucketKey(out[j].locationID, out[j].batchID)
	})
	return out
}

// Handlers returns the aggregate handler mapping for the inventory command bus.
func Handlers() map[command.Type]command.Handler {
	return map[command.Type]command.Handler{
		CmdReceiveStock: handleReceiveStock,
		CmdReserveStock: handleReserveStock,
		CmdReleaseStock: handleReleaseStock,
		CmdShipStock:    handleShipStock,
	}
}

func handleReceiveStock(ctx context.Context, load command.LoadStream, commit command.CommitEvents, cmd command.Command) error {
	var payload ReceiveStockPayload
	if err := cmd.DecodePayload(&payload); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "inventory: decode ReceiveStock payload")
	}
	if payload.Quantity <= 0 {
		return dErrors.New(dErrors.CodeValidation, "quantity must be positive")
	}
	if payload.BatchID == "" {
		payload.BatchID = DefaultBatchID
	}

	history, err := load(ctx)
	if err != nil {
		return err
	}

	pending := []event.Pending{{
		Type: EventStockReceived,
		Data: StockReceivedData{
			ProductID:  cmd.AggregateID,
			LocationID: payload.LocationID,
			BatchID:    payload.BatchID,
			Quantity:   payload.Quantity,
			Reason:     payload.Reason,
			ReceivedAt: time.Now().UTC(),
		},
	}}
	_, err = commit(ctx, pending, command.CurrentVersion(history))
	return err
}

func handleReserveStock(ctx context.Context, load command.LoadStream, commit command.CommitEvents, cmd command.Command) error {
	var payload ReserveStockPayload
	if err := cmd.DecodePayload(&payload); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "inventory: decode ReserveStock payload")
	}
	if payload.Quantity <= 0 {
		return dErrors.New(dErrors.CodeValidation, "quantity must be positive")
	}

	history, err := load(ctx)
	if err != nil {
		return err
	}
	st, err := hydrate(history)
	if err != nil {
		return err
	}

	remaining := payload.Quantity
	var allocations []Allocation
	for _, b := range st.fifoBuckets() {
		if remaining <= 0 {
			break
		}
		take := min(b.available(), remaining)
		allocations = append(allocations, Allocation{
			LocationID: b.locationID,
			BatchID:    b.batchID,
			Quantity:   take,
		})
		remaining -= take
	}

	if remaining > 0 && !payload.AllowPartial {
		// Commit the failure so there is a record and the process manager
		// can react to it.
		pending := []event.Pending{{
			Type: EventStockAllocationFailed,
			Data: StockAllocationFailedData{
				ProductID: cmd.AggregateID,
				OrderID:   payload.OrderID,
				Requested: payload.Quantity,
				Available: payload.Quantity - remaining,
				Reason:    ReasonInsufficientStock,
				Source:    payload.Source,
				FailedAt:  time.Now().UTC(),
			},
		}}
		_, err = commit(ctx, pending, command.CurrentVersion(history))
		return err
	}

	pending := []event.Pending{{
		Type: EventStockReserved,
		Data: StockReservedData{
			ProductID:     cmd.AggregateID,
			OrderID:       payload.OrderID,
			Allocations:   allocations,
			TotalReserved: payload.Quantity - remaining,
			Source:        payload.Source,
			ReservedAt:    time.Now().UTC(),
		},
	}}
	_, err = commit(ctx, pending, command.CurrentVersion(history))
	return err
}

func handleReleaseStock(ctx context.Context, load command.LoadStream, commit command.CommitEvents, cmd command.Command) error {
	var payload ReleaseStockPayload
	if err := cmd.DecodePayload(&payload); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "inventory: decode ReleaseStock payload")
	}

	history, err := load(ctx)
	if err != nil {
		return err
	}
	st, err := hydrate(history)
	if err != nil {
		return err
	}

	allocations, ok := st.reservations[payload.OrderID]
	if !ok {
		// Already released or never reserved. Idempotent.
		return nil
	}

	pending := []event.Pending{{
		Type: EventStockReleased,
		Data: StockReleasedData{
			ProductID:   cmd.AggregateID,
			OrderID:     payload.OrderID,
			Allocations: allocations,
			ReleasedAt:  time.Now().UTC(),
		},
	}}
	_, err = commit(ctx, pending, command.CurrentVersion(history))
	return err
}

func handleShipStock(ctx context.Context, load command.LoadStream, commit command.CommitEvents, cmd command.Command) error {
	var payload ShipStockPayload
	if err := cmd.DecodePayload(&payload); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "inventory: decode ShipStock payload")
	}

	history, err := load(ctx)
	if err != nil {
		return err
	}
	st, err := hydrate(history)
	if err != nil {
		return err
	}

	allocations, ok := st.reservations[payload.OrderID]
	if !ok {
		return dErrors.New(dErrors.CodeInvariantViolation, "no reservation found for order "+payload.OrderID)
	}

	pending := []event.Pending{{
		Type: EventStockShipped,
		Data: StockShippedData{
			ProductID:   cmd.AggregateID,
			OrderID:     payload.OrderID,
			Allocations: allocations,
			ShippedAt:   time.Now().UTC(),
		},
	}}
	_, err = commit(ctx, pending, command.CurrentVersion(history))
	return err
}
