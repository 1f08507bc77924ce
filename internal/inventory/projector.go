package inventory

import (
	"context"
	"time"

	"github.com/dagizoltan/zx-proto-sub001/internal/bus"
	"github.com/dagizoltan/zx-proto-sub001/internal/event"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/kv"
	"github.com/dagizoltan/zx-proto-sub001/internal/view"
)

const viewKind = "inventory"

// BucketView is one (location, batch) pool in the stock view.
type BucketView struct {
	Quantity int `json:"quantity"`
	Reserved int `json:"reserved"`
}

// View is the denormalized per-product stock document.
type View struct {
	ProductID         string                `json:"productId"`
	TenantID          string                `json:"tenantId"`
	TotalQuantity     int                   `json:"totalQuantity"`
	ReservedQuantity  int                   `json:"reservedQuantity"`
	AvailableQuantity int                   `json:"availableQuantity"`
	Locations         map[string]BucketView `json:"locations"`
	UpdatedAt         time.Time             `json:"updatedAt"`
}

// Projector maintains per-product stock views from inventory events.
type Projector struct {
	applier *view.Applier[View]
}

func NewProjector(store kv.Store, opts ...view.ApplierOption[View]) *Projector {
	return &Projector{applier: view.NewApplier[View](store, viewKind, opts...)}
}

// Register subscribes the projector on the bus. StockAllocationFailed does
// not change stock levels, so it is not consumed here.
func (p *Projector) Register(b *bus.Bus) {
	for _, t := range []event.Type{EventStockReceived, EventStockReserved, EventStockReleased, EventStockShipped} {
		b.Subscribe(t, p.Handle)
	}
}

func (p *Projector) Handle(ctx context.Context, evt event.Event) error {
	switch evt.Type {
	case EventStockReceived:
		var data StockReceivedData
		if err := evt.Decode(&data); err != nil {
			return err
		}
		return p.apply(ctx, evt, data.ProductID, func(doc *View) {
			key := bucketKey(data.LocationID, data.BatchID)
			b := doc.Locations[key]
			b.Quantity += data.Quantity
			doc.Locations[key] = b
			doc.TotalQuantity += data.Quantity
		})
	case EventStockReserved:
		var data StockReservedData
		if err := evt.Decode(&data); err != nil {
			return err
		}
		return p.apply(ctx, evt, data.ProductID, func(doc *View) {
			for _, alloc := range data.Allocations {
				key := bucketKey(alloc.LocationID, alloc.BatchID)
				b := doc.Locations[key]
				b.Reserved += alloc.Quantity
				doc.Locations[key] = b
				doc.ReservedQuantity += alloc.Quantity
			}
		})
	case EventStockReleased:
		var data StockReleasedData
		if err := evt.Decode(&data); err != nil {
			return err
		}
		return p.apply(ctx, evt, data.ProductID, func(doc *View) {
			for _, alloc := range data.Allocations {
				key := bucketKey(alloc.LocationID, alloc.BatchID)
				b := doc.Locations[key]
				b.Reserved -= alloc.Quantity
				doc.Locations[key] = b
				doc.ReservedQuantity -= alloc.Quantity
			}
		})
	case EventStockShipped:
		var data StockShippedData
		if err := evt.Decode(&data); err != nil {
			return err
		}
		return p.apply(ctx, evt, data.ProductID, func(doc *View) {
			for _, alloc := range data.Allocations {
				key := bucketKey(alloc.LocationID, alloc.BatchID)
				b := doc.Locations[key]
				b.Reserved -= alloc.Quantity
				b.Quantity -= alloc.Quantity
				doc.Locations[key] = b
				doc.ReservedQuantity -= alloc.Quantity
				doc.TotalQuantity -= alloc.Quantity
			}
		})
	}
	return nil
}

func (p *Projector) apply(ctx context.Context, evt event.Event, productID string, mutate func(doc *View)) error {
	return p.applier.Apply(ctx, evt, productID, func(doc View, exists bool) (View, error) {
		if !exists {
			doc = View{ProductID: productID, TenantID: evt.TenantID, Locations: map[string]BucketView{}}
		}
		if doc.Locations == nil {
			doc.Locations = map[string]BucketView{}
		}
		mutate(&doc)
		doc.AvailableQuantity = doc.TotalQuantity - doc.ReservedQuantity
		doc.UpdatedAt = time.Now().UTC()
		return doc, nil
	})
}

// NewRepository returns the stock view read repository.
func NewRepository(store kv.Store) *view.Repository[View] {
	return view.NewRepository[View](store, viewKind)
}
