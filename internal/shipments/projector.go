package shipments

import (
	"context"
	"time"

	"github.com/dagizoltan/zx-proto-sub001/internal/bus"
	"github.com/dagizoltan/zx-proto-sub001/internal/event"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/kv"
	"github.com/dagizoltan/zx-proto-sub001/internal/view"
)

const viewKind = "shipments"

// View is the denormalized shipment read document.
type View struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenantId"`
	OrderID        string     `json:"orderId"`
	Items          []Item     `json:"items"`
	Address        Address    `json:"address"`
	Status         Status     `json:"status"`
	TrackingNumber string     `json:"trackingNumber,omitempty"`
	Carrier        string     `json:"carrier,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	ShippedAt      *time.Time `json:"shippedAt,omitempty"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Projector maintains shipment views from shipment events.
type Projector struct {
	applier *view.Applier[View]
}

func NewProjector(store kv.Store, opts ...view.ApplierOption[View]) *Projector {
	return &Projector{applier: view.NewApplier[View](store, viewKind, opts...)}
}

// Register subscribes the projector on the bus.
func (p *Projector) Register(b *bus.Bus) {
	for _, t := range []event.Type{EventShipmentCreated, EventShipmentShipped, EventShipmentDelivered} {
		b.Subscribe(t, p.Handle)
	}
}

func (p *Projector) Handle(ctx context.Context, evt event.Event) error {
	switch evt.Type {
	case EventShipmentCreated:
		var data ShipmentCreatedData
		if err := evt.Decode(&data); err != nil {
			return err
		}
		return p.applier.Apply(ctx, evt, data.ShipmentID, func(View, bool) (View, error) {
			return View{
				ID:        data.ShipmentID,
				TenantID:  evt.TenantID,
				OrderID:   data.OrderID,
				Items:     data.Items,
				Address:   data.Address,
				Status:    StatusPreparing,
				CreatedAt: data.CreatedAt,
				UpdatedAt: time.Now().UTC(),
			}, nil
		})
	case EventShipmentShipped:
		var data ShipmentShippedData
		if err := evt.Decode(&data); err != nil {
			return err
		}
		return p.applier.Apply(ctx, evt, data.ShipmentID, func(doc View, _ bool) (View, error) {
			doc.Status = StatusShipped
			doc.TrackingNumber = data.TrackingNumber
			doc.Carrier = data.Carrier
			doc.ShippedAt = &data.ShippedAt
			doc.UpdatedAt = time.Now().UTC()
			return doc, nil
		})
	case EventShipmentDelivered:
		var data ShipmentDeliveredData
		if err := evt.Decode(&data); err != nil {
			return err
		}
		return p.applier.Apply(ctx, evt, data.ShipmentID, func(doc View, _ bool) (View, error) {
			doc.Status = StatusDelivered
			doc.DeliveredAt = &data.DeliveredAt
			doc.UpdatedAt = time.Now().UTC()
			return doc, nil
		})
	}
	return nil
}

// Repository reads shipment views, including the order-to-shipment lookup
// the process managers and transport need.
type Repository struct {
	views *view.Repository[View]
}

func NewRepository(store kv.Store) *Repository {
	return &Repository{views: view.NewRepository[View](store, viewKind)}
}

// FindByID returns the shipment view.
func (r *Repository) FindByID(ctx context.Context, tenantID, shipmentID string) (View, error) {
	return r.views.FindByID(ctx, tenantID, shipmentID)
}

// List returns every shipment view for the tenant.
func (r *Repository) List(ctx context.Context, tenantID string) ([]View, error) {
	return r.views.List(ctx, tenantID)
}

// FindByOrderID returns the shipment opened for an order, or
// view.ErrNotFound when none exists.
func (r *Repository) FindByOrderID(ctx context.Context, tenantID, orderID string) (View, error) {
	docs, err := r.views.List(ctx, tenantID)
	if err != nil {
		return View{}, err
	}
	for _, doc := range docs {
		if doc.OrderID == orderID {
			return doc, nil
		}
	}
	return View{}, view.ErrNotFound
}
