package orders

import (
	"context"
	"time"

	"github.com/dagizoltan/zx-proto-sub001/internal/bus"
	"github.com/dagizoltan/zx-proto-sub001/internal/event"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/kv"
	"github.com/dagizoltan/zx-proto-sub001/internal/view"
)

// viewKind namespaces order documents and their processed markers.
const viewKind = "orders"

// View is the denormalized order read document.
type View struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenantId"`
	CustomerID      string    `json:"customerId"`
	Items           []Item    `json:"items"`
	ShippingAddress Address   `json:"shippingAddress"`
	Status          Status    `json:"status"`
	Reason          string    `json:"reason,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Projector maintains order views from order events.
type Projector struct {
	applier *view.Applier[View]
}

func NewProjector(store kv.Store, opts ...view.ApplierOption[View]) *Projector {
	return &Projector{applier: view.NewApplier[View](store, viewKind, opts...)}
}

// Register subscribes the projector on the bus.
func (p *Projector) Register(b *bus.Bus) {
	for _, t := range []event.Type{EventOrderInitialized, EventOrderConfirmed, EventOrderRejected} {
		b.Subscribe(t, p.Handle)
	}
}

func (p *Projector) Handle(ctx context.Context, evt event.Event) error {
	switch evt.Type {
	case EventOrderInitialized:
		var data OrderInitializedData
		if err := evt.Decode(&data); err != nil {
			return err
		}
		return p.applier.Apply(ctx, evt, data.OrderID, func(View, bool) (View, error) {
			return View{
				ID:              data.OrderID,
				TenantID:        evt.TenantID,
				CustomerID:      data.CustomerID,
				Items:           data.Items,
				ShippingAddress: data.ShippingAddress,
				Status:          data.Status,
				CreatedAt:       data.CreatedAt,
				UpdatedAt:       time.Now().UTC(),
			}, nil
		})
	case EventOrderConfirmed:
		var data OrderConfirmedData
		if err := evt.Decode(&data); err != nil {
			return err
		}
		return p.applier.Apply(ctx, evt, data.OrderID, func(doc View, _ bool) (View, error) {
			doc.Status = StatusConfirmed
			doc.UpdatedAt = time.Now().UTC()
			return doc, nil
		})
	case EventOrderRejected:
		var data OrderRejectedData
		if err := evt.Decode(&data); err != nil {
			return err
		}
		return p.applier.Apply(ctx, evt, data.OrderID, func(doc View, _ bool) (View, error) {
			doc.Status = StatusRejected
			doc.Reason = data.Reason
			doc.UpdatedAt = time.Now().UTC()
			return doc, nil
		})
	}
	return nil
}

// NewRepository returns the order view read repository.
func NewRepository(store kv.Store) *view.Repository[View] {
	return view.NewRepository[View](store, viewKind)
}
