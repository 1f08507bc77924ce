package shipments

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dagizoltan/zx-proto-sub001/internal/bus"
	"github.com/dagizoltan/zx-proto-sub001/internal/command"
	"github.com/dagizoltan/zx-proto-sub001/internal/event"
	"github.com/dagizoltan/zx-proto-sub001/internal/orders"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/kv"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/metrics"
	"github.com/dagizoltan/zx-proto-sub001/internal/saga"
	"github.com/dagizoltan/zx-proto-sub001/internal/view"
)

// ProcessManager opens a shipment for every confirmed order. It reads the
// order's read view rather than the event, since the confirmation event
// carries no item or address detail.
type ProcessManager struct {
	shipments *command.Bus
	orders    *view.Repository[orders.View]
	markers   *saga.Markers
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// ProcessManagerOption configures the process manager.
type ProcessManagerOption func(*ProcessManager)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) ProcessManagerOption {
	return func(pm *ProcessManager) { pm.logger = l }
}

// WithMetrics wires the duplicate-event counter.
func WithMetrics(m *metrics.Metrics) ProcessManagerOption {
	return func(pm *ProcessManager) { pm.metrics = m }
}

func NewProcessManager(shipmentBus *command.Bus, store kv.Store, markers *saga.Markers, opts ...ProcessManagerOption) *ProcessManager {
	pm := &ProcessManager{
		shipments: shipmentBus,
		orders:    orders.NewRepository(store),
		markers:   markers,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(pm)
	}
	return pm
}

// Register subscribes the process manager on the bus.
func (pm *ProcessManager) Register(b *bus.Bus) {
	b.Subscribe(orders.EventOrderConfirmed, pm.Handle)
}

// Handle processes one event at most once per marker TTL.
func (pm *ProcessManager) Handle(ctx context.Context, evt event.Event) error {
	if evt.Type != orders.EventOrderConfirmed {
		return nil
	}

	processed, err := pm.markers.Processed(ctx, evt.ID, evt.Type)
	if err != nil {
		return err
	}
	if processed {
		pm.logger.Debug("skipping duplicate event", "saga", "shipments", "event_id", evt.ID)
		if pm.metrics != nil {
			pm.metrics.SagaDuplicates.Inc()
		}
		return nil
	}

	if err := pm.handleOrderConfirmed(ctx, evt); err != nil {
		pm.logger.Error("shipment saga step failed", "event_id", evt.ID, "error", err)
		return nil
	}
	return pm.markers.Mark(ctx, evt.ID, evt.Type)
}

func (pm *ProcessManager) handleOrderConfirmed(ctx context.Context, evt event.Event) error {
	var data orders.OrderConfirmedData
	if err := evt.Decode(&data); err != nil {
		return err
	}

	order, err := pm.orders.FindByID(ctx, evt.TenantID, data.OrderID)
	if err != nil {
		pm.logger.Error("confirmed order not found in view", "order_id", data.OrderID, "error", err)
		return err
	}

	items := make([]Item, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, Item{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	shipmentID := uuid.NewString()
	pm.logger.Info("creating shipment for order", "order_id", data.OrderID, "shipment_id", shipmentID)

	cmd, err := command.New(CmdCreateShipment, shipmentID, evt.TenantID, CreateShipmentPayload{
		OrderID: data.OrderID,
		Items:   items,
		Address: Address{
			Street:  order.ShippingAddress.Street,
			City:    order.ShippingAddress.City,
			Country: order.ShippingAddress.Country,
		},
	})
	if err != nil {
		return err
	}
	_, err = pm.shipments.Execute(ctx, cmd)
	return err
}
