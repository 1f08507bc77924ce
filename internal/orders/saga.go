package orders

import (
	"context"
	"log/slog"

	"github.com/dagizoltan/zx-proto-sub001/internal/bus"
	"github.com/dagizoltan/zx-proto-sub001/internal/command"
	"github.com/dagizoltan/zx-proto-sub001/internal/event"
	"github.com/dagizoltan/zx-proto-sub001/internal/inventory"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/metrics"
	"github.com/dagizoltan/zx-proto-sub001/internal/saga"
)

// ProcessManager carries the order workflow across the inventory boundary:
// a new order reserves stock, and the reservation outcome confirms or
// rejects the order. Every step is driven by events off the relay.
type ProcessManager struct {
	orders    *command.Bus
	inventory *command.Bus
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

func NewProcessManager(orders, inv *command.Bus, markers *saga.Markers, opts ...ProcessManagerOption) *ProcessManager {
	pm := &ProcessManager{
		orders:    orders,
		inventory: inv,
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
	for _, t := range []event.Type{EventOrderInitialized, inventory.EventStockReserved, inventory.EventStockAllocationFailed} {
		b.Subscribe(t, pm.Handle)
	}
}

// Handle processes one event at most once per marker TTL. Failed saga
// steps are logged and not propagated; redelivery of a marked event is a
// no-op, so a stuck workflow needs re-driving by hand.
func (pm *ProcessManager) Handle(ctx context.Context, evt event.Event) error {
	processed, err := pm.markers.Processed(ctx, evt.ID, evt.Type)
	if err != nil {
		return err
	}
	if processed {
		pm.logger.Debug("skipping duplicate event", "saga", "orders", "event_id", evt.ID, "event_type", evt.Type)
		if pm.metrics != nil {
			pm.metrics.SagaDuplicates.Inc()
		}
		return nil
	}

	switch evt.Type {
	case EventOrderInitialized:
		err = pm.handleOrderInitialized(ctx, evt)
	case inventory.EventStockReserved:
		err = pm.handleStockReserved(ctx, evt)
	case inventory.EventStockAllocationFailed:
		err = pm.handleStockAllocationFailed(ctx, evt)
	}
	if err != nil {
		pm.logger.Error("order saga step failed", "event_type", evt.Type, "event_id", evt.ID, "error", err)
		return nil
	}

	return pm.markers.Mark(ctx, evt.ID, evt.Type)
}

func (pm *ProcessManager) handleOrderInitialized(ctx context.Context, evt event.Event) error {
	var data OrderInitializedData
	if err := evt.Decode(&data); err != nil {
		return err
	}
	if len(data.Items) == 0 {
		return nil
	}
	item := data.Items[0]

	pm.logger.Info("requesting stock for order", "order_id", data.OrderID, "product_id", item.ProductID)

	cmd, err := command.New(inventory.CmdReserveStock, item.ProductID, evt.TenantID, inventory.ReserveStockPayload{
		OrderID:      data.OrderID,
		Quantity:     item.Quantity,
		AllowPartial: false,
		Source:       inventory.ReservationSourceOrder,
	})
	if err != nil {
		return err
	}
	if _, err := pm.inventory.Execute(ctx, cmd); err != nil {
		// A thrown reservation error is a hard failure for the order.
		// Insufficient stock never lands here, it is a recorded event.
		pm.logger.Error("stock reservation dispatch failed", "order_id", data.OrderID, "error", err)
		return pm.reject(ctx, evt.TenantID, data.OrderID, err.Error())
	}
	return nil
}

func (pm *ProcessManager) handleStockReserved(ctx context.Context, evt event.Event) error {
	var data inventory.StockReservedData
	if err := evt.Decode(&data); err != nil {
		return err
	}
	if data.Source != inventory.ReservationSourceOrder {
		// Another workflow's reservation, e.g. raw-material consumption
		// by a production run. Not an order, nothing to confirm.
		pm.logger.Debug("ignoring reservation from another workflow", "source", data.Source, "order_id", data.OrderID)
		return nil
	}

	pm.logger.Info("stock reserved, confirming order", "order_id", data.OrderID)

	cmd, err := command.New(CmdConfirmOrder, data.OrderID, evt.TenantID, struct{}{})
	if err != nil {
		return err
	}
	_, err = pm.orders.Execute(ctx, cmd)
	return err
}

func (pm *ProcessManager) handleStockAllocationFailed(ctx context.Context, evt event.Event) error {
	var data inventory.StockAllocationFailedData
	if err := evt.Decode(&data); err != nil {
		return err
	}
	if data.Source != inventory.ReservationSourceOrder {
		pm.logger.Debug("ignoring allocation failure from another workflow", "source", data.Source, "order_id", data.OrderID)
		return nil
	}

	pm.logger.Info("stock allocation failed, rejecting order", "order_id", data.OrderID, "reason", data.Reason)

	return pm.reject(ctx, evt.TenantID, data.OrderID, data.Reason)
}

func (pm *ProcessManager) reject(ctx context.Context, tenantID, orderID, reason string) error {
	cmd, err := command.New(CmdRejectOrder, orderID, tenantID, RejectOrderPayload{Reason: reason})
	if err != nil {
		return err
	}
	_, err = pm.orders.Execute(ctx, cmd)
	return err
}
