package manufacturing

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

// FinishedGoodsLocation receives produced stock.
const FinishedGoodsLocation = "FG-001"

// ProcessManager reacts to completed production: it consumes the raw
// materials from inventory and receives the finished goods, using the
// production order id as the batch id for traceability.
type ProcessManager struct {
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

func NewProcessManager(inv *command.Bus, markers *saga.Markers, opts ...ProcessManagerOption) *ProcessManager {
	pm := &ProcessManager{inventory: inv, markers: markers, logger: slog.Default()}
	for _, opt := range opts {
		opt(pm)
	}
	return pm
}

// Register subscribes the process manager on the bus.
func (pm *ProcessManager) Register(b *bus.Bus) {
	b.Subscribe(EventProductionCompleted, pm.Handle)
}

// Handle processes one event at most once per marker TTL.
func (pm *ProcessManager) Handle(ctx context.Context, evt event.Event) error {
	if evt.Type != EventProductionCompleted {
		return nil
	}

	processed, err := pm.markers.Processed(ctx, evt.ID, evt.Type)
	if err != nil {
		return err
	}
	if processed {
		pm.logger.Debug("skipping duplicate event", "saga", "manufacturing", "event_id", evt.ID)
		if pm.metrics != nil {
			pm.metrics.SagaDuplicates.Inc()
		}
		return nil
	}

	if err := pm.handleProductionCompleted(ctx, evt); err != nil {
		pm.logger.Error("manufacturing saga step failed", "event_id", evt.ID, "error", err)
		return nil
	}
	return pm.markers.Mark(ctx, evt.ID, evt.Type)
}

func (pm *ProcessManager) handleProductionCompleted(ctx context.Context, evt event.Event) error {
	var data ProductionCompletedData
	if err := evt.Decode(&data); err != nil {
		return err
	}

	pm.logger.Info("production completed, updating inventory",
		"production_order_id", data.ProductionOrderID,
		"product_id", data.ProductID,
	)

	for _, mat := range data.RawMaterials {
		cmd, err := command.New(inventory.CmdReserveStock, mat.ProductID, evt.TenantID, inventory.ReserveStockPayload{
			OrderID:      data.ProductionOrderID,
			Quantity:     mat.Quantity,
			AllowPartial: false,
			Source:       inventory.ReservationSourceProduction,
		})
		if err != nil {
			return err
		}
		if _, err := pm.inventory.Execute(ctx, cmd); err != nil {
			return err
		}
	}

	cmd, err := command.New(inventory.CmdReceiveStock, data.ProductID, evt.TenantID, inventory.ReceiveStockPayload{
		LocationID: FinishedGoodsLocation,
		BatchID:    data.ProductionOrderID,
		Quantity:   data.ActualQuantity,
		Reason:     "Production " + data.ProductionOrderID,
	})
	if err != nil {
		return err
	}
	_, err = pm.inventory.Execute(ctx, cmd)
	return err
}
