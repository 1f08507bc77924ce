// Package manufacturing is the production bounded context: the
// event-sourced production order aggregate and the process manager that
// turns completed production into inventory.
package manufacturing

import (
	"context"
	"time"

	"github.com/dagizoltan/zx-proto-sub001/internal/command"
	"github.com/dagizoltan/zx-proto-sub001/internal/event"
	dErrors "github.com/dagizoltan/zx-proto-sub001/pkg/domain-errors"
)

// Events.
const (
	EventProductionScheduled event.Type = "ProductionScheduled"
	EventProductionStarted   event.Type = "ProductionStarted"
	EventProductionCompleted event.Type = "ProductionCompleted"
)

// Commands. The aggregate id is the production order id.
const (
	CmdScheduleProduction command.Type = "ScheduleProduction"
	CmdStartProduction    command.Type = "StartProduction"
	CmdCompleteProduction command.Type = "CompleteProduction"
)

// Status is the production order lifecycle state.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusStarted   Status = "STARTED"
	StatusCompleted Status = "COMPLETED"
)

// RawMaterial is one bill-of-materials line.
type RawMaterial struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// ScheduleProductionPayload is the ScheduleProduction command payload.
type ScheduleProductionPayload struct {
	ProductID    string        `json:"productId"`
	Quantity     int           `json:"quantity"`
	RawMaterials []RawMaterial `json:"rawMaterials"`
	DueDate      time.Time     `json:"dueDate,omitempty"`
}

// CompleteProductionPayload is the CompleteProduction command payload.
type CompleteProductionPayload struct {
	ActualQuantity int `json:"actualQuantity"`
}

// ProductionScheduledData is the ProductionScheduled event payload.
type ProductionScheduledData struct {
	ProductionOrderID string        `json:"productionOrderId"`
	ProductID         string        `json:"productId"`
	Quantity          int           `json:"quantity"`
	RawMaterials      []RawMaterial `json:"rawMaterials"`
	DueDate           time.Time     `json:"dueDate,omitempty"`
	Status            Status        `json:"status"`
	CreatedAt         time.Time     `json:"createdAt"`
}

// ProductionStartedData is the ProductionStarted event payload.
type ProductionStartedData struct {
	ProductionOrderID string    `json:"productionOrderId"`
	StartedAt         time.Time `json:"startedAt"`
}

// ProductionCompletedData is the ProductionCompleted event payload. Product
// and raw materials are carried forward from scheduling so consumers do not
// have to re-derive them.
type ProductionCompletedData struct {
	ProductionOrderID string        `json:"productionOrderId"`
	ProductID         string        `json:"productId"`
	ActualQuantity    int           `json:"actualQuantity"`
	RawMaterials      []RawMaterial `json:"rawMaterials"`
	CompletedAt       time.Time     `json:"completedAt"`
}

type state struct {
	status       Status
	productID    string
	rawMaterials []RawMaterial
}

func hydrate(history []event.Event) (state, error) {
	var st state
	for _, evt := range history {
		switch evt.Type {
		case EventProductionScheduled:
			var data ProductionScheduledData
			if err := evt.Decode(&data); err != nil {
				return st, err
			}
			st.status = StatusScheduled
			st.productID = data.ProductID
			st.rawMaterials = data.RawMaterials
		case EventProductionStarted:
			st.status = StatusStarted
		case EventProductionCompleted:
			st.status = StatusCompleted
		}
	}
	return st, nil
}

// Handlers returns the aggregate handler mapping for the manufacturing
// command bus.
func Handlers() map[command.Type]command.Handler {
	return map[command.Type]command.Handler{
		CmdScheduleProduction: handleScheduleProduction,
		CmdStartProduction:    handleStartProduction,
		CmdCompleteProduction: handleCompleteProduction,
	}
}

func handleScheduleProduction(ctx context.Context, load command.LoadStream, commit command.CommitEvents, cmd command.Command) error {
	var payload ScheduleProductionPayload
	if err := cmd.DecodePayload(&payload); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "manufacturing: decode ScheduleProduction payload")
	}
	if payload.Quantity <= 0 {
		return dErrors.New(dErrors.CodeValidation, "quantity must be positive")
	}

	history, err := load(ctx)
	if err != nil {
		return err
	}
	// Scheduling the same production order twice is a no-op.
	if len(history) > 0 {
		return nil
	}

	pending := []event.Pending{{
		Type: EventProductionScheduled,
		Data: ProductionScheduledData{
			ProductionOrderID: cmd.AggregateID,
			ProductID:         payload.ProductID,
			Quantity:          payload.Quantity,
			RawMaterials:      payload.RawMaterials,
			DueDate:           payload.DueDate,
			Status:            StatusScheduled,
			CreatedAt:         time.Now().UTC(),
		},
	}}
	_, err = commit(ctx, pending, 0)
	return err
}

func handleStartProduction(ctx context.Context, load command.LoadStream, commit command.CommitEvents, cmd command.Command) error {
	history, err := load(ctx)
	if err != nil {
		return err
	}
	st, err := hydrate(history)
	if err != nil {
		return err
	}
	if st.status == "" {
		return dErrors.New(dErrors.CodeNotFound, "production order not found: "+cmd.AggregateID)
	}
	if st.status != StatusScheduled {
		return dErrors.New(dErrors.CodeInvariantViolation, "cannot start production in status "+string(st.status))
	}

	pending := []event.Pending{{
		Type: EventProductionStarted,
		Data: ProductionStartedData{ProductionOrderID: cmd.AggregateID, StartedAt: time.Now().UTC()},
	}}
	_, err = commit(ctx, pending, command.CurrentVersion(history))
	return err
}

func handleCompleteProduction(ctx context.Context, load command.LoadStream, commit command.CommitEvents, cmd command.Command) error {
	var payload CompleteProductionPayload
	if err := cmd.DecodePayload(&payload); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "manufacturing: decode CompleteProduction payload")
	}

	history, err := load(ctx)
	if err != nil {
		return err
	}
	st, err := hydrate(history)
	if err != nil {
		return err
	}
	if st.status == "" {
		return dErrors.New(dErrors.CodeNotFound, "production order not found: "+cmd.AggregateID)
	}
	if st.status == StatusCompleted {
		return nil
	}

	pending := []event.Pending{{
		Type: EventProductionCompleted,
		Data: ProductionCompletedData{
			ProductionOrderID: cmd.AggregateID,
			ProductID:         st.productID,
			ActualQuantity:    payload.ActualQuantity,
			RawMaterials:      st.rawMaterials,
			CompletedAt:       time.Now().UTC(),
		},
	}}
	_, err = commit(ctx, pending, command.CurrentVersion(history))
	return err
}
