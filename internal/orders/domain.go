// Package orders is the order bounded context: event-sourced order
// aggregate, projector, process manager and read repository.
package orders

import (
	"context"
	"time"

	"github.com/dagizoltan/zx-proto-sub001/internal/command"
	"github.com/dagizoltan/zx-proto-sub001/internal/event"
	dErrors "github.com/dagizoltan/zx-proto-sub001/pkg/domain-errors"
)

// Events.
const (
	EventOrderInitialized event.Type = "OrderInitialized"
	EventOrderConfirmed   event.Type = "OrderConfirmed"
	EventOrderRejected    event.Type = "OrderRejected"
)

// Commands.
const (
	CmdInitializeOrder command.Type = "InitializeOrder"
	CmdConfirmOrder    command.Type = "ConfirmOrder"
	CmdRejectOrder     command.Type = "RejectOrder"
)

// Status is the order lifecycle state. CONFIRMED and REJECTED are terminal.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusRejected  Status = "REJECTED"
)

// Item is one order line.
type Item struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Address is the shipping destination captured at order creation.
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
}

// InitializeOrderPayload is the InitializeOrder command payload.
type InitializeOrderPayload struct {
	CustomerID      string  `json:"customerId"`
	Items           []Item  `json:"items"`
	ShippingAddress Address `json:"shippingAddress"`
}

// RejectOrderPayload is the RejectOrder command payload.
type RejectOrderPayload struct {
	Reason string `json:"reason"`
}

// OrderInitializedData is the OrderInitialized event payload.
type OrderInitializedData struct {
	OrderID         string    `json:"orderId"`
	CustomerID      string    `json:"customerId"`
	Items           []Item    `json:"items"`
	ShippingAddress Address   `json:"shippingAddress"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
}

// OrderConfirmedData is the OrderConfirmed event payload.
type OrderConfirmedData struct {
	OrderID     string    `json:"orderId"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

// OrderRejectedData is the OrderRejected event payload.
type OrderRejectedData struct {
	OrderID    string    `json:"orderId"`
	Reason     string    `json:"reason"`
	RejectedAt time.Time `json:"rejectedAt"`
}

// state is the hydrated aggregate.
type state struct {
	status     Status
	customerID string
	items      []Item
}

func hydrate(history []event.Event) (state, error) {
	var st state
	for _, evt := range history {
		switch evt.Type {
		case EventOrderInitialized:
			var data OrderInitializedData
			if err := evt.Decode(&data); err != nil {
				return st, err
			}
			st.status = StatusPending
			st.customerID = data.CustomerID
			st.items = data.Items
		case EventOrderConfirmed:
			st.status = StatusConfirmed
		case EventOrderRejected:
			st.status = StatusRejected
		}
	}
	return st, nil
}

// Handlers returns the aggregate handler mapping for the orders command bus.
func Handlers() map[command.Type]command.Handler {
	return map[command.Type]command.Handler{
		CmdInitializeOrder: handleInitializeOrder,
		CmdConfirmOrder:    handleConfirmOrder,
		CmdRejectOrder:     handleRejectOrder,
	}
}

func handleInitializeOrder(ctx context.Context, _ command.LoadStream, commit command.CommitEvents, cmd command.Command) error {
	var payload InitializeOrderPayload
	if err := cmd.DecodePayload(&payload); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "orders: decode InitializeOrder payload")
	}
	if len(payload.Items) == 0 {
		return dErrors.New(dErrors.CodeValidation, "order must have items")
	}

	pending := []event.Pending{{
		Type: EventOrderInitialized,
		Data: OrderInitializedData{
			OrderID:         cmd.AggregateID,
			CustomerID:      payload.CustomerID,
			Items:           payload.Items,
			ShippingAddress: payload.ShippingAddress,
			Status:          StatusPending,
			CreatedAt:       time.Now().UTC(),
		},
	}}
	// New aggregate: commit at expected version 0.
	_, err := commit(ctx, pending, 0)
	return err
}

func handleConfirmOrder(ctx context.Context, load command.LoadStream, commit command.CommitEvents, cmd command.Command) error {
	history, err := load(ctx)
	if err != nil {
		return err
	}
	st, err := hydrate(history)
	if err != nil {
		return err
	}

	if st.status != StatusPending {
		// Re-confirming a confirmed order is idempotent.
		if st.status == StatusConfirmed {
			return nil
		}
		return dErrors.New(dErrors.CodeInvariantViolation, "cannot confirm order in status "+string(st.status))
	}

	pending := []event.Pending{{
		Type: EventOrderConfirmed,
		Data: OrderConfirmedData{OrderID: cmd.AggregateID, ConfirmedAt: time.Now().UTC()},
	}}
	_, err = commit(ctx, pending, command.CurrentVersion(history))
	return err
}

func handleRejectOrder(ctx context.Context, load command.LoadStream, commit command.CommitEvents, cmd command.Command) error {
	var payload RejectOrderPayload
	if err := cmd.DecodePayload(&payload); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "orders: decode RejectOrder payload")
	}

	history, err := load(ctx)
	if err != nil {
		return err
	}
	st, err := hydrate(history)
	if err != nil {
		return err
	}

	if st.status != StatusPending {
		if st.status == StatusRejected {
			return nil
		}
		return dErrors.New(dErrors.CodeInvariantViolation, "cannot reject order in status "+string(st.status))
	}

	pending := []event.Pending{{
		Type: EventOrderRejected,
		Data: OrderRejectedData{OrderID: cmd.AggregateID, Reason: payload.Reason, RejectedAt: time.Now().UTC()},
	}}
	_, err = commit(ctx, pending, command.CurrentVersion(history))
	return err
}
