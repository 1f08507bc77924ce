// Package shipments is the shipment bounded context: the event-sourced
// shipment aggregate, its projector, and the process manager that opens a
// shipment for every confirmed order.
package shipments

import (
	"context"
	"time"

	"github.com/dagizoltan/zx-proto-sub001/internal/command"
	"github.com/dagizoltan/zx-proto-sub001/internal/event"
	dErrors "github.com/dagizoltan/zx-proto-sub001/pkg/domain-errors"
)

// Events.
const (
	EventShipmentCreated   event.Type = "ShipmentCreated"
	EventShipmentShipped   event.Type = "ShipmentShipped"
	EventShipmentDelivered event.Type = "ShipmentDelivered"
)

// Commands. The aggregate id is the shipment id.
const (
	CmdCreateShipment command.Type = "CreateShipment"
	CmdShipPackage    command.Type = "ShipPackage"
	CmdDeliverPackage command.Type = "DeliverPackage"
)

// Status is the shipment lifecycle state.
type Status string

const (
	StatusPreparing Status = "PREPARING"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
)

// Item is one shipped order line.
type Item struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Address is the shipping destination.
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
}

// CreateShipmentPayload is the CreateShipment command payload.
type CreateShipmentPayload struct {
	OrderID string  `json:"orderId"`
	Items   []Item  `json:"items"`
	Address Address `json:"address"`
}

// ShipPackagePayload is the ShipPackage command payload.
type ShipPackagePayload struct {
	TrackingNumber string `json:"trackingNumber"`
	Carrier        string `json:"carrier"`
}

// ShipmentCreatedData is the ShipmentCreated event payload.
type ShipmentCreatedData struct {
	ShipmentID string    `json:"shipmentId"`
	OrderID    string    `json:"orderId"`
	Items      []Item    `json:"items"`
	Address    Address   `json:"address"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ShipmentShippedData is the ShipmentShipped event payload.
type ShipmentShippedData struct {
	ShipmentID     string    `json:"shipmentId"`
	TrackingNumber string    `json:"trackingNumber"`
	Carrier        string    `json:"carrier"`
	ShippedAt      time.Time `json:"shippedAt"`
}

// ShipmentDeliveredData is the ShipmentDelivered event payload.
type ShipmentDeliveredData struct {
	ShipmentID  string    `json:"shipmentId"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

type state struct {
	status Status
}

func hydrate(history []event.Event) state {
	var st state
	for _, evt := range history {
		switch evt.Type {
		case EventShipmentCreated:
			st.status = StatusPreparing
		case EventShipmentShipped:
			st.status = StatusShipped
		case EventShipmentDelivered:
			st.status = StatusDelivered
		}
	}
	return st
}

// Handlers returns the aggregate handler mapping for the shipments command
// bus.
func Handlers() map[command.Type]command.Handler {
	return map[command.Type]command.Handler{
		CmdCreateShipment: handleCreateShipment,
		CmdShipPackage:    handleShipPackage,
		CmdDeliverPackage: handleDeliverPackage,
	}
}

func handleCreateShipment(ctx context.Context, load command.LoadStream, commit command.CommitEvents, cmd command.Command) error {
	var payload CreateShipmentPayload
	if err := cmd.DecodePayload(&payload); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "shipments: decode CreateShipment payload")
	}

	history, err := load(ctx)
	if err != nil {
		return err
	}
	// One shipment per stream; re-creating is a no-op.
	if len(history) > 0 {
		return nil
	}

	pending := []event.Pending{{
		Type: EventShipmentCreated,
		Data: ShipmentCreatedData{
			ShipmentID: cmd.AggregateID,
			OrderID:    payload.OrderID,
			Items:      payload.Items,
			Address:    payload.Address,
			Status:     StatusPreparing,
			CreatedAt:  time.Now().UTC(),
		},
	}}
	_, err = commit(ctx, pending, 0)
	return err
}

func handleShipPackage(ctx context.Context, load command.LoadStream, commit command.CommitEvents, cmd command.Command) error {
	var payload ShipPackagePayload
	if err := cmd.DecodePayload(&payload); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "shipments: decode ShipPackage payload")
	}

	history, err := load(ctx)
	if err != nil {
		return err
	}
	st := hydrate(history)
	if st.status != StatusPreparing {
		return dErrors.New(dErrors.CodeInvariantViolation, "cannot ship shipment in status "+string(st.status))
	}

	pending := []event.Pending{{
		Type: EventShipmentShipped,
		Data: ShipmentShippedData{
			ShipmentID:     cmd.AggregateID,
			TrackingNumber: payload.TrackingNumber,
			Carrier:        payload.Carrier,
			ShippedAt:      time.Now().UTC(),
		},
	}}
	_, err = commit(ctx, pending, command.CurrentVersion(history))
	return err
}

func handleDeliverPackage(ctx context.Context, load command.LoadStream, commit command.CommitEvents, cmd command.Command) error {
	history, err := load(ctx)
	if err != nil {
		return err
	}
	st := hydrate(history)
	if st.status == StatusDelivered {
		return nil
	}
	if st.status != StatusShipped {
		return dErrors.New(dErrors.CodeInvariantViolation, "cannot deliver shipment in status "+string(st.status))
	}

	pending := []event.Pending{{
		Type: EventShipmentDelivered,
		Data: ShipmentDeliveredData{ShipmentID: cmd.AggregateID, DeliveredAt: time.Now().UTC()},
	}}
	_, err = commit(ctx, pending, command.CurrentVersion(history))
	return err
}
