package shipments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/dagizoltan/zx-proto-sub001/internal/command"
	"github.com/dagizoltan/zx-proto-sub001/internal/event"
	"github.com/dagizoltan/zx-proto-sub001/internal/orders"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/kv"
	"github.com/dagizoltan/zx-proto-sub001/internal/saga"
)

type ShipmentSagaSuite struct {
	suite.Suite
	ctx       context.Context
	kv        kv.Store
	store     *event.Store
	orderBus  *command.Bus
	shipBus   *command.Bus
	projector *orders.Projector
	pm        *ProcessManager
}

func TestShipmentSagaSuite(t *testing.T) {
	suite.Run(t, new(ShipmentSagaSuite))
}

func (s *ShipmentSagaSuite) SetupTest() {
	s.ctx = context.Background()
	s.kv = kv.NewMemoryStore()
	s.store = event.NewStore(s.kv)
	s.orderBus = command.NewBus(s.store, orders.Handlers())
	s.shipBus = command.NewBus(s.store, Handlers())
	s.projector = orders.NewProjector(s.kv)
	s.pm = NewProcessManager(s.shipBus, s.kv, saga.NewMarkers(s.kv, "shipments", 0))
}

// confirmOrder drives an order to CONFIRMED and keeps its view current,
// returning the confirmation event.
func (s *ShipmentSagaSuite) confirmOrder(orderID string) event.Event {
	cmd, err := command.New(orders.CmdInitializeOrder, orderID, testTenant, orders.InitializeOrderPayload{
		CustomerID:      "cust-1",
		Items:           []orders.Item{{ProductID: "P1", Quantity: 3}},
		ShippingAddress: orders.Address{Street: "1 Main St", City: "Springfield"},
	})
	s.Require().NoError(err)
	initialized, err := s.orderBus.Execute(s.ctx, cmd)
	s.Require().NoError(err)
	s.Require().NoError(s.projector.Handle(s.ctx, initialized[0]))

	cmd, err = command.New(orders.CmdConfirmOrder, orderID, testTenant, struct{}{})
	s.Require().NoError(err)
	confirmed, err := s.orderBus.Execute(s.ctx, cmd)
	s.Require().NoError(err)
	s.Require().NoError(s.projector.Handle(s.ctx, confirmed[0]))

	return confirmed[0]
}

func (s *ShipmentSagaSuite) shipmentCreatedEvents() []event.Event {
	all, err := s.store.ReadAll(s.ctx, testTenant)
	s.Require().NoError(err)
	var created []event.Event
	for _, evt := range all {
		if evt.Type == EventShipmentCreated {
			created = append(created, evt)
		}
	}
	return created
}

func (s *ShipmentSagaSuite) TestConfirmedOrderOpensShipment() {
	confirmed := s.confirmOrder("O1")
	s.Require().NoError(s.pm.Handle(s.ctx, confirmed))

	created := s.shipmentCreatedEvents()
	s.Require().Len(created, 1)

	var data ShipmentCreatedData
	s.Require().NoError(created[0].Decode(&data))
	s.Equal("O1", data.OrderID)
	s.Equal([]Item{{ProductID: "P1", Quantity: 3}}, data.Items)
	s.Equal("1 Main St", data.Address.Street)
	s.Equal(StatusPreparing, data.Status)
}

func (s *ShipmentSagaSuite) TestRedeliveryOpensAtMostOneShipment() {
	confirmed := s.confirmOrder("O1")
	s.Require().NoError(s.pm.Handle(s.ctx, confirmed))
	s.Require().NoError(s.pm.Handle(s.ctx, confirmed))

	s.Len(s.shipmentCreatedEvents(), 1)
}

func (s *ShipmentSagaSuite) TestMissingOrderViewIsLoggedNotFatal() {
	// Confirmation event for an order whose view was never projected.
	cmd, err := command.New(orders.CmdInitializeOrder, "O9", testTenant, orders.InitializeOrderPayload{
		CustomerID: "cust-1",
		Items:      []orders.Item{{ProductID: "P1", Quantity: 1}},
	})
	s.Require().NoError(err)
	_, err = s.orderBus.Execute(s.ctx, cmd)
	s.Require().NoError(err)

	cmd, err = command.New(orders.CmdConfirmOrder, "O9", testTenant, struct{}{})
	s.Require().NoError(err)
	confirmed, err := s.orderBus.Execute(s.ctx, cmd)
	s.Require().NoError(err)

	s.Require().NoError(s.pm.Handle(s.ctx, confirmed[0]))
	s.Empty(s.shipmentCreatedEvents())
}

func (s *ShipmentSagaSuite) TestRepositoryFindByOrderID() {
	confirmed := s.confirmOrder("O1")
	s.Require().NoError(s.pm.Handle(s.ctx, confirmed))

	created := s.shipmentCreatedEvents()
	s.Require().Len(created, 1)

	shipProjector := NewProjector(s.kv)
	s.Require().NoError(shipProjector.Handle(s.ctx, created[0]))

	repo := NewRepository(s.kv)
	doc, err := repo.FindByOrderID(s.ctx, testTenant, "O1")
	s.Require().NoError(err)
	s.Equal(StatusPreparing, doc.Status)
	s.Equal("O1", doc.OrderID)
}
