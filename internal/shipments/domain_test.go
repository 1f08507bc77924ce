package shipments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/dagizoltan/zx-proto-sub001/internal/command"
	"github.com/dagizoltan/zx-proto-sub001/internal/event"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/kv"
	dErrors "github.com/dagizoltan/zx-proto-sub001/pkg/domain-errors"
)

const testTenant = "tenant-1"

type ShipmentDomainSuite struct {
	suite.Suite
	ctx   context.Context
	store *event.Store
	bus   *command.Bus
}

func TestShipmentDomainSuite(t *testing.T) {
	suite.Run(t, new(ShipmentDomainSuite))
}

func (s *ShipmentDomainSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = event.NewStore(kv.NewMemoryStore())
	s.bus = command.NewBus(s.store, Handlers())
}

func (s *ShipmentDomainSuite) exec(t command.Type, shipmentID string, payload any) ([]event.Event, error) {
	cmd, err := command.New(t, shipmentID, testTenant, payload)
	s.Require().NoError(err)
	return s.bus.Execute(s.ctx, cmd)
}

func (s *ShipmentDomainSuite) create(shipmentID string) {
	_, err := s.exec(CmdCreateShipment, shipmentID, CreateShipmentPayload{
		OrderID: "O1",
		Items:   []Item{{ProductID: "P1", Quantity: 2}},
		Address: Address{Street: "1 Main St"},
	})
	s.Require().NoError(err)
}

func (s *ShipmentDomainSuite) TestCreateIsIdempotentPerStream() {
	s.create("S1")
	s.create("S1")

	version, err := s.store.CurrentVersion(s.ctx, testTenant, "S1")
	s.Require().NoError(err)
	s.Equal(uint64(1), version)
}

func (s *ShipmentDomainSuite) TestShipRequiresPreparingStatus() {
	_, err := s.exec(CmdShipPackage, "S1", ShipPackagePayload{TrackingNumber: "TN-1", Carrier: "DHL"})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	s.create("S1")
	events, err := s.exec(CmdShipPackage, "S1", ShipPackagePayload{TrackingNumber: "TN-1", Carrier: "DHL"})
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(EventShipmentShipped, events[0].Type)

	// Shipping twice violates the lifecycle.
	_, err = s.exec(CmdShipPackage, "S1", ShipPackagePayload{TrackingNumber: "TN-2", Carrier: "DHL"})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func (s *ShipmentDomainSuite) TestDeliverRequiresShippedStatus() {
	s.create("S1")

	_, err := s.exec(CmdDeliverPackage, "S1", struct{}{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	_, err = s.exec(CmdShipPackage, "S1", ShipPackagePayload{TrackingNumber: "TN-1", Carrier: "DHL"})
	s.Require().NoError(err)

	events, err := s.exec(CmdDeliverPackage, "S1", struct{}{})
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(EventShipmentDelivered, events[0].Type)

	// Re-delivering is a no-op.
	events, err = s.exec(CmdDeliverPackage, "S1", struct{}{})
	s.Require().NoError(err)
	s.Empty(events)
}
