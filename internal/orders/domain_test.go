package orders

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

type OrderDomainSuite struct {
	suite.Suite
	ctx   context.Context
	store *event.Store
	bus   *command.Bus
}

func TestOrderDomainSuite(t *testing.T) {
	suite.Run(t, new(OrderDomainSuite))
}

func (s *OrderDomainSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = event.NewStore(kv.NewMemoryStore())
	s.bus = command.NewBus(s.store, Handlers())
}

func (s *OrderDomainSuite) exec(t command.Type, orderID string, payload any) ([]event.Event, error) {
	cmd, err := command.New(t, orderID, testTenant, payload)
	s.Require().NoError(err)
	return s.bus.Execute(s.ctx, cmd)
}

func (s *OrderDomainSuite) initialize(orderID string) {
	_, err := s.exec(CmdInitializeOrder, orderID, InitializeOrderPayload{
		CustomerID: "cust-1",
		Items:      []Item{{ProductID: "P1", Quantity: 2}},
	})
	s.Require().NoError(err)
}

func (s *OrderDomainSuite) status(orderID string) Status {
	history, err := s.store.ReadStream(s.ctx, testTenant, orderID, 0)
	s.Require().NoError(err)
	st, err := hydrate(history)
	s.Require().NoError(err)
	return st.status
}

func (s *OrderDomainSuite) TestInitializeCommitsPendingOrder() {
	events, err := s.exec(CmdInitializeOrder, "O1", InitializeOrderPayload{
		CustomerID:      "cust-1",
		Items:           []Item{{ProductID: "P1", Quantity: 2}},
		ShippingAddress: Address{Street: "1 Main St", City: "Springfield"},
	})
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(EventOrderInitialized, events[0].Type)
	s.Equal(uint64(1), events[0].Version)

	var data OrderInitializedData
	s.Require().NoError(events[0].Decode(&data))
	s.Equal(StatusPending, data.Status)
	s.Equal("O1", data.OrderID)
}

func (s *OrderDomainSuite) TestInitializeRequiresItems() {
	_, err := s.exec(CmdInitializeOrder, "O1", InitializeOrderPayload{CustomerID: "cust-1"})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *OrderDomainSuite) TestInitializeTwiceConflicts() {
	s.initialize("O1")
	_, err := s.exec(CmdInitializeOrder, "O1", InitializeOrderPayload{
		CustomerID: "cust-1",
		Items:      []Item{{ProductID: "P1", Quantity: 2}},
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *OrderDomainSuite) TestConfirmPendingOrder() {
	s.initialize("O1")

	events, err := s.exec(CmdConfirmOrder, "O1", struct{}{})
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(EventOrderConfirmed, events[0].Type)
	s.Equal(StatusConfirmed, s.status("O1"))
}

func (s *OrderDomainSuite) TestConfirmIsIdempotentOnceConfirmed() {
	s.initialize("O1")
	_, err := s.exec(CmdConfirmOrder, "O1", struct{}{})
	s.Require().NoError(err)

	events, err := s.exec(CmdConfirmOrder, "O1", struct{}{})
	s.Require().NoError(err)
	s.Empty(events, "re-confirming must not append")
}

func (s *OrderDomainSuite) TestConfirmRejectedOrderViolatesInvariant() {
	s.initialize("O1")
	_, err := s.exec(CmdRejectOrder, "O1", RejectOrderPayload{Reason: "no stock"})
	s.Require().NoError(err)

	_, err = s.exec(CmdConfirmOrder, "O1", struct{}{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func (s *OrderDomainSuite) TestRejectPendingOrderRecordsReason() {
	s.initialize("O1")

	events, err := s.exec(CmdRejectOrder, "O1", RejectOrderPayload{Reason: "Insufficient Stock"})
	s.Require().NoError(err)
	s.Require().Len(events, 1)

	var data OrderRejectedData
	s.Require().NoError(events[0].Decode(&data))
	s.Equal("Insufficient Stock", data.Reason)
	s.Equal(StatusRejected, s.status("O1"))
}

func (s *OrderDomainSuite) TestRejectIsIdempotentOnceRejected() {
	s.initialize("O1")
	_, err := s.exec(CmdRejectOrder, "O1", RejectOrderPayload{Reason: "no stock"})
	s.Require().NoError(err)

	events, err := s.exec(CmdRejectOrder, "O1", RejectOrderPayload{Reason: "no stock"})
	s.Require().NoError(err)
	s.Empty(events)
}
