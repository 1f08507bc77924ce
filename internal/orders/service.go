package orders

import (
	"context"

	"github.com/google/uuid"

	"github.com/dagizoltan/zx-proto-sub001/internal/command"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/kv"
	"github.com/dagizoltan/zx-proto-sub001/internal/view"
)

// Service is the application entry point for the orders context: command
// dispatch on the write side, view reads on the query side.
type Service struct {
	bus  *command.Bus
	repo *view.Repository[View]
}

func NewService(cmdBus *command.Bus, store kv.Store) *Service {
	return &Service{bus: cmdBus, repo: NewRepository(store)}
}

// CreateOrder assigns a fresh order id and dispatches InitializeOrder. The
// confirm/reject outcome arrives asynchronously through the saga.
func (s *Service) CreateOrder(ctx context.Context, tenantID string, payload InitializeOrderPayload) (string, error) {
	orderID := uuid.NewString()
	cmd, err := command.New(CmdInitializeOrder, orderID, tenantID, payload)
	if err != nil {
		return "", err
	}
	if _, err := s.bus.Execute(ctx, cmd); err != nil {
		return "", err
	}
	return orderID, nil
}

// GetOrder returns the order's read view.
func (s *Service) GetOrder(ctx context.Context, tenantID, orderID string) (View, error) {
	return s.repo.FindByID(ctx, tenantID, orderID)
}

// ListOrders returns every order view for the tenant.
func (s *Service) ListOrders(ctx context.Context, tenantID string) ([]View, error) {
	return s.repo.List(ctx, tenantID)
}
