// Package httptransport is the thin HTTP layer. It delegates to command
// buses and services without embedding business logic so transport
// concerns remain isolated.
package httptransport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dagizoltan/zx-proto-sub001/internal/command"
	"github.com/dagizoltan/zx-proto-sub001/internal/inventory"
	"github.com/dagizoltan/zx-proto-sub001/internal/orders"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/kv"
	"github.com/dagizoltan/zx-proto-sub001/internal/replay"
	"github.com/dagizoltan/zx-proto-sub001/internal/shipments"
	"github.com/dagizoltan/zx-proto-sub001/internal/view"
	dErrors "github.com/dagizoltan/zx-proto-sub001/pkg/domain-errors"
)

// Handler exposes the platform over HTTP, one route group per bounded
// context, all scoped under a tenant.
type Handler struct {
	orders        *orders.Service
	inventoryBus  *command.Bus
	manufacturing *command.Bus
	shipmentBus   *command.Bus
	allocation    *inventory.AllocationService
	stock         *view.Repository[inventory.View]
	shipments     *shipments.Repository
	replay        *replay.Service
	logger        *slog.Logger
}

func NewHandler(
	orderSvc *orders.Service,
	inventoryBus, manufacturingBus, shipmentBus *command.Bus,
	allocation *inventory.AllocationService,
	store kv.Store,
	replaySvc *replay.Service,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		orders:        orderSvc,
		inventoryBus:  inventoryBus,
		manufacturing: manufacturingBus,
		shipmentBus:   shipmentBus,
		allocation:    allocation,
		stock:         inventory.NewRepository(store),
		shipments:     shipments.NewRepository(store),
		replay:        replaySvc,
		logger:        logger,
	}
}

// NewRouter wires all endpoints with middleware.
func NewRouter(h *Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/tenants/{tenantID}", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.handleCreateOrder)
			r.Get("/", h.handleListOrders)
			r.Get("/{orderID}", h.handleGetOrder)
		})

		r.Route("/inventory", func(r chi.Router) {
			r.Get("/{productID}", h.handleGetStock)
			r.Post("/{productID}/receive", h.handleReceiveStock)
			r.Post("/{productID}/move", h.handleMoveStock)
		})

		r.Route("/allocations", func(r chi.Router) {
			r.Post("/", h.handleAllocate)
			r.Post("/{referenceID}/commit", h.handleCommitAllocation)
			r.Post("/{referenceID}/release", h.handleReleaseAllocation)
			r.Get("/{referenceID}/movements", h.handleListMovements)
		})

		r.Route("/production-orders", func(r chi.Router) {
			r.Post("/", h.handleScheduleProduction)
			r.Post("/{productionOrderID}/start", h.handleStartProduction)
			r.Post("/{productionOrderID}/complete", h.handleCompleteProduction)
		})

		r.Route("/shipments", func(r chi.Router) {
			r.Get("/", h.handleListShipments)
			r.Get("/{shipmentID}", h.handleGetShipment)
			r.Post("/{shipmentID}/ship", h.handleShipPackage)
			r.Post("/{shipmentID}/deliver", h.handleDeliverPackage)
		})

		r.Post("/replay", h.handleReplay)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// writeError centralizes domain error translation to HTTP responses so
// every handler returns the same JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := dErrors.CodeInternal
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		code = domainErr.Code
		status = httpStatus(code)
	}
	writeJSON(w, status, map[string]string{
		"error":   string(code),
		"message": err.Error(),
	})
}

func httpStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeInvalidInput, dErrors.CodeValidation:
		return http.StatusBadRequest
	case dErrors.CodeConflict, dErrors.CodeInvariantViolation:
		return http.StatusConflict
	case dErrors.CodeInsufficientStock:
		return http.StatusUnprocessableEntity
	case dErrors.CodeTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
