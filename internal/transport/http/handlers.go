package httptransport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dagizoltan/zx-proto-sub001/internal/command"
	"github.com/dagizoltan/zx-proto-sub001/internal/event"
	"github.com/dagizoltan/zx-proto-sub001/internal/inventory"
	"github.com/dagizoltan/zx-proto-sub001/internal/manufacturing"
	"github.com/dagizoltan/zx-proto-sub001/internal/orders"
	"github.com/dagizoltan/zx-proto-sub001/internal/replay"
	"github.com/dagizoltan/zx-proto-sub001/internal/shipments"
	dErrors "github.com/dagizoltan/zx-proto-sub001/pkg/domain-errors"
)

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid request body")
	}
	return nil
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request, bus *command.Bus, t command.Type, aggregateID string, payload any) {
	cmd, err := command.New(t, aggregateID, chi.URLParam(r, "tenantID"), payload)
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := bus.Execute(r.Context(), cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	types := make([]event.Type, 0, len(events))
	for _, evt := range events {
		types = append(types, evt.Type)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"aggregateId": aggregateID,
		"events":      types,
	})
}

// Orders

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var payload orders.InitializeOrderPayload
	if err := decode(r, &payload); err != nil {
		writeError(w, err)
		return
	}
	orderID, err := h.orders.CreateOrder(r.Context(), chi.URLParam(r, "tenantID"), payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"orderId": orderID})
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	docs, err := h.orders.ListOrders(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	doc, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Inventory aggregate

func (h *Handler) handleGetStock(w http.ResponseWriter, r *http.Request) {
	doc, err := h.stock.FindByID(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleReceiveStock(w http.ResponseWriter, r *http.Request) {
	var payload inventory.ReceiveStockPayload
	if err := decode(r, &payload); err != nil {
		writeError(w, err)
		return
	}
	h.execute(w, r, h.inventoryBus, inventory.CmdReceiveStock, chi.URLParam(r, "productID"), payload)
}

func (h *Handler) handleMoveStock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromLocationID string `json:"fromLocationId"`
		FromBatchID    string `json:"fromBatchId"`
		ToLocationID   string `json:"toLocationId"`
		ToBatchID      string `json:"toBatchId"`
		Quantity       int    `json:"quantity"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	referenceID := uuid.NewString()
	err := h.allocation.Move(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "productID"),
		req.FromLocationID, req.FromBatchID, req.ToLocationID, req.ToBatchID, req.Quantity, referenceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"referenceId": referenceID})
}

// Allocation engine

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReferenceID string                        `json:"referenceId"`
		Items       []inventory.AllocationRequest `json:"items"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ReferenceID == "" {
		req.ReferenceID = uuid.NewString()
	}
	if err := h.allocation.Allocate(r.Context(), chi.URLParam(r, "tenantID"), req.Items, req.ReferenceID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"referenceId": req.ReferenceID})
}

func (h *Handler) handleCommitAllocation(w http.ResponseWriter, r *http.Request) {
	if err := h.allocation.Commit(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "referenceID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "committed"})
}

func (h *Handler) handleReleaseAllocation(w http.ResponseWriter, r *http.Request) {
	if err := h.allocation.Release(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "referenceID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	movements, err := h.allocation.Movements(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "referenceID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, movements)
}

// Manufacturing

func (h *Handler) handleScheduleProduction(w http.ResponseWriter, r *http.Request) {
	var payload manufacturing.ScheduleProductionPayload
	if err := decode(r, &payload); err != nil {
		writeError(w, err)
		return
	}
	h.execute(w, r, h.manufacturing, manufacturing.CmdScheduleProduction, uuid.NewString(), payload)
}

func (h *Handler) handleStartProduction(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, h.manufacturing, manufacturing.CmdStartProduction, chi.URLParam(r, "productionOrderID"), struct{}{})
}

func (h *Handler) handleCompleteProduction(w http.ResponseWriter, r *http.Request) {
	var payload manufacturing.CompleteProductionPayload
	if err := decode(r, &payload); err != nil {
		writeError(w, err)
		return
	}
	h.execute(w, r, h.manufacturing, manufacturing.CmdCompleteProduction, chi.URLParam(r, "productionOrderID"), payload)
}

// Shipments

func (h *Handler) handleListShipments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.shipments.List(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *Handler) handleGetShipment(w http.ResponseWriter, r *http.Request) {
	doc, err := h.shipments.FindByID(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "shipmentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleShipPackage(w http.ResponseWriter, r *http.Request) {
	var payload shipments.ShipPackagePayload
	if err := decode(r, &payload); err != nil {
		writeError(w, err)
		return
	}
	h.execute(w, r, h.shipmentBus, shipments.CmdShipPackage, chi.URLParam(r, "shipmentID"), payload)
}

func (h *Handler) handleDeliverPackage(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, h.shipmentBus, shipments.CmdDeliverPackage, chi.URLParam(r, "shipmentID"), struct{}{})
}

// Replay

func (h *Handler) handleReplay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Types []event.Type `json:"types,omitempty"`
		Reset bool         `json:"reset,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	processed, err := h.replay.Replay(r.Context(), chi.URLParam(r, "tenantID"), replay.Options{Types: req.Types, Reset: req.Reset})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed": processed})
}
