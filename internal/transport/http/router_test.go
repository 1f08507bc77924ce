package httptransport

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagizoltan/zx-proto-sub001/internal/bus"
	"github.com/dagizoltan/zx-proto-sub001/internal/command"
	"github.com/dagizoltan/zx-proto-sub001/internal/event"
	"github.com/dagizoltan/zx-proto-sub001/internal/inventory"
	"github.com/dagizoltan/zx-proto-sub001/internal/manufacturing"
	"github.com/dagizoltan/zx-proto-sub001/internal/orders"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/kv"
	"github.com/dagizoltan/zx-proto-sub001/internal/replay"
	"github.com/dagizoltan/zx-proto-sub001/internal/shipments"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.Default()
	store := kv.NewMemoryStore()
	events := event.NewStore(store)

	orderBus := command.NewBus(events, orders.Handlers())
	h := NewHandler(
		orders.NewService(orderBus, store),
		command.NewBus(events, inventory.Handlers()),
		command.NewBus(events, manufacturing.Handlers()),
		command.NewBus(events, shipments.Handlers()),
		inventory.NewAllocationService(store),
		store,
		replay.New(events, store, bus.New(logger)),
		logger,
	)
	srv := httptest.NewServer(NewRouter(h, logger))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateOrderAccepted(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/tenants/t1/orders", orders.InitializeOrderPayload{
		CustomerID: "cust-1",
		Items:      []orders.Item{{ProductID: "P1", Quantity: 2}},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotEmpty(t, out["orderId"])
}

func TestCreateOrderWithoutItemsIsBadRequest(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/tenants/t1/orders", orders.InitializeOrderPayload{CustomerID: "cust-1"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetMissingOrderIsNotFound(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/tenants/t1/orders/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "not_found", out["error"])
}

func TestReceiveStockAccepted(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/tenants/t1/inventory/P1/receive", inventory.ReceiveStockPayload{
		LocationID: "L1",
		Quantity:   5,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestAllocateInsufficientStock(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/tenants/t1/allocations", map[string]any{
		"items": []inventory.AllocationRequest{{ProductID: "P1", Quantity: 10}},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}
