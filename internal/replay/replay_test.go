package replay

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagizoltan/zx-proto-sub001/internal/bus"
	"github.com/dagizoltan/zx-proto-sub001/internal/command"
	"github.com/dagizoltan/zx-proto-sub001/internal/event"
	"github.com/dagizoltan/zx-proto-sub001/internal/orders"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/kv"
)

func seedOrder(t *testing.T, store *event.Store, orderID string) {
	t.Helper()
	ctx := context.Background()
	cmdBus := command.NewBus(store, orders.Handlers())

	cmd, err := command.New(orders.CmdInitializeOrder, orderID, "t1", orders.InitializeOrderPayload{
		CustomerID: "cust-1",
		Items:      []orders.Item{{ProductID: "P1", Quantity: 2}},
	})
	require.NoError(t, err)
	_, err = cmdBus.Execute(ctx, cmd)
	require.NoError(t, err)

	cmd, err = command.New(orders.CmdConfirmOrder, orderID, "t1", struct{}{})
	require.NoError(t, err)
	_, err = cmdBus.Execute(ctx, cmd)
	require.NoError(t, err)
}

func TestReplayRebuildsViews(t *testing.T) {
	ctx := context.Background()
	kvStore := kv.NewMemoryStore()
	store := event.NewStore(kvStore)
	seedOrder(t, store, "O1")

	projectorBus := bus.New(slog.Default())
	orders.NewProjector(kvStore).Register(projectorBus)

	svc := New(store, kvStore, projectorBus)
	processed, err := svc.Replay(ctx, "t1", Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	repo := orders.NewRepository(kvStore)
	doc, err := repo.FindByID(ctx, "t1", "O1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, doc.Status)
}

func TestReplayTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	kvStore := kv.NewMemoryStore()
	store := event.NewStore(kvStore)
	seedOrder(t, store, "O1")

	projectorBus := bus.New(slog.Default())
	orders.NewProjector(kvStore).Register(projectorBus)
	svc := New(store, kvStore, projectorBus)

	_, err := svc.Replay(ctx, "t1", Options{})
	require.NoError(t, err)
	first, err := orders.NewRepository(kvStore).FindByID(ctx, "t1", "O1")
	require.NoError(t, err)

	_, err = svc.Replay(ctx, "t1", Options{})
	require.NoError(t, err)
	second, err := orders.NewRepository(kvStore).FindByID(ctx, "t1", "O1")
	require.NoError(t, err)

	assert.Equal(t, first, second, "replaying twice must equal replaying once")
}

func TestReplayResetRebuildsCorruptView(t *testing.T) {
	ctx := context.Background()
	kvStore := kv.NewMemoryStore()
	store := event.NewStore(kvStore)
	seedOrder(t, store, "O1")

	projectorBus := bus.New(slog.Default())
	orders.NewProjector(kvStore).Register(projectorBus)
	svc := New(store, kvStore, projectorBus)

	_, err := svc.Replay(ctx, "t1", Options{})
	require.NoError(t, err)

	// Corrupt the document behind the projector's back.
	err = kvStore.Atomic().
		Set(kv.Key{"view", "orders", "t1", "O1"}, orders.View{ID: "O1", TenantID: "t1", Status: orders.StatusPending}).
		Commit(ctx)
	require.NoError(t, err)

	// Without a reset the live processed markers make the replay a no-op.
	_, err = svc.Replay(ctx, "t1", Options{})
	require.NoError(t, err)
	doc, err := orders.NewRepository(kvStore).FindByID(ctx, "t1", "O1")
	require.NoError(t, err)
	require.Equal(t, orders.StatusPending, doc.Status)

	_, err = svc.Replay(ctx, "t1", Options{Reset: true})
	require.NoError(t, err)
	doc, err = orders.NewRepository(kvStore).FindByID(ctx, "t1", "O1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, doc.Status)
}

func TestReplayFiltersByType(t *testing.T) {
	ctx := context.Background()
	kvStore := kv.NewMemoryStore()
	store := event.NewStore(kvStore)
	seedOrder(t, store, "O1")

	var seen []event.Type
	filterBus := bus.New(slog.Default())
	filterBus.Subscribe(orders.EventOrderConfirmed, func(_ context.Context, evt event.Event) error {
		seen = append(seen, evt.Type)
		return nil
	})

	svc := New(store, kvStore, filterBus)
	processed, err := svc.Replay(ctx, "t1", Options{Types: []event.Type{orders.EventOrderConfirmed}})
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, []event.Type{orders.EventOrderConfirmed}, seen)
}
