package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagizoltan/zx-proto-sub001/internal/event"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/kv"
	dErrors "github.com/dagizoltan/zx-proto-sub001/pkg/domain-errors"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New(nil)
	var got []string
	b.Subscribe("OrderInitialized", func(_ context.Context, evt event.Event) error {
		got = append(got, "projector:"+evt.ID)
		return nil
	})
	b.Subscribe("OrderInitialized", func(_ context.Context, evt event.Event) error {
		got = append(got, "saga:"+evt.ID)
		return nil
	})
	b.Subscribe("OrderConfirmed", func(context.Context, event.Event) error {
		t.Fatal("wrong type must not fire")
		return nil
	})

	err := b.Publish(context.Background(), event.Event{ID: "e1", Type: "OrderInitialized"})
	require.NoError(t, err)
	assert.Equal(t, []string{"projector:e1", "saga:e1"}, got)
}

func TestPublishFailureDoesNotStopOtherHandlers(t *testing.T) {
	b := New(nil)
	ran := false
	b.Subscribe("X", func(context.Context, event.Event) error {
		return dErrors.New(dErrors.CodeInternal, "boom")
	})
	b.Subscribe("X", func(context.Context, event.Event) error {
		ran = true
		return nil
	})

	err := b.Publish(context.Background(), event.Event{Type: "X"})
	require.Error(t, err, "failure must surface so the queue redelivers")
	assert.True(t, ran)
}

func TestRelayRepublishesAndRedelivers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := kv.NewMemoryStore()
	b := New(nil)

	var (
		mu       sync.Mutex
		attempts int
	)
	done := make(chan struct{})
	b.Subscribe("StockReceived", func(_ context.Context, evt event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		// First delivery fails; at-least-once redelivery must retry it.
		if attempts == 1 {
			return dErrors.New(dErrors.CodeInternal, "transient projector failure")
		}
		close(done)
		return nil
	})

	env := event.Envelope{
		Kind:  event.EnvelopeKindDomainEvent,
		Event: event.Event{ID: "e1", Type: "StockReceived", TenantID: "t1", StreamID: "p1", Version: 1},
	}
	require.NoError(t, store.Atomic().Enqueue(env).Commit(ctx))

	go func() { _ = NewRelay(store, b, nil).Start(ctx) }()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("event was not redelivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts)
}

func TestRelayDropsUnknownKinds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	store := kv.NewMemoryStore()
	b := New(nil)
	fired := false
	b.Subscribe("X", func(context.Context, event.Event) error {
		fired = true
		return nil
	})

	require.NoError(t, store.Atomic().Enqueue(map[string]string{"kind": "SOMETHING_ELSE"}).Commit(ctx))
	_ = NewRelay(store, b, nil).Start(ctx)

	assert.False(t, fired)
}
