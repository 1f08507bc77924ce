package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagizoltan/zx-proto-sub001/internal/event"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/kv"
	dErrors "github.com/dagizoltan/zx-proto-sub001/pkg/domain-errors"
)

func newTestBus(t *testing.T, handlers map[Type]Handler) (*Bus, *event.Store) {
	t.Helper()
	store := event.NewStore(kv.NewMemoryStore())
	return NewBus(store, handlers), store
}

func TestExecuteUnknownTypeFails(t *testing.T) {
	b, _ := newTestBus(t, map[Type]Handler{})
	_, err := b.Execute(context.Background(), Command{Type: "Nope", AggregateID: "a1", TenantID: "t1"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestExecuteMissingAggregateIDFails(t *testing.T) {
	b, _ := newTestBus(t, map[Type]Handler{
		"DoThing": func(context.Context, LoadStream, CommitEvents, Command) error { return nil },
	})
	_, err := b.Execute(context.Background(), Command{Type: "DoThing", TenantID: "t1"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestExecuteReturnsCommittedEvents(t *testing.T) {
	handlers := map[Type]Handler{
		"DoThing": func(ctx context.Context, load LoadStream, commit CommitEvents, cmd Command) error {
			history, err := load(ctx)
			if err != nil {
				return err
			}
			_, err = commit(ctx, []event.Pending{{Type: "ThingDone", Data: map[string]string{"id": cmd.AggregateID}}}, CurrentVersion(history))
			return err
		},
	}
	b, store := newTestBus(t, handlers)

	committed, err := b.Execute(context.Background(), Command{Type: "DoThing", AggregateID: "a1", TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, committed, 1)
	assert.Equal(t, event.Type("ThingDone"), committed[0].Type)
	assert.EqualValues(t, 1, committed[0].Version)

	// Second execution sees prior history through the load closure.
	committed, err = b.Execute(context.Background(), Command{Type: "DoThing", AggregateID: "a1", TenantID: "t1"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, committed[0].Version)

	history, err := store.ReadStream(context.Background(), "t1", "a1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestExecutePropagatesConcurrencyError(t *testing.T) {
	handlers := map[Type]Handler{
		"Stale": func(ctx context.Context, _ LoadStream, commit CommitEvents, _ Command) error {
			// Claims version 5 on an empty stream.
			_, err := commit(ctx, []event.Pending{{Type: "Never", Data: nil}}, 5)
			return err
		},
	}
	b, _ := newTestBus(t, handlers)

	_, err := b.Execute(context.Background(), Command{Type: "Stale", AggregateID: "a1", TenantID: "t1"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict), "append failures must surface to the caller")
}

func TestCurrentVersion(t *testing.T) {
	assert.EqualValues(t, 0, CurrentVersion(nil))
	assert.EqualValues(t, 3, CurrentVersion([]event.Event{{Version: 1}, {Version: 2}, {Version: 3}}))
}
