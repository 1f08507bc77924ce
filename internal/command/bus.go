// Package command dispatches commands to aggregate handlers, giving each
// handler a stream loader and a commit function so aggregate logic stays
// free of storage concerns.
package command

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dagizoltan/zx-proto-sub001/internal/event"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/metrics"
	dErrors "github.com/dagizoltan/zx-proto-sub001/pkg/domain-errors"
)

// Type identifies the kind of a command, e.g. "InitializeOrder".
type Type string

// Command is a transient request against one aggregate instance. The
// aggregate id doubles as the event stream id.
type Command struct {
	Type        Type            `json:"type"`
	AggregateID string          `json:"aggregateId"`
	TenantID    string          `json:"tenantId"`
	Payload     json.RawMessage `json:"payload"`
}

// DecodePayload unmarshals the command payload into v.
func (c Command) DecodePayload(v any) error {
	if len(c.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(c.Payload, v)
}

// New builds a command with a JSON-encoded payload.
func New(t Type, aggregateID, tenantID string, payload any) (Command, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Command{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "command: encode payload")
	}
	return Command{Type: t, AggregateID: aggregateID, TenantID: tenantID, Payload: raw}, nil
}

// LoadStream reads the aggregate's full event history.
type LoadStream func(ctx context.Context) ([]event.Event, error)

// CommitEvents appends new events at the expected version.
type CommitEvents func(ctx context.Context, pending []event.Pending, expectedVersion int64) ([]event.Event, error)

// Handler is a pure aggregate function: hydrate from history, validate,
// commit new events. No side effects beyond the commit.
type Handler func(ctx context.Context, load LoadStream, commit CommitEvents, cmd Command) error

// CurrentVersion returns the version of the last event in the history, or
// 0 for an empty stream. Handlers pass it as the expected version.
func CurrentVersion(history []event.Event) int64 {
	if len(history) == 0 {
		return 0
	}
	return int64(history[len(history)-1].Version)
}

// Bus routes commands for one bounded context. The handler registry is
// built once at construction and never mutated afterwards.
type Bus struct {
	store    *event.Store
	handlers map[Type]Handler
	tracer   trace.Tracer
	metrics  *metrics.Metrics
}

// BusOption configures the Bus.
type BusOption func(*Bus)

// WithTracer overrides the default OpenTelemetry tracer.
func WithTracer(t trace.Tracer) BusOption {
	return func(b *Bus) { b.tracer = t }
}

// WithMetrics wires the command duration histogram.
func WithMetrics(m *metrics.Metrics) BusOption {
	return func(b *Bus) { b.metrics = m }
}

// NewBus constructs a bus over the shared event store with a fixed handler
// mapping for the context.
func NewBus(store *event.Store, handlers map[Type]Handler, opts ...BusOption) *Bus {
	b := &Bus{
		store:    store,
		handlers: handlers,
		tracer:   otel.Tracer("zx/command"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Execute dispatches the command to its handler and returns whatever events
// the handler committed. An unknown type or missing aggregate id is a
// programmer error, not a domain failure.
func (b *Bus) Execute(ctx context.Context, cmd Command) ([]event.Event, error) {
	handler, ok := b.handlers[cmd.Type]
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown command type: "+string(cmd.Type))
	}
	if cmd.AggregateID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "command "+string(cmd.Type)+" missing aggregateId")
	}

	ctx, span := b.tracer.Start(ctx, "command.execute", trace.WithAttributes(
		attribute.String("command.type", string(cmd.Type)),
		attribute.String("command.aggregate_id", cmd.AggregateID),
	))
	start := time.Now()

	var committed []event.Event
	load := func(ctx context.Context) ([]event.Event, error) {
		return b.store.ReadStream(ctx, cmd.TenantID, cmd.AggregateID, 0)
	}
	commit := func(ctx context.Context, pending []event.Pending, expectedVersion int64) ([]event.Event, error) {
		events, err := b.store.Append(ctx, cmd.TenantID, cmd.AggregateID, pending, expectedVersion)
		if err != nil {
			return nil, err
		}
		committed = append(committed, events...)
		return events, nil
	}

	err := handler(ctx, load, commit, cmd)

	if b.metrics != nil {
		b.metrics.CommandDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}
	span.End()
	return committed, nil
}
