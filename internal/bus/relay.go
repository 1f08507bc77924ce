package bus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/dagizoltan/zx-proto-sub001/internal/event"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/kv"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/metrics"
)

// Relay consumes the durable queue and republishes committed events on the
// in-process bus. Delivery is at-least-once: the queue redelivers until
// every subscriber succeeds, so a crash between commit and relay loses
// nothing.
type Relay struct {
	store   kv.Store
	bus     *Bus
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// RelayOption configures the Relay.
type RelayOption func(*Relay)

// WithRelayMetrics wires delivery counters.
func WithRelayMetrics(m *metrics.Metrics) RelayOption {
	return func(r *Relay) { r.metrics = m }
}

func NewRelay(store kv.Store, b *Bus, logger *slog.Logger, opts ...RelayOption) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Relay{store: store, bus: b, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start blocks consuming the queue until ctx is done.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("outbox relay started")
	return r.store.Listen(ctx, r.dispatch)
}

func (r *Relay) dispatch(ctx context.Context, msg []byte) error {
	var env event.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		// Unparseable messages can never succeed; drop rather than wedge the queue.
		r.logger.Error("dropping unparseable queue message", "error", err)
		return nil
	}
	if env.Kind != event.EnvelopeKindDomainEvent {
		r.logger.Warn("dropping unknown queue message kind", "kind", env.Kind)
		return nil
	}
	if err := r.bus.Publish(ctx, env.Event); err != nil {
		if r.metrics != nil {
			r.metrics.RelayFailures.Inc()
		}
		return err
	}
	if r.metrics != nil {
		r.metrics.RelayDelivered.Inc()
	}
	return nil
}
