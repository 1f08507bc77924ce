// Package sweep runs the periodic purge of expired TTL records
// (saga idempotency markers, projector processed markers).
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/dagizoltan/zx-proto-sub001/internal/platform/metrics"
)

// Sweeper is the store-side capability the worker needs.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

type Service struct {
	store    Sweeper
	logger   *slog.Logger
	interval time.Duration
	metrics  *metrics.Metrics
}

func New(store Sweeper, opts ...Option) *Service {
	service := &Service{
		store:    store,
		logger:   slog.Default(),
		interval: 15 * time.Minute,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			purged, err := s.store.SweepExpired(ctx)
			if err != nil {
				s.logger.Error("kv_sweep_failed",
					"error", err,
					"duration_ms", time.Since(start).Milliseconds(),
				)
				continue
			}
			s.logger.Info("kv_sweep_completed",
				"purged", purged,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			if s.metrics != nil {
				s.metrics.SweepPurged.Add(float64(purged))
			}
		case <-ctx.Done():
			s.logger.Info("kv sweep worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunOnce executes a single sweep. Logging is handled by the caller (Start).
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	return s.store.SweepExpired(ctx)
}
