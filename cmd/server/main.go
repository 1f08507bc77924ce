package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dagizoltan/zx-proto-sub001/internal/bus"
	"github.com/dagizoltan/zx-proto-sub001/internal/command"
	"github.com/dagizoltan/zx-proto-sub001/internal/event"
	"github.com/dagizoltan/zx-proto-sub001/internal/inventory"
	"github.com/dagizoltan/zx-proto-sub001/internal/manufacturing"
	"github.com/dagizoltan/zx-proto-sub001/internal/orders"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/config"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/kv"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/kv/sweep"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/logger"
	"github.com/dagizoltan/zx-proto-sub001/internal/platform/metrics"
	"github.com/dagizoltan/zx-proto-sub001/internal/replay"
	"github.com/dagizoltan/zx-proto-sub001/internal/saga"
	"github.com/dagizoltan/zx-proto-sub001/internal/shipments"
	httptransport "github.com/dagizoltan/zx-proto-sub001/internal/transport/http"
	"github.com/dagizoltan/zx-proto-sub001/internal/view"
)

// main wires high-level dependencies and keeps the process lifecycle
// small. Business logic lives in the internal context packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.LogDebug {
		level = slog.LevelDebug
	}
	log := logger.New(level)

	log.Info("initializing ops platform",
		"addr", cfg.Addr,
		"data_path", cfg.DataPath,
	)

	store, err := kv.Open(cfg.DataPath, kv.WithLogger(log))
	if err != nil {
		log.Error("opening store failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	m := metrics.New()
	events := event.NewStore(store, event.WithMetrics(m))

	orderBus := command.NewBus(events, orders.Handlers(), command.WithMetrics(m))
	inventoryBus := command.NewBus(events, inventory.Handlers(), command.WithMetrics(m))
	manufacturingBus := command.NewBus(events, manufacturing.Handlers(), command.WithMetrics(m))
	shipmentBus := command.NewBus(events, shipments.Handlers(), command.WithMetrics(m))

	// Live bus: projectors and process managers, fed by the outbox relay.
	eventBus := bus.New(log)

	orderProjector := orders.NewProjector(store, view.WithMetrics[orders.View](m), view.WithProcessedTTL[orders.View](cfg.ProcessedTTL))
	stockProjector := inventory.NewProjector(store, view.WithMetrics[inventory.View](m), view.WithProcessedTTL[inventory.View](cfg.ProcessedTTL))
	shipmentProjector := shipments.NewProjector(store, view.WithMetrics[shipments.View](m), view.WithProcessedTTL[shipments.View](cfg.ProcessedTTL))
	orderProjector.Register(eventBus)
	stockProjector.Register(eventBus)
	shipmentProjector.Register(eventBus)

	orders.NewProcessManager(orderBus, inventoryBus,
		saga.NewMarkers(store, "orders", cfg.SagaMarkerTTL),
		orders.WithLogger(log), orders.WithMetrics(m),
	).Register(eventBus)
	manufacturing.NewProcessManager(inventoryBus,
		saga.NewMarkers(store, "manufacturing", cfg.SagaMarkerTTL),
		manufacturing.WithLogger(log), manufacturing.WithMetrics(m),
	).Register(eventBus)
	shipments.NewProcessManager(shipmentBus, store,
		saga.NewMarkers(store, "shipments", cfg.SagaMarkerTTL),
		shipments.WithLogger(log), shipments.WithMetrics(m),
	).Register(eventBus)

	// Replay bus: projectors only, so rebuilding views never re-drives sagas.
	replayBus := bus.New(log)
	orderProjector.Register(replayBus)
	stockProjector.Register(replayBus)
	shipmentProjector.Register(replayBus)
	replaySvc := replay.New(events, store, replayBus, replay.WithLogger(log))

	allocation := inventory.NewAllocationService(store,
		inventory.WithLogger(log), inventory.WithMetrics(m))

	handler := httptransport.NewHandler(
		orders.NewService(orderBus, store),
		inventoryBus, manufacturingBus, shipmentBus,
		allocation, store, replaySvc, log,
	)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      httptransport.NewRouter(handler, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	relay := bus.NewRelay(store, eventBus, log, bus.WithRelayMetrics(m))
	g.Go(func() error {
		if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	sweeper := sweep.New(store, sweep.WithLogger(log), sweep.WithInterval(cfg.SweepInterval), sweep.WithMetrics(m))
	g.Go(func() error {
		if err := sweeper.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
