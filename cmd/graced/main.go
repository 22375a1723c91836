// Command graced is the per-node agent: on startup it verifies that this
// node is a member of the grace cohort and watches the shared grace object,
// it serves health/status over HTTP, and it requests grace for itself on
// shutdown. It does not join grace or seed reclaim on startup:
// Backend.ReadClids is not called here.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/gracecoord/internal/httpapi"
	"github.com/marmos91/gracecoord/internal/logger"
	"github.com/marmos91/gracecoord/internal/telemetry"
	"github.com/marmos91/gracecoord/pkg/config"
	"github.com/marmos91/gracecoord/pkg/grace"
	"github.com/marmos91/gracecoord/pkg/metrics"
	"github.com/marmos91/gracecoord/pkg/objectstore/postgres"
	"github.com/marmos91/gracecoord/pkg/recovery"
	clientstorepg "github.com/marmos91/gracecoord/pkg/recovery/clientstore/postgres"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	flags := flag.NewFlagSet("graced", flag.ExitOnError)
	configPath := flags.String("config", "", "path to config file")
	if err := flags.Parse(os.Args[1:]); err != nil {
		log.Fatalf("failed to parse flags: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if err := logger.Init(logger.Config{
		Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output,
	}); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled: cfg.Telemetry.Enabled, ServiceName: "graced", ServiceVersion: version,
		Endpoint: cfg.Telemetry.Endpoint, Insecure: cfg.Telemetry.Insecure, SampleRate: cfg.Telemetry.SampleRate,
	})
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled: cfg.Telemetry.Profiling.Enabled, ServiceName: "graced", ServiceVersion: version,
		Endpoint: cfg.Telemetry.Profiling.Endpoint, ProfileTypes: cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		log.Fatalf("failed to initialize profiling: %v", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
	}
	m := metrics.New(registry)

	store, err := postgres.New(ctx, postgres.Config{
		DSN: cfg.Store.DSN, MaxConns: cfg.Store.MaxConns, MinConns: cfg.Store.MinConns,
		ChannelPrefix: cfg.Store.ChannelPrefix,
	}, nil)
	if err != nil {
		log.Fatalf("failed to connect to object store: %v", err)
	}
	defer store.Close()

	if cfg.Store.AutoMigrate {
		if err := postgres.Migrate(ctx, cfg.Store.DSN, nil); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
	}

	coordinator := grace.New(store, grace.WithMetrics(m))
	if err := coordinator.Create(ctx, cfg.Grace.GraceObject); err != nil {
		log.Fatalf("failed to ensure grace object exists: %v", err)
	}

	clients := clientstorepg.New(store.Pool())
	backend := recovery.New(store, clients, clientstorepg.NullSnapshotter{}, recovery.Config{
		NodeID: cfg.NodeID, GraceObject: cfg.Grace.GraceObject, ClusterMapObject: cfg.Grace.ClusterMapObject,
		WatchMinBackoff: cfg.Grace.WatchMinBackoff, WatchMaxBackoff: cfg.Grace.WatchMaxBackoff,
	}, nil)

	if err := backend.Init(ctx); err != nil {
		log.Fatalf("failed to initialize recovery backend (is this node a cluster member? "+
			"use gracectl to add it first): %v", err)
	}
	logger.Info("recovery backend initialized", "node_id", backend.NodeID())

	httpServer := httpapi.NewServer(httpapi.Config{Addr: cfg.HTTP.Addr}, backend, registry)

	serverDone := make(chan error, 1)
	if cfg.HTTP.Enabled {
		go func() { serverDone <- httpServer.Start(ctx) }()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("graced running", "node_id", backend.NodeID(), "grace_object", cfg.Grace.GraceObject)

	select {
	case <-sigCh:
		signal.Stop(sigCh)
		logger.Info("shutdown signal received")
	case err := <-serverDone:
		if err != nil {
			logger.Error("http server error", "error", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := backend.Shutdown(shutdownCtx); err != nil {
		logger.Error("recovery backend shutdown error", "error", err)
	}
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	fmt.Println("graced stopped")
}
