package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/trace"

	llmsim "github.com/eugener/llmsim/internal"
	"github.com/eugener/llmsim/internal/catalogue"
	"github.com/eugener/llmsim/internal/config"
	"github.com/eugener/llmsim/internal/forwarder"
	"github.com/eugener/llmsim/internal/generator"
	"github.com/eugener/llmsim/internal/ratelimit"
	"github.com/eugener/llmsim/internal/recordreplay"
	"github.com/eugener/llmsim/internal/server"
	"github.com/eugener/llmsim/internal/simulator"
	"github.com/eugener/llmsim/internal/telemetry"
)

const staleLimiterAge = time.Hour

func run(addr string) error {
	mgr, err := config.Load()
	if err != nil {
		return err
	}
	static := mgr.Static()

	slog.Info("starting llmsim", "version", version, "addr", addr, "mode", mgr.Snapshot().Mode)

	registry := catalogue.New()
	if static.DeploymentConfigPath != "" {
		if err := registry.LoadFile(static.DeploymentConfigPath); err != nil {
			return err
		}
		slog.Info("deployment catalogue loaded", "path", static.DeploymentConfigPath, "deployments", len(registry.List()))
	} else {
		registry.LoadDefaults()
		slog.Info("deployment catalogue defaults loaded", "deployments", len(registry.List()))
	}

	store := recordreplay.NewStore()
	persister := recordreplay.NewPersister(static.RecordingDir)
	if mgr.Snapshot().Mode != llmsim.ModeGenerate {
		n, err := loadRecordings(store, persister, static.RecordingDir)
		if err != nil {
			return err
		}
		slog.Info("recordings loaded", "dir", static.RecordingDir, "paths", n)
	}

	logger := slog.Default()
	resolver := generator.NewResolver(registry, logger)
	fillers := generator.NewFillerCache()
	generators := generator.NewDefaultSet(resolver, fillers)

	// Shared DNS cache for the forwarder's upstream HTTP client.
	dnsResolver := &dnscache.Resolver{}
	fwd := forwarder.New(dnsResolver)
	limiter := ratelimit.NewRegistry()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promRegistry.MustRegister(collectors.NewGoCollector())
	metrics := telemetry.NewMetrics(promRegistry)
	metricsHandler := promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})

	var tracer trace.Tracer
	var tracingShutdown func(context.Context) error
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		shutdown, err := telemetry.SetupTracing(context.Background(), endpoint, 1.0)
		if err != nil {
			slog.Warn("tracing setup failed, continuing without tracing", "error", err)
		} else {
			tracingShutdown = shutdown
			tracer = telemetry.Tracer("llmsim/server")
			slog.Info("opentelemetry tracing enabled", "endpoint", endpoint)
		}
	}

	pipeline := &simulator.Pipeline{
		Config:     mgr,
		Catalogue:  registry,
		Generators: generators,
		Store:      store,
		Persister:  persister,
		Forwarder:  fwd,
		Limiter:    limiter,
		Metrics:    metrics,
		Logger:     logger,
	}

	handler := server.New(server.Deps{
		Pipeline:       pipeline,
		Config:         mgr,
		Catalogue:      registry,
		Store:          store,
		Persister:      persister,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Tracer:         tracer,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		t := time.NewTicker(10 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := limiter.EvictStale(time.Now().Add(-staleLimiterAge)); n > 0 {
					slog.Info("rate limiter eviction", "evicted", n)
				}
			}
		}
	}()

	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				dnsResolver.Refresh(true)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("llmsim ready", "addr", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		cancel()
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		cancel()
		return err
	}
	cancel()

	if mgr.Snapshot().Mode == llmsim.ModeRecord && static.RecordingAutosave {
		if err := saveAllRecordings(store, persister); err != nil {
			slog.Error("final recording save failed", "error", err)
		}
	}

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	slog.Info("llmsim stopped")
	return nil
}

// loadRecordings walks dir for *.yaml recording files, reconstructs the
// endpoint path each file corresponds to (the inverse of Persister.FilePathFor),
// and loads its entries into store.
func loadRecordings(store *recordreplay.Store, persister *recordreplay.Persister, dir string) (int, error) {
	entriesDir, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	loaded := 0
	for _, f := range entriesDir {
		if f.IsDir() || filepath.Ext(f.Name()) != ".yaml" {
			continue
		}
		name := strings.TrimSuffix(f.Name(), ".yaml")
		urlPath := "/" + strings.ReplaceAll(name, "_", "/")

		entries, ok, err := persister.Load(urlPath)
		if err != nil {
			return loaded, err
		}
		if !ok {
			continue
		}
		store.LoadPath(urlPath, entries)
		loaded++
	}
	return loaded, nil
}

// saveAllRecordings flushes every in-memory recording path to disk, used on
// graceful shutdown in record mode.
func saveAllRecordings(store *recordreplay.Store, persister *recordreplay.Persister) error {
	for _, path := range store.Paths() {
		if err := persister.Save(path, store.Entries(path)); err != nil {
			return err
		}
	}
	return nil
}
