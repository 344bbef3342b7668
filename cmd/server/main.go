// Command server runs the model health monitor: scheduled drift checks,
// retraining triggers, and the Prometheus scrape endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TAS/modelguard/pkg/alerting"
	"github.com/TAS/modelguard/pkg/config"
	"github.com/TAS/modelguard/pkg/distribution"
	"github.com/TAS/modelguard/pkg/drift"
	"github.com/TAS/modelguard/pkg/logger"
	"github.com/TAS/modelguard/pkg/metrics"
	"github.com/TAS/modelguard/pkg/monitor"
	"github.com/TAS/modelguard/pkg/registry"
	"github.com/TAS/modelguard/pkg/retraining"
	"github.com/TAS/modelguard/pkg/storage/badgerstore"
	"github.com/TAS/modelguard/pkg/storage/memory"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

type historyStore interface {
	distribution.SnapshotStore
	drift.ReportStore
	RecordsSince(ctx context.Context, dataset string, since time.Time) (int64, error)
}

func run(configPath string) error {
	cfg, err := config.NewLoader("MODELGUARD").Load(configPath)
	if err != nil {
		return err
	}

	log := logger.NewLogger(&logger.Config{
		Level:   logger.ParseLogLevel(cfg.Service.LogLevel),
		Format:  logger.JSONFormat,
		Output:  os.Stdout,
		Service: cfg.Service.Name,
		Version: cfg.Service.Version,
	})

	var store historyStore
	switch cfg.Storage.Backend {
	case "badger":
		badgerStore, err := badgerstore.Open(cfg.Storage.Path, log)
		if err != nil {
			return err
		}
		defer badgerStore.Close()
		store = badgerStore
	default:
		store = memory.NewStore()
	}

	artifactDir := cfg.Storage.Path
	if artifactDir == "" {
		artifactDir = "./artifacts"
	} else {
		artifactDir = artifactDir + "/artifacts"
	}
	artifacts, err := registry.NewFileArtifactStore(artifactDir)
	if err != nil {
		return err
	}

	reg := registry.NewRegistry(artifacts, log)
	met := metrics.NewManager(cfg.Service.Name)

	mon := distribution.NewMonitor(&distribution.MonitorConfig{Workers: cfg.Drift.Workers}, store, log)
	detector := drift.NewDetector(&drift.DetectorConfig{
		KSAlpha:      cfg.Drift.KSAlpha,
		PSIBins:      cfg.Drift.PSIBins,
		PSIThreshold: cfg.Drift.PSIThreshold,
		Workers:      cfg.Drift.Workers,
	}, store, log)

	engine := retraining.NewEngine(retraining.EngineConfig{
		VolumeThreshold:      cfg.Retraining.VolumeThreshold,
		DegradationWindow:    cfg.Retraining.DegradationWindow,
		DegradationThreshold: cfg.Retraining.DegradationThreshold,
		Metric:               cfg.Promotion.PrimaryMetric,
	}, store, reg, log)

	alerts := alerting.NewManager(alerting.Config{
		Enabled:  cfg.Alerting.Enabled,
		Cooldown: cfg.Alerting.Cooldown,
	}, log, alerting.NewLogChannel(log))

	provider := monitor.NewFileProvider(cfg.Monitor.DataDir)
	service := monitor.NewService(monitor.Config{
		Schedule:    cfg.Monitor.Schedule,
		AutoRetrain: cfg.Monitor.AutoRetrain,
	}, provider, mon, detector, engine, nil, alerts, met, log)

	if err := service.Start(); err != nil {
		return err
	}
	defer service.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", met.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	httpServer := &http.Server{
		Addr:         cfg.Monitor.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics endpoint listening on %s", cfg.Monitor.MetricsAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("metrics server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("metrics server shutdown was not clean")
	}

	return nil
}
