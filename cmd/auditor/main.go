// Command auditor consumes batch-outcome events from Kafka and serves the
// aggregated ingestion statistics at GET /api/v1/audit/stats.
//
// Usage:
//
//	go run ./cmd/auditor [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medisight/healthdata-platform/internal/audit"
	"github.com/medisight/healthdata-platform/pkg/config"
	"github.com/medisight/healthdata-platform/pkg/kafka"
	"github.com/medisight/healthdata-platform/pkg/logger"
	"github.com/medisight/healthdata-platform/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	port := flag.Int("port", 8083, "audit HTTP port")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting audit service", "port", *port, "topic", cfg.Kafka.Topics.BatchOutcomes)

	aggregator := audit.NewAggregator()
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.BatchOutcomes, audit.HandleEvent(aggregator))
	aggregator.Attach(consumer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Snapshot history is only available with the postgres driver; the
	// in-memory stats still work without it.
	var snapshots *audit.SnapshotStore
	if cfg.Store.Driver == "postgres" {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("postgres unavailable, snapshot history disabled", "error", err)
		} else {
			defer db.Close()
			snapshots = audit.NewSnapshotStore(db)
			if snap, err := snapshots.LatestSnapshot(ctx); err != nil {
				slog.Warn("could not load last audit snapshot", "error", err)
			} else if snap != nil {
				aggregator.Restore(snap.Stats)
				slog.Info("audit counters restored", "captured_at", snap.CapturedAt)
			}
			snapshots.StartPeriodicSave(ctx, aggregator, 5*time.Minute)
		}
	}

	go func() {
		if err := aggregator.Start(ctx); err != nil {
			slog.Error("audit aggregator stopped", "error", err)
		}
	}()

	h := audit.NewHandler(aggregator, snapshots)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/audit/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/audit/history", h.History)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"status":"ok"}`)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()
	slog.Info("audit service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("audit service stopped")
}
