// Command gateway starts the ingestion and dashboard HTTP service.
//
// The service accepts batch submissions (JSON or CSV upload) for patients,
// visits, and prescriptions, validates and commits them row by row, retains
// batch outcomes for polling, and serves pre-aggregated dashboard summaries.
// Completed batch outcomes are published to a Kafka topic for the audit
// service.
//
// Usage:
//
//	go run ./cmd/gateway [-config configs/development.yaml]
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

	gwhandler "github.com/medisight/healthdata-platform/internal/gateway/handler"
	"github.com/medisight/healthdata-platform/internal/gateway/router"
	"github.com/medisight/healthdata-platform/internal/ingest"
	"github.com/medisight/healthdata-platform/internal/resolve"
	"github.com/medisight/healthdata-platform/internal/store"
	"github.com/medisight/healthdata-platform/internal/summary"
	"github.com/medisight/healthdata-platform/pkg/config"
	"github.com/medisight/healthdata-platform/pkg/health"
	"github.com/medisight/healthdata-platform/pkg/kafka"
	"github.com/medisight/healthdata-platform/pkg/logger"
	"github.com/medisight/healthdata-platform/pkg/metrics"
	"github.com/medisight/healthdata-platform/pkg/postgres"
	"github.com/medisight/healthdata-platform/pkg/redis"
	"github.com/medisight/healthdata-platform/pkg/resilience"
)

// main loads configuration, opens the record store, wires up the ingestion
// coordinator and summary engine, and starts the HTTP server. Graceful
// shutdown is triggered by SIGINT/SIGTERM.
func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting gateway service", "port", cfg.Server.Port, "store", cfg.Store.Driver)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	checker := health.NewChecker()
	recordStore, cleanup, err := openStore(cfg, checker)
	if err != nil {
		slog.Error("failed to open record store", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	var redisClient *redis.Client
	var outcomes ingest.OutcomeStore
	if cfg.Redis.Addr != "" {
		redisClient, err = redis.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		outcomes = ingest.NewRedisOutcomes(redisClient, cfg.Ingest.OutcomeTTL)
		checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
			if err := redisClient.Ping(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
		slog.Info("connected to redis", "addr", cfg.Redis.Addr)
	} else {
		outcomes = ingest.NewMemoryOutcomes(cfg.Ingest.OutcomeTTL)
		slog.Info("redis not configured, retaining outcomes in process")
	}

	var publisher ingest.OutcomePublisher
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topics.BatchOutcomes != "" {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.BatchOutcomes)
		defer producer.Close()
		publisher = ingest.NewKafkaPublisher(producer)
		slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.BatchOutcomes)
	} else {
		slog.Info("kafka not configured, outcome events disabled")
	}

	coordinator := ingest.New(recordStore, resolve.New(recordStore), outcomes, publisher, m)
	engine := summary.NewEngine(recordStore, cfg.Summary.ActiveWindow, m)
	summarizer := summary.NewCached(engine, redisClient, cfg.Summary.CacheTTL, m)

	h := gwhandler.New(gwhandler.Config{
		MaxRows:      cfg.Ingest.MaxRows,
		BatchTimeout: cfg.Ingest.BatchTimeout,
	}, coordinator, outcomes, summarizer, recordStore)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router.New(h, checker, m, cfg.Server.WriteTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()
	slog.Info("gateway service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway service stopped")
}

// openStore builds the configured record store and registers its health
// check. The connection attempt is retried with backoff and the returned
// store is guarded by a circuit breaker so a backend outage fails batches
// fast with accurate outcomes.
func openStore(cfg *config.Config, checker *health.Checker) (store.Store, func(), error) {
	if cfg.Store.Driver == "memory" {
		slog.Warn("using in-memory record store; data will not survive restarts")
		mem := store.NewMemory()
		checker.Register("store", func(ctx context.Context) health.ComponentHealth {
			return health.ComponentHealth{Status: health.StatusUp}
		})
		return mem, func() {}, nil
	}

	var client *postgres.Client
	err := resilience.Retry(context.Background(), "postgres-connect", resilience.RetryConfig{}, func() error {
		var connErr error
		client, connErr = postgres.New(cfg.Postgres)
		return connErr
	})
	if err != nil {
		return nil, nil, err
	}
	slog.Info("connected to postgres", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)

	breaker := resilience.NewCircuitBreaker("record-store", resilience.CircuitBreakerConfig{})
	guarded := store.WithBreaker(store.NewPostgres(client), breaker)
	checker.Register("store", func(ctx context.Context) health.ComponentHealth {
		if err := guarded.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	return guarded, func() { client.Close() }, nil
}
