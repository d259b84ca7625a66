package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/ripple/service/cache"
	"github.com/brojonat/ripple/service/config"
	"github.com/brojonat/ripple/service/db"
	"github.com/brojonat/ripple/service/metrics"
	natspkg "github.com/brojonat/ripple/service/nats"
	"github.com/brojonat/ripple/service/payment"
	"github.com/brojonat/ripple/service/routing"
	"github.com/brojonat/ripple/service/server"
	"github.com/brojonat/ripple/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"nats_enabled", cfg.NATSEnabled,
		"temporal_enabled", cfg.TemporalEnabled,
		"redis_enabled", cfg.RedisURL != "",
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Bring the schema up to date
	if err := db.Migrate(ctx, dbPool, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize database store
	store := db.NewStore(dbPool, metricsCollector)

	var serverOpts []server.Option

	// Initialize NATS publisher for recipient notifications and the
	// subscriber behind the SSE payment streams
	var notifier payment.Notifier
	if cfg.NATSEnabled {
		natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer natsPublisher.Close()
		notifier = natsPublisher

		natsSubscriber, err := natspkg.NewSubscriber(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create NATS subscriber", "error", err)
			os.Exit(1)
		}
		defer natsSubscriber.Close()
		serverOpts = append(serverOpts, server.WithEventStream(natsSubscriber))
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	} else {
		logger.Warn("NATS disabled, recipients will not be notified")
	}

	// Initialize Redis for the payment cache and idempotency keys
	if cfg.RedisURL != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		serverOpts = append(serverOpts,
			server.WithPaymentCache(cache.NewPaymentCache(rdb, cfg.PaymentCacheTTL, metricsCollector, logger)),
			server.WithIdempotency(cache.NewIdempotency(rdb, cfg.IdempotencyTTL, metricsCollector, logger)),
		)
	} else {
		logger.Warn("REDIS_URL not set, payment cache and idempotency keys disabled")
	}

	orchestrator := payment.NewOrchestrator(store, store, notifier, payment.Config{
		Budget: routing.Budget{
			MaxPaths:      cfg.RoutingMaxPaths,
			MaxPathLength: cfg.RoutingMaxPathLength,
		},
		CommitTimeout: cfg.SettlementCommitTimeout,
		NotifyTimeout: cfg.NotifyTimeout,
	}, metricsCollector, logger)

	// Initialize Temporal client for async payments
	var starter temporal.PaymentStarter
	if cfg.TemporalEnabled {
		temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
		if err != nil {
			logger.Error("failed to create temporal client", "error", err)
			os.Exit(1)
		}
		defer temporalClient.Close()
		starter = temporalClient
	}

	// Serve metrics on a separate listener when configured
	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
		go func() {
			logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
		defer metricsServer.Close()
	}

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, store, orchestrator, starter, metricsCollector, logger, serverOpts...)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		// Let in-flight notifications finish before NATS closes
		orchestrator.Wait()
		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
