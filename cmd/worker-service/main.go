package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/email-delivery/internal/bootstrap"
	"github.com/cuongbtq/email-delivery/internal/config"
	"github.com/cuongbtq/email-delivery/internal/notify"
	"github.com/cuongbtq/email-delivery/internal/scheduler"
	"github.com/cuongbtq/email-delivery/internal/storage"
	"github.com/cuongbtq/email-delivery/internal/suppression"
	"github.com/cuongbtq/email-delivery/internal/transport"
	"github.com/cuongbtq/email-delivery/internal/worker"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL client
	dbClient, err := bootstrap.InitPostgreSQL(ctx, &cfg.Database, "worker-service", appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	// RabbitMQ only shortens the wait for new jobs; ticks work without it
	rabbitClient, err := bootstrap.InitRabbitMQ(ctx, &cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	var notifier *notify.Notifier
	if rabbitClient != nil {
		defer rabbitClient.Close()
		notifier = notify.New(rabbitClient, appLogger.Logger)
	}

	limiter, closeLimiter, err := bootstrap.NewLimiter(ctx, cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize rate limiter: %w", err)
	}
	defer closeLimiter()

	sender, err := transport.New(ctx, cfg.Transport, cfg.Sending.DryRunMode, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize transport: %w", err)
	}

	registry, appMetrics := bootstrap.NewMetrics()

	db := dbClient.GetDB()
	jobStore := storage.NewJobStore(db, appLogger.Logger)
	leadStore := storage.NewLeadStore(db, appLogger.Logger)

	guard := suppression.NewGuard(leadStore, suppression.Policy{
		SandboxMode:      cfg.Sending.TestSendMode,
		Allowlist:        cfg.Sending.TestAllowlist,
		FailureThreshold: cfg.Sending.FailureThreshold,
	}, appLogger.Logger)

	dispatcher := worker.NewWorker(&worker.Config{
		Logger:       appLogger.Logger,
		Jobs:         jobStore,
		Guard:        guard,
		Limiter:      limiter,
		Sender:       sender,
		Metrics:      appMetrics,
		Concurrency:  cfg.Dispatcher.Concurrency,
		BatchSize:    cfg.Dispatcher.BatchSize,
		TickInterval: cfg.Dispatcher.TickInterval,
		SendTimeout:  cfg.Dispatcher.SendTimeout,
		ParkInterval: cfg.Dispatcher.ParkInterval,
		LockTTL:      cfg.Sending.LockTTL(),
		Backoff: worker.Backoff{
			Base: cfg.Sending.BackoffBase,
			Max:  cfg.Sending.BackoffMax,
		},
		DryRun: cfg.Sending.DryRunMode,
	})

	sched := scheduler.New(&scheduler.Config{
		Logger:       appLogger.Logger,
		Campaigns:    storage.NewCampaignStore(db, appLogger.Logger),
		Leads:        leadStore,
		Automations:  storage.NewAutomationStore(db, appLogger.Logger),
		Jobs:         jobStore,
		Stats:        jobStore,
		Notifier:     notifier,
		Metrics:      appMetrics,
		PublicURL:    cfg.Deliverability.PublicURL,
		TestSendMode: cfg.Sending.TestSendMode,
		MaxAttempts:  cfg.Sending.MaxAttempts,
		TickInterval: cfg.Scheduler.TickInterval,
		BatchSize:    cfg.Scheduler.AutomationBatchSize,
		LockTTL:      cfg.Sending.LockTTL(),
	})

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Start(gctx)
	})
	g.Go(func() error {
		return sched.Start(gctx)
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})

	if rabbitClient != nil {
		if err := dispatcher.StartWakeupConsumer(gctx, rabbitClient); err != nil {
			appLogger.Warn("Wake-up consumer unavailable, relying on tick interval",
				slog.Any("error", err),
			)
		}
	}

	appLogger.Info("Worker service started successfully",
		slog.String("transport", sender.Name()),
		slog.Int("metrics_port", cfg.Server.MetricsPort),
		slog.Bool("dry_run", cfg.Sending.DryRunMode),
		slog.Bool("test_send_mode", cfg.Sending.TestSendMode),
	)

	<-gctx.Done()
	if ctx.Err() != nil {
		appLogger.Info("Received signal, shutting down gracefully")
	}

	// Give in-flight jobs time to settle
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Dispatcher.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		dispatcher.Stop()
		sched.Stop()
		close(done)
	}()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("Failed to shutdown metrics server", slog.Any("error", err))
	}

	select {
	case <-done:
		appLogger.Info("Dispatcher and scheduler stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
		return shutdownCtx.Err()
	}

	err = g.Wait()
	dbClient.LogStats()

	if err != nil {
		appLogger.Error("Worker error", slog.Any("error", err))
		return err
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}
