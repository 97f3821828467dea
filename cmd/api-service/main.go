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

	"github.com/cuongbtq/email-delivery/internal/analytics"
	"github.com/cuongbtq/email-delivery/internal/api/handler"
	"github.com/cuongbtq/email-delivery/internal/api/router"
	"github.com/cuongbtq/email-delivery/internal/bootstrap"
	"github.com/cuongbtq/email-delivery/internal/config"
	"github.com/cuongbtq/email-delivery/internal/deliverability"
	"github.com/cuongbtq/email-delivery/internal/notify"
	"github.com/cuongbtq/email-delivery/internal/scheduler"
	"github.com/cuongbtq/email-delivery/internal/storage"
	"github.com/cuongbtq/email-delivery/internal/suppression"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
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
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL client
	dbClient, err := bootstrap.InitPostgreSQL(ctx, &cfg.Database, "api-service", appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	// RabbitMQ is optional here: without it new jobs wait for the next tick
	rabbitClient, err := bootstrap.InitRabbitMQ(ctx, &cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	var notifier *notify.Notifier
	if rabbitClient != nil {
		defer rabbitClient.Close()
		notifier = notify.New(rabbitClient, appLogger.Logger)
	}

	registry, appMetrics := bootstrap.NewMetrics()

	db := dbClient.GetDB()
	jobStore := storage.NewJobStore(db, appLogger.Logger)
	leadStore := storage.NewLeadStore(db, appLogger.Logger)
	campaignStore := storage.NewCampaignStore(db, appLogger.Logger)
	automationStore := storage.NewAutomationStore(db, appLogger.Logger)
	checklistStore := storage.NewChecklistStore(db, appLogger.Logger)

	guard := suppression.NewGuard(leadStore, suppression.Policy{
		SandboxMode:      cfg.Sending.TestSendMode,
		Allowlist:        cfg.Sending.TestAllowlist,
		FailureThreshold: cfg.Sending.FailureThreshold,
	}, appLogger.Logger)

	// campaign sends triggered over HTTP expand through the same code path
	// as the scheduler tick in the worker service
	campaigns := scheduler.New(&scheduler.Config{
		Logger:       appLogger.Logger,
		Campaigns:    campaignStore,
		Leads:        leadStore,
		Automations:  automationStore,
		Jobs:         jobStore,
		Notifier:     notifier,
		Metrics:      appMetrics,
		PublicURL:    cfg.Deliverability.PublicURL,
		TestSendMode: cfg.Sending.TestSendMode,
		MaxAttempts:  cfg.Sending.MaxAttempts,
		TickInterval: cfg.Scheduler.TickInterval,
		BatchSize:    cfg.Scheduler.AutomationBatchSize,
		LockTTL:      cfg.Sending.LockTTL(),
	})

	monitor := deliverability.NewMonitor(&deliverability.Config{
		Logger:             appLogger.Logger,
		Acks:               checklistStore,
		Metrics:            appMetrics,
		Settings:           cfg.Deliverability.Settings(),
		Provider:           cfg.Transport.Provider,
		ProviderConfigured: providerConfigured(cfg.Transport),
		SMTPConfigured:     cfg.Transport.SMTP.Configured(),
		RatePerMinute:      cfg.Sending.RatePerMinute,
		RatePerHour:        cfg.Sending.RatePerHour,
		DryRunMode:         cfg.Sending.DryRunMode,
		TestSendMode:       cfg.Sending.TestSendMode,
		LookupTimeout:      cfg.Deliverability.LookupTimeout,
	})

	deps := &handler.Dependencies{
		Logger:             appLogger.Logger,
		DB:                 dbClient,
		Jobs:               jobStore,
		Leads:              leadStore,
		Suppressed:         leadStore,
		Suppression:        guard,
		Campaigns:          campaigns,
		Automations:        automationStore,
		Deliverability:     monitor,
		Analytics:          analytics.NewAggregator(jobStore),
		Metrics:            appMetrics,
		DefaultMaxAttempts: cfg.Sending.MaxAttempts,
		Version:            cfg.App.Version,
	}
	if notifier != nil {
		deps.Notifier = notifier
	}

	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router.SetupRouter(deps, registry),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
		slog.Bool("dry_run", cfg.Sending.DryRunMode),
		slog.Bool("test_send_mode", cfg.Sending.TestSendMode),
	)

	select {
	case <-ctx.Done():
		appLogger.Info("Shutting down server...")
	case err := <-errChan:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

func providerConfigured(cfg config.TransportConfig) bool {
	if cfg.Provider == "ses" {
		return cfg.SES.Configured()
	}
	return cfg.SMTP.Configured()
}
