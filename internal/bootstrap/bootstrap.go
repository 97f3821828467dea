// Package bootstrap builds the infrastructure clients shared by the API and
// worker services from the loaded configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/email-delivery/internal/config"
	"github.com/cuongbtq/email-delivery/internal/metrics"
	"github.com/cuongbtq/email-delivery/internal/ratelimit"
	"github.com/cuongbtq/email-delivery/shared/logger"
	"github.com/cuongbtq/email-delivery/shared/postgresql"
	"github.com/cuongbtq/email-delivery/shared/rabbitmq"
	sharedredis "github.com/cuongbtq/email-delivery/shared/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// InitPostgreSQL opens the connection pool. appName is reported to the
// server as application_name.
func InitPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, appName string, log *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(ctx, &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		ApplicationName: appName,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, log)
}

// RabbitMQConfig maps the file settings onto the client config
func RabbitMQConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
}

// InitRabbitMQ connects to the wake-up broker. It returns nil without error
// when no host is configured; dispatchers then rely on their tick alone.
func InitRabbitMQ(ctx context.Context, cfg *config.RabbitMQConfig, log *slog.Logger) (*rabbitmq.Client, error) {
	if cfg.Host == "" {
		log.Info("RabbitMQ not configured, wake-up notifications disabled")
		return nil, nil
	}
	return rabbitmq.NewClient(ctx, RabbitMQConfig(cfg), log)
}

// NewLimiter returns the Redis-backed limiter when a Redis URL is set so
// every worker process shares one budget, and the in-process limiter
// otherwise. The returned close func releases the Redis connection.
func NewLimiter(ctx context.Context, cfg *config.Config, log *slog.Logger) (ratelimit.Limiter, func() error, error) {
	limits := ratelimit.Limits{
		PerMinute: cfg.Sending.RatePerMinute,
		PerHour:   cfg.Sending.RatePerHour,
	}

	if cfg.Redis.URL == "" {
		log.Info("Using in-process rate limiter",
			slog.Int("per_minute", limits.PerMinute),
			slog.Int("per_hour", limits.PerHour),
		)
		return ratelimit.NewLocalLimiter(limits), func() error { return nil }, nil
	}

	client, err := sharedredis.NewClient(ctx, &sharedredis.Config{
		URL:         cfg.Redis.URL,
		DialTimeout: cfg.Redis.DialTimeout,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	log.Info("Using shared Redis rate limiter",
		slog.Int("per_minute", limits.PerMinute),
		slog.Int("per_hour", limits.PerHour),
		slog.String("key_prefix", cfg.Redis.KeyPrefix),
	)
	return ratelimit.NewRedisLimiter(client, cfg.Redis.KeyPrefix, limits), client.Close, nil
}

// NewMetrics creates a registry with the Go runtime and process collectors
// plus the service metrics.
func NewMetrics() (*prometheus.Registry, *metrics.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.New(reg)
}
