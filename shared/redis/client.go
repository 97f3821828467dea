package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the Redis connection settings
type Config struct {
	URL         string
	DialTimeout time.Duration
}

// Options parses URL. A bare host:port is accepted as well as redis:// and
// rediss:// URLs.
func (c *Config) Options() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		if c.URL == "" {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		opts = &redis.Options{Addr: c.URL}
	}
	if c.DialTimeout > 0 {
		opts.DialTimeout = c.DialTimeout
	}
	return opts, nil
}

// NewClient connects and pings Redis
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*redis.Client, error) {
	opts, err := config.Options()
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("Connected to Redis",
		slog.String("addr", opts.Addr),
		slog.Int("db", opts.DB),
	)
	return client, nil
}
