package rabbitmq

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_URL(t *testing.T) {
	tests := []struct {
		name  string
		vhost string
		want  string
	}{
		{name: "default vhost", vhost: "", want: "/"},
		{name: "root vhost", vhost: "/", want: "/"},
		{name: "named vhost", vhost: "mail", want: "mail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Host: "mq", Port: 5672, User: "guest", Password: "p@ss:word", VHost: tt.vhost}

			uri, err := amqp.ParseURI(cfg.URL())
			require.NoError(t, err)
			assert.Equal(t, "mq", uri.Host)
			assert.Equal(t, 5672, uri.Port)
			assert.Equal(t, "p@ss:word", uri.Password)
			assert.Equal(t, tt.want, uri.Vhost)
		})
	}
}

func TestClient_NotConnected(t *testing.T) {
	client := &Client{
		config: &Config{PublishRetries: 2},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	assert.False(t, client.IsConnected())
	assert.ErrorIs(t, client.PublishWithRetry(context.Background(), []byte("{}"), "application/json"), ErrNotConnected)

	_, err := client.Consume("worker")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, client.Close())
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	assert.ErrorIs(t, sleep(ctx, time.Minute), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
