package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Options(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantAddr string
		wantDB   int
		wantErr  bool
	}{
		{name: "redis url", url: "redis://localhost:6379/2", wantAddr: "localhost:6379", wantDB: 2},
		{name: "bare address", url: "cache:6380", wantAddr: "cache:6380"},
		{name: "empty", url: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{URL: tt.url, DialTimeout: 2 * time.Second}
			opts, err := cfg.Options()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAddr, opts.Addr)
			assert.Equal(t, tt.wantDB, opts.DB)
			assert.Equal(t, 2*time.Second, opts.DialTimeout)
		})
	}
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	client, err := NewClient(context.Background(), &Config{URL: "redis://" + mr.Addr()}, logger)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	assert.True(t, mr.Exists("k"))

	addr := mr.Addr()
	mr.Close()
	_, err = NewClient(context.Background(), &Config{URL: "redis://" + addr, DialTimeout: 100 * time.Millisecond}, logger)
	assert.Error(t, err)
}
