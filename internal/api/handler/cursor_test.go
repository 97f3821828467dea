package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/cuongbtq/email-delivery/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobCursor_RoundTrip(t *testing.T) {
	in := &storage.JobCursor{
		CreatedAt: time.Date(2026, 3, 1, 10, 30, 0, 123456789, time.UTC),
		JobID:     "6f1c1a52-5b0e-4a8e-9d38-000000000001",
	}

	out, err := DecodeJobCursor(EncodeJobCursor(in))
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.JobID, out.JobID)
}

func TestDecodeJobCursor_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		cursor string
	}{
		{name: "not base64", cursor: "!!"},
		{name: "missing separator", cursor: base64.RawURLEncoding.EncodeToString([]byte("12345"))},
		{name: "missing id", cursor: base64.RawURLEncoding.EncodeToString([]byte("12345|"))},
		{name: "bad timestamp", cursor: base64.RawURLEncoding.EncodeToString([]byte("yesterday|j1"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJobCursor(tt.cursor)
			assert.Error(t, err)
		})
	}
}

func TestDecodeJobCursor_Empty(t *testing.T) {
	cursor, err := DecodeJobCursor("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestParseBound(t *testing.T) {
	got, err := parseBound("2026-01-31", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 31, 23, 59, 59, 999999999, time.UTC), *got)

	got, err = parseBound("2026-01-31T08:00:00Z", true)
	require.NoError(t, err)
	assert.Equal(t, 8, got.Hour())

	got, err = parseBound("", false)
	assert.NoError(t, err)
	assert.Nil(t, got)
}
