package main

import (
	"net"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/slotwise/slotwise/services/booking-service/internal/storage/sqlitestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettings_ReportsEveryBadValue(t *testing.T) {
	t.Setenv("SQLITE_PATH", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "http")
	t.Setenv("BATCH_WORKERS", "-1")

	_, err := loadSettings()
	require.Error(t, err)
	assert.ErrorContains(t, err, "DATABASE_URL is required")
	assert.ErrorContains(t, err, "PORT must be a valid TCP port")
	assert.ErrorContains(t, err, "BATCH_WORKERS must be a positive integer")
}

func TestLoadSettings_SQLiteNeedsNoDatabaseURL(t *testing.T) {
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "slots.db"))
	t.Setenv("DATABASE_URL", "")

	s, err := loadSettings()
	require.NoError(t, err)
	assert.Equal(t, "8083", s.Port)
	assert.Equal(t, 3, s.SeriesMaxTries)
}

func TestRun_ReturnsStartupErrors(t *testing.T) {
	t.Setenv("OTEL_SAMPLING_RATIO", "2")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "slots.db"))
	assert.ErrorContains(t, run(), "OTEL_SAMPLING_RATIO")
}

func TestRun_ClosesStoreWhenListenFails(t *testing.T) {
	busy, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = busy.Close() })
	port := strconv.Itoa(busy.Addr().(*net.TCPAddr).Port)

	path := filepath.Join(t.TempDir(), "slots.db")
	t.Setenv("SQLITE_PATH", path)
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("GRPC_PORT", port)
	t.Setenv("PORT", "18083")

	require.ErrorContains(t, run(), "grpc listen on "+port)

	// The store was released on return, so it opens again cleanly.
	s, err := sqlitestore.Open(t.Context(), path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
