package runtime

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_ServiceAttrAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "booking-service", "warn")

	logger.Info("dropped")
	assert.Empty(t, buf.String())

	logger.Warn("kept", "k", "v")
	assert.Contains(t, buf.String(), `"service":"booking-service"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
	assert.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}

func TestReadyz(t *testing.T) {
	ok := NewBaseMuxWithReady(ReadyCheck{Name: "db", Check: func(context.Context) error { return nil }})
	rec := httptest.NewRecorder()
	ok.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	failing := NewBaseMuxWithReady(ReadyCheck{Name: "kafka", Check: func(context.Context) error { return errors.New("down") }})
	rec = httptest.NewRecorder()
	failing.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kafka":"down"`)
}
