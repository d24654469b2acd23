package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHealth(t *testing.T, checkers ...HealthChecker) (int, healthResponse) {
	t.Helper()
	srv := newTestServer(t)
	srv.HealthCheckers = checkers

	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func okChecker(name string) HealthChecker {
	return NewChecker(name, func(context.Context) error { return nil })
}

func TestHandleHealth_NoCheckers(t *testing.T) {
	code, resp := runHealth(t)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", resp.Status)
	assert.Empty(t, resp.Components)
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	code, resp := runHealth(t, okChecker("database"), okChecker("lease_store"))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Components["database"].Status)
	assert.Equal(t, "healthy", resp.Components["lease_store"].Status)
}

func TestHandleHealth_FailingChecker(t *testing.T) {
	failing := NewChecker("lease_store", func(context.Context) error { return errors.New("dial tcp: refused") })

	code, resp := runHealth(t, okChecker("database"), failing)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "healthy", resp.Components["database"].Status)
	assert.Equal(t, "unhealthy", resp.Components["lease_store"].Status)
	assert.Equal(t, "dial tcp: refused", resp.Components["lease_store"].Message)
}

func TestHandleHealth_PanickingChecker(t *testing.T) {
	panicking := NewChecker("database", func(context.Context) error { panic("nil pool") })

	code, resp := runHealth(t, panicking)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, resp.Components["database"].Message, "checker panicked")
}

func TestHandleHealth_SlowCheckerTimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	slow := NewChecker("database", func(ctx context.Context) error {
		<-release
		return nil
	})

	code, resp := runHealth(t, slow)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "health check timed out", resp.Components["database"].Message)
}
