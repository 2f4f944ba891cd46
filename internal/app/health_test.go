package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proppy/api/internal/store"
)

// pingStore overrides Ping of the in-memory store.
type pingStore struct {
	*store.MemoryStore
	pingFn func(context.Context) error
}

func (p *pingStore) Ping(ctx context.Context) error {
	if p.pingFn != nil {
		return p.pingFn(ctx)
	}
	return nil
}

func newHealthServer(t *testing.T, pingFn func(context.Context) error) *HTTPServer {
	t.Helper()
	svc, err := New(testConfig(), &pingStore{MemoryStore: store.NewMemoryStore(), pingFn: pingFn}, Dependencies{})
	require.NoError(t, err)
	return NewHTTPServer(svc, "*")
}

func getHealth(t *testing.T, server *HTTPServer, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))

	var response map[string]any
	if path != "/metrics" {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response), "body=%s", rr.Body.String())
	}
	return rr, response
}

func TestHealthEndpoint(t *testing.T) {
	rr, response := getHealth(t, newHealthServer(t, nil), "/api/health")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, response["ok"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestReadyEndpoint_Success(t *testing.T) {
	server := newHealthServer(t, func(context.Context) error { return nil })
	rr, response := getHealth(t, server, "/api/ready")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ready", response["status"])
	checks, ok := response["checks"].(map[string]any)
	require.True(t, ok, "expected checks object, got %v", response["checks"])
	database, ok := checks["database"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ok", database["status"])
}

func TestReadyEndpoint_DatabaseDown(t *testing.T) {
	server := newHealthServer(t, func(context.Context) error {
		return errors.New("connection refused")
	})
	rr, response := getHealth(t, server, "/api/ready")

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, false, response["ok"])
	assert.Equal(t, "not_ready", response["status"])
	database := response["checks"].(map[string]any)["database"].(map[string]any)
	assert.Equal(t, "connection refused", database["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rr, _ := getHealth(t, newHealthServer(t, nil), "/metrics")

	assert.Equal(t, http.StatusOK, rr.Code)
}
