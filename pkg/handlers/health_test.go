package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/finsql-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/finsql-engine/pkg/config"
	"github.com/ekaya-inc/finsql-engine/pkg/llm"
	sqlpkg "github.com/ekaya-inc/finsql-engine/pkg/sql"
	"github.com/ekaya-inc/finsql-engine/pkg/telemetry"
)

type probeStore struct {
	err error
}

func (s *probeStore) Query(context.Context, string, []any, int) (*datasource.QueryExecutionResult, error) {
	return nil, errors.New("not implemented")
}
func (s *probeStore) Dialect() sqlpkg.Dialect { return sqlpkg.DialectSQLite }
func (s *probeStore) TestConnection(context.Context) error { return s.err }
func (s *probeStore) Close() error { return nil }

func serveHealth(t *testing.T, h *HealthHandler, path string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthHandler_Health(t *testing.T) {
	cfg := &config.Config{Version: "1.0.0", Env: "test"}
	gateway := llm.NewGateway(&llm.MockLLMClient{}, nil, llm.GatewayConfig{}, nil, zap.NewNop())

	tests := []struct {
		name    string
		store   datasource.Store
		gateway *llm.Gateway
		status  int
		want    HealthResponse
	}{
		{
			name:   "no dependencies",
			status: http.StatusOK,
			want:   HealthResponse{Status: "ok", LLM: "not_configured"},
		},
		{
			name:    "healthy",
			store:   &probeStore{},
			gateway: gateway,
			status:  http.StatusOK,
			want:    HealthResponse{Status: "ok", Store: "ok", LLM: "closed"},
		},
		{
			name:   "store down",
			store:  &probeStore{err: errors.New("connection refused")},
			status: http.StatusServiceUnavailable,
			want:   HealthResponse{Status: "unavailable", Store: "error", LLM: "not_configured"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serveHealth(t, NewHealthHandler(cfg, tt.store, tt.gateway, nil, zap.NewNop()), "/health")

			assert.Equal(t, tt.status, rec.Code)
			var got HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHealthHandler_Ping(t *testing.T) {
	cfg := &config.Config{Version: "1.2.3", Env: "test"}

	rec := serveHealth(t, NewHealthHandler(cfg, nil, nil, nil, zap.NewNop()), "/ping")

	require.Equal(t, http.StatusOK, rec.Code)
	var got PingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, "1.2.3", got.Version)
	assert.Equal(t, "finsql-engine", got.Service)
	assert.Equal(t, "test", got.Environment)
	assert.NotEmpty(t, got.GoVersion)
}

func TestHealthHandler_Metrics(t *testing.T) {
	cfg := &config.Config{}

	t.Run("disabled", func(t *testing.T) {
		rec := serveHealth(t, NewHealthHandler(cfg, nil, nil, nil, zap.NewNop()), "/metrics")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("exposes pipeline metrics", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		metrics := telemetry.NewMetrics(reg)
		metrics.ObserveRequest(true, "")

		rec := serveHealth(t, NewHealthHandler(cfg, nil, nil, reg, zap.NewNop()), "/metrics")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "finsql_requests_total")
	})
}
