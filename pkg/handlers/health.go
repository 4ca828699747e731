package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ekaya-inc/finsql-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/finsql-engine/pkg/config"
	"github.com/ekaya-inc/finsql-engine/pkg/llm"
)

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// HealthResponse reports whether the service and its dependencies are usable.
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
	LLM    string `json:"llm,omitempty"`
}

// HealthHandler handles health check, ping and metrics endpoints.
type HealthHandler struct {
	cfg      *config.Config
	store    datasource.Store
	gateway  *llm.Gateway
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. store, gateway and gatherer may be nil.
func NewHealthHandler(cfg *config.Config, store datasource.Store, gateway *llm.Gateway, gatherer prometheus.Gatherer, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, store: store, gateway: gateway, gatherer: gatherer, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
	mux.HandleFunc("GET /metrics", h.Metrics)
}

// Health handles GET /health requests.
// The store must answer a probe query; a degraded language model only shows in
// the llm field because the deterministic path keeps working without it.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	status := http.StatusOK

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := h.store.TestConnection(ctx); err != nil {
			h.logger.Warn("Store health check failed", zap.Error(err))
			resp.Status = "unavailable"
			resp.Store = "error"
			status = http.StatusServiceUnavailable
		} else {
			resp.Store = "ok"
		}
	}

	switch {
	case !h.gateway.Configured():
		resp.LLM = "not_configured"
	default:
		resp.LLM = h.gateway.BreakerState().String()
	}

	if err := WriteJSON(w, status, resp); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "finsql-engine",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}

// Metrics handles GET /metrics requests in the Prometheus exposition format.
// Returns 503 when metrics are disabled.
func (h *HealthHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.gatherer == nil {
		if err := ErrorResponse(w, http.StatusServiceUnavailable, "metrics_disabled", "Metrics are disabled"); err != nil {
			h.logger.Error("Failed to encode error response", zap.Error(err))
		}
		return
	}
	promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
