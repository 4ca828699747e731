// Package app assembles the query pipeline and its surfaces from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/finsql-engine/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/finsql-engine/pkg/adapters/datasource/postgres"
	_ "github.com/ekaya-inc/finsql-engine/pkg/adapters/datasource/sqlite"
	"github.com/ekaya-inc/finsql-engine/pkg/cache"
	"github.com/ekaya-inc/finsql-engine/pkg/config"
	"github.com/ekaya-inc/finsql-engine/pkg/handlers"
	"github.com/ekaya-inc/finsql-engine/pkg/llm"
	"github.com/ekaya-inc/finsql-engine/pkg/logging"
	"github.com/ekaya-inc/finsql-engine/pkg/mcp"
	"github.com/ekaya-inc/finsql-engine/pkg/mcp/tools"
	"github.com/ekaya-inc/finsql-engine/pkg/middleware"
	"github.com/ekaya-inc/finsql-engine/pkg/models"
	"github.com/ekaya-inc/finsql-engine/pkg/prompts"
	"github.com/ekaya-inc/finsql-engine/pkg/retry"
	"github.com/ekaya-inc/finsql-engine/pkg/schema"
	"github.com/ekaya-inc/finsql-engine/pkg/services"
	"github.com/ekaya-inc/finsql-engine/pkg/telemetry"
	"github.com/ekaya-inc/finsql-engine/pkg/templates"
)

// App holds the long-lived components shared by the serve, ask and mcp commands.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    datasource.Store
	Gateway  *llm.Gateway
	Catalog  *schema.Catalog
	Registry *templates.Registry
	Service  services.QueryService

	// Gatherer is nil when metrics are disabled.
	Gatherer prometheus.Gatherer

	redis *redis.Client
}

// New opens the store, builds the language model gateway and wires the pipeline.
// The caller must Close the returned App.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Catalog: schema.Default()}

	var metrics *telemetry.Metrics
	if cfg.Telemetry.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = telemetry.NewMetrics(reg)
		a.Gatherer = reg
	}

	store, err := datasource.Open(ctx, cfg.Store.Driver, cfg.Store.DatasourceMap())
	if err != nil {
		// pgx echoes the DSN, password included, in connection errors.
		return nil, errors.New(logging.SanitizeError(err))
	}
	a.Store = store

	if err := a.buildPipeline(ctx, metrics); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) buildPipeline(ctx context.Context, metrics *telemetry.Metrics) error {
	cfg, logger := a.Config, a.Logger

	gateway, err := newGateway(&cfg.LLM, metrics, logger)
	if err != nil {
		return err
	}
	a.Gateway = gateway

	tmpls, err := loadTemplates(cfg.Templates.Path)
	if err != nil {
		return err
	}
	registry, err := templates.NewRegistry(tmpls, a.Catalog)
	if err != nil {
		return fmt.Errorf("build template registry: %w", err)
	}
	a.Registry = registry

	// A nil interface, not a nil *llm.Gateway, is what tells the stages the
	// model is absent.
	var lm services.LLMGateway
	if gateway.Configured() {
		lm = gateway
	}

	prompt := services.PromptSettings{Temperature: cfg.LLM.Temperature, MaxTokens: cfg.LLM.MaxTokens}
	router := services.NewRouter(registry, lm, services.RouterConfig{
		HighThreshold:        cfg.Routing.HighThreshold,
		LowThreshold:         cfg.Routing.LowThreshold,
		MaxConfirmCandidates: cfg.Routing.MaxConfirmCandidates,
		Prompt:               prompt,
		SQLContext: prompts.SQLContext{
			SchemaMarkdown: a.Catalog.RenderMarkdown(),
			Dialect:        cfg.Store.Driver,
			MaxRows:        cfg.Store.MaxRows,
		},
	}, logger)

	resultCache, err := a.newCache(ctx)
	if err != nil {
		return err
	}

	a.Service = services.NewQueryService(services.QueryServiceDeps{
		Extractor: services.NewEntityExtractor(a.Catalog, lm, services.ExtractorConfig{
			FastPathThreshold: cfg.Routing.HighThreshold,
			Prompt:            prompt,
		}, logger),
		Matcher:  a.newMatcher(ctx, gateway),
		Registry: registry,
		Router:   router,
		Validator: services.NewSQLValidator(a.Catalog, registry, lm, router, services.ValidatorConfig{
			SemanticThreshold: cfg.Validation.SemanticThreshold,
			RetryBudget:       cfg.Validation.RetryBudget,
			ValidateTemplates: cfg.Validation.ValidateTemplates,
			Prompt:            prompt,
		}, metrics, logger),
		Executor: services.NewQueryExecutor(a.Store, registry, a.Catalog, services.ExecutorConfig{
			MaxRows:      cfg.Store.MaxRows,
			QueryTimeout: cfg.Store.QueryTimeout,
		}, metrics, logger),
		Formatter: services.NewResponseFormatter(a.Catalog, registry, lm, services.FormatterConfig{
			Enriched:   cfg.Formatter.Enriched,
			SampleRows: cfg.Formatter.SampleRows,
			Prompt:     prompt,
		}, logger),
		Cache:   resultCache,
		Sink:    newSink(&cfg.Telemetry, logger),
		Metrics: metrics,
	}, logger)

	logger.Info("Pipeline ready",
		zap.String("store", cfg.Store.Driver),
		zap.Int("templates", registry.Len()),
		zap.Bool("llm", gateway.Configured()),
		zap.String("model", gateway.Model()),
		zap.Bool("cache", a.redis != nil),
		zap.Bool("enriched_answers", cfg.Formatter.Enriched))
	return nil
}

// newGateway returns a gateway with no client when the model is not configured;
// the deterministic path still works behind it.
func newGateway(cfg *config.LLMConfig, metrics *telemetry.Metrics, logger *zap.Logger) (*llm.Gateway, error) {
	gcfg := llm.GatewayConfig{
		Timeout: cfg.Timeout,
		Retry: &retry.Config{
			MaxRetries:   cfg.MaxRetries,
			InitialDelay: llm.DefaultGatewayConfig().Retry.InitialDelay,
			MaxDelay:     llm.DefaultGatewayConfig().Retry.MaxDelay,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		Breaker: llm.CircuitBreakerConfig{
			Threshold:  cfg.BreakerThreshold,
			ResetAfter: cfg.BreakerResetAfter,
		},
		EmbeddingModel: cfg.EmbeddingModel,
	}

	if !cfg.IsConfigured() {
		logger.Warn("Language model not configured; only template questions can be answered")
		return llm.NewGateway(nil, nil, gcfg, metrics, logger), nil
	}

	lcfg := &llm.Config{
		Provider:       cfg.Provider,
		Endpoint:       cfg.Endpoint,
		Model:          cfg.Model,
		EmbeddingModel: cfg.EmbeddingModel,
		APIKey:         cfg.APIKey,
		APIVersion:     cfg.APIVersion,
	}
	client, err := llm.NewClientFromConfig(lcfg, logger)
	if err != nil {
		return nil, err
	}

	ecfg := *lcfg
	if cfg.EmbeddingEndpoint != "" {
		ecfg.Endpoint = cfg.EmbeddingEndpoint
	}
	embedder, err := llm.NewEmbeddingClient(&ecfg, logger)
	if err != nil {
		return nil, err
	}

	return llm.NewGateway(client, embedder, gcfg, metrics, logger), nil
}

func loadTemplates(path string) ([]models.Template, error) {
	if path == "" {
		return templates.Builtin()
	}
	tmpls, err := templates.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load templates from %s: %w", path, err)
	}
	return tmpls, nil
}

// newMatcher adds embedding similarity to keyword matching when enabled and
// the index can be built. Any embedding failure degrades to keywords only.
func (a *App) newMatcher(ctx context.Context, gateway *llm.Gateway) templates.Matcher {
	rc := a.Config.Routing
	if !rc.UseEmbeddings {
		return templates.NewKeywordMatcher(a.Registry)
	}
	if !gateway.CanEmbed() {
		a.Logger.Warn("Embedding matching enabled but no embedding model is configured")
		return templates.NewKeywordMatcher(a.Registry)
	}

	pool := llm.NewWorkerPool(llm.DefaultWorkerPoolConfig(), a.Logger)
	index, err := templates.BuildVectorIndex(ctx, gateway, a.Registry, pool)
	if err != nil {
		a.Logger.Warn("Failed to build template vector index; using keyword matching", zap.Error(err))
		return templates.NewKeywordMatcher(a.Registry)
	}
	a.Logger.Info("Template vector index built", zap.Int("vectors", index.Len()))
	return templates.NewHybridMatcher(a.Registry, index, gateway, rc.MinSimilarity, a.Logger)
}

func (a *App) newCache(ctx context.Context) (cache.ResultCache, error) {
	cc := &a.Config.Cache
	if !cc.Enabled() {
		return cache.Noop{}, nil
	}
	client, err := cache.NewRedisClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	a.redis = client
	return cache.NewRedisCache(client, cc.TTL, a.Logger), nil
}

func newSink(cfg *config.TelemetryConfig, logger *zap.Logger) telemetry.Sink {
	if !cfg.LogReports {
		return telemetry.NopSink{}
	}
	return telemetry.NewZapSink(logger)
}

// Handler returns the HTTP surface: query, health, metrics and MCP.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	handlers.NewQueryHandler(a.Service, a.Logger).RegisterRoutes(mux)
	handlers.NewHealthHandler(a.Config, a.Store, a.Gateway, a.Gatherer, a.Logger).RegisterRoutes(mux)
	handlers.NewMCPHandler(a.MCPServer(), a.Logger).RegisterRoutes(mux)

	return middleware.Chain(mux,
		middleware.Recoverer(a.Logger),
		middleware.RequestLogger(a.Logger),
	)
}

// MCPServer returns an MCP server exposing the pipeline as tools.
func (a *App) MCPServer() *mcp.Server {
	s := mcp.NewServer("finsql-engine", a.Config.Version, a.Logger)
	tools.RegisterAskTool(s.MCP(), a.Service, a.Logger)
	tools.RegisterListTemplatesTool(s.MCP(), a.Registry)
	tools.RegisterHealthTool(s.MCP(), a.Config.Version, a.Store, a.Gateway)
	return s
}

// Close releases the store and cache connections.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}
