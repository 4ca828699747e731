package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/finsql-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/finsql-engine/pkg/cache"
	"github.com/ekaya-inc/finsql-engine/pkg/models"
	"github.com/ekaya-inc/finsql-engine/pkg/prompts"
	"github.com/ekaya-inc/finsql-engine/pkg/schema"
	"github.com/ekaya-inc/finsql-engine/pkg/telemetry"
	"github.com/ekaya-inc/finsql-engine/pkg/templates"
)

type serviceHarness struct {
	service QueryService
	sink    *telemetry.MemorySink
	metrics *prometheus.Registry
}

func newServiceHarness(t *testing.T, gateway LLMGateway, store datasource.Store, c cache.ResultCache) serviceHarness {
	t.Helper()
	logger := zap.NewNop()
	catalog := schema.Default()
	registry := newTestRegistry(t)
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	sink := &telemetry.MemorySink{}

	router := NewRouter(registry, gateway, RouterConfig{
		SQLContext: prompts.SQLContext{SchemaMarkdown: catalog.RenderMarkdown(), Dialect: "sqlite", MaxRows: 100},
	}, logger)

	svc := NewQueryService(QueryServiceDeps{
		Extractor: newTestExtractor(gateway),
		Matcher:   templates.NewKeywordMatcher(registry),
		Registry:  registry,
		Router:    router,
		Validator: NewSQLValidator(catalog, registry, gateway, router, ValidatorConfig{}, metrics, logger),
		Executor:  NewQueryExecutor(store, registry, catalog, ExecutorConfig{MaxRows: 100, QueryTimeout: 5 * time.Second}, metrics, logger),
		Formatter: NewResponseFormatter(catalog, registry, gateway, FormatterConfig{}, logger),
		Cache:     c,
		Sink:      sink,
		Metrics:   metrics,
	}, logger)

	return serviceHarness{service: svc, sink: sink, metrics: reg}
}

func (h serviceHarness) lastReport(t *testing.T) telemetry.Report {
	t.Helper()
	rep, ok := h.sink.Last()
	require.True(t, ok, "no telemetry report emitted")
	return rep
}

func TestQueryService_SectorCountFastPath(t *testing.T) {
	h := newServiceHarness(t, nil, newFixtureStore(t), nil)

	resp := h.service.Run(context.Background(), question("How many companies are in the Information Technology sector?"))

	require.True(t, resp.Success, "answer: %s", resp.Answer)
	assert.Equal(t, "There are 3 companies in the Information Technology sector.", resp.Answer)
	require.NotNil(t, resp.SQL)
	assert.Contains(t, *resp.SQL, "COUNT(DISTINCT cik)")
	assert.Nil(t, resp.Error)
	assert.Nil(t, resp.Presentation)

	md := resp.Metadata
	assert.NotEmpty(t, md.RequestID)
	assert.Equal(t, 1, md.RowCount)
	assert.False(t, md.Cached)
	for _, stage := range []string{stageExtraction, stageMatching, stageRouting, stageValidation, stageExecution, stageFormatting} {
		assert.Contains(t, md.Timings, stage)
	}
	require.NotNil(t, md.Trace)
	assert.Equal(t, "sector_count", md.Trace.TemplateID)
	assert.Equal(t, "template", md.Trace.GenerationMethod)
	assert.Nil(t, md.Entities, "entities are debug only")

	rep := h.lastReport(t)
	assert.Equal(t, md.RequestID, rep.RequestID)
	assert.True(t, rep.Success)
	assert.Equal(t, string(models.RoutingTemplateDirect), rep.Decision)
	assert.Empty(t, rep.LLMCalls)
	assert.Equal(t, 1, rep.RowCount)
}

func TestQueryService_CompanyMetricYear(t *testing.T) {
	h := newServiceHarness(t, nil, newFixtureStore(t), nil)

	resp := h.service.Run(context.Background(), question("What was Apple's revenue in 2022?"))

	require.True(t, resp.Success, "answer: %s", resp.Answer)
	assert.Equal(t, "APPLE INC's revenue for FY2022 was $394.33B.", resp.Answer)
	assert.Equal(t, "company_metric_year", resp.Metadata.Trace.TemplateID)
}

func TestQueryService_DebugIncludesEntities(t *testing.T) {
	h := newServiceHarness(t, nil, newFixtureStore(t), nil)

	q := question("How many companies are in the Energy sector?")
	q.Debug = true
	resp := h.service.Run(context.Background(), q)

	require.True(t, resp.Success)
	assert.Equal(t, "There are 2 companies in the Energy sector.", resp.Answer)
	require.NotNil(t, resp.Metadata.Entities)
	assert.Equal(t, "Energy", resp.Metadata.Entities.Sector)
}

func TestQueryService_CachesResults(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	h := newServiceHarness(t, nil, newFixtureStore(t), cache.NewRedisCache(client, time.Minute, zap.NewNop()))
	q := question("How many companies are in the Information Technology sector?")

	first := h.service.Run(context.Background(), q)
	require.True(t, first.Success)
	assert.False(t, first.Metadata.Cached)

	second := h.service.Run(context.Background(), q)
	require.True(t, second.Success)
	assert.True(t, second.Metadata.Cached)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, *first.SQL, *second.SQL)
	assert.NotEqual(t, first.Metadata.RequestID, second.Metadata.RequestID)

	assert.True(t, h.lastReport(t).Cached)
	n, err := testutil.GatherAndCount(h.metrics, "finsql_cache_lookups_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one hit series and one miss series")
}

func TestQueryService_RejectedWhenLLMUnavailable(t *testing.T) {
	h := newServiceHarness(t, nil, newFixtureStore(t), nil)

	q := question("Tell me something interesting")
	resp := h.service.Run(context.Background(), q)

	assert.False(t, resp.Success)
	assert.Equal(t, msgLLMUnavailable, resp.Answer)
	assert.Nil(t, resp.SQL)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "routing_rejected", *resp.Error)
	assert.Empty(t, resp.Metadata.Reason, "reason codes are debug only")
	assert.Empty(t, resp.Metadata.Stage)

	rep := h.lastReport(t)
	assert.False(t, rep.Success)
	assert.Equal(t, "routing", rep.Stage)
	assert.Equal(t, models.ReasonLLMUnavailable, rep.Reason)

	q.Debug = true
	resp = h.service.Run(context.Background(), q)
	assert.Equal(t, "routing", resp.Metadata.Stage)
	assert.Equal(t, models.ReasonLLMUnavailable, resp.Metadata.Reason)
}

func TestQueryService_ValidationFailureNeverEchoesSQL(t *testing.T) {
	mock := scriptedLLM(t, map[string]string{
		selectMarker: `{"use_custom_sql": true, "template_id": null, "sql": "DELETE FROM companies", "confidence": 0.8}`,
	})
	h := newServiceHarness(t, newTestGateway(mock), newFixtureStore(t), nil)

	q := question("Tell me something interesting")
	q.Debug = true
	resp := h.service.Run(context.Background(), q)

	assert.False(t, resp.Success)
	assert.Equal(t, msgUnsafeQuery, resp.Answer)
	assert.Nil(t, resp.SQL)
	assert.Equal(t, "validation", resp.Metadata.Stage)
	assert.Equal(t, "write_keyword", resp.Metadata.Reason)

	body, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "DELETE")
}

func TestQueryService_ExecutionFailure(t *testing.T) {
	store := &stubStore{fn: func(context.Context, int) (*datasource.QueryExecutionResult, error) {
		return nil, errors.New("disk I/O error")
	}}
	h := newServiceHarness(t, nil, store, nil)

	q := question("How many companies are in the Energy sector?")
	q.Debug = true
	resp := h.service.Run(context.Background(), q)

	assert.False(t, resp.Success)
	assert.Equal(t, msgStoreError, resp.Answer)
	assert.Nil(t, resp.SQL)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "execution_error", *resp.Error)
	assert.Equal(t, "execution", resp.Metadata.Stage)
	assert.Equal(t, "store_error", resp.Metadata.Reason)

	n, err := testutil.GatherAndCount(h.metrics, "finsql_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueryService_EmptyQuestion(t *testing.T) {
	h := newServiceHarness(t, nil, &stubStore{}, nil)

	resp := h.service.Run(context.Background(), question("   "))

	assert.False(t, resp.Success)
	assert.Equal(t, msgEmptyQuestion, resp.Answer)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "invalid_input", *resp.Error)
	assert.Equal(t, "empty_question", h.lastReport(t).Reason)
}

func TestQueryService_Rescore(t *testing.T) {
	svc := NewQueryService(QueryServiceDeps{
		Extractor: newTestExtractor(nil),
		Registry:  newTestRegistry(t),
	}, zap.NewNop()).(*queryService)

	e := appleRevenueEntities(2023)
	out := svc.rescore(e, []models.Candidate{
		{TemplateID: "sector_count", Confidence: 0.95},
		{TemplateID: "no_such_template", Confidence: 0.9},
		{TemplateID: "company_metric_year", Confidence: 0.8},
	})

	require.Len(t, out, 2, "unknown templates are dropped")
	assert.Equal(t, "company_metric_year", out[0].TemplateID)
	assert.Equal(t, 0.8, out[0].Confidence)
	assert.Equal(t, "sector_count", out[1].TemplateID)
	assert.Less(t, out[1].Confidence, 0.8, "missing sector caps the match")
}

func TestQueryService_RepeatedRunsAreByteIdentical(t *testing.T) {
	h := newServiceHarness(t, nil, newFixtureStore(t), nil)

	for _, text := range []string{
		"How many companies are in the Information Technology sector?",
		"What was Apple's revenue in 2022?",
	} {
		first := h.service.Run(context.Background(), question(text))
		require.True(t, first.Success, first.Answer)
		for range 3 {
			again := h.service.Run(context.Background(), question(text))
			assert.Equal(t, first.Answer, again.Answer)
			assert.Equal(t, *first.SQL, *again.SQL)
		}
	}
}

func TestQueryService_LLMRejectionNeverReachesStore(t *testing.T) {
	mock := scriptedLLM(t, map[string]string{
		selectMarker: `{"use_custom_sql": false, "template_id": "ceo_salary", "sql": null, "confidence": 0.6}`,
	})
	store := &stubStore{}
	h := newServiceHarness(t, newTestGateway(mock), store, nil)

	resp := h.service.Run(context.Background(), question("Who is the CEO of Contoso Widgets?"))

	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.NotEmpty(t, *resp.Error)
	assert.Nil(t, resp.SQL)
	assert.Zero(t, store.calls.Load())
}

func TestQueryService_MultipleStatementsNeverExecuted(t *testing.T) {
	mock := scriptedLLM(t, map[string]string{
		selectMarker: `{"use_custom_sql": true, "template_id": null, "sql": "SELECT * FROM num; DROP TABLE num;", "confidence": 0.9}`,
	})
	store := &stubStore{}
	h := newServiceHarness(t, newTestGateway(mock), store, nil)

	q := question("Show me everything in the numbers table")
	q.Debug = true
	resp := h.service.Run(context.Background(), q)

	assert.False(t, resp.Success)
	assert.Equal(t, "validation", resp.Metadata.Stage)
	assert.Equal(t, "multiple_statements", resp.Metadata.Reason)
	assert.Zero(t, store.calls.Load())
}
