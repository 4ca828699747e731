package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/finsql-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/finsql-engine/pkg/adapters/datasource/sqlite"
	"github.com/ekaya-inc/finsql-engine/pkg/llm"
	"github.com/ekaya-inc/finsql-engine/pkg/models"
	"github.com/ekaya-inc/finsql-engine/pkg/retry"
	"github.com/ekaya-inc/finsql-engine/pkg/schema"
	"github.com/ekaya-inc/finsql-engine/pkg/templates"
	"github.com/ekaya-inc/finsql-engine/pkg/testhelpers"
)

const testReferenceYear = 2023

func newTestGateway(client llm.LLMClient) *llm.Gateway {
	return llm.NewGateway(client, nil, llm.GatewayConfig{
		Timeout: time.Second,
		Retry: &retry.Config{
			MaxRetries:   1,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   1,
		},
		Breaker: llm.CircuitBreakerConfig{Threshold: 3, ResetAfter: time.Minute},
	}, nil, zap.NewNop())
}

// scriptedLLM answers by the first marker found in the prompt. Prompts with no
// matching marker fail with a permanent error.
func scriptedLLM(t *testing.T, replies map[string]string) *llm.MockLLMClient {
	t.Helper()
	mock := llm.NewMockLLMClient()
	mock.GenerateResponseFunc = func(_ context.Context, prompt, _ string, _ float64, _ int) (*llm.GenerateResponseResult, error) {
		for marker, reply := range replies {
			if strings.Contains(prompt, marker) {
				return &llm.GenerateResponseResult{Content: reply, PromptTokens: 100, CompletionTokens: 20}, nil
			}
		}
		return nil, llm.NewError(llm.ErrorTypeModel, "unexpected prompt", false, nil)
	}
	return mock
}

// failingLLM fails every call with an auth error so no retries happen.
func failingLLM() *llm.MockLLMClient {
	mock := llm.NewMockLLMClient()
	mock.GenerateResponseFunc = func(context.Context, string, string, float64, int) (*llm.GenerateResponseResult, error) {
		return nil, llm.NewError(llm.ErrorTypeAuth, "invalid api key", false, nil)
	}
	return mock
}

func newTestExtractor(gateway LLMGateway) EntityExtractor {
	return NewEntityExtractor(schema.Default(), gateway, ExtractorConfig{
		FastPathThreshold: 0.8,
		ReferenceYear:     testReferenceYear,
	}, zap.NewNop())
}

func newTestRegistry(t *testing.T) *templates.Registry {
	t.Helper()
	tmpls, err := templates.Builtin()
	require.NoError(t, err)
	reg, err := templates.NewRegistry(tmpls, schema.Default())
	require.NoError(t, err)
	return reg
}

func newFixtureStore(t *testing.T) datasource.Store {
	t.Helper()
	path := testhelpers.NewSQLiteFixture(t)
	store, err := sqlite.NewAdapter(context.Background(), &sqlite.Config{Path: path, BusyTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func appleRevenueEntities(year int) models.ExtractedEntities {
	return models.ExtractedEntities{
		Companies:    []models.CompanyRef{{Raw: "Apple", Name: "APPLE INC", Ticker: "AAPL", Resolved: true}},
		Metrics:      []string{"revenue"},
		TimeWindow:   models.TimeWindow{Kind: models.TimeWindowYear, StartYear: year},
		QuestionType: models.QuestionTypeLookup,
		Confidence:   1,
		SlotConfidence: map[models.Slot]float64{
			models.SlotCompany: 1, models.SlotMetric: 1, models.SlotTimeWindow: 1,
		},
		Source: sourceDeterministic,
	}
}

func sectorEntities(sector string, qt models.QuestionType) models.ExtractedEntities {
	return models.ExtractedEntities{
		Sector:         sector,
		QuestionType:   qt,
		Confidence:     1,
		SlotConfidence: map[models.Slot]float64{models.SlotSector: 1},
		Source:         sourceDeterministic,
	}
}

// sequencedLLM answers each marker with its replies in order, repeating the last
// one once the queue runs out. Markers must not co-occur in a prompt.
func sequencedLLM(t *testing.T, replies map[string][]string) *llm.MockLLMClient {
	t.Helper()
	var mu sync.Mutex
	served := make(map[string]int)
	mock := llm.NewMockLLMClient()
	mock.GenerateResponseFunc = func(_ context.Context, prompt, _ string, _ float64, _ int) (*llm.GenerateResponseResult, error) {
		mu.Lock()
		defer mu.Unlock()
		for marker, queue := range replies {
			if !strings.Contains(prompt, marker) || len(queue) == 0 {
				continue
			}
			i := min(served[marker], len(queue)-1)
			served[marker]++
			return &llm.GenerateResponseResult{Content: queue[i], PromptTokens: 100, CompletionTokens: 20}, nil
		}
		return nil, llm.NewError(llm.ErrorTypeModel, "unexpected prompt", false, nil)
	}
	return mock
}
