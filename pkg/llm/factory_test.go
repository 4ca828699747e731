package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewClientFromConfig(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr string
	}{
		{"default provider", Config{Endpoint: "http://localhost:8000/v1", Model: "qwen"}, "*llm.Client", ""},
		{"openai", Config{Provider: ProviderOpenAI, Endpoint: "https://api.openai.com/v1", Model: "gpt-4o", APIKey: "k"}, "*llm.Client", ""},
		{"azure", Config{Provider: ProviderAzure, Endpoint: "https://x.openai.azure.com", Model: "gpt-4o", APIKey: "k", APIVersion: "2024-06-01"}, "*llm.Client", ""},
		{"anthropic", Config{Provider: ProviderAnthropic, Model: "claude-sonnet-4-5", APIKey: "k"}, "*llm.AnthropicClient", ""},
		{"anthropic without key", Config{Provider: ProviderAnthropic, Model: "claude-sonnet-4-5"}, "", "api key is required"},
		{"missing endpoint", Config{Provider: ProviderOpenAI, Model: "gpt-4o"}, "", "endpoint is required"},
		{"unknown", Config{Provider: "bard", Model: "x"}, "", `unknown llm provider "bard"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClientFromConfig(&tt.cfg, logger)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, typeName(client))
			assert.Equal(t, tt.cfg.Model, client.GetModel())
		})
	}
}

func TestNewEmbeddingClient(t *testing.T) {
	logger := zap.NewNop()

	client, err := NewEmbeddingClient(&Config{Endpoint: "http://localhost/v1"}, logger)
	require.NoError(t, err)
	assert.Nil(t, client, "no embedding model configured")

	client, err = NewEmbeddingClient(&Config{
		Provider:       ProviderAnthropic,
		Endpoint:       "http://localhost/v1",
		Model:          "claude-sonnet-4-5",
		EmbeddingModel: "nomic-embed-text",
	}, logger)
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.IsType(t, &Client{}, client)
}

func typeName(v any) string {
	switch v.(type) {
	case *Client:
		return "*llm.Client"
	case *AnthropicClient:
		return "*llm.AnthropicClient"
	default:
		return "unknown"
	}
}
