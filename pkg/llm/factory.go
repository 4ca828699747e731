package llm

import (
	"fmt"

	"go.uber.org/zap"
)

// Provider names accepted in configuration.
const (
	ProviderOpenAI    = "openai"
	ProviderAzure     = "azure"
	ProviderAnthropic = "anthropic"
)

// NewClientFromConfig creates the chat client for cfg.Provider.
// An empty provider is treated as OpenAI-compatible.
func NewClientFromConfig(cfg *Config, logger *zap.Logger) (LLMClient, error) {
	switch cfg.Provider {
	case "", ProviderOpenAI, ProviderAzure:
		client, err := NewClient(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create %s client: %w", providerName(cfg.Provider), err)
		}
		return client, nil
	case ProviderAnthropic:
		client, err := NewAnthropicClient(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create anthropic client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// NewEmbeddingClient creates the client used for embeddings. Embeddings always go
// through an OpenAI-compatible endpoint; it returns nil when none is configured.
func NewEmbeddingClient(cfg *Config, logger *zap.Logger) (LLMClient, error) {
	if cfg.Endpoint == "" || cfg.EmbeddingModel == "" {
		return nil, nil
	}
	embCfg := *cfg
	if embCfg.Provider == ProviderAnthropic {
		embCfg.Provider = ProviderOpenAI
	}
	if embCfg.Model == "" {
		embCfg.Model = embCfg.EmbeddingModel
	}
	client, err := NewClient(&embCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	return client, nil
}

func providerName(p string) string {
	if p == "" {
		return ProviderOpenAI
	}
	return p
}
