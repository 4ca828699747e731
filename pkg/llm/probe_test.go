package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestGateway_Probe(t *testing.T) {
	okEmbedder := NewMockLLMClient()
	okEmbedder.CreateEmbeddingsFunc = func(context.Context, []string, string) ([][]float32, error) {
		return [][]float32{{0.1, 0.2, 0.3}}, nil
	}
	authFail := NewMockLLMClient()
	authFail.GenerateResponseFunc = func(context.Context, string, string, float64, int) (*GenerateResponseResult, error) {
		return nil, errors.New("401 unauthorized")
	}

	tests := []struct {
		name     string
		client   LLMClient
		embedder LLMClient
		success  bool
		message  string
		errType  ErrorType
	}{
		{"not configured", nil, nil, false, "LLM not configured", ErrorTypeEndpoint},
		{"llm only", NewMockWithResponse("ok"), nil, true, "LLM connection successful (embedding not configured)", ErrorTypeNone},
		{"llm and embedding", NewMockWithResponse("ok"), okEmbedder, true, "LLM and embedding connections successful", ErrorTypeNone},
		{"embedding failed", NewMockWithResponse("ok"), NewMockLLMClient(), true, "LLM connection successful, embedding failed", ErrorTypeNone},
		{"empty completion", NewMockLLMClient(), nil, false, "LLM returned no response", ErrorTypeUnknown},
		{"auth failure", authFail, nil, false, "LLM: authentication failed", ErrorTypeAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGateway(tt.client, tt.embedder, GatewayConfig{}, nil, zap.NewNop())
			result := g.Probe(context.Background(), time.Second)
			assert.Equal(t, tt.success, result.Success)
			assert.Equal(t, tt.message, result.Message)
			assert.Equal(t, tt.errType, result.LLMErrorType)
		})
	}
}
