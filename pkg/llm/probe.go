package llm

import (
	"context"
	"fmt"
	"time"
)

// ProbeResult reports whether the configured providers answer.
type ProbeResult struct {
	Success            bool      `json:"success"`
	Message            string    `json:"message"`
	LLMSuccess         bool      `json:"llm_success"`
	LLMMessage         string    `json:"llm_message,omitempty"`
	LLMErrorType       ErrorType `json:"llm_error_type,omitempty"`
	LLMResponseTimeMs  int64     `json:"llm_response_time_ms,omitempty"`
	EmbeddingSuccess   bool      `json:"embedding_success"`
	EmbeddingMessage   string    `json:"embedding_message,omitempty"`
	EmbeddingErrorType ErrorType `json:"embedding_error_type,omitempty"`
}

// Probe sends one tiny completion and, when an embedder is configured, one
// embedding request. It calls the clients directly so a tripped breaker does not
// hide a recovered provider.
func (g *Gateway) Probe(ctx context.Context, timeout time.Duration) *ProbeResult {
	result := &ProbeResult{}
	if !g.Configured() {
		result.Message = "LLM not configured"
		result.LLMErrorType = ErrorTypeEndpoint
		return result
	}

	llmCtx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()
	resp, err := g.client.GenerateResponse(llmCtx, "Say 'ok' and nothing else.", "", 0, 10)
	elapsed := time.Since(start).Milliseconds()
	cancel()

	switch {
	case err != nil:
		classified := ClassifyError(err)
		result.LLMMessage = fmt.Sprintf("LLM: %s", classified.Message)
		result.LLMErrorType = classified.Type
	case resp == nil || resp.Content == "":
		result.LLMMessage = "LLM returned no response"
		result.LLMErrorType = ErrorTypeUnknown
	default:
		result.LLMSuccess = true
		result.LLMMessage = fmt.Sprintf("LLM connection successful (model: %s, %dms)", g.client.GetModel(), elapsed)
	}
	result.LLMResponseTimeMs = elapsed

	if g.embedder != nil {
		embCtx, cancel := context.WithTimeout(ctx, timeout)
		vectors, err := g.embedder.CreateEmbeddings(embCtx, []string{"test"}, g.cfg.EmbeddingModel)
		cancel()
		switch {
		case err != nil:
			classified := ClassifyError(err)
			result.EmbeddingMessage = fmt.Sprintf("Embedding: %s", classified.Message)
			result.EmbeddingErrorType = classified.Type
		case len(vectors) == 0 || len(vectors[0]) == 0:
			result.EmbeddingMessage = "Embedding returned no vectors"
			result.EmbeddingErrorType = ErrorTypeUnknown
		default:
			result.EmbeddingSuccess = true
			result.EmbeddingMessage = fmt.Sprintf("Embedding successful (%d dims)", len(vectors[0]))
		}
	}

	if result.LLMSuccess {
		result.Success = true
		switch {
		case g.embedder == nil:
			result.Message = "LLM connection successful (embedding not configured)"
		case result.EmbeddingSuccess:
			result.Message = "LLM and embedding connections successful"
		default:
			result.Message = "LLM connection successful, embedding failed"
		}
	} else {
		result.Message = result.LLMMessage
	}
	return result
}
