package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/finsql-engine/pkg/retry"
	"github.com/ekaya-inc/finsql-engine/pkg/telemetry"
)

// Kind names the purpose of a gateway call. It labels telemetry and metrics.
type Kind string

const (
	KindExtraction         Kind = "extraction"
	KindConfirmation       Kind = "confirmation"
	KindSelection          Kind = "selection"
	KindGeneration         Kind = "generation"
	KindRegeneration       Kind = "regeneration"
	KindSemanticValidation Kind = "semantic_validation"
	KindNarrative          Kind = "narrative"
	KindEmbedding          Kind = "embedding"
)

// ErrNotConfigured is wrapped by errors returned from a gateway without a client.
var ErrNotConfigured = errors.New("llm not configured")

// Prompt is one request to the model.
type Prompt struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Response is a successful gateway call.
type Response struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
	Attempts         int
}

// GatewayConfig is the explicit configuration of the gateway.
type GatewayConfig struct {
	// Timeout bounds each provider attempt. The caller's context still bounds the call.
	Timeout time.Duration
	// Retry controls backoff between attempts of one call.
	Retry *retry.Config
	// Breaker controls when the gateway stops calling the provider.
	Breaker CircuitBreakerConfig
	// EmbeddingModel overrides the embedding client's default model.
	EmbeddingModel string
}

// DefaultGatewayConfig returns the defaults used when configuration is silent.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Timeout: 20 * time.Second,
		Retry: &retry.Config{
			MaxRetries:       2,
			InitialDelay:     250 * time.Millisecond,
			MaxDelay:         2 * time.Second,
			Multiplier:       2.0,
			JitterFactor:     0.1,
			MaxSameErrorType: 3,
		},
		Breaker: DefaultCircuitBreakerConfig(),
	}
}

// UsageStats are process-lifetime gateway counters.
type UsageStats struct {
	Calls            int64 `json:"calls"`
	Failures         int64 `json:"failures"`
	Rejected         int64 `json:"rejected"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Gateway is the single path from the pipeline to the language model. It applies
// bounded retry with per-attempt timeouts, counts tokens and guards the provider
// with a circuit breaker. A failed call counts once against the breaker however
// many attempts it made.
type Gateway struct {
	client   LLMClient
	embedder LLMClient
	cfg      GatewayConfig
	breaker  *CircuitBreaker
	embedCB  *CircuitBreaker
	metrics  *telemetry.Metrics
	logger   *zap.Logger

	calls            atomic.Int64
	failures         atomic.Int64
	rejected         atomic.Int64
	promptTokens     atomic.Int64
	completionTokens atomic.Int64
}

// NewGateway creates a gateway. client may be nil, in which case every call fails
// with ErrNotConfigured and Available reports false. embedder may be nil.
func NewGateway(client, embedder LLMClient, cfg GatewayConfig, metrics *telemetry.Metrics, logger *zap.Logger) *Gateway {
	defaults := DefaultGatewayConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.Retry == nil {
		cfg.Retry = defaults.Retry
	}
	if cfg.Breaker.Threshold <= 0 {
		cfg.Breaker.Threshold = defaults.Breaker.Threshold
	}
	if cfg.Breaker.ResetAfter <= 0 {
		cfg.Breaker.ResetAfter = defaults.Breaker.ResetAfter
	}

	g := &Gateway{
		client:   client,
		embedder: embedder,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.Named("llm-gateway"),
	}

	chatCfg := cfg.Breaker
	userHook := chatCfg.OnStateChange
	chatCfg.OnStateChange = func(from, to CircuitState) {
		g.logger.Warn("Circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
		g.metrics.SetBreakerState(int(to))
		if userHook != nil {
			userHook(from, to)
		}
	}
	g.breaker = NewCircuitBreaker(chatCfg)
	g.embedCB = NewCircuitBreaker(CircuitBreakerConfig{
		Threshold:  cfg.Breaker.Threshold,
		ResetAfter: cfg.Breaker.ResetAfter,
	})
	return g
}

// Configured reports whether a chat client is wired.
func (g *Gateway) Configured() bool {
	return g != nil && g.client != nil
}

// Available reports whether a call made now would reach the provider.
func (g *Gateway) Available() bool {
	return g.Configured() && g.breaker.Available()
}

// CanEmbed reports whether embeddings are configured and not tripped.
func (g *Gateway) CanEmbed() bool {
	return g != nil && g.embedder != nil && g.embedCB.Available()
}

// BreakerState returns the chat breaker state.
func (g *Gateway) BreakerState() CircuitState {
	if !g.Configured() {
		return CircuitOpen
	}
	return g.breaker.State()
}

// Model returns the chat model name, or "" when not configured.
func (g *Gateway) Model() string {
	if !g.Configured() {
		return ""
	}
	return g.client.GetModel()
}

// Usage returns the lifetime counters.
func (g *Gateway) Usage() UsageStats {
	return UsageStats{
		Calls:            g.calls.Load(),
		Failures:         g.failures.Load(),
		Rejected:         g.rejected.Load(),
		PromptTokens:     g.promptTokens.Load(),
		CompletionTokens: g.completionTokens.Load(),
	}
}

// Call sends p to the model. Errors are always *Error values; callers treat them as
// recoverable and fall back.
func (g *Gateway) Call(ctx context.Context, p Prompt, kind Kind) (*Response, error) {
	rec := telemetry.FromContext(ctx)

	if !g.Configured() {
		return nil, NewError(ErrorTypeEndpoint, "llm not configured", false, ErrNotConfigured)
	}

	if allowed, err := g.breaker.Allow(); !allowed {
		g.rejected.Add(1)
		g.metrics.ObserveLLMRejected(string(kind))
		rec.AddLLMCall(telemetry.LLMCall{Kind: string(kind), Error: string(ErrorTypeCircuitOpen)})
		return nil, ClassifyError(err)
	}

	g.calls.Add(1)
	start := time.Now()
	attempts := 0

	retryCfg := *g.cfg.Retry
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		g.logger.Warn("Retrying LLM call",
			zap.String("kind", string(kind)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	result, err := retry.DoIfRetryableWithResult(ctx, &retryCfg, func() (*GenerateResponseResult, error) {
		attempts++
		return g.attempt(ctx, p)
	})
	latency := time.Since(start)

	if err != nil {
		if callerGaveUp(ctx, err) {
			g.breaker.RecordCanceled()
		} else {
			g.breaker.RecordFailure()
			g.failures.Add(1)
		}
		classified := ClassifyError(err)
		g.metrics.ObserveLLMCall(string(kind), false, 0, 0, latency)
		rec.AddLLMCall(telemetry.LLMCall{
			Kind:     string(kind),
			Latency:  latency,
			Attempts: attempts,
			Error:    string(classified.Type),
		})
		g.logger.Warn("LLM call failed",
			zap.String("kind", string(kind)),
			zap.Int("attempts", attempts),
			zap.Duration("elapsed", latency),
			zap.Error(classified))
		return nil, classified
	}

	g.breaker.RecordSuccess()
	g.promptTokens.Add(int64(result.PromptTokens))
	g.completionTokens.Add(int64(result.CompletionTokens))
	g.metrics.ObserveLLMCall(string(kind), true, result.PromptTokens, result.CompletionTokens, latency)
	rec.AddLLMCall(telemetry.LLMCall{
		Kind:             string(kind),
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		Latency:          latency,
		Attempts:         attempts,
		Success:          true,
	})

	return &Response{
		Content:          result.Content,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		Latency:          latency,
		Attempts:         attempts,
	}, nil
}

// callerGaveUp reports whether err came from the caller abandoning the request
// rather than from the provider. Such errors say nothing about provider health.
func callerGaveUp(ctx context.Context, err error) bool {
	return ctx.Err() != nil || GetErrorType(err) == ErrorTypeCanceled
}

func (g *Gateway) attempt(ctx context.Context, p Prompt) (*GenerateResponseResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	result, err := g.client.GenerateResponse(attemptCtx, p.User, p.System, p.Temperature, p.MaxTokens)
	if err != nil {
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, NewErrorWithContext(ErrorTypeTimeout, "request timeout", true, err,
				g.client.GetModel(), g.client.GetEndpoint(), 0)
		}
		return nil, ClassifyError(err)
	}
	if result == nil {
		return nil, NewError(ErrorTypeUnknown, "empty response", true, nil)
	}
	return result, nil
}

// Embed returns one vector per input, in input order.
func (g *Gateway) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if g == nil || g.embedder == nil {
		return nil, NewError(ErrorTypeEndpoint, "embeddings not configured", false, ErrNotConfigured)
	}
	if allowed, err := g.embedCB.Allow(); !allowed {
		g.metrics.ObserveLLMRejected(string(KindEmbedding))
		return nil, ClassifyError(err)
	}

	start := time.Now()
	vectors, err := retry.DoIfRetryableWithResult(ctx, g.cfg.Retry, func() ([][]float32, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
		v, err := g.embedder.CreateEmbeddings(attemptCtx, inputs, g.cfg.EmbeddingModel)
		if err != nil {
			return nil, ClassifyError(err)
		}
		return v, nil
	})
	latency := time.Since(start)

	if err == nil && len(vectors) != len(inputs) {
		err = NewError(ErrorTypeUnknown, "embedding count mismatch", false, nil)
	}
	if err != nil {
		if callerGaveUp(ctx, err) {
			g.embedCB.RecordCanceled()
		} else {
			g.embedCB.RecordFailure()
		}
		g.metrics.ObserveLLMCall(string(KindEmbedding), false, 0, 0, latency)
		telemetry.FromContext(ctx).AddLLMCall(telemetry.LLMCall{
			Kind:    string(KindEmbedding),
			Latency: latency,
			Error:   string(GetErrorType(err)),
		})
		return nil, ClassifyError(err)
	}

	g.embedCB.RecordSuccess()
	g.metrics.ObserveLLMCall(string(KindEmbedding), true, 0, 0, latency)
	telemetry.FromContext(ctx).AddLLMCall(telemetry.LLMCall{
		Kind:    string(KindEmbedding),
		Latency: latency,
		Success: true,
	})
	return vectors, nil
}
