package telemetry

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Sink receives one report per finished request. Implementations must not block
// the request path for long and must not fail it.
type Sink interface {
	Emit(ctx context.Context, rep Report)
}

// NopSink discards reports.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(context.Context, Report) {}

// ZapSink writes each report as a structured log line.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a sink that logs through logger.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger.Named("telemetry")}
}

// Emit implements Sink.
func (s *ZapSink) Emit(_ context.Context, rep Report) {
	fields := []zap.Field{
		zap.String("request_id", rep.RequestID),
		zap.Bool("success", rep.Success),
		zap.Duration("elapsed", rep.Elapsed),
		zap.String("decision", rep.Decision),
		zap.Int("llm_calls", len(rep.LLMCalls)),
		zap.Int("prompt_tokens", rep.PromptTokens),
		zap.Int("completion_tokens", rep.CompletionTokens),
		zap.Int("validation_attempts", len(rep.ValidationAttempts)),
		zap.Int("row_count", rep.RowCount),
		zap.Bool("cached", rep.Cached),
		zap.Any("stages_ms", rep.StageMillis()),
	}
	if rep.TemplateID != "" {
		fields = append(fields, zap.String("template_id", rep.TemplateID))
	}
	if rep.Source != "" {
		fields = append(fields, zap.String("source", rep.Source))
	}
	if !rep.Success {
		fields = append(fields, zap.String("stage", rep.Stage), zap.String("reason", rep.Reason))
		s.logger.Warn("Request failed", fields...)
		return
	}
	s.logger.Info("Request completed", fields...)
}

// MemorySink keeps reports in memory. Used by tests and the ask command.
type MemorySink struct {
	mu      sync.Mutex
	reports []Report
}

// Emit implements Sink.
func (s *MemorySink) Emit(_ context.Context, rep Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, rep)
}

// Reports returns a copy of everything emitted so far.
func (s *MemorySink) Reports() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Report(nil), s.reports...)
}

// Last returns the most recent report.
func (s *MemorySink) Last() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reports) == 0 {
		return Report{}, false
	}
	return s.reports[len(s.reports)-1], true
}

// MultiSink fans a report out to several sinks.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(ctx context.Context, rep Report) {
	for _, s := range m {
		s.Emit(ctx, rep)
	}
}

var (
	_ Sink = NopSink{}
	_ Sink = (*ZapSink)(nil)
	_ Sink = (*MemorySink)(nil)
	_ Sink = MultiSink(nil)
)
