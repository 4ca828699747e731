// Package telemetry collects the per-request trace of the question pipeline and
// hands it to a write-only sink once the request completes.
package telemetry

import (
	"context"
	"sync"
	"time"
)

// LLMCall is one gateway call as seen by the request.
type LLMCall struct {
	Kind             string        `json:"kind"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	Latency          time.Duration `json:"latency"`
	Attempts         int           `json:"attempts"`
	Success          bool          `json:"success"`
	Error            string        `json:"error,omitempty"`
}

// ValidationAttempt is one pass of the SQL validator.
type ValidationAttempt struct {
	Attempt    int           `json:"attempt"`
	Pass       string        `json:"pass"` // "static" or "semantic"
	OK         bool          `json:"ok"`
	Reason     string        `json:"reason,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	Latency    time.Duration `json:"latency"`
}

// Record accumulates the trace of a single request. All methods are safe on a nil
// receiver so stages never need to check whether telemetry is enabled.
type Record struct {
	mu sync.Mutex

	requestID  string
	startedAt  time.Time
	stages     []StageTiming
	decision   string
	templateID string
	source     string
	validation []ValidationAttempt
	llmCalls   []LLMCall
	rowCount   int
	cached     bool
	success    bool
	stage      string
	reason     string
	finished   bool
}

// StageTiming is the wall time spent in one pipeline stage.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// NewRecord starts a record for requestID.
func NewRecord(requestID string) *Record {
	return &Record{requestID: requestID, startedAt: time.Now()}
}

// RequestID returns the id the record was created with.
func (r *Record) RequestID() string {
	if r == nil {
		return ""
	}
	return r.requestID
}

// AddStage appends a stage timing.
func (r *Record) AddStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, StageTiming{Stage: stage, Duration: d})
}

// AddLLMCall appends a gateway call.
func (r *Record) AddLLMCall(call LLMCall) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llmCalls = append(r.llmCalls, call)
}

// AddValidationAttempt appends a validator pass.
func (r *Record) AddValidationAttempt(a ValidationAttempt) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validation = append(r.validation, a)
}

// SetDecision stores the routing outcome.
func (r *Record) SetDecision(kind, templateID, source string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decision = kind
	r.templateID = templateID
	r.source = source
}

// SetResult stores execution facts.
func (r *Record) SetResult(rowCount int, cached bool) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rowCount = rowCount
	r.cached = cached
}

// Finish marks the request outcome. Only the first call has effect.
func (r *Record) Finish(success bool, stage, reason string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	r.finished = true
	r.success = success
	r.stage = stage
	r.reason = reason
}

// Report is an immutable snapshot of a Record.
type Report struct {
	RequestID          string              `json:"request_id"`
	StartedAt          time.Time           `json:"started_at"`
	Elapsed            time.Duration       `json:"elapsed"`
	Stages             []StageTiming       `json:"stages"`
	Decision           string              `json:"decision,omitempty"`
	TemplateID         string              `json:"template_id,omitempty"`
	Source             string              `json:"source,omitempty"`
	ValidationAttempts []ValidationAttempt `json:"validation_attempts,omitempty"`
	LLMCalls           []LLMCall           `json:"llm_calls,omitempty"`
	PromptTokens       int                 `json:"prompt_tokens"`
	CompletionTokens   int                 `json:"completion_tokens"`
	RowCount           int                 `json:"row_count"`
	Cached             bool                `json:"cached"`
	Success            bool                `json:"success"`
	Stage              string              `json:"stage,omitempty"`
	Reason             string              `json:"reason,omitempty"`
}

// Report snapshots the record.
func (r *Record) Report() Report {
	if r == nil {
		return Report{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := Report{
		RequestID:          r.requestID,
		StartedAt:          r.startedAt,
		Elapsed:            time.Since(r.startedAt),
		Stages:             append([]StageTiming(nil), r.stages...),
		Decision:           r.decision,
		TemplateID:         r.templateID,
		Source:             r.source,
		ValidationAttempts: append([]ValidationAttempt(nil), r.validation...),
		LLMCalls:           append([]LLMCall(nil), r.llmCalls...),
		RowCount:           r.rowCount,
		Cached:             r.cached,
		Success:            r.success,
		Stage:              r.stage,
		Reason:             r.reason,
	}
	for _, c := range r.llmCalls {
		rep.PromptTokens += c.PromptTokens
		rep.CompletionTokens += c.CompletionTokens
	}
	return rep
}

// StageMillis returns stage timings keyed by stage name, in milliseconds.
func (rep Report) StageMillis() map[string]int64 {
	out := make(map[string]int64, len(rep.Stages))
	for _, s := range rep.Stages {
		out[s.Stage] += s.Duration.Milliseconds()
	}
	return out
}

type contextKey struct{}

// WithRecord attaches rec to ctx.
func WithRecord(ctx context.Context, rec *Record) context.Context {
	return context.WithValue(ctx, contextKey{}, rec)
}

// FromContext returns the record attached to ctx, or nil.
func FromContext(ctx context.Context) *Record {
	rec, _ := ctx.Value(contextKey{}).(*Record)
	return rec
}
