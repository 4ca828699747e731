package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/finsql-engine/pkg/apperrors"
	"github.com/ekaya-inc/finsql-engine/pkg/cache"
	"github.com/ekaya-inc/finsql-engine/pkg/models"
	"github.com/ekaya-inc/finsql-engine/pkg/telemetry"
	"github.com/ekaya-inc/finsql-engine/pkg/templates"
)

// Stage names used for timings, metrics and telemetry.
const (
	stageExtraction = string(apperrors.StageExtraction)
	stageMatching   = "matching"
	stageRouting    = string(apperrors.StageRouting)
	stageValidation = string(apperrors.StageValidation)
	stageExecution  = string(apperrors.StageExecution)
	stageFormatting = string(apperrors.StageFormatting)
)

// User-facing messages. Internal reason codes are only shown to debug requests.
const (
	msgNotUnderstood  = "I couldn't understand your question. Please try rephrasing it or asking about company sectors, CIKs, sector counts or reported financial metrics."
	msgLLMUnavailable = "I can't answer that question right now because the language model is unavailable. Questions about sector counts, company CIKs, sectors and reported metrics still work."
	msgUnsafeQuery    = "I couldn't build a safe query for that question. Please try rephrasing it."
	msgTimeout        = "The query took too long to run. Please try a narrower question."
	msgTooManyRows    = "That question matches too many rows. Please narrow it down, for example to one sector or year."
	msgBadParameter   = "Some of the values in your question could not be used safely. Please rephrase it."
	msgStoreError     = "There was an error querying the database. Please try again or rephrase your question."
	msgInternal       = "An unexpected error occurred while processing your question."
	msgEmptyQuestion  = "Please ask a question."
)

// QueryService answers natural-language questions end to end.
type QueryService interface {
	// Run never returns an error: every failure is a structured, unsuccessful response.
	Run(ctx context.Context, q models.Question) models.Response
}

// QueryServiceDeps are the pipeline stages and side channels the service drives.
type QueryServiceDeps struct {
	Extractor EntityExtractor
	Matcher   templates.Matcher
	Registry  *templates.Registry
	Router    Router
	Validator SQLValidator
	Executor  QueryExecutor
	Formatter ResponseFormatter

	// Optional.
	Cache   cache.ResultCache
	Sink    telemetry.Sink
	Metrics *telemetry.Metrics
}

type queryService struct {
	QueryServiceDeps
	logger *zap.Logger
}

var _ QueryService = (*queryService)(nil)

// NewQueryService wires the pipeline stages into a request handler.
func NewQueryService(deps QueryServiceDeps, logger *zap.Logger) QueryService {
	if deps.Cache == nil {
		deps.Cache = cache.Noop{}
	}
	if deps.Sink == nil {
		deps.Sink = telemetry.NopSink{}
	}
	return &queryService{
		QueryServiceDeps: deps,
		logger:           logger.Named("query-service"),
	}
}

// requestState carries the per-request state through the stages.
type requestState struct {
	q        models.Question
	rec      *telemetry.Record
	start    time.Time
	entities models.ExtractedEntities
	decision models.RoutingDecision
	result   *models.QueryResult
	answer   models.Answer
}

func (s *queryService) Run(ctx context.Context, q models.Question) (resp models.Response) {
	r := &requestState{
		q:     q,
		rec:   telemetry.NewRecord(uuid.NewString()),
		start: time.Now(),
	}
	ctx = telemetry.WithRecord(ctx, r.rec)

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("Pipeline panicked",
				zap.String("request_id", r.rec.RequestID()),
				zap.Any("panic", p),
				zap.Stack("stack"))
			resp = s.fail(ctx, r, apperrors.NewPipelineError(apperrors.StageFormatting, "internal_error", fmt.Errorf("panic: %v", p)))
		}
	}()

	if strings.TrimSpace(q.Text) == "" {
		return s.fail(ctx, r, apperrors.NewPipelineError(apperrors.StageExtraction, "empty_question", apperrors.ErrInvalidInput))
	}

	if err := s.pipeline(ctx, r); err != nil {
		return s.fail(ctx, r, err)
	}
	return s.succeed(ctx, r)
}

func (s *queryService) pipeline(ctx context.Context, r *requestState) error {
	s.timed(r, stageExtraction, func() {
		r.entities = s.Extractor.Extract(ctx, r.q.Text, r.q.History)
	})

	var candidates []models.Candidate
	s.timed(r, stageMatching, func() {
		candidates = s.rescore(r.entities, s.Matcher.Match(ctx, r.q.Text, r.entities))
	})

	s.timed(r, stageRouting, func() {
		r.decision = s.Router.Plan(ctx, r.q, r.entities, candidates)
	})

	s.logger.Debug("Planned query",
		zap.String("request_id", r.rec.RequestID()),
		zap.String("entities", r.entities.Summary()),
		zap.Int("candidates", len(candidates)),
		zap.String("decision", string(r.decision.Kind)),
		zap.String("template_id", r.decision.TemplateID))

	var err error
	s.timed(r, stageValidation, func() {
		r.decision, err = s.Validator.ValidateDecision(ctx, r.q, r.entities, r.decision)
	})
	if err != nil {
		return err
	}

	s.timed(r, stageExecution, func() {
		r.result, err = s.execute(ctx, r)
	})
	if err != nil {
		return apperrors.NewPipelineError(apperrors.StageExecution, executionCode(err), err)
	}

	s.timed(r, stageFormatting, func() {
		r.answer = s.Formatter.Format(ctx, r.q, r.entities, r.decision, r.result)
	})
	return nil
}

// rescore caps each candidate's match confidence by how well the extracted
// entities fill that template, then re-sorts.
func (s *queryService) rescore(e models.ExtractedEntities, candidates []models.Candidate) []models.Candidate {
	out := make([]models.Candidate, 0, len(candidates))
	for _, c := range candidates {
		t, err := s.Registry.Get(c.TemplateID)
		if err != nil {
			continue
		}
		c.Confidence = min(c.Confidence, s.Extractor.ScoreForTemplate(e, t))
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

func (s *queryService) execute(ctx context.Context, r *requestState) (*models.QueryResult, error) {
	pq, err := s.Executor.Prepare(r.decision, r.entities)
	if err != nil {
		return nil, err
	}

	key := cache.Key(pq.SQL, pq.Params)
	if hit, ok := s.Cache.Get(ctx, key); ok {
		s.Metrics.ObserveCache(true)
		res := *hit
		res.SQL = pq.SQL
		res.Cached = true
		return &res, nil
	}
	s.Metrics.ObserveCache(false)

	res, err := s.Executor.Execute(ctx, pq.SQL, pq.Params)
	if err != nil {
		return nil, err
	}
	s.Cache.Set(ctx, key, res)
	return res, nil
}

func (s *queryService) timed(r *requestState, stage string, fn func()) {
	start := time.Now()
	fn()
	d := time.Since(start)
	r.rec.AddStage(stage, d)
	s.Metrics.ObserveStage(stage, d)
}

func (s *queryService) succeed(ctx context.Context, r *requestState) models.Response {
	r.rec.SetResult(r.result.RowCount, r.result.Cached)
	r.rec.Finish(true, "", "")
	rep := s.emit(ctx, r)
	s.Metrics.ObserveRequest(true, "")

	sql := r.result.SQL
	resp := models.Response{
		Answer:       r.answer.Text,
		SQL:          &sql,
		Success:      true,
		Presentation: r.answer.Presentation,
		Metadata: models.ResponseMetadata{
			RequestID: rep.RequestID,
			Timings:   rep.StageMillis(),
			RowCount:  r.result.RowCount,
			Cached:    r.result.Cached,
			Trace: &models.ReasoningTrace{
				TemplateID:       r.decision.TemplateID,
				GenerationMethod: r.decision.GenerationMethod(),
				RowCount:         r.result.RowCount,
				ElapsedMs:        time.Since(r.start).Milliseconds(),
				Warnings:         append(append([]string(nil), r.entities.Warnings...), r.answer.Warnings...),
			},
		},
	}
	if r.q.Debug {
		e := r.entities.Clone()
		resp.Metadata.Entities = &e
	}

	s.logger.Info("Answered question",
		zap.String("request_id", rep.RequestID),
		zap.String("generation_method", r.decision.GenerationMethod()),
		zap.String("template_id", r.decision.TemplateID),
		zap.Int("row_count", r.result.RowCount),
		zap.Bool("cached", r.result.Cached),
		zap.Duration("elapsed", time.Since(r.start)))
	return resp
}

// fail turns a terminal error into a polite response. SQL is never returned.
func (s *queryService) fail(ctx context.Context, r *requestState, err error) models.Response {
	stage, code := classify(err)
	r.rec.Finish(false, stage, code)
	rep := s.emit(ctx, r)
	s.Metrics.ObserveRequest(false, stage)

	category := failureCategory(err)
	resp := models.Response{
		Answer:  userMessage(err, code),
		Success: false,
		Error:   &category,
		Metadata: models.ResponseMetadata{
			RequestID: rep.RequestID,
			Timings:   rep.StageMillis(),
		},
	}
	if r.q.Debug {
		resp.Metadata.Stage = stage
		resp.Metadata.Reason = code
		resp.Metadata.Trace = &models.ReasoningTrace{
			TemplateID:       r.decision.TemplateID,
			GenerationMethod: r.decision.GenerationMethod(),
			ElapsedMs:        time.Since(r.start).Milliseconds(),
			Warnings:         r.entities.Warnings,
		}
		e := r.entities.Clone()
		resp.Metadata.Entities = &e
	}

	s.logger.Info("Question not answered",
		zap.String("request_id", rep.RequestID),
		zap.String("stage", stage),
		zap.String("reason", code),
		zap.Duration("elapsed", time.Since(r.start)))
	return resp
}

func (s *queryService) emit(ctx context.Context, r *requestState) telemetry.Report {
	rep := r.rec.Report()
	s.Sink.Emit(context.WithoutCancel(ctx), rep)
	return rep
}

// classify returns the failing stage and the internal reason code.
func classify(err error) (string, string) {
	var pe *apperrors.PipelineError
	if errors.As(err, &pe) {
		return string(pe.Stage), pe.Code
	}
	if errors.Is(err, apperrors.ErrExecution) {
		return stageExecution, executionCode(err)
	}
	return stageFormatting, "internal_error"
}

func executionCode(err error) string {
	if ee, ok := apperrors.AsExecutionError(err); ok {
		return string(ee.Kind)
	}
	if errors.Is(err, apperrors.ErrInvalidInput) {
		return "invalid_decision"
	}
	return "internal_error"
}

// failureCategory is the stable error value returned to callers.
func failureCategory(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, apperrors.ErrRoutingRejected):
		return "routing_rejected"
	case errors.Is(err, apperrors.ErrValidationFailed):
		return "validation_failed"
	case errors.Is(err, apperrors.ErrExecution):
		return "execution_error"
	}
	return "internal_error"
}

func userMessage(err error, code string) string {
	switch {
	case code == "empty_question":
		return msgEmptyQuestion
	case errors.Is(err, apperrors.ErrLLMUnavailable):
		return msgLLMUnavailable
	case errors.Is(err, apperrors.ErrRoutingRejected):
		return msgNotUnderstood
	case errors.Is(err, apperrors.ErrValidationFailed):
		return msgUnsafeQuery
	}

	if ee, ok := apperrors.AsExecutionError(err); ok {
		switch ee.Kind {
		case apperrors.ExecutionTimeout:
			return msgTimeout
		case apperrors.ExecutionTooManyRows:
			return msgTooManyRows
		case apperrors.ExecutionInvalidParameter:
			return msgBadParameter
		}
		return msgStoreError
	}
	return msgInternal
}
