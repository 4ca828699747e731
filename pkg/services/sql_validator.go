package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/finsql-engine/pkg/apperrors"
	"github.com/ekaya-inc/finsql-engine/pkg/llm"
	"github.com/ekaya-inc/finsql-engine/pkg/logging"
	"github.com/ekaya-inc/finsql-engine/pkg/models"
	"github.com/ekaya-inc/finsql-engine/pkg/prompts"
	"github.com/ekaya-inc/finsql-engine/pkg/schema"
	sqlpkg "github.com/ekaya-inc/finsql-engine/pkg/sql"
	"github.com/ekaya-inc/finsql-engine/pkg/telemetry"
	"github.com/ekaya-inc/finsql-engine/pkg/templates"
)

// Validation pass names recorded in telemetry and metrics.
const (
	passStatic   = "static"
	passSemantic = "semantic"
)

// SQLValidator is the two-pass gate between routing and execution.
type SQLValidator interface {
	// Validate runs one attempt over sql. The semantic pass runs only when
	// semantic is true and a language model is available.
	Validate(ctx context.Context, sql string, q models.Question, e models.ExtractedEntities, semantic bool) models.ValidationVerdict

	// ValidateDecision gates a routing decision, regenerating custom SQL on semantic
	// failure until the retry budget is spent. The returned decision carries the
	// final verdict.
	ValidateDecision(ctx context.Context, q models.Question, e models.ExtractedEntities, d models.RoutingDecision) (models.RoutingDecision, error)
}

// SQLRegenerator produces corrected SQL after a rejection. Router implements it.
type SQLRegenerator interface {
	Regenerate(ctx context.Context, q models.Question, e models.ExtractedEntities, previousSQL, rejection string) (string, error)
}

// ValidatorConfig configures the validator.
type ValidatorConfig struct {
	SemanticThreshold float64
	RetryBudget       int  // total attempts for custom SQL, including the first
	ValidateTemplates bool // run the semantic pass on templates too
	Prompt            PromptSettings
}

type sqlValidator struct {
	rules       sqlpkg.StaticRules
	schemaDoc   string
	registry    *templates.Registry
	gateway     LLMGateway
	regenerator SQLRegenerator
	cfg         ValidatorConfig
	metrics     *telemetry.Metrics
	logger      *zap.Logger
}

var _ SQLValidator = (*sqlValidator)(nil)

// NewSQLValidator creates a validator. gateway and regenerator may be nil, which
// disables the semantic pass and regeneration respectively.
func NewSQLValidator(
	catalog *schema.Catalog,
	registry *templates.Registry,
	gateway LLMGateway,
	regenerator SQLRegenerator,
	cfg ValidatorConfig,
	metrics *telemetry.Metrics,
	logger *zap.Logger,
) SQLValidator {
	if cfg.SemanticThreshold <= 0 {
		cfg.SemanticThreshold = 0.7
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = 3
	}
	return &sqlValidator{
		rules:       catalog.StaticRules(),
		schemaDoc:   catalog.RenderMarkdown(),
		registry:    registry,
		gateway:     gateway,
		regenerator: regenerator,
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger.Named("sql-validator"),
	}
}

func (v *sqlValidator) Validate(ctx context.Context, sql string, q models.Question, e models.ExtractedEntities, semantic bool) models.ValidationVerdict {
	return v.attempt(ctx, 1, sql, q, e, semantic)
}

func (v *sqlValidator) attempt(ctx context.Context, n int, sql string, q models.Question, e models.ExtractedEntities, semantic bool) models.ValidationVerdict {
	rec := telemetry.FromContext(ctx)
	verdict := models.ValidationVerdict{Attempts: n}

	start := time.Now()
	res := sqlpkg.CheckStatic(sql, v.rules)
	verdict.Static = models.StaticVerdict{Pass: res.Pass, Reason: res.Reason, Detail: res.Detail}
	rec.AddValidationAttempt(telemetry.ValidationAttempt{
		Attempt: n,
		Pass:    passStatic,
		OK:      res.Pass,
		Reason:  res.Reason,
		Latency: time.Since(start),
	})
	v.metrics.ObserveValidation(passStatic, res.Pass)

	if !res.Pass {
		v.logger.Info("SQL failed static validation",
			zap.Int("attempt", n),
			zap.String("reason", res.Reason),
			zap.String("detail", res.Detail),
			zap.String("sql", logging.SanitizeQuery(sql)))
		return verdict
	}
	if !semantic {
		return verdict
	}

	verdict.Semantic = v.semantic(ctx, n, sql, q, e)
	return verdict
}

// semantic asks the LM whether sql answers the question. An unavailable or failing
// LM skips the pass rather than failing it.
func (v *sqlValidator) semantic(ctx context.Context, n int, sql string, q models.Question, e models.ExtractedEntities) *models.SemanticVerdict {
	if !gatewayAvailable(v.gateway) {
		v.logger.Debug("Semantic validation skipped, language model unavailable")
		return &models.SemanticVerdict{Skipped: true, Rationale: "language model unavailable"}
	}

	start := time.Now()
	resp, err := callStructured[prompts.SemanticValidationResponse](ctx, v.gateway, llm.Prompt{
		System:      prompts.SemanticValidationSystemMessage,
		User:        prompts.BuildSemanticValidationPrompt(q.Text, e, sql, v.schemaDoc),
		Temperature: v.cfg.Prompt.Temperature,
		MaxTokens:   v.cfg.Prompt.MaxTokens,
	}, llm.KindSemanticValidation, prompts.SemanticValidationSchema)
	if err != nil {
		v.logger.Warn("Semantic validation failed to run, skipping",
			zap.String("error_type", string(llm.GetErrorType(err))),
			zap.Error(err))
		return &models.SemanticVerdict{Skipped: true, Rationale: fmt.Sprintf("semantic validation error (%s)", llm.GetErrorType(err))}
	}

	ok := resp.IsValid && resp.Confidence >= v.cfg.SemanticThreshold
	telemetry.FromContext(ctx).AddValidationAttempt(telemetry.ValidationAttempt{
		Attempt:    n,
		Pass:       passSemantic,
		OK:         ok,
		Reason:     resp.Reason,
		Confidence: resp.Confidence,
		Latency:    time.Since(start),
	})
	v.metrics.ObserveValidation(passSemantic, ok)

	rationale := resp.Reason
	if resp.IsValid && !ok {
		rationale = fmt.Sprintf("confidence %.2f below threshold %.2f", resp.Confidence, v.cfg.SemanticThreshold)
	}
	return &models.SemanticVerdict{Valid: ok, Confidence: resp.Confidence, Rationale: rationale}
}

func (v *sqlValidator) ValidateDecision(ctx context.Context, q models.Question, e models.ExtractedEntities, d models.RoutingDecision) (models.RoutingDecision, error) {
	switch d.Kind {
	case models.RoutingTemplateDirect, models.RoutingTemplateConfirmed:
		t, err := v.registry.Get(d.TemplateID)
		if err != nil {
			return d, apperrors.NewPipelineError(apperrors.StageValidation, "unknown_template", err)
		}
		verdict := v.attempt(ctx, 1, t.SQL, q, e, v.cfg.ValidateTemplates)
		if !verdict.Passed() {
			return d.WithValidation(verdict), apperrors.NewPipelineError(apperrors.StageValidation, verdict.Reason(), apperrors.ErrValidationFailed)
		}
		return d.WithValidation(verdict), nil

	case models.RoutingCustomSQL:
		return v.validateCustom(ctx, q, e, d)

	case models.RoutingRejected:
		cause := apperrors.ErrRoutingRejected
		if d.Reason == models.ReasonLLMUnavailable {
			cause = fmt.Errorf("%w: %w", apperrors.ErrRoutingRejected, apperrors.ErrLLMUnavailable)
		}
		return d, apperrors.NewPipelineError(apperrors.StageRouting, d.Reason, cause)
	}
	return d, apperrors.NewPipelineError(apperrors.StageValidation, "unknown_decision", apperrors.ErrInvalidInput)
}

func (v *sqlValidator) validateCustom(ctx context.Context, q models.Question, e models.ExtractedEntities, d models.RoutingDecision) (models.RoutingDecision, error) {
	current := d
	for n := 1; ; n++ {
		verdict := v.attempt(ctx, n, current.SQL, q, e, true)
		current = current.WithValidation(verdict)
		if verdict.Passed() {
			return current, nil
		}

		reason := verdict.Reason()
		// static failures are never regenerated
		if !verdict.Static.Pass {
			return current, apperrors.NewPipelineError(apperrors.StageValidation, reason, apperrors.ErrValidationFailed)
		}
		if n >= v.cfg.RetryBudget || v.regenerator == nil {
			v.logger.Info("Custom SQL rejected, retry budget spent", zap.Int("attempts", n))
			return current, apperrors.NewPipelineError(apperrors.StageValidation, reason, apperrors.ErrValidationFailed)
		}

		rejection := reason
		if verdict.Semantic != nil && verdict.Semantic.Rationale != "" {
			rejection = fmt.Sprintf("%s: %s", reason, verdict.Semantic.Rationale)
		}
		sql, err := v.regenerator.Regenerate(ctx, q, e, current.SQL, rejection)
		if err != nil {
			v.logger.Warn("SQL regeneration failed",
				zap.Int("attempt", n),
				zap.String("error_type", string(llm.GetErrorType(err))),
				zap.Error(err))
			return current, apperrors.NewPipelineError(apperrors.StageValidation, reason, apperrors.ErrValidationFailed)
		}
		next := models.CustomSQL(sql, models.SourceRegeneration)
		next.Confidence = d.Confidence
		current = next
	}
}
