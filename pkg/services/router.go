package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/finsql-engine/pkg/llm"
	"github.com/ekaya-inc/finsql-engine/pkg/models"
	"github.com/ekaya-inc/finsql-engine/pkg/prompts"
	"github.com/ekaya-inc/finsql-engine/pkg/telemetry"
	"github.com/ekaya-inc/finsql-engine/pkg/templates"
)

// Router decides how a question is answered: a template directly, a template the
// LM confirmed or picked, custom SQL, or not at all.
type Router interface {
	// Plan routes one question. candidates must be sorted by confidence, best first.
	Plan(ctx context.Context, q models.Question, e models.ExtractedEntities, candidates []models.Candidate) models.RoutingDecision

	// Regenerate asks for corrected SQL after the validator rejected previousSQL.
	Regenerate(ctx context.Context, q models.Question, e models.ExtractedEntities, previousSQL, rejection string) (string, error)
}

// RouterConfig holds the tier thresholds.
type RouterConfig struct {
	HighThreshold        float64
	LowThreshold         float64
	MaxConfirmCandidates int
	Prompt               PromptSettings
	SQLContext           prompts.SQLContext
}

type router struct {
	registry *templates.Registry
	gateway  LLMGateway
	cfg      RouterConfig
	logger   *zap.Logger
}

var _ Router = (*router)(nil)

// NewRouter creates a router. gateway may be nil; only the fast path is then live.
func NewRouter(registry *templates.Registry, gateway LLMGateway, cfg RouterConfig, logger *zap.Logger) Router {
	if cfg.HighThreshold <= 0 {
		cfg.HighThreshold = 0.8
	}
	if cfg.LowThreshold <= 0 || cfg.LowThreshold > cfg.HighThreshold {
		cfg.LowThreshold = 0.5
	}
	if cfg.MaxConfirmCandidates <= 0 {
		cfg.MaxConfirmCandidates = 3
	}
	return &router{
		registry: registry,
		gateway:  gateway,
		cfg:      cfg,
		logger:   logger.Named("router"),
	}
}

func (r *router) Plan(ctx context.Context, q models.Question, e models.ExtractedEntities, candidates []models.Candidate) models.RoutingDecision {
	d := r.plan(ctx, q, e, candidates)
	telemetry.FromContext(ctx).SetDecision(string(d.Kind), d.TemplateID, d.Source)

	fields := []zap.Field{
		zap.String("kind", string(d.Kind)),
		zap.String("template_id", d.TemplateID),
		zap.String("source", d.Source),
		zap.Float64("confidence", d.Confidence),
	}
	if d.Kind == models.RoutingRejected {
		r.logger.Info("Question rejected by router", append(fields, zap.String("reason", d.Reason))...)
	} else {
		r.logger.Debug("Routed question", fields...)
	}
	return d
}

func (r *router) plan(ctx context.Context, q models.Question, e models.ExtractedEntities, candidates []models.Candidate) models.RoutingDecision {
	if len(candidates) > 0 {
		top := candidates[0]
		if top.Confidence >= r.cfg.HighThreshold && r.slotsSatisfied(top.TemplateID, e) {
			return models.TemplateDirect(top.TemplateID, top.Confidence)
		}
	}

	if !gatewayAvailable(r.gateway) {
		return models.Rejected(models.ReasonLLMUnavailable)
	}

	if len(candidates) > 0 && candidates[0].Confidence >= r.cfg.LowThreshold {
		if d, ok := r.confirm(ctx, q, e, candidates); ok {
			return d
		}
		// the breaker may have opened on the confirmation call
		if !gatewayAvailable(r.gateway) {
			return models.Rejected(models.ReasonLLMUnavailable)
		}
	}

	return r.selectOrGenerate(ctx, q, e)
}

// confirm offers the medium-confidence candidates to the LM. ok is false when the
// LM declined, picked something unusable or failed; the caller then falls back.
func (r *router) confirm(ctx context.Context, q models.Question, e models.ExtractedEntities, candidates []models.Candidate) (models.RoutingDecision, bool) {
	var offered []models.Template
	for _, c := range candidates {
		if len(offered) == r.cfg.MaxConfirmCandidates || c.Confidence < r.cfg.LowThreshold {
			break
		}
		t, err := r.registry.Get(c.TemplateID)
		if err != nil {
			continue
		}
		offered = append(offered, t)
	}
	if len(offered) == 0 {
		return models.RoutingDecision{}, false
	}

	resp, err := callStructured[prompts.ConfirmationResponse](ctx, r.gateway, llm.Prompt{
		System:      prompts.RoutingSystemMessage,
		User:        prompts.BuildTemplateConfirmationPrompt(q.Text, e, offered),
		Temperature: r.cfg.Prompt.Temperature,
		MaxTokens:   r.cfg.Prompt.MaxTokens,
	}, llm.KindConfirmation, prompts.ConfirmationSchema)
	if err != nil {
		r.logger.Warn("Template confirmation failed, falling back to selection",
			zap.String("error_type", string(llm.GetErrorType(err))),
			zap.Error(err))
		return models.RoutingDecision{}, false
	}
	if !resp.Confirmed {
		r.logger.Debug("LLM declined candidate templates", zap.String("reasoning", resp.Reasoning))
		return models.RoutingDecision{}, false
	}

	id := offered[0].ID
	if resp.TemplateID != nil && *resp.TemplateID != "" {
		id = *resp.TemplateID
	}
	if !templateOffered(offered, id) {
		r.logger.Warn("LLM confirmed a template that was not offered", zap.String("template_id", id))
		return models.RoutingDecision{}, false
	}
	if !r.slotsSatisfied(id, e) {
		return models.RoutingDecision{}, false
	}
	return models.TemplateConfirmed(id, models.SourceConfirmation, resp.Confidence), true
}

// selectOrGenerate is the last tier: the LM sees every template plus the schema
// and either picks one or writes SQL.
func (r *router) selectOrGenerate(ctx context.Context, q models.Question, e models.ExtractedEntities) models.RoutingDecision {
	resp, err := callStructured[prompts.SelectionResponse](ctx, r.gateway, llm.Prompt{
		System:      prompts.RoutingSystemMessage,
		User:        prompts.BuildSelectionPrompt(q.Text, q.RecentTurns(4), e, r.registry.All(), r.cfg.SQLContext),
		Temperature: r.cfg.Prompt.Temperature,
		MaxTokens:   r.cfg.Prompt.MaxTokens,
	}, llm.KindSelection, prompts.SelectionSchema)
	if err != nil {
		r.logger.Warn("Template selection failed",
			zap.String("error_type", string(llm.GetErrorType(err))),
			zap.Error(err))
		if llm.GetErrorType(err) == llm.ErrorTypeParse {
			return models.Rejected(models.ReasonNoSQL)
		}
		return models.Rejected(models.ReasonLLMUnavailable)
	}

	if !resp.UseCustomSQL && resp.TemplateID != nil && *resp.TemplateID != "" {
		id := *resp.TemplateID
		if r.registry.Has(id) && r.slotsSatisfied(id, e) {
			return models.TemplateConfirmed(id, models.SourceSelection, resp.Confidence)
		}
		r.logger.Info("LLM selected an unusable template",
			zap.String("template_id", id),
			zap.Bool("known", r.registry.Has(id)))
	}

	if resp.SQL != nil {
		if sql := cleanSQL(*resp.SQL); sql != "" {
			d := models.CustomSQL(sql, models.SourceGeneration)
			d.Confidence = resp.Confidence
			return d
		}
	}
	if resp.UseCustomSQL {
		return models.Rejected(models.ReasonNoSQL)
	}
	return models.Rejected(models.ReasonNoTemplate)
}

func (r *router) Regenerate(ctx context.Context, q models.Question, e models.ExtractedEntities, previousSQL, rejection string) (string, error) {
	if !gatewayAvailable(r.gateway) {
		return "", llm.NewError(llm.ErrorTypeCircuitOpen, "language model unavailable", false, nil)
	}
	resp, err := callStructured[prompts.GenerationResponse](ctx, r.gateway, llm.Prompt{
		System:      prompts.RoutingSystemMessage,
		User:        prompts.BuildRegenerationPrompt(q.Text, e, previousSQL, rejection, r.cfg.SQLContext),
		Temperature: r.cfg.Prompt.Temperature,
		MaxTokens:   r.cfg.Prompt.MaxTokens,
	}, llm.KindRegeneration, prompts.GenerationSchema)
	if err != nil {
		return "", fmt.Errorf("regenerate sql: %w", err)
	}
	sql := cleanSQL(resp.SQL)
	if sql == "" {
		return "", llm.NewError(llm.ErrorTypeParse, "regenerated sql is empty", false, nil)
	}
	return sql, nil
}

func (r *router) slotsSatisfied(id string, e models.ExtractedEntities) bool {
	t, err := r.registry.Get(id)
	if err != nil {
		return false
	}
	return len(e.MissingSlots(t.RequiredSlots)) == 0
}

func templateOffered(offered []models.Template, id string) bool {
	for _, t := range offered {
		if t.ID == id {
			return true
		}
	}
	return false
}
