package models

import "fmt"

// RoutingKind tags the live variant of a RoutingDecision.
type RoutingKind string

const (
	RoutingTemplateDirect    RoutingKind = "template_direct"
	RoutingTemplateConfirmed RoutingKind = "template_confirmed"
	RoutingCustomSQL         RoutingKind = "custom_sql"
	RoutingRejected          RoutingKind = "rejected"
)

// Routing sources recorded on confirmed templates and custom SQL.
const (
	SourceConfirmation = "llm_confirmation"
	SourceSelection    = "llm_selection"
	SourceGeneration   = "llm_generation"
	SourceRegeneration = "llm_regeneration"
)

// Rejection reasons.
const (
	ReasonLLMUnavailable = "llm_unavailable"
	ReasonNoTemplate     = "no_template"
	ReasonNoSQL          = "no_sql_generated"
)

// RoutingDecision is the router's output. Exactly one variant is live, selected by Kind;
// use the constructors rather than building the struct by hand.
type RoutingDecision struct {
	Kind       RoutingKind        `json:"kind"`
	TemplateID string             `json:"template_id,omitempty"`
	Source     string             `json:"source,omitempty"`
	SQL        string             `json:"sql,omitempty"`
	Validation *ValidationVerdict `json:"validation,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	Confidence float64            `json:"confidence,omitempty"`
}

// TemplateDirect selects a template without any LM involvement.
func TemplateDirect(id string, confidence float64) RoutingDecision {
	return RoutingDecision{Kind: RoutingTemplateDirect, TemplateID: id, Confidence: confidence}
}

// TemplateConfirmed selects a template after the LM confirmed or picked it.
func TemplateConfirmed(id, source string, confidence float64) RoutingDecision {
	return RoutingDecision{Kind: RoutingTemplateConfirmed, TemplateID: id, Source: source, Confidence: confidence}
}

// CustomSQL carries LM-generated SQL. It is not executable until a verdict is attached.
func CustomSQL(sql, source string) RoutingDecision {
	return RoutingDecision{Kind: RoutingCustomSQL, SQL: sql, Source: source}
}

// Rejected ends the pipeline with a reason code.
func Rejected(reason string) RoutingDecision {
	return RoutingDecision{Kind: RoutingRejected, Reason: reason}
}

// IsTemplate reports whether the decision resolves to a registry template.
func (d RoutingDecision) IsTemplate() bool {
	return d.Kind == RoutingTemplateDirect || d.Kind == RoutingTemplateConfirmed
}

// WithValidation returns a copy of the decision with the verdict attached.
func (d RoutingDecision) WithValidation(v ValidationVerdict) RoutingDecision {
	d.Validation = &v
	return d
}

// ReadyForExecution checks the variant invariants before the executor runs.
func (d RoutingDecision) ReadyForExecution() error {
	switch d.Kind {
	case RoutingTemplateDirect, RoutingTemplateConfirmed:
		if d.TemplateID == "" {
			return fmt.Errorf("%s decision without template id", d.Kind)
		}
		if d.Validation != nil && !d.Validation.Passed() {
			return fmt.Errorf("template %s failed validation", d.TemplateID)
		}
		return nil
	case RoutingCustomSQL:
		if d.SQL == "" {
			return fmt.Errorf("custom sql decision without sql")
		}
		if d.Validation == nil {
			return fmt.Errorf("custom sql has not been validated")
		}
		if !d.Validation.Passed() {
			return fmt.Errorf("custom sql failed validation")
		}
		return nil
	case RoutingRejected:
		return fmt.Errorf("decision rejected: %s", d.Reason)
	}
	return fmt.Errorf("unknown routing kind %q", d.Kind)
}

// GenerationMethod names how the executed SQL was produced, for traces and telemetry.
func (d RoutingDecision) GenerationMethod() string {
	switch d.Kind {
	case RoutingTemplateDirect:
		return "template"
	case RoutingTemplateConfirmed:
		return "template_" + d.Source
	case RoutingCustomSQL:
		return "custom_" + d.Source
	}
	return string(d.Kind)
}
