package models

// TemplateParameter binds a {{name}} placeholder in a template's SQL to an entity slot.
type TemplateParameter struct {
	Name        string `json:"name" yaml:"name"`
	Slot        Slot   `json:"slot" yaml:"slot"`
	Type        string `json:"type" yaml:"type"`                                 // string, integer, string_pattern
	Transform   string `json:"transform,omitempty" yaml:"transform,omitempty"` // upper, upper_contains, start_year, end_year, metric_tag
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required" yaml:"required"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
}

// OutputColumn describes a single column returned by a template.
type OutputColumn struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Template is a parameterized SQL query bound to a natural-language intent.
// Templates are loaded once at startup and never mutated afterwards.
type Template struct {
	ID            string              `json:"id" yaml:"id"`
	Name          string              `json:"name" yaml:"name"`
	Description   string              `json:"description" yaml:"description"`
	Intents       []string            `json:"intents" yaml:"intents"`   // natural-language exemplars
	Pattern       string              `json:"pattern" yaml:"pattern"`   // regex over the lowercased question
	Keywords      []string            `json:"keywords" yaml:"keywords"` // coarse keyword hints
	RequiredSlots []Slot              `json:"required_slots" yaml:"required_slots"`
	SQL           string              `json:"sql" yaml:"sql"`
	Parameters    []TemplateParameter `json:"parameters" yaml:"parameters"`
	OutputColumns []OutputColumn      `json:"output_columns" yaml:"output_columns"`
	AnswerFormat  string              `json:"answer_format,omitempty" yaml:"answer_format,omitempty"`
}

// Candidate is a template proposed by a matcher together with its match confidence.
type Candidate struct {
	TemplateID string  `json:"template_id"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"` // "pattern", "keyword", "embedding"
}
