package models

// DisplayTable is a small table chosen for presentation.
type DisplayTable struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Presentation is the enriched, LM-written view of a result.
type Presentation struct {
	Narrative  string        `json:"narrative"`
	Highlights []string      `json:"highlights,omitempty"`
	Table      *DisplayTable `json:"table,omitempty"`
}

// Answer is the formatter's output.
type Answer struct {
	Text         string        `json:"answer"`
	Presentation *Presentation `json:"presentation,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
}

// ReasoningTrace summarizes how an answer was produced.
type ReasoningTrace struct {
	TemplateID       string   `json:"template_id,omitempty"`
	GenerationMethod string   `json:"generation_method"`
	RowCount         int      `json:"row_count"`
	ElapsedMs        int64    `json:"elapsed_ms"`
	Warnings         []string `json:"warnings,omitempty"`
}

// ResponseMetadata accompanies every response.
type ResponseMetadata struct {
	RequestID string             `json:"request_id"`
	Timings   map[string]int64   `json:"timings"` // milliseconds per stage
	RowCount  int                `json:"row_count"`
	Cached    bool               `json:"cached,omitempty"`
	Reason    string             `json:"reason,omitempty"` // internal reason code, debug only
	Stage     string             `json:"stage,omitempty"`  // failing stage, debug only
	Trace     *ReasoningTrace    `json:"trace,omitempty"`
	Entities  *ExtractedEntities `json:"entities,omitempty"`
}

// Response is the structured reply for a question, successful or not.
type Response struct {
	Answer       string           `json:"answer"`
	SQL          *string          `json:"sql"`
	Success      bool             `json:"success"`
	Metadata     ResponseMetadata `json:"metadata"`
	Presentation *Presentation    `json:"presentation"`
	Error        *string          `json:"error"`
}
