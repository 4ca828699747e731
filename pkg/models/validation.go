package models

// StaticVerdict is the result of the pure, synchronous static SQL pass.
type StaticVerdict struct {
	Pass   bool   `json:"pass"`
	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// SemanticVerdict is the LM's judgement of whether SQL answers the question.
type SemanticVerdict struct {
	Valid      bool    `json:"valid"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
	Skipped    bool    `json:"skipped,omitempty"`
}

// ValidationVerdict combines the static and semantic passes.
// Semantic is nil when the semantic pass did not run.
type ValidationVerdict struct {
	Static   StaticVerdict    `json:"static"`
	Semantic *SemanticVerdict `json:"semantic,omitempty"`
	Attempts int              `json:"attempts"`
}

// Passed reports whether the verdict clears both passes.
func (v ValidationVerdict) Passed() bool {
	if !v.Static.Pass {
		return false
	}
	if v.Semantic == nil || v.Semantic.Skipped {
		return true
	}
	return v.Semantic.Valid
}

// Reason returns the reason code of the failing pass, or "" when the verdict passed.
func (v ValidationVerdict) Reason() string {
	if !v.Static.Pass {
		return v.Static.Reason
	}
	if v.Semantic != nil && !v.Semantic.Skipped && !v.Semantic.Valid {
		return "semantic_rejected"
	}
	return ""
}
