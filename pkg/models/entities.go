package models

import (
	"fmt"
	"sort"
	"strings"
)

// Slot names a piece of information a template needs from the question.
type Slot string

const (
	SlotCompany    Slot = "company"
	SlotSector     Slot = "sector"
	SlotMetric     Slot = "metric"
	SlotTimeWindow Slot = "time_window"
)

// QuestionType is the operation hint detected in the question.
type QuestionType string

const (
	QuestionTypeLookup      QuestionType = "lookup"
	QuestionTypeCount       QuestionType = "count"
	QuestionTypeList        QuestionType = "list"
	QuestionTypeComparison  QuestionType = "comparison"
	QuestionTypeTrend       QuestionType = "trend"
	QuestionTypeCalculation QuestionType = "calculation"
)

// ValidQuestionType reports whether s names a known question type.
func ValidQuestionType(s string) bool {
	switch QuestionType(s) {
	case QuestionTypeLookup, QuestionTypeCount, QuestionTypeList,
		QuestionTypeComparison, QuestionTypeTrend, QuestionTypeCalculation:
		return true
	}
	return false
}

// CompanyRef is a company mention, resolved against the company dictionary when possible.
type CompanyRef struct {
	Raw      string `json:"raw"`
	Name     string `json:"name"`             // canonical filer name, e.g. "APPLE INC"
	Ticker   string `json:"ticker,omitempty"` // e.g. "AAPL"
	Resolved bool   `json:"resolved"`
}

// TimeWindowKind tags the shape of a TimeWindow.
type TimeWindowKind string

const (
	TimeWindowNone      TimeWindowKind = ""
	TimeWindowYear      TimeWindowKind = "year"
	TimeWindowYearRange TimeWindowKind = "year_range"
	TimeWindowQuarters  TimeWindowKind = "quarters"
	TimeWindowLatest    TimeWindowKind = "latest"
)

// Quarter is a fiscal quarter label such as Q3 2024.
type Quarter struct {
	Year    int `json:"year"`
	Quarter int `json:"quarter"`
}

func (q Quarter) String() string {
	if q.Year == 0 {
		return fmt.Sprintf("Q%d", q.Quarter)
	}
	return fmt.Sprintf("Q%d %d", q.Quarter, q.Year)
}

// TimeWindow is a single year, an inclusive year range, a quarter sequence, or "latest".
type TimeWindow struct {
	Kind      TimeWindowKind `json:"kind,omitempty"`
	StartYear int            `json:"start_year,omitempty"`
	EndYear   int            `json:"end_year,omitempty"`
	Quarters  []Quarter      `json:"quarters,omitempty"`
}

// IsZero reports whether no time window was resolved.
func (w TimeWindow) IsZero() bool {
	return w.Kind == TimeWindowNone
}

// Years returns the inclusive start and end fiscal years covered by the window.
// Latest and empty windows return zeros.
func (w TimeWindow) Years() (int, int) {
	switch w.Kind {
	case TimeWindowYear:
		return w.StartYear, w.StartYear
	case TimeWindowYearRange:
		return w.StartYear, w.EndYear
	case TimeWindowQuarters:
		start, end := 0, 0
		for _, q := range w.Quarters {
			if q.Year == 0 {
				continue
			}
			if start == 0 || q.Year < start {
				start = q.Year
			}
			if q.Year > end {
				end = q.Year
			}
		}
		return start, end
	}
	return 0, 0
}

func (w TimeWindow) String() string {
	switch w.Kind {
	case TimeWindowYear:
		return fmt.Sprintf("FY%d", w.StartYear)
	case TimeWindowYearRange:
		return fmt.Sprintf("FY%d-FY%d", w.StartYear, w.EndYear)
	case TimeWindowQuarters:
		parts := make([]string, len(w.Quarters))
		for i, q := range w.Quarters {
			parts[i] = q.String()
		}
		return strings.Join(parts, ", ")
	case TimeWindowLatest:
		return "latest"
	}
	return ""
}

// ExtractedEntities holds the slots resolved from a question.
// Confidence is in [0,1]; a missing required slot keeps it below the fast-path threshold.
type ExtractedEntities struct {
	Companies      []CompanyRef     `json:"companies,omitempty"`
	Sector         string           `json:"sector,omitempty"`
	Metrics        []string         `json:"metrics,omitempty"`
	TimeWindow     TimeWindow       `json:"time_window"`
	QuestionType   QuestionType     `json:"question_type"`
	Confidence     float64          `json:"confidence"`
	SlotConfidence map[Slot]float64 `json:"slot_confidence,omitempty"`
	Warnings       []string         `json:"warnings,omitempty"`
	Source         string           `json:"source,omitempty"` // "deterministic" or "deterministic+llm"
}

// HasSlot reports whether the slot carries a usable value.
func (e ExtractedEntities) HasSlot(s Slot) bool {
	switch s {
	case SlotCompany:
		return len(e.Companies) > 0
	case SlotSector:
		return e.Sector != ""
	case SlotMetric:
		return len(e.Metrics) > 0
	case SlotTimeWindow:
		return !e.TimeWindow.IsZero()
	}
	return false
}

// MissingSlots returns the required slots that carry no value, in the given order.
func (e ExtractedEntities) MissingSlots(required []Slot) []Slot {
	var missing []Slot
	for _, s := range required {
		if !e.HasSlot(s) {
			missing = append(missing, s)
		}
	}
	return missing
}

// PrimaryCompany returns the first company mention, if any.
func (e ExtractedEntities) PrimaryCompany() (CompanyRef, bool) {
	if len(e.Companies) == 0 {
		return CompanyRef{}, false
	}
	return e.Companies[0], true
}

// Clone returns a deep copy so stages can derive new values without touching their input.
func (e ExtractedEntities) Clone() ExtractedEntities {
	out := e
	out.Companies = append([]CompanyRef(nil), e.Companies...)
	out.Metrics = append([]string(nil), e.Metrics...)
	out.Warnings = append([]string(nil), e.Warnings...)
	out.TimeWindow.Quarters = append([]Quarter(nil), e.TimeWindow.Quarters...)
	if e.SlotConfidence != nil {
		out.SlotConfidence = make(map[Slot]float64, len(e.SlotConfidence))
		for k, v := range e.SlotConfidence {
			out.SlotConfidence[k] = v
		}
	}
	return out
}

// Summary renders the entities as a compact, deterministic string for prompts and logs.
func (e ExtractedEntities) Summary() string {
	var parts []string
	if len(e.Companies) > 0 {
		names := make([]string, len(e.Companies))
		for i, c := range e.Companies {
			names[i] = c.Name
			if names[i] == "" {
				names[i] = c.Raw
			}
		}
		parts = append(parts, "companies="+strings.Join(names, "|"))
	}
	if e.Sector != "" {
		parts = append(parts, "sector="+e.Sector)
	}
	if len(e.Metrics) > 0 {
		metrics := append([]string(nil), e.Metrics...)
		sort.Strings(metrics)
		parts = append(parts, "metrics="+strings.Join(metrics, "|"))
	}
	if !e.TimeWindow.IsZero() {
		parts = append(parts, "time="+e.TimeWindow.String())
	}
	if e.QuestionType != "" {
		parts = append(parts, "type="+string(e.QuestionType))
	}
	return strings.Join(parts, " ")
}
