package templates

import (
	"context"
	"sort"
	"strings"

	"github.com/ekaya-inc/finsql-engine/pkg/models"
)

// Candidate sources.
const (
	SourcePattern   = "pattern"
	SourceKeyword   = "keyword"
	SourceEmbedding = "embedding"
)

// Confidence levels assigned by the keyword matcher.
const (
	PatternConfidence          = 0.8
	PatternSatisfiedConfidence = 0.95
	keywordBase                = 0.3
	keywordPerHit              = 0.15
	keywordCap                 = 0.75
	missingSlotPenalty         = 0.15
)

// Matcher proposes templates for a question, best first. Implementations never
// fail: a matcher that cannot score returns fewer candidates.
type Matcher interface {
	Match(ctx context.Context, question string, entities models.ExtractedEntities) []models.Candidate
}

// KeywordMatcher scores templates by their intent regex and keyword overlap.
type KeywordMatcher struct {
	registry *Registry
}

var _ Matcher = (*KeywordMatcher)(nil)

// NewKeywordMatcher creates a matcher over registry.
func NewKeywordMatcher(registry *Registry) *KeywordMatcher {
	return &KeywordMatcher{registry: registry}
}

// Match implements Matcher. A pattern match scores 0.8, or 0.95 when the entities
// fill every required slot. Otherwise keyword overlap yields a coarse score.
func (m *KeywordMatcher) Match(_ context.Context, question string, entities models.ExtractedEntities) []models.Candidate {
	q := strings.ToLower(question)

	var out []models.Candidate
	for _, t := range m.registry.templates {
		satisfied := len(entities.MissingSlots(t.RequiredSlots)) == 0

		if re := m.registry.pattern(t.ID); re != nil && re.MatchString(q) {
			conf := PatternConfidence
			if satisfied {
				conf = PatternSatisfiedConfidence
			}
			out = append(out, models.Candidate{TemplateID: t.ID, Confidence: conf, Source: SourcePattern})
			continue
		}

		hits := 0
		for _, kw := range t.Keywords {
			if containsPhrase(q, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		conf := keywordBase + keywordPerHit*float64(hits)
		if conf > keywordCap {
			conf = keywordCap
		}
		if !satisfied {
			conf -= missingSlotPenalty
		}
		out = append(out, models.Candidate{TemplateID: t.ID, Confidence: round2(conf), Source: SourceKeyword})
	}

	m.registry.sortCandidates(out, nil)
	return out
}

// sortCandidates orders by confidence, then by tiebreak score when given, then by
// declaration order.
func (r *Registry) sortCandidates(cands []models.Candidate, tiebreak map[string]float64) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if tiebreak != nil && tiebreak[a.TemplateID] != tiebreak[b.TemplateID] {
			return tiebreak[a.TemplateID] > tiebreak[b.TemplateID]
		}
		return r.order(a.TemplateID) < r.order(b.TemplateID)
	})
}

// containsPhrase reports whether phrase occurs in s on word boundaries.
func containsPhrase(s, phrase string) bool {
	if phrase == "" {
		return false
	}
	for from := 0; from <= len(s)-len(phrase); {
		i := strings.Index(s[from:], phrase)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(phrase)
		if (start == 0 || !isWordByte(s[start-1])) && (end == len(s) || !isWordByte(s[end])) {
			return true
		}
		from = start + 1
	}
	return false
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}
