package templates

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/finsql-engine/pkg/models"
)

// DefaultMinSimilarity is the cosine similarity below which embeddings propose nothing.
const DefaultMinSimilarity = 0.75

// embedding-only candidates are mapped into [embeddingFloor, embeddingCeiling] so
// they can reach confirmation but never the fast path.
const (
	embeddingFloor   = 0.5
	embeddingCeiling = 0.79
)

// HybridMatcher combines the keyword matcher with semantic similarity between the
// question and intent exemplars. Pattern matches keep their confidence and are
// re-ranked by similarity; keyword and unmatched templates are lifted by similarity.
// When embeddings are unavailable it behaves exactly like the keyword matcher.
type HybridMatcher struct {
	keyword       *KeywordMatcher
	index         *VectorIndex
	embedder      Embedder
	minSimilarity float64
	logger        *zap.Logger
}

var _ Matcher = (*HybridMatcher)(nil)

// NewHybridMatcher creates a hybrid matcher. minSimilarity <= 0 uses DefaultMinSimilarity.
func NewHybridMatcher(registry *Registry, index *VectorIndex, embedder Embedder, minSimilarity float64, logger *zap.Logger) *HybridMatcher {
	if minSimilarity <= 0 || minSimilarity >= 1 {
		minSimilarity = DefaultMinSimilarity
	}
	return &HybridMatcher{
		keyword:       NewKeywordMatcher(registry),
		index:         index,
		embedder:      embedder,
		minSimilarity: minSimilarity,
		logger:        logger.Named("hybrid-matcher"),
	}
}

// Match implements Matcher.
func (m *HybridMatcher) Match(ctx context.Context, question string, entities models.ExtractedEntities) []models.Candidate {
	cands := m.keyword.Match(ctx, question, entities)
	if m.index.Len() == 0 || m.embedder == nil || !m.embedder.CanEmbed() {
		return cands
	}

	vectors, err := m.embedder.Embed(ctx, []string{question})
	if err != nil || len(vectors) != 1 {
		m.logger.Warn("Question embedding failed, using keyword candidates", zap.Error(err))
		return cands
	}

	sims := m.index.Search(vectors[0])
	scores := make(map[string]float64, len(sims))
	for _, s := range sims {
		scores[s.TemplateID] = s.Score
	}

	registry := m.keyword.registry
	pos := make(map[string]int, len(cands))
	for i, c := range cands {
		pos[c.TemplateID] = i
	}

	for _, s := range sims {
		if s.Score < m.minSimilarity {
			continue
		}
		t, err := registry.Get(s.TemplateID)
		if err != nil {
			continue
		}
		conf := m.embeddingConfidence(s.Score)
		if len(entities.MissingSlots(t.RequiredSlots)) > 0 {
			conf -= missingSlotPenalty
		}
		conf = round2(conf)

		if i, ok := pos[s.TemplateID]; ok {
			if cands[i].Source != SourcePattern && conf > cands[i].Confidence {
				cands[i].Confidence = conf
				cands[i].Source = SourceEmbedding
			}
			continue
		}
		pos[s.TemplateID] = len(cands)
		cands = append(cands, models.Candidate{TemplateID: s.TemplateID, Confidence: conf, Source: SourceEmbedding})
	}

	registry.sortCandidates(cands, scores)
	return cands
}

func (m *HybridMatcher) embeddingConfidence(score float64) float64 {
	if score >= 1 {
		return embeddingCeiling
	}
	span := (score - m.minSimilarity) / (1 - m.minSimilarity)
	return embeddingFloor + span*(embeddingCeiling-embeddingFloor)
}
