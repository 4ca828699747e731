package templates

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/ekaya-inc/finsql-engine/pkg/llm"
)

// Embedder turns text into vectors. The LM gateway implements it.
type Embedder interface {
	CanEmbed() bool
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type vectorEntry struct {
	templateID string
	intent     string
	vector     []float32
	norm       float64
}

// VectorIndex is an in-memory index of intent exemplar embeddings. It is built
// once at startup and read concurrently afterwards.
type VectorIndex struct {
	entries []vectorEntry
}

// Similarity is the best cosine similarity between a query and one template's intents.
type Similarity struct {
	TemplateID string
	Score      float64
}

// BuildVectorIndex embeds every intent exemplar of every template, one batch per
// template, with the pool bounding concurrent provider calls.
func BuildVectorIndex(ctx context.Context, embedder Embedder, registry *Registry, pool *llm.WorkerPool) (*VectorIndex, error) {
	var items []llm.WorkItem[[][]float32]
	var owners []int
	for i, t := range registry.templates {
		if len(t.Intents) == 0 {
			continue
		}
		intents := t.Intents
		items = append(items, llm.WorkItem[[][]float32]{
			ID: t.ID,
			Execute: func(ctx context.Context) ([][]float32, error) {
				return embedder.Embed(ctx, intents)
			},
		})
		owners = append(owners, i)
	}

	results := llm.Process(ctx, pool, items, nil)

	idx := &VectorIndex{}
	for k, res := range results {
		if res.Err != nil {
			return nil, fmt.Errorf("embed intents for %s: %w", res.ID, res.Err)
		}
		t := registry.templates[owners[k]]
		for j, vec := range res.Result {
			idx.add(t.ID, t.Intents[j], vec)
		}
	}
	return idx, nil
}

func (idx *VectorIndex) add(templateID, intent string, vec []float32) {
	n := norm(vec)
	if n == 0 {
		return
	}
	idx.entries = append(idx.entries, vectorEntry{templateID: templateID, intent: intent, vector: vec, norm: n})
}

// Len returns the number of indexed exemplars.
func (idx *VectorIndex) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.entries)
}

// Search returns one similarity per template, best first. Ties keep index order.
func (idx *VectorIndex) Search(query []float32) []Similarity {
	qn := norm(query)
	if idx == nil || qn == 0 {
		return nil
	}

	best := make(map[string]float64)
	var order []string
	for _, e := range idx.entries {
		if len(e.vector) != len(query) {
			continue
		}
		var dot float64
		for i := range query {
			dot += float64(query[i]) * float64(e.vector[i])
		}
		score := dot / (qn * e.norm)
		prev, seen := best[e.templateID]
		if !seen {
			order = append(order, e.templateID)
		}
		if !seen || score > prev {
			best[e.templateID] = score
		}
	}

	out := make([]Similarity, len(order))
	for i, id := range order {
		out[i] = Similarity{TemplateID: id, Score: best[id]}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
