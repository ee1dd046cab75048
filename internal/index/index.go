// Package index holds what the passage index backends share: result
// ordering, cosine similarity, the ingestion file format and the adapter that
// turns a vector store into a model.PassageIndex.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/bookweather-chat/server/internal/agent/model"
)

// Record is a passage with its embedding, as written by ingestion.
type Record struct {
	Passage   model.Passage
	Embedding []float32
}

// VectorStore finds the passages nearest to an embedding.
type VectorStore interface {
	SearchVector(ctx context.Context, vector []float32, topK int) ([]model.Passage, error)
}

// Writer stores embedded passages.
type Writer interface {
	Upsert(ctx context.Context, records []Record) error
}

// Sort orders passages by score descending, ties by document position.
func Sort(passages []model.Passage) {
	sort.SliceStable(passages, func(i, j int) bool {
		if passages[i].Score != passages[j].Score {
			return passages[i].Score > passages[j].Score
		}
		return passages[i].Position < passages[j].Position
	})
}

// Cosine returns the cosine similarity of a and b, or 0 when undefined.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// LoadPassages reads the ingestion output: a JSON array of passages.
func LoadPassages(path string) ([]model.Passage, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read passages: %w", err)
	}
	var passages []model.Passage
	if err := json.Unmarshal(b, &passages); err != nil {
		return nil, fmt.Errorf("decode passages %s: %w", path, err)
	}
	for i := range passages {
		if passages[i].ID == "" {
			passages[i].ID = fmt.Sprintf("p%d", passages[i].Position)
		}
		passages[i].Score = 0
	}
	return passages, nil
}

// Semantic answers text queries from a vector store.
type Semantic struct {
	embedder model.Embedder
	store    VectorStore
}

func NewSemantic(embedder model.Embedder, store VectorStore) *Semantic {
	return &Semantic{embedder: embedder, store: store}
}

func (s *Semantic) Search(ctx context.Context, query string, topK int) ([]model.Passage, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	passages, err := s.store.SearchVector(ctx, vec, topK)
	if err != nil {
		return nil, err
	}
	Sort(passages)
	if topK > 0 && len(passages) > topK {
		passages = passages[:topK]
	}
	return passages, nil
}

var _ model.PassageIndex = (*Semantic)(nil)
