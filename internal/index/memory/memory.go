// Package memory is a lexical passage index held in memory. Passages are
// scored by the Ochiai overlap of their word sets with the query.
package memory

import (
	"context"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/bookweather-chat/server/internal/agent/model"
	"github.com/bookweather-chat/server/internal/index"
)

var unicodeWordRe = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)

type entry struct {
	passage model.Passage
	words   map[string]struct{}
}

type Index struct {
	mu      sync.RWMutex
	entries []entry
}

func New(passages []model.Passage) *Index {
	idx := &Index{}
	idx.Replace(passages)
	return idx
}

// Load builds an index from a passages file.
func Load(path string) (*Index, error) {
	passages, err := index.LoadPassages(path)
	if err != nil {
		return nil, err
	}
	return New(passages), nil
}

// Reload replaces the passages with the contents of path. On error the
// current passages are kept.
func (i *Index) Reload(path string) error {
	passages, err := index.LoadPassages(path)
	if err != nil {
		return err
	}
	i.Replace(passages)
	return nil
}

func (i *Index) Replace(passages []model.Passage) {
	entries := make([]entry, len(passages))
	for n, p := range passages {
		entries[n] = entry{passage: p, words: wordSet(p.Text)}
	}
	i.mu.Lock()
	i.entries = entries
	i.mu.Unlock()
}

func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}

// Search returns up to topK passages sharing at least one word with query.
func (i *Index) Search(ctx context.Context, query string, topK int) ([]model.Passage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := wordSet(query)
	if len(q) == 0 {
		return []model.Passage{}, nil
	}

	i.mu.RLock()
	out := make([]model.Passage, 0, topK)
	for _, e := range i.entries {
		score := ochiai(q, e.words)
		if score == 0 {
			continue
		}
		p := e.passage
		p.Score = score
		out = append(out, p)
	}
	i.mu.RUnlock()

	index.Sort(out)
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func wordSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// ochiai is |A∩B| / sqrt(|A||B|).
func ochiai(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(a))*float64(len(b)))
}

var _ model.PassageIndex = (*Index)(nil)
