package fakes

import (
	"context"
	"sync"

	"github.com/bookweather-chat/server/internal/agent/model"
)

// PassageIndex returns fixed passages.
type PassageIndex struct {
	mu sync.Mutex

	Passages []model.Passage
	Err      error
	queries  []string
}

func (p *PassageIndex) Search(ctx context.Context, query string, topK int) ([]model.Passage, error) {
	p.mu.Lock()
	p.queries = append(p.queries, query)
	p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := p.Passages
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return append([]model.Passage(nil), out...), nil
}

// Queries returns the queries searched so far.
func (p *PassageIndex) Queries() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.queries...)
}
