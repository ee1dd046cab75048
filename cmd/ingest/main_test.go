package main

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookweather-chat/server/internal/agent/model"
	"github.com/bookweather-chat/server/internal/index/sqlite"
)

type embedFunc func(ctx context.Context, text string) ([]float32, error)

func (f embedFunc) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

var passages = []model.Passage{
	{ID: "p1", Text: "sphinx", Position: 1},
	{ID: "p2", Text: "desert sand", Position: 2},
	{ID: "p3", Text: "nile", Position: 3},
}

func TestEmbedAllKeepsOrder(t *testing.T) {
	e := embedFunc(func(_ context.Context, text string) ([]float32, error) {
		return []float32{float32(len(text)), 1}, nil
	})
	records, err := embedAll(context.Background(), e, passages, 2, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, passages[i].ID, r.Passage.ID)
		assert.Equal(t, float32(len(passages[i].Text)), r.Embedding[0])
	}
}

func TestEmbedAllRetries(t *testing.T) {
	var calls atomic.Int32
	e := embedFunc(func(_ context.Context, text string) ([]float32, error) {
		if text == "nile" && calls.Add(1) == 1 {
			return nil, errors.New("rate limited")
		}
		return []float32{1, 2}, nil
	})
	records, err := embedAll(context.Background(), e, passages, 1, 2)
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbedAllFailures(t *testing.T) {
	t.Run("persistent error", func(t *testing.T) {
		e := embedFunc(func(context.Context, string) ([]float32, error) { return nil, errors.New("down") })
		_, err := embedAll(context.Background(), e, passages, 2, 0)
		assert.ErrorContains(t, err, "down")
	})

	t.Run("mixed dimensions", func(t *testing.T) {
		e := embedFunc(func(_ context.Context, text string) ([]float32, error) {
			if strings.HasPrefix(text, "desert") {
				return []float32{1, 2, 3}, nil
			}
			return []float32{1, 2}, nil
		})
		_, err := embedAll(context.Background(), e, passages, 2, 0)
		assert.ErrorContains(t, err, "dimension")
	})
}

func TestRunRejectsMemoryBackend(t *testing.T) {
	_, err := run(context.Background(), IngestConfig{Retrieval: model.RetrievalConfig{Backend: "memory"}})
	assert.ErrorContains(t, err, "memory backend")
}

func TestRunMissingPassages(t *testing.T) {
	dir := t.TempDir()
	_, err := run(context.Background(), IngestConfig{Retrieval: model.RetrievalConfig{
		Backend:      "sqlite",
		PassagesFile: filepath.Join(dir, "missing.json"),
		SQLitePath:   filepath.Join(dir, "p.db"),
	}})
	assert.Error(t, err)
}

func TestStoreWrittenByIngestIsSearchable(t *testing.T) {
	e := embedFunc(func(_ context.Context, text string) ([]float32, error) {
		if text == "sphinx" {
			return []float32{1, 0}, nil
		}
		return []float32{0, 1}, nil
	})
	records, err := embedAll(context.Background(), e, passages, 2, 0)
	require.NoError(t, err)

	s, err := sqlite.Open(filepath.Join(t.TempDir(), "p.db"))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Upsert(context.Background(), records))

	got, err := s.SearchVector(context.Background(), []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)
}
