// Package backend opens the passage index selected by configuration.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"google.golang.org/genai"

	"github.com/bookweather-chat/server/internal/agent/model"
	"github.com/bookweather-chat/server/internal/embedding"
	"github.com/bookweather-chat/server/internal/index"
	"github.com/bookweather-chat/server/internal/index/memory"
	"github.com/bookweather-chat/server/internal/index/pgvector"
	"github.com/bookweather-chat/server/internal/index/qdrant"
	"github.com/bookweather-chat/server/internal/index/sqlite"
	logx "github.com/bookweather-chat/server/pkg/logger"
)

const (
	Memory   = "memory"
	SQLite   = "sqlite"
	Qdrant   = "qdrant"
	PGVector = "pgvector"
)

// Store is a vector backend that can be both searched and written.
type Store interface {
	index.VectorStore
	index.Writer
	io.Closer
}

// NewEmbedder returns the embedder named by cfg.Embedder. The Gemini client
// is only needed for the gemini embedder.
func NewEmbedder(cfg model.RetrievalConfig, client *genai.Client) (model.Embedder, error) {
	switch strings.ToLower(cfg.Embedder) {
	case "gemini":
		return embedding.NewGemini(client, cfg.EmbeddingModel)
	case "ollama":
		return embedding.NewOllama(cfg.OllamaHost, cfg.EmbeddingModel, nil)
	default:
		return nil, fmt.Errorf("unknown embedder %q", cfg.Embedder)
	}
}

// OpenStore opens the vector backend named by cfg.Backend.
func OpenStore(ctx context.Context, cfg model.RetrievalConfig) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case SQLite:
		return sqlite.Open(cfg.SQLitePath)
	case Qdrant:
		return qdrant.Dial(cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantCollection)
	case PGVector:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("INDEX_PG_DSN is required for the pgvector backend")
		}
		return pgvector.Open(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("backend %q has no vector store", cfg.Backend)
	}
}

// Prepare creates whatever the store needs to hold vectors of dimension.
func Prepare(ctx context.Context, store Store, dimension int) error {
	switch s := store.(type) {
	case *qdrant.Store:
		return s.EnsureCollection(ctx, dimension)
	case *pgvector.Store:
		return s.EnsureSchema(ctx, dimension)
	default:
		return nil
	}
}

// Index is an opened passage index plus what it needs on shutdown.
type Index struct {
	model.PassageIndex
	// Memory is set for the memory backend so callers can reload it.
	Memory *memory.Index
	closer io.Closer
}

func (i *Index) Close() error {
	if i.closer == nil {
		return nil
	}
	return i.closer.Close()
}

// Open builds the passage index for cfg. The memory backend reads the
// passages file; the others search a vector store with the configured embedder.
func Open(ctx context.Context, cfg model.RetrievalConfig, client *genai.Client) (*Index, error) {
	if strings.ToLower(cfg.Backend) == Memory {
		mem, err := memory.Load(cfg.PassagesFile)
		if err != nil {
			return nil, err
		}
		logx.Info().Int("passages", mem.Len()).Str("file", cfg.PassagesFile).Msg("Memory passage index loaded")
		return &Index{PassageIndex: mem, Memory: mem}, nil
	}

	embedder, err := NewEmbedder(cfg, client)
	if err != nil {
		return nil, err
	}
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logx.Info().Str("backend", cfg.Backend).Str("embedder", cfg.Embedder).Msg("Semantic passage index opened")
	return &Index{PassageIndex: index.NewSemantic(embedder, store), closer: store}, nil
}
