package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/bookweather-chat/server/internal/agent/model"
)

// Ollama embeds text with a local Ollama server.
type Ollama struct {
	client *api.Client
	model  string
}

// NewOllama connects to the Ollama server at host, e.g. http://localhost:11434.
func NewOllama(host, modelName string, httpClient *http.Client) (*Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid OLLAMA_HOST URL: %w", err)
	}
	if modelName == "" {
		return nil, errors.New("ollama embedder: model is empty")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Ollama{client: api.NewClient(u, httpClient), model: modelName}, nil
}

func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.Embeddings(ctx, &api.EmbeddingRequest{
		Model:  o.model,
		Prompt: text,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.New("ollama embed: no embedding returned")
	}
	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

var _ model.Embedder = (*Ollama)(nil)
