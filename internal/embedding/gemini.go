// Package embedding turns passages and queries into vectors for the semantic
// passage index backends.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/bookweather-chat/server/internal/agent/model"
)

// Gemini embeds text with the Gemini embeddings API.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(client *genai.Client, modelName string) (*Gemini, error) {
	if client == nil {
		return nil, errors.New("gemini embedder: client is nil")
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	return &Gemini{client: client, model: modelName}, nil
}

func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.client.Models.EmbedContent(ctx, g.model, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, errors.New("gemini embed: no embedding returned")
	}
	return resp.Embeddings[0].Values, nil
}

var _ model.Embedder = (*Gemini)(nil)
