// Package embedopenai generates Playbook embeddings via an
// OpenAI-compatible embeddings endpoint, reusing the sashabaranov/go-openai
// client the teacher already depends on for chat completions.
package embedopenai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const defaultModel = string(openai.SmallEmbedding3)

// Embedder generates embeddings through an OpenAI-compatible API.
type Embedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// New returns an Embedder using the given API key. baseURL may be empty
// to use the default OpenAI endpoint, or set for an OpenAI-compatible
// provider (Azure, local gateways, etc.).
func New(apiKey, baseURL string) *Embedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Embedder{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.SmallEmbedding3,
	}
}

func (e *Embedder) Model() string {
	return string(e.model)
}

// Embed returns the embedding vector for text, or an error if the API
// call fails. Callers are expected to degrade gracefully on error per
// spec §4.E Failure Modes rather than fail the whole turn.
func (e *Embedder) Embed(text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(context.Background(), openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}
	return resp.Data[0].Embedding, nil
}
