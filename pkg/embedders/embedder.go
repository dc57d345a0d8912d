// Package embedders exposes the embedding capability used by retrieval
// backends and conversation storage.
package embedders

import (
	"context"
	"fmt"

	"github.com/schemaseek/schemaseek/pkg/config"
)

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
	Close() error
}

// New constructs the embedder described by the provider config.
func New(cfg *config.EmbeddingProviderConfig) (Embedder, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAIEmbedder(cfg)
	case "ollama":
		return NewOllamaEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedding provider type: %s (supported: openai, ollama)", cfg.Type)
	}
}

// FromConfig builds the preferred embedder, or returns nil when embeddings
// are not configured.
func FromConfig(cfg *config.Config) (Embedder, error) {
	provider := cfg.Embedding.Preferred()
	if provider == nil {
		return nil, nil
	}
	return New(provider)
}
