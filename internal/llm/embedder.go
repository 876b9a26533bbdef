package llm

import (
	"context"
	"strings"

	"github.com/nickpending/prismis-sub000/internal/model"
)

// maxEmbedChars bounds the text handed to the embedding model. Sentence
// models truncate internally anyway; this keeps the request small.
const maxEmbedChars = 8000

// Embedder produces content vectors, prepending the title when present.
type Embedder struct {
	provider EmbeddingProvider
	model    string
}

// NewEmbedder wraps the embedding provider. A nil provider yields a nil
// embedder; callers treat that as "embedding disabled".
func NewEmbedder(provider EmbeddingProvider, modelName string) *Embedder {
	if provider == nil {
		return nil
	}
	return &Embedder{provider: provider, model: modelName}
}

// Model returns the embedding model name recorded with each vector.
func (e *Embedder) Model() string { return e.model }

// Dimensions returns the expected vector length.
func (e *Embedder) Dimensions() int { return e.provider.Dimensions() }

// EmbedText vectorizes a (title, text) pair.
func (e *Embedder) EmbedText(ctx context.Context, title, text string) ([]float32, error) {
	combined := text
	if title != "" {
		combined = title + "\n\n" + text
	}
	if len(combined) > maxEmbedChars {
		combined = combined[:maxEmbedChars]
	}
	if strings.TrimSpace(combined) == "" {
		return nil, model.E(model.KindValidation, "nothing to embed")
	}

	vec, err := withRetry(ctx, "embed", func() ([]float32, error) {
		return guarded(func() ([]float32, error) {
			return e.provider.Embed(ctx, combined)
		})
	})
	if err != nil {
		return nil, err
	}
	if want := e.provider.Dimensions(); want > 0 && len(vec) != want {
		return nil, model.E(model.KindValidation, "embedding has %d dims, want %d", len(vec), want)
	}
	return vec, nil
}
