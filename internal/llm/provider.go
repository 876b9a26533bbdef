// Package llm coordinates the three provider calls the pipeline makes:
// summarize-with-analysis, evaluate-priority, and embed. A quota circuit
// breaker and a transient-error retry wrapper sit in front of every call.
package llm

import (
	"context"

	"github.com/nickpending/prismis-sub000/internal/config"
	"github.com/nickpending/prismis-sub000/internal/model"
)

// ChatProvider issues one completion call and returns the raw text.
// Implementations must be safe for concurrent use.
type ChatProvider interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	Name() string
}

// EmbeddingProvider produces a fixed-dimension vector for one text.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// NewChatProvider builds the chat client for the configured provider.
func NewChatProvider(cfg config.LLM) (ChatProvider, error) {
	switch cfg.Provider {
	case "anthropic":
		return newAnthropicClient(cfg.APIKey, cfg.Model), nil
	case "ollama":
		return newOllamaClient(cfg.APIBase, cfg.Model), nil
	case "openai", "groq", "openrouter":
		return newOpenAIClient(cfg.Provider, cfg.APIBase, cfg.APIKey, cfg.Model), nil
	default:
		return nil, model.E(model.KindConfig, "unsupported llm provider %q", cfg.Provider)
	}
}

// NewEmbeddingProvider builds the embedding client. Ollama serves local
// sentence models; every other provider uses the OpenAI-compatible
// embeddings endpoint. Anthropic has no embeddings API, so that provider
// requires api_base to point at a local embedding server; without one the
// pipeline runs unembedded and the backfill job picks items up once
// configuration is fixed.
func NewEmbeddingProvider(cfg config.LLM) (EmbeddingProvider, error) {
	switch {
	case cfg.Provider == "ollama" || (cfg.Provider == "anthropic" && cfg.APIBase != ""):
		return newOllamaEmbedder(cfg.APIBase, cfg.EmbeddingModel, cfg.EmbeddingDims), nil
	case cfg.Provider == "anthropic":
		return nil, nil
	default:
		return newOpenAIEmbedder(cfg.Provider, cfg.APIBase, cfg.APIKey, cfg.EmbeddingModel, cfg.EmbeddingDims), nil
	}
}
