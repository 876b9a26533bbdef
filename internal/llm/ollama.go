package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ollamaClient speaks the native Ollama API for locally hosted models.
type ollamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func newOllamaClient(apiBase, model string) *ollamaClient {
	return &ollamaClient{
		baseURL:    strings.TrimSuffix(apiBase, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: chatTimeout},
	}
}

func (c *ollamaClient) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type ollamaChatResponse struct {
	Message chatMessage `json:"message"`
	Error   string      `json:"error"`
}

func (c *ollamaClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	payload := ollamaChatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	}

	var result ollamaChatResponse
	if err := c.post(ctx, "/api/chat", payload, &result); err != nil {
		return "", err
	}
	if result.Error != "" {
		return "", fmt.Errorf("llm: ollama error: %s", result.Error)
	}
	return result.Message.Content, nil
}

func (c *ollamaClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("llm: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llm: send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("llm: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llm: ollama returned %d: %s", resp.StatusCode, excerpt(raw))
	}
	return json.Unmarshal(raw, out)
}

// ollamaEmbedder calls Ollama's embeddings endpoint, which also serves
// local sentence-transformer models.
type ollamaEmbedder struct {
	client *ollamaClient
	model  string
	dims   int
}

func newOllamaEmbedder(apiBase, model string, dims int) *ollamaEmbedder {
	return &ollamaEmbedder{client: newOllamaClient(apiBase, model), model: model, dims: dims}
}

func (e *ollamaEmbedder) Dimensions() int { return e.dims }

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error"`
}

func (e *ollamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var result ollamaEmbeddingResponse
	err := e.client.post(ctx, "/api/embeddings", ollamaEmbeddingRequest{Model: e.model, Prompt: text}, &result)
	if err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, fmt.Errorf("llm: ollama embedding error: %s", result.Error)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("llm: ollama embedding response is empty")
	}
	return result.Embedding, nil
}
