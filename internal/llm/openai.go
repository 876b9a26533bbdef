package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// chatTimeout bounds one completion round trip; long transcripts make these
// slow but not unbounded.
const chatTimeout = 120 * time.Second

// openAIClient speaks the OpenAI-compatible chat API. Groq and OpenRouter
// expose the same wire format under different base URLs.
type openAIClient struct {
	provider   string
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func newOpenAIClient(provider, apiBase, apiKey, model string) *openAIClient {
	return &openAIClient{
		provider:   provider,
		baseURL:    openAIBaseURL(provider, apiBase),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: chatTimeout},
	}
}

func openAIBaseURL(provider, apiBase string) string {
	if apiBase != "" {
		return strings.TrimSuffix(apiBase, "/")
	}
	switch provider {
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	default:
		return "https://api.openai.com/v1"
	}
}

func (c *openAIClient) Name() string { return c.provider }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// Complete issues one chat completion and returns the assistant text.
func (c *openAIClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	}

	var result chatResponse
	if err := c.post(ctx, "/chat/completions", payload, &result); err != nil {
		return "", err
	}
	if result.Error != nil {
		return "", fmt.Errorf("llm: %s error: %s: %s", c.provider, result.Error.Type, result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("llm: %s returned no choices", c.provider)
	}
	return result.Choices[0].Message.Content, nil
}

func (c *openAIClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("llm: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

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
		// Status and body text both flow into the error so the quota and
		// transient classifiers can pattern-match them.
		return fmt.Errorf("llm: %s returned %d: %s", c.provider, resp.StatusCode, excerpt(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("llm: unmarshal response: %w", err)
	}
	return nil
}

func excerpt(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 500 {
		s = s[:500]
	}
	return s
}

// openAIEmbedder calls the OpenAI-compatible embeddings endpoint.
type openAIEmbedder struct {
	client *openAIClient
	model  string
	dims   int
}

func newOpenAIEmbedder(provider, apiBase, apiKey, model string, dims int) *openAIEmbedder {
	return &openAIEmbedder{
		client: newOpenAIClient(provider, apiBase, apiKey, model),
		model:  model,
		dims:   dims,
	}
}

func (e *openAIEmbedder) Dimensions() int { return e.dims }

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *apiError `json:"error"`
}

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var result embeddingResponse
	err := e.client.post(ctx, "/embeddings", embeddingRequest{Input: []string{text}, Model: e.model}, &result)
	if err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, fmt.Errorf("llm: embedding error: %s: %s", result.Error.Type, result.Error.Message)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("llm: embedding response is empty")
	}
	return result.Data[0].Embedding, nil
}
