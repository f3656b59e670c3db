package llmadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPProvider calls a generic chat-completions-style HTTP endpoint,
// configured by Config, condensed from the request-shaping/response-parsing
// logic in the teacher's ai/providers/{anthropic,openai}/client.go.
type HTTPProvider struct {
	cfg    *Config
	client *http.Client
}

func NewHTTPProvider(cfg *Config) *HTTPProvider {
	return &HTTPProvider{cfg: cfg, client: &http.Client{Timeout: 60 * time.Second}}
}

type completionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type completionResponse struct {
	Content          string `json:"content"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

func (p *HTTPProvider) GenerateText(ctx context.Context, prompt string) (Response, error) {
	reqBody := completionRequest{
		Model:       p.cfg.Model,
		Prompt:      prompt,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
	}
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return Response{}, fmt.Errorf("llmadapter: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL, bytes.NewReader(buf))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("llmadapter: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return Response{}, fmt.Errorf("llmadapter: provider returned status %d", resp.StatusCode)
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("llmadapter: decode response: %w", err)
	}
	return Response{Content: out.Content, PromptTokens: out.PromptTokens, CompletionTokens: out.CompletionTokens}, nil
}
