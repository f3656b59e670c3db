// Package llmadapter is the abstract text-completion interface spec.md §1
// places the LLM provider behind: "consumed through an abstract
// text-completion interface that returns content plus token counts."
// Condensed from the functional-options/provider-interface shape of the
// teacher's ai/provider.go and ai/providers/anthropic/client.go, without
// the per-provider HTTP bulk those files carry (spec's Non-goals exclude
// the provider implementation itself).
package llmadapter

import "context"

// Response is the provider-agnostic result of a text completion call.
type Response struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Provider is the narrow interface every service depends on.
type Provider interface {
	GenerateText(ctx context.Context, prompt string) (Response, error)
}

// Config mirrors the teacher's AIConfig functional-options shape, condensed
// to the fields an abstract completion call actually needs.
type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

type Option func(*Config)

func WithProvider(p string) Option    { return func(c *Config) { c.Provider = p } }
func WithAPIKey(key string) Option    { return func(c *Config) { c.APIKey = key } }
func WithBaseURL(url string) Option   { return func(c *Config) { c.BaseURL = url } }
func WithModel(model string) Option   { return func(c *Config) { c.Model = model } }
func WithMaxTokens(n int) Option      { return func(c *Config) { c.MaxTokens = n } }
func WithTemperature(t float64) Option { return func(c *Config) { c.Temperature = t } }

func NewConfig(opts ...Option) *Config {
	cfg := &Config{Provider: "auto", MaxTokens: 2048, Temperature: 0.2}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}
