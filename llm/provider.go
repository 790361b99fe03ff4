package llm

import (
	"context"
	"fmt"
)

// Provider kinds accepted by NewProvider.
const (
	KindHosted = "hosted" // Anthropic Messages API
	KindLocal  = "local"  // OpenAI-compatible server (Ollama, LM Studio, vLLM)
	KindNone   = "none"
)

// Default endpoints and models per kind.
const (
	DefaultHostedModel    = "claude-sonnet-4-5"
	DefaultLocalBaseURL   = "http://localhost:11434"
	DefaultLocalModel     = "llama3.1:8b"
	DefaultEmbeddingModel = "nomic-embed-text"
	DefaultMaxTokens      = 8192
)

// Provider sends a single extraction prompt to a model.
//
// Implementations never retry. Failures are returned as *ProviderError so the
// caller can decide whether a retry or an abort is appropriate.
type Provider interface {
	Extract(ctx context.Context, prompt string) (*Response, error)
}

// Embedder generates embeddings for a batch of texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Response is the raw model output for one prompt.
type Response struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Config configures an LLM provider.
type Config struct {
	Kind      string `json:"kind"` // hosted, local, none
	APIKey    string `json:"api_key"`
	BaseURL   string `json:"base_url"`
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// ValidateConfig rejects configurations that cannot produce a provider.
func ValidateConfig(cfg Config) error {
	switch cfg.Kind {
	case "", KindNone:
		return &ConfigError{Kind: cfg.Kind, Reason: "no AI provider configured"}
	case KindHosted:
		if cfg.APIKey == "" {
			return &ConfigError{Kind: cfg.Kind, Reason: "hosted provider requires an API key"}
		}
	case KindLocal:
	default:
		return &ConfigError{Kind: cfg.Kind, Reason: fmt.Sprintf("unknown provider kind %q", cfg.Kind)}
	}
	return nil
}

// NewProvider creates an LLM provider from configuration. A fresh value is
// returned on every call; nothing is shared between extraction passes.
func NewProvider(cfg Config) (Provider, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case KindHosted:
		return NewHosted(cfg), nil
	default:
		return NewLocal(cfg), nil
	}
}

// NewEmbedder creates an embedding client. Only OpenAI-compatible servers
// expose an embeddings endpoint.
func NewEmbedder(cfg Config) (Embedder, error) {
	switch cfg.Kind {
	case KindLocal:
		if cfg.Model == "" {
			cfg.Model = DefaultEmbeddingModel
		}
		return NewLocal(cfg), nil
	case "", KindNone:
		return nil, &ConfigError{Kind: cfg.Kind, Reason: "no embedding provider configured"}
	default:
		return nil, &ConfigError{Kind: cfg.Kind, Reason: "provider kind does not support embeddings"}
	}
}
