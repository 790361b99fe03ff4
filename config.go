package orgatlas

import (
	"os"
	"path/filepath"
	"time"

	"github.com/brunobiangulo/orgatlas/cache"
	"github.com/brunobiangulo/orgatlas/chunker"
	"github.com/brunobiangulo/orgatlas/graph"
	"github.com/brunobiangulo/orgatlas/llm"
	"github.com/brunobiangulo/orgatlas/pipeline"
)

// Config holds all configuration for the orgatlas engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.orgatlas/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path" mapstructure:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "orgatlas".
	DBName string `json:"db_name" yaml:"db_name" mapstructure:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.orgatlas/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir" mapstructure:"storage_dir"`

	// Provider is the default model used by callers that do not pass their
	// own, such as the CLI.
	Provider ProviderConfig `json:"provider" yaml:"provider" mapstructure:"provider"`

	// Embedding enables entity embeddings and similarity search. Only the
	// local kind can embed; an empty kind disables it.
	Embedding ProviderConfig `json:"embedding" yaml:"embedding" mapstructure:"embedding"`

	// EmbeddingDim must match the embedding model.
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim" mapstructure:"embedding_dim"`

	// Chunking
	MaxChunkChars int `json:"max_chunk_chars" yaml:"max_chunk_chars" mapstructure:"max_chunk_chars"`

	// Agent hierarchy
	ExplorerThreshold int `json:"explorer_threshold" yaml:"explorer_threshold" mapstructure:"explorer_threshold"`

	// Provider calls
	Retry        pipeline.RetryPolicy `json:"retry" yaml:"retry" mapstructure:"retry"`
	ChunkTimeout time.Duration        `json:"chunk_timeout" yaml:"chunk_timeout" mapstructure:"chunk_timeout"` // 0 = no timeout

	// Cache stores model responses in Redis when Addr is set.
	Cache cache.Config `json:"cache" yaml:"cache" mapstructure:"cache"`
}

// ProviderConfig selects the model for an extraction pass.
type ProviderConfig struct {
	Kind      string `json:"kind" yaml:"kind" mapstructure:"kind"` // hosted, local, none
	APIKey    string `json:"api_key" yaml:"api_key" mapstructure:"api_key"`
	BaseURL   string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	ModelName string `json:"model_name" yaml:"model_name" mapstructure:"model_name"`
	MaxTokens int    `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" mapstructure:"max_tokens"`
}

func (p ProviderConfig) llmConfig() llm.Config {
	return llm.Config{
		Kind:      p.Kind,
		APIKey:    p.APIKey,
		BaseURL:   p.BaseURL,
		Model:     p.ModelName,
		MaxTokens: p.MaxTokens,
	}
}

// cacheScope names the model endpoint whose responses may be shared in the
// response cache.
func (p ProviderConfig) cacheScope() string {
	return p.Kind + ":" + p.BaseURL + ":" + p.ModelName
}

// DefaultConfig returns a Config with sensible defaults for local inference.
// Database is stored in ~/.orgatlas/orgatlas.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "orgatlas",
		StorageDir: "home",
		Provider: ProviderConfig{
			Kind:      llm.KindLocal,
			BaseURL:   llm.DefaultLocalBaseURL,
			ModelName: llm.DefaultLocalModel,
		},
		EmbeddingDim:      768,
		MaxChunkChars:     chunker.DefaultMaxChars,
		ExplorerThreshold: graph.DefaultExplorerThreshold,
		Retry:             pipeline.DefaultRetryPolicy(),
		Cache:             cache.Config{TTL: 24 * time.Hour},
	}
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "orgatlas"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db"
		}
		return filepath.Join(home, ".orgatlas", name+".db")
	}
}
