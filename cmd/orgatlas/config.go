package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/brunobiangulo/orgatlas"
	"github.com/brunobiangulo/orgatlas/llm"
)

// Keys read outside orgatlas.Config.
const (
	keyLogLevel    = "log.level"
	keyLogFile     = "log.file"
	keyServerAddr  = "server.addr"
	keyAPIKey      = "server.api_key"
	keyCORSOrigins = "server.cors_origins"
)

// newViper layers configuration as defaults < config file < ORGATLAS_*
// environment < bound flags. Without an explicit file it looks for
// orgatlas.yaml in the working directory and then ~/.orgatlas; a missing
// file is not an error.
func newViper(configFile string) (*viper.Viper, error) {
	v := viper.New()

	v.SetEnvPrefix("ORGATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v, orgatlas.DefaultConfig())

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("orgatlas")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".orgatlas"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return v, nil
}

// setDefaults registers every key so AutomaticEnv can override it during
// Unmarshal.
func setDefaults(v *viper.Viper, cfg orgatlas.Config) {
	v.SetDefault("db_path", cfg.DBPath)
	v.SetDefault("db_name", cfg.DBName)
	v.SetDefault("storage_dir", cfg.StorageDir)

	for prefix, pc := range map[string]orgatlas.ProviderConfig{
		"provider":  cfg.Provider,
		"embedding": cfg.Embedding,
	} {
		v.SetDefault(prefix+".kind", pc.Kind)
		v.SetDefault(prefix+".api_key", pc.APIKey)
		v.SetDefault(prefix+".base_url", pc.BaseURL)
		v.SetDefault(prefix+".model_name", pc.ModelName)
		v.SetDefault(prefix+".max_tokens", pc.MaxTokens)
	}

	v.SetDefault("embedding_dim", cfg.EmbeddingDim)
	v.SetDefault("max_chunk_chars", cfg.MaxChunkChars)
	v.SetDefault("explorer_threshold", cfg.ExplorerThreshold)
	v.SetDefault("chunk_timeout", cfg.ChunkTimeout)

	v.SetDefault("retry.max_attempts", cfg.Retry.MaxAttempts)
	v.SetDefault("retry.initial_delay", cfg.Retry.InitialDelay)
	v.SetDefault("retry.max_delay", cfg.Retry.MaxDelay)
	v.SetDefault("retry.multiplier", cfg.Retry.Multiplier)
	v.SetDefault("retry.jitter_fraction", cfg.Retry.JitterFraction)

	v.SetDefault("cache.addr", cfg.Cache.Addr)
	v.SetDefault("cache.password", cfg.Cache.Password)
	v.SetDefault("cache.db", cfg.Cache.DB)
	v.SetDefault("cache.ttl", cfg.Cache.TTL)

	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyLogFile, "")
	v.SetDefault(keyServerAddr, ":8080")
	v.SetDefault(keyAPIKey, "")
	v.SetDefault(keyCORSOrigins, "")
}

// engineConfig decodes the engine configuration from v.
func engineConfig(v *viper.Viper) (orgatlas.Config, error) {
	var cfg orgatlas.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}

	// Fallback: the SDK's well-known variable for the hosted key.
	if cfg.Provider.Kind == llm.KindHosted && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return cfg, nil
}
