package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known embeddings provider names. Used by
// [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"openai", "ollama"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Embeddings provider
	if cfg.Embeddings.Name == "" {
		errs = append(errs, errors.New("embeddings.name is required; tools cannot be registered or discovered without an embeddings provider"))
	} else if !slices.Contains(ValidProviderNames, cfg.Embeddings.Name) {
		slog.Warn("unknown embeddings provider name — may be a typo or third-party provider",
			"name", cfg.Embeddings.Name,
			"known", ValidProviderNames,
		)
	}
	if cfg.Embeddings.Name == "openai" && cfg.Embeddings.APIKey == "" && os.Getenv("OPENAI_API_KEY") == "" {
		slog.Warn("embeddings.api_key is empty and OPENAI_API_KEY is not set; provider calls will fail")
	}
	if b := cfg.Embeddings.Breaker; b != nil {
		if b.MaxFailures < 0 {
			errs = append(errs, fmt.Errorf("embeddings.circuit_breaker.max_failures %d is negative", b.MaxFailures))
		}
		if b.ResetTimeout < 0 {
			errs = append(errs, fmt.Errorf("embeddings.circuit_breaker.reset_timeout %v is negative", b.ResetTimeout))
		}
	}

	// Store
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; using the in-memory store, nothing survives a restart")
	}
	if cfg.Store.PostgresDSN != "" && cfg.Store.EmbeddingDimensions <= 0 {
		slog.Warn("store.embedding_dimensions is not set; defaulting to the provider's model dimensions")
	}

	// Execution
	if cfg.Execution.ClientTimeout < 0 {
		errs = append(errs, fmt.Errorf("execution.client_timeout %v is negative", cfg.Execution.ClientTimeout))
	}

	return errors.Join(errs...)
}
