// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

// Package config loads engram configuration: defaults, an optional
// engram.yaml, and ENGRAM_-prefixed environment overrides, in standard
// precedence (env > file > defaults).
package config

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	engramerr "github.com/engram-dev/engram/pkg/errors"
)

// Config is the top-level engram configuration.
type Config struct {
	DataDir  string         `mapstructure:"data_dir"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Embedder EmbedderConfig `mapstructure:"embedder"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	Rate     RateConfig     `mapstructure:"ratelimit"`
	Recovery RecoveryConfig `mapstructure:"recovery"`
	Search   SearchConfig   `mapstructure:"search"`
	Summary  SummaryConfig  `mapstructure:"summary"`
	Workers  int            `mapstructure:"workers"`
	Verbose  bool           `mapstructure:"verbose"`
}

// StorageConfig selects the vector backend and its dimensionality.
type StorageConfig struct {
	VectorBackend    string `mapstructure:"vector_backend"`
	VectorDimensions int    `mapstructure:"vector_dimensions"`
}

// EmbedderConfig selects the embedding provider.
type EmbedderConfig struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	ModelPath string `mapstructure:"model_path"`
	VocabPath string `mapstructure:"vocab_path"`
	// AllowMock permits the mock provider outside tests. Off by
	// default: production never silently mocks.
	AllowMock bool `mapstructure:"allow_mock"`
}

// CacheConfig tunes the two-tier embedding cache.
type CacheConfig struct {
	Dir       string        `mapstructure:"dir"`
	L1Entries int64         `mapstructure:"l1_entries"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// BreakerConfig applies to every dependency breaker.
type BreakerConfig struct {
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

// RateConfig is the per-tenant fixed-window budget.
type RateConfig struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

// RecoveryConfig tunes the pending-node sweep.
type RecoveryConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// SearchConfig tunes retrieval.
type SearchConfig struct {
	TopK int `mapstructure:"top_k"`
}

// SummaryConfig controls LLM synthesis for hybrid search.
type SummaryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Model   string `mapstructure:"model"`
}

// SetDefaults installs default values on a viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("storage.vector_backend", "sqlite")
	v.SetDefault("storage.vector_dimensions", 1536)
	v.SetDefault("embedder.provider", "openai")
	v.SetDefault("cache.l1_entries", 10000)
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("breaker.failure_threshold", 3)
	v.SetDefault("breaker.reset_timeout", 30*time.Second)
	v.SetDefault("ratelimit.max_requests", 100)
	v.SetDefault("ratelimit.window", 60*time.Second)
	v.SetDefault("recovery.interval", 5*time.Minute)
	v.SetDefault("recovery.stale_after", 10*time.Minute)
	v.SetDefault("search.top_k", 5)
	v.SetDefault("summary.enabled", false)
	v.SetDefault("workers", 4)
}

// SetupEnv binds ENGRAM_-prefixed environment variables.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("ENGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from path (or the discovery locations when
// empty) with env overrides applied.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, engramerr.Wrapf(err, engramerr.CodeConfigReadFailure, "reading config %s", path)
		}
	} else {
		v.SetConfigName("engram")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/engram")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, engramerr.Wrap(err, engramerr.CodeConfigReadFailure, "reading config")
			}
			// No file anywhere: defaults and env still apply.
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates a populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeConfigInvalid, "unmarshalling config")
	}

	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = filepath.Join(cfg.DataDir, "embeddings")
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, engramerr.Wrap(errors.Join(errs...), engramerr.CodeConfigInvalid, "validating config")
	}
	return &cfg, nil
}

// Validate collects every logical error rather than stopping at the
// first.
func (c *Config) Validate() []error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, engramerr.New(engramerr.CodeConfigInvalid, "config: data_dir must be set"))
	}

	switch c.Storage.VectorBackend {
	case "sqlite", "chromem":
	default:
		errs = append(errs, engramerr.Errorf(engramerr.CodeConfigInvalid,
			"config: storage.vector_backend must be one of [sqlite, chromem], got %q",
			c.Storage.VectorBackend))
	}
	if c.Storage.VectorDimensions <= 0 {
		errs = append(errs, engramerr.Errorf(engramerr.CodeConfigInvalid,
			"config: storage.vector_dimensions must be positive, got %d", c.Storage.VectorDimensions))
	}

	switch c.Embedder.Provider {
	case "openai", "local":
	case "mock":
		if !c.Embedder.AllowMock {
			errs = append(errs, engramerr.New(engramerr.CodeConfigInvalid,
				"config: embedder.provider mock requires embedder.allow_mock"))
		}
	default:
		errs = append(errs, engramerr.Errorf(engramerr.CodeConfigInvalid,
			"config: embedder.provider must be one of [openai, local, mock], got %q",
			c.Embedder.Provider))
	}

	if c.Rate.MaxRequests <= 0 {
		errs = append(errs, engramerr.Errorf(engramerr.CodeConfigInvalid,
			"config: ratelimit.max_requests must be positive, got %d", c.Rate.MaxRequests))
	}
	if c.Recovery.StaleAfter <= 0 {
		errs = append(errs, engramerr.Errorf(engramerr.CodeConfigInvalid,
			"config: recovery.stale_after must be positive, got %s", c.Recovery.StaleAfter))
	}
	if c.Search.TopK <= 0 {
		errs = append(errs, engramerr.Errorf(engramerr.CodeConfigInvalid,
			"config: search.top_k must be positive, got %d", c.Search.TopK))
	}
	if c.Workers <= 0 {
		errs = append(errs, engramerr.Errorf(engramerr.CodeConfigInvalid,
			"config: workers must be positive, got %d", c.Workers))
	}

	return errs
}

// ExpectedDimensions returns the embedding width the configured
// provider produces (storage.vector_dimensions for any other provider,
// such as mock).
func (c *Config) ExpectedDimensions() int {
	switch c.Embedder.Provider {
	case "local":
		return 384
	case "openai":
		return 1536
	default:
		return c.Storage.VectorDimensions
	}
}

func defaultDataDir() string {
	base, err := filepath.Abs(".")
	if err != nil {
		return "./engram-data"
	}
	return filepath.Join(base, "engram-data")
}
