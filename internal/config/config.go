// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sigil-dev/recall/internal/store"
	recallerr "github.com/sigil-dev/recall/pkg/errors"
)

// Config is the top-level recall configuration.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Tags      TagsConfig      `mapstructure:"tags"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Search    SearchConfig    `mapstructure:"search"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Backend         string       `mapstructure:"backend"`
	Namespace       string       `mapstructure:"namespace"`
	Collection      string       `mapstructure:"collection"`
	EmbeddingLength int          `mapstructure:"embedding_length"`
	Redis           RedisConfig  `mapstructure:"redis"`
	SQLite          SQLiteConfig `mapstructure:"sqlite"`
}

// RedisConfig locates the remote store used by the redis and layered backends.
type RedisConfig struct {
	URL    string        `mapstructure:"url"`
	Expiry time.Duration `mapstructure:"expiry"`
}

// SQLiteConfig locates the embedded vector database.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// TagsConfig controls tag normalization.
type TagsConfig struct {
	ValidPattern string `mapstructure:"valid_pattern"`
}

// EmbeddingConfig names the model passed to the embedder.
type EmbeddingConfig struct {
	Model string `mapstructure:"model"`
}

// SearchConfig bounds similarity queries.
type SearchConfig struct {
	MaxRecords int `mapstructure:"max_records"`
}

var validBackends = []string{"memory", "redis", "layered", "sqlite"}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix RECALL_).
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.namespace", "recall")
	v.SetDefault("storage.collection", "default")
	v.SetDefault("storage.embedding_length", 0)
	v.SetDefault("storage.redis.url", "")
	v.SetDefault("storage.redis.expiry", time.Duration(0))
	v.SetDefault("storage.sqlite.path", "")
	v.SetDefault("tags.valid_pattern", "")
	v.SetDefault("embedding.model", "")
	v.SetDefault("search.max_records", 10)

	// Environment
	v.SetEnvPrefix("RECALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, recallerr.Errorf(recallerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
		WarnInsecurePermissions(path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, recallerr.Errorf(recallerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, recallerr.Errorf(recallerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateTags()...)
	errs = append(errs, c.validateSearch()...)

	return errs
}

func invalid(format string, args ...any) error {
	return recallerr.Errorf(recallerr.CodeConfigValidateInvalidValue, "config: "+format, args...)
}

func (c *Config) validateStorage() []error {
	var errs []error
	s := c.Storage

	backend := s.Backend
	if backend == "" {
		backend = "memory"
	}
	known := false
	for _, b := range validBackends {
		if b == backend {
			known = true
			break
		}
	}
	if !known {
		errs = append(errs, invalid("storage.backend must be one of [%s], got %q",
			strings.Join(validBackends, ", "), s.Backend))
	}

	for _, field := range []struct{ name, value string }{
		{"storage.namespace", s.Namespace},
		{"storage.collection", s.Collection},
	} {
		if strings.Contains(field.value, "-") {
			errs = append(errs, invalid("%s must not contain '-', got %q", field.name, field.value))
		}
	}

	if s.EmbeddingLength < 0 {
		errs = append(errs, invalid("storage.embedding_length must not be negative, got %d", s.EmbeddingLength))
	}
	if backend == "sqlite" && s.EmbeddingLength == 0 {
		errs = append(errs, invalid("storage.embedding_length is required for the sqlite backend"))
	}

	if (backend == "redis" || backend == "layered") && s.Redis.URL == "" {
		errs = append(errs, invalid("storage.redis.url is required for the %s backend", backend))
	}
	if s.Redis.Expiry < 0 {
		errs = append(errs, invalid("storage.redis.expiry must not be negative, got %s", s.Redis.Expiry))
	}

	return errs
}

func (c *Config) validateTags() []error {
	if c.Tags.ValidPattern == "" {
		return nil
	}
	if _, err := regexp.Compile(c.Tags.ValidPattern); err != nil {
		return []error{invalid("tags.valid_pattern is not a valid expression %q: %w", c.Tags.ValidPattern, err)}
	}
	return nil
}

func (c *Config) validateSearch() []error {
	if c.Search.MaxRecords < 0 {
		return []error{invalid("search.max_records must not be negative, got %d", c.Search.MaxRecords)}
	}
	if c.Search.MaxRecords > store.MaxFindRecords {
		return []error{invalid("search.max_records must be at most %d, got %d", store.MaxFindRecords, c.Search.MaxRecords)}
	}
	return nil
}

// StoreConfig converts the loaded settings into the form store.Open takes.
func (c *Config) StoreConfig() *store.StorageConfig {
	return &store.StorageConfig{
		Backend:         c.Storage.Backend,
		Namespace:       c.Storage.Namespace,
		Collection:      c.Storage.Collection,
		EmbeddingLength: c.Storage.EmbeddingLength,
		ValidTagPattern: c.Tags.ValidPattern,
		RedisURL:        c.Storage.Redis.URL,
		RedisExpiry:     c.Storage.Redis.Expiry,
		SQLitePath:      c.Storage.SQLite.Path,
	}
}

// String renders the config without the redis URL, which may carry credentials.
func (c *Config) String() string {
	redacted := ""
	if c.Storage.Redis.URL != "" {
		redacted = "<redacted>"
	}
	return fmt.Sprintf("backend=%s namespace=%s collection=%s embedding_length=%d redis_url=%s sqlite_path=%s",
		c.Storage.Backend, c.Storage.Namespace, c.Storage.Collection, c.Storage.EmbeddingLength,
		redacted, c.Storage.SQLite.Path)
}
