// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sigil-dev/recall/internal/config"
	recallerr "github.com/sigil-dev/recall/pkg/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "recall", cfg.Storage.Namespace)
	assert.Equal(t, "default", cfg.Storage.Collection)
	assert.Equal(t, 0, cfg.Storage.EmbeddingLength)
	assert.Equal(t, time.Duration(0), cfg.Storage.Redis.Expiry)
	assert.Equal(t, 10, cfg.Search.MaxRecords)
}

func TestLoad_FromFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "recall.yaml")
	content := `
storage:
  backend: layered
  collection: notes
  embedding_length: 384
  redis:
    url: "redis://localhost:6379/2"
    expiry: 720h
tags:
  valid_pattern: "[a-z]"
embedding:
  model: "all-minilm"
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "layered", cfg.Storage.Backend)
	assert.Equal(t, "notes", cfg.Storage.Collection)
	assert.Equal(t, "recall", cfg.Storage.Namespace)
	assert.Equal(t, 384, cfg.Storage.EmbeddingLength)
	assert.Equal(t, "redis://localhost:6379/2", cfg.Storage.Redis.URL)
	assert.Equal(t, 720*time.Hour, cfg.Storage.Redis.Expiry)
	assert.Equal(t, "[a-z]", cfg.Tags.ValidPattern)
	assert.Equal(t, "all-minilm", cfg.Embedding.Model)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("RECALL_STORAGE_BACKEND", "sqlite")
	t.Setenv("RECALL_STORAGE_EMBEDDING_LENGTH", "8")
	t.Setenv("RECALL_STORAGE_SQLITE_PATH", "/tmp/recall.db")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 8, cfg.Storage.EmbeddingLength)
	assert.Equal(t, "/tmp/recall.db", cfg.Storage.SQLite.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, recallerr.HasCode(err, recallerr.CodeConfigLoadReadFailure))
}

func TestLoad_ValidationCalledAtLoadTime(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "recall.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("storage:\n  backend: cassandra\n"), 0o600))

	_, err := config.Load(cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend")
	assert.True(t, recallerr.HasCode(err, recallerr.CodeConfigValidateInvalidValue))
}

// validConfig returns a minimal config that passes all validation.
func validConfig() *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{
			Backend:    "memory",
			Namespace:  "recall",
			Collection: "default",
		},
		Search: config.SearchConfig{MaxRecords: 10},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *config.Config)
		wantErr string
	}{
		{
			name:   "valid config",
			modify: func(*config.Config) {},
		},
		{
			name:   "empty backend means memory",
			modify: func(c *config.Config) { c.Storage.Backend = "" },
		},
		{
			name:    "unknown backend",
			modify:  func(c *config.Config) { c.Storage.Backend = "etcd" },
			wantErr: "storage.backend",
		},
		{
			name:    "hyphen in namespace",
			modify:  func(c *config.Config) { c.Storage.Namespace = "my-app" },
			wantErr: "storage.namespace",
		},
		{
			name:    "hyphen in collection",
			modify:  func(c *config.Config) { c.Storage.Collection = "a-b" },
			wantErr: "storage.collection",
		},
		{
			name:    "negative embedding length",
			modify:  func(c *config.Config) { c.Storage.EmbeddingLength = -1 },
			wantErr: "storage.embedding_length",
		},
		{
			name:    "sqlite without embedding length",
			modify:  func(c *config.Config) { c.Storage.Backend = "sqlite" },
			wantErr: "storage.embedding_length",
		},
		{
			name: "sqlite with embedding length",
			modify: func(c *config.Config) {
				c.Storage.Backend = "sqlite"
				c.Storage.EmbeddingLength = 384
			},
		},
		{
			name:    "redis without url",
			modify:  func(c *config.Config) { c.Storage.Backend = "redis" },
			wantErr: "storage.redis.url",
		},
		{
			name:    "layered without url",
			modify:  func(c *config.Config) { c.Storage.Backend = "layered" },
			wantErr: "storage.redis.url",
		},
		{
			name:    "negative expiry",
			modify:  func(c *config.Config) { c.Storage.Redis.Expiry = -time.Second },
			wantErr: "storage.redis.expiry",
		},
		{
			name:    "bad tag pattern",
			modify:  func(c *config.Config) { c.Tags.ValidPattern = "[a-" },
			wantErr: "tags.valid_pattern",
		},
		{
			name:    "max records above cap",
			modify:  func(c *config.Config) { c.Search.MaxRecords = 5000 },
			wantErr: "search.max_records",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			errs := cfg.Validate()
			if tt.wantErr == "" {
				assert.Empty(t, errs)
				return
			}
			require.NotEmpty(t, errs)
			assert.Contains(t, recallerr.Join(errs...).Error(), tt.wantErr)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Backend = "redis"
	cfg.Storage.Namespace = "a-b"
	cfg.Search.MaxRecords = -1

	assert.Len(t, cfg.Validate(), 3)
}

func TestStoreConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Backend = "layered"
	cfg.Storage.EmbeddingLength = 4
	cfg.Storage.Redis = config.RedisConfig{URL: "redis://h:1", Expiry: time.Minute}
	cfg.Storage.SQLite.Path = "x.db"
	cfg.Tags.ValidPattern = "[a-z]"

	sc := cfg.StoreConfig()
	assert.Equal(t, "layered", sc.Backend)
	assert.Equal(t, "recall", sc.Namespace)
	assert.Equal(t, "default", sc.Collection)
	assert.Equal(t, 4, sc.EmbeddingLength)
	assert.Equal(t, "redis://h:1", sc.RedisURL)
	assert.Equal(t, time.Minute, sc.RedisExpiry)
	assert.Equal(t, "x.db", sc.SQLitePath)
	assert.Equal(t, "[a-z]", sc.ValidTagPattern)
}

func TestString_RedactsRedisURL(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Redis.URL = "redis://:hunter2@host:6379"
	assert.NotContains(t, cfg.String(), "hunter2")
	assert.Contains(t, cfg.String(), "<redacted>")
}

func TestDefaultConfigYAML_Loads(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewReader(config.DefaultConfigYAML)))
	assert.Equal(t, "memory", v.GetString("storage.backend"))

	cfgPath := filepath.Join(t.TempDir(), "recall.yaml")
	require.NoError(t, os.WriteFile(cfgPath, config.DefaultConfigYAML, 0o600))
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Storage.Collection)
}

func TestBootstrapConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "nested", "recall.yaml")

	assert.True(t, config.BootstrapConfig(cfgPath))
	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfigYAML, data)

	info, err := os.Stat(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	assert.False(t, config.BootstrapConfig(cfgPath), "existing file is left alone")
}

func TestLoadDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := config.LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Backend)

	path, err := config.DefaultConfigPath()
	require.NoError(t, err)
	assert.FileExists(t, path)
}
