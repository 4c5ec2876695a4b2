// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	_ "embed"
	"log/slog"
	"os"
	"path/filepath"

	recallerr "github.com/sigil-dev/recall/pkg/errors"
)

//go:embed recall.yaml.default
var DefaultConfigYAML []byte

// DefaultConfigPath returns ~/.config/recall/recall.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", recallerr.Errorf(recallerr.CodeConfigLoadReadFailure, "resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "recall", "recall.yaml"), nil
}

// BootstrapConfig writes the default commented config to cfgPath if it does
// not already exist. It reports whether the file was written; failures are
// logged and skipped.
func BootstrapConfig(cfgPath string) bool {
	if _, err := os.Stat(cfgPath); err == nil {
		return false // already exists
	}

	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		slog.Debug("skipping config bootstrap: cannot create directory", "path", dir, "error", err)
		return false
	}

	if err := os.WriteFile(cfgPath, DefaultConfigYAML, 0o600); err != nil {
		slog.Debug("skipping config bootstrap: cannot write config", "path", cfgPath, "error", err)
		return false
	}

	slog.Info("created default config", "path", cfgPath)
	return true
}

// LoadDefault loads the config at DefaultConfigPath, creating it first when
// it is missing.
func LoadDefault() (*Config, error) {
	cfgPath, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	BootstrapConfig(cfgPath)
	return Load(cfgPath)
}
