// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"context"
	"slices"
	"sync"

	recallerr "github.com/sigil-dev/recall/pkg/errors"
)

// BackendMemory is the default backend name.
const BackendMemory = "memory"

// BackendFactory builds a backend from the storage config and the options
// derived from it.
type BackendFactory func(ctx context.Context, cfg *StorageConfig, opts Options) (Backend, error)

var (
	factories   = map[string]BackendFactory{}
	factoriesMu sync.RWMutex
)

func init() {
	RegisterBackend(BackendMemory, func(_ context.Context, _ *StorageConfig, opts Options) (Backend, error) {
		return NewMemoryBackend(opts), nil
	})
}

// RegisterBackend registers a factory for a named backend.
// Backend packages call this from init(). This function is goroutine-safe.
func RegisterBackend(name string, f BackendFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Backends lists the registered backend names.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// resolveBackend returns the effective backend name, defaulting to memory.
func resolveBackend(cfg *StorageConfig) string {
	if cfg.Backend == "" {
		return BackendMemory
	}
	return cfg.Backend
}

// Open builds the backend selected by cfg. Construction may block while a
// backend hydrates from durable storage.
func Open(ctx context.Context, cfg *StorageConfig) (Backend, error) {
	backend := resolveBackend(cfg)

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, recallerr.New(recallerr.CodeStoreBackendUnsupported, "unsupported storage backend",
			recallerr.FieldBackend(backend))
	}

	if err := CheckPart("namespace", cfg.Namespace); err != nil {
		return nil, err
	}
	if err := CheckPart("collection", cfg.Collection); err != nil {
		return nil, err
	}

	opts, err := cfg.Options()
	if err != nil {
		return nil, recallerr.Wrap(err, recallerr.CodeConfigValidateInvalidValue, "compiling valid tag pattern")
	}

	return factory(ctx, cfg, opts)
}
