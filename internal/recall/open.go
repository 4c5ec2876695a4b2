// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package recall

import (
	"context"
	"log/slog"

	"github.com/sigil-dev/recall/internal/config"
	"github.com/sigil-dev/recall/internal/store"
	"github.com/sigil-dev/recall/internal/store/redis"
	_ "github.com/sigil-dev/recall/internal/store/sqlite" // register sqlite backend
	recallerr "github.com/sigil-dev/recall/pkg/errors"
)

// OpenBackend builds the configured backend. A redis or layered backend
// whose server cannot be reached is replaced by an in-memory backend with
// the same options; every other error is returned as is.
func OpenBackend(ctx context.Context, cfg *store.StorageConfig) (store.Backend, error) {
	b, err := store.Open(ctx, cfg)
	if err == nil {
		return b, nil
	}
	if !fallsBack(cfg.Backend) || !recallerr.IsUnavailable(err) {
		return nil, err
	}

	slog.Warn("remote store unavailable, falling back to memory",
		"backend", cfg.Backend,
		"error", err,
	)
	memCfg := *cfg
	memCfg.Backend = store.BackendMemory
	return store.Open(ctx, &memCfg)
}

func fallsBack(backend string) bool {
	return backend == redis.BackendRedis || backend == redis.BackendLayered
}

// Open loads a Store from cfg, embedding through e.
func Open(ctx context.Context, cfg *config.Config, e Embedder) (*Store, error) {
	b, err := OpenBackend(ctx, cfg.StoreConfig())
	if err != nil {
		return nil, err
	}
	return New(b, e, Options{
		Model:      cfg.Embedding.Model,
		MaxRecords: cfg.Search.MaxRecords,
	}), nil
}
