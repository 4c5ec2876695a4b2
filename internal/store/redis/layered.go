// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package redis

import (
	"context"
	"log/slog"

	"github.com/sigil-dev/recall/internal/store"
	"github.com/sigil-dev/recall/internal/tag"
	recallerr "github.com/sigil-dev/recall/pkg/errors"
)

// Compile-time interface check.
var _ store.Backend = (*Layered)(nil)

// Layered serves reads from process memory and writes through to Redis.
// Remote writes go first so a failure never leaves memory ahead of Redis.
type Layered struct {
	local  *store.MemoryBackend
	remote *Backend
}

// NewLayered connects to Redis and hydrates memory with every record of
// the namespace. Hydration blocks until the whole keyspace has been read.
func NewLayered(ctx context.Context, cfg Config, opts store.Options) (*Layered, error) {
	if cfg.URL == "" {
		return nil, recallerr.New(recallerr.CodeStoreConfigMissing, "layered backend requires a redis url",
			recallerr.FieldBackend(BackendLayered),
			recallerr.Field("setting", "storage.redis.url"))
	}
	remote, err := New(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	l := &Layered{
		local:  store.NewMemoryBackend(opts),
		remote: remote,
	}
	if err := l.hydrate(ctx); err != nil {
		_ = remote.Close()
		return nil, err
	}
	return l, nil
}

func (l *Layered) hydrate(ctx context.Context) error {
	n := 0
	err := l.remote.FullEach(ctx, func(physical string, rec *store.Record) error {
		l.local.PutRaw(physical, rec)
		n++
		return nil
	})
	if err != nil {
		return recallerr.With(err, recallerr.FieldBackend(BackendLayered))
	}
	slog.Debug("hydrated layered cache", "namespace", l.remote.Prefix().Namespace, "records", n)
	return nil
}

func (l *Layered) Prefix() store.Prefix { return l.local.Prefix() }

func (l *Layered) UseCollection(name string) error {
	if err := l.remote.UseCollection(name); err != nil {
		return err
	}
	return l.local.UseCollection(name)
}

func (l *Layered) Get(ctx context.Context, key string) (*store.Record, bool, error) {
	return l.local.Get(ctx, key)
}

func (l *Layered) Set(ctx context.Context, key string, rec *store.Record) error {
	if err := l.remote.Set(ctx, key, rec); err != nil {
		return err
	}
	return l.local.Set(ctx, key, rec)
}

func (l *Layered) Exists(ctx context.Context, key string) (bool, error) {
	return l.local.Exists(ctx, key)
}

func (l *Layered) Delete(ctx context.Context, key string) (bool, error) {
	remoteDeleted, err := l.remote.Delete(ctx, key)
	if err != nil {
		return false, err
	}
	localDeleted, _ := l.local.Delete(ctx, key)
	return remoteDeleted || localDeleted, nil
}

func (l *Layered) Size(ctx context.Context) (int, error) {
	return l.local.Size(ctx)
}

// Clear removes matching keys from Redis before memory so a restart can
// not rehydrate what was cleared.
func (l *Layered) Clear(ctx context.Context, tags ...string) error {
	if err := l.remote.Clear(ctx, tags...); err != nil {
		return err
	}
	return l.local.Clear(ctx, tags...)
}

func (l *Layered) Each(ctx context.Context, fn store.EachFunc) error {
	return l.local.Each(ctx, fn)
}

func (l *Layered) FullEach(ctx context.Context, fn store.EachFunc) error {
	return l.local.FullEach(ctx, fn)
}

func (l *Layered) Collections(ctx context.Context, scanPrefix string) ([]string, error) {
	return l.local.Collections(ctx, scanPrefix)
}

func (l *Layered) Tags(ctx context.Context) (*tag.Set, error) {
	return l.local.Tags(ctx)
}

func (l *Layered) FindRecords(ctx context.Context, needle []float32, opts store.FindOpts) ([]*store.Record, error) {
	return l.local.FindRecords(ctx, needle, opts)
}

func (l *Layered) Close() error {
	return l.remote.Close()
}
