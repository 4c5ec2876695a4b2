// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package redis stores records in a Redis-compatible key-value server and
// provides the layered backend that fronts it with process memory.
package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sigil-dev/recall/internal/store"
	"github.com/sigil-dev/recall/internal/tag"
	recallerr "github.com/sigil-dev/recall/pkg/errors"
)

// Backend names registered with the store factory.
const (
	BackendRedis   = "redis"
	BackendLayered = "layered"
)

// scanCount is the COUNT hint per SCAN round trip and the batch size for
// MGET and DEL.
const scanCount = 256

const pingTimeout = 5 * time.Second

func init() {
	store.RegisterBackend(BackendRedis, func(ctx context.Context, cfg *store.StorageConfig, opts store.Options) (store.Backend, error) {
		return New(ctx, Config{URL: cfg.RedisURL, Expiry: cfg.RedisExpiry}, opts)
	})
	store.RegisterBackend(BackendLayered, func(ctx context.Context, cfg *store.StorageConfig, opts store.Options) (store.Backend, error) {
		return NewLayered(ctx, Config{URL: cfg.RedisURL, Expiry: cfg.RedisExpiry}, opts)
	})
}

// Compile-time interface check.
var _ store.Backend = (*Backend)(nil)

// Config locates the server.
type Config struct {
	// URL is a redis:// or rediss:// URL. Required.
	URL string
	// Expiry applies to every Set; 0 keeps keys forever.
	Expiry time.Duration
}

// Backend implements store.Backend over Redis. Records are stored as JSON
// under their physical key.
type Backend struct {
	client *goredis.Client
	expiry time.Duration

	mu   sync.RWMutex
	opts store.Options
}

// New connects to the server at cfg.URL and verifies it answers PING.
func New(ctx context.Context, cfg Config, opts store.Options) (*Backend, error) {
	if cfg.URL == "" {
		return nil, recallerr.New(recallerr.CodeStoreConfigMissing, "redis url is required",
			recallerr.Field("setting", "storage.redis.url"))
	}
	redisOpts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, recallerr.Wrap(err, recallerr.CodeStoreConfigMissing, "parsing redis url")
	}

	b := &Backend{
		client: goredis.NewClient(redisOpts),
		expiry: cfg.Expiry,
		opts:   opts.WithDefaults(),
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := b.client.Ping(pingCtx).Err(); err != nil {
		_ = b.client.Close()
		return nil, recallerr.Wrap(err, recallerr.CodeStoreRemoteConnectFailure, "connecting to redis",
			recallerr.Field("addr", redisOpts.Addr))
	}

	return b, nil
}

func (b *Backend) Prefix() store.Prefix {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.opts.Prefix
}

func (b *Backend) UseCollection(name string) error {
	if err := store.CheckPart("collection", name); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opts.Prefix = b.opts.Prefix.WithCollection(name)
	return nil
}

func (b *Backend) normalizer() *tag.Normalizer {
	return b.opts.Normalizer
}

func (b *Backend) Get(ctx context.Context, key string) (*store.Record, bool, error) {
	data, err := b.client.Get(ctx, b.Prefix().Key(key)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, remoteErr(err, "getting record", key)
	}
	rec, err := decode(data)
	if err != nil {
		return nil, false, recallerr.With(err, recallerr.FieldKey(key))
	}
	rec.Key = key
	return rec, true, nil
}

func (b *Backend) Set(ctx context.Context, key string, rec *store.Record) error {
	return b.set(ctx, key, rec, b.expiry)
}

// SetWithExpiry stores rec with its own time-to-live. A ttl of zero or
// less deletes the key instead.
func (b *Backend) SetWithExpiry(ctx context.Context, key string, rec *store.Record, ttl time.Duration) error {
	if ttl <= 0 {
		_, err := b.Delete(ctx, key)
		return err
	}
	return b.set(ctx, key, rec, ttl)
}

func (b *Backend) set(ctx context.Context, key string, rec *store.Record, ttl time.Duration) error {
	data, err := json.Marshal(store.Prepare(rec, b.normalizer()))
	if err != nil {
		return recallerr.Wrap(err, recallerr.CodeStoreRecordEncodeFailure, "encoding record", recallerr.FieldKey(key))
	}
	if err := b.client.Set(ctx, b.Prefix().Key(key), data, ttl).Err(); err != nil {
		return remoteErr(err, "setting record", key)
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, b.Prefix().Key(key)).Result()
	if err != nil {
		return false, remoteErr(err, "checking record", key)
	}
	return n > 0, nil
}

func (b *Backend) Delete(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Del(ctx, b.Prefix().Key(key)).Result()
	if err != nil {
		return false, remoteErr(err, "deleting record", key)
	}
	return n > 0, nil
}

// Size counts keys under the active prefix with an incremental SCAN.
func (b *Backend) Size(ctx context.Context) (int, error) {
	n := 0
	err := b.scanKeys(ctx, b.Prefix().String(), func(keys []string) error {
		n += len(keys)
		return nil
	})
	return n, err
}

func (b *Backend) Clear(ctx context.Context, tags ...string) error {
	if len(tags) > 0 {
		return store.ClearTagged(ctx, b, b.normalizer(), tags)
	}
	_, err := b.ClearAllWithPrefix(ctx)
	return err
}

// ClearAllWithPrefix deletes every key under the active prefix, batch by
// batch as SCAN yields them. Deleting behind the cursor can make a pass
// skip keys, so passes repeat until one deletes nothing.
func (b *Backend) ClearAllWithPrefix(ctx context.Context) (int, error) {
	prefix := b.Prefix().String()
	n := 0
	for {
		pass := 0
		err := b.scanKeys(ctx, prefix, func(keys []string) error {
			deleted, err := b.client.Del(ctx, keys...).Result()
			if err != nil {
				return remoteErr(err, "clearing records", "")
			}
			pass += int(deleted)
			return nil
		})
		n += pass
		if err != nil {
			return n, err
		}
		if pass == 0 {
			break
		}
	}
	slog.Debug("cleared redis prefix", "prefix", prefix, "count", n)
	return n, nil
}

func (b *Backend) Each(ctx context.Context, fn store.EachFunc) error {
	prefix := b.Prefix().String()
	return b.scanRecords(ctx, prefix, func(physical string, rec *store.Record) error {
		return fn(strings.TrimPrefix(physical, prefix), rec)
	})
}

// FullEach enumerates every collection of the namespace.
func (b *Backend) FullEach(ctx context.Context, fn store.EachFunc) error {
	return b.scanRecords(ctx, b.Prefix().Scan(), fn)
}

// Collections scans keys only; values are never fetched.
func (b *Backend) Collections(ctx context.Context, scanPrefix string) ([]string, error) {
	var all []string
	err := b.scanKeys(ctx, scanPrefix, func(keys []string) error {
		all = append(all, keys...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return store.CollectionsFromKeys(all, scanPrefix), nil
}

func (b *Backend) Tags(ctx context.Context) (*tag.Set, error) {
	return store.CollectTags(ctx, b, b.normalizer())
}

func (b *Backend) FindRecords(ctx context.Context, needle []float32, opts store.FindOpts) ([]*store.Record, error) {
	if err := store.CheckDimensions(needle, b.opts.EmbeddingLength); err != nil {
		return nil, err
	}
	return store.RankRecords(ctx, b, b.normalizer(), needle, opts)
}

// Close releases the client connection pool.
func (b *Backend) Close() error {
	return b.client.Close()
}

// scanKeys walks keys starting with prefix, handing them over in batches.
func (b *Backend) scanKeys(ctx context.Context, prefix string, fn func(keys []string) error) error {
	iter := b.client.Scan(ctx, 0, escapeGlob(prefix)+"*", scanCount).Iterator()
	batch := make([]string, 0, scanCount)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanCount {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]string, 0, scanCount)
		}
	}
	if err := iter.Err(); err != nil {
		return remoteErr(err, "scanning keys", "")
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// scanRecords walks keys under prefix and fetches their values with MGET.
// Keys removed between SCAN and MGET are skipped.
func (b *Backend) scanRecords(ctx context.Context, prefix string, fn store.EachFunc) error {
	return b.scanKeys(ctx, prefix, func(keys []string) error {
		vals, err := b.client.MGet(ctx, keys...).Result()
		if err != nil {
			return remoteErr(err, "fetching records", "")
		}
		for i, val := range vals {
			s, ok := val.(string)
			if !ok {
				continue
			}
			rec, err := decode([]byte(s))
			if err != nil {
				return recallerr.With(err, recallerr.FieldKey(keys[i]))
			}
			if err := fn(keys[i], rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func decode(data []byte) (*store.Record, error) {
	var rec store.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, recallerr.Wrap(err, recallerr.CodeStoreRecordDecodeFailure, "decoding record")
	}
	return &rec, nil
}

func remoteErr(err error, msg, key string) error {
	if key == "" {
		return recallerr.Wrap(err, recallerr.CodeStoreRemoteFailure, msg)
	}
	return recallerr.Wrap(err, recallerr.CodeStoreRemoteFailure, msg, recallerr.FieldKey(key))
}

// escapeGlob quotes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
