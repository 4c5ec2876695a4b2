// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package redis_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sigil-dev/recall/internal/store"
	"github.com/sigil-dev/recall/internal/store/redis"
	"github.com/sigil-dev/recall/internal/store/storetest"
	recallerr "github.com/sigil-dev/recall/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisURL(mr *miniredis.Miniredis) string {
	return "redis://" + mr.Addr()
}

func newRemote(t *testing.T, mr *miniredis.Miniredis, opts store.Options) *redis.Backend {
	t.Helper()
	b, err := redis.New(context.Background(), redis.Config{URL: redisURL(mr)}, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func testOpts() store.Options {
	return store.Options{Prefix: store.NewPrefix("test", "main"), EmbeddingLength: 2}
}

func TestBackend_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T, opts store.Options) store.Backend {
		return newRemote(t, miniredis.RunT(t), opts)
	})
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := redis.New(context.Background(), redis.Config{}, testOpts())
	require.Error(t, err)
	assert.True(t, recallerr.IsConfigMissing(err))
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := redis.New(context.Background(), redis.Config{URL: "http://nope"}, testOpts())
	require.Error(t, err)
	assert.True(t, recallerr.IsConfigMissing(err))
}

func TestNew_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	url := redisURL(mr)
	mr.Close()

	_, err := redis.New(context.Background(), redis.Config{URL: url}, testOpts())
	require.Error(t, err)
	assert.True(t, recallerr.IsUnavailable(err))
}

func TestBackend_StoresJSONUnderPrefixedKey(t *testing.T) {
	mr := miniredis.RunT(t)
	b := newRemote(t, mr, testOpts())

	key := store.KeyFor("hello")
	require.NoError(t, b.Set(context.Background(), key, store.NewRecord("hello", []float32{1, 0}, "a.md", "#greet")))

	raw, err := mr.Get("test-main-" + key)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.Equal(t, "hello", decoded["text"])
	assert.Equal(t, "a.md", decoded["source"])
	assert.Equal(t, []any{"greet"}, decoded["tags"])
	assert.NotContains(t, decoded, "similarity")
}

func TestBackend_DefaultExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := redis.New(context.Background(), redis.Config{URL: redisURL(mr), Expiry: time.Minute}, testOpts())
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	require.NoError(t, b.Set(context.Background(), "k", store.NewRecord("t", []float32{1, 0}, "")))
	assert.Equal(t, time.Minute, mr.TTL("test-main-k"))
}

func TestBackend_SetWithExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	b := newRemote(t, mr, testOpts())
	rec := store.NewRecord("t", []float32{1, 0}, "")

	require.NoError(t, b.SetWithExpiry(ctx, "k", rec, time.Second))
	ok, err := b.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Second)
	ok, err = b.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackend_SetWithNonPositiveExpiryDeletes(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	b := newRemote(t, mr, testOpts())
	rec := store.NewRecord("t", []float32{1, 0}, "")

	for _, ttl := range []time.Duration{0, -time.Second} {
		require.NoError(t, b.Set(ctx, "k", rec))
		require.NoError(t, b.SetWithExpiry(ctx, "k", rec, ttl))

		ok, err := b.Exists(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok, "ttl %s", ttl)
	}
}

func TestBackend_SizeAndClearScanManyKeys(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	b := newRemote(t, mr, testOpts())

	const n = 700
	for i := range n {
		text := fmt.Sprintf("record %d", i)
		require.NoError(t, b.Set(ctx, store.KeyFor(text), store.NewRecord(text, []float32{1, float32(i)}, "")))
	}
	require.NoError(t, mr.Set("unrelated", "value"))

	size, err := b.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, size)

	cleared, err := b.ClearAllWithPrefix(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, cleared)

	size, err = b.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, size)
	assert.True(t, mr.Exists("unrelated"))
}

func TestBackend_ClearManyKeysKeepsOtherCollection(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	b := newRemote(t, mr, testOpts())

	for i := range 600 {
		text := fmt.Sprintf("main %d", i)
		require.NoError(t, b.Set(ctx, store.KeyFor(text), store.NewRecord(text, []float32{1, 0}, "")))
	}
	require.NoError(t, b.UseCollection("other"))
	for i := range 300 {
		text := fmt.Sprintf("other %d", i)
		require.NoError(t, b.Set(ctx, store.KeyFor(text), store.NewRecord(text, []float32{0, 1}, "")))
	}
	require.NoError(t, b.UseCollection("main"))

	require.NoError(t, b.Clear(ctx))

	size, err := b.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, size)

	require.NoError(t, b.UseCollection("other"))
	size, err = b.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 300, size)
}

func TestBackend_CorruptValueSurfaces(t *testing.T) {
	mr := miniredis.RunT(t)
	b := newRemote(t, mr, testOpts())
	require.NoError(t, mr.Set("test-main-bad", "{not json"))

	_, _, err := b.Get(context.Background(), "bad")
	require.Error(t, err)
	assert.True(t, recallerr.HasCode(err, recallerr.CodeStoreRecordDecodeFailure))
}

func TestBackend_WriteFailsWhenServerGone(t *testing.T) {
	mr := miniredis.RunT(t)
	b := newRemote(t, mr, testOpts())
	mr.Close()

	err := b.Set(context.Background(), "k", store.NewRecord("t", []float32{1, 0}, ""))
	require.Error(t, err)
	assert.True(t, recallerr.HasCode(err, recallerr.CodeStoreRemoteFailure))
}

func TestOpen_RegistersBackends(t *testing.T) {
	mr := miniredis.RunT(t)
	for _, name := range []string{redis.BackendRedis, redis.BackendLayered} {
		b, err := store.Open(context.Background(), &store.StorageConfig{Backend: name, RedisURL: redisURL(mr)})
		require.NoError(t, err, name)
		require.NoError(t, b.Close())
	}
}
