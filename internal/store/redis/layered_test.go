// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package redis_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/sigil-dev/recall/internal/store"
	"github.com/sigil-dev/recall/internal/store/redis"
	"github.com/sigil-dev/recall/internal/store/storetest"
	recallerr "github.com/sigil-dev/recall/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLayered(t *testing.T, mr *miniredis.Miniredis, opts store.Options) *redis.Layered {
	t.Helper()
	l, err := redis.NewLayered(context.Background(), redis.Config{URL: redisURL(mr)}, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLayered_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T, opts store.Options) store.Backend {
		return newLayered(t, miniredis.RunT(t), opts)
	})
}

func TestLayered_RequiresURL(t *testing.T) {
	_, err := redis.NewLayered(context.Background(), redis.Config{}, testOpts())
	require.Error(t, err)
	assert.True(t, recallerr.IsConfigMissing(err))
	assert.Equal(t, redis.BackendLayered, recallerr.FieldsOf(err)["backend"])
}

func TestLayered_HydratesFromRemote(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	remote := newRemote(t, mr, testOpts())

	const n = 25
	keys := make([]string, n)
	for i := range n {
		text := fmt.Sprintf("text %d", i)
		keys[i] = store.KeyFor(text)
		require.NoError(t, remote.Set(ctx, keys[i], store.NewRecord(text, []float32{1, float32(i)}, "", "seeded")))
	}
	require.NoError(t, remote.UseCollection("other"))
	require.NoError(t, remote.Set(ctx, "elsewhere", store.NewRecord("elsewhere", []float32{1, 1}, "")))

	l := newLayered(t, mr, testOpts())

	size, err := l.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, size)
	for i, key := range keys {
		got, ok, err := l.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("text %d", i), got.Text)
	}

	require.NoError(t, l.UseCollection("other"))
	ok, err := l.Exists(ctx, "elsewhere")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLayered_WritesThroughToRemote(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	l := newLayered(t, mr, testOpts())

	require.NoError(t, l.Set(ctx, "k", store.NewRecord("t", []float32{1, 0}, "")))
	assert.True(t, mr.Exists("test-main-k"))

	deleted, err := l.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, mr.Exists("test-main-k"))
}

func TestLayered_ClearRemovesRemoteKeys(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	l := newLayered(t, mr, testOpts())

	require.NoError(t, l.Set(ctx, "a", store.NewRecord("a", []float32{1, 0}, "", "drop")))
	require.NoError(t, l.Set(ctx, "b", store.NewRecord("b", []float32{0, 1}, "", "keep")))

	require.NoError(t, l.Clear(ctx, "drop"))
	assert.False(t, mr.Exists("test-main-a"))
	assert.True(t, mr.Exists("test-main-b"))

	require.NoError(t, l.Clear(ctx))
	assert.False(t, mr.Exists("test-main-b"))

	// A fresh instance must not bring cleared records back.
	again := newLayered(t, mr, testOpts())
	size, err := again.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}

func TestLayered_RemoteFailureDoesNotDiverge(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	l := newLayered(t, mr, testOpts())
	mr.Close()

	err := l.Set(ctx, "k", store.NewRecord("t", []float32{1, 0}, ""))
	require.Error(t, err)

	ok, err := l.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
