// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store_test

import (
	"context"
	"testing"

	"github.com/sigil-dev/recall/internal/store"
	"github.com/sigil-dev/recall/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend_Contract(t *testing.T) {
	storetest.Run(t, func(_ *testing.T, opts store.Options) store.Backend {
		return store.NewMemoryBackend(opts)
	})
}

func TestMemoryBackend_ClearAllWithPrefix(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryBackend(store.Options{Prefix: store.NewPrefix("ns", "a")})
	m.PutRaw("ns-a-1", store.NewRecord("one", []float32{1}, ""))
	m.PutRaw("ns-a-2", store.NewRecord("two", []float32{1}, ""))
	m.PutRaw("ns-b-1", store.NewRecord("three", []float32{1}, ""))

	assert.Equal(t, 2, m.ClearAllWithPrefix())

	size, err := m.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, size)

	require.NoError(t, m.UseCollection("b"))
	size, err = m.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestMemoryBackend_EachFollowsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryBackend(store.Options{})
	for _, text := range []string{"c", "a", "b"} {
		require.NoError(t, m.Set(ctx, text, store.NewRecord(text, []float32{1}, "")))
	}
	require.NoError(t, m.Set(ctx, "c", store.NewRecord("c", []float32{2}, "")))

	var keys []string
	require.NoError(t, m.Each(ctx, func(key string, _ *store.Record) error {
		keys = append(keys, key)
		return nil
	}))
	assert.Equal(t, []string{"c", "a", "b"}, keys)
}

func TestMemoryBackend_StoresCopies(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryBackend(store.Options{})
	rec := store.NewRecord("text", []float32{1, 2}, "", "a")
	require.NoError(t, m.Set(ctx, "k", rec))

	rec.Embedding[0] = 99
	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, float32(1), got.Embedding[0])

	got.Tags[0] = "mutated"
	again, _, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, again.Tags)
}

func TestMemoryBackend_DeleteDuringEach(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryBackend(store.Options{})
	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, m.Set(ctx, text, store.NewRecord(text, []float32{1}, "")))
	}

	require.NoError(t, m.Each(ctx, func(key string, _ *store.Record) error {
		_, err := m.Delete(ctx, key)
		return err
	}))

	size, err := m.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}

func TestMemoryBackend_NoDimensionCheckWhenUnset(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryBackend(store.Options{})
	require.NoError(t, m.Set(ctx, "k", store.NewRecord("three", []float32{1, 0, 0}, "")))

	got, err := m.FindRecords(ctx, []float32{1, 0}, store.FindOpts{})
	require.NoError(t, err)
	assert.Empty(t, got)
}
