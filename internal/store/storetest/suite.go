// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package storetest holds the behaviour every store.Backend must share.
package storetest

import (
	"context"
	"testing"

	"github.com/sigil-dev/recall/internal/store"
	recallerr "github.com/sigil-dev/recall/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory builds a fresh, empty backend for one subtest.
type Factory func(t *testing.T, opts store.Options) store.Backend

func put(t *testing.T, b store.Backend, text string, emb []float32, source string, tags ...string) string {
	t.Helper()
	key := store.KeyFor(text)
	require.NoError(t, b.Set(context.Background(), key, store.NewRecord(text, emb, source, tags...)))
	return key
}

func opts(length int) store.Options {
	return store.Options{
		Prefix:          store.NewPrefix("test", "main"),
		EmbeddingLength: length,
	}
}

// Run exercises the backend contract.
func Run(t *testing.T, newBackend Factory) {
	t.Run("RoundTrip", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t, opts(3))

		key := put(t, b, "hello world", []float32{0.25, -0.5, 1}, "docs/hello.md", "greeting", "#intro")

		got, ok, err := b.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "hello world", got.Text)
		assert.Equal(t, []float32{0.25, -0.5, 1}, got.Embedding)
		assert.ElementsMatch(t, []string{"greeting", "intro"}, got.Tags)
		assert.Equal(t, "docs/hello.md", got.Source)
		assert.InDelta(t, store.Norm(got.Embedding), got.Norm, 1e-9)
		assert.Nil(t, got.Similarity)
	})

	t.Run("GetMissing", func(t *testing.T) {
		b := newBackend(t, opts(3))
		got, ok, err := b.Get(context.Background(), store.KeyFor("absent"))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, got)

		deleted, err := b.Delete(context.Background(), store.KeyFor("absent"))
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("ExistsAndDelete", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t, opts(1))

		foo := put(t, b, "foo", []float32{0.1}, "")
		bar := put(t, b, "bar", []float32{0.2}, "")

		ok, err := b.Exists(ctx, foo)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = b.Exists(ctx, bar)
		require.NoError(t, err)
		assert.True(t, ok)

		before, err := b.Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, before)

		deleted, err := b.Delete(ctx, foo)
		require.NoError(t, err)
		assert.True(t, deleted)

		ok, err = b.Exists(ctx, foo)
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = b.Exists(ctx, bar)
		require.NoError(t, err)
		assert.True(t, ok)

		after, err := b.Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, before-1, after)
	})

	t.Run("SetReplaces", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t, opts(2))
		key := store.KeyFor("same")

		require.NoError(t, b.Set(ctx, key, store.NewRecord("same", []float32{1, 0}, "", "a")))
		require.NoError(t, b.Set(ctx, key, store.NewRecord("same", []float32{0, 1}, "", "b")))

		size, err := b.Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, size)

		got, ok, err := b.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []float32{0, 1}, got.Embedding)
		assert.Equal(t, []string{"b"}, got.Tags)
	})

	t.Run("ClearIdempotent", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t, opts(2))
		put(t, b, "one", []float32{1, 0}, "", "x")
		put(t, b, "two", []float32{0, 1}, "")

		require.NoError(t, b.Clear(ctx))
		size, err := b.Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, size)

		require.NoError(t, b.Clear(ctx))
		size, err = b.Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, size)
	})

	t.Run("ClearByTags", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t, opts(2))
		keep := put(t, b, "keep", []float32{1, 0}, "", "nix")
		drop := put(t, b, "drop", []float32{0, 1}, "", "test", "other")
		sub := put(t, b, "substring", []float32{1, 1}, "", "testing")

		require.NoError(t, b.Clear(ctx, "#test"))

		ok, err := b.Exists(ctx, drop)
		require.NoError(t, err)
		assert.False(t, ok)
		for _, key := range []string{keep, sub} {
			ok, err = b.Exists(ctx, key)
			require.NoError(t, err)
			assert.True(t, ok)
		}
	})

	t.Run("ClearScopedToPrefix", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t, opts(2))
		put(t, b, "main record", []float32{1, 0}, "")

		require.NoError(t, b.UseCollection("other"))
		other := put(t, b, "other record", []float32{0, 1}, "")
		require.NoError(t, b.Clear(ctx))
		ok, err := b.Exists(ctx, other)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, b.UseCollection("main"))
		size, err := b.Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, size)
	})

	t.Run("SimilarityRanking", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t, opts(3))
		put(t, b, "x axis", []float32{1, 0, 0}, "")
		target := put(t, b, "target", []float32{0.2, 0.9, 0.1}, "")
		put(t, b, "z axis", []float32{0, 0, 1}, "")

		got, err := b.FindRecords(ctx, []float32{0.2, 0.9, 0.1}, store.FindOpts{})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "target", got[0].Text)
		assert.Equal(t, target, got[0].Key)
		require.NotNil(t, got[0].Similarity)
		assert.InDelta(t, 1.0, *got[0].Similarity, 1e-5)
		for i := 1; i < len(got); i++ {
			assert.GreaterOrEqual(t, *got[i-1].Similarity, *got[i].Similarity)
		}
	})

	t.Run("MaxRecords", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t, opts(2))
		put(t, b, "a", []float32{1, 0}, "")
		put(t, b, "b", []float32{0.9, 0.1}, "")
		put(t, b, "c", []float32{0, 1}, "")

		got, err := b.FindRecords(ctx, []float32{1, 0}, store.FindOpts{MaxRecords: 2})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "a", got[0].Text)
		assert.Equal(t, "b", got[1].Text)
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		b := newBackend(t, opts(3))
		put(t, b, "three", []float32{1, 2, 3}, "")

		_, err := b.FindRecords(context.Background(), []float32{1, 2}, store.FindOpts{})
		require.Error(t, err)
		assert.True(t, recallerr.IsDimensionMismatch(err))
	})

	t.Run("TagFiltering", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t, opts(2))
		put(t, b, "tagged test", []float32{1, 0}, "", "test")
		put(t, b, "tagged nix", []float32{1, 0}, "", "nix")
		put(t, b, "tagged both", []float32{0, 1}, "", "nix", "test")
		put(t, b, "tagged testing", []float32{1, 0}, "", "testing")

		got, err := b.FindRecords(ctx, []float32{1, 0}, store.FindOpts{Tags: []string{"test"}})
		require.NoError(t, err)
		var texts []string
		for _, r := range got {
			texts = append(texts, r.Text)
		}
		assert.ElementsMatch(t, []string{"tagged test", "tagged both"}, texts)
		assert.Equal(t, "tagged test", got[0].Text)
	})

	t.Run("EmptyStoreQuery", func(t *testing.T) {
		b := newBackend(t, opts(2))
		got, err := b.FindRecords(context.Background(), []float32{1, 0}, store.FindOpts{})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("Tags", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t, opts(2))
		put(t, b, "one", []float32{1, 0}, "a.md", "#go", "store")
		put(t, b, "two", []float32{0, 1}, "b.md", "go", "vector")

		tags, err := b.Tags(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"go", "store", "vector"}, tags.Strings())
		for _, tg := range tags.Tags() {
			assert.NotEmpty(t, tg.Source)
		}
	})

	t.Run("EachAndFullEach", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t, opts(2))
		mainKey := put(t, b, "in main", []float32{1, 0}, "")
		require.NoError(t, b.UseCollection("side"))
		sideKey := put(t, b, "in side", []float32{0, 1}, "")
		require.NoError(t, b.UseCollection("main"))

		var scoped []string
		require.NoError(t, b.Each(ctx, func(key string, rec *store.Record) error {
			scoped = append(scoped, key)
			assert.Equal(t, "in main", rec.Text)
			return nil
		}))
		assert.Equal(t, []string{mainKey}, scoped)

		var full []string
		require.NoError(t, b.FullEach(ctx, func(key string, _ *store.Record) error {
			full = append(full, key)
			return nil
		}))
		assert.ElementsMatch(t, []string{"test-main-" + mainKey, "test-side-" + sideKey}, full)

		names, err := b.Collections(ctx, "test-")
		require.NoError(t, err)
		assert.Equal(t, []string{"main", "side"}, names)
	})

	t.Run("UseCollectionRejectsDash", func(t *testing.T) {
		b := newBackend(t, opts(2))
		before := b.Prefix()

		err := b.UseCollection("a-b")
		require.Error(t, err)
		assert.True(t, recallerr.IsInvalidInput(err))
		assert.Equal(t, before, b.Prefix())
	})
}
