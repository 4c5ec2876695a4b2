// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package recall adds text to a store.Backend and searches it through an
// external embedding provider.
package recall

import (
	"context"

	"github.com/sigil-dev/recall/internal/store"
	recallerr "github.com/sigil-dev/recall/pkg/errors"
)

// Embedder turns a batch of strings into one vector per string.
type Embedder interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, model string, texts []string) ([][]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return f(ctx, model, texts)
}

// Options tune a Store.
type Options struct {
	// Model is passed to the embedder unchanged.
	Model string
	// MaxRecords caps Find when the caller does not; 0 leaves only the
	// backend ceiling.
	MaxRecords int
}

// AddOpts describe the texts passed to Add.
type AddOpts struct {
	Tags   []string
	Source string
}

// Store wraps a backend with an embedder.
type Store struct {
	backend  store.Backend
	embedder Embedder
	opts     Options
}

// New returns a Store writing to b.
func New(b store.Backend, e Embedder, opts Options) *Store {
	return &Store{backend: b, embedder: e, opts: opts}
}

// Backend returns the underlying backend.
func (s *Store) Backend() store.Backend {
	return s.backend
}

func (s *Store) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := s.embedder.Embed(ctx, s.opts.Model, texts)
	if err != nil {
		return nil, recallerr.Wrap(err, recallerr.CodeEmbedUpstreamFailure, "embedding texts",
			recallerr.Field("model", s.opts.Model),
			recallerr.Field("count", len(texts)))
	}
	if len(vectors) != len(texts) {
		return nil, recallerr.New(recallerr.CodeEmbedResponseInvalid, "embedder returned the wrong number of vectors",
			recallerr.Field("want", len(texts)),
			recallerr.Field("got", len(vectors)))
	}
	return vectors, nil
}

// Add embeds texts in one batch and stores each under store.KeyFor(text).
// It returns the keys in input order. Re-adding a text replaces its record.
func (s *Store) Add(ctx context.Context, texts []string, opts AddOpts) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := s.embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = store.KeyFor(text)
		rec := store.NewRecord(text, vectors[i], opts.Source, opts.Tags...)
		if err := s.backend.Set(ctx, keys[i], rec); err != nil {
			return keys[:i], err
		}
	}
	return keys, nil
}

// Find embeds query and returns the most similar records.
func (s *Store) Find(ctx context.Context, query string, opts store.FindOpts) ([]*store.Record, error) {
	if query == "" {
		return nil, recallerr.New(recallerr.CodeEmbedRequestInvalid, "query must not be empty")
	}
	vectors, err := s.embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = s.opts.MaxRecords
	}
	return s.backend.FindRecords(ctx, vectors[0], opts)
}

// Exists reports whether text has been added.
func (s *Store) Exists(ctx context.Context, text string) (bool, error) {
	return s.backend.Exists(ctx, store.KeyFor(text))
}

// Remove deletes the record added for text.
func (s *Store) Remove(ctx context.Context, text string) (bool, error) {
	return s.backend.Delete(ctx, store.KeyFor(text))
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
