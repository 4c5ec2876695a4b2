// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"time"

	"github.com/sigil-dev/recall/internal/tag"
)

// Options are the settings shared by every backend.
type Options struct {
	Prefix Prefix
	// EmbeddingLength is the fixed vector width; 0 disables dimension checks
	// on backends that do not need it for their schema.
	EmbeddingLength int
	Normalizer      *tag.Normalizer
}

func (o Options) normalizer() *tag.Normalizer {
	if o.Normalizer == nil {
		return tag.DefaultNormalizer()
	}
	return o.Normalizer
}

// WithDefaults fills the zero fields of o.
func (o Options) WithDefaults() Options {
	o.Prefix = NewPrefix(o.Prefix.Namespace, o.Prefix.Collection)
	o.Normalizer = o.normalizer()
	return o
}

// StorageConfig controls which backend Open builds.
type StorageConfig struct {
	Backend         string // memory, redis, layered or sqlite; empty selects memory.
	Namespace       string
	Collection      string
	EmbeddingLength int
	ValidTagPattern string

	RedisURL    string
	RedisExpiry time.Duration // 0 means keys never expire.
	SQLitePath  string        // empty opens an in-memory database.
}

// Options derives backend options from the config.
func (c *StorageConfig) Options() (Options, error) {
	n, err := tag.NewNormalizer(c.ValidTagPattern)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Prefix:          NewPrefix(c.Namespace, c.Collection),
		EmbeddingLength: c.EmbeddingLength,
		Normalizer:      n,
	}.WithDefaults(), nil
}
