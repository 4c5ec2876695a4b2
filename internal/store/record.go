// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"slices"

	"github.com/sigil-dev/recall/internal/tag"
)

// Record is the persisted unit: a text fragment, its embedding and its
// metadata. Key and Similarity are attached by queries and never persisted.
type Record struct {
	Key        string    `json:"-"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding"`
	Norm       float64   `json:"norm"`
	Source     string    `json:"source,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Similarity *float64  `json:"-"`
}

// NewRecord builds a record and precomputes the embedding norm.
func NewRecord(text string, embedding []float32, source string, tags ...string) *Record {
	return &Record{
		Text:      text,
		Embedding: embedding,
		Norm:      Norm(embedding),
		Source:    source,
		Tags:      tags,
	}
}

// KeyFor returns the cache key of text: the hex SHA-256 of its bytes.
func KeyFor(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Norm returns the Euclidean norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// Equal compares records by text only.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.Text == o.Text
}

// TagSet materializes the record tags, using the record source as the
// provenance of every tag.
func (r *Record) TagSet(n *tag.Normalizer) *tag.Set {
	s := tag.NewSet(n)
	for _, t := range r.Tags {
		s.Add(t, r.Source)
	}
	return s
}

// Clone returns a deep copy so callers can attach query state freely.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Embedding = slices.Clone(r.Embedding)
	c.Tags = slices.Clone(r.Tags)
	if r.Similarity != nil {
		s := *r.Similarity
		c.Similarity = &s
	}
	return &c
}

// Prepare returns the persisted form of rec: a copy with tags normalized
// and deduplicated, the norm filled in, and query state dropped.
func Prepare(rec *Record, n *tag.Normalizer) *Record {
	c := rec.Clone()
	c.Key, c.Similarity = "", nil
	c.Tags = rec.TagSet(n).Strings()
	if len(c.Tags) == 0 {
		c.Tags = nil
	}
	if c.Norm == 0 {
		c.Norm = Norm(c.Embedding)
	}
	return c
}

func (r *Record) withSimilarity(key string, sim float64) *Record {
	c := r.Clone()
	c.Key = key
	c.Similarity = &sim
	return c
}
