// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"cmp"
	"context"
	"slices"

	"github.com/sigil-dev/recall/internal/tag"
	recallerr "github.com/sigil-dev/recall/pkg/errors"
)

// CheckDimensions fails when a needle does not match the configured
// embedding length. A length of 0 disables the check.
func CheckDimensions(needle []float32, length int) error {
	if length > 0 && len(needle) != length {
		return recallerr.New(recallerr.CodeStoreQueryDimensionMismatch,
			"needle dimension does not match embedding length",
			recallerr.Field("needle_length", len(needle)),
			recallerr.Field("embedding_length", length),
		)
	}
	return nil
}

// CosineSimilarity computes dot(a,b) / (normA*normB) using precomputed
// norms. A zero norm on either side yields 0.
func CosineSimilarity(a, b []float32, normA, normB float64) float64 {
	if normA == 0 || normB == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}

// FilterSet builds the tag filter of a query; nil when no tags were given.
func FilterSet(n *tag.Normalizer, tags []string) *tag.Set {
	if len(tags) == 0 {
		return nil
	}
	s := tag.NewSet(n)
	for _, t := range tags {
		s.Add(t, "")
	}
	return s
}

// RankRecords is the linear-scan similarity query. Candidates sharing no
// tag with opts.Tags are skipped, as are records whose embedding length
// differs from the needle. Results are sorted by descending similarity;
// ties keep enumeration order.
func RankRecords(ctx context.Context, e Enumerator, n *tag.Normalizer, needle []float32, opts FindOpts) ([]*Record, error) {
	filter := FilterSet(n, opts.Tags)
	if len(opts.Tags) > 0 && filter.Empty() {
		return nil, nil
	}
	needleNorm := Norm(needle)

	var ranked []*Record
	err := e.Each(ctx, func(key string, rec *Record) error {
		if len(rec.Embedding) != len(needle) {
			return nil
		}
		if filter != nil && !rec.TagSet(n).Intersects(filter) {
			return nil
		}
		norm := rec.Norm
		if norm == 0 {
			norm = Norm(rec.Embedding)
		}
		ranked = append(ranked, rec.withSimilarity(key, CosineSimilarity(needle, rec.Embedding, needleNorm, norm)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(ranked, func(a, b *Record) int {
		return cmp.Compare(*b.Similarity, *a.Similarity)
	})
	if opts.MaxRecords > 0 && len(ranked) > opts.MaxRecords {
		ranked = ranked[:opts.MaxRecords]
	}
	return ranked, nil
}

// TaggedKeys returns the unprefixed keys of records intersecting tags.
func TaggedKeys(ctx context.Context, e Enumerator, n *tag.Normalizer, tags []string) ([]string, error) {
	filter := FilterSet(n, tags)
	if filter.Empty() {
		return nil, nil
	}
	var keys []string
	err := e.Each(ctx, func(key string, rec *Record) error {
		if rec.TagSet(n).Intersects(filter) {
			keys = append(keys, key)
		}
		return nil
	})
	return keys, err
}

// ClearTagged deletes, by full scan, every record intersecting tags.
func ClearTagged(ctx context.Context, b interface {
	Enumerator
	Deleter
}, n *tag.Normalizer, tags []string) error {
	keys, err := TaggedKeys(ctx, b, n, tags)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if _, err := b.Delete(ctx, key); err != nil {
			return recallerr.With(err, recallerr.FieldKey(key))
		}
	}
	return nil
}

// CollectTags returns the union of the tags of every enumerated record.
func CollectTags(ctx context.Context, e Enumerator, n *tag.Normalizer) (*tag.Set, error) {
	all := tag.NewSet(n)
	err := e.Each(ctx, func(_ string, rec *Record) error {
		all.Merge(rec.TagSet(n))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// ScanCollections lists, sorted, the collection names found after
// scanPrefix across all physical keys.
func ScanCollections(ctx context.Context, f FullEnumerator, scanPrefix string) ([]string, error) {
	seen := map[string]struct{}{}
	err := f.FullEach(ctx, func(key string, _ *Record) error {
		if name, ok := CollectionOf(key, scanPrefix); ok {
			seen[name] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sortedNames(seen), nil
}

// CollectionsFromKeys is ScanCollections over an already-listed key set.
func CollectionsFromKeys(keys []string, scanPrefix string) []string {
	seen := map[string]struct{}{}
	for _, key := range keys {
		if name, ok := CollectionOf(key, scanPrefix); ok {
			seen[name] = struct{}{}
		}
	}
	return sortedNames(seen)
}

func sortedNames(seen map[string]struct{}) []string {
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
