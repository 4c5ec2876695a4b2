// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/sigil-dev/recall/internal/tag"
)

// Compile-time interface check.
var _ Backend = (*MemoryBackend)(nil)

type memEntry struct {
	rec *Record
	seq uint64
}

// MemoryBackend is a process-local store keyed by physical key. Nothing
// survives a restart. Enumeration follows insertion order.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	seq     uint64
	opts    Options
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend(opts Options) *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memEntry),
		opts:    opts.WithDefaults(),
	}
}

func (m *MemoryBackend) Prefix() Prefix {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opts.Prefix
}

// UseCollection switches the active collection.
func (m *MemoryBackend) UseCollection(name string) error {
	if err := CheckPart("collection", name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts.Prefix = m.opts.Prefix.WithCollection(name)
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, key string) (*Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[m.opts.Prefix.Key(key)]
	if !ok {
		return nil, false, nil
	}
	rec := e.rec.Clone()
	rec.Key = key
	return rec, true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, rec *Record) error {
	m.PutRaw(m.Prefix().Key(key), Prepare(rec, m.opts.Normalizer))
	return nil
}

// PutRaw stores rec under a physical key, bypassing the active prefix.
func (m *MemoryBackend) PutRaw(physical string, rec *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := rec.Clone()
	c.Key, c.Similarity = "", nil
	if e, ok := m.entries[physical]; ok {
		m.entries[physical] = memEntry{rec: c, seq: e.seq}
		return
	}
	m.seq++
	m.entries[physical] = memEntry{rec: c, seq: m.seq}
}

func (m *MemoryBackend) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[m.opts.Prefix.Key(key)]
	return ok, nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) (bool, error) {
	return m.DeleteRaw(m.Prefix().Key(key)), nil
}

// DeleteRaw removes a physical key and reports whether it existed.
func (m *MemoryBackend) DeleteRaw(physical string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[physical]
	delete(m.entries, physical)
	return ok
}

func (m *MemoryBackend) Size(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := m.opts.Prefix.String()
	n := 0
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryBackend) Clear(ctx context.Context, tags ...string) error {
	if len(tags) > 0 {
		return ClearTagged(ctx, m, m.opts.Normalizer, tags)
	}
	m.ClearAllWithPrefix()
	return nil
}

// ClearAllWithPrefix removes exactly the keys under the active prefix.
func (m *MemoryBackend) ClearAllWithPrefix() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := m.opts.Prefix.String()
	n := 0
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

type memItem struct {
	key string
	rec *Record
	seq uint64
}

// snapshot copies matching entries so callbacks may mutate the backend.
func (m *MemoryBackend) snapshot(prefix string) []memItem {
	m.mu.RLock()
	items := make([]memItem, 0, len(m.entries))
	for k, e := range m.entries {
		if strings.HasPrefix(k, prefix) {
			items = append(items, memItem{key: k, rec: e.rec, seq: e.seq})
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(items, func(a, b memItem) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return items
}

func (m *MemoryBackend) Each(ctx context.Context, fn EachFunc) error {
	prefix := m.Prefix().String()
	for _, it := range m.snapshot(prefix) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(strings.TrimPrefix(it.key, prefix), it.rec.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryBackend) FullEach(ctx context.Context, fn EachFunc) error {
	for _, it := range m.snapshot("") {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(it.key, it.rec.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryBackend) Collections(ctx context.Context, scanPrefix string) ([]string, error) {
	return ScanCollections(ctx, m, scanPrefix)
}

func (m *MemoryBackend) Tags(ctx context.Context) (*tag.Set, error) {
	return CollectTags(ctx, m, m.opts.Normalizer)
}

func (m *MemoryBackend) FindRecords(ctx context.Context, needle []float32, opts FindOpts) ([]*Record, error) {
	if err := CheckDimensions(needle, m.opts.EmbeddingLength); err != nil {
		return nil, err
	}
	return RankRecords(ctx, m, m.opts.Normalizer, needle, opts)
}

func (m *MemoryBackend) Close() error { return nil }
