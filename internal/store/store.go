// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package store defines the backend contract for embedding records and the
// default algorithms shared by backends without native vector indexing.
package store

import (
	"context"

	"github.com/sigil-dev/recall/internal/tag"
)

// MaxFindRecords is the hard ceiling on records returned by one query.
const MaxFindRecords = 4096

// EachFunc receives a key and its record. Returning an error stops the
// enumeration and is passed back to the caller.
type EachFunc func(key string, rec *Record) error

// FindOpts narrows a similarity query.
type FindOpts struct {
	// Tags restricts candidates to records sharing at least one tag.
	Tags []string
	// MaxRecords caps the result; 0 means no cap beyond MaxFindRecords
	// for backends that enforce one.
	MaxRecords int
}

// Backend is the uniform operation set every storage substrate exposes.
// Keys passed to point operations are unprefixed; the backend applies its
// active Prefix. Get reports a missing key with ok=false, never an error.
type Backend interface {
	Get(ctx context.Context, key string) (rec *Record, ok bool, err error)
	Set(ctx context.Context, key string, rec *Record) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) (bool, error)

	// Size counts records under the active prefix.
	Size(ctx context.Context) (int, error)
	// Clear deletes records intersecting any of tags, or every record under
	// the active prefix when tags is empty.
	Clear(ctx context.Context, tags ...string) error

	// Each enumerates records under the active prefix with unprefixed keys.
	Each(ctx context.Context, fn EachFunc) error
	// FullEach enumerates records of every collection with physical keys.
	FullEach(ctx context.Context, fn EachFunc) error
	// Collections lists distinct collection names found between scanPrefix
	// and the following dash.
	Collections(ctx context.Context, scanPrefix string) ([]string, error)
	// Tags returns the union of tags under the active prefix.
	Tags(ctx context.Context) (*tag.Set, error)

	FindRecords(ctx context.Context, needle []float32, opts FindOpts) ([]*Record, error)

	Prefix() Prefix
	// UseCollection switches the active collection; no data moves. Names
	// containing a dash are rejected.
	UseCollection(name string) error
	Close() error
}

// Enumerator is the part of Backend the default algorithms need to scan.
type Enumerator interface {
	Each(ctx context.Context, fn EachFunc) error
}

// FullEnumerator scans across every collection.
type FullEnumerator interface {
	FullEach(ctx context.Context, fn EachFunc) error
}

// Deleter removes one key under the active prefix.
type Deleter interface {
	Delete(ctx context.Context, key string) (bool, error)
}
