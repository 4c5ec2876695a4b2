// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"strings"

	recallerr "github.com/sigil-dev/recall/pkg/errors"
)

// Default partition names.
const (
	DefaultNamespace  = "recall"
	DefaultCollection = "default"
)

// Prefix partitions one physical store into collections. It renders as
// "<namespace>-<collection>-".
type Prefix struct {
	Namespace  string
	Collection string
}

// NewPrefix fills empty parts with the defaults.
func NewPrefix(namespace, collection string) Prefix {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if collection == "" {
		collection = DefaultCollection
	}
	return Prefix{Namespace: namespace, Collection: collection}
}

func (p Prefix) String() string {
	return p.Namespace + "-" + p.Collection + "-"
}

// Scan is the prefix shared by every collection of the namespace.
func (p Prefix) Scan() string {
	return p.Namespace + "-"
}

// CheckPart rejects a namespace or collection name containing a dash,
// which would make physical keys ambiguous to CollectionOf.
func CheckPart(field, name string) error {
	if strings.Contains(name, "-") {
		return recallerr.New(recallerr.CodeConfigValidateInvalidValue, field+" must not contain '-'",
			recallerr.Field(field, name))
	}
	return nil
}

// WithCollection switches collection without touching any data.
func (p Prefix) WithCollection(collection string) Prefix {
	return NewPrefix(p.Namespace, collection)
}

// Key prepends the prefix to key.
func (p Prefix) Key(key string) string {
	return p.String() + key
}

// Strip removes the prefix from a physical key. ok is false when the key
// belongs to another collection.
func (p Prefix) Strip(physical string) (string, bool) {
	return strings.CutPrefix(physical, p.String())
}

// CollectionOf extracts the collection name that follows scanPrefix in a
// physical key, up to the next dash.
func CollectionOf(physical, scanPrefix string) (string, bool) {
	rest, ok := strings.CutPrefix(physical, scanPrefix)
	if !ok {
		return "", false
	}
	name, _, found := strings.Cut(rest, "-")
	if !found || name == "" {
		return "", false
	}
	return name, true
}
