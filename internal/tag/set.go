// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package tag

import (
	"slices"
	"strings"
)

// Set is a strictly sorted, duplicate-free sequence of tags. A Set is not
// safe for concurrent use and is never shared between records.
type Set struct {
	norm *Normalizer
	tags []Tag
}

// NewSet returns an empty set normalizing with n (nil selects the default).
func NewSet(n *Normalizer) *Set {
	if n == nil {
		n = defaultNormalizer
	}
	return &Set{norm: n}
}

// Of builds a set from raw values sharing one source.
func Of(source string, raw ...string) *Set {
	s := NewSet(nil)
	for _, r := range raw {
		s.Add(r, source)
	}
	return s
}

// Add normalizes raw and inserts it. Values that normalize to "" are
// dropped. When the tag is already present the first source is kept.
func (s *Set) Add(raw, source string) *Set {
	return s.AddTag(s.norm.New(raw, source))
}

// AddTag inserts an already-normalized tag.
func (s *Set) AddTag(t Tag) *Set {
	if t.Empty() {
		return s
	}
	i, found := s.search(t.Value)
	if found {
		return s
	}
	s.tags = slices.Insert(s.tags, i, t)
	return s
}

// Merge adds every tag of o.
func (s *Set) Merge(o *Set) *Set {
	if o == nil {
		return s
	}
	for _, t := range o.tags {
		s.AddTag(t)
	}
	return s
}

func (s *Set) search(value string) (int, bool) {
	return slices.BinarySearchFunc(s.tags, value, func(t Tag, v string) int {
		return strings.Compare(t.Value, v)
	})
}

// Len returns the number of tags.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.tags)
}

func (s *Set) Empty() bool {
	return s.Len() == 0
}

func (s *Set) Clear() *Set {
	s.tags = s.tags[:0]
	return s
}

// Contains reports whether a tag with the normalized form of raw exists.
func (s *Set) Contains(raw string) bool {
	if s == nil {
		return false
	}
	_, found := s.search(s.norm.Normalize(raw))
	return found
}

// Intersects reports whether s and o share at least one value.
func (s *Set) Intersects(o *Set) bool {
	if s.Empty() || o.Empty() {
		return false
	}
	i, j := 0, 0
	for i < len(s.tags) && j < len(o.tags) {
		switch c := strings.Compare(s.tags[i].Value, o.tags[j].Value); {
		case c == 0:
			return true
		case c < 0:
			i++
		default:
			j++
		}
	}
	return false
}

// Each yields tags in sorted order until fn returns false.
func (s *Set) Each(fn func(Tag) bool) {
	if s == nil {
		return
	}
	for _, t := range s.tags {
		if !fn(t) {
			return
		}
	}
}

// Tags returns a copy of the sorted tags.
func (s *Set) Tags() []Tag {
	if s == nil {
		return nil
	}
	return slices.Clone(s.tags)
}

// Strings returns the sorted normalized values.
func (s *Set) Strings() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.tags))
	for i, t := range s.tags {
		out[i] = t.Value
	}
	return out
}

// String joins the rendered tags with spaces.
func (s *Set) String() string {
	if s.Empty() {
		return ""
	}
	parts := make([]string, len(s.tags))
	for i, t := range s.tags {
		parts[i] = t.String()
	}
	return strings.Join(parts, " ")
}
