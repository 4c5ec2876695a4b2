// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package tag implements normalized record tags and the sorted,
// duplicate-free tag set used for filtering and invalidation.
package tag

import (
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// DefaultValidPattern matches a single rune allowed inside a tag.
const DefaultValidPattern = `[\p{L}\p{N}_\-]`

// Tag is a normalized tag value with an optional provenance reference.
// Equality and ordering only consider Value.
type Tag struct {
	Value  string
	Source string
}

// Normalizer strips leading '#' characters and every rune rejected by the
// valid pattern.
type Normalizer struct {
	valid *regexp.Regexp
}

var defaultNormalizer = &Normalizer{valid: regexp.MustCompile(DefaultValidPattern)}

// NewNormalizer compiles pattern, which must match exactly one valid rune.
// An empty pattern selects DefaultValidPattern.
func NewNormalizer(pattern string) (*Normalizer, error) {
	if pattern == "" {
		return defaultNormalizer, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &Normalizer{valid: re}, nil
}

// DefaultNormalizer returns the normalizer built from DefaultValidPattern.
func DefaultNormalizer() *Normalizer {
	return defaultNormalizer
}

// Normalize returns the canonical form of raw. The result may be empty.
func (n *Normalizer) Normalize(raw string) string {
	raw = strings.TrimLeft(raw, "#")
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		s := string(r)
		if n.valid.MatchString(s) {
			b.WriteString(s)
		}
	}
	return b.String()
}

// New normalizes raw with n.
func (n *Normalizer) New(raw, source string) Tag {
	return Tag{Value: n.Normalize(raw), Source: source}
}

// New builds a tag with the default normalizer.
func New(raw, source string) Tag {
	return defaultNormalizer.New(raw, source)
}

// Empty reports whether the tag normalized to nothing.
func (t Tag) Empty() bool {
	return t.Value == ""
}

// Equal compares normalized values; Source is ignored.
func (t Tag) Equal(o Tag) bool {
	return t.Value == o.Value
}

// Compare orders tags by normalized value.
func (t Tag) Compare(o Tag) int {
	return strings.Compare(t.Value, o.Value)
}

// String renders the tag as "#value", hyperlinked to its source when set.
func (t Tag) String() string {
	text := "#" + t.Value
	if t.Source == "" {
		return text
	}
	return ansi.SetHyperlink(SourceURI(t.Source)) + text + ansi.ResetHyperlink()
}

// SourceURI turns a provenance reference into a link target. References
// with a scheme pass through; local paths become absolute file:// URIs.
func SourceURI(source string) string {
	if u, err := url.Parse(source); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		return source
	}
	abs, err := filepath.Abs(source)
	if err != nil {
		abs = source
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String()
}
