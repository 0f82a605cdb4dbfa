// Package identity derives stable, content-addressed identifiers for
// documents and their units.
//
// Both derivations are pure functions of their inputs: no randomness, no
// clock, no locale tables. Two devices that import the same source text
// compute byte-identical ids, which is what lets review state keyed by
// unit id survive re-imports and cross-device sync without coordination.
package identity

import (
	"fmt"
	"strings"
)

// fallbackSlug is returned for titles that contain no usable characters.
const fallbackSlug = "untitled"

// Slug derives a document id from its title plus optional qualifiers
// (e.g. version, collection). Qualifiers are prefixed in the order given,
// joined by hyphens:
//
//	Slug("Romans 8")                  = "romans-8"
//	Slug("Romans 8", "kjv")           = "kjv-romans-8"
//	Slug("1 Corinthians: 13!")        = "1-corinthians-13"
//
// The transformation lower-cases ASCII only, so the result is identical on
// every platform and locale.
func Slug(title string, qualifiers ...string) string {
	parts := make([]string, 0, len(qualifiers)+1)
	for _, q := range qualifiers {
		if s := slugify(q); s != "" {
			parts = append(parts, s)
		}
	}
	s := slugify(title)
	if s == "" {
		s = fallbackSlug
	}
	parts = append(parts, s)
	return strings.Join(parts, "-")
}

// slugify applies the canonical transformation to a single component:
// lower-case, strip everything but letters, digits, spaces, hyphens and
// underscores, then collapse runs of separators to single hyphens.
func slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r > 127:
			// Non-ASCII letters pass through unchanged; lower-casing them
			// would pull in locale-sensitive folding.
			b.WriteRune(r)
		case r == ' ', r == '\t', r == '\n', r == '-', r == '_':
			b.WriteRune('-')
		}
		// Everything else (punctuation, symbols) is stripped.
	}
	out := b.String()
	for strings.Contains(out, "--") {
		out = strings.ReplaceAll(out, "--", "-")
	}
	return strings.Trim(out, "-")
}

// UnitID derives a unit id from the owning document id and the unit's
// first and last body item numbers:
//
//	UnitID("romans-8", 1, 1) = "romans-8-v1"
//	UnitID("romans-8", 1, 4) = "romans-8-v1-4"
func UnitID(docID string, first, last int) string {
	if first == last {
		return fmt.Sprintf("%s-v%d", docID, first)
	}
	return fmt.Sprintf("%s-v%d-%d", docID, first, last)
}
