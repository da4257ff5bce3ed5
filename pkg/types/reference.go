// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the novelty-engine pipeline.
package types

// MaxAbstractLen caps the abstract carried on a Reference, in characters.
const MaxAbstractLen = 500

// Reference is one prior-art record returned by a search provider.
// References are deduplicated by CanonicalID and nothing else.
type Reference struct {
	// CanonicalID is the stable identifier used for deduplication. Each
	// provider uses a URL-like value (OpenAlex work URL, Google Patents URL,
	// Semantic Scholar paper URL, arXiv abstract URL).
	CanonicalID string `json:"canonical_id" yaml:"canonical_id"`

	// Title is the record title as returned by the provider.
	Title string `json:"title" yaml:"title"`

	// Year is the publication or grant year; zero when unknown.
	Year int `json:"year,omitempty" yaml:"year,omitempty"`

	// Abstract is the record abstract, truncated to MaxAbstractLen characters.
	Abstract string `json:"abstract" yaml:"abstract"`

	// Source names the provider that produced the record (e.g. "openalex").
	Source string `json:"source" yaml:"source"`

	// Metadata carries optional provider-specific details.
	Metadata *ReferenceMetadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ReferenceMetadata holds the optional bibliographic details some providers return.
type ReferenceMetadata struct {
	Authors      []string `json:"authors,omitempty" yaml:"authors,omitempty"`
	DOI          string   `json:"doi,omitempty" yaml:"doi,omitempty"`
	PatentNumber string   `json:"patent_number,omitempty" yaml:"patent_number,omitempty"`
	PatentDate   string   `json:"patent_date,omitempty" yaml:"patent_date,omitempty"`
}

// TruncateAbstract cuts s to MaxAbstractLen characters without splitting a
// multi-byte rune.
func TruncateAbstract(s string) string {
	return TruncateRunes(s, MaxAbstractLen)
}

// TruncateRunes returns the first n characters of s.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
