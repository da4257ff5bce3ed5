// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	proximityRe = regexp.MustCompile(`(?i)\s+NEAR(?:/\d+)?\s+`)
	booleanRe   = regexp.MustCompile(`(?i)\s+(?:AND|OR|NOT)\s+`)
	groupingRe  = regexp.MustCompile(`[()"]`)
)

// Sanitize reduces a boolean query to plain keywords: proximity operators,
// grouping, quotes and AND/OR/NOT connectives are removed and whitespace is
// collapsed. Providers use it for their single fallback request.
func Sanitize(q string) string {
	q = proximityRe.ReplaceAllString(q, " ")
	q = groupingRe.ReplaceAllString(q, " ")
	q = booleanRe.ReplaceAllString(" "+q+" ", " ")
	return strings.Join(strings.Fields(q), " ")
}

// Keywords returns up to max sanitized terms from q, deduplicated
// case-insensitively in first-seen order. Terms shorter than two characters
// and boolean connectives are skipped; surrounding punctuation is trimmed.
func Keywords(q string, max int) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, f := range strings.Fields(Sanitize(q)) {
		term := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if len([]rune(term)) < 2 {
			continue
		}
		key := strings.ToLower(term)
		switch key {
		case "and", "or", "not", "near":
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, term)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

// truncateWords cuts s to at most max bytes, backing off to the last space so
// no word is split. Without a space it still never splits a rune.
func truncateWords(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	cut := s[:max]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}
