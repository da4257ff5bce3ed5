// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"io"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/novelty-engine/pkg/types"
)

// CSLItem represents a bibliographic entry in CSL (Citation Style Language)
// format. The field names and structure follow the CSL-JSON/CSL-YAML schema
// so that output is consumable by Pandoc and reference managers.
type CSLItem struct {
	ID        string    `yaml:"id"`
	Type      string    `yaml:"type"`
	Title     string    `yaml:"title"`
	Author    []CSLName `yaml:"author,omitempty"`
	Abstract  string    `yaml:"abstract,omitempty"`
	Issued    *CSLDate  `yaml:"issued,omitempty"`
	DOI       string    `yaml:"DOI,omitempty"`
	URL       string    `yaml:"URL,omitempty"`
	Number    string    `yaml:"number,omitempty"`
	Authority string    `yaml:"authority,omitempty"`
}

// CSLName represents a person's name in CSL format.
type CSLName struct {
	Family  string `yaml:"family,omitempty"`
	Given   string `yaml:"given,omitempty"`
	Literal string `yaml:"literal,omitempty"`
}

// CSLDate represents a date in CSL format using date-parts.
type CSLDate struct {
	DateParts [][]int `yaml:"date-parts"`
}

// FormatCSL writes the references of a search outcome as a CSL-YAML list to w.
func FormatCSL(out Outcome, w io.Writer) error {
	items := make([]CSLItem, len(out.References))
	for i, r := range out.References {
		items[i] = toCSLItem(r)
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(items)
}

// toCSLItem converts a Reference to a CSLItem.
func toCSLItem(r types.Reference) CSLItem {
	item := CSLItem{
		ID:       r.CanonicalID,
		Type:     "article-journal",
		Title:    r.Title,
		Abstract: r.Abstract,
		URL:      r.CanonicalID,
	}

	if r.Year > 0 {
		item.Issued = &CSLDate{DateParts: [][]int{{r.Year}}}
	}

	if m := r.Metadata; m != nil {
		for _, a := range m.Authors {
			if n := parseAuthorName(a); n != (CSLName{}) {
				item.Author = append(item.Author, n)
			}
		}
		item.DOI = m.DOI
		if m.PatentNumber != "" {
			item.Type = "patent"
			item.Number = "US" + m.PatentNumber
			item.Authority = "United States Patent and Trademark Office"
		}
	}

	return item
}

// parseAuthorName splits a name into CSL family/given parts. "Last, F."
// names split on the comma; otherwise the last space separates given from
// family. Single-token names use the literal field.
func parseAuthorName(name string) CSLName {
	name = strings.TrimSpace(name)
	if name == "" {
		return CSLName{}
	}
	if family, given, ok := strings.Cut(name, ","); ok {
		return CSLName{Family: strings.TrimSpace(family), Given: strings.TrimSpace(given)}
	}
	idx := strings.LastIndex(name, " ")
	if idx < 0 {
		return CSLName{Literal: name}
	}
	return CSLName{
		Given:  name[:idx],
		Family: name[idx+1:],
	}
}
