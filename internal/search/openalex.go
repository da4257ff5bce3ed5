// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/pdiddy/novelty-engine/internal/httputil"
	"github.com/pdiddy/novelty-engine/pkg/types"
)

// openAlexSearchBase is the OpenAlex Works search endpoint. Declared as a
// var so tests can substitute an httptest server.
var openAlexSearchBase = "https://api.openalex.org/works"

const (
	openAlexPerPage     = 200
	openAlexMaxQueryLen = 400
	openAlexSelect      = "id,doi,title,display_name,publication_year,authorships,abstract_inverted_index"
)

// DefaultProviderLimit caps the records a provider returns for one query.
const DefaultProviderLimit = 50

// OpenAlexProvider queries the OpenAlex Works API.
type OpenAlexProvider struct {
	Client *http.Client

	// Email is sent as mailto parameter for polite pool access.
	Email string

	UserAgent string

	// Limit caps returned records (default DefaultProviderLimit).
	Limit int

	Logger *slog.Logger
}

// Name returns the provider identifier.
func (p *OpenAlexProvider) Name() string { return "openalex" }

// Search runs query against OpenAlex, falling back once to a sanitized
// keyword query when the original errors or matches nothing. Pages are
// fetched until Limit records are collected or the result set is exhausted.
func (p *OpenAlexProvider) Search(ctx context.Context, query string) ([]types.Reference, error) {
	log := loggerOr(p.Logger).With("provider", p.Name())

	searchText := types.TruncateRunes(strings.TrimSpace(query), openAlexMaxQueryLen)
	if searchText == "" {
		return nil, fmt.Errorf("empty OpenAlex query")
	}

	page, err := p.fetchPage(ctx, searchText, 1)
	if err != nil || page.Meta.Count == 0 {
		if err != nil {
			log.Warn("query failed, retrying with sanitized keywords", "error", err)
		} else {
			log.Info("no results, retrying with sanitized keywords")
		}
		searchText = truncateWords(Sanitize(query), openAlexMaxQueryLen)
		if searchText == "" {
			return nil, err
		}
		page, err = p.fetchPage(ctx, searchText, 1)
		if err != nil {
			return nil, fmt.Errorf("OpenAlex sanitized query: %w", err)
		}
	}

	limit := limitOr(p.Limit)
	pages := (page.Meta.Count + openAlexPerPage - 1) / openAlexPerPage

	var refs []types.Reference
	for pageNum := 1; ; pageNum++ {
		for _, w := range page.Results {
			if r, ok := w.reference(); ok {
				refs = append(refs, r)
				if len(refs) >= limit {
					return refs, nil
				}
			}
		}
		if len(page.Results) == 0 || pageNum >= pages {
			return refs, nil
		}
		page, err = p.fetchPage(ctx, searchText, pageNum+1)
		if err != nil {
			log.Warn("pagination stopped early", "page", pageNum+1, "error", err)
			return refs, nil
		}
	}
}

func (p *OpenAlexProvider) fetchPage(ctx context.Context, searchText string, page int) (openAlexResponse, error) {
	params := url.Values{
		"search":   {searchText},
		"per-page": {strconv.Itoa(openAlexPerPage)},
		"page":     {strconv.Itoa(page)},
		"select":   {openAlexSelect},
	}
	if p.Email != "" {
		params.Set("mailto", p.Email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openAlexSearchBase+"?"+params.Encode(), nil)
	if err != nil {
		return openAlexResponse{}, fmt.Errorf("creating request: %w", err)
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, p.Client, req, httputil.RetryOptions{Name: p.Name(), Logger: p.Logger})
	if err != nil {
		return openAlexResponse{}, fmt.Errorf("OpenAlex API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return openAlexResponse{}, fmt.Errorf("OpenAlex API returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var oar openAlexResponse
	if err := json.NewDecoder(resp.Body).Decode(&oar); err != nil {
		return openAlexResponse{}, fmt.Errorf("parsing OpenAlex response: %w", err)
	}
	return oar, nil
}

// reconstructAbstract converts OpenAlex's abstract_inverted_index back to
// plain text. The inverted index maps each word to a list of positions
// where that word appears.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, " ")
}

// OpenAlex API JSON structures.
type openAlexResponse struct {
	Meta    openAlexMeta   `json:"meta"`
	Results []openAlexWork `json:"results"`
}

type openAlexMeta struct {
	Count   int `json:"count"`
	PerPage int `json:"per_page"`
	Page    int `json:"page"`
}

type openAlexWork struct {
	ID                    string               `json:"id"`
	Title                 string               `json:"title"`
	DisplayName           string               `json:"display_name"`
	DOI                   string               `json:"doi"`
	PublicationYear       int                  `json:"publication_year"`
	Authorships           []openAlexAuthorship `json:"authorships"`
	AbstractInvertedIndex map[string][]int     `json:"abstract_inverted_index"`
}

type openAlexAuthorship struct {
	Author openAlexAuthor `json:"author"`
}

type openAlexAuthor struct {
	DisplayName string `json:"display_name"`
}

func (w openAlexWork) reference() (types.Reference, bool) {
	if w.ID == "" {
		return types.Reference{}, false
	}
	title := w.DisplayName
	if title == "" {
		title = w.Title
	}
	r := types.Reference{
		CanonicalID: w.ID,
		Title:       title,
		Year:        w.PublicationYear,
		Abstract:    types.TruncateAbstract(reconstructAbstract(w.AbstractInvertedIndex)),
		Source:      "openalex",
	}

	meta := &types.ReferenceMetadata{DOI: strings.TrimPrefix(w.DOI, "https://doi.org/")}
	for _, a := range w.Authorships {
		if a.Author.DisplayName != "" {
			meta.Authors = append(meta.Authors, a.Author.DisplayName)
		}
	}
	if meta.DOI != "" || len(meta.Authors) > 0 {
		r.Metadata = meta
	}
	return r, true
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

func limitOr(limit int) int {
	if limit <= 0 {
		return DefaultProviderLimit
	}
	return limit
}
