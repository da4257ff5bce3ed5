// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pdiddy/novelty-engine/internal/httputil"
	"github.com/pdiddy/novelty-engine/pkg/types"
)

// patentsViewSearchBase is the PatentsView patent search endpoint. Declared
// as a var so tests can substitute an httptest server.
var patentsViewSearchBase = "https://search.patentsview.org/api/v1/patent/"

const (
	patentsViewFields    = `["patent_id","patent_title","patent_abstract","patent_date","inventors.inventor_name_first","inventors.inventor_name_last"]`
	patentsViewMaxTokens = 12
	patentsViewUseTokens = 10
	patentsViewPhraseLen = 80
	patentsViewMaxSize   = 100
	googlePatentsURL     = "https://patents.google.com/patent/US"
)

// PatentsViewProvider queries the PatentsView patent search API. An API key
// is required; without one the provider logs a warning and returns nothing.
type PatentsViewProvider struct {
	Client    *http.Client
	APIKey    string
	UserAgent string

	// Limit caps returned records (default DefaultProviderLimit, at most 100).
	Limit int

	Logger *slog.Logger
}

// Name returns the provider identifier.
func (p *PatentsViewProvider) Name() string { return "patentsview" }

// Search converts query to keyword terms and requires all of them in the
// patent title or abstract. When that errors or matches nothing it retries
// once requiring any of them.
func (p *PatentsViewProvider) Search(ctx context.Context, query string) ([]types.Reference, error) {
	log := loggerOr(p.Logger).With("provider", p.Name())
	if p.APIKey == "" {
		log.Warn("no PatentsView API key configured, skipping")
		return nil, nil
	}

	text := patentsViewText(query)
	if text == "" {
		log.Warn("query has no usable terms", "query", query)
		return nil, nil
	}

	refs, err := p.fetch(ctx, buildPatentsViewQuery(text, "_text_all"))
	if err == nil && len(refs) > 0 {
		return refs, nil
	}
	if err != nil {
		log.Warn("query failed, retrying with any-term match", "error", err)
	} else {
		log.Info("no results, retrying with any-term match")
	}

	refs, err = p.fetch(ctx, buildPatentsViewQuery(text, "_text_any"))
	if err != nil {
		return nil, fmt.Errorf("PatentsView any-term query: %w", err)
	}
	return refs, nil
}

// patentsViewText returns the first keyword terms of query, or a short raw
// phrase when no terms survive sanitization.
func patentsViewText(query string) string {
	tokens := Keywords(query, patentsViewMaxTokens)
	if len(tokens) > patentsViewUseTokens {
		tokens = tokens[:patentsViewUseTokens]
	}
	if len(tokens) > 0 {
		return strings.Join(tokens, " ")
	}
	phrase := types.TruncateRunes(strings.TrimSpace(query), patentsViewPhraseLen)
	if utf8.RuneCountInString(phrase) < 3 {
		return ""
	}
	return phrase
}

func (p *PatentsViewProvider) fetch(ctx context.Context, q string) ([]types.Reference, error) {
	size := min(limitOr(p.Limit), patentsViewMaxSize)
	params := url.Values{
		"q": {q},
		"f": {patentsViewFields},
		"o": {fmt.Sprintf(`{"size":%d}`, size)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, patentsViewSearchBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}
	req.Header.Set("X-Api-Key", p.APIKey)

	resp, err := httputil.DoWithRetry(ctx, p.Client, req, httputil.RetryOptions{Name: p.Name(), Logger: p.Logger})
	if err != nil {
		return nil, fmt.Errorf("PatentsView API request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		return nil, fmt.Errorf("PatentsView API key rejected (HTTP 403)")
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("PatentsView rate limit exceeded (HTTP 429)")
	default:
		return nil, fmt.Errorf("PatentsView API returned HTTP %d", resp.StatusCode)
	}

	var pvr patentsViewResponse
	if err := json.NewDecoder(resp.Body).Decode(&pvr); err != nil {
		return nil, fmt.Errorf("parsing PatentsView response: %w", err)
	}

	var refs []types.Reference
	for _, patent := range pvr.Patents {
		if patent.PatentID == "" {
			continue
		}
		r := types.Reference{
			CanonicalID: googlePatentsURL + patent.PatentID,
			Title:       patent.PatentTitle,
			Abstract:    types.TruncateAbstract(patent.PatentAbstract),
			Source:      "patentsview",
			Metadata: &types.ReferenceMetadata{
				PatentNumber: patent.PatentID,
				PatentDate:   patent.PatentDate,
			},
		}
		if len(patent.PatentDate) >= 4 {
			r.Year, _ = strconv.Atoi(patent.PatentDate[:4])
		}
		for _, inv := range patent.Inventors {
			if name := formatInventor(inv); name != "" {
				r.Metadata.Authors = append(r.Metadata.Authors, name)
			}
		}
		refs = append(refs, r)
		if len(refs) >= size {
			break
		}
	}
	return refs, nil
}

// buildPatentsViewQuery returns the JSON q parameter matching text against
// patent title or abstract with the given full-text operator
// ("_text_all" or "_text_any").
func buildPatentsViewQuery(text, op string) string {
	t := escapeJSON(text)
	return fmt.Sprintf(`{"_or":[{"%s":{"patent_title":"%s"}},{"%s":{"patent_abstract":"%s"}}]}`, op, t, op, t)
}

// escapeJSON escapes a string for safe inclusion in a JSON string value.
func escapeJSON(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// formatInventor renders an inventor as "Last, F.".
func formatInventor(inv patentsViewInventor) string {
	last := strings.TrimSpace(inv.InventorNameLast)
	first := strings.TrimSpace(inv.InventorNameFirst)
	switch {
	case last == "":
		return first
	case first == "":
		return last
	default:
		r, _ := utf8.DecodeRuneInString(first)
		return fmt.Sprintf("%s, %c.", last, r)
	}
}

// PatentsView API JSON structures.
type patentsViewResponse struct {
	Patents []patentsViewPatent `json:"patents"`
	Count   int                 `json:"count"`
	Total   int                 `json:"total_hits"`
}

type patentsViewPatent struct {
	PatentID       string                `json:"patent_id"`
	PatentTitle    string                `json:"patent_title"`
	PatentAbstract string                `json:"patent_abstract"`
	PatentDate     string                `json:"patent_date"`
	Inventors      []patentsViewInventor `json:"inventors"`
}

type patentsViewInventor struct {
	InventorNameFirst string `json:"inventor_name_first"`
	InventorNameLast  string `json:"inventor_name_last"`
}
