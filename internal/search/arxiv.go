// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pdiddy/novelty-engine/internal/httputil"
	"github.com/pdiddy/novelty-engine/pkg/types"
)

// arxivAPIBase is the arXiv search endpoint. Declared as a var so tests
// can substitute an httptest server.
var arxivAPIBase = "https://export.arxiv.org/api/query"

// DefaultArxivSpacing is the gap the arXiv API terms of use ask for between calls.
const DefaultArxivSpacing = 3 * time.Second

const arxivAbsURL = "https://arxiv.org/abs/"

// ArxivProvider queries the arXiv Atom API. The boolean query is reduced
// to keyword terms, all of which must match; when that fails or matches
// nothing, any term may match.
type ArxivProvider struct {
	Client    *http.Client
	UserAgent string

	// Limit caps returned records (default DefaultProviderLimit).
	Limit int

	// Spacing is the minimum gap between requests (default DefaultArxivSpacing).
	Spacing time.Duration

	Logger *slog.Logger

	once    sync.Once
	limiter *rate.Limiter
}

// Name returns the provider identifier.
func (p *ArxivProvider) Name() string { return "arxiv" }

func (p *ArxivProvider) wait(ctx context.Context) error {
	p.once.Do(func() {
		spacing := p.Spacing
		if spacing <= 0 {
			spacing = DefaultArxivSpacing
		}
		p.limiter = rate.NewLimiter(rate.Every(spacing), 1)
	})
	return p.limiter.Wait(ctx)
}

// Search runs query against arXiv.
func (p *ArxivProvider) Search(ctx context.Context, query string) ([]types.Reference, error) {
	log := loggerOr(p.Logger).With("provider", p.Name())

	terms := Keywords(query, patentsViewMaxTokens)
	if len(terms) == 0 {
		return nil, fmt.Errorf("empty arXiv query")
	}

	refs, err := p.fetch(ctx, buildArxivQuery(terms, "AND"))
	if err == nil && len(refs) > 0 {
		return refs, nil
	}
	if len(terms) == 1 {
		return refs, err
	}
	if err != nil {
		log.Warn("query failed, retrying with any-term match", "error", err)
	} else {
		log.Info("no results, retrying with any-term match")
	}

	refs, err = p.fetch(ctx, buildArxivQuery(terms, "OR"))
	if err != nil {
		return nil, fmt.Errorf("arXiv any-term query: %w", err)
	}
	return refs, nil
}

func (p *ArxivProvider) fetch(ctx context.Context, q string) ([]types.Reference, error) {
	limit := limitOr(p.Limit)
	reqURL := fmt.Sprintf("%s?search_query=%s&start=0&max_results=%d&sortBy=relevance&sortOrder=descending",
		arxivAPIBase, q, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, p.Client, req, httputil.RetryOptions{
		Name:   p.Name(),
		Before: p.wait,
		Logger: p.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("arXiv API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arXiv API returned HTTP %d", resp.StatusCode)
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("parsing arXiv response: %w", err)
	}

	var refs []types.Reference
	for _, entry := range feed.Entries {
		arxivID := extractArxivID(entry.ID)
		if arxivID == "" {
			continue
		}
		r := types.Reference{
			CanonicalID: arxivAbsURL + arxivID,
			Title:       strings.Join(strings.Fields(entry.Title), " "),
			Abstract:    types.TruncateAbstract(strings.TrimSpace(entry.Summary)),
			Source:      "arxiv",
		}
		if t, parseErr := time.Parse(time.RFC3339, entry.Published); parseErr == nil {
			r.Year = t.Year()
		}
		meta := &types.ReferenceMetadata{DOI: strings.TrimSpace(entry.DOI)}
		for _, a := range entry.Authors {
			if name := strings.TrimSpace(a.Name); name != "" {
				meta.Authors = append(meta.Authors, name)
			}
		}
		if meta.DOI != "" || len(meta.Authors) > 0 {
			r.Metadata = meta
		}
		refs = append(refs, r)
		if len(refs) >= limit {
			break
		}
	}
	return refs, nil
}

// buildArxivQuery joins terms into a search_query value, each term matched
// against all fields and combined with op ("AND" or "OR").
func buildArxivQuery(terms []string, op string) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = "all:" + url.QueryEscape(t)
	}
	return strings.Join(parts, "+"+op+"+")
}

// arXiv Atom feed XML structures.
type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID        string        `xml:"id"`
	Title     string        `xml:"title"`
	Summary   string        `xml:"summary"`
	Published string        `xml:"published"`
	DOI       string        `xml:"http://arxiv.org/schemas/atom doi"`
	Authors   []arxivAuthor `xml:"author"`
}

type arxivAuthor struct {
	Name string `xml:"name"`
}

// extractArxivID pulls the arXiv ID from the entry's <id> URL
// (e.g. "http://arxiv.org/abs/2301.07041v1" -> "2301.07041").
func extractArxivID(idURL string) string {
	const prefix = "/abs/"
	idx := strings.Index(idURL, prefix)
	if idx < 0 {
		return ""
	}
	id := idURL[idx+len(prefix):]

	// Strip version suffix (e.g. "v1", "v2").
	if vIdx := strings.LastIndex(id, "v"); vIdx > 0 {
		if _, err := strconv.Atoi(id[vIdx+1:]); err == nil {
			id = id[:vIdx]
		}
	}
	return id
}
