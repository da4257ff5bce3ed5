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
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pdiddy/novelty-engine/internal/httputil"
	"github.com/pdiddy/novelty-engine/pkg/types"
)

// semanticAPIBase is the Semantic Scholar paper search endpoint. Declared
// as a var so tests can substitute an httptest server.
var semanticAPIBase = "https://api.semanticscholar.org/graph/v1/paper/search"

const (
	semanticFields   = "title,abstract,authors,externalIds,year"
	semanticPaperURL = "https://www.semanticscholar.org/paper/"
	semanticMaxLimit = 100
)

// DefaultSemanticSpacing is the minimum gap between Semantic Scholar requests.
const DefaultSemanticSpacing = time.Second

// SemanticScholarProvider queries the Semantic Scholar Graph API. All
// requests made through one provider, retries included, are spaced at
// least Spacing apart.
type SemanticScholarProvider struct {
	Client    *http.Client
	APIKey    string
	UserAgent string

	// Limit caps returned records (default DefaultProviderLimit, at most 100).
	Limit int

	// Spacing is the minimum gap between requests (default DefaultSemanticSpacing).
	Spacing time.Duration

	Logger *slog.Logger

	once    sync.Once
	limiter *rate.Limiter
}

// Name returns the provider identifier.
func (p *SemanticScholarProvider) Name() string { return "semantic_scholar" }

func (p *SemanticScholarProvider) wait(ctx context.Context) error {
	p.once.Do(func() {
		spacing := p.Spacing
		if spacing <= 0 {
			spacing = DefaultSemanticSpacing
		}
		p.limiter = rate.NewLimiter(rate.Every(spacing), 1)
	})
	return p.limiter.Wait(ctx)
}

// Search runs query against Semantic Scholar, falling back once to a
// sanitized keyword query when the original errors or matches nothing.
func (p *SemanticScholarProvider) Search(ctx context.Context, query string) ([]types.Reference, error) {
	log := loggerOr(p.Logger).With("provider", p.Name())

	papers, err := p.fetch(ctx, query)
	if err == nil && len(papers) > 0 {
		return papers, nil
	}
	if err != nil {
		log.Warn("query failed, retrying with sanitized keywords", "error", err)
	} else {
		log.Info("no results, retrying with sanitized keywords")
	}

	sanitized := Sanitize(query)
	if sanitized == "" {
		return nil, err
	}
	papers, err = p.fetch(ctx, sanitized)
	if err != nil {
		return nil, fmt.Errorf("Semantic Scholar sanitized query: %w", err)
	}
	return papers, nil
}

func (p *SemanticScholarProvider) fetch(ctx context.Context, q string) ([]types.Reference, error) {
	if q == "" {
		return nil, fmt.Errorf("empty Semantic Scholar query")
	}
	limit := min(limitOr(p.Limit), semanticMaxLimit)

	params := url.Values{
		"query":  {q},
		"limit":  {strconv.Itoa(limit)},
		"fields": {semanticFields},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, semanticAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}
	if p.APIKey != "" {
		req.Header.Set("x-api-key", p.APIKey)
	}

	resp, err := httputil.DoWithRetry(ctx, p.Client, req, httputil.RetryOptions{
		Name:   p.Name(),
		Before: p.wait,
		Logger: p.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("Semantic Scholar API request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("Semantic Scholar API rejected credentials (HTTP %d)", resp.StatusCode)
	default:
		return nil, fmt.Errorf("Semantic Scholar API returned HTTP %d", resp.StatusCode)
	}

	var sr semanticResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("parsing Semantic Scholar response: %w", err)
	}

	var refs []types.Reference
	for _, paper := range sr.Data {
		if paper.PaperID == "" {
			continue
		}
		r := types.Reference{
			CanonicalID: semanticPaperURL + paper.PaperID,
			Title:       paper.Title,
			Year:        paper.Year,
			Abstract:    types.TruncateAbstract(paper.Abstract),
			Source:      "semantic_scholar",
		}
		meta := &types.ReferenceMetadata{DOI: paper.ExternalIDs.DOI}
		for _, a := range paper.Authors {
			if a.Name != "" {
				meta.Authors = append(meta.Authors, a.Name)
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

// Semantic Scholar API JSON structures.
type semanticResponse struct {
	Total  int             `json:"total"`
	Offset int             `json:"offset"`
	Data   []semanticPaper `json:"data"`
}

type semanticPaper struct {
	PaperID     string              `json:"paperId"`
	Title       string              `json:"title"`
	Abstract    string              `json:"abstract"`
	Year        int                 `json:"year"`
	Authors     []semanticAuthor    `json:"authors"`
	ExternalIDs semanticExternalIDs `json:"externalIds"`
}

type semanticAuthor struct {
	AuthorID string `json:"authorId"`
	Name     string `json:"name"`
}

type semanticExternalIDs struct {
	DOI      string `json:"DOI"`
	ArXiv    string `json:"ArXiv"`
	CorpusID int    `json:"CorpusId"`
}
