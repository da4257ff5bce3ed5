// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const sampleSemanticJSON = `{
  "total": 2,
  "offset": 0,
  "data": [
    {
      "paperId": "649def34f8be52c8b66281af98ae884c09aef38b",
      "title": "Attention Is All You Need",
      "abstract": "The dominant sequence transduction models are based on recurrent networks.",
      "year": 2017,
      "authors": [
        {"authorId": "1", "name": "Ashish Vaswani"},
        {"authorId": "2", "name": "Noam Shazeer"}
      ],
      "externalIds": {"DOI": "10.5555/3295222.3295349", "ArXiv": "1706.03762", "CorpusId": 13756489}
    },
    {
      "paperId": "",
      "title": "No identifier",
      "authors": []
    }
  ]
}`

func withSemanticServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(h)
	old := semanticAPIBase
	semanticAPIBase = ts.URL
	t.Cleanup(func() {
		semanticAPIBase = old
		ts.Close()
	})
	return ts
}

func TestSemanticScholarProviderSearch(t *testing.T) {
	var gotKey, gotLimit string
	ts := withSemanticServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotLimit = r.URL.Query().Get("limit")
		fmt.Fprint(w, sampleSemanticJSON)
	})

	p := &SemanticScholarProvider{Client: ts.Client(), APIKey: "secret", Spacing: time.Millisecond}
	refs, err := p.Search(context.Background(), "attention")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotKey != "secret" {
		t.Errorf("x-api-key = %q", gotKey)
	}
	if gotLimit != "50" {
		t.Errorf("limit = %q, want 50", gotLimit)
	}
	if len(refs) != 1 {
		t.Fatalf("len(refs) = %d, want 1 (paper without id skipped)", len(refs))
	}
	r := refs[0]
	if r.CanonicalID != "https://www.semanticscholar.org/paper/649def34f8be52c8b66281af98ae884c09aef38b" {
		t.Errorf("CanonicalID = %q", r.CanonicalID)
	}
	if r.Year != 2017 || r.Source != "semantic_scholar" {
		t.Errorf("unexpected reference %+v", r)
	}
	if r.Metadata == nil || r.Metadata.DOI != "10.5555/3295222.3295349" || len(r.Metadata.Authors) != 2 {
		t.Errorf("Metadata = %+v", r.Metadata)
	}
}

func TestSemanticScholarProviderLimitCapped(t *testing.T) {
	var gotLimit string
	ts := withSemanticServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		fmt.Fprint(w, sampleSemanticJSON)
	})

	p := &SemanticScholarProvider{Client: ts.Client(), Limit: 500, Spacing: time.Millisecond}
	if _, err := p.Search(context.Background(), "x"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotLimit != "100" {
		t.Errorf("limit = %q, want 100", gotLimit)
	}
}

func TestSemanticScholarProviderSanitizedFallback(t *testing.T) {
	var queries []string
	ts := withSemanticServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("query")
		queries = append(queries, q)
		if strings.Contains(q, "(") {
			fmt.Fprint(w, `{"total":0,"data":[]}`)
			return
		}
		fmt.Fprint(w, sampleSemanticJSON)
	})

	p := &SemanticScholarProvider{Client: ts.Client(), Spacing: time.Millisecond}
	refs, err := p.Search(context.Background(), `("neural" OR network) AND attention`)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(refs) != 1 {
		t.Errorf("len(refs) = %d, want 1", len(refs))
	}
	if len(queries) != 2 || queries[1] != "neural network attention" {
		t.Errorf("queries = %q", queries)
	}
}

func TestSemanticScholarProviderUnauthorized(t *testing.T) {
	var calls int32
	ts := withSemanticServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	p := &SemanticScholarProvider{Client: ts.Client(), APIKey: "bad", Spacing: time.Millisecond}
	_, err := p.Search(context.Background(), "attention")
	if err == nil || !strings.Contains(err.Error(), "credentials") {
		t.Fatalf("err = %v, want credentials error", err)
	}
	// The original query and the sanitized fallback, no 401 retries.
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestSemanticScholarProviderSpacing(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	ts := withSemanticServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		fmt.Fprint(w, sampleSemanticJSON)
	})

	spacing := 50 * time.Millisecond
	p := &SemanticScholarProvider{Client: ts.Client(), Spacing: spacing}

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Search(context.Background(), "attention"); err != nil {
				t.Errorf("Search: %v", err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(stamps) != 3 {
		t.Fatalf("requests = %d, want 3", len(stamps))
	}
	first, last := stamps[0], stamps[0]
	for _, s := range stamps {
		if s.Before(first) {
			first = s
		}
		if s.After(last) {
			last = s
		}
	}
	// Three requests need at least two full gaps; allow scheduler slack.
	if gap := last.Sub(first); gap < 2*spacing-10*time.Millisecond {
		t.Errorf("requests spread over %v, want at least %v", gap, 2*spacing)
	}
}
