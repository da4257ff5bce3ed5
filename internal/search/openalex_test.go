// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// --- reconstructAbstract ---

func TestReconstructAbstract(t *testing.T) {
	tests := []struct {
		name  string
		index map[string][]int
		want  string
	}{
		{"empty map", map[string][]int{}, ""},
		{"nil map", nil, ""},
		{"single word", map[string][]int{"hello": {0}}, "hello"},
		{
			name: "multi-word ordered",
			index: map[string][]int{
				"We": {0}, "propose": {1}, "a": {2}, "new": {3}, "method": {4},
			},
			want: "We propose a new method",
		},
		{
			name: "repeated word",
			index: map[string][]int{
				"the": {0, 3}, "cat": {1}, "saw": {2}, "dog": {4},
			},
			want: "the cat saw the dog",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reconstructAbstract(tt.index); got != tt.want {
				t.Errorf("reconstructAbstract() = %q, want %q", got, tt.want)
			}
		})
	}
}

const sampleOpenAlexJSON = `{
  "meta": {"count": 2, "per_page": 200, "page": 1},
  "results": [
    {
      "id": "https://openalex.org/W2963403868",
      "display_name": "Attention Is All You Need",
      "doi": "https://doi.org/10.5555/3295222.3295349",
      "publication_year": 2017,
      "authorships": [
        {"author": {"display_name": "Ashish Vaswani"}},
        {"author": {"display_name": "Noam Shazeer"}}
      ],
      "abstract_inverted_index": {"We": [0], "propose": [1], "attention": [2]}
    },
    {
      "id": "https://openalex.org/W3210812345",
      "title": "BERT: Pre-training of Deep Bidirectional Transformers",
      "doi": "",
      "publication_year": 2018,
      "authorships": [],
      "abstract_inverted_index": {}
    }
  ]
}`

const emptyOpenAlexJSON = `{"meta": {"count": 0, "per_page": 200, "page": 1}, "results": []}`

func withOpenAlexServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(h)
	old := openAlexSearchBase
	openAlexSearchBase = ts.URL
	t.Cleanup(func() {
		openAlexSearchBase = old
		ts.Close()
	})
	return ts
}

func TestOpenAlexProviderSearch(t *testing.T) {
	var gotQuery, gotMailto, gotPerPage string
	ts := withOpenAlexServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("search")
		gotMailto = r.URL.Query().Get("mailto")
		gotPerPage = r.URL.Query().Get("per-page")
		fmt.Fprint(w, sampleOpenAlexJSON)
	})

	p := &OpenAlexProvider{Client: ts.Client(), Email: "test@example.com"}
	refs, err := p.Search(context.Background(), "(attention) AND (transformer)")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotQuery != "(attention) AND (transformer)" {
		t.Errorf("search param = %q, want the raw query", gotQuery)
	}
	if gotMailto != "test@example.com" {
		t.Errorf("mailto = %q", gotMailto)
	}
	if gotPerPage != "200" {
		t.Errorf("per-page = %q, want 200", gotPerPage)
	}
	if len(refs) != 2 {
		t.Fatalf("len(refs) = %d, want 2", len(refs))
	}

	r0 := refs[0]
	if r0.CanonicalID != "https://openalex.org/W2963403868" {
		t.Errorf("CanonicalID = %q", r0.CanonicalID)
	}
	if r0.Title != "Attention Is All You Need" || r0.Year != 2017 || r0.Source != "openalex" {
		t.Errorf("unexpected reference %+v", r0)
	}
	if r0.Abstract != "We propose attention" {
		t.Errorf("Abstract = %q", r0.Abstract)
	}
	if r0.Metadata == nil || r0.Metadata.DOI != "10.5555/3295222.3295349" || len(r0.Metadata.Authors) != 2 {
		t.Errorf("Metadata = %+v", r0.Metadata)
	}

	// display_name missing: title is used; no DOI or authors: no metadata.
	if refs[1].Title != "BERT: Pre-training of Deep Bidirectional Transformers" {
		t.Errorf("Title = %q", refs[1].Title)
	}
	if refs[1].Metadata != nil {
		t.Errorf("Metadata = %+v, want nil", refs[1].Metadata)
	}
}

func TestOpenAlexProviderSanitizedFallbackOnZero(t *testing.T) {
	var queries []string
	ts := withOpenAlexServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("search")
		queries = append(queries, q)
		if strings.Contains(q, "AND") {
			fmt.Fprint(w, emptyOpenAlexJSON)
			return
		}
		fmt.Fprint(w, sampleOpenAlexJSON)
	})

	p := &OpenAlexProvider{Client: ts.Client()}
	refs, err := p.Search(context.Background(), `("solid state" NEAR/3 battery) AND anode`)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("len(refs) = %d, want 2", len(refs))
	}
	if len(queries) != 2 || queries[1] != "solid state battery anode" {
		t.Errorf("queries = %q, want original then sanitized", queries)
	}
}

func TestOpenAlexProviderSanitizedFallbackOnError(t *testing.T) {
	var calls int32
	ts := withOpenAlexServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid query"}`)
			return
		}
		fmt.Fprint(w, sampleOpenAlexJSON)
	})

	p := &OpenAlexProvider{Client: ts.Client()}
	refs, err := p.Search(context.Background(), "a NEAR/2 b")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(refs) != 2 {
		t.Errorf("len(refs) = %d, want 2", len(refs))
	}
}

func TestOpenAlexProviderFallbackFails(t *testing.T) {
	ts := withOpenAlexServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	p := &OpenAlexProvider{Client: ts.Client()}
	if _, err := p.Search(context.Background(), "anything"); err == nil {
		t.Fatal("expected error when both requests fail")
	}
}

func TestOpenAlexProviderPaginatesToLimit(t *testing.T) {
	var pages []string
	ts := withOpenAlexServer(t, func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		var results []string
		for i := range 200 {
			results = append(results, fmt.Sprintf(`{"id":"https://openalex.org/W%s-%d","display_name":"t"}`, page, i))
		}
		fmt.Fprintf(w, `{"meta":{"count":1000},"results":[%s]}`, strings.Join(results, ","))
	})

	p := &OpenAlexProvider{Client: ts.Client(), Limit: 250}
	refs, err := p.Search(context.Background(), "graphene")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(refs) != 250 {
		t.Errorf("len(refs) = %d, want 250", len(refs))
	}
	if len(pages) != 2 || pages[1] != "2" {
		t.Errorf("pages = %v, want [1 2]", pages)
	}
}

func TestOpenAlexProviderTruncatesQuery(t *testing.T) {
	var got string
	ts := withOpenAlexServer(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query().Get("search")
		fmt.Fprint(w, sampleOpenAlexJSON)
	})

	p := &OpenAlexProvider{Client: ts.Client()}
	if _, err := p.Search(context.Background(), strings.Repeat("x", 1000)); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != openAlexMaxQueryLen {
		t.Errorf("len(search) = %d, want %d", len(got), openAlexMaxQueryLen)
	}
}

func TestOpenAlexProviderRetriesRateLimit(t *testing.T) {
	var calls int32
	ts := withOpenAlexServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, sampleOpenAlexJSON)
	})

	p := &OpenAlexProvider{Client: ts.Client()}
	refs, err := p.Search(context.Background(), "attention")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(refs) != 2 || atomic.LoadInt32(&calls) != 3 {
		t.Errorf("refs=%d calls=%d, want 2 refs after 3 calls", len(refs), calls)
	}
}
