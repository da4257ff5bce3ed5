// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const sampleArxivXML = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:arxiv="http://arxiv.org/schemas/atom">
  <entry>
    <id>http://arxiv.org/abs/1706.03762v7</id>
    <title>Attention Is All
      You Need</title>
    <summary>  The dominant sequence transduction models.  </summary>
    <published>2017-06-12T17:57:34Z</published>
    <arxiv:doi>10.48550/arXiv.1706.03762</arxiv:doi>
    <author><name>Ashish Vaswani</name></author>
    <author><name>Noam Shazeer</name></author>
  </entry>
  <entry>
    <id>not-an-arxiv-url</id>
    <title>Broken</title>
  </entry>
</feed>`

const emptyArxivXML = `<?xml version="1.0" encoding="UTF-8"?><feed xmlns="http://www.w3.org/2005/Atom"></feed>`

func withArxivServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(h)
	old := arxivAPIBase
	arxivAPIBase = ts.URL
	t.Cleanup(func() {
		arxivAPIBase = old
		ts.Close()
	})
	return ts
}

func TestExtractArxivID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://arxiv.org/abs/2301.07041v1", "2301.07041"},
		{"http://arxiv.org/abs/2301.07041", "2301.07041"},
		{"http://arxiv.org/abs/hep-th/9901001v2", "hep-th/9901001"},
		{"https://example.com/nothing", ""},
	}
	for _, tt := range tests {
		if got := extractArxivID(tt.in); got != tt.want {
			t.Errorf("extractArxivID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildArxivQuery(t *testing.T) {
	got := buildArxivQuery([]string{"graphene", "anode"}, "AND")
	if got != "all:graphene+AND+all:anode" {
		t.Errorf("buildArxivQuery = %q", got)
	}
}

func TestArxivProviderSearch(t *testing.T) {
	var gotQuery string
	ts := withArxivServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, sampleArxivXML)
	})

	p := &ArxivProvider{Client: ts.Client(), Spacing: time.Millisecond}
	refs, err := p.Search(context.Background(), "(attention) AND (transformer)")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !strings.Contains(gotQuery, "search_query=all:attention+AND+all:transformer") {
		t.Errorf("query = %q", gotQuery)
	}
	if len(refs) != 1 {
		t.Fatalf("len(refs) = %d, want 1", len(refs))
	}
	r := refs[0]
	if r.CanonicalID != "https://arxiv.org/abs/1706.03762" {
		t.Errorf("CanonicalID = %q", r.CanonicalID)
	}
	if r.Title != "Attention Is All You Need" {
		t.Errorf("Title = %q", r.Title)
	}
	if r.Abstract != "The dominant sequence transduction models." || r.Year != 2017 {
		t.Errorf("unexpected reference %+v", r)
	}
	if r.Metadata == nil || r.Metadata.DOI != "10.48550/arXiv.1706.03762" || len(r.Metadata.Authors) != 2 {
		t.Errorf("Metadata = %+v", r.Metadata)
	}
}

func TestArxivProviderAnyTermFallback(t *testing.T) {
	var queries []string
	ts := withArxivServer(t, func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		if strings.Contains(r.URL.RawQuery, "+AND+") {
			fmt.Fprint(w, emptyArxivXML)
			return
		}
		fmt.Fprint(w, sampleArxivXML)
	})

	p := &ArxivProvider{Client: ts.Client(), Spacing: time.Millisecond}
	refs, err := p.Search(context.Background(), "attention AND obscure")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(refs) != 1 || len(queries) != 2 || !strings.Contains(queries[1], "+OR+") {
		t.Errorf("refs=%d queries=%q", len(refs), queries)
	}
}
