// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package search runs progressive multi-source prior-art searches. A query is
// first sent to every provider as written; while fewer than the target number
// of unique references have been found, top-level AND clauses are dropped one
// at a time (in their original order) and the broadened query is re-issued.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/novelty-engine/pkg/types"
)

// DefaultTarget is the number of unique references progressive search aims for.
const DefaultTarget = 5

// Provider searches a single external source. Implementations absorb
// transient failures themselves; an error return is logged by the
// orchestrator and treated as zero results.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string) ([]types.Reference, error)
}

// ProviderCount records what one provider returned during a pass.
type ProviderCount struct {
	Provider string `json:"provider" yaml:"provider"`
	Count    int    `json:"count" yaml:"count"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Attempt records one fan-out pass.
type Attempt struct {
	Query string `json:"query" yaml:"query"`

	// Removed is the index of the clause dropped for this pass, or -1 for
	// the full query.
	Removed int `json:"removed" yaml:"removed"`

	Counts []ProviderCount `json:"counts" yaml:"counts"`

	// Added is the number of references this pass contributed after dedup.
	Added int `json:"added" yaml:"added"`

	// Total is the accumulated unique count after this pass.
	Total int `json:"total" yaml:"total"`
}

// Outcome is the result of a progressive search.
type Outcome struct {
	// Query is the last query that contributed new references, or the full
	// query when no broadened query did.
	Query string `json:"final_query" yaml:"final_query"`

	References []types.Reference `json:"references" yaml:"references"`
	Attempts   []Attempt         `json:"attempts" yaml:"attempts"`
}

// Orchestrator fans queries out to a fixed set of providers.
type Orchestrator struct {
	providers []Provider
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracer sets the tracer used for pass and search spans. Defaults to a
// no-op tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// NewOrchestrator returns an orchestrator over providers. Provider order
// determines the order of references within a pass.
func NewOrchestrator(providers []Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		providers: providers,
		logger:    slog.Default(),
		tracer:    noop.NewTracerProvider().Tracer("novelty-engine/search"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Providers returns the names of the configured providers, in order.
func (o *Orchestrator) Providers() []string {
	names := make([]string, len(o.providers))
	for i, p := range o.providers {
		names[i] = p.Name()
	}
	return names
}

// Progressive runs the full query, then single-clause ablations, until at
// least target unique references are accumulated or every clause has been
// tried once. A query with n top-level clauses costs at most n+1 passes.
// Provider failures never fail the search; an empty result is valid.
func (o *Orchestrator) Progressive(ctx context.Context, query string, target int) Outcome {
	if target <= 0 {
		target = DefaultTarget
	}
	query = CleanQuery(query)

	ctx, span := o.tracer.Start(ctx, "search.progressive", trace.WithAttributes(
		attribute.String("search.query", query),
		attribute.Int("search.target", target),
	))
	defer span.End()

	out := Outcome{Query: query}
	if query == "" {
		o.logger.Warn("progressive search called with empty query")
		return out
	}

	acc := newAccumulator()
	o.pass(ctx, &out, acc, query, -1)

	clauses := SplitClauses(query)
	if acc.len() < target && len(clauses) <= 1 {
		o.logger.Info("query has a single clause, cannot broaden", "total", acc.len(), "target", target)
	}
	if len(clauses) > 1 {
		for i := range clauses {
			if acc.len() >= target || ctx.Err() != nil {
				break
			}
			broadened := strings.Join(without(clauses, i), " AND ")
			if o.pass(ctx, &out, acc, broadened, i) > 0 {
				out.Query = broadened
			}
		}
	}

	out.References = acc.refs
	span.SetAttributes(
		attribute.Int("search.passes", len(out.Attempts)),
		attribute.Int("search.total", acc.len()),
	)
	o.logger.Info("progressive search finished",
		"passes", len(out.Attempts), "total", acc.len(), "target", target, "final_query", out.Query)
	return out
}

// pass runs one fan-out, folds the results into acc and returns the number
// of newly added references.
func (o *Orchestrator) pass(ctx context.Context, out *Outcome, acc *accumulator, query string, removed int) int {
	refs, counts := o.fanOut(ctx, query)
	added := acc.add(refs)
	out.Attempts = append(out.Attempts, Attempt{
		Query:   query,
		Removed: removed,
		Counts:  counts,
		Added:   added,
		Total:   acc.len(),
	})
	o.logger.Info("search pass complete",
		"pass", len(out.Attempts), "removed_clause", removed, "added", added, "total", acc.len(), "query", query)
	return added
}

// fanOut issues query to every provider concurrently and merges their
// results in provider order once all have returned.
func (o *Orchestrator) fanOut(ctx context.Context, query string) ([]types.Reference, []ProviderCount) {
	ctx, span := o.tracer.Start(ctx, "search.pass", trace.WithAttributes(
		attribute.String("search.query", query),
		attribute.Int("search.providers", len(o.providers)),
	))
	defer span.End()

	results := make([][]types.Reference, len(o.providers))
	errs := make([]error, len(o.providers))

	var g errgroup.Group
	for i, p := range o.providers {
		g.Go(func() error {
			results[i], errs[i] = p.Search(ctx, query)
			return nil
		})
	}
	_ = g.Wait()

	var merged []types.Reference
	counts := make([]ProviderCount, len(o.providers))
	for i, p := range o.providers {
		counts[i] = ProviderCount{Provider: p.Name(), Count: len(results[i])}
		if errs[i] != nil {
			counts[i] = ProviderCount{Provider: p.Name(), Error: errs[i].Error()}
			o.logger.Warn("provider failed", "provider", p.Name(), "error", errs[i])
			continue
		}
		merged = append(merged, results[i]...)
	}
	return merged, counts
}

// accumulator keeps unique references in first-seen order.
type accumulator struct {
	seen map[string]struct{}
	refs []types.Reference
}

func newAccumulator() *accumulator {
	return &accumulator{seen: make(map[string]struct{})}
}

func (a *accumulator) len() int { return len(a.refs) }

func (a *accumulator) add(refs []types.Reference) int {
	added := 0
	for _, r := range refs {
		if r.CanonicalID == "" {
			continue
		}
		if _, ok := a.seen[r.CanonicalID]; ok {
			continue
		}
		a.seen[r.CanonicalID] = struct{}{}
		a.refs = append(a.refs, r)
		added++
	}
	return added
}

// CleanQuery trims whitespace and removes one pair of wrapping double quotes
// when the quotes enclose the whole query.
func CleanQuery(q string) string {
	q = strings.TrimSpace(q)
	if len(q) >= 2 && q[0] == '"' && q[len(q)-1] == '"' && !strings.Contains(q[1:len(q)-1], `"`) {
		q = strings.TrimSpace(q[1 : len(q)-1])
	}
	return q
}

// SplitClauses splits a boolean query into its top-level AND clauses.
// Separators are " AND " matched case-insensitively outside double quotes and
// outside parentheses. Clauses are trimmed; empty clauses are dropped.
func SplitClauses(query string) []string {
	const sep = " AND "

	var clauses []string
	var b strings.Builder
	depth := 0
	inQuotes := false

	flush := func() {
		if c := strings.TrimSpace(b.String()); c != "" {
			clauses = append(clauses, c)
		}
		b.Reset()
	}

	for i := 0; i < len(query); {
		c := query[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
		case c == '(' && !inQuotes:
			depth++
		case c == ')' && !inQuotes && depth > 0:
			depth--
		case c == ' ' && !inQuotes && depth == 0 &&
			len(query)-i >= len(sep) && strings.EqualFold(query[i:i+len(sep)], sep):
			flush()
			i += len(sep)
			continue
		}
		b.WriteByte(c)
		i++
	}
	flush()
	return clauses
}

func without(clauses []string, skip int) []string {
	out := make([]string, 0, len(clauses)-1)
	for i, c := range clauses {
		if i != skip {
			out = append(out, c)
		}
	}
	return out
}

// FormatTable writes references as a human-readable table to w.
func FormatTable(out Outcome, w io.Writer) {
	for i, a := range out.Attempts {
		fmt.Fprintf(w, "pass %d: +%d (total %d) %s\n", i+1, a.Added, a.Total, a.Query)
	}
	if len(out.Attempts) > 0 {
		fmt.Fprintln(w)
	}

	if len(out.References) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}

	fmt.Fprintf(w, "%-4s  %-60s  %-20s  %-4s  %-17s  %s\n",
		"Rank", "Title", "Authors", "Year", "Source", "ID")
	fmt.Fprintln(w, strings.Repeat("-", 130))

	for i, r := range out.References {
		year := ""
		if r.Year > 0 {
			year = fmt.Sprintf("%d", r.Year)
		}
		fmt.Fprintf(w, "%-4d  %-60s  %-20s  %-4s  %-17s  %s\n",
			i+1, truncate(r.Title, 60), formatAuthors(authorsOf(r)), year, r.Source, r.CanonicalID)
	}

	fmt.Fprintf(w, "\n%d results (final query: %s)\n", len(out.References), out.Query)
}

// FormatJSON writes the outcome as indented JSON to w.
func FormatJSON(out Outcome, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func authorsOf(r types.Reference) []string {
	if r.Metadata == nil {
		return nil
	}
	return r.Metadata.Authors
}

func formatAuthors(authors []string) string {
	switch len(authors) {
	case 0:
		return ""
	case 1:
		return truncate(authors[0], 20)
	default:
		return truncate(authors[0], 14) + " et al."
	}
}

func truncate(s string, max int) string {
	if len([]rune(s)) <= max {
		return s
	}
	return types.TruncateRunes(s, max-3) + "..."
}
