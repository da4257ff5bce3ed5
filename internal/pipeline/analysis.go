// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pdiddy/novelty-engine/internal/ledger"
	"github.com/pdiddy/novelty-engine/internal/oracle"
	"github.com/pdiddy/novelty-engine/internal/search"
	"github.com/pdiddy/novelty-engine/internal/stage"
	"github.com/pdiddy/novelty-engine/pkg/types"
)

const (
	// structureManuscript bounds the manuscript excerpt in the structure prompt.
	structureManuscript = 8000

	minQueryLen      = 20
	fallbackQueryLen = 500
	lastResortQuery  = "prior art"
)

// Analyzer runs the analysis stage.
type Analyzer struct {
	Deps
}

type blocksData struct {
	Blocks []Block
}

// Run decomposes the invention into blocks, derives a composite search
// string from them and runs progressive prior-art search. Items classified
// without an invention get an empty, skipped analysis so they still reach
// aggregation.
func (a *Analyzer) Run(ctx context.Context, item ledger.WorkItem) (stage.Output, error) {
	log := a.logger().With("id", item.ID)

	cls, err := ReadClassification(ctx, a.Outputs, item)
	if err != nil {
		return stage.Output{}, err
	}

	if !cls.Present() {
		log.Info("no invention present, skipping analysis", "status_determination", cls.StatusDetermination)
		return encodeAnalysis(Analysis{Skipped: true, SourceCitation: cls.SourceCitation})
	}

	text, err := a.Manuscripts.Text(ctx, item)
	if err != nil {
		return stage.Output{}, err
	}
	clsJSON, err := json.Marshal(cls)
	if err != nil {
		return stage.Output{}, fmt.Errorf("encoding classification: %w", err)
	}

	prompt, err := render(structurePromptTmpl, struct{ Manuscript, Classification string }{
		Manuscript:     types.TruncateRunes(text, structureManuscript),
		Classification: string(clsJSON),
	})
	if err != nil {
		return stage.Output{}, fmt.Errorf("rendering structure prompt: %w", err)
	}
	structure, err := oracle.AskJSON[structureReply](ctx, a.Oracle, a.Retry, "source structure", prompt)
	if err != nil {
		return stage.Output{}, fmt.Errorf("building source structure: %w", err)
	}
	blocks := blocksData{Blocks: structure.SourceStructure}
	log.Info("source structure built", "blocks", len(blocks.Blocks))

	if prompt, err = render(rubricPromptTmpl, blocks); err != nil {
		return stage.Output{}, fmt.Errorf("rendering rubric prompt: %w", err)
	}
	rubric, err := oracle.AskJSON[rubricReply](ctx, a.Oracle, a.Retry, "scoring rubric", prompt)
	if err != nil {
		return stage.Output{}, fmt.Errorf("building scoring rubric: %w", err)
	}

	if prompt, err = render(synopsisPromptTmpl, blocks); err != nil {
		return stage.Output{}, fmt.Errorf("rendering synopsis prompt: %w", err)
	}
	synopsis, err := oracle.AskText(ctx, a.Oracle, a.Retry, "structure synopsis", prompt)
	if err != nil {
		return stage.Output{}, fmt.Errorf("writing structure synopsis: %w", err)
	}

	if prompt, err = render(ucsPromptTmpl, blocks); err != nil {
		return stage.Output{}, fmt.Errorf("rendering search string prompt: %w", err)
	}
	ucs, err := oracle.AskText(ctx, a.Oracle, a.Retry, "composite search string", prompt)
	if err != nil {
		return stage.Output{}, fmt.Errorf("building composite search string: %w", err)
	}
	ucs = strings.Join(strings.Fields(ucs), " ")

	query := SearchQuery(ucs, synopsis, text)
	if query != ucs {
		log.Warn("composite search string too short, using fallback query", "ucs", ucs, "query_len", len(query))
	}

	target := a.Target
	if target <= 0 {
		target = search.DefaultTarget
	}
	outcome := a.Search.Progressive(ctx, query, target)
	log.Info("prior-art search finished", "final_query", outcome.Query,
		"references", len(outcome.References), "passes", len(outcome.Attempts))

	return encodeAnalysis(Analysis{
		SourceCitation: cls.SourceCitation,
		Structure:      structure.SourceStructure,
		Rubric:         rubric.SSR,
		Synopsis:       synopsis,
		UCS:            ucs,
		Query:          query,
		FinalQuery:     outcome.Query,
		References:     outcome.References,
		Attempts:       outcome.Attempts,
	})
}

// SearchQuery picks the prior-art query: the composite search string when it
// has at least 20 characters, else the first 500 characters of the synopsis,
// else of the manuscript, else a generic query.
func SearchQuery(ucs, synopsis, manuscript string) string {
	if q := strings.TrimSpace(ucs); len(q) >= minQueryLen {
		return q
	}
	if q := strings.TrimSpace(types.TruncateRunes(strings.TrimSpace(synopsis), fallbackQueryLen)); q != "" {
		return q
	}
	if q := strings.TrimSpace(types.TruncateRunes(manuscript, fallbackQueryLen)); q != "" {
		return q
	}
	return lastResortQuery
}

func encodeAnalysis(a Analysis) (stage.Output, error) {
	if a.References == nil {
		a.References = []types.Reference{}
	}
	value, err := json.Marshal(a)
	if err != nil {
		return stage.Output{}, fmt.Errorf("encoding analysis: %w", err)
	}
	fields := map[string]string{FieldReferenceCount: strconv.Itoa(len(a.References))}
	if a.FinalQuery != "" {
		fields[FieldFinalQuery] = a.FinalQuery
	}
	return stage.Output{Value: value, Fields: fields}, nil
}
