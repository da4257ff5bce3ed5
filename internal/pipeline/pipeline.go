// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline holds the manuscript novelty stages. Classification
// decides whether a manuscript discloses an invention, analysis turns the
// invention into a structured search and runs progressive prior-art search,
// and aggregation asks for the final report. Each stage reads earlier
// outputs from the ledger and returns its own as JSON.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pdiddy/novelty-engine/internal/backoff"
	"github.com/pdiddy/novelty-engine/internal/ledger"
	"github.com/pdiddy/novelty-engine/internal/oracle"
	"github.com/pdiddy/novelty-engine/internal/search"
	"github.com/pdiddy/novelty-engine/internal/stage"
)

// Stage names, which are also the hand-off queue topics.
const (
	StageClassification = "classification"
	StageAnalysis       = "analysis"
	StageAggregation    = "aggregation"
)

// Output fields.
const (
	FieldClassification      = "classification"
	FieldAnalysis            = "analysis"
	FieldReport              = "report"
	FieldStatusDetermination = "status_determination"
	FieldFinalQuery          = "final_query"
	FieldReferenceCount      = "reference_count"
	FieldReportCase          = "report_case"
)

// Searcher runs a progressive search. *search.Orchestrator implements it.
type Searcher interface {
	Progressive(ctx context.Context, query string, target int) search.Outcome
}

// OutputReader reads a stage output from an item, following overflow
// pointers. ledger.Overflow implements it.
type OutputReader interface {
	Read(ctx context.Context, item ledger.WorkItem, field string) ([]byte, error)
}

// Deps are the collaborators shared by the stages.
type Deps struct {
	Oracle      oracle.Oracle
	Search      Searcher
	Manuscripts ManuscriptSource
	Outputs     OutputReader

	// Retry bounds each oracle exchange, parse failures included.
	Retry backoff.Policy

	// Target is the progressive search target. Zero means search.DefaultTarget.
	Target int

	Logger *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Stages returns the three stage definitions wired to deps, in pipeline order.
func Stages(d Deps) []stage.Stage {
	return []stage.Stage{
		{
			Name:        StageClassification,
			Requires:    ledger.StatusQueued,
			Running:     ledger.StatusClassifying,
			Produces:    ledger.StatusClassified,
			Next:        StageAnalysis,
			OutputField: FieldClassification,
			Logic:       &Classifier{Deps: d},
		},
		{
			Name:        StageAnalysis,
			Requires:    ledger.StatusClassified,
			Running:     ledger.StatusAnalyzing,
			Produces:    ledger.StatusAssessed,
			Next:        StageAggregation,
			OutputField: FieldAnalysis,
			Logic:       &Analyzer{Deps: d},
		},
		{
			Name:        StageAggregation,
			Requires:    ledger.StatusAssessed,
			Running:     ledger.StatusAssessed,
			Produces:    ledger.StatusCompleted,
			OutputField: FieldReport,
			Logic:       &Aggregator{Deps: d},
		},
	}
}

// readOutput decodes a JSON stage output stored on item.
func readOutput[T any](ctx context.Context, r OutputReader, item ledger.WorkItem, field string) (T, error) {
	var out T
	data, err := r.Read(ctx, item, field)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("parsing %s output: %w", field, err)
	}
	return out, nil
}

// ReadClassification returns the item's classification output.
func ReadClassification(ctx context.Context, r OutputReader, item ledger.WorkItem) (Classification, error) {
	return readOutput[Classification](ctx, r, item, FieldClassification)
}

// ReadAnalysis returns the item's analysis output.
func ReadAnalysis(ctx context.Context, r OutputReader, item ledger.WorkItem) (Analysis, error) {
	return readOutput[Analysis](ctx, r, item, FieldAnalysis)
}

// ReadReport returns the item's final report.
func ReadReport(ctx context.Context, r OutputReader, item ledger.WorkItem) (Report, error) {
	return readOutput[Report](ctx, r, item, FieldReport)
}
