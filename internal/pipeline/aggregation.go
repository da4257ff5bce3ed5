// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pdiddy/novelty-engine/internal/ledger"
	"github.com/pdiddy/novelty-engine/internal/oracle"
	"github.com/pdiddy/novelty-engine/internal/stage"
)

// Aggregator runs the aggregation stage.
type Aggregator struct {
	Deps

	now func() time.Time
}

// Run asks the oracle for the final report from the classification and
// analysis outputs.
func (g *Aggregator) Run(ctx context.Context, item ledger.WorkItem) (stage.Output, error) {
	cls, err := ReadClassification(ctx, g.Outputs, item)
	if err != nil {
		return stage.Output{}, err
	}
	analysis, err := ReadAnalysis(ctx, g.Outputs, item)
	if err != nil {
		return stage.Output{}, err
	}

	kind, prompt, err := reportPrompt(cls, analysis)
	if err != nil {
		return stage.Output{}, fmt.Errorf("rendering report prompt: %w", err)
	}
	text, err := oracle.AskText(ctx, g.Oracle, g.Retry, "final report", prompt)
	if err != nil {
		return stage.Output{}, fmt.Errorf("writing final report: %w", err)
	}

	now := time.Now
	if g.now != nil {
		now = g.now
	}
	value, err := json.Marshal(Report{
		Case:        kind,
		Report:      text,
		References:  len(analysis.References),
		GeneratedAt: now().UTC(),
	})
	if err != nil {
		return stage.Output{}, fmt.Errorf("encoding report: %w", err)
	}
	g.logger().Info("final report written", "id", item.ID, "case", kind)
	return stage.Output{Value: value, Fields: map[string]string{FieldReportCase: kind}}, nil
}
