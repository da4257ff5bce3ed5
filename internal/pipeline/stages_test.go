// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/novelty-engine/internal/ledger"
	"github.com/pdiddy/novelty-engine/internal/search"
	"github.com/pdiddy/novelty-engine/internal/stage"
)

func TestClassificationRetriesMalformedOutput(t *testing.T) {
	ctx := context.Background()
	o := newScriptedOracle("Here is my classification:", "Sorry, I cannot", `{"status_determination": Present}`, "```json\n"+presentJSON+"\n```")
	f := newFixture(t, o)
	f.seed(t, "item-1", ledger.StatusQueued, nil)

	out, err := f.coordinator(nil).Run(ctx, StageClassification, "item-1")
	require.NoError(t, err)
	assert.Equal(t, stage.OutcomeCompleted, out)
	assert.Equal(t, 4, o.Calls("classification"))

	item, err := f.ledger.Get(ctx, stage.DefaultPartition, "item-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusClassified, item.Status)
	assert.Equal(t, DeterminationPresent, item.Field(FieldStatusDetermination))

	cls, err := ReadClassification(ctx, f.overflow, item)
	require.NoError(t, err)
	assert.Equal(t, []string{"Impeller", "Controller"}, cls.SourceStructure)
}

func TestClassificationExhaustionFailsStage(t *testing.T) {
	ctx := context.Background()
	o := newScriptedOracle("not json")
	f := newFixture(t, o)
	f.seed(t, "item-1", ledger.StatusQueued, nil)

	out, err := f.coordinator(nil).Run(ctx, StageClassification, "item-1")
	require.ErrorIs(t, err, stage.ErrStageFailed)
	assert.Equal(t, stage.OutcomeFailed, out)
	assert.Equal(t, 5, o.Calls("classification"))

	item, err := f.ledger.Get(ctx, stage.DefaultPartition, "item-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, item.Status)
	assert.Contains(t, item.Field(stage.FieldError), "malformed oracle output")
}

func TestClassificationRejectsUnknownDetermination(t *testing.T) {
	o := newScriptedOracle(`{"status_determination":"Maybe"}`, presentJSON)
	f := newFixture(t, o)
	item := f.seed(t, "item-1", ledger.StatusClassifying, nil)

	out, err := (&Classifier{Deps: f.deps}).Run(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, DeterminationPresent, out.Fields[FieldStatusDetermination])
	assert.Equal(t, 2, o.Calls("classification"))
}

func TestAnalyzerSkipsWithoutInvention(t *testing.T) {
	o := newScriptedOracle(absentJSON)
	f := newFixture(t, o)
	item := f.seed(t, "item-1", ledger.StatusAnalyzing, map[string]string{FieldClassification: absentJSON})

	out, err := (&Analyzer{Deps: f.deps}).Run(context.Background(), item)
	require.NoError(t, err)

	var a Analysis
	require.NoError(t, json.Unmarshal(out.Value, &a))
	assert.True(t, a.Skipped)
	assert.Equal(t, "Roe, R. (2023). A survey.", a.SourceCitation)
	assert.Empty(t, a.References)
	assert.Equal(t, "0", out.Fields[FieldReferenceCount])
	assert.Empty(t, f.searcher.queries)
	assert.Zero(t, o.Calls("structure"))
}

func TestAnalyzerRunsProgressiveSearch(t *testing.T) {
	o := newScriptedOracle(presentJSON)
	f := newFixture(t, o)
	f.searcher.outcome = search.Outcome{
		Query:      `(impeller OR "rotor blade") AND (sensor OR flowmeter)`,
		References: refs(2, 10),
		Attempts:   []search.Attempt{{Query: testUCS, Removed: -1}, {Query: "x", Removed: 0}, {Query: "y", Removed: 1, Added: 2, Total: 2}},
	}
	item := f.seed(t, "item-1", ledger.StatusAnalyzing, map[string]string{FieldClassification: presentJSON})

	out, err := (&Analyzer{Deps: f.deps}).Run(context.Background(), item)
	require.NoError(t, err)

	require.Equal(t, []string{testUCS}, f.searcher.queries)
	assert.Equal(t, []int{search.DefaultTarget}, f.searcher.targets)

	var a Analysis
	require.NoError(t, json.Unmarshal(out.Value, &a))
	assert.False(t, a.Skipped)
	assert.Len(t, a.Structure, 3)
	assert.Len(t, a.Rubric, 3)
	assert.Equal(t, testSynopsis, a.Synopsis)
	assert.Equal(t, testUCS, a.UCS)
	assert.Equal(t, f.searcher.outcome.Query, a.FinalQuery)
	assert.Len(t, a.References, 2)
	assert.Len(t, a.Attempts, 3)
	assert.Equal(t, f.searcher.outcome.Query, out.Fields[FieldFinalQuery])
	assert.Equal(t, "2", out.Fields[FieldReferenceCount])
}

func TestAnalyzerShortSearchStringFallsBack(t *testing.T) {
	o := newScriptedOracle(presentJSON)
	o.ucs = "pump"
	f := newFixture(t, o)
	item := f.seed(t, "item-1", ledger.StatusAnalyzing, map[string]string{FieldClassification: presentJSON})

	_, err := (&Analyzer{Deps: f.deps}).Run(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, []string{testSynopsis}, f.searcher.queries)
}

func TestAnalyzerMissingClassification(t *testing.T) {
	f := newFixture(t, newScriptedOracle(presentJSON))
	item := f.seed(t, "item-1", ledger.StatusAnalyzing, nil)

	_, err := (&Analyzer{Deps: f.deps}).Run(context.Background(), item)
	assert.ErrorIs(t, err, ledger.ErrFieldMissing)
}

func TestSearchQuery(t *testing.T) {
	long := strings.Repeat("w", 700)
	tests := []struct {
		name       string
		ucs        string
		synopsis   string
		manuscript string
		want       string
	}{
		{"composite string", "  (a OR b) AND (c OR d) AND (e)  ", "syn", "text", "(a OR b) AND (c OR d) AND (e)"},
		{"short string uses synopsis", "(a)", "A pump moves water.", "text", "A pump moves water."},
		{"synopsis truncated", "", long, "text", strings.Repeat("w", 500)},
		{"manuscript excerpt", "", "  ", "  " + long, strings.Repeat("w", 498)},
		{"last resort", "", "", "   ", "prior art"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SearchQuery(tt.ucs, tt.synopsis, tt.manuscript))
		})
	}
}

func TestReportPrompt(t *testing.T) {
	var present, absent Classification
	require.NoError(t, json.Unmarshal([]byte(presentJSON), &present))
	require.NoError(t, json.Unmarshal([]byte(absentJSON), &absent))

	t.Run("no invention", func(t *testing.T) {
		kind, prompt, err := reportPrompt(absent, Analysis{Skipped: true})
		require.NoError(t, err)
		assert.Equal(t, ReportNoInvention, kind)
		assert.Contains(t, prompt, "Status: Absent")
		assert.Contains(t, prompt, "Justification: Review article.")
	})

	t.Run("no references", func(t *testing.T) {
		kind, prompt, err := reportPrompt(present, Analysis{Synopsis: testSynopsis, FinalQuery: testUCS})
		require.NoError(t, err)
		assert.Equal(t, ReportNoReferences, kind)
		assert.Contains(t, prompt, "provisionally NOVEL")
		assert.Contains(t, prompt, testSynopsis)
	})

	t.Run("references table", func(t *testing.T) {
		rs := refs(12, 10)
		rs[0].Title = "Pumps | valves\nand more"
		rs[1].Year = 0
		kind, prompt, err := reportPrompt(present, Analysis{References: rs})
		require.NoError(t, err)
		assert.Equal(t, ReportReferences, kind)
		assert.Contains(t, prompt, "Doe, J. (2024). Smart pumps. J. Fluids.")
		assert.Contains(t, prompt, `| openalex | 2000 | Pumps \| valves and more | https://openalex.org/W0 |`)
		assert.Contains(t, prompt, "| openalex |  | Pump control 1 |")
		assert.Contains(t, prompt, "https://openalex.org/W9 |")
		assert.NotContains(t, prompt, "https://openalex.org/W10 ", "table is capped at ten rows")
	})

	t.Run("missing citation", func(t *testing.T) {
		_, prompt, err := reportPrompt(Classification{StatusDetermination: DeterminationImplied}, Analysis{})
		require.NoError(t, err)
		assert.Contains(t, prompt, "Citation: Unknown citation")
	})
}

func TestStagesGraph(t *testing.T) {
	stages := Stages(Deps{})
	require.Len(t, stages, 3)
	for i, s := range stages {
		assert.NotNil(t, s.Logic, s.Name)
		if s.Running != s.Requires {
			assert.True(t, ledger.CanTransition(s.Requires, s.Running), s.Name)
			assert.True(t, ledger.CanTransition(s.Running, s.Produces), s.Name)
		} else {
			assert.True(t, ledger.CanTransition(s.Requires, s.Produces), s.Name)
		}
		if i+1 < len(stages) {
			assert.Equal(t, stages[i+1].Name, s.Next)
			assert.Equal(t, s.Produces, stages[i+1].Requires)
		}
	}
	assert.Equal(t, ledger.StatusCompleted, stages[2].Produces)
}
