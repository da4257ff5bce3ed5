// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/novelty-engine/internal/blobstore"
	"github.com/pdiddy/novelty-engine/internal/ledger"
	"github.com/pdiddy/novelty-engine/internal/oracle"
	"github.com/pdiddy/novelty-engine/internal/queue"
	"github.com/pdiddy/novelty-engine/internal/search"
	"github.com/pdiddy/novelty-engine/internal/stage"
	"github.com/pdiddy/novelty-engine/pkg/types"
)

const (
	presentJSON = `{"status_determination":"Present","justification":"A working pump controller is described.","source_citation":"Doe, J. (2024). Smart pumps. J. Fluids.","fields_map":["fluid mechanics"],"source_structure":["Impeller","Controller"],"structural_synopsis":"A controller drives an impeller."}`
	absentJSON  = `{"status_determination":"Absent","justification":"Review article.","source_citation":"Roe, R. (2023). A survey."}`

	structureJSON = "```json\n" + `{"source_structure":[{"block_name":"Impeller","function":"moves fluid"},{"block_name":"Controller","function":"sets speed"},{"block_name":"Sensor","function":"measures flow"}]}` + "\n```"
	rubricJSON    = `{"ssr":[{"block_name":"Impeller","weight":0.4,"match_criteria":"rotating fluid mover"},{"block_name":"Controller","weight":0.4,"match_criteria":"speed control"},{"block_name":"Sensor","weight":0.2,"match_criteria":"flow sensing"}]}`
	testUCS       = `(impeller OR "rotor blade") AND (controller OR "speed regulator") AND (sensor OR flowmeter)`
	testSynopsis  = "A controller sets impeller speed from sensor flow readings."
)

// scriptedOracle answers by recognising which prompt it was sent.
type scriptedOracle struct {
	mu             sync.Mutex
	classification []string // consumed in order; the last one repeats
	ucs            string
	calls          map[string]int
}

func newScriptedOracle(classification ...string) *scriptedOracle {
	return &scriptedOracle{classification: classification, ucs: testUCS, calls: map[string]int{}}
}

func (o *scriptedOracle) Invoke(_ context.Context, prompt string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case strings.Contains(prompt, "Unified Composite Search"):
		o.calls["ucs"]++
		return o.ucs, nil
	case strings.Contains(prompt, "ONE-SENTENCE structural synopsis"):
		o.calls["synopsis"]++
		return testSynopsis, nil
	case strings.Contains(prompt, "Structural Scoring Rubric"):
		o.calls["rubric"]++
		return rubricJSON, nil
	case strings.Contains(prompt, "elemental structural blocks"):
		o.calls["structure"]++
		return structureJSON, nil
	case strings.Contains(prompt, "You classify a source manuscript"):
		o.calls["classification"]++
		reply := o.classification[0]
		if len(o.classification) > 1 {
			o.classification = o.classification[1:]
		}
		return reply, nil
	case strings.Contains(prompt, "No Invention Present"):
		o.calls["report"]++
		return "No invention present.", nil
	case strings.Contains(prompt, "provisionally NOVEL"):
		o.calls["report"]++
		return "Novelty Verdict: NOVEL", nil
	case strings.Contains(prompt, "Prior-art search results"):
		o.calls["report"]++
		return "Novelty Verdict: NOT NOVEL", nil
	}
	return "", oracle.ErrNoResponse
}

func (o *scriptedOracle) Calls(kind string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[kind]
}

type fakeSearcher struct {
	mu      sync.Mutex
	outcome search.Outcome
	queries []string
	targets []int
}

func (s *fakeSearcher) Progressive(_ context.Context, query string, target int) search.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	s.targets = append(s.targets, target)
	out := s.outcome
	if out.Query == "" {
		out.Query = query
	}
	return out
}

func refs(n, abstractLen int) []types.Reference {
	out := make([]types.Reference, n)
	for i := range out {
		out[i] = types.Reference{
			CanonicalID: fmt.Sprintf("https://openalex.org/W%d", i),
			Title:       fmt.Sprintf("Pump control %d", i),
			Year:        2000 + i%20,
			Abstract:    strings.Repeat("a", abstractLen),
			Source:      "openalex",
		}
	}
	return out
}

type fixture struct {
	ledger      *ledger.MemoryLedger
	overflow    ledger.Overflow
	manuscripts FileManuscripts
	oracle      *scriptedOracle
	searcher    *fakeSearcher
	deps        Deps
}

func newFixture(t *testing.T, o *scriptedOracle) *fixture {
	t.Helper()
	f := &fixture{
		ledger:      ledger.NewMemoryLedger(),
		overflow:    ledger.Overflow{Blobs: blobstore.NewMemoryStore()},
		manuscripts: FileManuscripts{Dir: t.TempDir()},
		oracle:      o,
		searcher:    &fakeSearcher{},
	}
	f.deps = Deps{
		Oracle:      f.oracle,
		Search:      f.searcher,
		Manuscripts: f.manuscripts,
		Outputs:     f.overflow,
	}
	return f
}

func (f *fixture) coordinator(h stage.Handoff) *stage.Coordinator {
	c := stage.NewCoordinator(f.ledger, f.overflow, h)
	c.Register(Stages(f.deps)...)
	return c
}

// seed stores a manuscript and creates an item in status with the given
// fields.
func (f *fixture) seed(t *testing.T, id string, status ledger.Status, fields map[string]string) ledger.WorkItem {
	t.Helper()
	name := id + ".md"
	require.NoError(t, os.WriteFile(filepath.Join(f.manuscripts.Dir, name), []byte("# Smart pump\nA controller drives an impeller."), 0o644))
	all := map[string]string{FieldFilename: name}
	for k, v := range fields {
		all[k] = v
	}
	item, err := f.ledger.Create(context.Background(), ledger.WorkItem{
		Partition: stage.DefaultPartition,
		ID:        id,
		Status:    status,
		Fields:    all,
	})
	require.NoError(t, err)
	return item
}

func writeManuscript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func drain(t *testing.T, w *stage.Worker) {
	t.Helper()
	for range 20 {
		handled, err := w.ProcessOne(context.Background())
		require.NoError(t, err)
		if !handled {
			return
		}
	}
	t.Fatal("queue did not drain")
}

func TestPipelineEndToEnd(t *testing.T) {
	tests := []struct {
		name           string
		classification string
		references     []types.Reference
		wantCase       string
		wantReport     string
		wantRefs       string
	}{
		{
			name:           "invention with prior art",
			classification: presentJSON,
			references:     refs(3, 50),
			wantCase:       ReportReferences,
			wantReport:     "Novelty Verdict: NOT NOVEL",
			wantRefs:       "3",
		},
		{
			name:           "invention without prior art",
			classification: presentJSON,
			wantCase:       ReportNoReferences,
			wantReport:     "Novelty Verdict: NOVEL",
			wantRefs:       "0",
		},
		{
			name:           "no invention",
			classification: absentJSON,
			wantCase:       ReportNoInvention,
			wantReport:     "No invention present.",
			wantRefs:       "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, newScriptedOracle(tt.classification))
			f.searcher.outcome = search.Outcome{References: tt.references}

			q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
			require.NoError(t, err)
			defer q.Close()

			in := &Ingestor{Ledger: f.ledger, Handoff: q, Manuscripts: f.manuscripts}
			item, err := in.Ingest(ctx, writeManuscript(t, "pump.md", "# Smart pump\nA controller drives an impeller."))
			require.NoError(t, err)
			assert.Equal(t, ledger.StatusQueued, item.Status)
			assert.Equal(t, "pump.md", item.Field("original_name"))

			drain(t, &stage.Worker{Coordinator: f.coordinator(q), Queue: q})

			item, err = f.ledger.Get(ctx, stage.DefaultPartition, item.ID)
			require.NoError(t, err)
			require.Equal(t, ledger.StatusCompleted, item.Status, item.Field(stage.FieldError))
			assert.Equal(t, tt.wantRefs, item.Field(FieldReferenceCount))
			assert.Equal(t, tt.wantCase, item.Field(FieldReportCase))

			report, err := ReadReport(ctx, f.overflow, item)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCase, report.Case)
			assert.Equal(t, tt.wantReport, report.Report)
			assert.Equal(t, 1, f.oracle.Calls("report"))
		})
	}
}

func TestLargeAnalysisOverflowsAndAggregates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newScriptedOracle(presentJSON))
	f.searcher.outcome = search.Outcome{References: refs(120, types.MaxAbstractLen)}
	f.seed(t, "item-1", ledger.StatusClassified, map[string]string{FieldClassification: presentJSON})

	c := f.coordinator(nil)
	out, err := c.Run(ctx, StageAnalysis, "item-1")
	require.NoError(t, err)
	require.Equal(t, stage.OutcomeCompleted, out)

	item, err := f.ledger.Get(ctx, stage.DefaultPartition, "item-1")
	require.NoError(t, err)
	assert.False(t, item.Has(FieldAnalysis))
	assert.Equal(t, ledger.BlobKey(StageAnalysis, "item-1"), item.Field(ledger.BlobField(FieldAnalysis)))

	out, err = c.Run(ctx, StageAggregation, "item-1")
	require.NoError(t, err)
	require.Equal(t, stage.OutcomeCompleted, out)

	item, err = f.ledger.Get(ctx, stage.DefaultPartition, "item-1")
	require.NoError(t, err)
	report, err := ReadReport(ctx, f.overflow, item)
	require.NoError(t, err)
	assert.Equal(t, ReportReferences, report.Case)
	assert.Equal(t, 120, report.References)
}

func TestIngestTriggerFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newScriptedOracle(presentJSON))
	boom := errors.New("queue unavailable")
	in := &Ingestor{
		Ledger:      f.ledger,
		Handoff:     stage.HandoffFunc(func(context.Context, string, string) error { return boom }),
		Manuscripts: f.manuscripts,
		NewID:       func() string { return "fixed-id" },
	}

	_, err := in.Ingest(ctx, writeManuscript(t, "pump.txt", "text"))
	require.ErrorIs(t, err, boom)

	item, err := f.ledger.Get(ctx, stage.DefaultPartition, "fixed-id")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, item.Status)
	assert.Equal(t, StageClassification, item.Field(stage.FieldFailedStage))
	assert.Equal(t, "fixed-id.txt", item.Field(FieldFilename))

	// An operator retry puts it back on the queue.
	var triggered []string
	c := stage.NewCoordinator(f.ledger, f.overflow, stage.HandoffFunc(func(_ context.Context, s, id string) error {
		triggered = append(triggered, s+"/"+id)
		return nil
	}))
	c.Register(Stages(f.deps)...)
	require.NoError(t, c.Retry(ctx, "fixed-id"))
	assert.Equal(t, []string{"classification/fixed-id"}, triggered)

	item, err = f.ledger.Get(ctx, stage.DefaultPartition, "fixed-id")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusQueued, item.Status)
}

func TestIngestTriggerFailureTruncatesError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newScriptedOracle(presentJSON))
	long := errors.New(strings.Repeat("queue ", 10000))
	in := &Ingestor{
		Ledger:      f.ledger,
		Handoff:     stage.HandoffFunc(func(context.Context, string, string) error { return long }),
		Manuscripts: f.manuscripts,
		NewID:       func() string { return "long-id" },
	}

	_, err := in.Ingest(ctx, writeManuscript(t, "pump.txt", "text"))
	require.Error(t, err)

	item, err := f.ledger.Get(ctx, stage.DefaultPartition, "long-id")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, item.Status)
	assert.Len(t, item.Field(stage.FieldError), stage.MaxErrorLen)
}

func TestIngestRejectsPDF(t *testing.T) {
	f := newFixture(t, newScriptedOracle(presentJSON))
	in := &Ingestor{Ledger: f.ledger, Handoff: stage.HandoffFunc(func(context.Context, string, string) error { return nil }), Manuscripts: f.manuscripts}

	_, err := in.Ingest(context.Background(), writeManuscript(t, "paper.pdf", "%PDF-1.7"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported manuscript format")

	items, err := f.ledger.List(context.Background(), stage.DefaultPartition)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestFileManuscriptsText(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("hello"), 0o644))
	m := FileManuscripts{Dir: dir}

	got, err := m.Text(context.Background(), ledger.WorkItem{ID: "1", Fields: map[string]string{FieldFilename: "a.md"}})
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	for _, name := range []string{"", "../a.md", "/etc/passwd.md", "scan.pdf"} {
		_, err := m.Text(context.Background(), ledger.WorkItem{ID: "1", Fields: map[string]string{FieldFilename: name}})
		assert.Error(t, err, name)
	}
}
