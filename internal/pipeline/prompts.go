// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"bytes"
	"strconv"
	"strings"
	"text/template"

	"github.com/pdiddy/novelty-engine/pkg/types"
)

var funcs = template.FuncMap{
	"cell": tableCell,
	"year": func(y int) string {
		if y <= 0 {
			return ""
		}
		return strconv.Itoa(y)
	},
}

var classificationPromptTmpl = template.Must(template.New("classification").Parse(`You classify a source manuscript by whether it discloses a concrete, useful source technology.

1. Status determination:
   - "Present" when the manuscript discloses a concrete, buildable, operational technology.
   - "Implied" when a technology is suggested but incomplete.
   - "Absent" when no technology is disclosed.
2. When the status is Present, list the scientific or engineering fields needed to understand the technology.
3. When the status is Present, decompose the technology into 3 to 8 structural elements: modules, subsystems, processing blocks or real components. Nouns only, no functions and no background.
4. Write one sentence summarising the structure as actor, operation, object. Present tense, plain English, no performance claims, only element names.

Return only this JSON and no other text:
{"status_determination": "Present | Implied | Absent", "justification": "Short explanation.", "source_citation": "APA citation.", "fields_map": ["Field"], "source_structure": ["Element"], "structural_synopsis": "One sentence."}

Source manuscript:
{{.Manuscript}}
`))

var structurePromptTmpl = template.Must(template.New("structure").Parse(`Decompose the source technology into elemental structural blocks.

Each block must include block_name, function, inputs, outputs and assumptions (if any).

Return only this JSON:
{"source_structure": [{"block_name": "...", "function": "...", "inputs": ["..."], "outputs": ["..."], "assumptions": ["..."]}]}

Source manuscript:
{{.Manuscript}}

Classification:
{{.Classification}}
`))

var rubricPromptTmpl = template.Must(template.New("rubric").Parse(`Build a Structural Scoring Rubric for the source structure below.

The rubric decides whether a reference manuscript discloses the same structural elements as the source structure. It measures structural overlap only: no performance metrics, no numeric thresholds, no implementation details, no quality or maturity judgements.

Each entry has block_name (exact block name), weight (0 to 1, relative importance), match_criteria (what a reference must disclose to match) and notes (structural role only).

Return only this JSON:
{"ssr": [{"block_name": "...", "weight": 0.5, "match_criteria": "...", "notes": "..."}]}

Source structure:
{{range .Blocks}}- {{.BlockName}}: {{.Function}}
{{end}}`))

var synopsisPromptTmpl = template.Must(template.New("synopsis").Parse(`Write a ONE-SENTENCE structural synopsis of the source structure.

Rules: actor, operation, object or outcome. Present tense. No citations, hedges or benefits. Use only the block names below.

Blocks:
{{range .Blocks}}- {{.BlockName}}: {{.Function}}
{{end}}
Return only the sentence.
`))

var ucsPromptTmpl = template.Must(template.New("ucs").Parse(`Convert the source structure into a Unified Composite Search string.

Requirements:
1. Every block becomes its own parenthesised constraint.
2. Constraints are combined with top-level AND.
3. Inside a constraint, OR joins synonyms or equivalent phrases only.
4. Never use OR at the top level and never merge two blocks into one OR chain.
5. Proximity operators such as NEAR/3 may appear only inside a single constraint.
6. One line only.

Shape: (block 1 synonyms) AND (block 2 synonyms) AND (block 3 synonyms)

Blocks:
{{range .Blocks}}- {{.BlockName}}: {{.Function}}
{{end}}
Return only the search string.
`))

var noInventionReportTmpl = template.Must(template.New("no_invention").Parse(`Classification:
Status: {{.Classification.StatusDetermination}}
Citation: {{.Classification.Citation}}
Justification: {{.Classification.Justification}}

No novelty analysis was run.

Produce the "No Invention Present" final report.
`))

var noReferencesReportTmpl = template.Must(template.New("no_references").Parse(`Classification:
Status: {{.Classification.StatusDetermination}}
Citation: {{.Classification.Citation}}

Novelty analysis summary:
Source structure, scoring rubric, synopsis and composite search string were generated.
Source structure synopsis: {{.Analysis.Synopsis}}
Prior-art search found no reference manuscripts for: {{.Analysis.FinalQuery}}

Conclude that the manuscript is provisionally NOVEL. Do not display the structure, rubric or search string.
`))

var referencesReportTmpl = template.Must(template.New("references").Funcs(funcs).Parse(`Classification:
Status: {{.Classification.StatusDetermination}}
Citation: {{.Classification.Citation}}

Novelty analysis summary:
Source structure synopsis: {{.Analysis.Synopsis}}
Search query: {{.Analysis.FinalQuery}}

Prior-art search results (no deep analysis):

| Source | Year | Title | URL |
|---|---|---|---|
{{range .References}}| {{cell .Source}} | {{year .Year}} | {{cell .Title}} | {{cell .CanonicalID}} |
{{end}}
Instructions for the final report:
1. Display the table above.
2. Add a section titled "Novelty Verdict" with exactly one of NOVEL, NOT NOVEL or INCONCLUSIVE, without hedging.
3. Follow it with a short rationale based on the titles and abstracts.
`))

// maxReportReferences bounds the table in the final report prompt.
const maxReportReferences = 10

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// tableCell keeps a value on one Markdown table row.
func tableCell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

type reportData struct {
	Classification Classification
	Analysis       Analysis
	References     []types.Reference
}

// reportPrompt picks the final report prompt for the three outcomes: no
// invention, an invention with no prior art, and an invention with prior art.
func reportPrompt(c Classification, a Analysis) (string, string, error) {
	data := reportData{Classification: c, Analysis: a}
	var (
		kind string
		tmpl *template.Template
	)
	switch {
	case !c.Present() || a.Skipped:
		kind, tmpl = ReportNoInvention, noInventionReportTmpl
	case len(a.References) == 0:
		kind, tmpl = ReportNoReferences, noReferencesReportTmpl
	default:
		kind, tmpl = ReportReferences, referencesReportTmpl
		data.References = a.References[:min(len(a.References), maxReportReferences)]
	}
	prompt, err := render(tmpl, data)
	return kind, prompt, err
}
