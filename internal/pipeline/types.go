// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/pdiddy/novelty-engine/internal/search"
	"github.com/pdiddy/novelty-engine/pkg/types"
)

// Status determinations returned by classification.
const (
	DeterminationPresent = "Present"
	DeterminationImplied = "Implied"
	DeterminationAbsent  = "Absent"
)

// Classification is the parsed classification reply.
type Classification struct {
	StatusDetermination string   `json:"status_determination" yaml:"status_determination"`
	Justification       string   `json:"justification" yaml:"justification"`
	SourceCitation      string   `json:"source_citation" yaml:"source_citation"`
	FieldsMap           []string `json:"fields_map" yaml:"fields_map"`
	SourceStructure     []string `json:"source_structure" yaml:"source_structure"`
	StructuralSynopsis  string   `json:"structural_synopsis" yaml:"structural_synopsis"`
}

// Validate rejects replies without a recognised determination.
func (c *Classification) Validate() error {
	switch c.StatusDetermination {
	case DeterminationPresent, DeterminationImplied, DeterminationAbsent:
		return nil
	case "":
		return errors.New("missing status_determination")
	default:
		return fmt.Errorf("unknown status_determination %q", c.StatusDetermination)
	}
}

// Present reports whether the manuscript discloses a concrete technology.
func (c Classification) Present() bool {
	return c.StatusDetermination == DeterminationPresent
}

// Citation returns the source citation or a placeholder.
func (c Classification) Citation() string {
	if c.SourceCitation == "" {
		return "Unknown citation"
	}
	return c.SourceCitation
}

// Block is one structural element of the source technology.
type Block struct {
	BlockName   string   `json:"block_name" yaml:"block_name"`
	Function    string   `json:"function" yaml:"function"`
	Inputs      []string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs     []string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Assumptions []string `json:"assumptions,omitempty" yaml:"assumptions,omitempty"`
}

type structureReply struct {
	SourceStructure []Block `json:"source_structure"`
}

func (r *structureReply) Validate() error {
	if len(r.SourceStructure) == 0 {
		return errors.New("missing source_structure")
	}
	for i, b := range r.SourceStructure {
		if b.BlockName == "" {
			return fmt.Errorf("source_structure[%d] has no block_name", i)
		}
	}
	return nil
}

// RubricItem scores how a reference matches one block.
type RubricItem struct {
	BlockName     string  `json:"block_name" yaml:"block_name"`
	Weight        float64 `json:"weight" yaml:"weight"`
	MatchCriteria string  `json:"match_criteria" yaml:"match_criteria"`
	Notes         string  `json:"notes,omitempty" yaml:"notes,omitempty"`
}

type rubricReply struct {
	SSR []RubricItem `json:"ssr"`
}

func (r *rubricReply) Validate() error {
	if len(r.SSR) == 0 {
		return errors.New("missing ssr")
	}
	return nil
}

// Analysis is the output of the analysis stage. Skipped is set when the
// classification found no invention and no search was run.
type Analysis struct {
	Skipped        bool              `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	SourceCitation string            `json:"source_citation" yaml:"source_citation"`
	Structure      []Block           `json:"source_structure,omitempty" yaml:"source_structure,omitempty"`
	Rubric         []RubricItem      `json:"ssr,omitempty" yaml:"ssr,omitempty"`
	Synopsis       string            `json:"ss_synopsis,omitempty" yaml:"ss_synopsis,omitempty"`
	UCS            string            `json:"ucs,omitempty" yaml:"ucs,omitempty"`
	Query          string            `json:"query,omitempty" yaml:"query,omitempty"`
	FinalQuery     string            `json:"final_query,omitempty" yaml:"final_query,omitempty"`
	References     []types.Reference `json:"references" yaml:"references"`
	Attempts       []search.Attempt  `json:"attempts,omitempty" yaml:"attempts,omitempty"`
}

// Report cases.
const (
	ReportNoInvention  = "no_invention"
	ReportNoReferences = "no_references"
	ReportReferences   = "references"
)

// Report is the output of the aggregation stage.
type Report struct {
	Case        string    `json:"case" yaml:"case"`
	Report      string    `json:"report" yaml:"report"`
	References  int       `json:"references" yaml:"references"`
	GeneratedAt time.Time `json:"generated_at" yaml:"generated_at"`
}
