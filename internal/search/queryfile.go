// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/novelty-engine/pkg/types"
)

// QueryFile is the on-disk record of a progressive search run. It keeps the
// submitted query, every pass, and the accumulated references so a run can
// be inspected or reused without re-querying providers.
type QueryFile struct {
	Query      string            `yaml:"query"`
	Target     int               `yaml:"target"`
	Providers  []string          `yaml:"providers,omitempty"`
	FinalQuery string            `yaml:"final_query"`
	Attempts   []Attempt         `yaml:"attempts"`
	References []types.Reference `yaml:"references"`
	Summary    QuerySummary      `yaml:"summary"`
}

// QuerySummary stores result statistics and a timestamp.
type QuerySummary struct {
	Total     int       `yaml:"total"`
	Passes    int       `yaml:"passes"`
	Errors    []string  `yaml:"errors,omitempty"`
	Timestamp time.Time `yaml:"timestamp"`
}

// NewQueryFile builds the file record for a finished search.
func NewQueryFile(query string, target int, providers []string, out Outcome) QueryFile {
	qf := QueryFile{
		Query:      query,
		Target:     target,
		Providers:  providers,
		FinalQuery: out.Query,
		Attempts:   out.Attempts,
		References: out.References,
		Summary: QuerySummary{
			Total:     len(out.References),
			Passes:    len(out.Attempts),
			Timestamp: time.Now().UTC(),
		},
	}
	for i, a := range out.Attempts {
		for _, c := range a.Counts {
			if c.Error != "" {
				qf.Summary.Errors = append(qf.Summary.Errors, fmt.Sprintf("pass %d: %s: %s", i+1, c.Provider, c.Error))
			}
		}
	}
	return qf
}

// WriteQueryFile saves the record to a YAML file.
func WriteQueryFile(path string, qf QueryFile) error {
	data, err := yaml.Marshal(&qf)
	if err != nil {
		return fmt.Errorf("marshaling query file: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadQueryFile loads a previously saved query file from disk.
func ReadQueryFile(path string) (*QueryFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading query file: %w", err)
	}
	var qf QueryFile
	if err := yaml.Unmarshal(data, &qf); err != nil {
		return nil, fmt.Errorf("parsing query file: %w", err)
	}
	return &qf, nil
}

// Outcome converts the stored record back into a search outcome.
func (qf *QueryFile) Outcome() Outcome {
	return Outcome{Query: qf.FinalQuery, References: qf.References, Attempts: qf.Attempts}
}
