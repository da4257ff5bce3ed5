//go:build mage

package main

import (
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Pipeline groups targets that drive a local pipeline run.
type Pipeline mg.Namespace

// Ingest adds every manuscript under inbox and drains the queues once.
func (Pipeline) Ingest() error {
	mg.Deps(Build)
	files, err := inboxFiles()
	if err != nil {
		return err
	}
	if len(files) > 0 {
		if err := sh.RunV("bin/novelty-engine", append([]string{"ingest"}, files...)...); err != nil {
			return err
		}
	}
	return sh.RunV("bin/novelty-engine", "worker", "--once")
}

// List prints every work item in the ledger.
func (Pipeline) List() error {
	mg.Deps(Build)
	return sh.RunV("bin/novelty-engine", "list")
}

func inboxFiles() ([]string, error) {
	var files []string
	for _, pattern := range []string{"inbox/*.txt", "inbox/*.md"} {
		m, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		files = append(files, m...)
	}
	return files, nil
}
