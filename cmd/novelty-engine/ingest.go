// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Register manuscripts and queue them for classification",
	Long: `Ingest copies each manuscript (plain text or Markdown) into the manuscript
directory, creates a work item and queues it for classification. Run a worker
to process queued items.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	w := cmd.OutOrStdout()
	failed := 0
	for _, path := range args {
		item, err := a.ingestor.Ingest(cmd.Context(), path)
		if err != nil {
			a.logger.Error("ingest failed", "path", path, "error", err)
			failed++
			continue
		}
		fmt.Fprintf(w, "%s  %-10s %s\n", item.ID, item.Status, path)
	}
	if failed > 0 {
		return fmt.Errorf("%d manuscript(s) failed ingestion", failed)
	}
	return nil
}
