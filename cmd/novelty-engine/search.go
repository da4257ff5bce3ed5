// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/novelty-engine/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run a progressive prior-art search",
	Long: `Search sends the query to every enabled provider, then drops one top-level
AND clause at a time, in order, until the target number of unique references
is reached or every clause has been tried once.

Quote the query so the shell keeps it together:

  novelty-engine search '(impeller OR rotor) AND (controller) AND (flow sensor)'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().Int("target", 0, "unique references to stop at (default from config, 5)")
	searchCmd.Flags().String("format", "table", "output format: table, json or csl")
	searchCmd.Flags().String("save", "", "write a YAML record of the run to this file")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	query := strings.Join(args, " ")
	target, _ := cmd.Flags().GetInt("target")
	if target <= 0 {
		target = cfg.Search.Target
	}
	format, _ := cmd.Flags().GetString("format")
	save, _ := cmd.Flags().GetString("save")

	logger := slog.Default()
	tp, shutdown := newTracerProvider(cmd, logger)
	defer shutdown(cmd.Context())

	orch := newOrchestrator(cfg.Search, logger, tp)
	if len(orch.Providers()) == 0 {
		return fmt.Errorf("no search providers enabled")
	}

	out := orch.Progressive(cmd.Context(), query, target)

	if save != "" {
		qf := search.NewQueryFile(query, target, orch.Providers(), out)
		if err := search.WriteQueryFile(save, qf); err != nil {
			return err
		}
		logger.Info("search run saved", "path", save)
	}

	w := cmd.OutOrStdout()
	switch format {
	case "table":
		search.FormatTable(out, w)
		return nil
	case "json":
		return search.FormatJSON(out, w)
	case "csl":
		return search.FormatCSL(out, w)
	default:
		return fmt.Errorf("unknown format %q (want table, json or csl)", format)
	}
}
