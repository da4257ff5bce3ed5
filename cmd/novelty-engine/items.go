// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/novelty-engine/internal/ledger"
	"github.com/pdiddy/novelty-engine/internal/pipeline"
	"github.com/pdiddy/novelty-engine/internal/stage"
)

var runCmd = &cobra.Command{
	Use:   "run [stage] [id]",
	Short: "Run one stage for one work item in the foreground",
	Long: `Run claims and executes a single stage without going through the queue.
The claim follows the same version check a worker uses, so running a stage
whose input status has already moved on is reported as skipped.`,
	Args: cobra.ExactArgs(2),
	RunE: runStage,
}

var statusCmd = &cobra.Command{
	Use:   "status [id]",
	Short: "Show a work item's status and timestamps",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var showCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Print a stage output for a work item",
	Long: `Show prints the stored output of a stage (classification, analysis or
aggregation) for a work item. Outputs moved to the blob store are read back
transparently.`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List work items",
	RunE:  runList,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Mark a work item deleted",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var retryCmd = &cobra.Command{
	Use:   "retry [id]",
	Short: "Requeue a failed work item at the stage that failed",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetry,
}

func init() {
	showCmd.Flags().String("output", pipeline.StageAggregation, "stage whose output to print")
	showCmd.Flags().Bool("yaml", false, "print YAML instead of JSON")

	listCmd.Flags().String("status", "", "only list items with this status")
	listCmd.Flags().Bool("all", false, "include deleted items")

	rootCmd.AddCommand(runCmd, statusCmd, showCmd, listCmd, deleteCmd, retryCmd)
}

func runStage(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	outcome, err := a.coordinator.Run(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", args[0], args[1], outcome)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	item, err := a.coordinator.Item(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), item)
	return nil
}

func printStatus(w io.Writer, item ledger.WorkItem) {
	fmt.Fprintf(w, "ID:       %s\n", item.ID)
	fmt.Fprintf(w, "Status:   %s\n", item.Status)
	fmt.Fprintf(w, "Version:  %s\n", item.Version)
	if name := item.Field(pipeline.FieldFilename); name != "" {
		fmt.Fprintf(w, "File:     %s\n", name)
	}
	if det := item.Field(pipeline.FieldStatusDetermination); det != "" {
		fmt.Fprintf(w, "Finding:  %s\n", det)
	}
	if q := item.Field(pipeline.FieldFinalQuery); q != "" {
		fmt.Fprintf(w, "Query:    %s\n", q)
	}
	if n := item.Field(pipeline.FieldReferenceCount); n != "" {
		fmt.Fprintf(w, "Refs:     %s\n", n)
	}
	if c := item.Field(pipeline.FieldReportCase); c != "" {
		fmt.Fprintf(w, "Report:   %s\n", c)
	}

	var stamps []string
	for k := range item.Fields {
		if strings.HasSuffix(k, "_at") {
			stamps = append(stamps, k)
		}
	}
	sort.Slice(stamps, func(i, j int) bool { return item.Fields[stamps[i]] < item.Fields[stamps[j]] })
	if len(stamps) > 0 {
		fmt.Fprintln(w, "\nTimeline:")
		for _, k := range stamps {
			fmt.Fprintf(w, "  %-28s %s\n", k, item.Fields[k])
		}
	}

	if msg := item.Field(stage.FieldError); msg != "" {
		fmt.Fprintf(w, "\nFailed in %s:\n  %s\n", item.Field(stage.FieldFailedStage), msg)
	}
}

func runShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	name, _ := cmd.Flags().GetString("output")
	asYAML, _ := cmd.Flags().GetBool("yaml")

	item, err := a.coordinator.Item(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	raw, err := a.coordinator.ReadOutput(cmd.Context(), item, name)
	if err != nil {
		return fmt.Errorf("reading %s output for %s: %w", name, item.ID, err)
	}
	return writeOutput(cmd.OutOrStdout(), raw, asYAML)
}

// writeOutput pretty-prints a stored JSON document, optionally as YAML.
func writeOutput(w io.Writer, raw []byte, asYAML bool) error {
	if !asYAML {
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return fmt.Errorf("formatting output: %w", err)
		}
		buf.WriteByte('\n')
		_, err := buf.WriteTo(w)
		return err
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decoding output: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding YAML: %w", err)
	}
	return enc.Close()
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var want ledger.Status
	if s, _ := cmd.Flags().GetString("status"); s != "" {
		if want, err = ledger.ParseStatus(s); err != nil {
			return err
		}
	}
	all, _ := cmd.Flags().GetBool("all")

	items, err := a.coordinator.Items(cmd.Context())
	if err != nil {
		return err
	}
	printList(cmd.OutOrStdout(), filterItems(items, want, all))
	return nil
}

func filterItems(items []ledger.WorkItem, want ledger.Status, all bool) []ledger.WorkItem {
	var out []ledger.WorkItem
	for _, it := range items {
		if want != "" && it.Status != want {
			continue
		}
		if want == "" && !all && it.Status == ledger.StatusDeleted {
			continue
		}
		out = append(out, it)
	}
	return out
}

func printList(w io.Writer, items []ledger.WorkItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No work items.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tFILE\tFINDING\tREFS\tUPDATED")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			it.ID, it.Status,
			it.Field(pipeline.FieldFilename),
			dash(it.Field(pipeline.FieldStatusDetermination)),
			dash(it.Field(pipeline.FieldReferenceCount)),
			it.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.coordinator.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s deleted\n", args[0])
	return nil
}

func runRetry(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.coordinator.Retry(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s requeued\n", args[0])
	return nil
}
