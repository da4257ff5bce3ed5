// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdiddy/novelty-engine/internal/stage"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued work items until interrupted",
	Long: `Worker consumes the classification, analysis and aggregation queues and
runs each stage. Several workers may run against the same database; the
ledger's version check makes sure each stage runs once per item.

Use --once to drain the queues and exit.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().StringSlice("stages", nil, "stages to consume (default all)")
	workerCmd.Flags().Bool("once", false, "exit when every queue is empty")

	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	stages, _ := cmd.Flags().GetStringSlice("stages")
	for _, name := range stages {
		if _, err := a.coordinator.Stage(name); err != nil {
			return err
		}
	}
	once, _ := cmd.Flags().GetBool("once")

	w := &stage.Worker{
		Coordinator:   a.coordinator,
		Queue:         a.queue,
		Stages:        stages,
		PollInterval:  a.cfg.Worker.PollInterval,
		Lease:         a.cfg.Worker.Lease,
		RetryDelay:    a.cfg.Worker.RetryDelay,
		MaxDeliveries: a.cfg.Worker.MaxDeliveries,
		Logger:        a.logger,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !once {
		return w.Run(ctx)
	}
	return drain(ctx, w)
}

// maxDrainRounds bounds --once for a queue that is being refilled faster
// than it drains.
const maxDrainRounds = 10000

func drain(ctx context.Context, w *stage.Worker) error {
	for range maxDrainRounds {
		handled, err := w.ProcessOne(ctx)
		if err != nil {
			return fmt.Errorf("processing queue: %w", err)
		}
		if !handled || ctx.Err() != nil {
			return nil
		}
	}
	return fmt.Errorf("queues still busy after %d rounds", maxDrainRounds)
}
