// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// logExporter writes each finished span as a debug-level log record.
type logExporter struct {
	logger *slog.Logger
}

func (e logExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		attrs := []any{
			"span", s.Name(),
			"trace_id", s.SpanContext().TraceID().String(),
			"duration", s.EndTime().Sub(s.StartTime()),
		}
		for _, kv := range s.Attributes() {
			attrs = append(attrs, string(kv.Key), kv.Value.Emit())
		}
		if s.Status().Code == codes.Error {
			attrs = append(attrs, "error", s.Status().Description)
		}
		e.logger.Info("span finished", attrs...)
	}
	return nil
}

func (logExporter) Shutdown(context.Context) error { return nil }

// newTracerProvider returns a no-op provider unless --trace is set.
func newTracerProvider(cmd *cobra.Command, logger *slog.Logger) (trace.TracerProvider, func(context.Context) error) {
	enabled, _ := cmd.Flags().GetBool("trace")
	if !enabled {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(logExporter{logger: logger}))
	return tp, tp.Shutdown
}
