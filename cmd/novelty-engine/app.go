// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/pdiddy/novelty-engine/internal/backoff"
	"github.com/pdiddy/novelty-engine/internal/blobstore"
	"github.com/pdiddy/novelty-engine/internal/ledger"
	"github.com/pdiddy/novelty-engine/internal/oracle"
	"github.com/pdiddy/novelty-engine/internal/pipeline"
	"github.com/pdiddy/novelty-engine/internal/queue"
	"github.com/pdiddy/novelty-engine/internal/search"
	"github.com/pdiddy/novelty-engine/internal/stage"
	"github.com/pdiddy/novelty-engine/pkg/types"
)

// app owns the process-wide handles. Every component receives what it needs
// from here; nothing below cmd/ holds global clients.
type app struct {
	cfg    types.PipelineConfig
	logger *slog.Logger
	tracer trace.TracerProvider

	ledger      *ledger.SQLiteLedger
	queue       *queue.Queue
	overflow    ledger.Overflow
	coordinator *stage.Coordinator
	ingestor    *pipeline.Ingestor

	shutdown func(context.Context) error
}

// openApp loads the configuration and opens the ledger, queue and blob store.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := slog.Default()
	tp, shutdown := newTracerProvider(cmd, logger)

	l, err := ledger.OpenSQLite(cfg.Ledger.Path)
	if err != nil {
		return nil, err
	}
	q, err := queue.Open(cfg.Ledger.Path)
	if err != nil {
		l.Close()
		return nil, err
	}
	blobs, err := blobstore.NewFileStore(cfg.Ledger.BlobDir)
	if err != nil {
		q.Close()
		l.Close()
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		tracer:   tp,
		ledger:   l,
		queue:    q,
		overflow: ledger.Overflow{Blobs: blobs},
		shutdown: shutdown,
	}
	manuscripts := pipeline.FileManuscripts{Dir: cfg.ManuscriptDir}

	a.coordinator = stage.NewCoordinator(l, a.overflow, q,
		stage.WithPartition(cfg.Ledger.Partition),
		stage.WithLogger(logger),
		stage.WithTracer(tp.Tracer("novelty-engine/stage")),
	)
	a.coordinator.Register(pipeline.Stages(pipeline.Deps{
		Oracle:      newOracle(cfg.Oracle, logger),
		Search:      newOrchestrator(cfg.Search, logger, tp),
		Manuscripts: manuscripts,
		Outputs:     a.overflow,
		Retry:       oraclePolicy(cfg.Oracle, logger),
		Target:      cfg.Search.Target,
		Logger:      logger,
	})...)

	a.ingestor = &pipeline.Ingestor{
		Ledger:      l,
		Handoff:     q,
		Manuscripts: manuscripts,
		Partition:   cfg.Ledger.Partition,
		Logger:      logger,
	}
	return a, nil
}

// Close releases the database handles and flushes traces.
func (a *app) Close() error {
	return errors.Join(
		a.shutdown(context.Background()),
		a.queue.Close(),
		a.ledger.Close(),
	)
}

func newOracle(cfg types.OracleConfig, logger *slog.Logger) oracle.Oracle {
	if cfg.APIKey == "" {
		logger.Warn("no Anthropic API key configured; oracle calls will fail",
			"secret", "anthropic-api-key", "env", "NOVELTY_ENGINE_ORACLE_API_KEY")
	}
	return &oracle.ClaudeOracle{
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		Client:    &http.Client{Timeout: cfg.Timeout},
		Logger:    logger,
	}
}

func oraclePolicy(cfg types.OracleConfig, logger *slog.Logger) backoff.Policy {
	p := backoff.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	p.Logger = logger
	return p
}

// newProviders builds the enabled search providers in their fixed order.
func newProviders(cfg types.SearchConfig, logger *slog.Logger) []search.Provider {
	client := &http.Client{Timeout: cfg.Timeout}
	var providers []search.Provider
	if cfg.EnableOpenAlex {
		providers = append(providers, &search.OpenAlexProvider{
			Client:    client,
			Email:     cfg.OpenAlexEmail,
			UserAgent: cfg.UserAgent,
			Limit:     cfg.ProviderLimit,
			Logger:    logger,
		})
	}
	if cfg.EnableSemanticScholar {
		providers = append(providers, &search.SemanticScholarProvider{
			Client:    client,
			APIKey:    cfg.SemanticScholarAPIKey,
			UserAgent: cfg.UserAgent,
			Limit:     cfg.ProviderLimit,
			Logger:    logger,
		})
	}
	if cfg.EnablePatentsView {
		providers = append(providers, &search.PatentsViewProvider{
			Client:    client,
			APIKey:    cfg.PatentsViewAPIKey,
			UserAgent: cfg.UserAgent,
			Limit:     cfg.ProviderLimit,
			Logger:    logger,
		})
	}
	if cfg.EnableArxiv {
		providers = append(providers, &search.ArxivProvider{
			Client:    client,
			UserAgent: cfg.UserAgent,
			Limit:     cfg.ProviderLimit,
			Logger:    logger,
		})
	}
	return providers
}

func newOrchestrator(cfg types.SearchConfig, logger *slog.Logger, tp trace.TracerProvider) *search.Orchestrator {
	return search.NewOrchestrator(newProviders(cfg, logger),
		search.WithLogger(logger),
		search.WithTracer(tp.Tracer("novelty-engine/search")),
	)
}
