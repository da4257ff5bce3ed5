// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/novelty-engine/internal/ledger"
	"github.com/pdiddy/novelty-engine/internal/stage"
)

// Ingestor registers new manuscripts and queues them for classification.
type Ingestor struct {
	Ledger      ledger.Ledger
	Handoff     stage.Handoff
	Manuscripts FileManuscripts
	Partition   string
	Logger      *slog.Logger

	// NewID generates work item ids. Defaults to random UUIDs.
	NewID func() string
}

// Ingest copies the manuscript at path into the store, creates an uploaded
// work item, moves it to queued and triggers classification. If the trigger
// fails the item is marked failed at the classification stage, so an
// operator retry re-queues it, and the error is returned.
func (in *Ingestor) Ingest(ctx context.Context, path string) (ledger.WorkItem, error) {
	log := in.Logger
	if log == nil {
		log = slog.Default()
	}
	partition := in.Partition
	if partition == "" {
		partition = stage.DefaultPartition
	}
	id := uuid.NewString()
	if in.NewID != nil {
		id = in.NewID()
	}

	name, err := in.Manuscripts.Import(ctx, id, path)
	if err != nil {
		return ledger.WorkItem{}, err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	item, err := in.Ledger.Create(ctx, ledger.WorkItem{
		Partition: partition,
		ID:        id,
		Status:    ledger.StatusUploaded,
		Fields: map[string]string{
			FieldFilename:   name,
			"original_name": filepath.Base(path),
			ledger.TimestampField(ledger.StatusUploaded): now,
		},
	})
	if err != nil {
		return ledger.WorkItem{}, fmt.Errorf("creating work item: %w", err)
	}

	queued := ledger.Patch{
		Status: ledger.StatusQueued,
		Set:    map[string]string{ledger.TimestampField(ledger.StatusQueued): now},
	}
	if err := in.Ledger.ConditionalUpdate(ctx, partition, id, queued, item.Version); err != nil {
		return item, fmt.Errorf("queueing %s: %w", id, err)
	}

	if err := in.Handoff.Trigger(ctx, StageClassification, id); err != nil {
		failed := ledger.Patch{
			Status: ledger.StatusFailed,
			Set: map[string]string{
				stage.FieldError:       stage.ErrorText(err),
				stage.FieldFailedStage: StageClassification,
				ledger.TimestampField(ledger.StatusFailed): time.Now().UTC().Format(time.RFC3339Nano),
			},
		}
		if merr := in.Ledger.Merge(context.WithoutCancel(ctx), partition, id, failed); merr != nil {
			err = errors.Join(err, merr)
		}
		log.Error("enqueueing classification failed", "id", id, "error", err)
		return item, fmt.Errorf("triggering classification for %s: %w", id, err)
	}

	log.Info("manuscript ingested", "id", id, "file", name)
	return in.Ledger.Get(ctx, partition, id)
}
