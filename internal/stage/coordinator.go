// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/pdiddy/novelty-engine/internal/ledger"
)

// DefaultPartition is the ledger partition used when none is configured.
const DefaultPartition = "manuscripts"

// Coordinator owns the claim, completion and failure protocol for a set of
// registered stages.
type Coordinator struct {
	ledger    ledger.Ledger
	overflow  ledger.Overflow
	handoff   Handoff
	partition string
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time

	stages map[string]Stage
	order  []string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPartition sets the ledger partition.
func WithPartition(p string) Option {
	return func(c *Coordinator) {
		if p != "" {
			c.partition = p
		}
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTracer sets the tracer for stage run spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// NewCoordinator returns a coordinator writing to l. Large outputs go through
// overflow. handoff may be nil, in which case completed stages trigger nothing.
func NewCoordinator(l ledger.Ledger, overflow ledger.Overflow, handoff Handoff, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger:    l,
		overflow:  overflow,
		handoff:   handoff,
		partition: DefaultPartition,
		logger:    slog.Default(),
		tracer:    noop.NewTracerProvider().Tracer("novelty-engine/stage"),
		now:       time.Now,
		stages:    map[string]Stage{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds stages. Registering a name twice replaces the earlier stage.
func (c *Coordinator) Register(stages ...Stage) {
	for _, s := range stages {
		if _, ok := c.stages[s.Name]; !ok {
			c.order = append(c.order, s.Name)
		}
		c.stages[s.Name] = s
	}
}

// Stage returns the registered stage with the given name.
func (c *Coordinator) Stage(name string) (Stage, error) {
	s, ok := c.stages[name]
	if !ok {
		return Stage{}, fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}
	return s, nil
}

// Stages returns the registered stage names in registration order.
func (c *Coordinator) Stages() []string {
	return slices.Clone(c.order)
}

// Partition returns the ledger partition the coordinator writes to.
func (c *Coordinator) Partition() string {
	return c.partition
}

func (c *Coordinator) timestamp() string {
	return c.now().UTC().Format(time.RFC3339Nano)
}

// Claim reads the item and, if it is in the stage's required status, moves
// it to the running status with a version-guarded update. A status mismatch
// returns OutcomeSkipped and a lost race returns OutcomeConflict; neither is
// an error and neither writes anything. On OutcomeClaimed the returned item
// reflects the claim.
func (c *Coordinator) Claim(ctx context.Context, s Stage, id string) (ledger.WorkItem, Outcome, error) {
	log := c.logger.With("stage", s.Name, "id", id)

	item, err := c.ledger.Get(ctx, c.partition, id)
	if err != nil {
		return ledger.WorkItem{}, OutcomeSkipped, fmt.Errorf("reading %s: %w", id, err)
	}
	if item.Status != s.Requires {
		log.Info("precondition not met, skipping", "status", item.Status, "requires", s.Requires)
		return item, OutcomeSkipped, nil
	}
	if s.Running == s.Requires && item.Has(s.StartedField()) {
		log.Info("already started, skipping", "started_at", item.Field(s.StartedField()))
		return item, OutcomeSkipped, nil
	}

	now := c.timestamp()
	p := ledger.Patch{Set: map[string]string{s.StartedField(): now}}
	if s.Running != s.Requires {
		p.Status = s.Running
		p.Set[ledger.TimestampField(s.Running)] = now
	}

	err = c.ledger.ConditionalUpdate(ctx, c.partition, id, p, item.Version)
	if errors.Is(err, ledger.ErrVersionConflict) {
		log.Info("claimed by another worker")
		return item, OutcomeConflict, nil
	}
	if err != nil {
		return item, OutcomeSkipped, fmt.Errorf("claiming %s for %s: %w", id, s.Name, err)
	}

	claimed := item.Patched(p)
	claimed.Version = ""
	log.Info("claimed", "status", claimed.Status)
	return claimed, OutcomeClaimed, nil
}

// maxTransitionAttempts bounds the read-check-write loop in transition.
const maxTransitionAttempts = 5

// transition moves id to p.Status with a version-guarded update, first
// checking the move against the status graph. If the item has meanwhile been
// deleted (or moved anywhere p.Status cannot be reached from) it returns
// ErrSuperseded and writes nothing.
func (c *Coordinator) transition(ctx context.Context, id string, p ledger.Patch) error {
	for range maxTransitionAttempts {
		item, err := c.ledger.Get(ctx, c.partition, id)
		if err != nil {
			return fmt.Errorf("reading %s: %w", id, err)
		}
		if !ledger.CanTransition(item.Status, p.Status) {
			return fmt.Errorf("%w: %s is %s, not moving to %s", ErrSuperseded, id, item.Status, p.Status)
		}
		err = c.ledger.ConditionalUpdate(ctx, c.partition, id, p, item.Version)
		if !errors.Is(err, ledger.ErrVersionConflict) {
			return err
		}
	}
	return fmt.Errorf("%w: %s changed %d times while writing", ledger.ErrVersionConflict, id, maxTransitionAttempts)
}

// Complete records out on the item, advances it to the stage's Produces
// status and triggers the next stage. A failed trigger is logged and does not
// undo the completion. An item deleted while the stage ran is left alone and
// ErrSuperseded is returned.
func (c *Coordinator) Complete(ctx context.Context, s Stage, id string, out Output) error {
	p := ledger.Patch{
		Status: s.Produces,
		Set:    map[string]string{ledger.TimestampField(s.Produces): c.timestamp()},
	}
	maps.Copy(p.Set, out.Fields)

	if s.OutputField != "" {
		placed, err := c.overflow.Place(ctx, ledger.BlobKey(s.Name, id), s.OutputField, out.Value)
		if err != nil {
			return fmt.Errorf("storing %s output: %w", s.Name, err)
		}
		maps.Copy(p.Set, placed.Set)
		p.Unset = append(p.Unset, placed.Unset...)
	}

	if err := c.transition(ctx, id, p); err != nil {
		return fmt.Errorf("completing %s for %s: %w", s.Name, id, err)
	}
	c.logger.Info("stage completed", "stage", s.Name, "id", id, "status", s.Produces)

	if s.Next != "" && c.handoff != nil {
		if err := c.handoff.Trigger(ctx, s.Next, id); err != nil {
			c.logger.Error("hand-off failed", "stage", s.Name, "next", s.Next, "id", id, "error", err)
		}
	}
	return nil
}

// Fail marks the item failed with a truncated copy of cause. It writes even
// when ctx is already cancelled. A completed or deleted item is left alone
// and ErrSuperseded is returned.
func (c *Coordinator) Fail(ctx context.Context, s Stage, id string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	msg := ErrorText(cause)
	p := ledger.Patch{
		Status: ledger.StatusFailed,
		Set: map[string]string{
			FieldError:                                msg,
			FieldFailedStage:                          s.Name,
			ledger.TimestampField(ledger.StatusFailed): c.timestamp(),
		},
	}
	if err := c.transition(ctx, id, p); err != nil {
		return fmt.Errorf("marking %s failed: %w", id, err)
	}
	c.logger.Error("stage failed", "stage", s.Name, "id", id, "error", msg)
	return nil
}

// Run claims id for the named stage, runs the stage logic and completes or
// fails the item. Skipped and Conflict outcomes return a nil error. A logic
// or completion failure marks the item failed and returns an error wrapping
// ErrStageFailed. Other errors leave the item untouched.
func (c *Coordinator) Run(ctx context.Context, name, id string) (Outcome, error) {
	s, err := c.Stage(name)
	if err != nil {
		return OutcomeSkipped, err
	}

	ctx, span := c.tracer.Start(ctx, "stage.run", trace.WithAttributes(
		attribute.String("stage.name", name),
		attribute.String("stage.item", id),
	))
	defer span.End()

	item, outcome, err := c.Claim(ctx, s, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return outcome, err
	}
	if outcome != OutcomeClaimed {
		span.SetAttributes(attribute.String("stage.outcome", outcome.String()))
		return outcome, nil
	}

	out, err := s.Logic.Run(ctx, item)
	if err == nil {
		err = c.Complete(ctx, s, id, out)
	}
	if errors.Is(err, ErrSuperseded) {
		c.logger.Warn("item changed while stage ran, output discarded", "stage", name, "id", id, "error", err)
		span.SetAttributes(attribute.String("stage.outcome", OutcomeSkipped.String()))
		return OutcomeSkipped, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		ferr := c.Fail(ctx, s, id, err)
		if errors.Is(ferr, ErrSuperseded) {
			c.logger.Warn("item changed while stage ran, failure not recorded", "stage", name, "id", id, "error", err)
			return OutcomeSkipped, nil
		}
		if ferr != nil {
			return OutcomeFailed, errors.Join(fmt.Errorf("%w: %s: %w", ErrStageFailed, name, err), ferr)
		}
		return OutcomeFailed, fmt.Errorf("%w: %s: %w", ErrStageFailed, name, err)
	}

	span.SetAttributes(attribute.String("stage.outcome", OutcomeCompleted.String()))
	return OutcomeCompleted, nil
}

// Retry moves a failed item back to the required status of the stage that
// failed and triggers that stage again. Automatic processing never leaves
// the failed status; Retry is the operator's way out.
func (c *Coordinator) Retry(ctx context.Context, id string) error {
	item, err := c.ledger.Get(ctx, c.partition, id)
	if err != nil {
		return fmt.Errorf("reading %s: %w", id, err)
	}
	if item.Status != ledger.StatusFailed {
		return fmt.Errorf("%s is %s, only failed items can be retried", id, item.Status)
	}
	s, err := c.Stage(item.Field(FieldFailedStage))
	if err != nil {
		return fmt.Errorf("retrying %s: %w", id, err)
	}

	p := ledger.Patch{
		Status: s.Requires,
		Set:    map[string]string{"retried_at": c.timestamp()},
		Unset:  []string{FieldError, FieldFailedStage, s.StartedField()},
	}
	if err := c.ledger.ConditionalUpdate(ctx, c.partition, id, p, item.Version); err != nil {
		return fmt.Errorf("resetting %s to %s: %w", id, s.Requires, err)
	}
	c.logger.Info("retrying stage", "stage", s.Name, "id", id, "status", s.Requires)

	if c.handoff == nil {
		return nil
	}
	if err := c.handoff.Trigger(ctx, s.Name, id); err != nil {
		return fmt.Errorf("triggering %s for %s: %w", s.Name, id, err)
	}
	return nil
}

// Delete soft-deletes the item. Deleting a deleted item is a no-op.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	item, err := c.ledger.Get(ctx, c.partition, id)
	if err != nil {
		return fmt.Errorf("reading %s: %w", id, err)
	}
	if item.Status == ledger.StatusDeleted {
		return nil
	}
	p := ledger.Patch{
		Status: ledger.StatusDeleted,
		Set:    map[string]string{ledger.TimestampField(ledger.StatusDeleted): c.timestamp()},
	}
	if err := c.ledger.Merge(ctx, c.partition, id, p); err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}
	c.logger.Info("work item deleted", "id", id, "previous_status", item.Status)
	return nil
}

// Item returns a work item from the coordinator's partition.
func (c *Coordinator) Item(ctx context.Context, id string) (ledger.WorkItem, error) {
	return c.ledger.Get(ctx, c.partition, id)
}

// Items lists the coordinator's partition.
func (c *Coordinator) Items(ctx context.Context) ([]ledger.WorkItem, error) {
	return c.ledger.List(ctx, c.partition)
}

// ReadOutput returns the named stage's output for item, following an
// overflow pointer when present.
func (c *Coordinator) ReadOutput(ctx context.Context, item ledger.WorkItem, name string) ([]byte, error) {
	s, err := c.Stage(name)
	if err != nil {
		return nil, err
	}
	if s.OutputField == "" {
		return nil, fmt.Errorf("stage %s has no output field", name)
	}
	return c.overflow.Read(ctx, item, s.OutputField)
}
