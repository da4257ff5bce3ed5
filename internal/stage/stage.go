// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package stage runs pipeline stages against the ledger. Each stage claims a
// work item with a version-guarded update, runs its logic, then records its
// output and hands the item to the next stage. Duplicate or racing triggers
// for the same item are harmless: exactly one claim wins and the rest are
// no-ops.
package stage

import (
	"context"
	"errors"

	"github.com/pdiddy/novelty-engine/internal/ledger"
)

var (
	// ErrStageFailed wraps an error from stage logic. The item has already
	// been marked failed when Run returns it.
	ErrStageFailed = errors.New("stage failed")

	// ErrUnknownStage is returned for a stage name that was never registered.
	ErrUnknownStage = errors.New("unknown stage")

	// ErrSuperseded means the item left the stage's running status, for
	// example by being deleted, before the stage could record its result.
	ErrSuperseded = errors.New("item superseded")
)

// MaxErrorLen bounds the error text stored on a failed item.
const MaxErrorLen = 32000

// Ledger field names written by the coordinator.
const (
	FieldError       = "error"
	FieldFailedStage = "failed_stage"
)

// Output is what stage logic produces. Value is stored under the stage's
// OutputField, in the blob store when it is too large to keep inline.
// Fields are small extra values merged into the item as they are.
type Output struct {
	Value  []byte
	Fields map[string]string
}

// Logic is the work a stage performs on a claimed item.
type Logic interface {
	Run(ctx context.Context, item ledger.WorkItem) (Output, error)
}

// LogicFunc adapts a function to Logic.
type LogicFunc func(ctx context.Context, item ledger.WorkItem) (Output, error)

// Run calls f.
func (f LogicFunc) Run(ctx context.Context, item ledger.WorkItem) (Output, error) {
	return f(ctx, item)
}

// Stage describes one step of the pipeline.
type Stage struct {
	Name string

	// Requires is the status an item must have for the stage to run.
	Requires ledger.Status

	// Running is written by the claim. When it equals Requires the stage
	// has no running status and the claim is recorded by StartedField alone.
	Running ledger.Status

	// Produces is written on completion.
	Produces ledger.Status

	// Next is the stage triggered after completion, if any.
	Next string

	// OutputField names the ledger field holding Output.Value.
	OutputField string

	Logic Logic
}

// StartedField names the field recording when the stage claimed an item.
func (s Stage) StartedField() string {
	return s.Name + "_started_at"
}

// Handoff starts a stage for an item. Delivery may be lost or duplicated;
// the claim protocol makes duplicates harmless.
type Handoff interface {
	Trigger(ctx context.Context, stage, id string) error
}

// HandoffFunc adapts a function to Handoff.
type HandoffFunc func(ctx context.Context, stage, id string) error

// Trigger calls f.
func (f HandoffFunc) Trigger(ctx context.Context, stage, id string) error {
	return f(ctx, stage, id)
}

// Outcome reports what a stage invocation did.
type Outcome int

const (
	// OutcomeClaimed means the claim succeeded and the caller owns the item.
	OutcomeClaimed Outcome = iota
	// OutcomeCompleted means the stage ran and the item advanced.
	OutcomeCompleted
	// OutcomeSkipped means the item was not in the stage's required status.
	OutcomeSkipped
	// OutcomeConflict means another worker claimed the item first.
	OutcomeConflict
	// OutcomeFailed means the stage logic failed and the item is marked failed.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeClaimed:
		return "claimed"
	case OutcomeCompleted:
		return "completed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeConflict:
		return "conflict"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
// ErrorText returns err's message cut to MaxErrorLen bytes on a rune
// boundary, the form stored in the error field of a failed item.
func ErrorText(err error) string {
	return truncate(err.Error(), MaxErrorLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
