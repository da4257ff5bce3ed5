// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ledger stores pipeline work items with an opaque version token
// per item. ConditionalUpdate applies a patch only when the caller's token
// still matches, which is how stages claim work without locks. Patches are
// field-scoped: fields a patch does not name are left untouched.
package ledger

import (
	"context"
	"errors"
	"maps"
	"time"
)

var (
	// ErrNotFound is returned when the item does not exist.
	ErrNotFound = errors.New("work item not found")

	// ErrVersionConflict is returned by ConditionalUpdate when the item
	// changed since the caller read it.
	ErrVersionConflict = errors.New("work item version conflict")

	// ErrExists is returned by Create when the id is already taken.
	ErrExists = errors.New("work item already exists")
)

// WorkItem is one manuscript moving through the pipeline.
type WorkItem struct {
	Partition string            `json:"partition" yaml:"partition"`
	ID        string            `json:"id" yaml:"id"`
	Status    Status            `json:"status" yaml:"status"`
	Version   string            `json:"version" yaml:"version"`
	Fields    map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"`
	CreatedAt time.Time         `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" yaml:"updated_at"`
}

// Field returns the named field or "".
func (w WorkItem) Field(name string) string {
	return w.Fields[name]
}

// Has reports whether the named field is present.
func (w WorkItem) Has(name string) bool {
	_, ok := w.Fields[name]
	return ok
}

// Clone returns a deep copy.
func (w WorkItem) Clone() WorkItem {
	w.Fields = maps.Clone(w.Fields)
	if w.Fields == nil {
		w.Fields = map[string]string{}
	}
	return w
}

// Patch is a field-scoped change. An empty Status leaves the status alone.
// Unset is applied before Set.
type Patch struct {
	Status Status
	Set    map[string]string
	Unset  []string
}

// With returns a copy of p with field set to value.
func (p Patch) With(field, value string) Patch {
	set := maps.Clone(p.Set)
	if set == nil {
		set = map[string]string{}
	}
	set[field] = value
	p.Set = set
	return p
}

// Patched returns a copy of w with p applied. The copy keeps w's version
// token; it is not what the ledger would report after the write.
func (w WorkItem) Patched(p Patch) WorkItem {
	out := w.Clone()
	p.apply(&out)
	return out
}

func (p Patch) apply(w *WorkItem) {
	if w.Fields == nil {
		w.Fields = map[string]string{}
	}
	for _, name := range p.Unset {
		delete(w.Fields, name)
	}
	maps.Copy(w.Fields, p.Set)
	if p.Status != "" {
		w.Status = p.Status
	}
}

// Ledger is the shared job store.
type Ledger interface {
	// Create inserts a new item; its Version is assigned by the ledger.
	Create(ctx context.Context, item WorkItem) (WorkItem, error)

	// Get returns the item with its current version token.
	Get(ctx context.Context, partition, id string) (WorkItem, error)

	// ConditionalUpdate applies p only if the stored version equals
	// expectedVersion, returning ErrVersionConflict otherwise.
	ConditionalUpdate(ctx context.Context, partition, id string, p Patch, expectedVersion string) error

	// Merge applies p unconditionally.
	Merge(ctx context.Context, partition, id string, p Patch) error

	// List returns the partition's items ordered by creation time.
	List(ctx context.Context, partition string) ([]WorkItem, error)
}
