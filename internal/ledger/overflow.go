// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/pdiddy/novelty-engine/internal/blobstore"
)

// DefaultMaxInline is the largest stage output kept inline, leaving headroom
// under a 32 KiB property limit for the field name and entity overhead.
const DefaultMaxInline = 32*1024 - 256

// Overflow decides whether a stage output lives in the ledger or in the
// blob store. Large outputs are written to the blob store and the item keeps
// a pointer field named BlobField(field) instead.
type Overflow struct {
	Blobs     blobstore.Store
	MaxInline int
}

// BlobField names the pointer field for an overflowed field.
func BlobField(field string) string {
	return field + "_blob"
}

// BlobKey is the blob store key for a stage's overflowed output.
func BlobKey(stage, id string) string {
	return stage + "-outputs/" + id + ".json"
}

func (o Overflow) maxInline() int {
	if o.MaxInline <= 0 {
		return DefaultMaxInline
	}
	return o.MaxInline
}

// Place returns a patch storing value under field, writing it to key in the
// blob store first when it is too large to keep inline. Whichever of the
// inline field and the pointer field is not used is unset so stale data
// never shadows the new output.
func (o Overflow) Place(ctx context.Context, key, field string, value []byte) (Patch, error) {
	if len(value) < o.maxInline() {
		return Patch{
			Set:   map[string]string{field: string(value)},
			Unset: []string{BlobField(field)},
		}, nil
	}
	if o.Blobs == nil {
		return Patch{}, fmt.Errorf("output for %s is %d bytes and no blob store is configured", field, len(value))
	}
	if err := o.Blobs.Put(ctx, key, value); err != nil {
		return Patch{}, fmt.Errorf("writing overflow blob %s: %w", key, err)
	}
	return Patch{
		Set:   map[string]string{BlobField(field): key},
		Unset: []string{field},
	}, nil
}

// ErrFieldMissing is returned by Read when neither the pointer nor the
// inline field is present.
var ErrFieldMissing = errors.New("output field missing")

// Read returns the value of field, following the pointer field first.
func (o Overflow) Read(ctx context.Context, item WorkItem, field string) ([]byte, error) {
	if key := item.Field(BlobField(field)); key != "" {
		if o.Blobs == nil {
			return nil, fmt.Errorf("%s points to blob %s but no blob store is configured", field, key)
		}
		data, err := o.Blobs.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("reading overflow blob %s: %w", key, err)
		}
		return data, nil
	}
	if item.Has(field) {
		return []byte(item.Field(field)), nil
	}
	return nil, fmt.Errorf("%w: %s on %s", ErrFieldMissing, field, item.ID)
}
