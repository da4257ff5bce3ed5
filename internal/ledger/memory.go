// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ledger

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"
)

// MemoryLedger is an in-process Ledger guarded by a mutex.
type MemoryLedger struct {
	mu    sync.Mutex
	items map[string]*memoryRecord
	seq   int64
	now   func() time.Time
}

type memoryRecord struct {
	item    WorkItem
	version int64
	seq     int64
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		items: make(map[string]*memoryRecord),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func memoryKey(partition, id string) string { return partition + "\x00" + id }

// Create inserts item with version 1.
func (l *MemoryLedger) Create(_ context.Context, item WorkItem) (WorkItem, error) {
	if item.ID == "" || item.Status == "" {
		return WorkItem{}, fmt.Errorf("work item requires id and status")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := memoryKey(item.Partition, item.ID)
	if _, ok := l.items[key]; ok {
		return WorkItem{}, fmt.Errorf("%w: %s", ErrExists, item.ID)
	}
	item = item.Clone()
	now := l.now()
	item.CreatedAt, item.UpdatedAt = now, now
	item.Version = "1"
	l.seq++
	l.items[key] = &memoryRecord{item: item, version: 1, seq: l.seq}
	return item.Clone(), nil
}

// Get returns a copy of the stored item.
func (l *MemoryLedger) Get(_ context.Context, partition, id string) (WorkItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.items[memoryKey(partition, id)]
	if !ok {
		return WorkItem{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec.item.Clone(), nil
}

// ConditionalUpdate applies p when expectedVersion matches.
func (l *MemoryLedger) ConditionalUpdate(_ context.Context, partition, id string, p Patch, expectedVersion string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.items[memoryKey(partition, id)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if expectedVersion != strconv.FormatInt(rec.version, 10) {
		return fmt.Errorf("%w: %s", ErrVersionConflict, id)
	}
	l.applyLocked(rec, p)
	return nil
}

// Merge applies p unconditionally.
func (l *MemoryLedger) Merge(_ context.Context, partition, id string, p Patch) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.items[memoryKey(partition, id)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	l.applyLocked(rec, p)
	return nil
}

func (l *MemoryLedger) applyLocked(rec *memoryRecord, p Patch) {
	p.apply(&rec.item)
	rec.version++
	rec.item.Version = strconv.FormatInt(rec.version, 10)
	rec.item.UpdatedAt = l.now()
}

// List returns the partition's items in creation order.
func (l *MemoryLedger) List(_ context.Context, partition string) ([]WorkItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var recs []*memoryRecord
	for _, rec := range l.items {
		if rec.item.Partition == partition {
			recs = append(recs, rec)
		}
	}
	slices.SortFunc(recs, func(a, b *memoryRecord) int { return int(a.seq - b.seq) })
	out := make([]WorkItem, len(recs))
	for i, rec := range recs {
		out[i] = rec.item.Clone()
	}
	return out, nil
}
