// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/novelty-engine/internal/ledger"
)

func openQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestEnqueueReceiveFIFO(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t)
	require.NoError(t, q.Enqueue(ctx, "classification", "a"))
	require.NoError(t, q.Enqueue(ctx, "classification", "b"))
	require.NoError(t, q.Enqueue(ctx, "analysis", "c"))

	m, err := q.Receive(ctx, "classification", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "a", m.Body)
	assert.Equal(t, 1, m.Attempts)

	m2, err := q.Receive(ctx, "classification", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, m2)
	assert.Equal(t, "b", m2.Body)

	// Both leased: nothing visible.
	m3, err := q.Receive(ctx, "classification", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, m3)

	n, err := q.Len(ctx, "analysis")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "topics are independent")
}

func TestAckRemoves(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t)
	require.NoError(t, q.Enqueue(ctx, "t", "x"))

	m, err := q.Receive(ctx, "t", time.Minute)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, m.ID))

	n, err := q.Len(ctx, "t")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNackRedelivers(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t)
	require.NoError(t, q.Enqueue(ctx, "t", "x"))

	m, err := q.Receive(ctx, "t", time.Hour)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, m.ID, 0))

	again, err := q.Receive(ctx, "t", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, m.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)
}

func TestNackDelayHidesMessage(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t)
	clock := time.Now()
	q.now = func() time.Time { return clock }

	require.NoError(t, q.Enqueue(ctx, "t", "x"))
	m, err := q.Receive(ctx, "t", time.Hour)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, m.ID, 30*time.Second))

	clock = clock.Add(10 * time.Second)
	again, err := q.Receive(ctx, "t", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, again, "still inside the nack delay")

	clock = clock.Add(30 * time.Second)
	again, err = q.Receive(ctx, "t", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, 2, again.Attempts)
}

func TestExpiredLeaseRedelivers(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t)
	clock := time.Now()
	q.now = func() time.Time { return clock }

	require.NoError(t, q.Enqueue(ctx, "t", "x"))
	_, err := q.Receive(ctx, "t", time.Minute)
	require.NoError(t, err)

	clock = clock.Add(30 * time.Second)
	m, err := q.Receive(ctx, "t", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, m, "lease still held")

	clock = clock.Add(time.Minute)
	m, err = q.Receive(ctx, "t", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, m, "expired lease makes the message visible again")
	assert.Equal(t, 2, m.Attempts)
}

func TestTriggerEnqueuesOnStageTopic(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t)
	require.NoError(t, q.Trigger(ctx, "aggregation", "item-7"))

	m, err := q.Receive(ctx, "aggregation", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "item-7", m.Body)
}

func TestSharesFileWithLedger(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "novelty.db")

	l, err := ledger.OpenSQLite(path)
	require.NoError(t, err)
	defer l.Close()
	q, err := Open(path)
	require.NoError(t, err)
	defer q.Close()

	_, err = l.Create(ctx, ledger.WorkItem{Partition: "p", ID: "1", Status: ledger.StatusUploaded})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, "classification", "1"))

	n, err := q.Len(ctx, "classification")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
