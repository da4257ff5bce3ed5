// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package queue is a SQLite-backed work queue with at-least-once delivery.
// A received message is leased: it stays invisible until it is acked,
// nacked, or the lease expires, after which it is delivered again.
// Consumers must therefore be idempotent.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/novelty-engine/internal/ledger"
)

// Message is one delivery of an enqueued body.
type Message struct {
	ID         int64
	Topic      string
	Body       string
	Attempts   int
	EnqueuedAt time.Time
}

// Queue stores messages per topic.
type Queue struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the queue database at path. It may share a file
// with the ledger.
func Open(path string) (*Queue, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating queue directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", ledger.SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	q := &Queue{db: db, now: time.Now}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic TEXT NOT NULL,
		body TEXT NOT NULL,
		visible_at INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		enqueued_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_topic_visible ON messages(topic, visible_at)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return q, nil
}

// Close releases the database connection.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue appends body to topic, visible immediately.
func (q *Queue) Enqueue(ctx context.Context, topic, body string) error {
	now := q.now().UnixNano()
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO messages (topic, body, visible_at, enqueued_at) VALUES (?, ?, ?, ?)`,
		topic, body, now, now)
	if err != nil {
		return fmt.Errorf("enqueueing to %s: %w", topic, err)
	}
	return nil
}

// Trigger enqueues a work item id on the stage's topic. It lets the queue
// serve as the pipeline's hand-off mechanism.
func (q *Queue) Trigger(ctx context.Context, stage, id string) error {
	return q.Enqueue(ctx, stage, id)
}

// Receive leases the oldest visible message on topic for the lease
// duration. It returns nil, nil when none is available.
func (q *Queue) Receive(ctx context.Context, topic string, lease time.Duration) (*Message, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := q.now()
	var m Message
	var enqueued int64
	err = tx.QueryRowContext(ctx,
		`SELECT id, topic, body, attempts, enqueued_at FROM messages
		 WHERE topic = ? AND visible_at <= ? ORDER BY id LIMIT 1`,
		topic, now.UnixNano()).Scan(&m.ID, &m.Topic, &m.Body, &m.Attempts, &enqueued)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receiving from %s: %w", topic, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET visible_at = ?, attempts = attempts + 1 WHERE id = ?`,
		now.Add(lease).UnixNano(), m.ID); err != nil {
		return nil, fmt.Errorf("leasing message %d: %w", m.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing lease: %w", err)
	}
	m.Attempts++
	m.EnqueuedAt = time.Unix(0, enqueued)
	return &m, nil
}

// Ack removes a delivered message.
func (q *Queue) Ack(ctx context.Context, id int64) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("acking message %d: %w", id, err)
	}
	return nil
}

// Nack returns a delivered message to the queue. It becomes visible again
// after delay; zero means immediately.
func (q *Queue) Nack(ctx context.Context, id int64, delay time.Duration) error {
	if _, err := q.db.ExecContext(ctx,
		`UPDATE messages SET visible_at = ? WHERE id = ?`, q.now().Add(delay).UnixNano(), id); err != nil {
		return fmt.Errorf("nacking message %d: %w", id, err)
	}
	return nil
}

// Len counts messages on topic, leased ones included.
func (q *Queue) Len(ctx context.Context, topic string) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx,
		`SELECT count(*) FROM messages WHERE topic = ?`, topic).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", topic, err)
	}
	return n, nil
}
