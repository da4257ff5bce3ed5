// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SQLiteLedger persists work items in SQLite. The version token is an
// integer column bumped on every write; ConditionalUpdate is a single
// UPDATE guarded by that column.
type SQLiteLedger struct {
	db *sql.DB
}

// OpenSQLite opens or creates the ledger database at path and creates the
// schema if it does not exist.
func OpenSQLite(path string) (*SQLiteLedger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serializes writers inside the process; the busy
	// timeout covers other processes sharing the file.
	db.SetMaxOpenConns(1)

	l := &SQLiteLedger{db: db}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return l, nil
}

// SQLiteDSN returns the connection string shared by the ledger and the queue.
func SQLiteDSN(path string) string {
	return path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
}

// Close releases the database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

func (l *SQLiteLedger) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS work_items (
			partition TEXT NOT NULL,
			id TEXT NOT NULL,
			status TEXT NOT NULL,
			version INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (partition, id)
		)`,
		`CREATE TABLE IF NOT EXISTS work_item_fields (
			partition TEXT NOT NULL,
			id TEXT NOT NULL,
			name TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (partition, id, name),
			FOREIGN KEY (partition, id) REFERENCES work_items(partition, id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items(partition, status)`,
	}
	for _, stmt := range statements {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

const timeFmt = time.RFC3339Nano

// Create inserts item with version 1.
func (l *SQLiteLedger) Create(ctx context.Context, item WorkItem) (WorkItem, error) {
	if item.ID == "" || item.Status == "" {
		return WorkItem{}, fmt.Errorf("work item requires id and status")
	}
	item = item.Clone()
	now := time.Now().UTC()
	item.CreatedAt, item.UpdatedAt = now, now
	item.Version = "1"

	err := l.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO work_items (partition, id, status, version, seq, created_at, updated_at)
			 VALUES (?, ?, ?, 1, (SELECT COALESCE(MAX(seq), 0) + 1 FROM work_items), ?, ?)`,
			item.Partition, item.ID, string(item.Status), now.Format(timeFmt), now.Format(timeFmt))
		if err != nil {
			var se sqlite3.Error
			if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
				return fmt.Errorf("%w: %s", ErrExists, item.ID)
			}
			return fmt.Errorf("inserting work item: %w", err)
		}
		return writeFields(ctx, tx, item.Partition, item.ID, Patch{Set: item.Fields})
	})
	if err != nil {
		return WorkItem{}, err
	}
	return item, nil
}

// Get returns the stored item.
func (l *SQLiteLedger) Get(ctx context.Context, partition, id string) (WorkItem, error) {
	var item WorkItem
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		item, err = readItem(ctx, tx, partition, id)
		return err
	})
	return item, err
}

// ConditionalUpdate applies p when expectedVersion matches the stored version.
func (l *SQLiteLedger) ConditionalUpdate(ctx context.Context, partition, id string, p Patch, expectedVersion string) error {
	expected, err := strconv.ParseInt(expectedVersion, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s (malformed version %q)", ErrVersionConflict, id, expectedVersion)
	}
	return l.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE work_items
			 SET status = COALESCE(NULLIF(?, ''), status), version = version + 1, updated_at = ?
			 WHERE partition = ? AND id = ? AND version = ?`,
			string(p.Status), time.Now().UTC().Format(timeFmt), partition, id, expected)
		if err != nil {
			return fmt.Errorf("updating work item: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("updating work item: %w", err)
		}
		if n == 0 {
			if _, err := readItem(ctx, tx, partition, id); err != nil {
				return err
			}
			return fmt.Errorf("%w: %s", ErrVersionConflict, id)
		}
		return writeFields(ctx, tx, partition, id, p)
	})
}

// Merge applies p unconditionally.
func (l *SQLiteLedger) Merge(ctx context.Context, partition, id string, p Patch) error {
	return l.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE work_items
			 SET status = COALESCE(NULLIF(?, ''), status), version = version + 1, updated_at = ?
			 WHERE partition = ? AND id = ?`,
			string(p.Status), time.Now().UTC().Format(timeFmt), partition, id)
		if err != nil {
			return fmt.Errorf("updating work item: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return writeFields(ctx, tx, partition, id, p)
	})
}

// List returns the partition's items in creation order.
func (l *SQLiteLedger) List(ctx context.Context, partition string) ([]WorkItem, error) {
	var items []WorkItem
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, status, version, created_at, updated_at FROM work_items
			 WHERE partition = ? ORDER BY seq`, partition)
		if err != nil {
			return fmt.Errorf("listing work items: %w", err)
		}
		defer rows.Close()

		index := map[string]int{}
		for rows.Next() {
			item := WorkItem{Partition: partition, Fields: map[string]string{}}
			if err := scanItem(rows, &item); err != nil {
				return err
			}
			index[item.ID] = len(items)
			items = append(items, item)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("listing work items: %w", err)
		}

		frows, err := tx.QueryContext(ctx,
			`SELECT id, name, value FROM work_item_fields WHERE partition = ?`, partition)
		if err != nil {
			return fmt.Errorf("listing work item fields: %w", err)
		}
		defer frows.Close()
		for frows.Next() {
			var id, name, value string
			if err := frows.Scan(&id, &name, &value); err != nil {
				return fmt.Errorf("scanning field: %w", err)
			}
			if i, ok := index[id]; ok {
				items[i].Fields[name] = value
			}
		}
		return frows.Err()
	})
	return items, err
}

func (l *SQLiteLedger) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner, item *WorkItem) error {
	var status, created, updated string
	var version int64
	if err := s.Scan(&item.ID, &status, &version, &created, &updated); err != nil {
		return err
	}
	item.Status = Status(status)
	item.Version = strconv.FormatInt(version, 10)
	item.CreatedAt, _ = time.Parse(timeFmt, created)
	item.UpdatedAt, _ = time.Parse(timeFmt, updated)
	return nil
}

func readItem(ctx context.Context, tx *sql.Tx, partition, id string) (WorkItem, error) {
	item := WorkItem{Partition: partition, Fields: map[string]string{}}
	row := tx.QueryRowContext(ctx,
		`SELECT id, status, version, created_at, updated_at FROM work_items WHERE partition = ? AND id = ?`,
		partition, id)
	if err := scanItem(row, &item); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WorkItem{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return WorkItem{}, fmt.Errorf("reading work item: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT name, value FROM work_item_fields WHERE partition = ? AND id = ?`, partition, id)
	if err != nil {
		return WorkItem{}, fmt.Errorf("reading work item fields: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return WorkItem{}, fmt.Errorf("scanning field: %w", err)
		}
		item.Fields[name] = value
	}
	return item, rows.Err()
}

func writeFields(ctx context.Context, tx *sql.Tx, partition, id string, p Patch) error {
	for _, name := range p.Unset {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM work_item_fields WHERE partition = ? AND id = ? AND name = ?`,
			partition, id, name); err != nil {
			return fmt.Errorf("unsetting field %s: %w", name, err)
		}
	}
	for name, value := range p.Set {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO work_item_fields (partition, id, name, value) VALUES (?, ?, ?, ?)
			 ON CONFLICT (partition, id, name) DO UPDATE SET value = excluded.value`,
			partition, id, name, value); err != nil {
			return fmt.Errorf("setting field %s: %w", name, err)
		}
	}
	return nil
}
