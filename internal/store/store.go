// Package store implements the local relational store for the QA dashboard.
//
// The store is an embedded SQLite database holding three tables: tickets
// (the reconciled mirror of remote work items), sync_history (one row per
// synchronization run) and automation_plans (lightweight planning records).
// The database runs with WAL mode so analytics reads stay concurrent with
// an in-flight sync transaction.
//
// Storage keeps the remote vocabulary verbatim; in particular the state
// label "Closed" is stored as-is and only relabeled to "Resolved" on read
// paths. Storage is the source of truth, "Resolved" is a projection.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned when a lookup by identifier matches nothing.
var ErrNotFound = errors.New("not found")

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path, creating the
// parent directory and the schema as needed. The caller must Close().
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := db.InitSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates all tables and indexes. Idempotent.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tickets (
		id TEXT PRIMARY KEY,
		display_id TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT,
		type TEXT NOT NULL,
		state TEXT,
		stage_name TEXT,
		priority TEXT,
		severity TEXT,
		subtype TEXT,
		created_date TEXT NOT NULL,
		modified_date TEXT NOT NULL,
		target_close_date TEXT,
		created_by_id TEXT,
		created_by_name TEXT,
		modified_by_id TEXT,
		modified_by_name TEXT,
		owned_by_id TEXT,
		owned_by_name TEXT,
		reported_by_id TEXT,
		reported_by_name TEXT,
		applies_to_part_id TEXT,
		applies_to_part_name TEXT,
		tags TEXT,  -- JSON array
		sprint_id TEXT,
		sprint_name TEXT,
		automated_test TEXT,
		raw_data TEXT NOT NULL,  -- full remote document, JSON
		synced_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sync_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sync_started_at TEXT NOT NULL,
		sync_completed_at TEXT,
		status TEXT NOT NULL,
		total_fetched INTEGER NOT NULL DEFAULT 0,
		total_inserted INTEGER NOT NULL DEFAULT 0,
		total_updated INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS automation_plans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		feature_name TEXT NOT NULL,
		release_status TEXT,
		complexity TEXT,
		owner TEXT,
		weekly_plan TEXT,
		automation_status TEXT,
		test_scenario_document TEXT,
		notes TEXT,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Indexes for the filter and group-by paths
	CREATE INDEX IF NOT EXISTS idx_tickets_type ON tickets(type);
	CREATE INDEX IF NOT EXISTS idx_tickets_state ON tickets(state);
	CREATE INDEX IF NOT EXISTS idx_tickets_priority ON tickets(priority);
	CREATE INDEX IF NOT EXISTS idx_tickets_created_date ON tickets(created_date);
	CREATE INDEX IF NOT EXISTS idx_tickets_part ON tickets(applies_to_part_name);
	CREATE INDEX IF NOT EXISTS idx_sync_history_created ON sync_history(created_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Tx is an explicit transaction scope over the store's write operations.
type Tx struct {
	tx *sql.Tx
}

// Begin opens a write transaction.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Safe to call after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// execer abstracts over DB and Tx so write statements can run in either.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
