package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Sync run statuses. A run starts in_progress and transitions exactly once
// to a terminal status.
const (
	SyncStatusInProgress = "in_progress"
	SyncStatusSuccess    = "success"
	SyncStatusFailed     = "failed"
)

// SyncRecord is one synchronization run. Rows are never deleted.
type SyncRecord struct {
	ID              int64   `json:"id"`
	SyncStartedAt   string  `json:"sync_started_at"`
	SyncCompletedAt *string `json:"sync_completed_at"`
	Status          string  `json:"status"`
	TotalFetched    int     `json:"total_fetched"`
	TotalInserted   int     `json:"total_inserted"`
	TotalUpdated    int     `json:"total_updated"`
	ErrorMessage    *string `json:"error_message"`
	CreatedAt       string  `json:"created_at"`
}

// SyncCompletion carries the terminal state written back to a sync record.
type SyncCompletion struct {
	Status        string
	TotalFetched  int
	TotalInserted int
	TotalUpdated  int
	ErrorMessage  *string
}

// CreateSyncRecord inserts a new in_progress run and returns its id.
func (db *DB) CreateSyncRecord(ctx context.Context) (int64, error) {
	startedAt := time.Now().UTC().Format(time.RFC3339)

	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO sync_history (sync_started_at, status)
		VALUES (?, ?)`, startedAt, SyncStatusInProgress)
	if err != nil {
		return 0, fmt.Errorf("failed to create sync record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read sync record id: %w", err)
	}
	return id, nil
}

// CompleteSyncRecord writes the terminal status, counts and completion
// timestamp for a run. Called exactly once per run.
func (db *DB) CompleteSyncRecord(ctx context.Context, id int64, c SyncCompletion) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE sync_history SET
			sync_completed_at = CURRENT_TIMESTAMP,
			status = ?,
			total_fetched = ?,
			total_inserted = ?,
			total_updated = ?,
			error_message = ?
		WHERE id = ?`,
		c.Status, c.TotalFetched, c.TotalInserted, c.TotalUpdated, c.ErrorMessage, id)
	if err != nil {
		return fmt.Errorf("failed to complete sync record %d: %w", id, err)
	}
	return nil
}

const syncColumns = `id, sync_started_at, sync_completed_at, status,
	total_fetched, total_inserted, total_updated, error_message, created_at`

// GetSyncRecord retrieves a run by id. Returns ErrNotFound when absent.
func (db *DB) GetSyncRecord(ctx context.Context, id int64) (*SyncRecord, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+syncColumns+" FROM sync_history WHERE id = ?", id)

	r, err := scanSyncRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync record %d: %w", id, err)
	}
	return r, nil
}

// ListSyncHistory returns the most recent runs, newest first.
func (db *DB) ListSyncHistory(ctx context.Context, limit int) ([]SyncRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+syncColumns+" FROM sync_history ORDER BY created_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync history: %w", err)
	}
	defer rows.Close()

	history := []SyncRecord{}
	for rows.Next() {
		r, err := scanSyncRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync record: %w", err)
		}
		history = append(history, *r)
	}
	return history, rows.Err()
}

// SyncRunCount returns the total number of recorded runs.
func (db *DB) SyncRunCount(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_history").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sync records: %w", err)
	}
	return count, nil
}

func scanSyncRecord(row rowScanner) (*SyncRecord, error) {
	var r SyncRecord
	err := row.Scan(
		&r.ID, &r.SyncStartedAt, &r.SyncCompletedAt, &r.Status,
		&r.TotalFetched, &r.TotalInserted, &r.TotalUpdated,
		&r.ErrorMessage, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
