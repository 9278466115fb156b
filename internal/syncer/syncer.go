// Package syncer coordinates full synchronization runs: fetch every work
// item from the remote source, reconcile the set into the local store
// inside one transaction, and record the run in sync history.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mrowe/qaboard/internal/devrev"
	"github.com/mrowe/qaboard/internal/store"
)

// ErrSyncInProgress is returned when a run is triggered while another is
// still active. Runs are mutually exclusive within one process.
var ErrSyncInProgress = errors.New("a sync run is already in progress")

// Fetcher is the remote work source as the orchestrator needs it.
type Fetcher interface {
	FetchIssuesAndTickets(ctx context.Context, onProgress devrev.ProgressFunc) ([]devrev.Work, error)
}

// Orchestrator runs synchronizations. It holds no state between runs beyond
// the mutual-exclusion lock.
type Orchestrator struct {
	db     *store.DB
	remote Fetcher
	logger *zap.Logger

	mu sync.Mutex
}

// RunResult summarizes a completed run.
type RunResult struct {
	SyncID       int64 `json:"syncId"`
	TotalFetched int   `json:"totalFetched"`
	TotalStored  int   `json:"totalStored"`
}

// New creates an Orchestrator.
func New(db *store.DB, remote Fetcher, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{db: db, remote: remote, logger: logger}
}

// RunSync executes one full synchronization.
//
// A sync_history row is created up front with status in_progress and
// completed exactly once with the terminal status. With force set, all
// existing tickets are deleted inside the same transaction that applies the
// fetched set, so the replacement is atomic. Individual documents that fail
// reconciliation are logged and skipped; the run still succeeds if the
// transaction commits. Fetch or transaction failures mark the run failed
// and surface to the caller.
func (o *Orchestrator) RunSync(ctx context.Context, force bool) (*RunResult, error) {
	if !o.mu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer o.mu.Unlock()

	syncID, err := o.db.CreateSyncRecord(ctx)
	if err != nil {
		return nil, err
	}

	o.logger.Info("sync started", zap.Int64("sync_id", syncID), zap.Bool("force", force))

	fetched, stored, err := o.run(ctx, force)
	if err != nil {
		msg := err.Error()
		if cerr := o.db.CompleteSyncRecord(ctx, syncID, store.SyncCompletion{
			Status:       store.SyncStatusFailed,
			TotalFetched: fetched,
			ErrorMessage: &msg,
		}); cerr != nil {
			o.logger.Error("failed to record sync failure", zap.Int64("sync_id", syncID), zap.Error(cerr))
		}
		return nil, fmt.Errorf("sync %d failed: %w", syncID, err)
	}

	// The upsert does not distinguish inserts from updates, so every
	// applied document counts as updated. Deliberate simplification.
	if err := o.db.CompleteSyncRecord(ctx, syncID, store.SyncCompletion{
		Status:       store.SyncStatusSuccess,
		TotalFetched: fetched,
		TotalUpdated: stored,
	}); err != nil {
		return nil, err
	}

	o.logger.Info("sync completed",
		zap.Int64("sync_id", syncID),
		zap.Int("fetched", fetched),
		zap.Int("stored", stored))

	return &RunResult{SyncID: syncID, TotalFetched: fetched, TotalStored: stored}, nil
}

func (o *Orchestrator) run(ctx context.Context, force bool) (fetched, stored int, err error) {
	works, err := o.remote.FetchIssuesAndTickets(ctx, func(count int, nextCursor string) {
		o.logger.Info("sync progress",
			zap.Int("fetched", count),
			zap.Bool("more", nextCursor != ""))
	})
	if err != nil {
		return 0, 0, err
	}

	tx, err := o.db.Begin(ctx)
	if err != nil {
		return len(works), 0, err
	}
	defer tx.Rollback()

	if force {
		if err := tx.ClearTickets(ctx); err != nil {
			return len(works), 0, err
		}
		o.logger.Info("cleared existing tickets")
	}

	for i := range works {
		work := &works[i]

		ticket, err := ticketFromWork(work)
		if err != nil {
			o.logger.Warn("skipping work document", zap.String("work_id", work.ID), zap.Error(err))
			continue
		}
		if err := tx.UpsertTicket(ctx, ticket); err != nil {
			o.logger.Warn("failed to upsert ticket", zap.String("ticket_id", ticket.ID), zap.Error(err))
			continue
		}
		stored++
	}

	if err := tx.Commit(); err != nil {
		return len(works), 0, err
	}

	return len(works), stored, nil
}
