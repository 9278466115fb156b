package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mrowe/qaboard/internal/devrev"
	"github.com/mrowe/qaboard/internal/store"
)

// fakeFetcher replays a canned response, optionally blocking until released
// so concurrent-run behavior can be observed.
type fakeFetcher struct {
	works   []devrev.Work
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeFetcher) FetchIssuesAndTickets(ctx context.Context, onProgress devrev.ProgressFunc) ([]devrev.Work, error) {
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	if onProgress != nil {
		onProgress(len(f.works), "")
	}
	return f.works, nil
}

func workDoc(t *testing.T, id, typ, state string) devrev.Work {
	t.Helper()
	doc := fmt.Sprintf(
		`{"id":%q,"display_id":"TKT-%s","title":"work %s","type":%q,"state":%q,"created_date":"2025-03-01T00:00:00Z","modified_date":"2025-03-02T00:00:00Z"}`,
		id, id, id, typ, state)

	var w devrev.Work
	require.NoError(t, json.Unmarshal([]byte(doc), &w))
	return w
}

func newTestOrchestrator(t *testing.T, remote Fetcher) (*Orchestrator, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, remote, zap.NewNop()), db
}

func TestRunSyncSuccess(t *testing.T) {
	remote := &fakeFetcher{works: []devrev.Work{
		workDoc(t, "w1", "ticket", "Open"),
		workDoc(t, "w2", "issue", "Closed"),
	}}
	orch, db := newTestOrchestrator(t, remote)
	ctx := context.Background()

	result, err := orch.RunSync(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalFetched)
	assert.Equal(t, 2, result.TotalStored)

	count, err := db.TicketCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	rec, err := db.GetSyncRecord(ctx, result.SyncID)
	require.NoError(t, err)
	assert.Equal(t, store.SyncStatusSuccess, rec.Status)
	assert.Equal(t, 2, rec.TotalFetched)
	assert.NotNil(t, rec.SyncCompletedAt)
}

func TestRunSyncSkipsInvalidDocuments(t *testing.T) {
	works := make([]devrev.Work, 0, 10)
	for i := 1; i <= 10; i++ {
		w := workDoc(t, fmt.Sprintf("w%d", i), "ticket", "Open")
		if i == 7 {
			w.ID = ""
		}
		works = append(works, w)
	}
	orch, db := newTestOrchestrator(t, &fakeFetcher{works: works})
	ctx := context.Background()

	result, err := orch.RunSync(ctx, false)
	require.NoError(t, err)

	// The malformed document is skipped; the other nine land.
	assert.Equal(t, 10, result.TotalFetched)
	assert.Equal(t, 9, result.TotalStored)

	count, err := db.TicketCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, count)
}

func TestRunSyncForceReplacesTickets(t *testing.T) {
	remote := &fakeFetcher{works: []devrev.Work{workDoc(t, "new", "ticket", "Open")}}
	orch, db := newTestOrchestrator(t, remote)
	ctx := context.Background()

	require.NoError(t, db.UpsertTicket(ctx, &store.Ticket{
		ID: "stale", DisplayID: "TKT-stale", Title: "stale", Type: "ticket",
		CreatedDate: "2025-01-01T00:00:00Z", ModifiedDate: "2025-01-01T00:00:00Z",
		RawData: "{}",
	}))

	_, err := orch.RunSync(ctx, true)
	require.NoError(t, err)

	_, err = db.GetTicket(ctx, "stale")
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := db.GetTicket(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, "new", got.ID)
}

func TestRunSyncFetchFailureMarksRunFailed(t *testing.T) {
	orch, db := newTestOrchestrator(t, &fakeFetcher{err: errors.New("remote unavailable")})
	ctx := context.Background()

	_, err := orch.RunSync(ctx, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote unavailable")

	history, err := db.ListSyncHistory(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, store.SyncStatusFailed, history[0].Status)
	require.NotNil(t, history[0].ErrorMessage)
	assert.Contains(t, *history[0].ErrorMessage, "remote unavailable")
}

func TestRunSyncFetchFailureLeavesTicketsUntouched(t *testing.T) {
	orch, db := newTestOrchestrator(t, &fakeFetcher{err: errors.New("boom")})
	ctx := context.Background()

	require.NoError(t, db.UpsertTicket(ctx, &store.Ticket{
		ID: "keep", DisplayID: "TKT-keep", Title: "keep", Type: "ticket",
		CreatedDate: "2025-01-01T00:00:00Z", ModifiedDate: "2025-01-01T00:00:00Z",
		RawData: "{}",
	}))

	_, err := orch.RunSync(ctx, true)
	require.Error(t, err)

	// The force clear never ran because the fetch failed first.
	count, err := db.TicketCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRunSyncMutualExclusion(t *testing.T) {
	remote := &fakeFetcher{
		works:   []devrev.Work{workDoc(t, "w1", "ticket", "Open")},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	orch, _ := newTestOrchestrator(t, remote)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := orch.RunSync(ctx, false)
		assert.NoError(t, err)
	}()

	<-remote.started
	_, err := orch.RunSync(ctx, false)
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(remote.release)
	wg.Wait()

	// With the first run finished, a new run is accepted again.
	remote.started = nil
	remote.release = nil
	_, err = orch.RunSync(ctx, false)
	assert.NoError(t, err)
}

func TestTicketFromWork(t *testing.T) {
	doc := `{
		"id": "don:core:work/1",
		"display_id": "TKT-1",
		"title": "login broken",
		"body": "cannot log in",
		"type": "ticket",
		"state": "Closed",
		"priority": "p1",
		"created_date": "2025-03-01T00:00:00Z",
		"modified_date": "2025-03-02T00:00:00Z",
		"owned_by": {"id": "user-1", "display_name": "Dana"},
		"applies_to_part": {"id": "part-1", "name": "Checkout"},
		"tags": [{"id": "tag-1", "name": "regression"}],
		"custom_fields": {"tnt__automated_test": "done"}
	}`
	var w devrev.Work
	require.NoError(t, json.Unmarshal([]byte(doc), &w))

	ticket, err := ticketFromWork(&w)
	require.NoError(t, err)

	assert.Equal(t, "don:core:work/1", ticket.ID)
	assert.Equal(t, "TKT-1", ticket.DisplayID)
	assert.Equal(t, "login broken", ticket.Title)
	// The remote label is stored verbatim, including Closed.
	require.NotNil(t, ticket.State)
	assert.Equal(t, "Closed", *ticket.State)
	require.NotNil(t, ticket.OwnedByName)
	assert.Equal(t, "Dana", *ticket.OwnedByName)
	require.NotNil(t, ticket.AppliesToPartName)
	assert.Equal(t, "Checkout", *ticket.AppliesToPartName)
	require.NotNil(t, ticket.AutomatedTest)
	assert.Equal(t, "done", *ticket.AutomatedTest)
	require.NotNil(t, ticket.Tags)
	assert.JSONEq(t, `[{"id":"tag-1","name":"regression"}]`, *ticket.Tags)
	assert.JSONEq(t, doc, ticket.RawData)
}

func TestTicketFromWorkDefaults(t *testing.T) {
	var w devrev.Work
	require.NoError(t, json.Unmarshal([]byte(`{"id":"w1","title":"bare"}`), &w))

	ticket, err := ticketFromWork(&w)
	require.NoError(t, err)

	// display_id falls back to the id and the type defaults to issue.
	assert.Equal(t, "w1", ticket.DisplayID)
	assert.Equal(t, "issue", ticket.Type)
	assert.Nil(t, ticket.State)
	assert.Nil(t, ticket.Tags)

	w.ID = ""
	_, err = ticketFromWork(&w)
	require.Error(t, err)
}
