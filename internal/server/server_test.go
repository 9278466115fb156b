package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mrowe/qaboard/internal/store"
	"github.com/mrowe/qaboard/internal/syncer"
)

// stubRunner satisfies SyncRunner with a canned result or error.
type stubRunner struct {
	result *syncer.RunResult
	err    error
	force  bool
	calls  int
}

func (r *stubRunner) RunSync(ctx context.Context, force bool) (*syncer.RunResult, error) {
	r.calls++
	r.force = force
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

func newTestServer(t *testing.T, runner SyncRunner) (*Server, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, runner, nil, nil, zap.NewNop()), db
}

func seedTicket(t *testing.T, db *store.DB, id, typ, state string) {
	t.Helper()
	st := &state
	if state == "" {
		st = nil
	}
	require.NoError(t, db.UpsertTicket(context.Background(), &store.Ticket{
		ID:           id,
		DisplayID:    "TKT-" + id,
		Title:        "title " + id,
		Type:         typ,
		State:        st,
		CreatedDate:  "2025-03-05T10:00:00Z",
		ModifiedDate: "2025-03-06T10:00:00Z",
		RawData:      `{"id":"` + id + `"}`,
	}))
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthEndpoint(t *testing.T) {
	srv, db := newTestServer(t, &stubRunner{})
	seedTicket(t, db, "t1", "ticket", "Open")

	rec := doRequest(t, srv.Router(), http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(1), body["tickets"])
}

func TestListTicketsEndpoint(t *testing.T) {
	srv, db := newTestServer(t, &stubRunner{})
	seedTicket(t, db, "t1", "ticket", "Open")
	seedTicket(t, db, "t2", "ticket", "Closed")
	seedTicket(t, db, "i1", "issue", "Open")

	rec := doRequest(t, srv.Router(), http.MethodGet, "/api/tickets/?type=ticket", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result store.TicketPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Len(t, result.Tickets, 2)
	assert.Equal(t, 2, result.Pagination.Total)

	// The Closed row comes back relabeled.
	states := map[string]bool{}
	for _, tk := range result.Tickets {
		if tk.State != nil {
			states[*tk.State] = true
		}
	}
	assert.True(t, states["Resolved"])
	assert.False(t, states["Closed"])
}

func TestStatsEndpoint(t *testing.T) {
	srv, db := newTestServer(t, &stubRunner{})
	seedTicket(t, db, "t1", "ticket", "Closed")
	seedTicket(t, db, "t2", "ticket", "Resolved")

	rec := doRequest(t, srv.Router(), http.MethodGet, "/api/tickets/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["total"])
	byState := body["byState"].(map[string]any)
	assert.Equal(t, float64(2), byState["Resolved"])
}

func TestGetTicketEndpoint(t *testing.T) {
	srv, db := newTestServer(t, &stubRunner{})
	seedTicket(t, db, "t1", "ticket", "Open")

	rec := doRequest(t, srv.Router(), http.MethodGet, "/api/tickets/TKT-t1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	ticket := body["ticket"].(map[string]any)
	assert.Equal(t, "t1", ticket["id"])
	// Tags always decode to an array, and the raw document is echoed back.
	assert.Equal(t, []any{}, ticket["tags"])
	assert.Equal(t, map[string]any{"id": "t1"}, body["rawData"])
	assert.Equal(t, []any{}, body["discussions"])

	rec = doRequest(t, srv.Router(), http.MethodGet, "/api/tickets/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateAutomatedTestEndpoint(t *testing.T) {
	srv, db := newTestServer(t, &stubRunner{})
	seedTicket(t, db, "t1", "ticket", "Open")
	router := srv.Router()

	rec := doRequest(t, router, http.MethodPut, "/api/tickets/automated-test",
		`{"ticket_id":"t1","automated_test":"done"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := db.GetTicket(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, got.AutomatedTest)
	assert.Equal(t, "done", *got.AutomatedTest)

	// An empty string clears the field.
	rec = doRequest(t, router, http.MethodPut, "/api/tickets/automated-test",
		`{"ticket_id":"t1","automated_test":""}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got, err = db.GetTicket(context.Background(), "t1")
	require.NoError(t, err)
	assert.Nil(t, got.AutomatedTest)

	rec = doRequest(t, router, http.MethodPut, "/api/tickets/automated-test", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPut, "/api/tickets/automated-test",
		`{"ticket_id":"missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerSyncEndpoint(t *testing.T) {
	runner := &stubRunner{result: &syncer.RunResult{SyncID: 7, TotalFetched: 12, TotalStored: 11}}
	srv, _ := newTestServer(t, runner)
	router := srv.Router()

	rec := doRequest(t, router, http.MethodPost, "/api/sync/trigger", `{"force":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, runner.force)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(7), body["syncId"])
	assert.Equal(t, float64(12), body["totalFetched"])
	assert.Equal(t, float64(11), body["totalStored"])

	// An empty body is accepted and defaults to a non-force run.
	rec = doRequest(t, router, http.MethodPost, "/api/sync/trigger", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, runner.force)
}

func TestTriggerSyncConflict(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{err: syncer.ErrSyncInProgress})

	rec := doRequest(t, srv.Router(), http.MethodPost, "/api/sync/trigger", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTriggerSyncFailure(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{err: errors.New("remote unavailable")})

	rec := doRequest(t, srv.Router(), http.MethodPost, "/api/sync/trigger", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "Sync failed", body["message"])
	assert.Contains(t, body["errorMessage"], "remote unavailable")
}

func TestSyncStatusEndpoint(t *testing.T) {
	srv, db := newTestServer(t, &stubRunner{})
	router := srv.Router()
	ctx := context.Background()

	id, err := db.CreateSyncRecord(ctx)
	require.NoError(t, err)

	rec := doRequest(t, router, http.MethodGet, "/api/sync/status/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(id), body["id"])
	assert.Equal(t, store.SyncStatusInProgress, body["status"])

	rec = doRequest(t, router, http.MethodGet, "/api/sync/status/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/sync/status/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncHistoryEndpoint(t *testing.T) {
	srv, db := newTestServer(t, &stubRunner{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := db.CreateSyncRecord(ctx)
		require.NoError(t, err)
	}

	rec := doRequest(t, srv.Router(), http.MethodGet, "/api/sync/history?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	history := body["history"].([]any)
	assert.Len(t, history, 2)
}

func TestAutomationPlanEndpoints(t *testing.T) {
	srv, db := newTestServer(t, &stubRunner{})
	router := srv.Router()

	rec := doRequest(t, router, http.MethodPost, "/api/automation-plans/",
		`{"feature_name":"checkout regression pack","owner":"dana"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	created := decodeBody(t, rec)
	id := int64(created["id"].(float64))
	planPath := "/api/automation-plans/" + strconv.FormatInt(id, 10)

	rec = doRequest(t, router, http.MethodPost, "/api/automation-plans/", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/automation-plans/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["data"].([]any), 1)

	rec = doRequest(t, router, http.MethodPut, planPath,
		`{"automation_status":"done"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	plan, err := db.GetAutomationPlan(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, plan.AutomationStatus)
	assert.Equal(t, "done", *plan.AutomationStatus)

	rec = doRequest(t, router, http.MethodPut, "/api/automation-plans/999",
		`{"automation_status":"done"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, router, http.MethodDelete, planPath, "")
	require.Equal(t, http.StatusOK, rec.Code)

	_, err = db.GetAutomationPlan(context.Background(), id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBulkCreatePlansEndpoint(t *testing.T) {
	srv, db := newTestServer(t, &stubRunner{})

	rec := doRequest(t, srv.Router(), http.MethodPost, "/api/automation-plans/bulk",
		`{"plans":[{"feature_name":"a"},{"owner":"no name"},{"feature_name":"b"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["count"])

	// Entries without a feature_name are skipped, not fatal.
	plans, err := db.ListAutomationPlans(context.Background())
	require.NoError(t, err)
	assert.Len(t, plans, 2)
}

func TestUnknownRouteReturnsJSON(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{})

	rec := doRequest(t, srv.Router(), http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
