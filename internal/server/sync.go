package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mrowe/qaboard/internal/store"
	"github.com/mrowe/qaboard/internal/syncer"
)

type triggerSyncRequest struct {
	Force bool `json:"force"`
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	var req triggerSyncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	// The run executes to completion within this request; the response
	// carries the final counts, not a promise.
	result, err := s.runner.RunSync(r.Context(), req.Force)
	if errors.Is(err, syncer.ErrSyncInProgress) {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":        true,
			"message":      "Sync failed",
			"errorMessage": err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      "Sync completed",
		"syncId":       result.SyncID,
		"totalFetched": result.TotalFetched,
		"totalStored":  result.TotalStored,
	})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "syncId"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid sync id")
		return
	}

	record, err := s.db.GetSyncRecord(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Sync record not found")
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, syncRecordView(record))
}

func (s *Server) handleSyncHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 10
	}

	history, err := s.db.ListSyncHistory(r.Context(), limit)
	if err != nil {
		s.serverError(w, err)
		return
	}

	views := make([]map[string]any, 0, len(history))
	for i := range history {
		views = append(views, syncRecordView(&history[i]))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"history": views})
}

func syncRecordView(r *store.SyncRecord) map[string]any {
	return map[string]any{
		"id":            r.ID,
		"status":        r.Status,
		"startedAt":     r.SyncStartedAt,
		"completedAt":   r.SyncCompletedAt,
		"totalFetched":  r.TotalFetched,
		"totalInserted": r.TotalInserted,
		"totalUpdated":  r.TotalUpdated,
		"errorMessage":  r.ErrorMessage,
	}
}
