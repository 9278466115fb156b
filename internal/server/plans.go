package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mrowe/qaboard/internal/store"
)

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.db.ListAutomationPlans(r.Context())
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"data": plans})
}

func (s *Server) handlePlansByMonth(w http.ResponseWriter, r *http.Request) {
	monthYear := chi.URLParam(r, "monthYear")

	plans, err := s.db.ListAutomationPlansByMonth(r.Context(), monthYear)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"data": plans, "monthYear": monthYear})
}

func (s *Server) handlePlanStatusDistribution(w http.ResponseWriter, r *http.Request) {
	monthYear := chi.URLParam(r, "monthYear")

	distribution, err := s.db.GetAutomationStatusDistribution(r.Context(), monthYear)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"data": distribution, "monthYear": monthYear})
}

type planRequest struct {
	FeatureName          string  `json:"feature_name"`
	ReleaseStatus        *string `json:"release_status"`
	Complexity           *string `json:"complexity"`
	Owner                *string `json:"owner"`
	WeeklyPlan           *string `json:"weekly_plan"`
	AutomationStatus     *string `json:"automation_status"`
	TestScenarioDocument *string `json:"test_scenario_document"`
	Notes                *string `json:"notes"`
}

func (p *planRequest) toPlan() *store.AutomationPlan {
	return &store.AutomationPlan{
		FeatureName:          p.FeatureName,
		ReleaseStatus:        p.ReleaseStatus,
		Complexity:           p.Complexity,
		Owner:                p.Owner,
		WeeklyPlan:           p.WeeklyPlan,
		AutomationStatus:     p.AutomationStatus,
		TestScenarioDocument: p.TestScenarioDocument,
		Notes:                p.Notes,
	}
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.FeatureName == "" {
		s.writeError(w, http.StatusBadRequest, "feature_name is required")
		return
	}

	id, err := s.db.AddAutomationPlan(r.Context(), req.toPlan())
	if err != nil {
		s.serverError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Automation plan created",
		"id":      id,
	})
}

type bulkPlansRequest struct {
	Plans []planRequest `json:"plans"`
}

func (s *Server) handleBulkCreatePlans(w http.ResponseWriter, r *http.Request) {
	var req bulkPlansRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	imported := 0
	for i := range req.Plans {
		if req.Plans[i].FeatureName == "" {
			continue
		}
		if _, err := s.db.AddAutomationPlan(r.Context(), req.Plans[i].toPlan()); err != nil {
			s.serverError(w, err)
			return
		}
		imported++
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("%d automation plans imported", imported),
		"count":   imported,
	})
}

type planUpdateRequest struct {
	FeatureName          *string `json:"feature_name"`
	ReleaseStatus        *string `json:"release_status"`
	Complexity           *string `json:"complexity"`
	Owner                *string `json:"owner"`
	WeeklyPlan           *string `json:"weekly_plan"`
	AutomationStatus     *string `json:"automation_status"`
	TestScenarioDocument *string `json:"test_scenario_document"`
	Notes                *string `json:"notes"`
}

func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid plan id")
		return
	}

	var req planUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	update := store.AutomationPlanUpdate{
		FeatureName:          req.FeatureName,
		ReleaseStatus:        req.ReleaseStatus,
		Complexity:           req.Complexity,
		Owner:                req.Owner,
		WeeklyPlan:           req.WeeklyPlan,
		AutomationStatus:     req.AutomationStatus,
		TestScenarioDocument: req.TestScenarioDocument,
		Notes:                req.Notes,
	}

	err = s.db.UpdateAutomationPlan(r.Context(), id, update)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Automation plan not found")
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Automation plan updated",
	})
}

func (s *Server) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid plan id")
		return
	}

	if err := s.db.DeleteAutomationPlan(r.Context(), id); err != nil {
		s.serverError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Automation plan deleted",
	})
}
