package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	"github.com/mrowe/qaboard/internal/devrev"
	"github.com/mrowe/qaboard/internal/slack"
	"github.com/mrowe/qaboard/internal/store"
)

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit == 0 {
		limit = 50
	}

	filters := store.TicketFilters{
		Type:     q.Get("type"),
		State:    q.Get("state"),
		Priority: q.Get("priority"),
		Search:   q.Get("search"),
		DateFrom: q.Get("dateFrom"),
		DateTo:   q.Get("dateTo"),
	}

	result, err := s.db.ListTickets(r.Context(), filters, page, limit)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats(r.Context())
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleMonthlyStats(w http.ResponseWriter, r *http.Request) {
	monthly, err := s.db.GetMonthlyStats(r.Context())
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"data": monthly})
}

func (s *Server) handleMonthlyBySubtype(w http.ResponseWriter, r *http.Request) {
	monthYear := monthOrCurrent(r.URL.Query().Get("monthYear"))

	data, err := s.db.GetMonthlyStatsBySubtype(r.Context(), monthYear)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"data": data, "monthYear": monthYear})
}

func (s *Server) handleMonthlyByAutomation(w http.ResponseWriter, r *http.Request) {
	monthYear := monthOrCurrent(r.URL.Query().Get("monthYear"))

	data, err := s.db.GetMonthlyStatsByAutomation(r.Context(), monthYear)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"data": data, "monthYear": monthYear})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := store.TicketFilters{
		State:    q.Get("state"),
		Priority: q.Get("priority"),
		DateFrom: q.Get("dateFrom"),
		DateTo:   q.Get("dateTo"),
	}

	analytics, err := s.db.GetAnalyticsByPart(r.Context(), filters)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"data": analytics})
}

// ticketDetail is the enriched single-ticket view: the stored row with tags
// decoded, the parsed raw document, and any linked conversations.
type ticketDetail struct {
	store.Ticket
	Tags []devrev.Tag `json:"tags"`
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ticket, err := s.db.GetTicket(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Ticket not found")
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}

	detail := ticketDetail{Ticket: *ticket}
	if ticket.Tags != nil {
		if err := json.Unmarshal([]byte(*ticket.Tags), &detail.Tags); err != nil {
			s.logger.Warn("failed to parse stored tags")
			detail.Tags = []devrev.Tag{}
		}
	} else {
		detail.Tags = []devrev.Tag{}
	}

	rawData := json.RawMessage(ticket.RawData)
	if !json.Valid(rawData) {
		rawData = json.RawMessage("{}")
	}

	var conversation *slack.Conversation
	if s.threads != nil {
		channel := gjson.Get(ticket.RawData, "custom_fields.app_slack__slack_channel").String()
		messageTS := gjson.Get(ticket.RawData, "custom_fields.app_slack__slack_message_ts").String()
		if channel != "" {
			conversation = s.threads.GetConversation(r.Context(), channel, messageTS)
		}
	}

	discussions := []json.RawMessage{}
	if s.discussions != nil {
		if fetched := s.discussions.FetchWorkDiscussions(r.Context(), ticket.ID); fetched != nil {
			discussions = fetched
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"ticket":            detail,
		"rawData":           rawData,
		"slackConversation": conversation,
		"discussions":       discussions,
	})
}

type updateAutomatedTestRequest struct {
	TicketID      string  `json:"ticket_id"`
	AutomatedTest *string `json:"automated_test"`
}

func (s *Server) handleUpdateAutomatedTest(w http.ResponseWriter, r *http.Request) {
	var req updateAutomatedTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TicketID == "" {
		s.writeError(w, http.StatusBadRequest, "ticket_id is required")
		return
	}
	if req.AutomatedTest != nil && *req.AutomatedTest == "" {
		req.AutomatedTest = nil
	}

	err := s.db.UpdateAutomatedTest(r.Context(), req.TicketID, req.AutomatedTest)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Ticket not found")
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"message":        "Automated test field updated",
		"automated_test": req.AutomatedTest,
	})
}

// monthOrCurrent defaults an empty monthYear parameter to the current
// calendar month.
func monthOrCurrent(monthYear string) string {
	if monthYear != "" {
		return monthYear
	}
	return time.Now().UTC().Format("2006-01")
}
