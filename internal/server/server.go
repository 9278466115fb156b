// Package server exposes the sync and analytics engine over HTTP.
//
// The handlers are a thin marshaling layer: all invariants live in the
// store and syncer packages.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mrowe/qaboard/internal/slack"
	"github.com/mrowe/qaboard/internal/store"
	"github.com/mrowe/qaboard/internal/syncer"
)

// SyncRunner triggers synchronization runs.
type SyncRunner interface {
	RunSync(ctx context.Context, force bool) (*syncer.RunResult, error)
}

// DiscussionFetcher loads remote discussion threads for a work item.
type DiscussionFetcher interface {
	FetchWorkDiscussions(ctx context.Context, workID string) []json.RawMessage
}

// ThreadLookup resolves Slack conversations referenced by tickets.
type ThreadLookup interface {
	GetConversation(ctx context.Context, channelID, messageTS string) *slack.Conversation
}

// Server holds the handler dependencies, injected at construction.
type Server struct {
	db          *store.DB
	runner      SyncRunner
	discussions DiscussionFetcher
	threads     ThreadLookup
	logger      *zap.Logger
}

// New creates a Server. discussions and threads may be nil; the ticket
// detail view then omits the corresponding enrichment.
func New(db *store.DB, runner SyncRunner, discussions DiscussionFetcher, threads ThreadLookup, logger *zap.Logger) *Server {
	return &Server{
		db:          db,
		runner:      runner,
		discussions: discussions,
		threads:     threads,
		logger:      logger,
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/sync", func(r chi.Router) {
			r.Post("/trigger", s.handleTriggerSync)
			r.Get("/status/{syncId}", s.handleSyncStatus)
			r.Get("/history", s.handleSyncHistory)
		})

		r.Route("/tickets", func(r chi.Router) {
			r.Get("/", s.handleListTickets)
			r.Get("/stats", s.handleStats)
			r.Get("/monthly", s.handleMonthlyStats)
			r.Get("/monthly-by-subtype", s.handleMonthlyBySubtype)
			r.Get("/monthly-by-automation", s.handleMonthlyByAutomation)
			r.Get("/analytics", s.handleAnalytics)
			r.Put("/automated-test", s.handleUpdateAutomatedTest)
			r.Get("/{id}", s.handleGetTicket)
		})

		r.Route("/automation-plans", func(r chi.Router) {
			r.Get("/", s.handleListPlans)
			r.Post("/", s.handleCreatePlan)
			r.Post("/bulk", s.handleBulkCreatePlans)
			r.Get("/month/{monthYear}", s.handlePlansByMonth)
			r.Get("/status-distribution/{monthYear}", s.handlePlanStatusDistribution)
			r.Put("/{id}", s.handleUpdatePlan)
			r.Delete("/{id}", s.handleDeletePlan)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, "Not Found")
	})

	return r
}

// ListenAndServe runs the HTTP server until the context is canceled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // a triggered sync completes within the request
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	tickets, err := s.db.TicketCount(r.Context())
	if err != nil {
		s.serverError(w, err)
		return
	}
	syncs, err := s.db.SyncRunCount(r.Context())
	if err != nil {
		s.serverError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"database":    "connected",
		"tickets":     tickets,
		"syncRecords": syncs,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error":   true,
		"message": message,
	})
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, err.Error())
}
