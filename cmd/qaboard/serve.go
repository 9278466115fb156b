package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mrowe/qaboard/internal/devrev"
	"github.com/mrowe/qaboard/internal/server"
	"github.com/mrowe/qaboard/internal/slack"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the dashboard API server.

Serves the sync endpoints (trigger, status, history), the ticket listing,
detail and analytics endpoints, and the automation plan CRUD API. Shuts
down gracefully on SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, db, orch, err := bootstrap()
		if err != nil {
			return err
		}
		defer db.Close()
		defer logger.Sync()

		// The detail-view enrichment clients; thread lookup quietly
		// reports "not configured" without a Slack token.
		remote, err := devrev.NewClient(cfg.DevRev.BaseURL, cfg.DevRev.Token, logger)
		if err != nil {
			return err
		}
		threads := slack.New(cfg.Slack.Token, logger)

		srv := server.New(db, orch, remote, threads, logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Info("starting qaboard server",
			zap.Int("port", cfg.Server.Port),
			zap.String("database", cfg.Database.Path))

		return srv.ListenAndServe(ctx, cfg.Server.Port)
	},
}
