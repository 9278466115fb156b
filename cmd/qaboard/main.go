// Command qaboard runs the QA dashboard backend: a DevRev work-item sync
// engine with a local SQLite store and an analytics HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mrowe/qaboard/internal/config"
	"github.com/mrowe/qaboard/internal/devrev"
	"github.com/mrowe/qaboard/internal/logging"
	"github.com/mrowe/qaboard/internal/store"
	"github.com/mrowe/qaboard/internal/syncer"
)

var rootCmd = &cobra.Command{
	Use:   "qaboard",
	Short: "QA dashboard backend: DevRev ticket sync and analytics",
	Long: `qaboard mirrors DevRev work items (issues and tickets) into a local
SQLite database and serves reporting views over HTTP.

Configuration comes from the environment (a .env file is honored):
  DEVREV_PAT_TOKEN  DevRev personal access token (required)
  DEVREV_API_URL    API base URL (default https://api.devrev.ai)
  DATABASE_PATH     SQLite file (default ./data/qa_dashboard.db)
  PORT              HTTP port for serve (default 5000)
  SLACK_BOT_TOKEN   enables Slack thread lookup on ticket details
  LOG_LEVEL         debug|info|warn|error (default info)
  LOG_FILE          optional rotating log file`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and opens the shared dependencies used by
// both subcommands.
func bootstrap() (*config.Config, *zap.Logger, *store.DB, *syncer.Orchestrator, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	logger := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	remote, err := devrev.NewClient(cfg.DevRev.BaseURL, cfg.DevRev.Token, logger)
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, nil, err
	}

	return cfg, logger, db, syncer.New(db, remote, logger), nil
}
