package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncForce bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one synchronization from DevRev and exit",
	Long: `Fetch all issues and tickets from DevRev and reconcile them into the
local database.

With --force, all existing tickets are deleted and replaced by the fetched
set in one transaction. The run is recorded in sync history either way.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, logger, db, orch, err := bootstrap()
		if err != nil {
			return err
		}
		defer db.Close()
		defer logger.Sync()

		result, err := orch.RunSync(cmd.Context(), syncForce)
		if err != nil {
			return err
		}

		fmt.Printf("Sync %d completed: fetched %d, stored %d\n",
			result.SyncID, result.TotalFetched, result.TotalStored)
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncForce, "force", false, "clear existing tickets and replace with the fetched set")
}
