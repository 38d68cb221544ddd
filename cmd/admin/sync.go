package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"findash/internal/domain/providersync"
)

func syncCmd() *cobra.Command {
	var (
		userIDs string
		all     bool
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync transactions from the provider",
		Long: `Run a transaction sync. Without --force only stale accounts are synced;
with --force every account restarts from an empty cursor.

Examples:
  admin sync --user-id=1
  admin sync --user-id=1 --force
  admin sync --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUsers(userIDs, all); err != nil {
				return err
			}
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ids, err := resolveUsers(s, userIDs, all)
			if err != nil {
				return err
			}

			for _, id := range ids {
				result, err := s.core.Sync.SmartSync(s.ctx, providersync.SyncRequest{UserID: id, Force: force})
				if err != nil {
					fmt.Printf("\n=== User %d ===\n  failed: %v\n", id, err)
					continue
				}
				fmt.Printf("\n=== User %d ===\n", id)
				fmt.Printf("  Synced:        %d\n", len(result.Synced))
				fmt.Printf("  Transactions:  %d\n", result.TotalTransactions)
				fmt.Printf("  Skipped:       %d\n", len(result.Skipped))
				printErrors(result.Errors)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userIDs, "user-id", "", "user ID(s), comma-separated")
	cmd.Flags().BoolVar(&all, "all", false, "every user with an active connection")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "full re-sync from an empty cursor")

	return cmd
}
