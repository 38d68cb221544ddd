package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"findash/internal/domain/providersync"
)

func refreshCmd() *cobra.Command {
	var (
		userIDs      string
		all          bool
		force        bool
		transactions bool
		workers      int
	)

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh balances and liabilities",
		Long: `Refresh balances and liabilities for one or more users.

Examples:
  admin refresh --user-id=1
  admin refresh --user-id=1,2,3 --force
  admin refresh --all --workers=8 --transactions`,
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
			if len(ids) == 0 {
				fmt.Println("No users to process")
				return nil
			}

			if workers < 1 {
				workers = 1
			}
			start := time.Now()
			var mu sync.Mutex
			g, ctx := errgroup.WithContext(s.ctx)
			g.SetLimit(workers)
			for _, id := range ids {
				g.Go(func() error {
					result, err := s.core.Sync.Refresh(ctx, providersync.RefreshRequest{
						UserID:              id,
						Force:               force,
						IncludeTransactions: transactions,
					})
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						fmt.Printf("\n=== User %d ===\n  failed: %v\n", id, err)
						return nil
					}
					printRefresh(id, result)
					return nil
				})
			}
			_ = g.Wait()

			fmt.Printf("\nRefreshed %d user(s) in %v\n", len(ids), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&userIDs, "user-id", "", "user ID(s), comma-separated")
	cmd.Flags().BoolVar(&all, "all", false, "every user with an active connection")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "ignore cache freshness")
	cmd.Flags().BoolVar(&transactions, "transactions", false, "also run a transaction sync")
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "users processed concurrently")

	return cmd
}

func printRefresh(userID int64, r *providersync.RefreshResult) {
	fmt.Printf("\n=== User %d ===\n", userID)
	fmt.Printf("  Refreshed:     %d\n", len(r.Refreshed))
	fmt.Printf("  Skipped:       %d\n", len(r.Skipped))
	for _, sk := range r.Skipped {
		fmt.Printf("    - %s (%s)\n", sk.AccountID, sk.Reason)
	}
	printErrors(r.Errors)
	if r.Transactions != nil {
		fmt.Printf("  Transactions:  %d across %d account(s)\n", r.Transactions.TotalTransactions, len(r.Transactions.Synced))
	}
}

func printErrors(errs []providersync.AccountError) {
	if len(errs) == 0 {
		return
	}
	fmt.Printf("  Errors:        %d\n", len(errs))
	for i, e := range errs {
		if i >= 5 {
			fmt.Printf("    ... and %d more errors\n", len(errs)-5)
			break
		}
		fmt.Printf("    - %s: %s\n", e.AccountID, e.Error)
	}
}
