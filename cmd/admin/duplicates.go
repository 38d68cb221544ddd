package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"findash/internal/domain/duplicates"
)

func duplicatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "duplicates",
		Short: "Detect and merge duplicate accounts",
	}
	cmd.AddCommand(duplicatesDetectCmd())
	cmd.AddCommand(duplicatesMergeCmd())
	return cmd
}

func duplicatesDetectCmd() *cobra.Command {
	var (
		userID        int64
		institutionID string
		asJSON        bool
	)

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "List duplicate account groups under an institution",
		Long: `List duplicate account groups without changing anything.

Examples:
  admin duplicates detect --user-id=1 --institution=ins_3
  admin duplicates detect --user-id=1 --institution=ins_3 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			det, err := s.core.Duplicates.Detect(s.ctx, userID, institutionID)
			if err != nil {
				return err
			}
			if det == nil {
				fmt.Println("No duplicate accounts found")
				return nil
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(det)
			}
			printDetection(det)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user-id", 0, "user ID")
	cmd.Flags().StringVar(&institutionID, "institution", "", "institution ID")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	_ = cmd.MarkFlagRequired("user-id")
	_ = cmd.MarkFlagRequired("institution")

	return cmd
}

func duplicatesMergeCmd() *cobra.Command {
	var (
		userIDs       string
		all           bool
		institutionID string
	)

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge duplicate accounts",
		Long: `Merge duplicate accounts. With --institution only that institution is
resolved; otherwise every institution of each user is.

Examples:
  admin duplicates merge --user-id=1 --institution=ins_3
  admin duplicates merge --user-id=1,2
  admin duplicates merge --all`,
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
				var result *duplicates.MergeResult
				if institutionID != "" {
					result, err = s.core.Duplicates.ResolveInstitution(s.ctx, id, institutionID)
				} else {
					result, err = s.core.Duplicates.ResolveUser(s.ctx, id)
				}
				if err != nil {
					fmt.Printf("\n=== User %d ===\n  failed: %v\n", id, err)
					continue
				}
				printMerge(id, result)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userIDs, "user-id", "", "user ID(s), comma-separated")
	cmd.Flags().BoolVar(&all, "all", false, "every user with an active connection")
	cmd.Flags().StringVar(&institutionID, "institution", "", "limit to one institution")

	return cmd
}

func printDetection(det *duplicates.Detection) {
	fmt.Printf("User %d, institution %s: %d group(s), %d account(s)\n",
		det.UserID, det.InstitutionID, len(det.Groups), det.AccountCount())
	for _, g := range det.Groups {
		fmt.Printf("\n  %s\n", g.Label)
		for _, acc := range g.Accounts {
			fmt.Printf("    - %s (connection %s)\n", acc.ID, acc.ConnectionID)
		}
	}
}

func printMerge(userID int64, r *duplicates.MergeResult) {
	fmt.Printf("\n=== User %d ===\n", userID)
	fmt.Printf("  %s\n", r.Message)
	printList("Kept", r.Kept)
	printList("Removed", r.Removed)
	printList("Disconnected", r.DisconnectedConnections)
	for _, e := range r.Errors {
		fmt.Printf("  error: %s\n", e)
	}
}
