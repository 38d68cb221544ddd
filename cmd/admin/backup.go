package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func backupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Write a credential backup now",
		Long: `Write an encrypted backup of every active connection credential to the
configured bucket, regardless of the backup interval.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			key, err := s.core.Backup.Run(s.ctx)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			fmt.Printf("Backup written to %s\n", key)
			return nil
		},
	}
}
