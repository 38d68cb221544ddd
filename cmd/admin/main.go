package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"findash/internal/bootstrap"
	"findash/internal/shared/config"
	"findash/internal/shared/logging"
)

var (
	timeout time.Duration
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "admin",
		Short:         "Operator commands for the findash sync engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "timeout for the whole operation")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(refreshCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(duplicatesCmd())
	rootCmd.AddCommand(backupCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// session is the wired core plus a context bounded by --timeout.
type session struct {
	core   *bootstrap.Core
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func openSession(cmd *cobra.Command) (*session, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(level, true)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	core, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	return &session{core: core, logger: logger, ctx: ctx, cancel: cancel}, nil
}

func (s *session) Close() {
	s.cancel()
	if err := s.core.Close(); err != nil {
		s.logger.Warn("failed to close resources", zap.Error(err))
	}
	_ = s.logger.Sync()
}

// parseUserIDs parses a comma-separated list of positive user IDs.
func parseUserIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid user ID %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// resolveUsers returns the explicit --user-id list, or every user with an
// active connection when --all is set.
func resolveUsers(s *session, raw string, all bool) ([]int64, error) {
	if all {
		ids, err := s.core.Connections.ListUserIDsWithActive(s.ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}
		return ids, nil
	}
	return parseUserIDs(raw)
}

func requireUsers(raw string, all bool) error {
	if raw == "" && !all {
		return fmt.Errorf("must specify --user-id or --all")
	}
	return nil
}

func printList(label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Printf("  %-14s %s\n", label+":", strings.Join(items, ", "))
}
