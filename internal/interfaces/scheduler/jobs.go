package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"findash/internal/domain/duplicates"
	"findash/internal/domain/providersync"
)

// Refresher refreshes a user's balances
type Refresher interface {
	Refresh(ctx context.Context, req providersync.RefreshRequest) (*providersync.RefreshResult, error)
}

// DuplicateResolver merges duplicate accounts across a user's institutions
type DuplicateResolver interface {
	ResolveUser(ctx context.Context, userID int64) (*duplicates.MergeResult, error)
}

// BackupRunner writes a credential backup when one is due
type BackupRunner interface {
	MaybeRun(ctx context.Context) error
}

// UserLister lists users that have something to sync
type UserLister interface {
	ListUserIDsWithActive(ctx context.Context) ([]int64, error)
}

// RefreshJob refreshes every account of one user. Scheduled refreshes are
// never rate limited and may sample a transaction sync.
type RefreshJob struct {
	userID    int64
	refresher Refresher
	logger    *zap.Logger
}

func NewRefreshJob(userID int64, refresher Refresher, logger *zap.Logger) *RefreshJob {
	return &RefreshJob{userID: userID, refresher: refresher, logger: logger}
}

func (j *RefreshJob) Execute(ctx context.Context) error {
	result, err := j.refresher.Refresh(ctx, providersync.RefreshRequest{UserID: j.userID})
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	j.logger.Info("scheduled refresh finished",
		zap.Int64("user_id", j.userID),
		zap.Int("refreshed", len(result.Refreshed)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("errors", len(result.Errors)),
	)
	if len(result.Errors) > 0 {
		return fmt.Errorf("refresh completed with %d errors", len(result.Errors))
	}
	return nil
}

func (j *RefreshJob) UserID() int64 { return j.userID }

func (j *RefreshJob) Description() string { return "balance refresh" }

// DuplicateSweepJob merges duplicate accounts for one user.
type DuplicateSweepJob struct {
	userID   int64
	resolver DuplicateResolver
	logger   *zap.Logger
}

func NewDuplicateSweepJob(userID int64, resolver DuplicateResolver, logger *zap.Logger) *DuplicateSweepJob {
	return &DuplicateSweepJob{userID: userID, resolver: resolver, logger: logger}
}

func (j *DuplicateSweepJob) Execute(ctx context.Context) error {
	result, err := j.resolver.ResolveUser(ctx, j.userID)
	if err != nil {
		return fmt.Errorf("duplicate sweep failed: %w", err)
	}
	if len(result.Removed) > 0 || len(result.DisconnectedConnections) > 0 {
		j.logger.Info("duplicate sweep merged accounts",
			zap.Int64("user_id", j.userID),
			zap.String("message", result.Message),
		)
	}
	if len(result.Errors) > 0 {
		return fmt.Errorf("duplicate sweep completed with %d errors", len(result.Errors))
	}
	return nil
}

func (j *DuplicateSweepJob) UserID() int64 { return j.userID }

func (j *DuplicateSweepJob) Description() string { return "duplicate sweep" }

// BackupJob writes a credential backup if the backup interval has elapsed.
type BackupJob struct {
	backup BackupRunner
}

func NewBackupJob(backup BackupRunner) *BackupJob {
	return &BackupJob{backup: backup}
}

func (j *BackupJob) Execute(ctx context.Context) error {
	if err := j.backup.MaybeRun(ctx); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	return nil
}

func (j *BackupJob) UserID() int64 { return 0 }

func (j *BackupJob) Description() string { return "credential backup" }

// SweepDeps are the services a scheduled sweep fans out to. Nil
// Duplicates or Backup disables that part of the sweep.
type SweepDeps struct {
	Users      UserLister
	Refresher  Refresher
	Duplicates DuplicateResolver
	Backup     BackupRunner
	Logger     *zap.Logger
}

// SweepJobs returns a JobProvider that emits, per user with an active
// connection, a duplicate sweep followed by a refresh, plus one backup job.
func SweepJobs(deps SweepDeps) JobProvider {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) ([]Job, error) {
		userIDs, err := deps.Users.ListUserIDsWithActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}

		jobs := make([]Job, 0, 2*len(userIDs)+1)
		for _, userID := range userIDs {
			if deps.Duplicates != nil {
				jobs = append(jobs, NewDuplicateSweepJob(userID, deps.Duplicates, logger))
			}
			jobs = append(jobs, NewRefreshJob(userID, deps.Refresher, logger))
		}
		if deps.Backup != nil {
			jobs = append(jobs, NewBackupJob(deps.Backup))
		}
		return jobs, nil
	}
}
