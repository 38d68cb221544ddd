package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"findash/internal/domain/duplicates"
	"findash/internal/domain/providersync"
)

type MockRefresher struct {
	RefreshFunc func(ctx context.Context, req providersync.RefreshRequest) (*providersync.RefreshResult, error)
	Requests    []providersync.RefreshRequest
}

func (m *MockRefresher) Refresh(ctx context.Context, req providersync.RefreshRequest) (*providersync.RefreshResult, error) {
	m.Requests = append(m.Requests, req)
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, req)
	}
	return &providersync.RefreshResult{}, nil
}

type MockResolver struct {
	ResolveUserFunc func(ctx context.Context, userID int64) (*duplicates.MergeResult, error)
}

func (m *MockResolver) ResolveUser(ctx context.Context, userID int64) (*duplicates.MergeResult, error) {
	if m.ResolveUserFunc != nil {
		return m.ResolveUserFunc(ctx, userID)
	}
	return &duplicates.MergeResult{}, nil
}

type MockBackup struct {
	MaybeRunFunc func(ctx context.Context) error
}

func (m *MockBackup) MaybeRun(ctx context.Context) error {
	if m.MaybeRunFunc != nil {
		return m.MaybeRunFunc(ctx)
	}
	return nil
}

type MockUsers struct {
	IDs []int64
	Err error
}

func (m *MockUsers) ListUserIDsWithActive(context.Context) ([]int64, error) {
	return m.IDs, m.Err
}

func TestSweepJobs(t *testing.T) {
	refresher := &MockRefresher{}
	provider := SweepJobs(SweepDeps{
		Users:      &MockUsers{IDs: []int64{1, 2}},
		Refresher:  refresher,
		Duplicates: &MockResolver{},
		Backup:     &MockBackup{},
	})

	jobs, err := provider(context.Background())
	require.NoError(t, err)

	var descs []string
	for _, j := range jobs {
		descs = append(descs, j.Description())
	}
	assert.Equal(t, []string{
		"duplicate sweep", "balance refresh",
		"duplicate sweep", "balance refresh",
		"credential backup",
	}, descs)
	assert.Equal(t, int64(2), jobs[3].UserID())
	assert.Equal(t, int64(0), jobs[4].UserID())
}

func TestSweepJobs_OptionalParts(t *testing.T) {
	provider := SweepJobs(SweepDeps{
		Users:     &MockUsers{IDs: []int64{7}},
		Refresher: &MockRefresher{},
	})

	jobs, err := provider(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "balance refresh", jobs[0].Description())
}

func TestSweepJobs_ListError(t *testing.T) {
	provider := SweepJobs(SweepDeps{Users: &MockUsers{Err: errors.New("db down")}, Refresher: &MockRefresher{}})

	_, err := provider(context.Background())
	require.Error(t, err)
}

func TestRefreshJob(t *testing.T) {
	t.Run("scheduled request is not user initiated", func(t *testing.T) {
		refresher := &MockRefresher{}
		job := NewRefreshJob(9, refresher, zap.NewNop())

		require.NoError(t, job.Execute(context.Background()))
		require.Len(t, refresher.Requests, 1)
		assert.Equal(t, int64(9), refresher.Requests[0].UserID)
		assert.False(t, refresher.Requests[0].UserInitiated)
		assert.False(t, refresher.Requests[0].Force)
		assert.Nil(t, refresher.Requests[0].Accounts)
	})

	t.Run("per-account errors fail the job", func(t *testing.T) {
		refresher := &MockRefresher{RefreshFunc: func(context.Context, providersync.RefreshRequest) (*providersync.RefreshResult, error) {
			return &providersync.RefreshResult{Errors: []providersync.AccountError{{AccountID: "a1", Error: "timeout"}}}, nil
		}}
		err := NewRefreshJob(9, refresher, zap.NewNop()).Execute(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 errors")
	})
}

func TestDuplicateSweepJob(t *testing.T) {
	var got int64
	resolver := &MockResolver{ResolveUserFunc: func(_ context.Context, userID int64) (*duplicates.MergeResult, error) {
		got = userID
		return &duplicates.MergeResult{Removed: []string{"a2"}, Message: "Merged 1 duplicate account into 1 account."}, nil
	}}

	require.NoError(t, NewDuplicateSweepJob(4, resolver, zap.NewNop()).Execute(context.Background()))
	assert.Equal(t, int64(4), got)

	failing := &MockResolver{ResolveUserFunc: func(context.Context, int64) (*duplicates.MergeResult, error) {
		return &duplicates.MergeResult{Errors: []string{"revoke failed"}}, nil
	}}
	assert.Error(t, NewDuplicateSweepJob(4, failing, zap.NewNop()).Execute(context.Background()))
}

func TestBackupJob(t *testing.T) {
	assert.NoError(t, NewBackupJob(&MockBackup{}).Execute(context.Background()))

	err := NewBackupJob(&MockBackup{MaybeRunFunc: func(context.Context) error { return errors.New("s3 down") }}).Execute(context.Background())
	assert.ErrorContains(t, err, "s3 down")
}
