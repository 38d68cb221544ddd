package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"findash/internal/domain/account"
	"findash/internal/domain/providersync"
	"findash/internal/shared/middleware"
)

type MockSyncService struct {
	RefreshFunc   func(ctx context.Context, req providersync.RefreshRequest) (*providersync.RefreshResult, error)
	SmartSyncFunc func(ctx context.Context, req providersync.SyncRequest) (*providersync.SyncResult, error)
}

func (m *MockSyncService) Refresh(ctx context.Context, req providersync.RefreshRequest) (*providersync.RefreshResult, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, req)
	}
	return &providersync.RefreshResult{}, nil
}

func (m *MockSyncService) SmartSync(ctx context.Context, req providersync.SyncRequest) (*providersync.SyncResult, error) {
	if m.SmartSyncFunc != nil {
		return m.SmartSyncFunc(ctx, req)
	}
	return &providersync.SyncResult{}, nil
}

type MockAccountResolver struct {
	ResolveOwnedFunc func(ctx context.Context, userID int64, ids []string) ([]*account.Account, error)
}

func (m *MockAccountResolver) ResolveOwned(ctx context.Context, userID int64, ids []string) ([]*account.Account, error) {
	if m.ResolveOwnedFunc != nil {
		return m.ResolveOwnedFunc(ctx, userID, ids)
	}
	return nil, nil
}

func newRequest(method, target, body string, userID int64) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if userID > 0 {
		req = req.WithContext(middleware.WithUserID(req.Context(), userID))
	}
	return req
}

func TestSyncHandler_HandleRefresh(t *testing.T) {
	owned := []*account.Account{{ID: "a1"}}

	tests := []struct {
		name           string
		method         string
		body           string
		userID         int64
		resolveErr     error
		result         *providersync.RefreshResult
		serviceErr     error
		expectedStatus int
	}{
		{name: "all accounts", method: http.MethodPost, body: `{}`, userID: 1, result: &providersync.RefreshResult{Refreshed: []string{"a1"}}, expectedStatus: http.StatusOK},
		{name: "empty body", method: http.MethodPost, body: ``, userID: 1, result: &providersync.RefreshResult{}, expectedStatus: http.StatusOK},
		{name: "rate limited", method: http.MethodPost, body: `{"force":true}`, userID: 1, result: &providersync.RefreshResult{RateLimited: true}, expectedStatus: http.StatusTooManyRequests},
		{name: "foreign account", method: http.MethodPost, body: `{"accountIds":["x"]}`, userID: 1, resolveErr: account.ErrForbidden, expectedStatus: http.StatusForbidden},
		{name: "unknown account", method: http.MethodPost, body: `{"accountIds":["x"]}`, userID: 1, resolveErr: account.ErrAccountNotFound, expectedStatus: http.StatusNotFound},
		{name: "blank account id", method: http.MethodPost, body: `{"accountIds":[""]}`, userID: 1, expectedStatus: http.StatusBadRequest},
		{name: "malformed body", method: http.MethodPost, body: `{"force":`, userID: 1, expectedStatus: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, body: `{"bogus":1}`, userID: 1, expectedStatus: http.StatusBadRequest},
		{name: "service failure", method: http.MethodPost, body: `{}`, userID: 1, serviceErr: errors.New("db down"), expectedStatus: http.StatusInternalServerError},
		{name: "no user", method: http.MethodPost, body: `{}`, expectedStatus: http.StatusUnauthorized},
		{name: "wrong method", method: http.MethodGet, userID: 1, expectedStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got providersync.RefreshRequest
			svc := &MockSyncService{RefreshFunc: func(_ context.Context, req providersync.RefreshRequest) (*providersync.RefreshResult, error) {
				got = req
				return tt.result, tt.serviceErr
			}}
			resolver := &MockAccountResolver{ResolveOwnedFunc: func(context.Context, int64, []string) ([]*account.Account, error) {
				if tt.resolveErr != nil {
					return nil, tt.resolveErr
				}
				return owned, nil
			}}
			handler := NewSyncHandler(svc, resolver, nil)

			rr := httptest.NewRecorder()
			handler.HandleRefresh(rr, newRequest(tt.method, "/api/accounts/refresh", tt.body, tt.userID))

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedStatus == http.StatusOK || tt.expectedStatus == http.StatusTooManyRequests {
				assert.True(t, got.UserInitiated)
				assert.Equal(t, tt.userID, got.UserID)
				assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			}
		})
	}
}

func TestSyncHandler_HandleRefreshPassesResolvedAccounts(t *testing.T) {
	var got providersync.RefreshRequest
	svc := &MockSyncService{RefreshFunc: func(_ context.Context, req providersync.RefreshRequest) (*providersync.RefreshResult, error) {
		got = req
		return &providersync.RefreshResult{Refreshed: []string{"a1"}}, nil
	}}
	resolver := &MockAccountResolver{ResolveOwnedFunc: func(_ context.Context, userID int64, ids []string) ([]*account.Account, error) {
		assert.Equal(t, []string{"a1"}, ids)
		return []*account.Account{{ID: "a1"}}, nil
	}}

	rr := httptest.NewRecorder()
	NewSyncHandler(svc, resolver, nil).HandleRefresh(rr,
		newRequest(http.MethodPost, "/api/accounts/refresh", `{"accountIds":["a1"],"includeTransactions":true}`, 3))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, got.Accounts, 1)
	assert.Equal(t, "a1", got.Accounts[0].ID)
	assert.True(t, got.IncludeTransactions)

	var body providersync.RefreshResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, []string{"a1"}, body.Refreshed)
}

func TestSyncHandler_HandleSync(t *testing.T) {
	var got providersync.SyncRequest
	svc := &MockSyncService{SmartSyncFunc: func(_ context.Context, req providersync.SyncRequest) (*providersync.SyncResult, error) {
		got = req
		return &providersync.SyncResult{Synced: []string{"a1"}, TotalTransactions: 4}, nil
	}}

	rr := httptest.NewRecorder()
	NewSyncHandler(svc, &MockAccountResolver{}, nil).HandleSync(rr,
		newRequest(http.MethodPost, "/api/transactions/sync", `{"force":true}`, 5))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, got.Force)
	assert.Equal(t, int64(5), got.UserID)
	assert.Nil(t, got.Accounts)

	var body providersync.SyncResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, 4, body.TotalTransactions)
}

func TestSyncHandler_HandleSyncFailure(t *testing.T) {
	svc := &MockSyncService{SmartSyncFunc: func(context.Context, providersync.SyncRequest) (*providersync.SyncResult, error) {
		return nil, errors.New("boom")
	}}

	rr := httptest.NewRecorder()
	NewSyncHandler(svc, &MockAccountResolver{}, nil).HandleSync(rr,
		newRequest(http.MethodPost, "/api/transactions/sync", `{}`, 5))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestHandleHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}
