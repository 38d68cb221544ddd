package http

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"findash/internal/domain/account"
	"findash/internal/domain/providersync"
)

// SyncService runs balance refreshes and transaction syncs
type SyncService interface {
	Refresh(ctx context.Context, req providersync.RefreshRequest) (*providersync.RefreshResult, error)
	SmartSync(ctx context.Context, req providersync.SyncRequest) (*providersync.SyncResult, error)
}

// AccountResolver resolves account IDs owned by a user
type AccountResolver interface {
	ResolveOwned(ctx context.Context, userID int64, ids []string) ([]*account.Account, error)
}

// SyncHandler exposes user-initiated refresh and sync
type SyncHandler struct {
	sync     SyncService
	accounts AccountResolver
	logger   *zap.Logger
}

func NewSyncHandler(sync SyncService, accounts AccountResolver, logger *zap.Logger) *SyncHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncHandler{sync: sync, accounts: accounts, logger: logger}
}

type RefreshRequest struct {
	AccountIDs          []string `json:"accountIds" validate:"omitempty,max=200,dive,required"`
	Force               bool     `json:"force"`
	IncludeTransactions bool     `json:"includeTransactions"`
}

type SyncRequest struct {
	AccountIDs []string `json:"accountIds" validate:"omitempty,max=200,dive,required"`
	Force      bool     `json:"force"`
}

// HandleRefresh refreshes balances for the caller's accounts.
// Responds 429 with the (empty) result when the manual refresh quota is spent.
func (h *SyncHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := userID(w, r)
	if !ok {
		return
	}

	var req RefreshRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	accounts, ok := h.resolve(w, r, userID, req.AccountIDs)
	if !ok {
		return
	}

	result, err := h.sync.Refresh(r.Context(), providersync.RefreshRequest{
		UserID:              userID,
		Accounts:            accounts,
		Force:               req.Force,
		IncludeTransactions: req.IncludeTransactions,
		UserInitiated:       true,
	})
	if err != nil {
		h.logger.Error("refresh failed", zap.Int64("user_id", userID), zap.Error(err))
		http.Error(w, "Failed to refresh accounts", http.StatusInternalServerError)
		return
	}

	if result.RateLimited {
		writeJSON(w, http.StatusTooManyRequests, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleSync runs a transaction sync for the caller's accounts.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := userID(w, r)
	if !ok {
		return
	}

	var req SyncRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	accounts, ok := h.resolve(w, r, userID, req.AccountIDs)
	if !ok {
		return
	}

	result, err := h.sync.SmartSync(r.Context(), providersync.SyncRequest{
		UserID:   userID,
		Accounts: accounts,
		Force:    req.Force,
	})
	if err != nil {
		h.logger.Error("transaction sync failed", zap.Int64("user_id", userID), zap.Error(err))
		http.Error(w, "Failed to sync transactions", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// resolve maps requested IDs to owned accounts. No IDs means every account,
// which is left for the service to load.
func (h *SyncHandler) resolve(w http.ResponseWriter, r *http.Request, userID int64, ids []string) ([]*account.Account, bool) {
	if len(ids) == 0 {
		return nil, true
	}

	accounts, err := h.accounts.ResolveOwned(r.Context(), userID, ids)
	switch {
	case err == nil:
		return accounts, true
	case errors.Is(err, account.ErrAccountNotFound):
		http.Error(w, "Account not found", http.StatusNotFound)
	case errors.Is(err, account.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	default:
		h.logger.Error("failed to resolve accounts", zap.Int64("user_id", userID), zap.Error(err))
		http.Error(w, "Failed to load accounts", http.StatusInternalServerError)
	}
	return nil, false
}
