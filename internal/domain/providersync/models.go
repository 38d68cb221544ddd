// Package providersync keeps the local mirror of provider-held accounts,
// balances and transactions up to date.
package providersync

import (
	"errors"

	"findash/internal/domain/account"
)

// Domain errors
var (
	ErrReconnectRequired   = errors.New("reconnect required")
	ErrCursorDesync        = errors.New("transaction sync cursor rejected after reset")
	ErrMissingCredential   = errors.New("connection has no credential")
	ErrMissingExternalID   = errors.New("account has no external identifier")
	ErrConnectionNotFound  = errors.New("connection not found for account")
	ErrMissingBalance      = errors.New("provider returned no balance for account")
	ErrProviderUnavailable = errors.New("no provider client for connection")

	errConnectionInactive = errors.New("connection no longer active")
)

// Skip reasons reported to callers
const (
	SkipManual            = "manual"
	SkipReconnectRequired = "reconnect_required"
	SkipArchived          = "archived"
	SkipCacheValid        = "cache_valid"
	SkipUpToDate          = "up_to_date"
	SkipMerged            = "merged"
	SkipProviderMissing   = "provider_unavailable"
)

// SkippedAccount is an account left untouched, with the reason
type SkippedAccount struct {
	AccountID string `json:"accountId"`
	Reason    string `json:"reason"`
}

// AccountError is a per-account failure. Siblings keep going.
type AccountError struct {
	AccountID string `json:"accountId"`
	Error     string `json:"error"`
}

// RefreshRequest asks for a balance and liability refresh.
// A nil Accounts list means every account the user owns.
type RefreshRequest struct {
	UserID              int64
	Accounts            []*account.Account
	Force               bool
	IncludeTransactions bool
	UserInitiated       bool
}

// RefreshResult reports the outcome of a refresh run
type RefreshResult struct {
	Refreshed    []string         `json:"refreshed"`
	Skipped      []SkippedAccount `json:"skipped"`
	Errors       []AccountError   `json:"errors"`
	RateLimited  bool             `json:"rateLimited"`
	Transactions *SyncResult      `json:"transactions,omitempty"`
}

// SyncRequest asks for a transaction sync.
// A nil Accounts list means every account the user owns.
type SyncRequest struct {
	UserID   int64
	Accounts []*account.Account
	Force    bool
}

// SyncResult reports the outcome of a transaction sync run
type SyncResult struct {
	Synced            []string         `json:"synced"`
	Skipped           []SkippedAccount `json:"skipped"`
	Errors            []AccountError   `json:"errors"`
	TotalTransactions int              `json:"totalTransactions"`
}

type outcome struct {
	skipped []SkippedAccount
	errors  []AccountError
}

func (o *outcome) skip(accountID, reason string) {
	o.skipped = append(o.skipped, SkippedAccount{AccountID: accountID, Reason: reason})
}

func (o *outcome) fail(accountID string, err error) {
	o.errors = append(o.errors, AccountError{AccountID: accountID, Error: err.Error()})
}
