package transaction

import "context"

// Repository defines the interface for transaction data access
type Repository interface {
	// Upsert inserts or updates transactions keyed on (account_id, external_id)
	Upsert(ctx context.Context, txns []*Transaction) error

	// DeleteByExternalIDs removes the account's transactions with the given external IDs
	DeleteByExternalIDs(ctx context.Context, accountID string, externalIDs []string) (int64, error)

	// ReplaceWindow deletes every transaction of the account inside the window
	// and inserts txns, atomically
	ReplaceWindow(ctx context.Context, accountID string, window Window, txns []*Transaction) error
}
