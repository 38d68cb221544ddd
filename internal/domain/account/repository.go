package account

import (
	"context"
	"time"
)

// Repository defines the interface for account data access
// This interface is defined in the domain layer, but implemented in the infrastructure layer
type Repository interface {
	// GetByID retrieves an account by its ID
	GetByID(ctx context.Context, id string) (*Account, error)

	// GetByIDs retrieves the listed accounts; unknown IDs are ignored
	GetByIDs(ctx context.Context, ids []string) ([]*Account, error)

	// ListByUserID retrieves all accounts under the user's connections
	ListByUserID(ctx context.Context, userID int64) ([]*Account, error)

	// ListByConnectionID retrieves all accounts of one connection
	ListByConnectionID(ctx context.Context, connectionID string) ([]*Account, error)

	// ListByInstitution retrieves the user's accounts across every connection to an institution
	ListByInstitution(ctx context.Context, userID int64, institutionID string) ([]*Account, error)

	// CountByConnectionID returns how many accounts a connection still owns
	CountByConnectionID(ctx context.Context, connectionID string) (int, error)

	// UpdateLiabilities applies liability fields as a direct update
	UpdateLiabilities(ctx context.Context, id string, update LiabilityUpdate) error

	// SaveCursor persists the incremental-sync cursor; nil clears it
	SaveCursor(ctx context.Context, id string, cursor *string) error

	// MarkSynced stores the final cursor and the last-sync timestamp together
	MarkSynced(ctx context.Context, id string, cursor *string, syncedAt time.Time) error

	// Fold transfers the history of one account to another and deletes it,
	// in one atomic step
	Fold(ctx context.Context, fromID, toID string) (*FoldResult, error)
}

// FoldResult counts the rows a fold moved to the keeper
type FoldResult struct {
	Snapshots    int64
	Transactions int64
	Memberships  int64
}
