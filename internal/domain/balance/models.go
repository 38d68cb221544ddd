package balance

import (
	"context"
	"time"
)

// Snapshot is an append-only point-in-time balance reading for an account.
// The latest snapshot is the one with the greatest CapturedAt.
type Snapshot struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"accountId"`
	Current    float64   `json:"current"`
	Available  *float64  `json:"available,omitempty"`
	Limit      *float64  `json:"limit,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Repository defines the interface for balance snapshot data access
type Repository interface {
	// Append stores a new snapshot
	Append(ctx context.Context, snapshot *Snapshot) error

	// Latest returns the most recent snapshot for an account, or nil when none exists
	Latest(ctx context.Context, accountID string) (*Snapshot, error)

	// LatestCapturedAt returns the latest capture time per account; accounts without snapshots are absent
	LatestCapturedAt(ctx context.Context, accountIDs []string) (map[string]time.Time, error)
}
