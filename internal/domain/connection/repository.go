package connection

import "context"

// Repository defines the interface for connection data access
type Repository interface {
	// GetByID retrieves a connection by its ID
	GetByID(ctx context.Context, id string) (*Connection, error)

	// ListByUserID retrieves every connection owned by the user
	ListByUserID(ctx context.Context, userID int64) ([]*Connection, error)

	// ListActiveByInstitution retrieves the user's active connections for one institution
	ListActiveByInstitution(ctx context.Context, userID int64, institutionID string) ([]*Connection, error)

	// ListUserIDsWithActive returns the users that have at least one active, non-manual connection
	ListUserIDsWithActive(ctx context.Context) ([]int64, error)

	// Upsert creates or updates a connection
	Upsert(ctx context.Context, conn *Connection) error

	// MarkDisconnected flips the connection to disconnected
	MarkDisconnected(ctx context.Context, id string) error
}
