package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"findash/internal/domain/connection"
	"findash/internal/infrastructure/crypto"
)

// ConnectionRepository implements connection.Repository for PostgreSQL.
// Access tokens are encrypted at rest.
type ConnectionRepository struct {
	db        *DB
	encryptor *crypto.Encryptor
}

// NewConnectionRepository creates a new PostgreSQL connection repository
func NewConnectionRepository(db *DB, encryptor *crypto.Encryptor) *ConnectionRepository {
	return &ConnectionRepository{db: db, encryptor: encryptor}
}

var _ connection.Repository = (*ConnectionRepository)(nil)

const connectionColumns = `id, user_id, institution_id, institution_name, access_token_encrypted,
	provider_kind, status, created_at, updated_at, disconnected_at`

func (r *ConnectionRepository) scan(row scanner) (*connection.Connection, error) {
	var c connection.Connection
	var encrypted string
	var disconnectedAt sql.NullTime

	err := row.Scan(
		&c.ID, &c.UserID, &c.InstitutionID, &c.InstitutionName, &encrypted,
		&c.ProviderKind, &c.Status, &c.CreatedAt, &c.UpdatedAt, &disconnectedAt,
	)
	if err != nil {
		return nil, err
	}

	token, err := r.encryptor.Decrypt(encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token for connection %s: %w", c.ID, err)
	}
	c.AccessToken = token
	c.DisconnectedAt = timePtr(disconnectedAt)
	return &c, nil
}

func (r *ConnectionRepository) list(ctx context.Context, query string, args ...any) ([]*connection.Connection, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []*connection.Connection
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}
	return conns, nil
}

// GetByID retrieves a connection by its ID
func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`

	c, err := r.scan(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, connection.ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return c, nil
}

// ListByUserID retrieves every connection owned by the user
func (r *ConnectionRepository) ListByUserID(ctx context.Context, userID int64) ([]*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE user_id = $1 ORDER BY created_at, id`
	return r.list(ctx, query, userID)
}

// ListActiveByInstitution retrieves the user's active connections for one institution
func (r *ConnectionRepository) ListActiveByInstitution(ctx context.Context, userID int64, institutionID string) ([]*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections
		WHERE user_id = $1 AND institution_id = $2 AND status = $3
		ORDER BY created_at, id`
	return r.list(ctx, query, userID, institutionID, connection.StatusActive)
}

// ListUserIDsWithActive returns users owning at least one active connection.
// Manual connections are filtered by the caller since tokens are encrypted.
func (r *ConnectionRepository) ListUserIDsWithActive(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM connections WHERE status = $1 ORDER BY user_id`,
		connection.StatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Upsert creates or updates a connection
func (r *ConnectionRepository) Upsert(ctx context.Context, c *connection.Connection) error {
	encrypted, err := r.encryptor.Encrypt(c.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	query := `
		INSERT INTO connections (id, user_id, institution_id, institution_name, access_token_encrypted, provider_kind, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			institution_name = EXCLUDED.institution_name,
			access_token_encrypted = EXCLUDED.access_token_encrypted,
			provider_kind = EXCLUDED.provider_kind,
			status = EXCLUDED.status,
			updated_at = CURRENT_TIMESTAMP
		RETURNING created_at, updated_at
	`

	err = r.db.QueryRowContext(ctx, query,
		c.ID, c.UserID, c.InstitutionID, c.InstitutionName, encrypted, c.ProviderKind, c.Status,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}
	return nil
}

// MarkDisconnected flips the connection to disconnected
func (r *ConnectionRepository) MarkDisconnected(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE connections
		SET status = $2, disconnected_at = COALESCE(disconnected_at, CURRENT_TIMESTAMP), updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`, id, connection.StatusDisconnected)
	if err != nil {
		return fmt.Errorf("failed to disconnect connection: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return connection.ErrConnectionNotFound
	}
	return nil
}
