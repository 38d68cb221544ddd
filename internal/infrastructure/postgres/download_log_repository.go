package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"findash/internal/domain/downloadlog"
)

// DownloadLogRepository implements downloadlog.Repository for PostgreSQL
type DownloadLogRepository struct {
	db *DB
}

// NewDownloadLogRepository creates a new PostgreSQL download log repository
func NewDownloadLogRepository(db *DB) *DownloadLogRepository {
	return &DownloadLogRepository{db: db}
}

var _ downloadlog.Repository = (*DownloadLogRepository)(nil)

// Create stores a download log entry
func (r *DownloadLogRepository) Create(ctx context.Context, e *downloadlog.Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO download_logs (id, account_id, start_date, end_date, record_count, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, e.ID, e.AccountID, nullTimePtr(e.StartDate), nullTimePtr(e.EndDate), e.Count, e.Status,
		sql.NullString{String: e.ErrorMessage, Valid: e.ErrorMessage != ""},
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create download log: %w", err)
	}
	return nil
}

// ListByAccountID returns the most recent entries for an account
func (r *DownloadLogRepository) ListByAccountID(ctx context.Context, accountID string, limit int) ([]*downloadlog.Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, start_date, end_date, record_count, status, error_message, created_at
		FROM download_logs
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list download logs: %w", err)
	}
	defer rows.Close()

	var entries []*downloadlog.Entry
	for rows.Next() {
		var e downloadlog.Entry
		var start, end sql.NullTime
		var msg sql.NullString
		if err := rows.Scan(&e.ID, &e.AccountID, &start, &end, &e.Count, &e.Status, &msg, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan download log: %w", err)
		}
		e.StartDate = timePtr(start)
		e.EndDate = timePtr(end)
		e.ErrorMessage = msg.String
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
