package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"findash/internal/domain/balance"
)

// BalanceRepository implements balance.Repository for PostgreSQL
type BalanceRepository struct {
	db *DB
}

// NewBalanceRepository creates a new PostgreSQL balance snapshot repository
func NewBalanceRepository(db *DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

var _ balance.Repository = (*BalanceRepository)(nil)

// Append stores a new snapshot
func (r *BalanceRepository) Append(ctx context.Context, s *balance.Snapshot) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CapturedAt.IsZero() {
		s.CapturedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO balance_snapshots (id, account_id, current_balance, available_balance, credit_limit, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ID, s.AccountID, s.Current, nullFloatPtr(s.Available), nullFloatPtr(s.Limit), s.CapturedAt)
	if err != nil {
		return fmt.Errorf("failed to append balance snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot for an account, or nil when none exists
func (r *BalanceRepository) Latest(ctx context.Context, accountID string) (*balance.Snapshot, error) {
	var s balance.Snapshot
	var available, limit sql.NullFloat64

	err := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, current_balance, available_balance, credit_limit, captured_at
		FROM balance_snapshots
		WHERE account_id = $1
		ORDER BY captured_at DESC
		LIMIT 1
	`, accountID).Scan(&s.ID, &s.AccountID, &s.Current, &available, &limit, &s.CapturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	s.Available = floatPtr(available)
	s.Limit = floatPtr(limit)
	return &s, nil
}

// LatestCapturedAt returns the latest capture time per account
func (r *BalanceRepository) LatestCapturedAt(ctx context.Context, accountIDs []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(accountIDs))
	if len(accountIDs) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT account_id, MAX(captured_at)
		FROM balance_snapshots
		WHERE account_id = ANY($1)
		GROUP BY account_id
	`, pq.Array(accountIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot times: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot time: %w", err)
		}
		out[id] = at
	}
	return out, rows.Err()
}
