package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"findash/internal/domain/account"
)

// AccountRepository implements the account.Repository interface for PostgreSQL
type AccountRepository struct {
	db *DB
}

// NewAccountRepository creates a new PostgreSQL account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

var _ account.Repository = (*AccountRepository)(nil)

const accountColumns = `a.id, a.connection_id, a.external_id, a.name, a.account_type, a.subtype, a.mask,
	a.hidden, a.archived, a.invert_transactions, a.last_synced_at, a.sync_cursor,
	a.last_statement_balance, a.minimum_payment_amount, a.next_payment_due_date, a.next_monthly_payment,
	a.created_at, a.updated_at`

func scanAccount(row scanner) (*account.Account, error) {
	var acc account.Account
	var subtype, mask, cursor sql.NullString
	var lastSynced, dueDate sql.NullTime
	var statement, minPayment, monthly sql.NullFloat64

	err := row.Scan(
		&acc.ID, &acc.ConnectionID, &acc.ExternalID, &acc.Name, &acc.Type, &subtype, &mask,
		&acc.Hidden, &acc.Archived, &acc.InvertTransactions, &lastSynced, &cursor,
		&statement, &minPayment, &dueDate, &monthly,
		&acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if subtype.Valid {
		acc.Subtype = subtype.String
	}
	acc.Mask = stringPtr(mask)
	acc.SyncCursor = stringPtr(cursor)
	acc.LastSyncedAt = timePtr(lastSynced)
	acc.LastStatementBalance = floatPtr(statement)
	acc.MinimumPaymentAmount = floatPtr(minPayment)
	acc.NextPaymentDueDate = timePtr(dueDate)
	acc.NextMonthlyPayment = floatPtr(monthly)
	return &acc, nil
}

func (r *AccountRepository) list(ctx context.Context, query string, args ...any) ([]*account.Account, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*account.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

// GetByID retrieves an account by its ID
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts a WHERE a.id = $1`

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

// GetByIDs retrieves the listed accounts; unknown IDs are ignored
func (r *AccountRepository) GetByIDs(ctx context.Context, ids []string) ([]*account.Account, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + accountColumns + ` FROM accounts a WHERE a.id = ANY($1) ORDER BY a.created_at, a.id`
	return r.list(ctx, query, pq.Array(ids))
}

// ListByUserID retrieves all accounts under the user's connections
func (r *AccountRepository) ListByUserID(ctx context.Context, userID int64) ([]*account.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts a
		JOIN connections c ON c.id = a.connection_id
		WHERE c.user_id = $1
		ORDER BY a.created_at, a.id`
	return r.list(ctx, query, userID)
}

// ListByConnectionID retrieves all accounts of one connection
func (r *AccountRepository) ListByConnectionID(ctx context.Context, connectionID string) ([]*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts a WHERE a.connection_id = $1 ORDER BY a.created_at, a.id`
	return r.list(ctx, query, connectionID)
}

// ListByInstitution retrieves the user's accounts across every connection to an institution
func (r *AccountRepository) ListByInstitution(ctx context.Context, userID int64, institutionID string) ([]*account.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts a
		JOIN connections c ON c.id = a.connection_id
		WHERE c.user_id = $1 AND c.institution_id = $2
		ORDER BY a.created_at, a.id`
	return r.list(ctx, query, userID, institutionID)
}

// CountByConnectionID returns how many accounts a connection still owns
func (r *AccountRepository) CountByConnectionID(ctx context.Context, connectionID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE connection_id = $1`, connectionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return n, nil
}

// UpdateLiabilities applies liability fields as a direct update.
// Fields absent from the update keep their stored value.
func (r *AccountRepository) UpdateLiabilities(ctx context.Context, id string, update account.LiabilityUpdate) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			last_statement_balance = COALESCE($2, last_statement_balance),
			minimum_payment_amount = COALESCE($3, minimum_payment_amount),
			next_payment_due_date = COALESCE($4, next_payment_due_date),
			next_monthly_payment = COALESCE($5, next_monthly_payment),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`, id,
		nullFloatPtr(update.LastStatementBalance),
		nullFloatPtr(update.MinimumPaymentAmount),
		nullTimePtr(update.NextPaymentDueDate),
		nullFloatPtr(update.NextMonthlyPayment),
	)
	if err != nil {
		return fmt.Errorf("failed to update liabilities: %w", err)
	}
	return nil
}

// SaveCursor persists the incremental-sync cursor; nil clears it
func (r *AccountRepository) SaveCursor(ctx context.Context, id string, cursor *string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET sync_cursor = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, nullStringPtr(cursor),
	)
	if err != nil {
		return fmt.Errorf("failed to save sync cursor: %w", err)
	}
	return nil
}

// MarkSynced stores the final cursor and the last-sync timestamp together
func (r *AccountRepository) MarkSynced(ctx context.Context, id string, cursor *string, syncedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET sync_cursor = $2, last_synced_at = $3, updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, nullStringPtr(cursor), syncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark account synced: %w", err)
	}
	return nil
}

// Fold transfers the history of one account to another and deletes it inside
// one database transaction. Snapshots move only when the target has none.
// Transactions move unless the target already holds the same external ID.
// Memberships move for groups the target is not yet in; the rest, like the
// leftover history, go away with the source row.
func (r *AccountRepository) Fold(ctx context.Context, fromID, toID string) (*account.FoldResult, error) {
	var res account.FoldResult
	err := r.db.InTx(ctx, "fold_account", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE balance_snapshots SET account_id = $2
			WHERE account_id = $1
			  AND NOT EXISTS (SELECT 1 FROM balance_snapshots WHERE account_id = $2)
		`, fromID, toID)
		if err != nil {
			return fmt.Errorf("failed to reassign snapshots: %w", err)
		}
		if res.Snapshots, err = result.RowsAffected(); err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		result, err = tx.ExecContext(ctx, `
			UPDATE transactions SET account_id = $2, updated_at = CURRENT_TIMESTAMP
			WHERE account_id = $1
			  AND external_id NOT IN (SELECT external_id FROM transactions WHERE account_id = $2)
		`, fromID, toID)
		if err != nil {
			return fmt.Errorf("failed to reassign transactions: %w", err)
		}
		if res.Transactions, err = result.RowsAffected(); err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		result, err = tx.ExecContext(ctx, `
			UPDATE account_group_members SET account_id = $2
			WHERE account_id = $1
			  AND group_id NOT IN (SELECT group_id FROM account_group_members WHERE account_id = $2)
		`, fromID, toID)
		if err != nil {
			return fmt.Errorf("failed to reassign memberships: %w", err)
		}
		if res.Memberships, err = result.RowsAffected(); err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		result, err = tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, fromID)
		if err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return account.ErrAccountNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}
