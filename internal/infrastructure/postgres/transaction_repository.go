package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"findash/internal/domain/transaction"
)

// TransactionRepository implements transaction.Repository for PostgreSQL
type TransactionRepository struct {
	db *DB
}

// NewTransactionRepository creates a new PostgreSQL transaction repository
func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

var _ transaction.Repository = (*TransactionRepository)(nil)

const upsertTransactionQuery = `
	INSERT INTO transactions (id, account_id, external_id, date, name, amount, category, merchant_name, pending, extended)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (account_id, external_id) DO UPDATE SET
		date = EXCLUDED.date,
		name = EXCLUDED.name,
		amount = EXCLUDED.amount,
		category = EXCLUDED.category,
		merchant_name = EXCLUDED.merchant_name,
		pending = EXCLUDED.pending,
		extended = EXCLUDED.extended,
		updated_at = CURRENT_TIMESTAMP
`

func insertTransactions(ctx context.Context, tx *sql.Tx, txns []*transaction.Transaction) error {
	stmt, err := tx.PrepareContext(ctx, upsertTransactionQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, t := range txns {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		var extended any
		if len(t.Extended) > 0 {
			extended = []byte(t.Extended)
		}
		_, err := stmt.ExecContext(ctx,
			t.ID, t.AccountID, t.ExternalID, t.Date, t.Name, t.Amount,
			sql.NullString{String: t.Category, Valid: t.Category != ""},
			sql.NullString{String: t.MerchantName, Valid: t.MerchantName != ""},
			t.Pending, extended,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert transaction %s: %w", t.ExternalID, err)
		}
	}
	return nil
}

// Upsert inserts or updates transactions keyed on (account_id, external_id)
func (r *TransactionRepository) Upsert(ctx context.Context, txns []*transaction.Transaction) error {
	if len(txns) == 0 {
		return nil
	}
	return r.db.InTx(ctx, "upsert_transactions", func(tx *sql.Tx) error {
		return insertTransactions(ctx, tx, txns)
	})
}

// DeleteByExternalIDs removes the account's transactions with the given external IDs
func (r *TransactionRepository) DeleteByExternalIDs(ctx context.Context, accountID string, externalIDs []string) (int64, error) {
	if len(externalIDs) == 0 {
		return 0, nil
	}
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE account_id = $1 AND external_id = ANY($2)`,
		accountID, pq.Array(externalIDs),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete transactions: %w", err)
	}
	return result.RowsAffected()
}

// ReplaceWindow deletes every transaction of the account inside the window
// and inserts txns in the same database transaction
func (r *TransactionRepository) ReplaceWindow(ctx context.Context, accountID string, window transaction.Window, txns []*transaction.Transaction) error {
	return r.db.InTx(ctx, "replace_transaction_window", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM transactions WHERE account_id = $1 AND date >= $2 AND date <= $3`,
			accountID, window.Start, window.End,
		)
		if err != nil {
			return fmt.Errorf("failed to clear transaction window: %w", err)
		}
		return insertTransactions(ctx, tx, txns)
	})
}
