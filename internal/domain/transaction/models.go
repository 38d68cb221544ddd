package transaction

import (
	"encoding/json"
	"errors"
	"math"
	"time"
)

// Domain errors
var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrNonFiniteAmount     = errors.New("transaction amount is not a finite number")
	ErrMissingExternalID   = errors.New("transaction external ID is required")
)

// Transaction is a single ledger entry mirrored from the provider.
// (AccountID, ExternalID) is unique.
type Transaction struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"accountId"`
	ExternalID   string          `json:"externalId"`
	Date         time.Time       `json:"date"`
	Name         string          `json:"name"`
	Amount       float64         `json:"amount"`
	Category     string          `json:"category,omitempty"`
	MerchantName string          `json:"merchantName,omitempty"`
	Pending      bool            `json:"pending"`
	Extended     json.RawMessage `json:"extended,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Validate checks the invariants enforced before a transaction is stored.
func (t *Transaction) Validate() error {
	if t.ExternalID == "" {
		return ErrMissingExternalID
	}
	if math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) {
		return ErrNonFiniteAmount
	}
	return nil
}

// Window is an inclusive date range
type Window struct {
	Start time.Time
	End   time.Time
}
