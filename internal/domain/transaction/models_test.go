package transaction

import (
	"errors"
	"math"
	"testing"
)

func TestTransactionValidate(t *testing.T) {
	tests := []struct {
		name    string
		txn     Transaction
		wantErr error
	}{
		{"valid", Transaction{ExternalID: "tx-1", Amount: 12.5}, nil},
		{"zero amount", Transaction{ExternalID: "tx-1", Amount: 0}, nil},
		{"missing external ID", Transaction{Amount: 1}, ErrMissingExternalID},
		{"NaN amount", Transaction{ExternalID: "tx-1", Amount: math.NaN()}, ErrNonFiniteAmount},
		{"positive infinity", Transaction{ExternalID: "tx-1", Amount: math.Inf(1)}, ErrNonFiniteAmount},
		{"negative infinity", Transaction{ExternalID: "tx-1", Amount: math.Inf(-1)}, ErrNonFiniteAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.txn.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
