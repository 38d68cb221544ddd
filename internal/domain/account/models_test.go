package account

import (
	"testing"
)

func strPtr(s string) *string { return &s }

func TestActivityClass(t *testing.T) {
	tests := []struct {
		name    string
		accType string
		subtype string
		want    ActivityClass
	}{
		{"checking", TypeDepository, "checking", ActivityHigh},
		{"credit card", TypeCredit, "credit card", ActivityHigh},
		{"credit without subtype", TypeCredit, "", ActivityHigh},
		{"savings", TypeDepository, "savings", ActivityMedium},
		{"money market", TypeDepository, "money market", ActivityMedium},
		{"unknown depository", TypeDepository, "other", ActivityMedium},
		{"brokerage", TypeInvestment, "brokerage", ActivityLow},
		{"mortgage", TypeLoan, "mortgage", ActivityLow},
		{"other", TypeOther, "", ActivityLow},
		{"case insensitive", "Depository", "Checking", ActivityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := &Account{Type: tt.accType, Subtype: tt.subtype}
			if got := acc.ActivityClass(); got != tt.want {
				t.Errorf("ActivityClass() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIdentityKey(t *testing.T) {
	withMask := &Account{Type: "credit", Subtype: "card", Name: "Visa", Mask: strPtr("1234")}
	otherMask := &Account{Type: "credit", Subtype: "card", Name: "Visa", Mask: strPtr("9999")}
	noMask := &Account{Type: "credit", Subtype: "card", Name: "Visa"}
	emptyMask := &Account{Type: "credit", Subtype: "card", Name: "Visa", Mask: strPtr("")}

	if withMask.IdentityKey() == otherMask.IdentityKey() {
		t.Error("accounts with different masks must not share an identity key")
	}
	if withMask.IdentityKey() == noMask.IdentityKey() {
		t.Error("masked and unmasked accounts must not share an identity key")
	}
	if noMask.IdentityKey() != emptyMask.IdentityKey() {
		t.Error("empty mask should behave like a missing mask")
	}
	if !withMask.IdentityKey().HasMask {
		t.Error("HasMask = false, want true")
	}
}

func TestHasLiabilities(t *testing.T) {
	tests := []struct {
		accType string
		want    bool
	}{
		{TypeCredit, true},
		{TypeLoan, true},
		{TypeDepository, false},
		{TypeInvestment, false},
	}

	for _, tt := range tests {
		t.Run(tt.accType, func(t *testing.T) {
			acc := &Account{Type: tt.accType}
			if got := acc.HasLiabilities(); got != tt.want {
				t.Errorf("HasLiabilities() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLiabilityUpdateIsEmpty(t *testing.T) {
	v := 10.0
	if !(LiabilityUpdate{}).IsEmpty() {
		t.Error("zero update should be empty")
	}
	if (LiabilityUpdate{MinimumPaymentAmount: &v}).IsEmpty() {
		t.Error("update with a field should not be empty")
	}
}
