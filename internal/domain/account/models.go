package account

import (
	"errors"
	"strings"
	"time"
)

// Domain errors
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrForbidden       = errors.New("access forbidden")
	ErrInvalidInput    = errors.New("invalid input")
)

// Account types as reported by the provider
const (
	TypeDepository = "depository"
	TypeCredit     = "credit"
	TypeLoan       = "loan"
	TypeInvestment = "investment"
	TypeBrokerage  = "brokerage"
	TypeOther      = "other"
)

// ActivityClass is a coarse churn classification used to pick cache TTLs
type ActivityClass int

const (
	ActivityHigh ActivityClass = iota
	ActivityMedium
	ActivityLow
)

func (c ActivityClass) String() string {
	switch c {
	case ActivityHigh:
		return "high"
	case ActivityMedium:
		return "medium"
	default:
		return "low"
	}
}

var (
	highActivitySubtypes = map[string]struct{}{
		"checking":    {},
		"credit card": {},
		"card":        {},
		"prepaid":     {},
	}
	mediumActivitySubtypes = map[string]struct{}{
		"savings":         {},
		"money market":    {},
		"cd":              {},
		"cash management": {},
		"paypal":          {},
		"hsa":             {},
	}
)

// Account mirrors one external account under a connection.
// ExternalID is unique within a connection but not across connections.
type Account struct {
	ID                 string     `json:"id"`
	ConnectionID       string     `json:"connectionId"`
	ExternalID         string     `json:"externalId"`
	Name               string     `json:"name"`
	Type               string     `json:"type"`
	Subtype            string     `json:"subtype"`
	Mask               *string    `json:"mask,omitempty"`
	Hidden             bool       `json:"hidden"`
	Archived           bool       `json:"archived"`
	InvertTransactions bool       `json:"invertTransactions"`
	LastSyncedAt       *time.Time `json:"lastSyncedAt,omitempty"`
	SyncCursor         *string    `json:"-"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`

	// Liability summary, populated for credit and loan accounts only
	LastStatementBalance *float64   `json:"lastStatementBalance,omitempty"`
	MinimumPaymentAmount *float64   `json:"minimumPaymentAmount,omitempty"`
	NextPaymentDueDate   *time.Time `json:"nextPaymentDueDate,omitempty"`
	NextMonthlyPayment   *float64   `json:"nextMonthlyPayment,omitempty"`
}

// LiabilityUpdate carries the liability fields applied after a refresh
type LiabilityUpdate struct {
	LastStatementBalance *float64
	MinimumPaymentAmount *float64
	NextPaymentDueDate   *time.Time
	NextMonthlyPayment   *float64
}

// IsEmpty reports whether the update carries no field at all.
func (u LiabilityUpdate) IsEmpty() bool {
	return u.LastStatementBalance == nil && u.MinimumPaymentAmount == nil &&
		u.NextPaymentDueDate == nil && u.NextMonthlyPayment == nil
}

// ActivityClass classifies the account for cache TTL selection.
func (a *Account) ActivityClass() ActivityClass {
	subtype := strings.ToLower(a.Subtype)
	if _, ok := highActivitySubtypes[subtype]; ok {
		return ActivityHigh
	}
	if _, ok := mediumActivitySubtypes[subtype]; ok {
		return ActivityMedium
	}
	switch strings.ToLower(a.Type) {
	case TypeCredit:
		return ActivityHigh
	case TypeDepository:
		return ActivityMedium
	}
	return ActivityLow
}

// HasLiabilities reports whether the provider exposes liability data for the account.
func (a *Account) HasLiabilities() bool {
	t := strings.ToLower(a.Type)
	return t == TypeCredit || t == TypeLoan
}

// IsInvestment reports whether the account syncs through the windowed investment path.
func (a *Account) IsInvestment() bool {
	t := strings.ToLower(a.Type)
	return t == TypeInvestment || t == TypeBrokerage
}

// IdentityKey is the tuple used to spot accounts that represent the same
// external account. The mask only participates when present.
type IdentityKey struct {
	Type    string
	Subtype string
	Name    string
	Mask    string
	HasMask bool
}

// IdentityKey returns the account's duplicate-detection key.
func (a *Account) IdentityKey() IdentityKey {
	key := IdentityKey{
		Type:    a.Type,
		Subtype: a.Subtype,
		Name:    a.Name,
	}
	if a.Mask != nil && *a.Mask != "" {
		key.Mask = *a.Mask
		key.HasMask = true
	}
	return key
}
