package provider

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

const dateLayout = "2006-01-02"

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateRecord checks one payload record against its struct tags.
func ValidateRecord(record any) error {
	if err := validate.Struct(record); err != nil {
		return fmt.Errorf("invalid provider record: %w", err)
	}
	return nil
}

// Amount is a monetary value that the provider may send either as a JSON
// number or as a string. Anything that is not a number decodes to NaN and an
// out-of-range number decodes to an infinity, so a single bad figure marks its
// record as non-finite instead of failing the whole page.
type Amount float64

// UnmarshalJSON implements json.Unmarshaler
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = parseAmount(s)
		return nil
	}
	*a = parseAmount(string(data))
	return nil
}

func parseAmount(s string) Amount {
	if s == "" || s == "null" {
		return Amount(math.NaN())
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return Amount(math.NaN())
	}
	return Amount(v)
}

// AmountValue returns the amount or NaN when it was null or absent
func AmountValue(a *Amount) float64 {
	if a == nil {
		return math.NaN()
	}
	return a.Float()
}

// Float returns the amount as float64
func (a Amount) Float() float64 { return float64(a) }

// IsFinite reports whether the amount is neither NaN nor infinite
func (a Amount) IsFinite() bool {
	f := float64(a)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func floatPtr(a *Amount) *float64 {
	if a == nil || !a.IsFinite() {
		return nil
	}
	f := a.Float()
	return &f
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("failed to parse date '%s': %w", s, err)
	}
	return &t, nil
}

// Balances holds the balance figures of one account
type Balances struct {
	Current   *Amount `json:"current"`
	Available *Amount `json:"available"`
	Limit     *Amount `json:"limit"`
	Currency  string  `json:"iso_currency_code"`
}

// CurrentValue returns the current balance when it is present and finite.
func (b Balances) CurrentValue() (float64, bool) {
	if b.Current == nil || !b.Current.IsFinite() {
		return 0, false
	}
	return b.Current.Float(), true
}

// AvailableValue returns the available balance when it is present and finite.
func (b Balances) AvailableValue() *float64 { return floatPtr(b.Available) }

// LimitValue returns the credit limit when it is present and finite.
func (b Balances) LimitValue() *float64 { return floatPtr(b.Limit) }

// Account represents an account entry in provider responses
type Account struct {
	AccountID string   `json:"account_id" validate:"required"`
	Name      string   `json:"name"`
	Mask      *string  `json:"mask"`
	Type      string   `json:"type"`
	Subtype   string   `json:"subtype"`
	Balances  Balances `json:"balances"`
}

// Item describes the credential the provider holds for a connection
type Item struct {
	ItemID        string `json:"item_id" validate:"required"`
	InstitutionID string `json:"institution_id"`
	Error         *Error `json:"error"`
}

// BalancesResponse is returned by the balance endpoint
type BalancesResponse struct {
	Accounts  []Account `json:"accounts"`
	Item      Item      `json:"item"`
	RequestID string    `json:"request_id"`
}

// CreditLiability is the liability summary of a credit card
type CreditLiability struct {
	AccountID            string  `json:"account_id" validate:"required"`
	LastStatementBalance *Amount `json:"last_statement_balance"`
	MinimumPaymentAmount *Amount `json:"minimum_payment_amount"`
	NextPaymentDueDate   string  `json:"next_payment_due_date"`
}

// MortgageLiability is the liability summary of a mortgage
type MortgageLiability struct {
	AccountID          string  `json:"account_id" validate:"required"`
	NextMonthlyPayment *Amount `json:"next_monthly_payment"`
	NextPaymentDueDate string  `json:"next_payment_due_date"`
}

// StudentLiability is the liability summary of a student loan
type StudentLiability struct {
	AccountID            string  `json:"account_id" validate:"required"`
	LastStatementBalance *Amount `json:"last_statement_balance"`
	MinimumPaymentAmount *Amount `json:"minimum_payment_amount"`
	NextPaymentDueDate   string  `json:"next_payment_due_date"`
}

// Liabilities groups liability summaries by product
type Liabilities struct {
	Credit   []CreditLiability   `json:"credit"`
	Mortgage []MortgageLiability `json:"mortgage"`
	Student  []StudentLiability  `json:"student"`
}

// LiabilitiesResponse is returned by the liabilities endpoint
type LiabilitiesResponse struct {
	Accounts    []Account   `json:"accounts"`
	Liabilities Liabilities `json:"liabilities"`
	RequestID   string      `json:"request_id"`
}

// LiabilitySummary is the flattened liability data of one account
type LiabilitySummary struct {
	LastStatementBalance *float64
	MinimumPaymentAmount *float64
	NextPaymentDueDate   *time.Time
	NextMonthlyPayment   *float64
}

// ByAccount flattens the response into one summary per provider account ID.
// Records failing validation or with unparseable dates are skipped.
func (r *LiabilitiesResponse) ByAccount() map[string]LiabilitySummary {
	out := make(map[string]LiabilitySummary)

	for _, c := range r.Liabilities.Credit {
		if ValidateRecord(c) != nil {
			continue
		}
		due, _ := parseDate(c.NextPaymentDueDate)
		out[c.AccountID] = LiabilitySummary{
			LastStatementBalance: floatPtr(c.LastStatementBalance),
			MinimumPaymentAmount: floatPtr(c.MinimumPaymentAmount),
			NextPaymentDueDate:   due,
		}
	}
	for _, m := range r.Liabilities.Mortgage {
		if ValidateRecord(m) != nil {
			continue
		}
		due, _ := parseDate(m.NextPaymentDueDate)
		out[m.AccountID] = LiabilitySummary{
			NextMonthlyPayment: floatPtr(m.NextMonthlyPayment),
			NextPaymentDueDate: due,
		}
	}
	for _, s := range r.Liabilities.Student {
		if ValidateRecord(s) != nil {
			continue
		}
		due, _ := parseDate(s.NextPaymentDueDate)
		out[s.AccountID] = LiabilitySummary{
			LastStatementBalance: floatPtr(s.LastStatementBalance),
			MinimumPaymentAmount: floatPtr(s.MinimumPaymentAmount),
			NextPaymentDueDate:   due,
		}
	}

	return out
}

// Transaction is a ledger entry in the incremental sync feed
type Transaction struct {
	TransactionID string          `json:"transaction_id" validate:"required"`
	AccountID     string          `json:"account_id" validate:"required"`
	Amount        *Amount         `json:"amount"`
	Date          string          `json:"date" validate:"required"`
	Name          string          `json:"name"`
	MerchantName  *string         `json:"merchant_name"`
	Pending       bool            `json:"pending"`
	Category      []string        `json:"category"`
	Location      json.RawMessage `json:"location,omitempty"`
	PaymentMeta   json.RawMessage `json:"payment_meta,omitempty"`
}

// ParsedDate returns the transaction date
func (t *Transaction) ParsedDate() (time.Time, error) {
	d, err := parseDate(t.Date)
	if err != nil {
		return time.Time{}, err
	}
	if d == nil {
		return time.Time{}, fmt.Errorf("transaction %s has no date", t.TransactionID)
	}
	return *d, nil
}

// PrimaryCategory returns the most general category label, if any
func (t *Transaction) PrimaryCategory() string {
	if len(t.Category) == 0 {
		return ""
	}
	return t.Category[0]
}

// RemovedTransaction identifies a transaction deleted upstream
type RemovedTransaction struct {
	TransactionID string `json:"transaction_id" validate:"required"`
	AccountID     string `json:"account_id"`
}

// TransactionsSyncResponse is one page of the incremental sync feed
type TransactionsSyncResponse struct {
	Added      []Transaction        `json:"added"`
	Modified   []Transaction        `json:"modified"`
	Removed    []RemovedTransaction `json:"removed"`
	NextCursor string               `json:"next_cursor"`
	HasMore    bool                 `json:"has_more"`
	RequestID  string               `json:"request_id"`
}

// Security describes a held instrument referenced by investment transactions
type Security struct {
	SecurityID   string  `json:"security_id" validate:"required"`
	Name         string  `json:"name"`
	TickerSymbol *string `json:"ticker_symbol"`
	Type         string  `json:"type"`
	ClosePrice   *Amount `json:"close_price"`
}

// InvestmentTransaction is a trade or cash movement in an investment account
type InvestmentTransaction struct {
	InvestmentTransactionID string  `json:"investment_transaction_id" validate:"required"`
	AccountID               string  `json:"account_id" validate:"required"`
	SecurityID              *string `json:"security_id"`
	Date                    string  `json:"date" validate:"required"`
	Name                    string  `json:"name"`
	Quantity                Amount  `json:"quantity"`
	Amount                  *Amount `json:"amount"`
	Price                   Amount  `json:"price"`
	Fees                    *Amount `json:"fees"`
	Type                    string  `json:"type"`
	Subtype                 string  `json:"subtype"`
}

// ParsedDate returns the transaction date
func (t *InvestmentTransaction) ParsedDate() (time.Time, error) {
	d, err := parseDate(t.Date)
	if err != nil {
		return time.Time{}, err
	}
	if d == nil {
		return time.Time{}, fmt.Errorf("investment transaction %s has no date", t.InvestmentTransactionID)
	}
	return *d, nil
}

// InvestmentTransactionsResponse is one page of investment history
type InvestmentTransactionsResponse struct {
	Accounts                    []Account               `json:"accounts"`
	InvestmentTransactions      []InvestmentTransaction `json:"investment_transactions"`
	Securities                  []Security              `json:"securities"`
	TotalInvestmentTransactions int                     `json:"total_investment_transactions"`
	RequestID                   string                  `json:"request_id"`
}

// ItemResponse is returned by the item status endpoint
type ItemResponse struct {
	Item      Item   `json:"item"`
	RequestID string `json:"request_id"`
}
