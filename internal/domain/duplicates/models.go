// Package duplicates finds accounts of one institution that mirror the same
// external account and folds them into a single record.
package duplicates

import (
	"errors"
	"fmt"
	"strings"

	"findash/internal/domain/account"
)

// Domain errors
var (
	ErrInvalidInstitution = errors.New("institution ID is required")
	ErrEmptyGroup         = errors.New("duplicate group has fewer than two accounts")
)

// Group is a set of accounts sharing one identity key
type Group struct {
	Key      account.IdentityKey `json:"-"`
	Label    string              `json:"label"`
	Accounts []*account.Account  `json:"accounts"`
}

// Detection lists every duplicate group found under one institution
type Detection struct {
	UserID        int64    `json:"userId"`
	InstitutionID string   `json:"institutionId"`
	Groups        []*Group `json:"groups"`
}

// AccountCount is the number of accounts involved across all groups
func (d *Detection) AccountCount() int {
	n := 0
	for _, g := range d.Groups {
		n += len(g.Accounts)
	}
	return n
}

// MergeResult summarizes a merge for callers and the UI
type MergeResult struct {
	Merged                  int      `json:"merged"`
	Kept                    []string `json:"kept"`
	Removed                 []string `json:"removed"`
	DisconnectedConnections []string `json:"disconnectedConnections"`
	Errors                  []string `json:"errors,omitempty"`
	Message                 string   `json:"message"`
}

func (r *MergeResult) summarize() {
	if len(r.Removed) == 0 && len(r.DisconnectedConnections) == 0 {
		r.Message = "No duplicate accounts were merged."
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Merged %d duplicate %s into %d %s.",
		len(r.Removed), plural(len(r.Removed), "account"),
		len(r.Kept), plural(len(r.Kept), "account"))
	if n := len(r.DisconnectedConnections); n > 0 {
		fmt.Fprintf(&b, " Disconnected %d redundant %s.", n, plural(n, "connection"))
	}
	if n := len(r.Errors); n > 0 {
		fmt.Fprintf(&b, " %d %s could not be completed.", n, plural(n, "step"))
	}
	r.Message = b.String()
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func label(key account.IdentityKey) string {
	if key.HasMask {
		return fmt.Sprintf("%s (%s/%s) ****%s", key.Name, key.Type, key.Subtype, key.Mask)
	}
	return fmt.Sprintf("%s (%s/%s)", key.Name, key.Type, key.Subtype)
}
