package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned by the provider that the sync engine reacts to
const (
	CodeItemLoginRequired   = "ITEM_LOGIN_REQUIRED"
	CodeInvalidAccessToken  = "INVALID_ACCESS_TOKEN"
	CodeItemNotFound        = "ITEM_NOT_FOUND"
	CodeAccessNotGranted    = "ACCESS_NOT_GRANTED"
	CodeMutationDuringPages = "TRANSACTIONS_SYNC_MUTATION_DURING_PAGINATION"
	CodeInvalidCursor       = "INVALID_CURSOR"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeProductNotReady     = "PRODUCT_NOT_READY"
)

// ErrResponseTooLarge is returned when a response body exceeds the client's limit
var ErrResponseTooLarge = errors.New("provider response too large")

var credentialInvalidCodes = map[string]struct{}{
	CodeItemLoginRequired:  {},
	CodeInvalidAccessToken: {},
	CodeItemNotFound:       {},
	CodeAccessNotGranted:   {},
}

var cursorInvalidCodes = map[string]struct{}{
	CodeMutationDuringPages: {},
	CodeInvalidCursor:       {},
}

// Error is a structured error reported by the provider
type Error struct {
	StatusCode int    `json:"-"`
	Type       string `json:"error_type"`
	Code       string `json:"error_code"`
	Message    string `json:"error_message"`
	RequestID  string `json:"request_id"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider error (status %d): %s/%s - %s", e.StatusCode, e.Type, e.Code, e.Message)
}

func asError(err error) (*Error, bool) {
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr, true
	}
	return nil, false
}

// IsCredentialInvalid reports whether the provider rejected the connection's
// credential. The connection needs the user to reconnect.
func IsCredentialInvalid(err error) bool {
	pErr, ok := asError(err)
	if !ok {
		return false
	}
	_, invalid := credentialInvalidCodes[pErr.Code]
	return invalid
}

// IsCursorInvalid reports whether the provider rejected a sync cursor.
func IsCursorInvalid(err error) bool {
	pErr, ok := asError(err)
	if !ok {
		return false
	}
	_, invalid := cursorInvalidCodes[pErr.Code]
	return invalid
}

// IsTransient reports whether the failure is worth trying again later.
func IsTransient(err error) bool {
	pErr, ok := asError(err)
	if !ok {
		return false
	}
	return pErr.StatusCode >= http.StatusInternalServerError ||
		pErr.StatusCode == http.StatusTooManyRequests ||
		pErr.Code == CodeRateLimitExceeded ||
		pErr.Code == CodeProductNotReady
}
