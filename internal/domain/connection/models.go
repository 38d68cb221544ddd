package connection

import (
	"errors"
	"time"
)

// ManualCredential marks a connection whose accounts are maintained by hand.
// Such connections are never sent to the provider.
const ManualCredential = "manual"

// Domain errors
var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrForbidden          = errors.New("access forbidden")
)

// ProviderKind selects which upstream client serves a connection
type ProviderKind string

const (
	ProviderStandard  ProviderKind = "standard"
	ProviderAlternate ProviderKind = "alternate"
)

// Status is the lifecycle state of a connection
type Status string

const (
	StatusActive       Status = "active"
	StatusDisconnected Status = "disconnected"
)

// Connection is a user's link to one institution through the data provider.
// Connections are never deleted; they move to StatusDisconnected instead.
type Connection struct {
	ID              string       `json:"id"`
	UserID          int64        `json:"userId"`
	InstitutionID   string       `json:"institutionId"`
	InstitutionName string       `json:"institutionName"`
	AccessToken     string       `json:"-"`
	ProviderKind    ProviderKind `json:"providerKind"`
	Status          Status       `json:"status"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
	DisconnectedAt  *time.Time   `json:"disconnectedAt,omitempty"`
}

// IsManual reports whether the connection carries the manual sentinel credential.
func (c *Connection) IsManual() bool {
	return c.AccessToken == ManualCredential
}

// IsActive reports whether the connection can be used for upstream calls.
func (c *Connection) IsActive() bool {
	return c.Status == StatusActive
}
