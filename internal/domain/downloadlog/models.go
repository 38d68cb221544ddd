package downloadlog

import (
	"context"
	"time"
)

// Status is the outcome recorded for a sync run
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Entry records one transaction download for an account
type Entry struct {
	ID           string     `json:"id"`
	AccountID    string     `json:"accountId"`
	StartDate    *time.Time `json:"startDate,omitempty"`
	EndDate      *time.Time `json:"endDate,omitempty"`
	Count        int        `json:"count"`
	Status       Status     `json:"status"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Repository defines the interface for download log persistence
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	ListByAccountID(ctx context.Context, accountID string, limit int) ([]*Entry, error)
}
