package provider

import (
	"context"
	"time"
)

// ClientInterface defines the upstream calls the sync engine relies on
type ClientInterface interface {
	GetBalances(ctx context.Context, accessToken string, accountIDs []string) (*BalancesResponse, error)
	GetLiabilities(ctx context.Context, accessToken string, accountIDs []string) (*LiabilitiesResponse, error)
	SyncTransactions(ctx context.Context, accessToken, cursor string, count int) (*TransactionsSyncResponse, error)
	GetInvestmentTransactions(ctx context.Context, accessToken string, start, end time.Time, offset, count int) (*InvestmentTransactionsResponse, error)
	GetItem(ctx context.Context, accessToken string) (*ItemResponse, error)
	RemoveItem(ctx context.Context, accessToken string) error
}
