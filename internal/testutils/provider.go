package testutils

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"findash/internal/infrastructure/provider"
)

// MockProvider implements provider.ClientInterface with overridable funcs
// and per-method call counters.
type MockProvider struct {
	GetBalancesFunc               func(ctx context.Context, token string, accountIDs []string) (*provider.BalancesResponse, error)
	GetLiabilitiesFunc            func(ctx context.Context, token string, accountIDs []string) (*provider.LiabilitiesResponse, error)
	SyncTransactionsFunc          func(ctx context.Context, token, cursor string, count int) (*provider.TransactionsSyncResponse, error)
	GetInvestmentTransactionsFunc func(ctx context.Context, token string, start, end time.Time, offset, count int) (*provider.InvestmentTransactionsResponse, error)
	GetItemFunc                   func(ctx context.Context, token string) (*provider.ItemResponse, error)
	RemoveItemFunc                func(ctx context.Context, token string) error

	BalanceCalls     atomic.Int32
	LiabilityCalls   atomic.Int32
	SyncCalls        atomic.Int32
	InvestmentCalls  atomic.Int32
	ItemCalls        atomic.Int32
	RemoveItemCalls  atomic.Int32
	mu               sync.Mutex
	RemovedTokens    []string
	RequestedCursors []string
}

// TotalCalls is the number of upstream calls of any kind
func (m *MockProvider) TotalCalls() int32 {
	return m.BalanceCalls.Load() + m.LiabilityCalls.Load() + m.SyncCalls.Load() +
		m.InvestmentCalls.Load() + m.ItemCalls.Load() + m.RemoveItemCalls.Load()
}

// Cursors returns the cursors passed to SyncTransactions, in order
func (m *MockProvider) Cursors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.RequestedCursors...)
}

func (m *MockProvider) GetBalances(ctx context.Context, token string, accountIDs []string) (*provider.BalancesResponse, error) {
	m.BalanceCalls.Add(1)
	if m.GetBalancesFunc != nil {
		return m.GetBalancesFunc(ctx, token, accountIDs)
	}
	return &provider.BalancesResponse{}, nil
}

func (m *MockProvider) GetLiabilities(ctx context.Context, token string, accountIDs []string) (*provider.LiabilitiesResponse, error) {
	m.LiabilityCalls.Add(1)
	if m.GetLiabilitiesFunc != nil {
		return m.GetLiabilitiesFunc(ctx, token, accountIDs)
	}
	return &provider.LiabilitiesResponse{}, nil
}

func (m *MockProvider) SyncTransactions(ctx context.Context, token, cursor string, count int) (*provider.TransactionsSyncResponse, error) {
	m.SyncCalls.Add(1)
	m.mu.Lock()
	m.RequestedCursors = append(m.RequestedCursors, cursor)
	m.mu.Unlock()
	if m.SyncTransactionsFunc != nil {
		return m.SyncTransactionsFunc(ctx, token, cursor, count)
	}
	return &provider.TransactionsSyncResponse{NextCursor: cursor}, nil
}

func (m *MockProvider) GetInvestmentTransactions(ctx context.Context, token string, start, end time.Time, offset, count int) (*provider.InvestmentTransactionsResponse, error) {
	m.InvestmentCalls.Add(1)
	if m.GetInvestmentTransactionsFunc != nil {
		return m.GetInvestmentTransactionsFunc(ctx, token, start, end, offset, count)
	}
	return &provider.InvestmentTransactionsResponse{}, nil
}

func (m *MockProvider) GetItem(ctx context.Context, token string) (*provider.ItemResponse, error) {
	m.ItemCalls.Add(1)
	if m.GetItemFunc != nil {
		return m.GetItemFunc(ctx, token)
	}
	return &provider.ItemResponse{Item: provider.Item{ItemID: "item"}}, nil
}

func (m *MockProvider) RemoveItem(ctx context.Context, token string) error {
	m.RemoveItemCalls.Add(1)
	m.mu.Lock()
	m.RemovedTokens = append(m.RemovedTokens, token)
	m.mu.Unlock()
	if m.RemoveItemFunc != nil {
		return m.RemoveItemFunc(ctx, token)
	}
	return nil
}

// Amount returns a pointer to a provider amount
func Amount(v float64) *provider.Amount {
	a := provider.Amount(v)
	return &a
}

// StaticBalances answers every balance call with the given current values
// keyed by provider account ID.
func StaticBalances(values map[string]float64) func(context.Context, string, []string) (*provider.BalancesResponse, error) {
	return func(_ context.Context, _ string, ids []string) (*provider.BalancesResponse, error) {
		resp := &provider.BalancesResponse{}
		for _, id := range ids {
			v, ok := values[id]
			if !ok {
				continue
			}
			resp.Accounts = append(resp.Accounts, provider.Account{
				AccountID: id,
				Balances:  provider.Balances{Current: Amount(v)},
			})
		}
		return resp, nil
	}
}
