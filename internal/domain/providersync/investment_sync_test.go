package providersync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"findash/internal/domain/connection"
	"findash/internal/domain/transaction"
	"findash/internal/infrastructure/provider"
	"findash/internal/testutils"
)

func investmentPages(total int, failAt int) func(context.Context, string, time.Time, time.Time, int, int) (*provider.InvestmentTransactionsResponse, error) {
	return func(_ context.Context, _ string, _, _ time.Time, offset, count int) (*provider.InvestmentTransactionsResponse, error) {
		if failAt >= 0 && offset >= failAt {
			return nil, errors.New("connection reset by peer")
		}
		resp := &provider.InvestmentTransactionsResponse{
			TotalInvestmentTransactions: total,
			Securities: []provider.Security{{
				SecurityID:   "sec-1",
				Name:         "Index Fund",
				TickerSymbol: strPtr("IDX"),
				ClosePrice:   testutils.Amount(101.5),
			}},
		}
		for i := offset; i < total && i < offset+count; i++ {
			resp.InvestmentTransactions = append(resp.InvestmentTransactions, provider.InvestmentTransaction{
				InvestmentTransactionID: "inv-" + string(rune('a'+i)),
				AccountID:               "ext-brokerage",
				SecurityID:              strPtr("sec-1"),
				Date:                    "2024-05-0" + string(rune('1'+i)),
				Name:                    "BUY IDX",
				Quantity:                2,
				Amount:                  testutils.Amount(203),
				Price:                   101.5,
				Type:                    "buy",
			})
		}
		return resp, nil
	}
}

func seedInvestmentHistory(t *testing.T, h *harness) {
	t.Helper()
	h.store.AddTransaction(&transaction.Transaction{
		AccountID:  "brokerage",
		ExternalID: "old-in-window",
		Date:       time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		Amount:     50,
	})
}

func TestInvestmentSync_ReplacesWindow(t *testing.T) {
	h := newHarness(t, withConfig(func(c *Config) { c.InvestmentPageSize = 2 }))
	h.addConnection("conn-1", "tok-1")
	h.addAccount("brokerage", "conn-1", "investment", "brokerage")
	seedInvestmentHistory(t, h)
	h.provider.GetInvestmentTransactionsFunc = investmentPages(3, -1)

	result, err := h.svc.SmartSync(context.Background(), SyncRequest{UserID: testUserID})
	require.NoError(t, err)
	assert.Equal(t, []string{"brokerage"}, result.Synced)
	assert.Equal(t, 3, result.TotalTransactions)
	assert.Equal(t, int32(2), h.provider.InvestmentCalls.Load())
	assert.Equal(t, int32(1), h.provider.ItemCalls.Load())

	txns := h.store.Transactions("brokerage")
	require.Len(t, txns, 3)
	assert.Equal(t, "inv-a", txns[0].ExternalID)

	var ext investmentExtended
	require.NoError(t, json.Unmarshal(txns[0].Extended, &ext))
	require.NotNil(t, ext.Security)
	assert.Equal(t, "Index Fund", ext.Security.Name)
	assert.Equal(t, 2.0, ext.Quantity)
}

func TestInvestmentSync_FailureMidPaginationWritesNothing(t *testing.T) {
	h := newHarness(t, withConfig(func(c *Config) { c.InvestmentPageSize = 2 }))
	h.addConnection("conn-1", "tok-1")
	h.addAccount("brokerage", "conn-1", "investment", "brokerage")
	seedInvestmentHistory(t, h)
	h.provider.GetInvestmentTransactionsFunc = investmentPages(3, 2)

	result, err := h.svc.SmartSync(context.Background(), SyncRequest{UserID: testUserID})
	require.NoError(t, err)
	assert.Contains(t, errorMessages(result.Errors)["brokerage"], "connection reset by peer")

	txns := h.store.Transactions("brokerage")
	require.Len(t, txns, 1)
	assert.Equal(t, "old-in-window", txns[0].ExternalID)
	assert.Nil(t, h.store.Account("brokerage").LastSyncedAt)
}

func TestInvestmentSync_RevokedCredentialAborts(t *testing.T) {
	h := newHarness(t)
	h.addConnection("conn-1", "tok-1")
	h.addAccount("brokerage", "conn-1", "investment", "brokerage")
	seedInvestmentHistory(t, h)
	h.provider.GetItemFunc = func(context.Context, string) (*provider.ItemResponse, error) {
		return &provider.ItemResponse{Item: provider.Item{
			ItemID: "item-1",
			Error:  &provider.Error{Type: "ITEM_ERROR", Code: provider.CodeItemLoginRequired, Message: "login required"},
		}}, nil
	}

	result, err := h.svc.SmartSync(context.Background(), SyncRequest{UserID: testUserID})
	require.NoError(t, err)

	assert.Contains(t, errorMessages(result.Errors)["brokerage"], ErrReconnectRequired.Error())
	assert.Equal(t, int32(0), h.provider.InvestmentCalls.Load())
	assert.Equal(t, connection.StatusDisconnected, h.store.Connection("conn-1").Status)
	assert.Len(t, h.store.Transactions("brokerage"), 1)
}
