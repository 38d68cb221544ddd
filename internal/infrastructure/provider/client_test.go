package provider

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"findash/internal/domain/connection"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, ClientID: "client", Secret: "secret"})
}

func TestClient_GetBalances(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, balancesPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "client", body["client_id"])
		assert.Equal(t, "token-1", body["access_token"])

		_, _ = w.Write([]byte(`{
			"accounts": [
				{"account_id": "ext-1", "name": "Checking", "type": "depository", "subtype": "checking",
				 "balances": {"current": 120.5, "available": 100, "limit": null}},
				{"account_id": "ext-2", "name": "Visa", "type": "credit", "subtype": "credit card", "mask": "1234",
				 "balances": {"current": "NaN", "available": null, "limit": 5000}}
			],
			"item": {"item_id": "item-1", "institution_id": "ins_1"},
			"request_id": "req-1"
		}`))
	})

	resp, err := client.GetBalances(context.Background(), "token-1", []string{"ext-1", "ext-2"})
	require.NoError(t, err)
	require.Len(t, resp.Accounts, 2)

	current, ok := resp.Accounts[0].Balances.CurrentValue()
	assert.True(t, ok)
	assert.Equal(t, 120.5, current)
	require.NotNil(t, resp.Accounts[0].Balances.AvailableValue())
	assert.Nil(t, resp.Accounts[0].Balances.LimitValue())

	_, ok = resp.Accounts[1].Balances.CurrentValue()
	assert.False(t, ok, "NaN balance must not be reported as a value")
	require.NotNil(t, resp.Accounts[1].Mask)
	assert.Equal(t, "1234", *resp.Accounts[1].Mask)
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name              string
		status            int
		body              string
		credentialInvalid bool
		cursorInvalid     bool
		transient         bool
	}{
		{
			name:              "login required",
			status:            http.StatusBadRequest,
			body:              `{"error_type":"ITEM_ERROR","error_code":"ITEM_LOGIN_REQUIRED","error_message":"login"}`,
			credentialInvalid: true,
		},
		{
			name:          "cursor mutation",
			status:        http.StatusBadRequest,
			body:          `{"error_type":"TRANSACTIONS_ERROR","error_code":"TRANSACTIONS_SYNC_MUTATION_DURING_PAGINATION"}`,
			cursorInvalid: true,
		},
		{
			name:      "server error without body",
			status:    http.StatusBadGateway,
			body:      `upstream unavailable`,
			transient: true,
		},
		{
			name:      "rate limited",
			status:    http.StatusTooManyRequests,
			body:      `{"error_type":"RATE_LIMIT_EXCEEDED","error_code":"RATE_LIMIT_EXCEEDED"}`,
			transient: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.GetBalances(context.Background(), "token", nil)
			require.Error(t, err)

			var pErr *Error
			require.True(t, errors.As(err, &pErr))
			assert.Equal(t, tt.status, pErr.StatusCode)
			assert.Equal(t, tt.credentialInvalid, IsCredentialInvalid(err))
			assert.Equal(t, tt.cursorInvalid, IsCursorInvalid(err))
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestClient_ResponseSizeLimit(t *testing.T) {
	body := `{"accounts": [], "item": {"item_id": "item-1"}, "request_id": "` + strings.Repeat("r", 256) + `"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	tests := []struct {
		name    string
		limit   int64
		wantErr bool
	}{
		{name: "body over the limit", limit: 128, wantErr: true},
		{name: "body exactly at the limit", limit: int64(len(body))},
		{name: "default limit", limit: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(Config{BaseURL: srv.URL, ClientID: "client", Secret: "secret", MaxResponseBytes: tt.limit})
			_, err := client.GetBalances(context.Background(), "token-1", nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrResponseTooLarge)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestClient_SyncTransactions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body transactionsSyncRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cur-1", body.Cursor)
		assert.Equal(t, transactionsSyncMaxPage, body.Count)

		_, _ = w.Write([]byte(`{
			"added": [{"transaction_id":"t1","account_id":"ext-1","amount":"12.30","date":"2024-01-02","name":"Coffee","category":["Food","Coffee"]}],
			"modified": [],
			"removed": [{"transaction_id":"t0","account_id":"ext-1"}],
			"next_cursor": "cur-2",
			"has_more": true
		}`))
	})

	resp, err := client.SyncTransactions(context.Background(), "token", "cur-1", 0)
	require.NoError(t, err)
	require.Len(t, resp.Added, 1)
	assert.InDelta(t, 12.30, resp.Added[0].Amount.Float(), 1e-9)
	assert.Equal(t, "Food", resp.Added[0].PrimaryCategory())
	date, err := resp.Added[0].ParsedDate()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), date)
	assert.Equal(t, "cur-2", resp.NextCursor)
	assert.True(t, resp.HasMore)
	require.Len(t, resp.Removed, 1)
}

func TestAmount_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in     string
		finite bool
		want   float64
	}{
		{`12.5`, true, 12.5},
		{`"-3.25"`, true, -3.25},
		{`"NaN"`, false, 0},
		{`"garbage"`, false, 0},
		{`""`, false, 0},
		{`null`, false, 0},
		{`true`, false, 0},
		{`1e999`, false, 0},
		{`-1e999`, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var a Amount
			require.NoError(t, json.Unmarshal([]byte(tt.in), &a))
			assert.Equal(t, tt.finite, a.IsFinite())
			switch {
			case tt.finite:
				assert.Equal(t, tt.want, a.Float())
			case strings.HasSuffix(tt.in, "e999"):
				assert.True(t, math.IsInf(a.Float(), 0))
			default:
				assert.True(t, math.IsNaN(a.Float()))
			}
		})
	}
}

func TestTransactionsSyncResponse_BadAmountsDoNotFailPage(t *testing.T) {
	raw := `{"added":[
		{"transaction_id":"t1","account_id":"ext-1","amount":5,"date":"2024-01-02"},
		{"transaction_id":"t2","account_id":"ext-1","amount":null,"date":"2024-01-02"},
		{"transaction_id":"t3","account_id":"ext-1","date":"2024-01-02"},
		{"transaction_id":"t4","account_id":"ext-1","amount":1e999,"date":"2024-01-02"}
	]}`

	var resp TransactionsSyncResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	require.Len(t, resp.Added, 4)

	assert.Equal(t, 5.0, AmountValue(resp.Added[0].Amount))
	assert.True(t, math.IsNaN(AmountValue(resp.Added[1].Amount)), "null amount")
	assert.True(t, math.IsNaN(AmountValue(resp.Added[2].Amount)), "absent amount")
	assert.True(t, math.IsInf(AmountValue(resp.Added[3].Amount), 1), "overflowing amount")
}

func TestLiabilitiesResponse_ByAccount(t *testing.T) {
	raw := `{"liabilities":{
		"credit":[{"account_id":"card-1","last_statement_balance":410.2,"minimum_payment_amount":25,"next_payment_due_date":"2024-06-15"},{"account_id":""}],
		"mortgage":[{"account_id":"mort-1","next_monthly_payment":1800,"next_payment_due_date":"2024-07-01"}],
		"student":[]}}`

	var resp LiabilitiesResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))

	byAccount := resp.ByAccount()
	require.Len(t, byAccount, 2, "record without account ID must be skipped")

	card := byAccount["card-1"]
	require.NotNil(t, card.LastStatementBalance)
	assert.Equal(t, 410.2, *card.LastStatementBalance)
	require.NotNil(t, card.NextPaymentDueDate)
	assert.Equal(t, 15, card.NextPaymentDueDate.Day())

	mort := byAccount["mort-1"]
	require.NotNil(t, mort.NextMonthlyPayment)
	assert.Equal(t, 1800.0, *mort.NextMonthlyPayment)
	assert.Nil(t, mort.MinimumPaymentAmount)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	std := NewClient(Config{BaseURL: "http://standard"})
	reg.Register(connection.ProviderStandard, std)

	got, ok := reg.For("")
	require.True(t, ok)
	assert.Same(t, std, got)

	_, ok = reg.For(connection.ProviderAlternate)
	assert.False(t, ok)
}
