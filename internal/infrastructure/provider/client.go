package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTimeout          = 60 * time.Second
	balancesPath            = "/accounts/balance/get"
	liabilitiesPath         = "/liabilities/get"
	transactionsSyncPath    = "/transactions/sync"
	investmentsPath         = "/investments/transactions/get"
	itemGetPath             = "/item/get"
	itemRemovePath          = "/item/remove"
	maxErrorBodyInMessage   = 512
	defaultMaxResponseBytes = 32 << 20
	transactionsSyncMaxPage = 500
)

var (
	providerTracer = otel.Tracer("findash.provider")
	providerMeter  = otel.Meter("findash.provider")
	requests, _    = providerMeter.Int64Counter("provider.requests",
		metric.WithDescription("Upstream provider requests by endpoint and status"))
)

// Config holds the provider credentials and endpoint
type Config struct {
	BaseURL  string
	ClientID string
	Secret   string
	Timeout  time.Duration

	// MaxResponseBytes caps a response body; zero means 32 MiB
	MaxResponseBytes int64
}

// Client handles communication with the aggregation provider
type Client struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	secret     string
	maxBody    int64
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a new provider API client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	maxBody := cfg.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = defaultMaxResponseBytes
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:  cfg.BaseURL,
		clientID: cfg.ClientID,
		secret:   cfg.Secret,
		maxBody:  maxBody,
	}
}

type authenticated struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	AccessToken string `json:"access_token"`
}

type accountsOptions struct {
	AccountIDs []string `json:"account_ids,omitempty"`
}

type accountsRequest struct {
	authenticated
	Options *accountsOptions `json:"options,omitempty"`
}

type transactionsSyncRequest struct {
	authenticated
	Cursor string `json:"cursor,omitempty"`
	Count  int    `json:"count,omitempty"`
}

type investmentsOptions struct {
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

type investmentsRequest struct {
	authenticated
	StartDate string             `json:"start_date"`
	EndDate   string             `json:"end_date"`
	Options   investmentsOptions `json:"options"`
}

func (c *Client) auth(accessToken string) authenticated {
	return authenticated{ClientID: c.clientID, Secret: c.secret, AccessToken: accessToken}
}

func accountsOpts(accountIDs []string) *accountsOptions {
	if len(accountIDs) == 0 {
		return nil
	}
	return &accountsOptions{AccountIDs: accountIDs}
}

// GetBalances fetches real-time balances for the connection's accounts
func (c *Client) GetBalances(ctx context.Context, accessToken string, accountIDs []string) (*BalancesResponse, error) {
	var resp BalancesResponse
	req := accountsRequest{authenticated: c.auth(accessToken), Options: accountsOpts(accountIDs)}
	if err := c.post(ctx, balancesPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetLiabilities fetches liability summaries for credit and loan accounts
func (c *Client) GetLiabilities(ctx context.Context, accessToken string, accountIDs []string) (*LiabilitiesResponse, error) {
	var resp LiabilitiesResponse
	req := accountsRequest{authenticated: c.auth(accessToken), Options: accountsOpts(accountIDs)}
	if err := c.post(ctx, liabilitiesPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SyncTransactions fetches one page of the incremental transaction feed.
// An empty cursor starts from the beginning of history.
func (c *Client) SyncTransactions(ctx context.Context, accessToken, cursor string, count int) (*TransactionsSyncResponse, error) {
	if count <= 0 || count > transactionsSyncMaxPage {
		count = transactionsSyncMaxPage
	}
	var resp TransactionsSyncResponse
	req := transactionsSyncRequest{authenticated: c.auth(accessToken), Cursor: cursor, Count: count}
	if err := c.post(ctx, transactionsSyncPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetInvestmentTransactions fetches one page of investment history in [start, end]
func (c *Client) GetInvestmentTransactions(ctx context.Context, accessToken string, start, end time.Time, offset, count int) (*InvestmentTransactionsResponse, error) {
	var resp InvestmentTransactionsResponse
	req := investmentsRequest{
		authenticated: c.auth(accessToken),
		StartDate:     start.Format(dateLayout),
		EndDate:       end.Format(dateLayout),
		Options:       investmentsOptions{Offset: offset, Count: count},
	}
	if err := c.post(ctx, investmentsPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetItem returns the provider's view of the connection credential
func (c *Client) GetItem(ctx context.Context, accessToken string) (*ItemResponse, error) {
	var resp ItemResponse
	if err := c.post(ctx, itemGetPath, c.auth(accessToken), &resp); err != nil {
		return nil, err
	}
	if err := ValidateRecord(resp.Item); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RemoveItem revokes the credential upstream
func (c *Client) RemoveItem(ctx context.Context, accessToken string) error {
	var resp struct {
		RequestID string `json:"request_id"`
	}
	return c.post(ctx, itemRemovePath, c.auth(accessToken), &resp)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	ctx, span := providerTracer.Start(ctx, "provider"+path, trace.WithAttributes(
		attribute.String("provider.endpoint", path),
	))
	defer span.End()

	status, err := c.do(ctx, path, payload, out)
	requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", path),
		attribute.Int("status", status),
	))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) do(ctx context.Context, path string, payload, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(respBody)) > c.maxBody {
		return resp.StatusCode, fmt.Errorf("%w: %s exceeded %d bytes", ErrResponseTooLarge, path, c.maxBody)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &Error{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Code == "" {
			msg := string(respBody)
			if len(msg) > maxErrorBodyInMessage {
				msg = msg[:maxErrorBodyInMessage]
			}
			apiErr.Type = "API_ERROR"
			apiErr.Message = msg
		}
		return resp.StatusCode, apiErr
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return resp.StatusCode, nil
}
