/**
 * @description
 * This package provides a client for the brokerage partner API. It covers the
 * surface the pipeline needs: account lookup and creation, order submission
 * and cancellation, positions, and JNLC cash journals between custodial
 * accounts. The API uses Basic-auth style key/secret credentials.
 *
 * @dependencies
 * - bytes, context, encoding/json, net/http: Standard Go libraries.
 */
package brokerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EntryTypeJNLC is the cash-only journal entry type.
const EntryTypeJNLC = "JNLC"

// Client is a client for the brokerage API.
type Client struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	HTTPClient *http.Client
}

// NewClient creates a new brokerage API client.
func NewClient(baseURL, apiKey, apiSecret string) *Client {
	return &Client{
		BaseURL:   baseURL,
		APIKey:    apiKey,
		APISecret: apiSecret,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Account is a custodial brokerage account.
type Account struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Currency  string `json:"currency,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Contact is the contact block of an account application.
type Contact struct {
	Email         string `json:"email_address"`
	Phone         string `json:"phone_number"`
	StreetAddress string `json:"street_address"`
	City          string `json:"city"`
	State         string `json:"state"`
	PostalCode    string `json:"postal_code"`
}

// Identity is the identity block of an account application.
type Identity struct {
	GivenName   string `json:"given_name"`
	FamilyName  string `json:"family_name"`
	DateOfBirth string `json:"date_of_birth"`
	TaxID       string `json:"tax_id"`
	TaxIDType   string `json:"tax_id_type"`
	Country     string `json:"country_of_tax_residence"`
}

// CreateAccountRequest is the account application payload.
type CreateAccountRequest struct {
	Contact  Contact  `json:"contact"`
	Identity Identity `json:"identity"`
}

// OrderRequest is a notional buy/sell order submission.
type OrderRequest struct {
	Symbol        string `json:"symbol"`
	Notional      string `json:"notional"` // decimal dollars
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

// OrderResponse is the broker's view of a submitted order.
type OrderResponse struct {
	ID             string  `json:"id"`
	ClientOrderID  string  `json:"client_order_id"`
	Symbol         string  `json:"symbol"`
	Status         string  `json:"status"`
	FilledQty      string  `json:"filled_qty"`
	FilledAvgPrice *string `json:"filled_avg_price"`
	SubmittedAt    string  `json:"submitted_at"`
}

// Position is one holding in a brokerage account.
type Position struct {
	Symbol      string `json:"symbol"`
	Qty         string `json:"qty"`
	MarketValue string `json:"market_value"`
	AvgEntry    string `json:"avg_entry_price"`
}

// JournalRequest moves cash between two custodial accounts. ClientTxID is
// the caller's idempotency key; resubmitting the same key is absorbed by the
// broker as a duplicate.
type JournalRequest struct {
	FromAccount string `json:"from_account"`
	ToAccount   string `json:"to_account"`
	EntryType   string `json:"entry_type"`
	Amount      string `json:"amount"` // decimal dollars
	Description string `json:"description,omitempty"`
	ClientTxID  string `json:"client_tx_id,omitempty"`
}

// Journal is the broker's record of a ledger transfer.
type Journal struct {
	ID          string `json:"id"`
	EntryType   string `json:"entry_type"`
	FromAccount string `json:"from_account"`
	ToAccount   string `json:"to_account"`
	Amount      string `json:"amount"`
	Status      string `json:"status"`
	SettledAt   string `json:"settle_date,omitempty"`
}

// APIError represents an error payload from the brokerage API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker api error (status %d): %s", e.StatusCode, e.Message)
}

// GetAccount fetches one account by id.
func (c *Client) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	var out Account
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+accountID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateAccount submits an account application.
func (c *Client) CreateAccount(ctx context.Context, req CreateAccountRequest) (*Account, error) {
	var out Account
	if err := c.do(ctx, http.MethodPost, "/v1/accounts", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitOrder places a notional order for the given account.
func (c *Client) SubmitOrder(ctx context.Context, accountID string, req OrderRequest) (*OrderResponse, error) {
	if req.Type == "" {
		req.Type = "market"
	}
	if req.TimeInForce == "" {
		req.TimeInForce = "day"
	}
	var out OrderResponse
	if err := c.do(ctx, http.MethodPost, "/v1/trading/accounts/"+accountID+"/orders", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrder fetches one order by broker order id.
func (c *Client) GetOrder(ctx context.Context, accountID, orderID string) (*OrderResponse, error) {
	var out OrderResponse
	if err := c.do(ctx, http.MethodGet, "/v1/trading/accounts/"+accountID+"/orders/"+orderID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelOrder requests cancellation of an open order.
func (c *Client) CancelOrder(ctx context.Context, accountID, orderID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/trading/accounts/"+accountID+"/orders/"+orderID, nil, nil)
}

// GetPositions lists the holdings of an account.
func (c *Client) GetPositions(ctx context.Context, accountID string) ([]Position, error) {
	var out []Position
	if err := c.do(ctx, http.MethodGet, "/v1/trading/accounts/"+accountID+"/positions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateJournal posts a cash journal between two accounts.
func (c *Client) CreateJournal(ctx context.Context, req JournalRequest) (*Journal, error) {
	if req.EntryType == "" {
		req.EntryType = EntryTypeJNLC
	}
	var out Journal
	if err := c.do(ctx, http.MethodPost, "/v1/journals", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetJournal fetches a journal's current state by broker journal id.
func (c *Client) GetJournal(ctx context.Context, journalID string) (*Journal, error) {
	var out Journal
	if err := c.do(ctx, http.MethodGet, "/v1/journals/"+journalID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Dollars formats an int64 cents amount the way the API expects.
func Dollars(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// do executes one authenticated request and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal broker request: %w", err)
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create broker request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(c.APIKey, c.APISecret)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute broker request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read broker response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode broker response: %w", err)
	}
	return nil
}
