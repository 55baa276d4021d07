/**
 * @description
 * This package delivers the sweep dispatcher's batched order notification to
 * a broker's registered webhook endpoint and parses the acknowledgment. Each
 * broker configures its own URL and API key; the payload is one aggregated
 * JSON document per merchant+broker group.
 *
 * @dependencies
 * - bytes, context, encoding/json, net/http: Standard Go libraries.
 * - github.com/google/uuid: Batch id correlation.
 */
package webhookclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Payload is the aggregated notification for one merchant+broker group.
// Line items are nested per member basket so the broker can reconstruct
// sibling orders placed together.
type Payload struct {
	BatchID    uuid.UUID `json:"batch_id"`
	MerchantID uuid.UUID `json:"merchant_id"`
	Broker     string    `json:"broker"`
	SentAt     time.Time `json:"sent_at"`
	OrderCount int       `json:"order_count"`
	TotalCents int64     `json:"total_cents"`
	Baskets    []Basket  `json:"baskets"`
}

// Basket groups one member's line items within the payload.
type Basket struct {
	BasketID      string     `json:"basket_id"`
	MemberID      uuid.UUID  `json:"member_id"`
	SubtotalCents int64      `json:"subtotal_cents"`
	Items         []LineItem `json:"items"`
}

// LineItem is one order inside a basket.
type LineItem struct {
	OrderID     uuid.UUID `json:"order_id"`
	Symbol      string    `json:"symbol"`
	AmountCents int64     `json:"amount_cents"`
	Points      int64     `json:"points"`
}

// Ack is the broker's acknowledgment body. Brokers are inconsistent about
// field names, so both flag spellings and all three reference ids are
// accepted.
type Ack struct {
	Acknowledged   bool    `json:"acknowledged"`
	Success        bool    `json:"success"`
	AcknowledgedAt *string `json:"acknowledged_at,omitempty"`
	BrokerBatchID  string  `json:"broker_batch_id,omitempty"`
	BrokerOrderID  string  `json:"broker_order_id,omitempty"`
	RequestID      string  `json:"request_id,omitempty"`
}

// OK reports whether the broker acknowledged the batch.
func (a Ack) OK() bool {
	return a.Acknowledged || a.Success
}

// Ref returns whichever broker-assigned reference was populated.
func (a Ack) Ref() string {
	switch {
	case a.BrokerBatchID != "":
		return a.BrokerBatchID
	case a.BrokerOrderID != "":
		return a.BrokerOrderID
	default:
		return a.RequestID
	}
}

// Result captures the raw delivery outcome for the audit trail.
type Result struct {
	HTTPStatus   int
	ResponseBody []byte
	Ack          *Ack
}

// Client posts payloads to broker webhooks.
type Client struct {
	HTTPClient *http.Client
}

// NewClient creates a webhook delivery client with the given timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{HTTPClient: &http.Client{Timeout: timeout}}
}

// Deliver POSTs the payload to url with the broker's API key. A transport
// error, non-2xx status, or missing acknowledgment flag is returned as an
// error; the Result is still populated as far as the exchange got so the
// caller can log it.
func (c *Client) Deliver(ctx context.Context, url, apiKey string, payload Payload) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("X-Sweep-Batch-Id", payload.BatchID.String())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &Result{}, fmt.Errorf("failed to execute webhook request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Result{HTTPStatus: resp.StatusCode}, fmt.Errorf("failed to read webhook response: %w", err)
	}

	res := &Result{HTTPStatus: resp.StatusCode, ResponseBody: raw}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return res, fmt.Errorf("broker webhook returned status %d", resp.StatusCode)
	}

	var ack Ack
	if err := json.Unmarshal(raw, &ack); err != nil {
		return res, fmt.Errorf("failed to decode webhook acknowledgment: %w", err)
	}
	res.Ack = &ack

	if !ack.OK() {
		return res, fmt.Errorf("broker webhook did not acknowledge batch %s", payload.BatchID)
	}
	return res, nil
}
