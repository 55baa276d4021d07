/**
 * @description
 * Append-only audit entities: every outbound broker webhook call, every sweep
 * dispatch run, and every ledger journal written against the brokerage API.
 * These rows exist for observability and manual reconciliation; they are
 * never read back into control flow except for the client_tx_id idempotency
 * key on journal entries.
 */

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification delivery outcomes.
const (
	NotificationStatusSent   = "sent"
	NotificationStatusFailed = "failed"
)

// BrokerNotification is one outbound webhook delivery for one merchant+broker
// group. Maps to `broker_notifications`.
type BrokerNotification struct {
	ID             uuid.UUID       `json:"id"`
	SweepBatchID   uuid.UUID       `json:"sweep_batch_id"`
	MerchantID     uuid.UUID       `json:"merchant_id"`
	Broker         string          `json:"broker"`
	OrderCount     int             `json:"order_count"`
	RequestPayload json.RawMessage `json:"request_payload"`
	HTTPStatus     int             `json:"http_status"`
	ResponseBody   json.RawMessage `json:"response_body,omitempty"`
	Status         string          `json:"status"` // 'sent' or 'failed'
	BrokerRef      *string         `json:"broker_ref,omitempty"`
	Error          *string         `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// SweepLog is the one summary row written per sweep dispatch run. Maps to
// `sweep_logs`.
type SweepLog struct {
	ID              uuid.UUID  `json:"id"`
	SweepBatchID    uuid.UUID  `json:"sweep_batch_id"`
	MerchantID      *uuid.UUID `json:"merchant_id,omitempty"` // nil means all merchants
	GroupCount      int        `json:"group_count"`
	OrdersSelected  int        `json:"orders_selected"`
	OrdersPlaced    int        `json:"orders_placed"`
	OrdersConfirmed int        `json:"orders_confirmed"`
	OrdersFailed    int        `json:"orders_failed"`
	DurationMS      int64      `json:"duration_ms"`
	Errors          string     `json:"errors,omitempty"` // serialized error list
	CreatedAt       time.Time  `json:"created_at"`
}

// JournalEntry is one attempted JNLC transfer against the brokerage ledger.
// ClientTxID carries a unique constraint so re-processing the same logical
// event is absorbed as a no-op duplicate. Maps to `journal_entries`.
type JournalEntry struct {
	ID             uuid.UUID `json:"id"`
	ClientTxID     string    `json:"client_tx_id"`
	MemberID       uuid.UUID `json:"member_id"`
	FromAccountRef string    `json:"from_account_ref"`
	ToAccountRef   string    `json:"to_account_ref"`
	AmountCents    int64     `json:"amount_cents"`
	JournalRef     *string   `json:"journal_ref,omitempty"` // broker-assigned id
	Status         string    `json:"status"`
	Error          *string   `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// MemberJournalResult is the per-member outcome of one journal run.
type MemberJournalResult struct {
	MemberID    uuid.UUID `json:"member_id"`
	AccountRef  string    `json:"account_ref,omitempty"`
	OrderCount  int       `json:"order_count"`
	AmountCents int64     `json:"amount_cents"`
	JournalRef  string    `json:"journal_ref,omitempty"`
	// Absorbed marks a member whose transfer had already posted under the
	// same client transaction key; no new journal was issued.
	Absorbed   bool   `json:"absorbed,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
	SkipReason string `json:"skip_reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

// JournalRunSummary is returned by one fund journaling run. JournalsCreated
// counts transfers that actually hit the broker this run; absorbed duplicates
// are reported separately.
type JournalRunSummary struct {
	MembersFunded      int                   `json:"members_funded"`
	JournalsCreated    int                   `json:"journals_created"`
	DuplicatesAbsorbed int                   `json:"duplicates_absorbed"`
	TotalAmountCents   int64                 `json:"total_amount_cents"`
	Results            []MemberJournalResult `json:"results"`
	Errors             []string              `json:"errors,omitempty"`
}

// SweepRunSummary is returned by one sweep dispatch run.
type SweepRunSummary struct {
	SweepBatchID    uuid.UUID `json:"sweep_batch_id"`
	GroupCount      int       `json:"group_count"`
	OrdersSelected  int       `json:"orders_selected"`
	OrdersPlaced    int       `json:"orders_placed"`
	OrdersConfirmed int       `json:"orders_confirmed"`
	OrdersFailed    int       `json:"orders_failed"`
	DurationMS      int64     `json:"duration_ms"`
	Errors          []string  `json:"errors,omitempty"`
}
