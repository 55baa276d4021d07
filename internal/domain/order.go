/**
 * @description
 * This file defines the Order entity and its status state machine. An Order is
 * one intended (or executed) purchase of a symbol for one member. Orders are
 * never physically deleted; cancellation and failure are terminal statuses.
 *
 * @notes
 * - Amounts are stored as `int64` in cents, which avoids floating-point
 *   inaccuracies with financial data.
 * - Status transitions are validated in code via CanTransition/Transition
 *   rather than relying on SQL `WHERE status = ...` guards alone.
 */

package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OrderStatus enumerates the lifecycle states of an Order.
type OrderStatus string

const (
	// OrderStatusPending is the initial state of every order.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusQueued marks an order flagged for immediate pickup by the
	// next processing cycle (market was open at creation time).
	OrderStatusQueued OrderStatus = "queued"

	// Intermediate statuses written by the execution pipeline so that a crash
	// mid-pipeline leaves a diagnosable trail.
	OrderStatusValidating OrderStatus = "validating"
	OrderStatusJournaling OrderStatus = "journaling"
	OrderStatusSubmitting OrderStatus = "submitting"
	OrderStatusSubmitted  OrderStatus = "submitted"

	// OrderStatusCompleted is the terminal state of the direct execution path:
	// the buy order was submitted and the member was notified.
	OrderStatusCompleted OrderStatus = "completed"

	// OrderStatusPlaced means the sweep dispatcher has handed the order to the
	// broker webhook. Placement is deliberately not reverted when the webhook
	// acknowledgment fails; the broker is the source of truth and failures are
	// reconciled manually from the notification log.
	OrderStatusPlaced OrderStatus = "placed"
	// OrderStatusApproved means the broker confirmed execution and the
	// merchant has been invoiced for the order.
	OrderStatusApproved OrderStatus = "approved"
	// OrderStatusFunded means settled cash for the order has been journaled
	// from the firm sweep account into the member's brokerage account.
	OrderStatusFunded OrderStatus = "funded"

	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ErrInvalidTransition is returned when an order status change is not a legal
// edge of the state machine.
var ErrInvalidTransition = errors.New("invalid order status transition")

// orderTransitions is the adjacency list of legal status edges.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusQueued, OrderStatusValidating, OrderStatusPlaced, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusQueued:     {OrderStatusValidating, OrderStatusPlaced, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusValidating: {OrderStatusJournaling, OrderStatusFailed},
	OrderStatusJournaling: {OrderStatusSubmitting, OrderStatusFailed},
	OrderStatusSubmitting: {OrderStatusSubmitted, OrderStatusFailed},
	OrderStatusSubmitted:  {OrderStatusCompleted, OrderStatusFailed},
	OrderStatusPlaced:     {OrderStatusApproved, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusApproved:   {OrderStatusFunded, OrderStatusFailed},
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s has no outgoing edges.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// JournalStatus tracks the funding leg of an order independently of the main
// lifecycle, so a failed journal can be retried at member granularity.
type JournalStatus string

const (
	JournalStatusNone    JournalStatus = ""
	JournalStatusPending JournalStatus = "pending"
	JournalStatusPosted  JournalStatus = "posted"
	JournalStatusFailed  JournalStatus = "failed"
)

// Order represents one intended or executed purchase of a symbol for one
// member. It maps directly to the `orders` table.
type Order struct {
	ID                     uuid.UUID     `json:"id"`
	MemberID               uuid.UUID     `json:"member_id"`
	MerchantID             uuid.UUID     `json:"merchant_id"`
	Broker                 string        `json:"broker"`
	BasketID               string        `json:"basket_id"`
	Symbol                 string        `json:"symbol"`
	Shares                 float64       `json:"shares"`
	AmountCents            int64         `json:"amount_cents"`
	PointsUsed             int64         `json:"points_used"`
	Status                 OrderStatus   `json:"status"`
	Source                 string        `json:"source"` // 'single' or 'batch'
	ScheduledExecutionDate time.Time     `json:"scheduled_execution_date"`
	MarketStatusAtCreation string        `json:"market_status_at_creation"`
	Paid                   bool          `json:"paid"`
	Settled                bool          `json:"settled"`
	BrokerOrderRef         *string       `json:"broker_order_ref,omitempty"`
	BrokerOrderStatus      *string       `json:"broker_order_status,omitempty"`
	ExecutedAt             *time.Time    `json:"executed_at,omitempty"`
	JournalStatus          JournalStatus `json:"journal_status,omitempty"`
	JournalRef             *string       `json:"journal_ref,omitempty"`
	JournaledAt            *time.Time    `json:"journaled_at,omitempty"`
	FailureReason          *string       `json:"failure_reason,omitempty"`
	CreatedAt              time.Time     `json:"created_at"`
	UpdatedAt              time.Time     `json:"updated_at"`
}

// Transition validates and applies a status change in memory. Persistence
// still scopes its UPDATE to the expected current status.
func (o *Order) Transition(next OrderStatus) error {
	if !o.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}
	o.Status = next
	return nil
}

// BasketIDFor derives the basket identifier grouping the sibling orders
// placed together for one member in one batch run.
func BasketIDFor(batchID uuid.UUID, memberID uuid.UUID) string {
	return batchID.String() + "-" + memberID.String()
}
