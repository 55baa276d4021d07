/**
 * @description
 * This file defines the staging-area entities for bulk order generation. A
 * PrepareBatch is one computation run over member point balances; its
 * PreparedOrder rows hold computed-but-not-yet-committed amounts that a human
 * reviews before they become live orders.
 */

package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// BatchStatus enumerates the states of a prepare batch. A batch is exactly
// one of staged, approved, or discarded; only a staged batch may transition,
// and the transition is one-way.
type BatchStatus string

const (
	BatchStatusStaged    BatchStatus = "staged"
	BatchStatusApproved  BatchStatus = "approved"
	BatchStatusDiscarded BatchStatus = "discarded"
)

// ErrBatchNotStaged is returned when approve or discard is requested against
// a batch that is no longer in the staged state.
var ErrBatchNotStaged = errors.New("prepare batch is not in staged status")

// CanTransition reports whether a batch may move from s to next.
func (s BatchStatus) CanTransition(next BatchStatus) bool {
	return s == BatchStatusStaged && (next == BatchStatusApproved || next == BatchStatusDiscarded)
}

// PrepareBatch is one bulk preparation run. Maps to `prepare_batches`.
type PrepareBatch struct {
	ID               uuid.UUID   `json:"id"`
	MerchantID       *uuid.UUID  `json:"merchant_id,omitempty"` // nil means all merchants
	Status           BatchStatus `json:"status"`
	EligibleMembers  int         `json:"eligible_members"`
	SkippedMembers   int         `json:"skipped_members"`
	OrderCount       int         `json:"order_count"`
	TotalPoints      int64       `json:"total_points"`
	TotalAmountCents int64       `json:"total_amount_cents"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	ResolvedAt       *time.Time  `json:"resolved_at,omitempty"`
}

// PreparedOrder is a staging mirror of Order scoped to a batch id.
// Invariant: AmountCents == round(sweepPoints * rate / pickCount, 2) and the
// sum of PointsUsed across a member's rows never exceeds the member's
// effective sweep points.
type PreparedOrder struct {
	ID          uuid.UUID   `json:"id"`
	BatchID     uuid.UUID   `json:"batch_id"`
	MemberID    uuid.UUID   `json:"member_id"`
	MerchantID  uuid.UUID   `json:"merchant_id"`
	Broker      string      `json:"broker"`
	BasketID    string      `json:"basket_id"`
	Symbol      string      `json:"symbol"`
	AmountCents int64       `json:"amount_cents"`
	PointsUsed  int64       `json:"points_used"`
	Tier        string      `json:"tier"`
	Rate        float64     `json:"rate"` // dollars per point actually applied
	Timezone    string      `json:"timezone"`
	Status      BatchStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
}

// PrepareResult summarizes a prepare (or preview) run.
type PrepareResult struct {
	BatchID          uuid.UUID `json:"batch_id,omitempty"`
	EligibleMembers  int       `json:"eligible_members"`
	SkippedMembers   int       `json:"skipped_members"`
	OrderCount       int       `json:"order_count"`
	TotalPoints      int64     `json:"total_points"`
	TotalAmountCents int64     `json:"total_amount_cents"`
}

// BatchStats is the review-time aggregation of one staged batch.
type BatchStats struct {
	Batch      PrepareBatch     `json:"batch"`
	ByMerchant []StatsBucket    `json:"by_merchant"`
	ByBroker   []StatsBucket    `json:"by_broker"`
	ByTierRate []TierRateBucket `json:"by_tier_rate"`
	TopSymbols []StatsBucket    `json:"top_symbols"`
}

// StatsBucket is one aggregation row keyed by a dimension value.
type StatsBucket struct {
	Key         string `json:"key"`
	OrderCount  int    `json:"order_count"`
	MemberCount int    `json:"member_count"`
	Points      int64  `json:"points"`
	AmountCents int64  `json:"amount_cents"`
}

// TierRateBucket aggregates by the (tier, rate) pair actually applied.
type TierRateBucket struct {
	Tier        string  `json:"tier"`
	Rate        float64 `json:"rate"`
	OrderCount  int     `json:"order_count"`
	MemberCount int     `json:"member_count"`
	Points      int64   `json:"points"`
	AmountCents int64   `json:"amount_cents"`
}

// MemberRollup is one paginated drilldown row: all prepared orders of one
// member collapsed into totals.
type MemberRollup struct {
	MemberID    uuid.UUID `json:"member_id"`
	MerchantID  uuid.UUID `json:"merchant_id"`
	Broker      string    `json:"broker"`
	Tier        string    `json:"tier"`
	OrderCount  int       `json:"order_count"`
	Points      int64     `json:"points"`
	AmountCents int64     `json:"amount_cents"`
	Symbols     []string  `json:"symbols"`
}

// DrilldownFilter narrows the member rollup listing.
type DrilldownFilter struct {
	MerchantID *uuid.UUID
	Broker     string
	Tier       string
}
