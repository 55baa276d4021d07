/**
 * @description
 * Batch preparation engine. Computes, for many members at once, how many
 * points convert to how much cash per active stock pick, and stages the
 * results for human review. Preview and prepare share one eligibility query
 * and one pricing function, so given an unchanged dataset they report the
 * same counts and totals.
 *
 * Pricing per member: effective rate is the tier rate when the member's tier
 * matches a merchant tier with a positive rate, else the merchant base rate,
 * else a 0.01 floor. Effective sweep percentage is the stored value, with 0
 * meaning 100. Sweep points are floor(points * pct / 100), split evenly
 * across active picks by floor division.
 */

package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stockloyal/sweep-service/internal/domain"
	"github.com/stockloyal/sweep-service/internal/store"
)

// fallbackRate is the hard floor applied when neither a tier rate nor a base
// rate is configured, in dollars per point.
var fallbackRate = decimal.NewFromFloat(0.01)

const memberTimezone = "America/New_York"

// PrepareService stages, reviews, and resolves bulk order batches.
type PrepareService struct {
	repo   store.Repository
	clock  *MarketClock
	logger *zap.SugaredLogger
}

// NewPrepareService builds the batch preparation engine.
func NewPrepareService(repo store.Repository, clock *MarketClock, logger *zap.SugaredLogger) *PrepareService {
	return &PrepareService{repo: repo, clock: clock, logger: logger}
}

// effectiveRate resolves the conversion rate for one eligibility row.
func effectiveRate(m store.EligibleMember) decimal.Decimal {
	if m.TierRate > 0 {
		return decimal.NewFromFloat(m.TierRate)
	}
	if m.BaseRate > 0 {
		return decimal.NewFromFloat(m.BaseRate)
	}
	return fallbackRate
}

// effectiveSweepPct resolves the stored percentage, treating 0 and
// out-of-range values as a full sweep.
func effectiveSweepPct(pct int) int64 {
	if pct <= 0 || pct > 100 {
		return 100
	}
	return int64(pct)
}

// priceMember converts one member's points into prepared orders. Returns nil
// when nothing sweepable remains after flooring.
func priceMember(m store.EligibleMember, batchID uuid.UUID) []domain.PreparedOrder {
	pickCount := int64(len(m.Picks))
	if pickCount == 0 {
		return nil
	}

	sweepPoints := m.Points * effectiveSweepPct(m.SweepPct) / 100
	if sweepPoints <= 0 {
		return nil
	}

	rate := effectiveRate(m)
	// Per-pick amount: round(sweepPoints * rate / pickCount, 2) dollars.
	amountCents := decimal.NewFromInt(sweepPoints).
		Mul(rate).
		Div(decimal.NewFromInt(pickCount)).
		Round(2).
		Shift(2).
		IntPart()
	pointsPerPick := sweepPoints / pickCount
	basketID := domain.BasketIDFor(batchID, m.MemberID)
	rateApplied, _ := rate.Float64()

	orders := make([]domain.PreparedOrder, 0, pickCount)
	for _, symbol := range m.Picks {
		orders = append(orders, domain.PreparedOrder{
			ID:          uuid.New(),
			BatchID:     batchID,
			MemberID:    m.MemberID,
			MerchantID:  m.MerchantID,
			Broker:      m.Broker,
			BasketID:    basketID,
			Symbol:      symbol,
			AmountCents: amountCents,
			PointsUsed:  pointsPerPick,
			Tier:        m.Tier,
			Rate:        rateApplied,
			Timezone:    memberTimezone,
			Status:      domain.BatchStatusStaged,
		})
	}
	return orders
}

// computeBatch prices every eligible row against one batch id.
func computeBatch(members []store.EligibleMember, batchID uuid.UUID) ([]domain.PreparedOrder, domain.PrepareResult) {
	result := domain.PrepareResult{BatchID: batchID}
	var staged []domain.PreparedOrder
	for _, m := range members {
		orders := priceMember(m, batchID)
		if len(orders) == 0 {
			result.SkippedMembers++
			continue
		}
		result.EligibleMembers++
		for _, o := range orders {
			result.OrderCount++
			result.TotalPoints += o.PointsUsed
			result.TotalAmountCents += o.AmountCents
		}
		staged = append(staged, orders...)
	}
	return staged, result
}

// PreviewCounts reports what Prepare would stage for the given filter without
// writing any rows.
func (s *PrepareService) PreviewCounts(ctx context.Context, merchantID *uuid.UUID) (*domain.PrepareResult, error) {
	members, err := s.repo.EligibleMembers(ctx, nil, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to select eligible members: %w", err)
	}
	_, result := computeBatch(members, uuid.Nil)
	result.BatchID = uuid.Nil
	return &result, nil
}

// Prepare stages one batch of computed orders for review.
func (s *PrepareService) Prepare(ctx context.Context, memberID, merchantID *uuid.UUID) (*domain.PrepareResult, error) {
	members, err := s.repo.EligibleMembers(ctx, memberID, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to select eligible members: %w", err)
	}

	batchID := uuid.New()
	staged, result := computeBatch(members, batchID)

	batch := &domain.PrepareBatch{
		ID:               batchID,
		MerchantID:       merchantID,
		Status:           domain.BatchStatusStaged,
		EligibleMembers:  result.EligibleMembers,
		SkippedMembers:   result.SkippedMembers,
		OrderCount:       result.OrderCount,
		TotalPoints:      result.TotalPoints,
		TotalAmountCents: result.TotalAmountCents,
	}
	if err := s.repo.CreatePrepareBatch(ctx, batch, staged); err != nil {
		return nil, fmt.Errorf("failed to stage prepare batch: %w", err)
	}

	s.logger.Infow("prepare batch staged",
		"batch_id", batchID, "eligible_members", result.EligibleMembers,
		"skipped_members", result.SkippedMembers, "order_count", result.OrderCount,
		"total_amount_cents", result.TotalAmountCents)
	return &result, nil
}

// Stats aggregates one staged batch for review.
func (s *PrepareService) Stats(ctx context.Context, batchID uuid.UUID) (*domain.BatchStats, error) {
	return s.repo.BatchStats(ctx, batchID)
}

// Drilldown lists paginated per-member rollups of one batch.
func (s *PrepareService) Drilldown(ctx context.Context, batchID uuid.UUID, page, pageSize int, filter domain.DrilldownFilter) ([]domain.MemberRollup, error) {
	if _, err := s.repo.GetPrepareBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return s.repo.BatchDrilldown(ctx, batchID, page, pageSize, filter)
}

// ApproveResult reports one batch approval.
type ApproveResult struct {
	BatchID       uuid.UUID `json:"batch_id"`
	OrdersCreated int       `json:"orders_created"`
	ExecutionDate string    `json:"execution_date"`
}

// Approve materializes a staged batch into live pending orders. Only legal
// from staged; re-approving an approved batch is rejected, never
// double-inserted. The execution date is resolved from the market calendar
// once for the whole batch.
func (s *PrepareService) Approve(ctx context.Context, batchID uuid.UUID) (*ApproveResult, error) {
	execDate, st := s.clock.ScheduledExecutionDate(ctx)

	created, err := s.repo.ApprovePrepareBatch(ctx, batchID, execDate, st.CreationLabel())
	if err != nil {
		return nil, err
	}

	s.logger.Infow("prepare batch approved",
		"batch_id", batchID, "orders_created", created,
		"execution_date", execDate.Format(dateLayout))
	return &ApproveResult{
		BatchID:       batchID,
		OrdersCreated: created,
		ExecutionDate: execDate.Format(dateLayout),
	}, nil
}

// Discard drops a staged batch. Rows are retained for audit, never deleted.
func (s *PrepareService) Discard(ctx context.Context, batchID uuid.UUID) error {
	if err := s.repo.DiscardPrepareBatch(ctx, batchID); err != nil {
		return err
	}
	s.logger.Infow("prepare batch discarded", "batch_id", batchID)
	return nil
}
