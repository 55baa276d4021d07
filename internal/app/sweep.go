/**
 * @description
 * Sweep dispatcher. Takes every order awaiting dispatch, groups by merchant
 * and broker, conditionally flips each group to placed, and delivers one
 * aggregated webhook payload per group to the broker. Placement is not
 * reverted when the acknowledgment fails: the side effect of notifying has
 * already started, the broker is the source of truth, and the notification
 * log captures the failure for manual reconciliation.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stockloyal/sweep-service/internal/domain"
	"github.com/stockloyal/sweep-service/internal/store"
	"github.com/stockloyal/sweep-service/pkg/rabbitmq"
	"github.com/stockloyal/sweep-service/pkg/webhookclient"
)

// SweepService dispatches pending orders to broker webhooks.
type SweepService struct {
	repo     store.Repository
	webhooks WebhookDeliverer
	events   rabbitmq.Publisher
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// NewSweepService builds the sweep dispatcher.
func NewSweepService(repo store.Repository, webhooks WebhookDeliverer, events rabbitmq.Publisher, logger *zap.SugaredLogger) *SweepService {
	return &SweepService{
		repo:     repo,
		webhooks: webhooks,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

type dispatchGroup struct {
	merchantID uuid.UUID
	broker     string
	orders     []domain.Order
}

// groupOrders splits the selection into merchant+broker groups with a stable
// iteration order.
func groupOrders(orders []domain.Order) []dispatchGroup {
	index := make(map[string]int)
	var groups []dispatchGroup
	for _, o := range orders {
		key := o.MerchantID.String() + "|" + o.Broker
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, dispatchGroup{merchantID: o.MerchantID, broker: o.Broker})
		}
		groups[i].orders = append(groups[i].orders, o)
	}
	return groups
}

// buildPayload assembles the aggregated webhook document for one group,
// nesting per-member baskets and per-order line items.
func buildPayload(batchID uuid.UUID, g dispatchGroup, sentAt time.Time) webhookclient.Payload {
	byMember := make(map[uuid.UUID]*webhookclient.Basket)
	var memberOrder []uuid.UUID
	var total int64

	for _, o := range g.orders {
		b, ok := byMember[o.MemberID]
		if !ok {
			basketID := o.BasketID
			if basketID == "" {
				basketID = domain.BasketIDFor(batchID, o.MemberID)
			}
			b = &webhookclient.Basket{BasketID: basketID, MemberID: o.MemberID}
			byMember[o.MemberID] = b
			memberOrder = append(memberOrder, o.MemberID)
		}
		b.Items = append(b.Items, webhookclient.LineItem{
			OrderID:     o.ID,
			Symbol:      o.Symbol,
			AmountCents: o.AmountCents,
			Points:      o.PointsUsed,
		})
		b.SubtotalCents += o.AmountCents
		total += o.AmountCents
	}

	baskets := make([]webhookclient.Basket, 0, len(memberOrder))
	for _, id := range memberOrder {
		baskets = append(baskets, *byMember[id])
	}

	return webhookclient.Payload{
		BatchID:    batchID,
		MerchantID: g.merchantID,
		Broker:     g.broker,
		SentAt:     sentAt,
		OrderCount: len(g.orders),
		TotalCents: total,
		Baskets:    baskets,
	}
}

// Run executes one sweep dispatch pass, optionally scoped to a merchant.
func (s *SweepService) Run(ctx context.Context, merchantID *uuid.UUID) (*domain.SweepRunSummary, error) {
	started := s.now()
	batchID := uuid.New()
	summary := &domain.SweepRunSummary{SweepBatchID: batchID}

	orders, err := s.repo.SelectDispatchOrders(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to select dispatch orders: %w", err)
	}
	summary.OrdersSelected = len(orders)

	groups := groupOrders(orders)
	summary.GroupCount = len(groups)

	var placedMembers []uuid.UUID
	for _, g := range groups {
		placedOrders, groupErrs := s.dispatchGroup(ctx, batchID, g)
		summary.OrdersPlaced += len(placedOrders)
		summary.OrdersConfirmed += len(placedOrders)
		summary.OrdersFailed += len(g.orders) - len(placedOrders)
		summary.Errors = append(summary.Errors, groupErrs...)
		for _, o := range placedOrders {
			placedMembers = append(placedMembers, o.MemberID)
		}
	}

	if len(placedMembers) > 0 {
		deleted, derr := s.repo.DeleteOneTimeMemberPicks(ctx, dedupeIDs(placedMembers))
		if derr != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("one-time pick cleanup: %v", derr))
		} else if deleted > 0 {
			s.logger.Infow("one-time member picks removed", "sweep_batch_id", batchID, "picks_deleted", deleted)
		}
	}

	summary.DurationMS = s.now().Sub(started).Milliseconds()

	logRow := &domain.SweepLog{
		ID:              uuid.New(),
		SweepBatchID:    batchID,
		MerchantID:      merchantID,
		GroupCount:      summary.GroupCount,
		OrdersSelected:  summary.OrdersSelected,
		OrdersPlaced:    summary.OrdersPlaced,
		OrdersConfirmed: summary.OrdersConfirmed,
		OrdersFailed:    summary.OrdersFailed,
		DurationMS:      summary.DurationMS,
		Errors:          strings.Join(summary.Errors, "; "),
	}
	if err := s.repo.InsertSweepLog(ctx, logRow); err != nil {
		return nil, fmt.Errorf("failed to write sweep log: %w", err)
	}

	if perr := s.events.Publish(ctx, rabbitmq.RouteSweepCompleted, summary); perr != nil {
		s.logger.Warnw("sweep event publish failed", "sweep_batch_id", batchID, "err", perr)
	}

	s.logger.Infow("sweep run finished",
		"sweep_batch_id", batchID, "groups", summary.GroupCount,
		"selected", summary.OrdersSelected, "placed", summary.OrdersPlaced,
		"confirmed", summary.OrdersConfirmed, "failed", summary.OrdersFailed,
		"duration_ms", summary.DurationMS)
	return summary, nil
}

// dispatchGroup places one merchant+broker group and delivers its webhook.
// Returns the orders actually placed by this run and accumulated errors. The
// payload and notification are built from that subset only, so an order a
// concurrent run already placed is never notified twice.
func (s *SweepService) dispatchGroup(ctx context.Context, batchID uuid.UUID, g dispatchGroup) ([]domain.Order, []string) {
	var errs []string

	ids := make([]uuid.UUID, 0, len(g.orders))
	for _, o := range g.orders {
		ids = append(ids, o.ID)
	}

	placedIDs, err := s.repo.MarkOrdersPlaced(ctx, ids)
	if err != nil {
		errs = append(errs, fmt.Sprintf("%s/%s: place: %v", g.merchantID, g.broker, err))
		return nil, errs
	}
	if len(placedIDs) == 0 {
		// Every row lost the compare-and-swap to a concurrent run.
		return nil, errs
	}
	if len(placedIDs) < len(g.orders) {
		s.logger.Warnw("some orders lost placement race",
			"sweep_batch_id", batchID, "merchant_id", g.merchantID,
			"broker", g.broker, "selected", len(g.orders), "placed", len(placedIDs))
	}

	placedSet := make(map[uuid.UUID]struct{}, len(placedIDs))
	for _, id := range placedIDs {
		placedSet[id] = struct{}{}
	}
	placed := make([]domain.Order, 0, len(placedIDs))
	for _, o := range g.orders {
		if _, ok := placedSet[o.ID]; ok {
			placed = append(placed, o)
		}
	}
	g.orders = placed

	payload := buildPayload(batchID, g, s.now())
	rawPayload, _ := json.Marshal(payload)

	notification := &domain.BrokerNotification{
		ID:             uuid.New(),
		SweepBatchID:   batchID,
		MerchantID:     g.merchantID,
		Broker:         g.broker,
		OrderCount:     len(placed),
		RequestPayload: rawPayload,
	}

	broker, err := s.repo.GetBroker(ctx, g.broker)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, store.ErrBrokerNotFound) {
			msg = fmt.Sprintf("broker %q has no registered webhook", g.broker)
		}
		notification.Status = domain.NotificationStatusFailed
		notification.Error = &msg
		s.recordNotification(ctx, notification)
		errs = append(errs, fmt.Sprintf("%s/%s: %s", g.merchantID, g.broker, msg))
		return placed, errs
	}

	result, err := s.webhooks.Deliver(ctx, broker.WebhookURL, broker.APIKey, payload)
	if result != nil {
		notification.HTTPStatus = result.HTTPStatus
		if len(result.ResponseBody) > 0 && json.Valid(result.ResponseBody) {
			notification.ResponseBody = result.ResponseBody
		}
		if result.Ack != nil {
			if ref := result.Ack.Ref(); ref != "" {
				notification.BrokerRef = &ref
			}
		}
	}
	if err != nil {
		msg := err.Error()
		notification.Status = domain.NotificationStatusFailed
		notification.Error = &msg
		errs = append(errs, fmt.Sprintf("%s/%s: webhook: %v", g.merchantID, g.broker, err))
		s.logger.Warnw("broker webhook delivery failed",
			"sweep_batch_id", batchID, "merchant_id", g.merchantID,
			"broker", g.broker, "err", err)
	} else {
		notification.Status = domain.NotificationStatusSent
		s.logger.Infow("broker webhook delivered",
			"sweep_batch_id", batchID, "merchant_id", g.merchantID,
			"broker", g.broker, "orders", len(placed))
	}
	s.recordNotification(ctx, notification)

	return placed, errs
}

func (s *SweepService) recordNotification(ctx context.Context, n *domain.BrokerNotification) {
	if err := s.repo.InsertBrokerNotification(ctx, n); err != nil {
		s.logger.Errorw("failed to record broker notification",
			"sweep_batch_id", n.SweepBatchID, "broker", n.Broker, "err", err)
	}
}

// Notifications lists the audit rows of one sweep run.
func (s *SweepService) Notifications(ctx context.Context, sweepBatchID uuid.UUID) ([]domain.BrokerNotification, error) {
	return s.repo.ListBrokerNotifications(ctx, sweepBatchID)
}

// RecentRuns lists the latest sweep run summaries.
func (s *SweepService) RecentRuns(ctx context.Context, limit int) ([]domain.SweepLog, error) {
	return s.repo.ListSweepLogs(ctx, limit)
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
