/**
 * @description
 * Order scheduling and the per-order execution pipeline. `CreateScheduledOrder`
 * inserts one pending order with a calendar-derived execution date and a
 * member-facing confirmation message. `ProcessScheduledOrders` is the cron
 * entry point: it claims every due pending order under a row lock and runs
 * each through validate, journal, submit, record, notify. A failure at any
 * stage terminates that order as failed with the error attached; there is no
 * automatic retry, so cash can never be journaled twice for the same order.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stockloyal/sweep-service/internal/domain"
	"github.com/stockloyal/sweep-service/internal/store"
	"github.com/stockloyal/sweep-service/pkg/brokerclient"
	"github.com/stockloyal/sweep-service/pkg/rabbitmq"
)

// Validation errors surfaced to the API layer.
var (
	ErrInvalidAmount = errors.New("order amount must be positive")
	ErrInvalidSymbol = errors.New("order symbol is required")
)

// SchedulerService creates scheduled orders and executes them when due.
type SchedulerService struct {
	repo     store.Repository
	clock    *MarketClock
	broker   BrokerGateway
	events   rabbitmq.Publisher
	settings Settings
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// NewSchedulerService builds the scheduler engine.
func NewSchedulerService(repo store.Repository, clock *MarketClock, broker BrokerGateway, events rabbitmq.Publisher, settings Settings, logger *zap.SugaredLogger) *SchedulerService {
	return &SchedulerService{
		repo:     repo,
		clock:    clock,
		broker:   broker,
		events:   events,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateOrderInput is the request to schedule one order.
type CreateOrderInput struct {
	MemberID    uuid.UUID `json:"member_id"`
	Symbol      string    `json:"symbol"`
	AmountCents int64     `json:"amount_cents"`
	PointsUsed  int64     `json:"points_used"`
	Source      string    `json:"source"`
}

// CreateOrderResult is the member-facing confirmation.
type CreateOrderResult struct {
	Order         *domain.Order `json:"order"`
	IsImmediate   bool          `json:"is_immediate"`
	ScheduledDate string        `json:"scheduled_date"`
	Message       string        `json:"message"`
	MessageShort  string        `json:"message_short"`
}

// CreateScheduledOrder inserts one pending order with its execution date
// resolved from the market calendar. When the market is open the order is
// queued so the next dispatch cycle picks it up immediately; execution is
// never synchronous with creation.
func (s *SchedulerService) CreateScheduledOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	if in.AmountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	if in.Symbol == "" {
		return nil, ErrInvalidSymbol
	}

	wallet, err := s.repo.GetWallet(ctx, in.MemberID)
	if err != nil {
		return nil, fmt.Errorf("failed to find member wallet: %w", err)
	}
	merchant, err := s.repo.GetMerchant(ctx, wallet.MerchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to find merchant: %w", err)
	}

	execDate, st := s.clock.ScheduledExecutionDate(ctx)

	source := in.Source
	if source == "" {
		source = "single"
	}
	order := &domain.Order{
		ID:                     uuid.New(),
		MemberID:               wallet.MemberID,
		MerchantID:             merchant.ID,
		Broker:                 merchant.DefaultBroker,
		Symbol:                 in.Symbol,
		AmountCents:            in.AmountCents,
		PointsUsed:             in.PointsUsed,
		Status:                 domain.OrderStatusPending,
		Source:                 source,
		ScheduledExecutionDate: execDate,
		MarketStatusAtCreation: st.CreationLabel(),
	}
	if st.IsOpen {
		order.Status = domain.OrderStatusQueued
	}

	if err := s.repo.InsertOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	s.publishOrderEvent(ctx, rabbitmq.RouteOrderPlaced, order, "")
	s.logger.Infow("order scheduled",
		"order_id", order.ID, "member_id", order.MemberID,
		"symbol", order.Symbol, "amount_cents", order.AmountCents,
		"scheduled_date", execDate.Format(dateLayout), "market_open", st.IsOpen)

	return &CreateOrderResult{
		Order:         order,
		IsImmediate:   st.IsOpen,
		ScheduledDate: execDate.Format(dateLayout),
		Message:       st.Message,
		MessageShort:  st.MessageShort,
	}, nil
}

// ProcessSummary reports one ProcessScheduledOrders run.
type ProcessSummary struct {
	MarketOpen bool     `json:"market_open"`
	Claimed    int      `json:"claimed"`
	Completed  int      `json:"completed"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

// ProcessScheduledOrders executes every due pending order. It is a no-op when
// the market is closed. Orders are claimed under a row lock so overlapping
// cron runs cannot double-process; each order fails or completes
// independently of its siblings.
func (s *SchedulerService) ProcessScheduledOrders(ctx context.Context) (*ProcessSummary, error) {
	st := s.clock.Status(ctx)
	summary := &ProcessSummary{MarketOpen: st.IsOpen}
	if !st.IsOpen {
		s.logger.Debugw("market closed, skipping scheduled order run", "delay_reason", st.DelayReason)
		return summary, nil
	}

	err := s.repo.ClaimDueOrders(ctx, s.now(), func(ctx context.Context, claim store.OrderClaim, orders []domain.Order) error {
		summary.Claimed = len(orders)
		for i := range orders {
			if err := s.executeOrder(ctx, claim, &orders[i]); err != nil {
				summary.Failed++
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", orders[i].ID, err))
				continue
			}
			summary.Completed++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim due orders: %w", err)
	}

	s.logger.Infow("scheduled order run finished",
		"claimed", summary.Claimed, "completed", summary.Completed, "failed", summary.Failed)
	return summary, nil
}

// executeOrder runs the five-stage pipeline for one claimed order. Each stage
// writes its intermediate status first so a crash leaves a diagnosable trail.
func (s *SchedulerService) executeOrder(ctx context.Context, claim store.OrderClaim, order *domain.Order) error {
	fail := func(stage string, cause error) error {
		reason := fmt.Sprintf("%s: %v", stage, cause)
		if err := claim.MarkFailed(ctx, order.ID, reason); err != nil {
			s.logger.Errorw("failed to mark order failed", "order_id", order.ID, "err", err)
		}
		s.publishOrderEvent(ctx, rabbitmq.RouteOrderFailed, order, reason)
		s.logger.Warnw("order pipeline failed", "order_id", order.ID, "stage", stage, "err", cause)
		return cause
	}

	// Stage 1: validate the member has a linked brokerage account.
	if err := claim.SetStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusValidating); err != nil {
		return err
	}
	cred, err := s.repo.GetBrokerCredential(ctx, order.MemberID, order.Broker)
	if err != nil {
		return fail("validate", fmt.Errorf("no brokerage account linked: %w", err))
	}
	if !cred.Active() {
		return fail("validate", fmt.Errorf("brokerage account %s is not active", cred.AccountRef))
	}

	// Stage 2: journal cash from the firm sweep account to the member.
	if err := claim.SetStatus(ctx, order.ID, domain.OrderStatusValidating, domain.OrderStatusJournaling); err != nil {
		return err
	}
	entry := &domain.JournalEntry{
		ID:             uuid.New(),
		ClientTxID:     "order-" + order.ID.String(),
		MemberID:       order.MemberID,
		FromAccountRef: s.settings.FirmSweepAccountRef,
		ToAccountRef:   cred.AccountRef,
		AmountCents:    order.AmountCents,
		Status:         string(domain.JournalStatusPending),
	}
	transfer := true
	switch err := s.repo.InsertJournalEntry(ctx, entry); {
	case errors.Is(err, store.ErrDuplicateJournal):
		existing, gerr := s.repo.GetJournalEntryByClientTxID(ctx, entry.ClientTxID)
		if gerr != nil {
			return fail("journal", fmt.Errorf("journal key collision: %w", gerr))
		}
		if existing.Status == string(domain.JournalStatusPosted) && existing.JournalRef != nil {
			// Cash already moved for this order on an earlier attempt.
			if rerr := claim.RecordJournal(ctx, order.ID, domain.JournalStatusPosted, existing.JournalRef); rerr != nil {
				return fail("journal", rerr)
			}
			s.logger.Infow("journal already posted, skipping transfer", "order_id", order.ID)
			transfer = false
		} else {
			// Earlier attempt never posted; retry it under the same key.
			entry = existing
		}
	case err != nil:
		return fail("journal", err)
	}
	if transfer {
		journal, jerr := s.broker.CreateJournal(ctx, brokerclient.JournalRequest{
			FromAccount: entry.FromAccountRef,
			ToAccount:   entry.ToAccountRef,
			Amount:      brokerclient.Dollars(order.AmountCents),
			Description: "sweep order " + order.ID.String(),
			ClientTxID:  entry.ClientTxID,
		})
		if jerr != nil {
			msg := jerr.Error()
			if ferr := s.repo.FinalizeJournalEntry(ctx, entry.ID, string(domain.JournalStatusFailed), nil, &msg); ferr != nil {
				s.logger.Errorw("failed to finalize journal entry", "entry_id", entry.ID, "err", ferr)
			}
			return fail("journal", jerr)
		}
		if ferr := s.repo.FinalizeJournalEntry(ctx, entry.ID, string(domain.JournalStatusPosted), &journal.ID, nil); ferr != nil {
			s.logger.Errorw("failed to finalize journal entry", "entry_id", entry.ID, "err", ferr)
		}
		if rerr := claim.RecordJournal(ctx, order.ID, domain.JournalStatusPosted, &journal.ID); rerr != nil {
			return fail("journal", rerr)
		}
	}

	// Stage 3: submit the buy order.
	if err := claim.SetStatus(ctx, order.ID, domain.OrderStatusJournaling, domain.OrderStatusSubmitting); err != nil {
		return err
	}
	resp, err := s.broker.SubmitOrder(ctx, cred.AccountRef, brokerclient.OrderRequest{
		Symbol:        order.Symbol,
		Notional:      brokerclient.Dollars(order.AmountCents),
		Side:          "buy",
		ClientOrderID: order.ID.String(),
	})
	if err != nil {
		return fail("submit", err)
	}

	// Stage 4: record the broker's identifiers.
	shares, _ := strconv.ParseFloat(resp.FilledQty, 64)
	if err := claim.RecordSubmission(ctx, order.ID, resp.ID, resp.Status, shares, s.now()); err != nil {
		return fail("record", err)
	}
	if err := claim.SetStatus(ctx, order.ID, domain.OrderStatusSubmitting, domain.OrderStatusSubmitted); err != nil {
		return err
	}

	// Stage 5: notify the member and complete.
	s.publishOrderEvent(ctx, rabbitmq.RouteOrderCompleted, order, "")
	if perr := s.events.Publish(ctx, rabbitmq.RouteMemberNotify, rabbitmq.MemberNotifyEvent{
		MemberID:    order.MemberID,
		OrderID:     order.ID,
		Symbol:      order.Symbol,
		AmountCents: order.AmountCents,
		Template:    "order_executed",
		Timestamp:   s.now(),
	}); perr != nil {
		s.logger.Warnw("member notify publish failed", "order_id", order.ID, "err", perr)
	}
	if err := claim.SetStatus(ctx, order.ID, domain.OrderStatusSubmitted, domain.OrderStatusCompleted); err != nil {
		return err
	}

	s.logger.Infow("order executed",
		"order_id", order.ID, "member_id", order.MemberID,
		"symbol", order.Symbol, "broker_order_ref", resp.ID)
	return nil
}

// GetOrder fetches one order by id.
func (s *SchedulerService) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.repo.GetOrder(ctx, orderID)
}

// CancelOrder cancels an order that has not entered the execution pipeline.
// Orders already handed to a broker must be cancelled with the broker first.
func (s *SchedulerService) CancelOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransition(domain.OrderStatusCancelled) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, domain.OrderStatusCancelled)
	}

	if order.BrokerOrderRef != nil {
		cred, cerr := s.repo.GetBrokerCredential(ctx, order.MemberID, order.Broker)
		if cerr != nil {
			return nil, fmt.Errorf("failed to find brokerage account: %w", cerr)
		}
		if cerr := s.broker.CancelOrder(ctx, cred.AccountRef, *order.BrokerOrderRef); cerr != nil {
			return nil, fmt.Errorf("broker cancel failed: %w", cerr)
		}
	}

	// Guard the row against the status it was read with.
	if err := s.repo.CancelOrder(ctx, order.ID, order.Status); err != nil {
		return nil, err
	}
	order.Status = domain.OrderStatusCancelled
	return order, nil
}

// MemberPositions proxies the member's current holdings from the brokerage.
func (s *SchedulerService) MemberPositions(ctx context.Context, memberID uuid.UUID, broker string) ([]brokerclient.Position, error) {
	cred, err := s.repo.GetBrokerCredential(ctx, memberID, broker)
	if err != nil {
		return nil, err
	}
	return s.broker.GetPositions(ctx, cred.AccountRef)
}

func (s *SchedulerService) publishOrderEvent(ctx context.Context, route string, order *domain.Order, reason string) {
	event := rabbitmq.OrderEvent{
		OrderID:     order.ID,
		MemberID:    order.MemberID,
		MerchantID:  order.MerchantID,
		Symbol:      order.Symbol,
		AmountCents: order.AmountCents,
		Status:      string(order.Status),
		Reason:      reason,
		Timestamp:   s.now(),
	}
	if err := s.events.Publish(ctx, route, event); err != nil {
		s.logger.Warnw("event publish failed", "route", route, "order_id", order.ID, "err", err)
	}
}
