package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stockloyal/sweep-service/internal/domain"
	"github.com/stockloyal/sweep-service/pkg/rabbitmq"
)

type schedulerFixture struct {
	svc    *SchedulerService
	repo   *fakeRepo
	broker *fakeBroker
	events *fakePublisher

	memberID   uuid.UUID
	merchantID uuid.UUID
}

func newSchedulerFixture(t *testing.T, now time.Time) *schedulerFixture {
	t.Helper()
	repo := newFakeRepo()
	broker := &fakeBroker{}
	events := &fakePublisher{}
	clock := newTestClock(t, weekdayFeed(now), now)

	svc := NewSchedulerService(repo, clock, broker, events, Settings{
		FirmSweepAccountRef: "firm-sweep-1",
	}, zap.NewNop().Sugar())
	svc.now = func() time.Time { return now }

	f := &schedulerFixture{
		svc:        svc,
		repo:       repo,
		broker:     broker,
		events:     events,
		memberID:   uuid.New(),
		merchantID: uuid.New(),
	}
	repo.wallets[f.memberID] = &domain.Wallet{MemberID: f.memberID, MerchantID: f.merchantID, Points: 1000}
	repo.merchants[f.merchantID] = &domain.Merchant{ID: f.merchantID, Name: "acme", DefaultBroker: "alpaca", BaseRate: 0.01}
	return f
}

func (f *schedulerFixture) activeCredential() {
	f.repo.creds[credKey(f.memberID, "alpaca")] = &domain.BrokerCredential{
		MemberID:   f.memberID,
		Broker:     "alpaca",
		AccountRef: "acct-1",
		Status:     domain.CredentialStatusActive,
	}
}

func TestCreateScheduledOrderValidation(t *testing.T) {
	loc := eastern(t)
	f := newSchedulerFixture(t, time.Date(2026, 8, 24, 12, 0, 0, 0, loc))
	ctx := context.Background()

	_, err := f.svc.CreateScheduledOrder(ctx, CreateOrderInput{MemberID: f.memberID, Symbol: "AAPL", AmountCents: 0})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.svc.CreateScheduledOrder(ctx, CreateOrderInput{MemberID: f.memberID, Symbol: "", AmountCents: 100})
	assert.ErrorIs(t, err, ErrInvalidSymbol)
}

func TestCreateScheduledOrderMarketOpen(t *testing.T) {
	loc := eastern(t)
	f := newSchedulerFixture(t, time.Date(2026, 8, 24, 12, 0, 0, 0, loc))

	res, err := f.svc.CreateScheduledOrder(context.Background(), CreateOrderInput{
		MemberID:    f.memberID,
		Symbol:      "AAPL",
		AmountCents: 500,
		PointsUsed:  50,
	})
	require.NoError(t, err)

	assert.True(t, res.IsImmediate)
	assert.Equal(t, "2026-08-24", res.ScheduledDate)
	assert.Equal(t, domain.OrderStatusQueued, res.Order.Status)
	assert.Equal(t, domain.MarketStatusAtOpen, res.Order.MarketStatusAtCreation)
	assert.Equal(t, "alpaca", res.Order.Broker, "broker defaults from the merchant")
	assert.Equal(t, "single", res.Order.Source)
	assert.Contains(t, f.events.published, rabbitmq.RouteOrderPlaced)

	stored, err := f.repo.GetOrder(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusQueued, stored.Status)
}

func TestCreateScheduledOrderWeekend(t *testing.T) {
	loc := eastern(t)
	// Saturday noon.
	f := newSchedulerFixture(t, time.Date(2026, 8, 22, 12, 0, 0, 0, loc))

	res, err := f.svc.CreateScheduledOrder(context.Background(), CreateOrderInput{
		MemberID:    f.memberID,
		Symbol:      "AAPL",
		AmountCents: 500,
	})
	require.NoError(t, err)

	assert.False(t, res.IsImmediate)
	assert.Equal(t, "2026-08-24", res.ScheduledDate)
	assert.Equal(t, time.Monday, res.Order.ScheduledExecutionDate.Weekday())
	assert.Equal(t, domain.OrderStatusPending, res.Order.Status)
	assert.Equal(t, "weekend", res.Order.MarketStatusAtCreation)
	assert.Contains(t, res.Message, "weekend")
}

func TestProcessScheduledOrdersMarketClosed(t *testing.T) {
	loc := eastern(t)
	f := newSchedulerFixture(t, time.Date(2026, 8, 22, 12, 0, 0, 0, loc))
	addDispatchOrder(f.repo, f.merchantID, "alpaca", f.memberID, 500)

	summary, err := f.svc.ProcessScheduledOrders(context.Background())
	require.NoError(t, err)

	assert.False(t, summary.MarketOpen)
	assert.Equal(t, 0, summary.Claimed, "closed market runs claim nothing")
}

func TestProcessScheduledOrdersHappyPath(t *testing.T) {
	loc := eastern(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, loc)
	f := newSchedulerFixture(t, now)
	f.activeCredential()

	order := addDispatchOrder(f.repo, f.merchantID, "alpaca", f.memberID, 1250)
	order.ScheduledExecutionDate = time.Date(2026, 8, 24, 0, 0, 0, 0, loc)

	summary, err := f.svc.ProcessScheduledOrders(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Claimed)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 0, summary.Failed)

	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
	assert.Equal(t, domain.JournalStatusPosted, order.JournalStatus)
	require.NotNil(t, order.BrokerOrderRef)

	// Cash moved once, order submitted once.
	require.Len(t, f.broker.journals, 1)
	assert.Equal(t, "firm-sweep-1", f.broker.journals[0].FromAccount)
	assert.Equal(t, "acct-1", f.broker.journals[0].ToAccount)
	assert.Equal(t, "12.50", f.broker.journals[0].Amount)
	assert.Equal(t, "order-"+order.ID.String(), f.broker.journals[0].ClientTxID)

	require.Len(t, f.broker.submitted, 1)
	assert.Equal(t, "AAPL", f.broker.submitted[0].Symbol)
	assert.Equal(t, "buy", f.broker.submitted[0].Side)
	assert.Equal(t, "12.50", f.broker.submitted[0].Notional)

	assert.Contains(t, f.events.published, rabbitmq.RouteOrderCompleted)
	assert.Contains(t, f.events.published, rabbitmq.RouteMemberNotify)
}

func TestProcessScheduledOrdersNoCredentialFailsOrder(t *testing.T) {
	loc := eastern(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, loc)
	f := newSchedulerFixture(t, now)

	order := addDispatchOrder(f.repo, f.merchantID, "alpaca", f.memberID, 500)
	order.ScheduledExecutionDate = time.Date(2026, 8, 24, 0, 0, 0, 0, loc)

	summary, err := f.svc.ProcessScheduledOrders(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, domain.OrderStatusFailed, order.Status)
	require.NotNil(t, order.FailureReason)
	assert.Contains(t, *order.FailureReason, "validate")
	assert.Empty(t, f.broker.journals, "no cash moves for a failed validation")
	assert.Contains(t, f.events.published, rabbitmq.RouteOrderFailed)
}

func TestProcessScheduledOrdersFailureIsIsolated(t *testing.T) {
	loc := eastern(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, loc)
	f := newSchedulerFixture(t, now)
	f.activeCredential()

	good := addDispatchOrder(f.repo, f.merchantID, "alpaca", f.memberID, 500)
	good.ScheduledExecutionDate = time.Date(2026, 8, 24, 0, 0, 0, 0, loc)

	// Second member with no linked account.
	badMember := uuid.New()
	bad := addDispatchOrder(f.repo, f.merchantID, "alpaca", badMember, 700)
	bad.ScheduledExecutionDate = time.Date(2026, 8, 24, 0, 0, 0, 0, loc)

	summary, err := f.svc.ProcessScheduledOrders(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Claimed)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, domain.OrderStatusCompleted, good.Status)
	assert.Equal(t, domain.OrderStatusFailed, bad.Status)
}

func TestProcessScheduledOrdersDuplicateJournalSkipsTransfer(t *testing.T) {
	loc := eastern(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, loc)
	f := newSchedulerFixture(t, now)
	f.activeCredential()

	order := addDispatchOrder(f.repo, f.merchantID, "alpaca", f.memberID, 500)
	order.ScheduledExecutionDate = time.Date(2026, 8, 24, 0, 0, 0, 0, loc)

	// An earlier crashed run already journaled this order.
	ref := "jnl-old"
	f.repo.journals["order-"+order.ID.String()] = &domain.JournalEntry{
		ID:         uuid.New(),
		ClientTxID: "order-" + order.ID.String(),
		MemberID:   f.memberID,
		Status:     string(domain.JournalStatusPosted),
		JournalRef: &ref,
	}

	summary, err := f.svc.ProcessScheduledOrders(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Completed)
	assert.Empty(t, f.broker.journals, "cash must not move twice for one order")
	require.Len(t, f.broker.submitted, 1, "the buy still goes out")
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
	assert.Equal(t, domain.JournalStatusPosted, order.JournalStatus)
	require.NotNil(t, order.JournalRef)
	assert.Equal(t, "jnl-old", *order.JournalRef)
}

func TestProcessScheduledOrdersRetriesUnpostedJournal(t *testing.T) {
	loc := eastern(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, loc)
	f := newSchedulerFixture(t, now)
	f.activeCredential()

	order := addDispatchOrder(f.repo, f.merchantID, "alpaca", f.memberID, 500)
	order.ScheduledExecutionDate = time.Date(2026, 8, 24, 0, 0, 0, 0, loc)

	// An earlier run recorded the entry but the broker transfer failed, so no
	// cash ever moved. The entry must not be mistaken for a posted journal.
	key := "order-" + order.ID.String()
	f.repo.journals[key] = &domain.JournalEntry{
		ID:             uuid.New(),
		ClientTxID:     key,
		MemberID:       f.memberID,
		FromAccountRef: "firm-sweep-1",
		ToAccountRef:   "acct-1",
		AmountCents:    500,
		Status:         string(domain.JournalStatusFailed),
	}

	summary, err := f.svc.ProcessScheduledOrders(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Completed)
	require.Len(t, f.broker.journals, 1, "the transfer is retried, not skipped")
	assert.Equal(t, key, f.broker.journals[0].ClientTxID, "retry reuses the idempotency key")
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
	assert.Equal(t, domain.JournalStatusPosted, order.JournalStatus)
	assert.Equal(t, string(domain.JournalStatusPosted), f.repo.journals[key].Status)
}

func TestCancelOrder(t *testing.T) {
	loc := eastern(t)
	f := newSchedulerFixture(t, time.Date(2026, 8, 24, 12, 0, 0, 0, loc))
	ctx := context.Background()

	pending := addDispatchOrder(f.repo, f.merchantID, "alpaca", f.memberID, 500)

	cancelled, err := f.svc.CancelOrder(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, domain.OrderStatusCancelled, pending.Status)

	done := addDispatchOrder(f.repo, f.merchantID, "alpaca", f.memberID, 500)
	done.Status = domain.OrderStatusCompleted
	_, err = f.svc.CancelOrder(ctx, done.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}
