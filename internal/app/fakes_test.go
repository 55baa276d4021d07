package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stockloyal/sweep-service/internal/domain"
	"github.com/stockloyal/sweep-service/internal/store"
	"github.com/stockloyal/sweep-service/pkg/brokerclient"
	"github.com/stockloyal/sweep-service/pkg/calendarclient"
	"github.com/stockloyal/sweep-service/pkg/rabbitmq"
	"github.com/stockloyal/sweep-service/pkg/webhookclient"
)

// eastern loads the exchange timezone once per test.
func eastern(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

// newTestClock builds a MarketClock pinned to a fixed instant.
func newTestClock(t *testing.T, feed CalendarFeed, now time.Time) *MarketClock {
	t.Helper()
	clock, err := NewMarketClock(feed, zap.NewNop().Sugar(), time.Minute)
	require.NoError(t, err)
	clock.now = func() time.Time { return now }
	return clock
}

// weekdayFeed returns a fakeFeed covering Mon-Fri regular sessions around the
// given instant, minus any dates listed as holidays.
func weekdayFeed(center time.Time, holidays ...string) *fakeFeed {
	skip := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		skip[h] = true
	}
	var days []calendarclient.Day
	for d := center.AddDate(0, 0, -3); !d.After(center.AddDate(0, 0, 14)); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		key := d.Format("2006-01-02")
		if skip[key] {
			continue
		}
		days = append(days, calendarclient.Day{Date: key, Open: "09:30", Close: "16:00"})
	}
	return &fakeFeed{days: days}
}

// fakeFeed serves a fixed calendar, optionally failing every call.
type fakeFeed struct {
	days  []calendarclient.Day
	err   error
	calls int
}

func (f *fakeFeed) GetCalendar(_ context.Context, _, _ time.Time) ([]calendarclient.Day, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.days, nil
}

// fakeRepo is an in-memory store.Repository for engine tests.
type fakeRepo struct {
	orders        map[uuid.UUID]*domain.Order
	wallets       map[uuid.UUID]*domain.Wallet
	merchants     map[uuid.UUID]*domain.Merchant
	brokers       map[string]*domain.Broker
	creds         map[string]*domain.BrokerCredential
	eligible      []store.EligibleMember
	fundables     []store.FundableOrder
	batches       map[uuid.UUID]*domain.PrepareBatch
	prepared      map[uuid.UUID][]domain.PreparedOrder
	notifications []domain.BrokerNotification
	sweepLogs     []domain.SweepLog
	journals      map[string]*domain.JournalEntry
	pickDeletions []uuid.UUID

	markPlacedErr    error
	beforeMarkPlaced func()
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		orders:    make(map[uuid.UUID]*domain.Order),
		wallets:   make(map[uuid.UUID]*domain.Wallet),
		merchants: make(map[uuid.UUID]*domain.Merchant),
		brokers:   make(map[string]*domain.Broker),
		creds:     make(map[string]*domain.BrokerCredential),
		batches:   make(map[uuid.UUID]*domain.PrepareBatch),
		prepared:  make(map[uuid.UUID][]domain.PreparedOrder),
		journals:  make(map[string]*domain.JournalEntry),
	}
}

func credKey(memberID uuid.UUID, broker string) string {
	return memberID.String() + "|" + broker
}

func (r *fakeRepo) Close() {}

func (r *fakeRepo) InsertOrder(_ context.Context, o *domain.Order) error {
	cp := *o
	r.orders[o.ID] = &cp
	return nil
}

func (r *fakeRepo) GetOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, store.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

type fakeClaim struct {
	repo *fakeRepo
}

func (c *fakeClaim) SetStatus(_ context.Context, orderID uuid.UUID, from, to domain.OrderStatus) error {
	o, ok := c.repo.orders[orderID]
	if !ok || o.Status != from {
		return fmt.Errorf("order %s not in status %s", orderID, from)
	}
	if !from.CanTransition(to) {
		return domain.ErrInvalidTransition
	}
	o.Status = to
	return nil
}

func (c *fakeClaim) RecordSubmission(_ context.Context, orderID uuid.UUID, brokerRef, brokerStatus string, shares float64, executedAt time.Time) error {
	o := c.repo.orders[orderID]
	o.BrokerOrderRef = &brokerRef
	o.BrokerOrderStatus = &brokerStatus
	o.Shares = shares
	o.ExecutedAt = &executedAt
	return nil
}

func (c *fakeClaim) RecordJournal(_ context.Context, orderID uuid.UUID, status domain.JournalStatus, journalRef *string) error {
	o := c.repo.orders[orderID]
	o.JournalStatus = status
	o.JournalRef = journalRef
	return nil
}

func (c *fakeClaim) MarkFailed(_ context.Context, orderID uuid.UUID, reason string) error {
	o := c.repo.orders[orderID]
	o.Status = domain.OrderStatusFailed
	o.FailureReason = &reason
	return nil
}

func (r *fakeRepo) ClaimDueOrders(ctx context.Context, asOf time.Time, fn func(ctx context.Context, claim store.OrderClaim, orders []domain.Order) error) error {
	var due []domain.Order
	for _, o := range r.orders {
		if o.Status == domain.OrderStatusPending && !o.ScheduledExecutionDate.After(asOf) {
			due = append(due, *o)
		}
	}
	return fn(ctx, &fakeClaim{repo: r}, due)
}

func (r *fakeRepo) CancelOrder(_ context.Context, id uuid.UUID, from domain.OrderStatus) error {
	o, ok := r.orders[id]
	if !ok || o.Status != from {
		return domain.ErrInvalidTransition
	}
	o.Status = domain.OrderStatusCancelled
	return nil
}

func (r *fakeRepo) SelectDispatchOrders(_ context.Context, merchantID *uuid.UUID) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range r.orders {
		if o.Status != domain.OrderStatusPending && o.Status != domain.OrderStatusQueued {
			continue
		}
		if merchantID != nil && o.MerchantID != *merchantID {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (r *fakeRepo) MarkOrdersPlaced(_ context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	if r.markPlacedErr != nil {
		return nil, r.markPlacedErr
	}
	if r.beforeMarkPlaced != nil {
		r.beforeMarkPlaced()
	}
	var placed []uuid.UUID
	for _, id := range ids {
		o, ok := r.orders[id]
		if !ok {
			continue
		}
		if o.Status == domain.OrderStatusPending || o.Status == domain.OrderStatusQueued {
			o.Status = domain.OrderStatusPlaced
			placed = append(placed, id)
		}
	}
	return placed, nil
}

func (r *fakeRepo) FundableOrders(_ context.Context, memberIDs []uuid.UUID) ([]store.FundableOrder, error) {
	if len(memberIDs) == 0 {
		return r.fundables, nil
	}
	allowed := make(map[uuid.UUID]bool)
	for _, id := range memberIDs {
		allowed[id] = true
	}
	var out []store.FundableOrder
	for _, f := range r.fundables {
		if allowed[f.Order.MemberID] {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *fakeRepo) MarkOrdersFunded(_ context.Context, ids []uuid.UUID, journalRef string, at time.Time) error {
	for _, id := range ids {
		if o, ok := r.orders[id]; ok {
			o.Status = domain.OrderStatusFunded
			o.JournalStatus = domain.JournalStatusPosted
			o.JournalRef = &journalRef
			o.JournaledAt = &at
		}
	}
	return nil
}

func (r *fakeRepo) MarkOrdersJournalFailed(_ context.Context, ids []uuid.UUID, reason string) error {
	for _, id := range ids {
		if o, ok := r.orders[id]; ok {
			o.JournalStatus = domain.JournalStatusFailed
			o.FailureReason = &reason
		}
	}
	return nil
}

func (r *fakeRepo) GetWallet(_ context.Context, memberID uuid.UUID) (*domain.Wallet, error) {
	w, ok := r.wallets[memberID]
	if !ok {
		return nil, store.ErrWalletNotFound
	}
	return w, nil
}

func (r *fakeRepo) GetMerchant(_ context.Context, id uuid.UUID) (*domain.Merchant, error) {
	m, ok := r.merchants[id]
	if !ok {
		return nil, store.ErrMerchantNotFound
	}
	return m, nil
}

func (r *fakeRepo) GetBroker(_ context.Context, name string) (*domain.Broker, error) {
	b, ok := r.brokers[name]
	if !ok {
		return nil, store.ErrBrokerNotFound
	}
	return b, nil
}

func (r *fakeRepo) GetBrokerCredential(_ context.Context, memberID uuid.UUID, broker string) (*domain.BrokerCredential, error) {
	c, ok := r.creds[credKey(memberID, broker)]
	if !ok {
		return nil, store.ErrCredentialNotFound
	}
	return c, nil
}

func (r *fakeRepo) UpsertBrokerCredential(_ context.Context, c *domain.BrokerCredential) error {
	cp := *c
	r.creds[credKey(c.MemberID, c.Broker)] = &cp
	return nil
}

func (r *fakeRepo) EligibleMembers(_ context.Context, memberID, merchantID *uuid.UUID) ([]store.EligibleMember, error) {
	var out []store.EligibleMember
	for _, e := range r.eligible {
		if memberID != nil && e.MemberID != *memberID {
			continue
		}
		if merchantID != nil && e.MerchantID != *merchantID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *fakeRepo) DeleteOneTimeMemberPicks(_ context.Context, memberIDs []uuid.UUID) (int64, error) {
	r.pickDeletions = append(r.pickDeletions, memberIDs...)
	return int64(len(memberIDs)), nil
}

func (r *fakeRepo) CreatePrepareBatch(_ context.Context, batch *domain.PrepareBatch, orders []domain.PreparedOrder) error {
	cp := *batch
	r.batches[batch.ID] = &cp
	r.prepared[batch.ID] = append([]domain.PreparedOrder(nil), orders...)
	return nil
}

func (r *fakeRepo) GetPrepareBatch(_ context.Context, id uuid.UUID) (*domain.PrepareBatch, error) {
	b, ok := r.batches[id]
	if !ok {
		return nil, store.ErrBatchNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *fakeRepo) BatchStats(ctx context.Context, id uuid.UUID) (*domain.BatchStats, error) {
	b, err := r.GetPrepareBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	return &domain.BatchStats{Batch: *b}, nil
}

func (r *fakeRepo) BatchDrilldown(_ context.Context, id uuid.UUID, _, _ int, _ domain.DrilldownFilter) ([]domain.MemberRollup, error) {
	return nil, nil
}

func (r *fakeRepo) ApprovePrepareBatch(_ context.Context, id uuid.UUID, executionDate time.Time, marketLabel string) (int, error) {
	b, ok := r.batches[id]
	if !ok {
		return 0, store.ErrBatchNotFound
	}
	if b.Status != domain.BatchStatusStaged {
		return 0, domain.ErrBatchNotStaged
	}
	count := 0
	for _, p := range r.prepared[id] {
		o := &domain.Order{
			ID:                     uuid.New(),
			MemberID:               p.MemberID,
			MerchantID:             p.MerchantID,
			Broker:                 p.Broker,
			BasketID:               p.BasketID,
			Symbol:                 p.Symbol,
			AmountCents:            p.AmountCents,
			PointsUsed:             p.PointsUsed,
			Status:                 domain.OrderStatusPending,
			Source:                 "batch",
			ScheduledExecutionDate: executionDate,
			MarketStatusAtCreation: marketLabel,
		}
		r.orders[o.ID] = o
		count++
	}
	b.Status = domain.BatchStatusApproved
	return count, nil
}

func (r *fakeRepo) DiscardPrepareBatch(_ context.Context, id uuid.UUID) error {
	b, ok := r.batches[id]
	if !ok {
		return store.ErrBatchNotFound
	}
	if b.Status != domain.BatchStatusStaged {
		return domain.ErrBatchNotStaged
	}
	b.Status = domain.BatchStatusDiscarded
	return nil
}

func (r *fakeRepo) InsertBrokerNotification(_ context.Context, n *domain.BrokerNotification) error {
	r.notifications = append(r.notifications, *n)
	return nil
}

func (r *fakeRepo) InsertSweepLog(_ context.Context, l *domain.SweepLog) error {
	r.sweepLogs = append(r.sweepLogs, *l)
	return nil
}

func (r *fakeRepo) InsertJournalEntry(_ context.Context, e *domain.JournalEntry) error {
	if _, ok := r.journals[e.ClientTxID]; ok {
		return store.ErrDuplicateJournal
	}
	cp := *e
	r.journals[e.ClientTxID] = &cp
	return nil
}

func (r *fakeRepo) GetJournalEntryByClientTxID(_ context.Context, clientTxID string) (*domain.JournalEntry, error) {
	e, ok := r.journals[clientTxID]
	if !ok {
		return nil, store.ErrJournalEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *fakeRepo) FinalizeJournalEntry(_ context.Context, id uuid.UUID, status string, journalRef, errMsg *string) error {
	for _, e := range r.journals {
		if e.ID == id {
			e.Status = status
			if journalRef != nil {
				e.JournalRef = journalRef
			}
			e.Error = errMsg
		}
	}
	return nil
}

func (r *fakeRepo) ListBrokerNotifications(_ context.Context, sweepBatchID uuid.UUID) ([]domain.BrokerNotification, error) {
	var out []domain.BrokerNotification
	for _, n := range r.notifications {
		if n.SweepBatchID == sweepBatchID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListSweepLogs(_ context.Context, _ int) ([]domain.SweepLog, error) {
	return r.sweepLogs, nil
}

var _ store.Repository = (*fakeRepo)(nil)

// fakeBroker is a scriptable BrokerGateway.
type fakeBroker struct {
	journals       []brokerclient.JournalRequest
	journalErr     error
	submitted      []brokerclient.OrderRequest
	submitErr      error
	accountsOpened int
	createAcctErr  error
}

func (b *fakeBroker) GetAccount(_ context.Context, accountID string) (*brokerclient.Account, error) {
	return &brokerclient.Account{ID: accountID, Status: "ACTIVE"}, nil
}

func (b *fakeBroker) CreateAccount(_ context.Context, _ brokerclient.CreateAccountRequest) (*brokerclient.Account, error) {
	if b.createAcctErr != nil {
		return nil, b.createAcctErr
	}
	b.accountsOpened++
	return &brokerclient.Account{ID: fmt.Sprintf("acct-new-%d", b.accountsOpened), Status: "ACTIVE"}, nil
}

func (b *fakeBroker) SubmitOrder(_ context.Context, _ string, req brokerclient.OrderRequest) (*brokerclient.OrderResponse, error) {
	if b.submitErr != nil {
		return nil, b.submitErr
	}
	b.submitted = append(b.submitted, req)
	return &brokerclient.OrderResponse{
		ID:        "bo-" + req.ClientOrderID,
		Symbol:    req.Symbol,
		Status:    "accepted",
		FilledQty: "0",
	}, nil
}

func (b *fakeBroker) GetOrder(_ context.Context, _, orderID string) (*brokerclient.OrderResponse, error) {
	return &brokerclient.OrderResponse{ID: orderID, Status: "filled"}, nil
}

func (b *fakeBroker) CancelOrder(_ context.Context, _, _ string) error { return nil }

func (b *fakeBroker) GetPositions(_ context.Context, _ string) ([]brokerclient.Position, error) {
	return nil, nil
}

func (b *fakeBroker) CreateJournal(_ context.Context, req brokerclient.JournalRequest) (*brokerclient.Journal, error) {
	if b.journalErr != nil {
		return nil, b.journalErr
	}
	b.journals = append(b.journals, req)
	return &brokerclient.Journal{
		ID:     fmt.Sprintf("jnl-%d", len(b.journals)),
		Amount: req.Amount,
		Status: "executed",
	}, nil
}

func (b *fakeBroker) GetJournal(_ context.Context, journalID string) (*brokerclient.Journal, error) {
	return &brokerclient.Journal{ID: journalID, Status: "executed"}, nil
}

var _ BrokerGateway = (*fakeBroker)(nil)

// fakeDeliverer records webhook deliveries and can fail them.
type fakeDeliverer struct {
	payloads []webhookclient.Payload
	err      error
	result   *webhookclient.Result
}

func (d *fakeDeliverer) Deliver(_ context.Context, _, _ string, payload webhookclient.Payload) (*webhookclient.Result, error) {
	d.payloads = append(d.payloads, payload)
	if d.err != nil {
		res := d.result
		if res == nil {
			res = &webhookclient.Result{}
		}
		return res, d.err
	}
	if d.result != nil {
		return d.result, nil
	}
	ack := &webhookclient.Ack{Acknowledged: true, BrokerBatchID: "bb-1"}
	return &webhookclient.Result{HTTPStatus: 200, Ack: ack}, nil
}

// fakePublisher records published events.
type fakePublisher struct {
	published []string
}

func (p *fakePublisher) Publish(_ context.Context, routingKey string, _ interface{}) error {
	p.published = append(p.published, routingKey)
	return nil
}

func (p *fakePublisher) Close() {}

var (
	_ WebhookDeliverer   = (*fakeDeliverer)(nil)
	_ rabbitmq.Publisher = (*fakePublisher)(nil)
)
