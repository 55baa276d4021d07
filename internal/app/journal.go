/**
 * @description
 * Fund journaling engine. Moves settled cash from the firm sweep account into
 * each member's brokerage account via the broker's JNLC ledger transfer,
 * provisioning an account on demand when a member has none. Runs are
 * per-member isolated: one member's failure never blocks the rest. Every
 * transfer carries a deterministic client transaction key, so re-processing
 * the same set of orders is absorbed as a duplicate rather than moving cash
 * twice.
 */

package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stockloyal/sweep-service/internal/domain"
	"github.com/stockloyal/sweep-service/internal/store"
	"github.com/stockloyal/sweep-service/pkg/brokerclient"
	"github.com/stockloyal/sweep-service/pkg/rabbitmq"
)

// minJournalCents is the external minimum for a cash journal; smaller amounts
// are skipped entirely.
const minJournalCents = 100

// ErrNoBrokerageAccount is returned when a member has no active account and
// auto-provisioning is disabled.
var ErrNoBrokerageAccount = errors.New("member has no active brokerage account")

// JournalService funds member accounts for approved, merchant-paid orders.
type JournalService struct {
	repo     store.Repository
	broker   BrokerGateway
	events   rabbitmq.Publisher
	settings Settings
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// NewJournalService builds the fund journaling engine.
func NewJournalService(repo store.Repository, broker BrokerGateway, events rabbitmq.Publisher, settings Settings, logger *zap.SugaredLogger) *JournalService {
	return &JournalService{
		repo:     repo,
		broker:   broker,
		events:   events,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

type memberBatch struct {
	memberID   uuid.UUID
	broker     string
	accountRef string
	credStatus string
	orders     []domain.Order
	totalCents int64
}

// RunJournal funds every member owed cash for approved and paid orders. An
// empty memberIDs slice means all members.
func (s *JournalService) RunJournal(ctx context.Context, memberIDs []uuid.UUID) (*domain.JournalRunSummary, error) {
	fundables, err := s.repo.FundableOrders(ctx, memberIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to select fundable orders: %w", err)
	}

	batches := groupByMember(fundables)
	summary := &domain.JournalRunSummary{}

	for _, b := range batches {
		result := s.fundMember(ctx, b)
		summary.Results = append(summary.Results, result)
		if result.Error != "" {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %s", b.memberID, result.Error))
			continue
		}
		if result.Skipped {
			continue
		}
		summary.MembersFunded++
		if result.Absorbed {
			summary.DuplicatesAbsorbed++
		} else {
			summary.JournalsCreated++
		}
		summary.TotalAmountCents += result.AmountCents
	}

	s.logger.Infow("journal run finished",
		"members_considered", len(batches), "members_funded", summary.MembersFunded,
		"total_amount_cents", summary.TotalAmountCents, "errors", len(summary.Errors))
	return summary, nil
}

func groupByMember(fundables []store.FundableOrder) []memberBatch {
	index := make(map[uuid.UUID]int)
	var batches []memberBatch
	for _, f := range fundables {
		i, ok := index[f.Order.MemberID]
		if !ok {
			i = len(batches)
			index[f.Order.MemberID] = i
			batches = append(batches, memberBatch{
				memberID:   f.Order.MemberID,
				broker:     f.Order.Broker,
				accountRef: f.AccountRef,
				credStatus: f.CredentialStatus,
			})
		}
		batches[i].orders = append(batches[i].orders, f.Order)
		batches[i].totalCents += f.Order.AmountCents
	}
	return batches
}

// clientTxIDFor derives the idempotency key for funding one set of orders.
// The key depends only on the sorted order ids, so a re-run over the same
// orders collides with the earlier attempt instead of double-journaling.
func clientTxIDFor(orders []domain.Order) string {
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID.String())
	}
	sort.Strings(ids)
	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
	}
	return "fund-" + hex.EncodeToString(h.Sum(nil))[:32]
}

// fundMember issues one journal for one member's owed total.
func (s *JournalService) fundMember(ctx context.Context, b memberBatch) domain.MemberJournalResult {
	result := domain.MemberJournalResult{
		MemberID:    b.memberID,
		OrderCount:  len(b.orders),
		AmountCents: b.totalCents,
	}
	orderIDs := make([]uuid.UUID, 0, len(b.orders))
	for _, o := range b.orders {
		orderIDs = append(orderIDs, o.ID)
	}

	fail := func(cause error) domain.MemberJournalResult {
		result.Error = cause.Error()
		if err := s.repo.MarkOrdersJournalFailed(ctx, orderIDs, cause.Error()); err != nil {
			s.logger.Errorw("failed to mark journal failure", "member_id", b.memberID, "err", err)
		}
		s.logger.Warnw("member journal failed", "member_id", b.memberID, "err", cause)
		return result
	}

	if b.totalCents < minJournalCents {
		result.Skipped = true
		result.SkipReason = fmt.Sprintf("amount %s below $1.00 minimum", brokerclient.Dollars(b.totalCents))
		s.logger.Debugw("member journal skipped",
			"member_id", b.memberID, "amount_cents", b.totalCents)
		return result
	}

	accountRef, err := s.ensureAccount(ctx, b)
	if err != nil {
		return fail(err)
	}
	result.AccountRef = accountRef

	clientTxID := clientTxIDFor(b.orders)
	entry := &domain.JournalEntry{
		ID:             uuid.New(),
		ClientTxID:     clientTxID,
		MemberID:       b.memberID,
		FromAccountRef: s.settings.FirmSweepAccountRef,
		ToAccountRef:   accountRef,
		AmountCents:    b.totalCents,
		Status:         string(domain.JournalStatusPending),
	}
	switch err := s.repo.InsertJournalEntry(ctx, entry); {
	case errors.Is(err, store.ErrDuplicateJournal):
		existing, gerr := s.repo.GetJournalEntryByClientTxID(ctx, clientTxID)
		if gerr != nil {
			return fail(fmt.Errorf("journal key collision: %w", gerr))
		}
		if existing.Status == string(domain.JournalStatusPosted) && existing.JournalRef != nil {
			// Cash already moved; just settle the orders.
			if merr := s.repo.MarkOrdersFunded(ctx, orderIDs, *existing.JournalRef, s.now()); merr != nil {
				return fail(merr)
			}
			result.JournalRef = *existing.JournalRef
			result.Absorbed = true
			s.logger.Infow("duplicate journal absorbed",
				"member_id", b.memberID, "journal_ref", *existing.JournalRef)
			return result
		}
		// Earlier attempt never posted; retry it under the same key.
		entry = existing
	case err != nil:
		return fail(err)
	}

	journal, err := s.broker.CreateJournal(ctx, brokerclient.JournalRequest{
		FromAccount: s.settings.FirmSweepAccountRef,
		ToAccount:   accountRef,
		Amount:      brokerclient.Dollars(b.totalCents),
		Description: fmt.Sprintf("sweep funding for member %s", b.memberID),
		ClientTxID:  clientTxID,
	})
	if err != nil {
		msg := err.Error()
		if ferr := s.repo.FinalizeJournalEntry(ctx, entry.ID, string(domain.JournalStatusFailed), nil, &msg); ferr != nil {
			s.logger.Errorw("failed to finalize journal entry", "entry_id", entry.ID, "err", ferr)
		}
		return fail(err)
	}

	if ferr := s.repo.FinalizeJournalEntry(ctx, entry.ID, string(domain.JournalStatusPosted), &journal.ID, nil); ferr != nil {
		s.logger.Errorw("failed to finalize journal entry", "entry_id", entry.ID, "err", ferr)
	}
	if merr := s.repo.MarkOrdersFunded(ctx, orderIDs, journal.ID, s.now()); merr != nil {
		return fail(merr)
	}
	result.JournalRef = journal.ID

	for _, o := range b.orders {
		if perr := s.events.Publish(ctx, rabbitmq.RouteOrderFunded, rabbitmq.OrderEvent{
			OrderID:     o.ID,
			MemberID:    o.MemberID,
			MerchantID:  o.MerchantID,
			Symbol:      o.Symbol,
			AmountCents: o.AmountCents,
			Status:      string(domain.OrderStatusFunded),
			Timestamp:   s.now(),
		}); perr != nil {
			s.logger.Warnw("funded event publish failed", "order_id", o.ID, "err", perr)
		}
	}

	s.logger.Infow("member funded",
		"member_id", b.memberID, "account_ref", accountRef,
		"amount_cents", b.totalCents, "journal_ref", journal.ID,
		"orders", len(b.orders))
	return result
}

// ensureAccount resolves the member's brokerage account, provisioning one
// when allowed. A stored active credential is reused as-is.
func (s *JournalService) ensureAccount(ctx context.Context, b memberBatch) (string, error) {
	if b.credStatus == domain.CredentialStatusActive && b.accountRef != "" {
		return b.accountRef, nil
	}
	if !s.settings.SandboxKYC {
		return "", ErrNoBrokerageAccount
	}

	account, err := s.broker.CreateAccount(ctx, placeholderApplication(b.memberID))
	if err != nil {
		return "", fmt.Errorf("account provisioning failed: %w", err)
	}

	status := account.Status
	if status == "" {
		status = domain.CredentialStatusPending
	}
	cred := &domain.BrokerCredential{
		MemberID:   b.memberID,
		Broker:     b.broker,
		AccountRef: account.ID,
		Status:     status,
	}
	if err := s.repo.UpsertBrokerCredential(ctx, cred); err != nil {
		return "", fmt.Errorf("failed to persist credential: %w", err)
	}

	s.logger.Infow("brokerage account provisioned",
		"member_id", b.memberID, "broker", b.broker,
		"account_ref", account.ID, "status", status)
	return account.ID, nil
}

// placeholderApplication fabricates sandbox-only KYC data for on-demand
// account provisioning. Guarded by the SandboxKYC setting; never enable it
// against a production brokerage environment.
func placeholderApplication(memberID uuid.UUID) brokerclient.CreateAccountRequest {
	short := memberID.String()[:8]
	return brokerclient.CreateAccountRequest{
		Contact: brokerclient.Contact{
			Email:         fmt.Sprintf("member-%s@sandbox.stockloyal.test", short),
			Phone:         "555-555-0100",
			StreetAddress: "20 N San Mateo Dr",
			City:          "San Mateo",
			State:         "CA",
			PostalCode:    "94401",
		},
		Identity: brokerclient.Identity{
			GivenName:   "Sandbox",
			FamilyName:  "Member" + short,
			DateOfBirth: "1990-01-01",
			TaxID:       "666-55-4321",
			TaxIDType:   "USA_SSN",
			Country:     "USA",
		},
	}
}

// CheckStatus proxies the broker's current view of one journal.
func (s *JournalService) CheckStatus(ctx context.Context, journalID string) (*brokerclient.Journal, error) {
	return s.broker.GetJournal(ctx, journalID)
}
