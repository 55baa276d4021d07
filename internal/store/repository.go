/**
 * @description
 * This file defines the `Repository` interface used by the application
 * engines, together with the sentinel errors and the row types that do not
 * map one-to-one onto a domain entity. Keeping the interface here lets the
 * engines depend on behavior while tests substitute fakes.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stockloyal/sweep-service/internal/domain"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrBatchNotFound      = errors.New("prepare batch not found")
	ErrWalletNotFound     = errors.New("wallet not found")
	ErrMerchantNotFound   = errors.New("merchant not found")
	ErrBrokerNotFound     = errors.New("broker not registered")
	ErrCredentialNotFound = errors.New("broker credential not found")
	ErrJournalEntryNotFound = errors.New("journal entry not found")
	// ErrDuplicateJournal is returned when a journal entry with the same
	// client transaction key already exists; the caller treats it as an
	// absorbed no-op rather than a failure.
	ErrDuplicateJournal = errors.New("journal entry already recorded for client tx id")
)

// EligibleMember is one row of the bulk preparation query: a member with a
// positive point balance and at least one active pick, joined to the
// merchant tier configuration needed to price the conversion.
type EligibleMember struct {
	MemberID   uuid.UUID
	MerchantID uuid.UUID
	Points     int64
	SweepPct   int
	Tier       string
	Election   string
	Broker     string
	BaseRate   float64
	// TierRate is the merchant rate for the member's tier, already resolved
	// against the six named tier columns; zero when no tier matched or the
	// matched tier has no positive rate.
	TierRate float64
	Picks    []string
}

// FundableOrder is one approved-and-paid order joined to the member's broker
// credential for the journal run.
type FundableOrder struct {
	Order            domain.Order
	AccountRef       string
	CredentialStatus string
}

// OrderClaim exposes the status writes available while due orders are held
// under a row lock by ClaimDueOrders.
type OrderClaim interface {
	// SetStatus moves one claimed order between pipeline statuses. The
	// UPDATE is still scoped to the expected current status.
	SetStatus(ctx context.Context, orderID uuid.UUID, from, to domain.OrderStatus) error
	// RecordSubmission stores the broker-assigned identifiers after a
	// successful submit.
	RecordSubmission(ctx context.Context, orderID uuid.UUID, brokerRef, brokerStatus string, shares float64, executedAt time.Time) error
	// RecordJournal stores the funding-leg state for one claimed order.
	RecordJournal(ctx context.Context, orderID uuid.UUID, status domain.JournalStatus, journalRef *string) error
	// MarkFailed terminates one claimed order with the error message attached.
	MarkFailed(ctx context.Context, orderID uuid.UUID, reason string) error
}

// Repository is the data-access contract of the sweep service.
type Repository interface {
	Close()

	// Orders.
	InsertOrder(ctx context.Context, o *domain.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// ClaimDueOrders selects all pending orders whose scheduled execution
	// date is asOf or earlier, row-locked FOR UPDATE inside one transaction,
	// and invokes fn with them. The lock is held until fn returns so two
	// overlapping cron runs cannot double-process the same order.
	ClaimDueOrders(ctx context.Context, asOf time.Time, fn func(ctx context.Context, claim OrderClaim, orders []domain.Order) error) error
	// SelectDispatchOrders returns all pending/queued orders, optionally
	// narrowed to one merchant, ordered for stable grouping.
	SelectDispatchOrders(ctx context.Context, merchantID *uuid.UUID) ([]domain.Order, error)
	// CancelOrder flips one order to cancelled, guarded by its expected
	// current status.
	CancelOrder(ctx context.Context, id uuid.UUID, from domain.OrderStatus) error
	// MarkOrdersPlaced flips the given orders to placed, guarded by a
	// conditional status predicate. The returned ids are authoritative over
	// the original selection; rows that lost the race are absent.
	MarkOrdersPlaced(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
	FundableOrders(ctx context.Context, memberIDs []uuid.UUID) ([]FundableOrder, error)
	MarkOrdersFunded(ctx context.Context, ids []uuid.UUID, journalRef string, at time.Time) error
	MarkOrdersJournalFailed(ctx context.Context, ids []uuid.UUID, reason string) error

	// Member and configuration reads.
	GetWallet(ctx context.Context, memberID uuid.UUID) (*domain.Wallet, error)
	GetMerchant(ctx context.Context, id uuid.UUID) (*domain.Merchant, error)
	GetBroker(ctx context.Context, name string) (*domain.Broker, error)
	GetBrokerCredential(ctx context.Context, memberID uuid.UUID, broker string) (*domain.BrokerCredential, error)
	UpsertBrokerCredential(ctx context.Context, c *domain.BrokerCredential) error
	EligibleMembers(ctx context.Context, memberID, merchantID *uuid.UUID) ([]EligibleMember, error)
	// DeleteOneTimeMemberPicks removes the active picks of one-time-election
	// members among the given ids so they are not swept again next cycle.
	DeleteOneTimeMemberPicks(ctx context.Context, memberIDs []uuid.UUID) (int64, error)

	// Prepare batches.
	CreatePrepareBatch(ctx context.Context, batch *domain.PrepareBatch, orders []domain.PreparedOrder) error
	GetPrepareBatch(ctx context.Context, id uuid.UUID) (*domain.PrepareBatch, error)
	BatchStats(ctx context.Context, id uuid.UUID) (*domain.BatchStats, error)
	BatchDrilldown(ctx context.Context, id uuid.UUID, page, pageSize int, filter domain.DrilldownFilter) ([]domain.MemberRollup, error)
	// ApprovePrepareBatch atomically materializes one pending order per
	// staged row and flips rows and batch to approved. Returns
	// domain.ErrBatchNotStaged when the batch already left the staged state.
	ApprovePrepareBatch(ctx context.Context, id uuid.UUID, executionDate time.Time, marketLabel string) (int, error)
	DiscardPrepareBatch(ctx context.Context, id uuid.UUID) error

	// Audit trail.
	InsertBrokerNotification(ctx context.Context, n *domain.BrokerNotification) error
	InsertSweepLog(ctx context.Context, l *domain.SweepLog) error
	InsertJournalEntry(ctx context.Context, e *domain.JournalEntry) error
	GetJournalEntryByClientTxID(ctx context.Context, clientTxID string) (*domain.JournalEntry, error)
	FinalizeJournalEntry(ctx context.Context, id uuid.UUID, status string, journalRef, errMsg *string) error
	ListBrokerNotifications(ctx context.Context, sweepBatchID uuid.UUID) ([]domain.BrokerNotification, error)
	ListSweepLogs(ctx context.Context, limit int) ([]domain.SweepLog, error)
}
