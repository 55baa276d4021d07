/**
 * @description
 * Order persistence: inserts, lookups, the locked claim used by the scheduled
 * execution pipeline, and the bulk status flips used by the sweep dispatcher
 * and the fund journaling engine.
 *
 * @notes
 * - Every status UPDATE is scoped to the expected current status so that a
 *   concurrent writer loses cleanly via RowsAffected instead of clobbering.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stockloyal/sweep-service/internal/domain"
)

const orderColumns = `
	id, member_id, merchant_id, broker, basket_id, symbol, shares,
	amount_cents, points_used, status, source, scheduled_execution_date,
	market_status_at_creation, paid, settled, broker_order_ref,
	broker_order_status, executed_at, journal_status, journal_ref,
	journaled_at, failure_reason, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID, &o.MemberID, &o.MerchantID, &o.Broker, &o.BasketID, &o.Symbol,
		&o.Shares, &o.AmountCents, &o.PointsUsed, &o.Status, &o.Source,
		&o.ScheduledExecutionDate, &o.MarketStatusAtCreation, &o.Paid,
		&o.Settled, &o.BrokerOrderRef, &o.BrokerOrderStatus, &o.ExecutedAt,
		&o.JournalStatus, &o.JournalRef, &o.JournaledAt, &o.FailureReason,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// InsertOrder persists a new order row.
func (r *PostgresRepository) InsertOrder(ctx context.Context, o *domain.Order) error {
	query := `
		INSERT INTO orders (
			id, member_id, merchant_id, broker, basket_id, symbol, shares,
			amount_cents, points_used, status, source, scheduled_execution_date,
			market_status_at_creation, paid, settled
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.pool.Exec(ctx, query,
		o.ID, o.MemberID, o.MerchantID, o.Broker, o.BasketID, o.Symbol,
		o.Shares, o.AmountCents, o.PointsUsed, o.Status, o.Source,
		o.ScheduledExecutionDate, o.MarketStatusAtCreation, o.Paid, o.Settled,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetOrder fetches one order by id.
func (r *PostgresRepository) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// ClaimDueOrders locks every pending order due on or before asOf and hands
// them to fn inside the same transaction. The FOR UPDATE lock prevents an
// overlapping cron run from claiming the same rows; a second run blocks on
// the lock and then sees the status already advanced.
func (r *PostgresRepository) ClaimDueOrders(ctx context.Context, asOf time.Time, fn func(ctx context.Context, claim OrderClaim, orders []domain.Order) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = 'pending' AND scheduled_execution_date <= $1::date
		ORDER BY scheduled_execution_date, created_at
		FOR UPDATE`

	rows, err := tx.Query(ctx, query, asOf)
	if err != nil {
		return fmt.Errorf("select due orders: %w", err)
	}

	var orders []domain.Order
	for rows.Next() {
		o, scanErr := scanOrder(rows)
		if scanErr != nil {
			rows.Close()
			return fmt.Errorf("scan due order: %w", scanErr)
		}
		orders = append(orders, *o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate due orders: %w", err)
	}

	if err := fn(ctx, &txOrderClaim{tx: tx}, orders); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit claim tx: %w", err)
	}
	return nil
}

// txOrderClaim applies order writes inside the claim transaction.
type txOrderClaim struct {
	tx pgx.Tx
}

func (c *txOrderClaim) SetStatus(ctx context.Context, orderID uuid.UUID, from, to domain.OrderStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	tag, err := c.tx.Exec(ctx,
		`UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		to, orderID, from)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s no longer in status %s", orderID, from)
	}
	return nil
}

func (c *txOrderClaim) RecordSubmission(ctx context.Context, orderID uuid.UUID, brokerRef, brokerStatus string, shares float64, executedAt time.Time) error {
	_, err := c.tx.Exec(ctx, `
		UPDATE orders
		SET broker_order_ref = $1, broker_order_status = $2, shares = $3,
		    executed_at = $4, updated_at = NOW()
		WHERE id = $5`,
		brokerRef, brokerStatus, shares, executedAt, orderID)
	if err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	return nil
}

func (c *txOrderClaim) RecordJournal(ctx context.Context, orderID uuid.UUID, status domain.JournalStatus, journalRef *string) error {
	_, err := c.tx.Exec(ctx, `
		UPDATE orders
		SET journal_status = $1, journal_ref = $2,
		    journaled_at = CASE WHEN $1 = 'posted' THEN NOW() ELSE journaled_at END,
		    updated_at = NOW()
		WHERE id = $3`,
		status, journalRef, orderID)
	if err != nil {
		return fmt.Errorf("record journal: %w", err)
	}
	return nil
}

func (c *txOrderClaim) MarkFailed(ctx context.Context, orderID uuid.UUID, reason string) error {
	_, err := c.tx.Exec(ctx, `
		UPDATE orders
		SET status = 'failed', failure_reason = $1, updated_at = NOW()
		WHERE id = $2`,
		reason, orderID)
	if err != nil {
		return fmt.Errorf("mark order failed: %w", err)
	}
	return nil
}

// CancelOrder flips one order to cancelled if it is still in the expected
// status.
func (r *PostgresRepository) CancelOrder(ctx context.Context, id uuid.UUID, from domain.OrderStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, from)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: order %s left status %s", domain.ErrInvalidTransition, id, from)
	}
	return nil
}

// SelectDispatchOrders returns every order awaiting dispatch, ordered so that
// grouping by merchant and broker is stable across runs.
func (r *PostgresRepository) SelectDispatchOrders(ctx context.Context, merchantID *uuid.UUID) ([]domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status IN ('pending', 'queued')
		  AND ($1::uuid IS NULL OR merchant_id = $1)
		ORDER BY merchant_id, broker, member_id, created_at`

	rows, err := r.pool.Query(ctx, query, merchantID)
	if err != nil {
		return nil, fmt.Errorf("select dispatch orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, scanErr := scanOrder(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan dispatch order: %w", scanErr)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// MarkOrdersPlaced conditionally flips the given orders to placed. Orders that
// left the pending/queued states since selection are skipped; the returned ids
// are the rows actually placed and are the only orders the caller may notify.
func (r *PostgresRepository) MarkOrdersPlaced(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE orders
		SET status = 'placed', updated_at = NOW()
		WHERE id = ANY($1) AND status IN ('pending', 'queued')
		RETURNING id`,
		ids)
	if err != nil {
		return nil, fmt.Errorf("mark orders placed: %w", err)
	}
	defer rows.Close()

	var placed []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan placed order id: %w", err)
		}
		placed = append(placed, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate placed order ids: %w", err)
	}
	return placed, nil
}

// FundableOrders returns approved, merchant-paid orders that have not yet
// posted a funding journal, each joined to the member's broker credential.
// An empty memberIDs slice means all members.
func (r *PostgresRepository) FundableOrders(ctx context.Context, memberIDs []uuid.UUID) ([]FundableOrder, error) {
	query := `
		SELECT o.id, o.member_id, o.merchant_id, o.broker, o.basket_id,
		       o.symbol, o.shares, o.amount_cents, o.points_used, o.status,
		       o.source, o.scheduled_execution_date, o.market_status_at_creation,
		       o.paid, o.settled, o.broker_order_ref, o.broker_order_status,
		       o.executed_at, o.journal_status, o.journal_ref, o.journaled_at,
		       o.failure_reason, o.created_at, o.updated_at,
		       COALESCE(c.account_ref, ''), COALESCE(c.status, '')
		FROM orders o
		LEFT JOIN broker_credentials c
		  ON c.member_id = o.member_id AND c.broker = o.broker
		WHERE o.status = 'approved' AND o.paid
		  AND o.journal_status IN ('', 'failed')
		  AND (cardinality($1::uuid[]) = 0 OR o.member_id = ANY($1))
		ORDER BY o.member_id, o.created_at`

	rows, err := r.pool.Query(ctx, query, memberIDs)
	if err != nil {
		return nil, fmt.Errorf("select fundable orders: %w", err)
	}
	defer rows.Close()

	var out []FundableOrder
	for rows.Next() {
		var f FundableOrder
		o := &f.Order
		err := rows.Scan(
			&o.ID, &o.MemberID, &o.MerchantID, &o.Broker, &o.BasketID, &o.Symbol,
			&o.Shares, &o.AmountCents, &o.PointsUsed, &o.Status, &o.Source,
			&o.ScheduledExecutionDate, &o.MarketStatusAtCreation, &o.Paid,
			&o.Settled, &o.BrokerOrderRef, &o.BrokerOrderStatus, &o.ExecutedAt,
			&o.JournalStatus, &o.JournalRef, &o.JournaledAt, &o.FailureReason,
			&o.CreatedAt, &o.UpdatedAt,
			&f.AccountRef, &f.CredentialStatus,
		)
		if err != nil {
			return nil, fmt.Errorf("scan fundable order: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// MarkOrdersFunded records a posted journal against the given approved orders.
func (r *PostgresRepository) MarkOrdersFunded(ctx context.Context, ids []uuid.UUID, journalRef string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE orders
		SET status = 'funded', journal_status = 'posted', journal_ref = $2,
		    journaled_at = $3, updated_at = NOW()
		WHERE id = ANY($1) AND status = 'approved'`,
		ids, journalRef, at)
	if err != nil {
		return fmt.Errorf("mark orders funded: %w", err)
	}
	return nil
}

// MarkOrdersJournalFailed flags the funding leg as failed while keeping the
// orders approved so a later run can retry them.
func (r *PostgresRepository) MarkOrdersJournalFailed(ctx context.Context, ids []uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE orders
		SET journal_status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE id = ANY($1) AND status = 'approved'`,
		ids, reason)
	if err != nil {
		return fmt.Errorf("mark orders journal failed: %w", err)
	}
	return nil
}
