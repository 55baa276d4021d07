/**
 * @description
 * Audit-trail persistence: broker webhook notifications, sweep run summaries,
 * and brokerage journal entries. Journal entries carry the unique
 * client_tx_id; a violation surfaces as ErrDuplicateJournal so the journaling
 * engine can absorb replays.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stockloyal/sweep-service/internal/domain"
)

// InsertBrokerNotification records one outbound webhook delivery attempt.
func (r *PostgresRepository) InsertBrokerNotification(ctx context.Context, n *domain.BrokerNotification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO broker_notifications (
			id, sweep_batch_id, merchant_id, broker, order_count,
			request_payload, http_status, response_body, status, broker_ref, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		n.ID, n.SweepBatchID, n.MerchantID, n.Broker, n.OrderCount,
		n.RequestPayload, n.HTTPStatus, n.ResponseBody, n.Status, n.BrokerRef,
		n.Error)
	if err != nil {
		return fmt.Errorf("insert broker notification: %w", err)
	}
	return nil
}

// InsertSweepLog records the summary row of one sweep dispatch run.
func (r *PostgresRepository) InsertSweepLog(ctx context.Context, l *domain.SweepLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sweep_logs (
			id, sweep_batch_id, merchant_id, group_count, orders_selected,
			orders_placed, orders_confirmed, orders_failed, duration_ms, errors
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.ID, l.SweepBatchID, l.MerchantID, l.GroupCount, l.OrdersSelected,
		l.OrdersPlaced, l.OrdersConfirmed, l.OrdersFailed, l.DurationMS, l.Errors)
	if err != nil {
		return fmt.Errorf("insert sweep log: %w", err)
	}
	return nil
}

// InsertJournalEntry records one attempted brokerage journal. A client_tx_id
// collision returns ErrDuplicateJournal.
func (r *PostgresRepository) InsertJournalEntry(ctx context.Context, e *domain.JournalEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO journal_entries (
			id, client_tx_id, member_id, from_account_ref, to_account_ref,
			amount_cents, journal_ref, status, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.ClientTxID, e.MemberID, e.FromAccountRef, e.ToAccountRef,
		e.AmountCents, e.JournalRef, e.Status, e.Error)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrDuplicateJournal
		}
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// GetJournalEntryByClientTxID fetches the journal entry recorded for one
// idempotency key.
func (r *PostgresRepository) GetJournalEntryByClientTxID(ctx context.Context, clientTxID string) (*domain.JournalEntry, error) {
	query := `
		SELECT id, client_tx_id, member_id, from_account_ref, to_account_ref,
		       amount_cents, journal_ref, status, error, created_at
		FROM journal_entries WHERE client_tx_id = $1`

	var e domain.JournalEntry
	err := r.pool.QueryRow(ctx, query, clientTxID).Scan(
		&e.ID, &e.ClientTxID, &e.MemberID, &e.FromAccountRef, &e.ToAccountRef,
		&e.AmountCents, &e.JournalRef, &e.Status, &e.Error, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJournalEntryNotFound
		}
		return nil, fmt.Errorf("get journal entry: %w", err)
	}
	return &e, nil
}

// FinalizeJournalEntry updates the outcome of a journal entry after the
// brokerage call resolves.
func (r *PostgresRepository) FinalizeJournalEntry(ctx context.Context, id uuid.UUID, status string, journalRef, errMsg *string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE journal_entries
		SET status = $2, journal_ref = COALESCE($3, journal_ref), error = $4
		WHERE id = $1`,
		id, status, journalRef, errMsg)
	if err != nil {
		return fmt.Errorf("finalize journal entry: %w", err)
	}
	return nil
}

// ListBrokerNotifications returns the webhook deliveries of one sweep run.
func (r *PostgresRepository) ListBrokerNotifications(ctx context.Context, sweepBatchID uuid.UUID) ([]domain.BrokerNotification, error) {
	query := `
		SELECT id, sweep_batch_id, merchant_id, broker, order_count,
		       request_payload, http_status, response_body, status, broker_ref,
		       error, created_at
		FROM broker_notifications
		WHERE sweep_batch_id = $1
		ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, sweepBatchID)
	if err != nil {
		return nil, fmt.Errorf("list broker notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.BrokerNotification
	for rows.Next() {
		var n domain.BrokerNotification
		err := rows.Scan(&n.ID, &n.SweepBatchID, &n.MerchantID, &n.Broker,
			&n.OrderCount, &n.RequestPayload, &n.HTTPStatus, &n.ResponseBody,
			&n.Status, &n.BrokerRef, &n.Error, &n.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan broker notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListSweepLogs returns the most recent sweep run summaries.
func (r *PostgresRepository) ListSweepLogs(ctx context.Context, limit int) ([]domain.SweepLog, error) {
	if limit < 1 || limit > 200 {
		limit = 20
	}
	query := `
		SELECT id, sweep_batch_id, merchant_id, group_count, orders_selected,
		       orders_placed, orders_confirmed, orders_failed, duration_ms,
		       errors, created_at
		FROM sweep_logs
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list sweep logs: %w", err)
	}
	defer rows.Close()

	var out []domain.SweepLog
	for rows.Next() {
		var l domain.SweepLog
		err := rows.Scan(&l.ID, &l.SweepBatchID, &l.MerchantID, &l.GroupCount,
			&l.OrdersSelected, &l.OrdersPlaced, &l.OrdersConfirmed,
			&l.OrdersFailed, &l.DurationMS, &l.Errors, &l.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan sweep log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
