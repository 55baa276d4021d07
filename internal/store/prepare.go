/**
 * @description
 * Prepare-batch persistence: staging a computed batch, review-time stats and
 * member drilldowns, and the atomic approve/discard resolutions.
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

// CreatePrepareBatch stores the batch header and all staged rows in one
// transaction. A failure leaves no partial batch behind.
func (r *PostgresRepository) CreatePrepareBatch(ctx context.Context, batch *domain.PrepareBatch, orders []domain.PreparedOrder) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin prepare tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO prepare_batches (
			id, merchant_id, status, eligible_members, skipped_members,
			order_count, total_points, total_amount_cents
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		batch.ID, batch.MerchantID, batch.Status, batch.EligibleMembers,
		batch.SkippedMembers, batch.OrderCount, batch.TotalPoints,
		batch.TotalAmountCents,
	)
	if err != nil {
		return fmt.Errorf("insert prepare batch: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"prepared_orders"},
		[]string{"id", "batch_id", "member_id", "merchant_id", "broker",
			"basket_id", "symbol", "amount_cents", "points_used", "tier",
			"rate", "timezone", "status"},
		pgx.CopyFromSlice(len(orders), func(i int) ([]any, error) {
			o := orders[i]
			return []any{o.ID, o.BatchID, o.MemberID, o.MerchantID, o.Broker,
				o.BasketID, o.Symbol, o.AmountCents, o.PointsUsed, o.Tier,
				o.Rate, o.Timezone, o.Status}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy prepared orders: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit prepare tx: %w", err)
	}
	return nil
}

// GetPrepareBatch fetches one batch header by id.
func (r *PostgresRepository) GetPrepareBatch(ctx context.Context, id uuid.UUID) (*domain.PrepareBatch, error) {
	query := `
		SELECT id, merchant_id, status, eligible_members, skipped_members,
		       order_count, total_points, total_amount_cents, created_at,
		       updated_at, resolved_at
		FROM prepare_batches WHERE id = $1`

	var b domain.PrepareBatch
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&b.ID, &b.MerchantID, &b.Status, &b.EligibleMembers, &b.SkippedMembers,
		&b.OrderCount, &b.TotalPoints, &b.TotalAmountCents, &b.CreatedAt,
		&b.UpdatedAt, &b.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("get prepare batch: %w", err)
	}
	return &b, nil
}

func (r *PostgresRepository) statsBuckets(ctx context.Context, query string, batchID uuid.UUID) ([]domain.StatsBucket, error) {
	rows, err := r.pool.Query(ctx, query, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StatsBucket
	for rows.Next() {
		var b domain.StatsBucket
		if err := rows.Scan(&b.Key, &b.OrderCount, &b.MemberCount, &b.Points, &b.AmountCents); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// BatchStats aggregates one batch along the review dimensions.
func (r *PostgresRepository) BatchStats(ctx context.Context, id uuid.UUID) (*domain.BatchStats, error) {
	batch, err := r.GetPrepareBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	stats := &domain.BatchStats{Batch: *batch}

	stats.ByMerchant, err = r.statsBuckets(ctx, `
		SELECT merchant_id::text, COUNT(*), COUNT(DISTINCT member_id),
		       COALESCE(SUM(points_used), 0)::bigint,
		       COALESCE(SUM(amount_cents), 0)::bigint
		FROM prepared_orders WHERE batch_id = $1
		GROUP BY merchant_id ORDER BY 5 DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("batch stats by merchant: %w", err)
	}

	stats.ByBroker, err = r.statsBuckets(ctx, `
		SELECT broker, COUNT(*), COUNT(DISTINCT member_id),
		       COALESCE(SUM(points_used), 0)::bigint,
		       COALESCE(SUM(amount_cents), 0)::bigint
		FROM prepared_orders WHERE batch_id = $1
		GROUP BY broker ORDER BY 5 DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("batch stats by broker: %w", err)
	}

	stats.TopSymbols, err = r.statsBuckets(ctx, `
		SELECT symbol, COUNT(*), COUNT(DISTINCT member_id),
		       COALESCE(SUM(points_used), 0)::bigint,
		       COALESCE(SUM(amount_cents), 0)::bigint
		FROM prepared_orders WHERE batch_id = $1
		GROUP BY symbol ORDER BY 5 DESC LIMIT 10`, id)
	if err != nil {
		return nil, fmt.Errorf("batch stats top symbols: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT tier, rate::float8, COUNT(*), COUNT(DISTINCT member_id),
		       COALESCE(SUM(points_used), 0)::bigint,
		       COALESCE(SUM(amount_cents), 0)::bigint
		FROM prepared_orders WHERE batch_id = $1
		GROUP BY tier, rate ORDER BY 6 DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("batch stats by tier rate: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b domain.TierRateBucket
		if err := rows.Scan(&b.Tier, &b.Rate, &b.OrderCount, &b.MemberCount, &b.Points, &b.AmountCents); err != nil {
			return nil, fmt.Errorf("scan tier rate bucket: %w", err)
		}
		stats.ByTierRate = append(stats.ByTierRate, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

// BatchDrilldown lists per-member rollups of one batch, paginated and
// optionally filtered by merchant, broker, or tier.
func (r *PostgresRepository) BatchDrilldown(ctx context.Context, id uuid.UUID, page, pageSize int, filter domain.DrilldownFilter) ([]domain.MemberRollup, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	query := `
		SELECT member_id, merchant_id, broker, tier, COUNT(*),
		       COALESCE(SUM(points_used), 0)::bigint,
		       COALESCE(SUM(amount_cents), 0)::bigint,
		       array_agg(DISTINCT symbol ORDER BY symbol)
		FROM prepared_orders
		WHERE batch_id = $1
		  AND ($2::uuid IS NULL OR merchant_id = $2)
		  AND ($3 = '' OR broker = $3)
		  AND ($4 = '' OR tier = $4)
		GROUP BY member_id, merchant_id, broker, tier
		ORDER BY 7 DESC, member_id
		LIMIT $5 OFFSET $6`

	rows, err := r.pool.Query(ctx, query, id, filter.MerchantID, filter.Broker,
		filter.Tier, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("batch drilldown: %w", err)
	}
	defer rows.Close()

	var out []domain.MemberRollup
	for rows.Next() {
		var m domain.MemberRollup
		if err := rows.Scan(&m.MemberID, &m.MerchantID, &m.Broker, &m.Tier,
			&m.OrderCount, &m.Points, &m.AmountCents, &m.Symbols); err != nil {
			return nil, fmt.Errorf("scan drilldown row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ApprovePrepareBatch materializes one pending order per staged row and flips
// the batch to approved, all in one transaction. The batch header row is
// locked first so concurrent approve/discard calls serialize.
func (r *PostgresRepository) ApprovePrepareBatch(ctx context.Context, id uuid.UUID, executionDate time.Time, marketLabel string) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin approve tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var status domain.BatchStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM prepare_batches WHERE id = $1 FOR UPDATE`, id,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrBatchNotFound
		}
		return 0, fmt.Errorf("lock prepare batch: %w", err)
	}
	if status != domain.BatchStatusStaged {
		return 0, domain.ErrBatchNotStaged
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO orders (
			id, member_id, merchant_id, broker, basket_id, symbol,
			amount_cents, points_used, status, source,
			scheduled_execution_date, market_status_at_creation
		)
		SELECT gen_random_uuid(), member_id, merchant_id, broker, basket_id,
		       symbol, amount_cents, points_used, 'pending', 'batch', $2, $3
		FROM prepared_orders
		WHERE batch_id = $1 AND status = 'staged'`,
		id, executionDate, marketLabel)
	if err != nil {
		return 0, fmt.Errorf("materialize orders: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE prepared_orders SET status = 'approved' WHERE batch_id = $1`, id); err != nil {
		return 0, fmt.Errorf("approve prepared orders: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE prepare_batches
		SET status = 'approved', updated_at = NOW(), resolved_at = NOW()
		WHERE id = $1`, id); err != nil {
		return 0, fmt.Errorf("approve prepare batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit approve tx: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DiscardPrepareBatch drops a staged batch without creating any orders.
func (r *PostgresRepository) DiscardPrepareBatch(ctx context.Context, id uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin discard tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE prepare_batches
		SET status = 'discarded', updated_at = NOW(), resolved_at = NOW()
		WHERE id = $1 AND status = 'staged'`, id)
	if err != nil {
		return fmt.Errorf("discard prepare batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM prepare_batches WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check prepare batch: %w", err)
		}
		if !exists {
			return ErrBatchNotFound
		}
		return domain.ErrBatchNotStaged
	}

	if _, err := tx.Exec(ctx,
		`UPDATE prepared_orders SET status = 'discarded' WHERE batch_id = $1`, id); err != nil {
		return fmt.Errorf("discard prepared orders: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit discard tx: %w", err)
	}
	return nil
}
