/**
 * @description
 * Member and configuration reads: wallets, merchant tier configuration,
 * broker registrations, per-member broker credentials, and the eligibility
 * query shared by the preview and prepare operations. Preview and prepare run
 * the same SELECT so their counts can only diverge by data changing between
 * the two calls.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stockloyal/sweep-service/internal/domain"
)

// GetWallet fetches one member wallet.
func (r *PostgresRepository) GetWallet(ctx context.Context, memberID uuid.UUID) (*domain.Wallet, error) {
	query := `
		SELECT member_id, merchant_id, points, cash_cents, tier, sweep_pct,
		       election, created_at, updated_at
		FROM wallets WHERE member_id = $1`

	var w domain.Wallet
	err := r.pool.QueryRow(ctx, query, memberID).Scan(
		&w.MemberID, &w.MerchantID, &w.Points, &w.CashCents, &w.Tier,
		&w.SweepPct, &w.Election, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return &w, nil
}

// GetMerchant fetches one merchant with its tier configuration. Tiers with an
// empty name are dropped.
func (r *PostgresRepository) GetMerchant(ctx context.Context, id uuid.UUID) (*domain.Merchant, error) {
	query := `
		SELECT id, name, default_broker, base_rate::float8,
		       tier1_name, tier1_rate::float8, tier2_name, tier2_rate::float8,
		       tier3_name, tier3_rate::float8, tier4_name, tier4_rate::float8,
		       tier5_name, tier5_rate::float8, tier6_name, tier6_rate::float8,
		       created_at
		FROM merchants WHERE id = $1`

	var m domain.Merchant
	names := make([]string, 6)
	rates := make([]float64, 6)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&m.ID, &m.Name, &m.DefaultBroker, &m.BaseRate,
		&names[0], &rates[0], &names[1], &rates[1],
		&names[2], &rates[2], &names[3], &rates[3],
		&names[4], &rates[4], &names[5], &rates[5],
		&m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMerchantNotFound
		}
		return nil, fmt.Errorf("get merchant: %w", err)
	}
	for i := range names {
		if names[i] != "" {
			m.Tiers = append(m.Tiers, domain.MerchantTier{Name: names[i], Rate: rates[i]})
		}
	}
	return &m, nil
}

// GetBroker fetches one broker registration by name.
func (r *PostgresRepository) GetBroker(ctx context.Context, name string) (*domain.Broker, error) {
	query := `SELECT name, webhook_url, api_key, created_at FROM brokers WHERE name = $1`

	var b domain.Broker
	err := r.pool.QueryRow(ctx, query, name).Scan(&b.Name, &b.WebhookURL, &b.APIKey, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBrokerNotFound
		}
		return nil, fmt.Errorf("get broker: %w", err)
	}
	return &b, nil
}

// GetBrokerCredential fetches the member's account link for one broker.
func (r *PostgresRepository) GetBrokerCredential(ctx context.Context, memberID uuid.UUID, broker string) (*domain.BrokerCredential, error) {
	query := `
		SELECT member_id, broker, account_ref, status, created_at, updated_at
		FROM broker_credentials WHERE member_id = $1 AND broker = $2`

	var c domain.BrokerCredential
	err := r.pool.QueryRow(ctx, query, memberID, broker).Scan(
		&c.MemberID, &c.Broker, &c.AccountRef, &c.Status, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("get broker credential: %w", err)
	}
	return &c, nil
}

// UpsertBrokerCredential inserts or refreshes the member's account link.
func (r *PostgresRepository) UpsertBrokerCredential(ctx context.Context, c *domain.BrokerCredential) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO broker_credentials (member_id, broker, account_ref, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (member_id, broker)
		DO UPDATE SET account_ref = EXCLUDED.account_ref,
		              status = EXCLUDED.status,
		              updated_at = NOW()`,
		c.MemberID, c.Broker, c.AccountRef, c.Status)
	if err != nil {
		return fmt.Errorf("upsert broker credential: %w", err)
	}
	return nil
}

// EligibleMembers returns every member with a positive point balance and at
// least one active pick, joined to the merchant rate configuration. The tier
// rate is resolved against the six named tier columns in SQL; rows where no
// tier matched carry a zero tier rate and fall back in the engine.
func (r *PostgresRepository) EligibleMembers(ctx context.Context, memberID, merchantID *uuid.UUID) ([]EligibleMember, error) {
	query := `
		SELECT w.member_id, w.merchant_id, w.points, w.sweep_pct, w.tier,
		       w.election, m.default_broker, m.base_rate::float8,
		       (CASE
		            WHEN w.tier <> '' AND w.tier = m.tier1_name AND m.tier1_rate > 0 THEN m.tier1_rate
		            WHEN w.tier <> '' AND w.tier = m.tier2_name AND m.tier2_rate > 0 THEN m.tier2_rate
		            WHEN w.tier <> '' AND w.tier = m.tier3_name AND m.tier3_rate > 0 THEN m.tier3_rate
		            WHEN w.tier <> '' AND w.tier = m.tier4_name AND m.tier4_rate > 0 THEN m.tier4_rate
		            WHEN w.tier <> '' AND w.tier = m.tier5_name AND m.tier5_rate > 0 THEN m.tier5_rate
		            WHEN w.tier <> '' AND w.tier = m.tier6_name AND m.tier6_rate > 0 THEN m.tier6_rate
		            ELSE 0
		        END)::float8 AS tier_rate,
		       p.symbols
		FROM wallets w
		JOIN merchants m ON m.id = w.merchant_id
		JOIN LATERAL (
			SELECT array_agg(symbol ORDER BY created_at, symbol) AS symbols
			FROM stock_picks
			WHERE member_id = w.member_id AND active
		) p ON TRUE
		WHERE w.points > 0
		  AND p.symbols IS NOT NULL
		  AND ($1::uuid IS NULL OR w.member_id = $1)
		  AND ($2::uuid IS NULL OR w.merchant_id = $2)
		ORDER BY w.merchant_id, w.member_id`

	rows, err := r.pool.Query(ctx, query, memberID, merchantID)
	if err != nil {
		return nil, fmt.Errorf("select eligible members: %w", err)
	}
	defer rows.Close()

	var out []EligibleMember
	for rows.Next() {
		var e EligibleMember
		err := rows.Scan(&e.MemberID, &e.MerchantID, &e.Points, &e.SweepPct,
			&e.Tier, &e.Election, &e.Broker, &e.BaseRate, &e.TierRate, &e.Picks)
		if err != nil {
			return nil, fmt.Errorf("scan eligible member: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteOneTimeMemberPicks removes the active picks of one-time-election
// members among the given ids, so the next cycle does not sweep them again.
func (r *PostgresRepository) DeleteOneTimeMemberPicks(ctx context.Context, memberIDs []uuid.UUID) (int64, error) {
	if len(memberIDs) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM stock_picks sp
		USING wallets w
		WHERE w.member_id = sp.member_id
		  AND w.election = 'one_time'
		  AND sp.member_id = ANY($1)`,
		memberIDs)
	if err != nil {
		return 0, fmt.Errorf("delete one-time picks: %w", err)
	}
	return tag.RowsAffected(), nil
}
