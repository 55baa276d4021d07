/**
 * @description
 * Member-facing and configuration entities read by the core pipeline: the
 * member wallet, merchant tier configuration, broker registration, per-member
 * broker credentials, and active stock picks. The wallet and merchant tables
 * are owned by the account subsystem; the core only reads them, except for
 * the one-time-election pick cleanup after a successful sweep.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Election types for a member's sweep participation.
const (
	ElectionOneTime   = "one_time"
	ElectionRecurring = "recurring"
)

// Wallet is a member's loyalty state. Maps to `wallets`.
type Wallet struct {
	MemberID   uuid.UUID `json:"member_id"`
	MerchantID uuid.UUID `json:"merchant_id"`
	Points     int64     `json:"points"`
	CashCents  int64     `json:"cash_cents"`
	Tier       string    `json:"tier"`
	// SweepPct is the percentage of points swept each cycle. A stored value
	// of 0 is treated as "sweep 100%".
	SweepPct  int       `json:"sweep_pct"`
	Election  string    `json:"election"` // 'one_time' or 'recurring'
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveSweepPct resolves the stored sweep percentage: zero or out-of-range
// values mean the full balance is swept.
func (w Wallet) EffectiveSweepPct() int {
	if w.SweepPct <= 0 || w.SweepPct > 100 {
		return 100
	}
	return w.SweepPct
}

// MerchantTier is one named loyalty tier with its points-to-cash rate.
type MerchantTier struct {
	Name string  `json:"name"`
	Rate float64 `json:"rate"` // dollars per point; <= 0 means unset
}

// Merchant is a loyalty program operator. Maps to `merchants`; up to six
// named tiers are stored as paired columns.
type Merchant struct {
	ID            uuid.UUID      `json:"id"`
	Name          string         `json:"name"`
	DefaultBroker string         `json:"default_broker"`
	BaseRate      float64        `json:"base_rate"` // dollars per point
	Tiers         []MerchantTier `json:"tiers"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Broker is a brokerage partner registered to receive sweep notifications.
// Maps to `brokers`.
type Broker struct {
	Name       string    `json:"name"`
	WebhookURL string    `json:"webhook_url"`
	APIKey     string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// Credential statuses reported by the brokerage partner.
const (
	CredentialStatusActive  = "ACTIVE"
	CredentialStatusPending = "PENDING"
	CredentialStatusClosed  = "CLOSED"
)

// BrokerCredential links a member to an external brokerage account. Maps to
// `broker_credentials`. Written by the fund journaling engine when it must
// auto-provision an account.
type BrokerCredential struct {
	MemberID   uuid.UUID `json:"member_id"`
	Broker     string    `json:"broker"`
	AccountRef string    `json:"account_ref"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Active reports whether the stored account can be reused for routing.
func (c BrokerCredential) Active() bool {
	return c.Status == CredentialStatusActive && c.AccountRef != ""
}

// StockPick is one symbol a member has elected to buy with swept points.
// Maps to `stock_picks`.
type StockPick struct {
	ID        uuid.UUID `json:"id"`
	MemberID  uuid.UUID `json:"member_id"`
	Symbol    string    `json:"symbol"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
