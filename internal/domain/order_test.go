package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from    OrderStatus
		to      OrderStatus
		allowed bool
	}{
		{OrderStatusPending, OrderStatusQueued, true},
		{OrderStatusPending, OrderStatusValidating, true},
		{OrderStatusPending, OrderStatusPlaced, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusPending, OrderStatusCompleted, false},
		{OrderStatusQueued, OrderStatusPlaced, true},
		{OrderStatusQueued, OrderStatusPending, false},
		{OrderStatusValidating, OrderStatusJournaling, true},
		{OrderStatusValidating, OrderStatusCancelled, false},
		{OrderStatusJournaling, OrderStatusSubmitting, true},
		{OrderStatusSubmitting, OrderStatusSubmitted, true},
		{OrderStatusSubmitted, OrderStatusCompleted, true},
		{OrderStatusPlaced, OrderStatusApproved, true},
		{OrderStatusPlaced, OrderStatusCancelled, true},
		{OrderStatusApproved, OrderStatusFunded, true},
		{OrderStatusApproved, OrderStatusCancelled, false},
		// Failure and cancellation are terminal.
		{OrderStatusFailed, OrderStatusPending, false},
		{OrderStatusFailed, OrderStatusValidating, false},
		{OrderStatusCancelled, OrderStatusPending, false},
		{OrderStatusCompleted, OrderStatusFunded, false},
		{OrderStatusFunded, OrderStatusCompleted, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestOrderStatusIsTerminal(t *testing.T) {
	for _, s := range []OrderStatus{OrderStatusFailed, OrderStatusCancelled, OrderStatusCompleted, OrderStatusFunded} {
		assert.True(t, s.IsTerminal(), "%s", s)
	}
	for _, s := range []OrderStatus{OrderStatusPending, OrderStatusQueued, OrderStatusPlaced, OrderStatusApproved} {
		assert.False(t, s.IsTerminal(), "%s", s)
	}
}

func TestOrderTransition(t *testing.T) {
	o := &Order{Status: OrderStatusPending}
	assert.NoError(t, o.Transition(OrderStatusQueued))
	assert.Equal(t, OrderStatusQueued, o.Status)

	err := o.Transition(OrderStatusCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, OrderStatusQueued, o.Status, "illegal transition leaves the status untouched")
}

func TestBasketIDFor(t *testing.T) {
	batchID := uuid.New()
	memberID := uuid.New()
	assert.Equal(t, batchID.String()+"-"+memberID.String(), BasketIDFor(batchID, memberID))
}

func TestWalletEffectiveSweepPct(t *testing.T) {
	assert.Equal(t, 100, Wallet{SweepPct: 0}.EffectiveSweepPct())
	assert.Equal(t, 100, Wallet{SweepPct: -1}.EffectiveSweepPct())
	assert.Equal(t, 100, Wallet{SweepPct: 101}.EffectiveSweepPct())
	assert.Equal(t, 25, Wallet{SweepPct: 25}.EffectiveSweepPct())
}

func TestBrokerCredentialActive(t *testing.T) {
	assert.True(t, BrokerCredential{Status: CredentialStatusActive, AccountRef: "a"}.Active())
	assert.False(t, BrokerCredential{Status: CredentialStatusActive}.Active())
	assert.False(t, BrokerCredential{Status: CredentialStatusPending, AccountRef: "a"}.Active())
}

func TestMarketStatusCreationLabel(t *testing.T) {
	assert.Equal(t, MarketStatusAtOpen, MarketStatus{IsOpen: true}.CreationLabel())
	assert.Equal(t, "weekend", MarketStatus{DelayReason: DelayWeekend}.CreationLabel())
	assert.Equal(t, "after_hours", MarketStatus{DelayReason: DelayAfterHours}.CreationLabel())
}

func TestBatchStatusCanTransition(t *testing.T) {
	assert.True(t, BatchStatusStaged.CanTransition(BatchStatusApproved))
	assert.True(t, BatchStatusStaged.CanTransition(BatchStatusDiscarded))
	assert.False(t, BatchStatusApproved.CanTransition(BatchStatusStaged))
	assert.False(t, BatchStatusApproved.CanTransition(BatchStatusDiscarded))
	assert.False(t, BatchStatusDiscarded.CanTransition(BatchStatusApproved))
}
