/**
 * @description
 * This file wires the sweep-service engines together. The `Services` bundle
 * owns the shared collaborators (repository, market clock, brokerage client,
 * broker webhooks, event producer) and exposes one engine per concern so the
 * HTTP handlers and the cron runner call a single surface.
 *
 * @dependencies
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/brokerclient, pkg/webhookclient, pkg/rabbitmq: External collaborators.
 */

package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/stockloyal/sweep-service/internal/store"
	"github.com/stockloyal/sweep-service/pkg/brokerclient"
	"github.com/stockloyal/sweep-service/pkg/rabbitmq"
	"github.com/stockloyal/sweep-service/pkg/webhookclient"
)

// BrokerGateway is the slice of the brokerage API the engines call. The
// concrete implementation is pkg/brokerclient; tests substitute fakes.
type BrokerGateway interface {
	GetAccount(ctx context.Context, accountID string) (*brokerclient.Account, error)
	CreateAccount(ctx context.Context, req brokerclient.CreateAccountRequest) (*brokerclient.Account, error)
	SubmitOrder(ctx context.Context, accountID string, req brokerclient.OrderRequest) (*brokerclient.OrderResponse, error)
	GetOrder(ctx context.Context, accountID, orderID string) (*brokerclient.OrderResponse, error)
	CancelOrder(ctx context.Context, accountID, orderID string) error
	GetPositions(ctx context.Context, accountID string) ([]brokerclient.Position, error)
	CreateJournal(ctx context.Context, req brokerclient.JournalRequest) (*brokerclient.Journal, error)
	GetJournal(ctx context.Context, journalID string) (*brokerclient.Journal, error)
}

// WebhookDeliverer delivers one batched payload to a broker webhook.
type WebhookDeliverer interface {
	Deliver(ctx context.Context, url, apiKey string, payload webhookclient.Payload) (*webhookclient.Result, error)
}

// Settings carries the business-level knobs the engines need.
type Settings struct {
	// FirmSweepAccountRef is the firm custodial account cash journals are
	// drawn from.
	FirmSweepAccountRef string
	// SandboxKYC enables auto-provisioning brokerage accounts with
	// placeholder identity data. Sandbox environments only.
	SandboxKYC bool
}

// Services bundles the engines around their shared collaborators.
type Services struct {
	Scheduler *SchedulerService
	Prepare   *PrepareService
	Sweep     *SweepService
	Journal   *JournalService

	Clock *MarketClock
	repo  store.Repository
}

// NewServices constructs every engine against the shared collaborators.
func NewServices(repo store.Repository, clock *MarketClock, broker BrokerGateway, webhooks WebhookDeliverer, events rabbitmq.Publisher, settings Settings, logger *zap.SugaredLogger) *Services {
	return &Services{
		Scheduler: NewSchedulerService(repo, clock, broker, events, settings, logger),
		Prepare:   NewPrepareService(repo, clock, logger),
		Sweep:     NewSweepService(repo, webhooks, events, logger),
		Journal:   NewJournalService(repo, broker, events, settings, logger),
		Clock:     clock,
		repo:      repo,
	}
}
